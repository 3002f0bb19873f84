// README: Entry point; serve wires config, stores, services, HTTP server and
// the offer-expiry sweeper; migrate applies the SQL schema.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"hemohive/internal/config"
	httptransport "hemohive/internal/http"
	"hemohive/internal/infra"
	"hemohive/internal/maps"
	"hemohive/internal/modules/assistant"
	"hemohive/internal/modules/credit"
	"hemohive/internal/modules/dispatch"
	"hemohive/internal/modules/driver"
	"hemohive/internal/modules/inventory"
	"hemohive/internal/modules/request"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "hemohive-api",
		Short: "HemoHive blood logistics API server",
	}
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply SQL migrations in lexical order",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := infra.NewDB(ctx, cfg.DB.DSN)
			if err != nil {
				return err
			}
			defer pool.Close()

			files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
			if err != nil {
				return err
			}
			sort.Strings(files)
			for _, f := range files {
				sql, err := os.ReadFile(f)
				if err != nil {
					return err
				}
				if _, err := pool.Exec(ctx, string(sql)); err != nil {
					return fmt.Errorf("apply %s: %w", filepath.Base(f), err)
				}
				fmt.Printf("applied %s\n", filepath.Base(f))
			}
			return nil
		},
	}
	cmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	return cmd
}

func runServer() error {
	logger := infra.NewLogger("hemohive-api")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Auth.JWTSecret == "" {
		logger.Fatal().Msg("HEMOHIVE_JWT_SECRET is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer dbPool.Close()

	redisClient := infra.NewRedis(cfg.Redis.Addr)

	driverStore := driver.NewStore(dbPool, redisClient)
	driverSvc := driver.NewService(driverStore, logger)

	inventoryStore := inventory.NewStore(dbPool)
	inventorySvc := inventory.NewService(inventoryStore, logger)

	creditStore := credit.NewStore(dbPool)
	creditSvc := credit.NewService(creditStore, cfg.Credit.LoanPeriod, logger)

	requestStore := request.NewStore(dbPool)
	requestSvc := request.NewService(requestStore, creditSvc, logger)

	var eta dispatch.ETAEstimator
	if cfg.Maps.APIKey != "" {
		routes, err := maps.NewRouteService(cfg.Maps.APIKey)
		if err != nil {
			logger.Fatal().Err(err).Msg("maps init failed")
		}
		eta = routes
	} else {
		logger.Warn().Msg("HEMOHIVE_MAPS_API_KEY not set; proposals carry no ETA")
	}

	dispatchStore := dispatch.NewStore(dbPool)
	dispatchSvc := dispatch.NewService(dispatchStore, driverSvc, eta, cfg.Dispatch, logger)

	assistantStore := assistant.NewStore(redisClient, cfg.Assistant.SessionTTL)
	assistantSvc := assistant.NewService(assistantStore, cfg.Assistant.GeminiKey, logger)

	handler := httptransport.NewRouter(
		requestSvc, dispatchSvc, inventorySvc, driverSvc, creditSvc, assistantSvc,
		cfg.Auth.JWTSecret, logger,
	)

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler}

	go dispatchSvc.RunExpirySweep(ctx)

	go func() {
		<-ctx.Done()
		_ = server.Shutdown(context.Background())
	}()

	logger.Info().Str("addr", cfg.HTTP.Addr).Msg("listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
