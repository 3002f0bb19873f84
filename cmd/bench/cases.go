// README: Smoke-test cases: environment, schema, request/dispatch flow, and race checks.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client

	// driverID is the bench courier's profile, set once it registers.
	driverID string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
		results = append(results, res)
		fmt.Printf("%-7s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}

	return results
}

// mintToken signs a bearer token the way the API expects; the bench needs the
// server's HEMOHIVE_JWT_SECRET to pass authenticated checks.
func (r *Runner) mintToken(uid, role string) string {
	if r.cfg.JWTSecret == "" {
		return ""
	}
	claims := jwt.MapClaims{
		"uid":  uid,
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(r.cfg.JWTSecret))
	if err != nil {
		return ""
	}
	return signed
}

func (r *Runner) cases() []TestCase {
	base := r.cfg.BaseURL
	hospitalToken := r.mintToken("bench-hospital", "hospital")
	driverToken := r.mintToken("bench-driver", "driver")

	return []TestCase{
		{
			Name: "Env: Postgres connect",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "FAIL", Note: "db not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.db.Ping(ctx); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name: "Env: Redis connect",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: "FAIL", Note: "redis not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.redis.Ping(ctx).Err(); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name: "Schema: tables exist",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "FAIL", Note: "db not configured"}
				}
				tables, err := extractTables(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				for _, t := range tables {
					var exists bool
					err := r.db.QueryRow(ctx,
						"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
						t,
					).Scan(&exists)
					if err != nil {
						return Result{Status: "FAIL", Note: err.Error()}
					}
					if !exists {
						return Result{Status: "FAIL", Note: "missing table: " + t}
					}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name: "API: health",
			Run: func(ctx context.Context, r *Runner) Result {
				start := time.Now()
				resp, err := r.httpc.Get(base + "/health")
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				_ = resp.Body.Close()
				if resp.StatusCode != http.StatusOK {
					return Result{Status: "FAIL", Note: fmt.Sprintf("status=%d", resp.StatusCode)}
				}
				return Result{Status: "PASS", Latency: time.Since(start)}
			},
		},

		r.httpCase("Auth: missing token -> 401", http.MethodGet, base+"/api/inventory", "", nil, []int{401}),
		r.httpCase("Auth: wrong role -> 403", http.MethodGet, base+"/api/inventory", driverToken, nil, []int{403}),

		r.httpCase("Inventory: batch add", http.MethodPost, base+"/api/inventory/add", hospitalToken, map[string]any{
			"items": []map[string]any{
				{
					"bag_id":      fmt.Sprintf("BENCH-%d", time.Now().UnixNano()),
					"blood_group": "O+",
					"units":       1,
					"expires_at":  time.Now().Add(30 * 24 * time.Hour).Format(time.RFC3339),
				},
			},
		}, []int{200}),

		r.httpCase("Inventory: levels", http.MethodGet, base+"/api/inventory", hospitalToken, nil, []int{200}),

		r.httpCase("Request: create (missing fields -> 400)", http.MethodPost, base+"/api/blood-requests", hospitalToken, map[string]any{}, []int{400}),

		r.httpCase("Request: create (valid)", http.MethodPost, base+"/api/blood-requests", hospitalToken, map[string]any{
			"blood_group": "O+",
			"units":       1,
			"urgency":     "NORMAL",
		}, []int{201}),

		r.httpCase("Request: pending queue", http.MethodGet, base+"/api/hospital/blood-requests", hospitalToken, nil, []int{200}),

		r.httpCase("Delivery: unknown id -> 404", http.MethodGet, base+"/api/delivery/00000000-0000-0000-0000-000000000000", hospitalToken, nil, []int{404}),

		{
			Name: "Driver: register and go online",
			Run: func(ctx context.Context, r *Runner) Result {
				return r.driverOnline(ctx, base, driverToken)
			},
		},

		r.httpCase("Assistant: empty message -> 400", http.MethodPost, base+"/api/assistant/chat", hospitalToken, map[string]any{
			"message": "",
		}, []int{400}),

		{
			Name: "Race: concurrent accepts on one delivery",
			Run: func(ctx context.Context, r *Runner) Result {
				return r.dispatchRace(ctx, base, hospitalToken, driverToken)
			},
		},
	}
}

func (r *Runner) httpCase(name, method, url, token string, body any, okStatuses []int) TestCase {
	return TestCase{
		Name: name,
		Run: func(ctx context.Context, r *Runner) Result {
			var reader io.Reader
			if body != nil {
				b, _ := json.Marshal(body)
				reader = strings.NewReader(string(b))
			}
			req, _ := http.NewRequestWithContext(ctx, method, url, reader)
			req.Header.Set("Content-Type", "application/json")
			if token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}
			start := time.Now()
			resp, err := r.httpc.Do(req)
			if err != nil {
				return Result{Status: "FAIL", Note: err.Error()}
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			latency := time.Since(start)

			if contains(okStatuses, resp.StatusCode) {
				return Result{Status: "PASS", Latency: latency, Note: fmt.Sprintf("status=%d", resp.StatusCode)}
			}
			return Result{Status: "FAIL", Latency: latency, Note: fmt.Sprintf("status=%d", resp.StatusCode)}
		},
	}
}

// doJSON fires one authenticated request and decodes the JSON response body.
func (r *Runner) doJSON(ctx context.Context, method, url, token string, body any) (int, map[string]any, error) {
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = strings.NewReader(string(b))
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out, nil
}

// driverOnline registers the bench courier's profile (idempotent server-side)
// and flips it ONLINE, keeping the driver id for the dispatch race.
func (r *Runner) driverOnline(ctx context.Context, base, driverToken string) Result {
	start := time.Now()
	code, body, err := r.doJSON(ctx, http.MethodPost, base+"/api/drivers", driverToken, map[string]any{
		"phone":   "000",
		"vehicle": "bench bike",
	})
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	if code != http.StatusCreated {
		return Result{Status: "FAIL", Note: fmt.Sprintf("register status=%d", code)}
	}
	id, _ := body["driver_id"].(string)
	if id == "" {
		return Result{Status: "FAIL", Note: "register response missing driver_id"}
	}
	r.driverID = id

	code, _, err = r.doJSON(ctx, http.MethodPut, base+"/api/drivers/"+id+"/availability", driverToken, map[string]any{
		"status": "ONLINE",
	})
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	if code != http.StatusOK {
		return Result{Status: "FAIL", Note: fmt.Sprintf("availability status=%d", code)}
	}
	return Result{Status: "PASS", Latency: time.Since(start), Note: "driver " + id}
}

// dispatchRace builds a real contention target (open request, approve, create
// delivery proposed to the bench driver) and fires the same accept from many
// goroutines; exactly one may win.
func (r *Runner) dispatchRace(ctx context.Context, base, hospitalToken, driverToken string) Result {
	if r.driverID == "" {
		return Result{Status: "SKIP", Note: "bench driver not registered"}
	}

	code, body, err := r.doJSON(ctx, http.MethodPost, base+"/api/blood-requests", hospitalToken, map[string]any{
		"blood_group": "O+",
		"units":       1,
		"urgency":     "NORMAL",
	})
	if err != nil || code != http.StatusCreated {
		return Result{Status: "FAIL", Note: fmt.Sprintf("create request status=%d err=%v", code, err)}
	}
	requestID, _ := body["request_id"].(string)

	code, _, err = r.doJSON(ctx, http.MethodPost, base+"/api/hospital/blood-requests/"+requestID+"/approve", hospitalToken, nil)
	if err != nil || code != http.StatusOK {
		return Result{Status: "FAIL", Note: fmt.Sprintf("approve status=%d err=%v", code, err)}
	}

	code, body, err = r.doJSON(ctx, http.MethodPost, base+"/api/delivery/request", hospitalToken, map[string]any{
		"request_id": requestID,
	})
	if err != nil || code != http.StatusCreated {
		return Result{Status: "FAIL", Note: fmt.Sprintf("create delivery status=%d err=%v", code, err)}
	}
	deliveryID, _ := body["delivery_id"].(string)
	proposal, _ := body["proposal"].(map[string]any)
	proposedTo, _ := proposal["driver_id"].(string)
	if proposedTo != r.driverID {
		return Result{Status: "SKIP", Note: "proposal went to another driver: " + proposedTo}
	}

	payload, _ := json.Marshal(map[string]any{"delivery_id": deliveryID})
	var wg sync.WaitGroup
	var mu sync.Mutex
	succ := 0

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, _ := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/delivery/accept", strings.NewReader(string(payload)))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+driverToken)
			resp, err := r.httpc.Do(req)
			if err != nil {
				return
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			mu.Lock()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				succ++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if succ == 1 {
		return Result{Status: "PASS", Note: "success=1"}
	}
	return Result{Status: "FAIL", Note: fmt.Sprintf("success=%d, want exactly 1", succ)}
}

func contains(list []int, v int) bool {
	for _, i := range list {
		if i == v {
			return true
		}
	}
	return false
}

func extractTables(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	matches := re.FindAllStringSubmatch(string(b), -1)
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, m[1])
	}
	return tables, nil
}
