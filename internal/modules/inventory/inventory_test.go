// README: Inventory tests (item validation, batch isolation, counter guards).
package inventory

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"hemohive/internal/types"
)

func TestValidateItem(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	future := now.Add(30 * 24 * time.Hour)

	cases := []struct {
		name string
		item AddItem
		want string
	}{
		{"valid", AddItem{BagID: "B1", Group: "O+", Units: 1, ExpiresAt: future}, ""},
		{"missing bag id", AddItem{Group: "O+", Units: 1, ExpiresAt: future}, "missing bag id"},
		{"unknown group", AddItem{BagID: "B1", Group: "Q+", Units: 1, ExpiresAt: future}, "unknown blood group"},
		{"zero units", AddItem{BagID: "B1", Group: "O+", Units: 0, ExpiresAt: future}, "units must be positive"},
		{"negative units", AddItem{BagID: "B1", Group: "O+", Units: -2, ExpiresAt: future}, "units must be positive"},
		{"past expiry", AddItem{BagID: "B1", Group: "O+", Units: 1, ExpiresAt: now.Add(-time.Hour)}, "expiry must be in the future"},
		{"expiry exactly now", AddItem{BagID: "B1", Group: "O+", Units: 1, ExpiresAt: now}, "expiry must be in the future"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := validateItem(tc.item, now); got != tc.want {
				t.Fatalf("validateItem = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestAddBatchRequiresHospital(t *testing.T) {
	svc := NewService(NewStore(nil), zerolog.Nop())
	if _, err := svc.AddBatch(context.Background(), "", nil); err != ErrBadRequest {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
}

func TestAddBatchIsolation(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()
	future := time.Now().Add(30 * 24 * time.Hour)

	report, err := svc.AddBatch(ctx, "h1", []AddItem{
		{BagID: "B1", Group: "O+", Units: 2, ExpiresAt: future},
		{BagID: "", Group: "O+", Units: 1, ExpiresAt: future},
		{BagID: "B2", Group: "A-", Units: 1, ExpiresAt: future},
		{BagID: "B3", Group: "O+", Units: 1, ExpiresAt: time.Now().Add(-time.Hour)},
		{BagID: "B1", Group: "O+", Units: 1, ExpiresAt: future}, // duplicate within the batch
	})
	if err != nil {
		t.Fatalf("add batch: %v", err)
	}

	if len(report.Added) != 2 || report.Added[0] != "B1" || report.Added[1] != "B2" {
		t.Fatalf("expected B1 and B2 added, got %v", report.Added)
	}
	if len(report.Failed) != 3 {
		t.Fatalf("expected 3 failures, got %v", report.Failed)
	}
	reasons := map[string]string{}
	for _, f := range report.Failed {
		reasons[f.Reason] = f.BagID
	}
	if _, ok := reasons["missing bag id"]; !ok {
		t.Errorf("expected a missing-bag-id failure, got %v", report.Failed)
	}
	if _, ok := reasons["expiry must be in the future"]; !ok {
		t.Errorf("expected an expiry failure, got %v", report.Failed)
	}
	if id, ok := reasons["duplicate bag id"]; !ok || id != "B1" {
		t.Errorf("expected duplicate failure for B1, got %v", report.Failed)
	}

	// Only the accepted bags move the counters.
	if q := level(t, svc, "h1", "O+"); q != 2 {
		t.Fatalf("expected O+ level 2, got %d", q)
	}
	if q := level(t, svc, "h1", "A-"); q != 1 {
		t.Fatalf("expected A- level 1, got %d", q)
	}
}

func TestAddBatchDuplicateAcrossBatches(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()
	future := time.Now().Add(30 * 24 * time.Hour)

	if _, err := svc.AddBatch(ctx, "h1", []AddItem{
		{BagID: "B1", Group: "O+", Units: 1, ExpiresAt: future},
	}); err != nil {
		t.Fatalf("first batch: %v", err)
	}

	// Bag ids are globally unique, even across hospitals.
	report, err := svc.AddBatch(ctx, "h2", []AddItem{
		{BagID: "B1", Group: "O+", Units: 1, ExpiresAt: future},
	})
	if err != nil {
		t.Fatalf("second batch: %v", err)
	}
	if len(report.Added) != 0 || len(report.Failed) != 1 || report.Failed[0].Reason != "duplicate bag id" {
		t.Fatalf("expected duplicate rejection, got %+v", report)
	}
	if q := level(t, svc, "h2", "O+"); q != 0 {
		t.Fatalf("rejected bag must not move the counter, got %d", q)
	}
}

func TestDecrementNeverNegative(t *testing.T) {
	svc, db := setupTestService(t)
	store := NewStore(db)
	ctx := context.Background()

	if err := store.Increment(ctx, "h1", "O+", 2); err != nil {
		t.Fatalf("increment: %v", err)
	}

	if err := store.Decrement(ctx, "h1", "O+", 3); err != ErrInsufficientStock {
		t.Fatalf("overdraw: expected ErrInsufficientStock, got %v", err)
	}
	if q := level(t, svc, "h1", "O+"); q != 2 {
		t.Fatalf("failed decrement must not change the counter, got %d", q)
	}

	if err := store.Decrement(ctx, "h1", "O+", 2); err != nil {
		t.Fatalf("decrement: %v", err)
	}
	if err := store.Decrement(ctx, "h1", "O+", 1); err != ErrInsufficientStock {
		t.Fatalf("decrement at zero: expected ErrInsufficientStock, got %v", err)
	}
	// A group with no row behaves like zero stock.
	if err := store.Decrement(ctx, "h1", "AB-", 1); err != ErrInsufficientStock {
		t.Fatalf("decrement on missing row: expected ErrInsufficientStock, got %v", err)
	}
}

func TestConcurrentDecrements(t *testing.T) {
	svc, db := setupTestService(t)
	store := NewStore(db)
	ctx := context.Background()

	if err := store.Increment(ctx, "h1", "O+", 5); err != nil {
		t.Fatalf("increment: %v", err)
	}

	const attempts = 10
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			errs <- store.Decrement(ctx, "h1", "O+", 1)
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if err != ErrInsufficientStock {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 5 {
		t.Fatalf("expected exactly 5 decrements against stock of 5, got %d", success)
	}
	if q := level(t, svc, "h1", "O+"); q != 0 {
		t.Fatalf("expected counter drained to 0, got %d", q)
	}
}

func TestBagEligibility(t *testing.T) {
	cases := []struct {
		name string
		bag  Bag
		want bool
	}{
		{"fresh available bag", Bag{Status: BagAvailable, TransferCount: 0}, true},
		{"already listed", Bag{Status: BagListed, TransferCount: 0}, false},
		{"removed", Bag{Status: BagRemoved, TransferCount: 0}, false},
		{"transferred once", Bag{Status: BagAvailable, TransferCount: 1}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.bag.Eligible(); got != tc.want {
				t.Fatalf("Eligible = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestListForExchangeOneHop(t *testing.T) {
	svc, db := setupTestService(t)
	ctx := context.Background()
	future := time.Now().Add(30 * 24 * time.Hour)

	if _, err := svc.AddBatch(ctx, "h1", []AddItem{
		{BagID: "B1", Group: "O+", Units: 1, ExpiresAt: future},
		{BagID: "B2", Group: "O+", Units: 1, ExpiresAt: future},
	}); err != nil {
		t.Fatalf("add batch: %v", err)
	}

	bag, err := svc.ListForExchange(ctx, "h1", "B1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if bag.Status != BagListed {
		t.Fatalf("expected LISTED, got %s", bag.Status)
	}
	if _, err := svc.ListForExchange(ctx, "h1", "B1"); err != ErrInvalidState {
		t.Fatalf("double list: expected ErrInvalidState, got %v", err)
	}

	// A bag that already changed hands once stays off the exchange.
	if _, err := db.Exec(ctx,
		"UPDATE blood_bags SET transfer_count = 1 WHERE bag_id = 'B2'"); err != nil {
		t.Fatalf("force transfer count: %v", err)
	}
	if _, err := svc.ListForExchange(ctx, "h1", "B2"); err != ErrInvalidState {
		t.Fatalf("transferred bag: expected ErrInvalidState, got %v", err)
	}

	if _, err := svc.ListForExchange(ctx, "h2", "B1"); err != ErrForbidden {
		t.Fatalf("foreign hospital: expected ErrForbidden, got %v", err)
	}
	if _, err := svc.ListForExchange(ctx, "h1", "B404"); err != ErrNotFound {
		t.Fatalf("unknown bag: expected ErrNotFound, got %v", err)
	}

	if err := svc.Unlist(ctx, "h1", "B1"); err != nil {
		t.Fatalf("unlist: %v", err)
	}
	got, err := NewStore(db).GetBag(ctx, "B1")
	if err != nil {
		t.Fatalf("get bag: %v", err)
	}
	if got.Status != BagAvailable {
		t.Fatalf("expected AVAILABLE after unlist, got %s", got.Status)
	}
	if err := svc.Unlist(ctx, "h1", "B1"); err != ErrInvalidState {
		t.Fatalf("unlist twice: expected ErrInvalidState, got %v", err)
	}
}

func TestLevels(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()
	future := time.Now().Add(30 * 24 * time.Hour)

	if _, err := svc.AddBatch(ctx, "h1", []AddItem{
		{BagID: "B1", Group: "O+", Units: 2, ExpiresAt: future},
		{BagID: "B2", Group: "A+", Units: 1, ExpiresAt: future},
		{BagID: "B3", Group: "O+", Units: 1, ExpiresAt: future},
	}); err != nil {
		t.Fatalf("add batch: %v", err)
	}

	levels, err := svc.Levels(ctx, "h1")
	if err != nil {
		t.Fatalf("levels: %v", err)
	}
	if len(levels) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(levels))
	}
	// Sorted by group.
	if levels[0].Group != "A+" || levels[0].Quantity != 1 {
		t.Fatalf("unexpected first level: %+v", levels[0])
	}
	if levels[1].Group != "O+" || levels[1].Quantity != 3 {
		t.Fatalf("unexpected second level: %+v", levels[1])
	}

	// A group never stocked reads as zero, not as an error.
	l, err := svc.Level(ctx, "h1", "B-")
	if err != nil {
		t.Fatalf("level: %v", err)
	}
	if l.Quantity != 0 {
		t.Fatalf("expected zero level, got %d", l.Quantity)
	}
}

func level(t *testing.T, svc *Service, hospitalID types.ID, group types.BloodGroup) int {
	t.Helper()
	l, err := svc.Level(context.Background(), hospitalID, group)
	if err != nil {
		t.Fatalf("level %s/%s: %v", hospitalID, group, err)
	}
	return l.Quantity
}

func setupTestService(t *testing.T) (*Service, *pgxpool.Pool) {
	t.Helper()

	dsn := os.Getenv("HEMOHIVE_TEST_DSN")
	if dsn == "" {
		t.Skip("HEMOHIVE_TEST_DSN not set; skipping DB-backed inventory tests")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := applyMigration(ctx, db); err != nil {
		t.Fatalf("apply migration: %v", err)
	}
	if _, err := db.Exec(ctx, `TRUNCATE TABLE
        delivery_state_events, delivery_route_points, deliveries,
        return_requests, credits, blood_bags, inventory,
        blood_requests, drivers, hospitals`); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}

	return NewService(NewStore(db), zerolog.Nop()), db
}

func applyMigration(ctx context.Context, db *pgxpool.Pool) error {
	root, err := repoRoot()
	if err != nil {
		return err
	}
	content, err := os.ReadFile(filepath.Join(root, "migrations", "0001_init.sql"))
	if err != nil {
		return err
	}
	cleaned := stripSQLComments(string(content))
	for _, stmt := range splitSQL(cleaned) {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for i := 0; i < 6; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", os.ErrNotExist
}

func stripSQLComments(input string) string {
	var b strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(input))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		b.WriteString(scanner.Text())
		b.WriteString("\n")
	}
	return b.String()
}

func splitSQL(input string) []string {
	parts := strings.Split(input, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		stmt := strings.TrimSpace(p)
		if stmt == "" {
			continue
		}
		out = append(out, stmt)
	}
	return out
}
