//go:build integration

package repository_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"kitchenflow/internal/database"
	"kitchenflow/internal/model"
	"kitchenflow/internal/repository"
)

// setupPostgres starts a Postgres container and returns the store plus the raw DB for seeding.
func setupPostgres(t *testing.T) (*repository.Postgres, *sql.DB) {
	t.Helper()

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("kitchenflow_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	db, err := database.NewDB(connStr)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := database.InitSchema(db); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return repository.NewPostgres(db), db
}

func mustExec(t *testing.T, db *sql.DB, query string, args ...any) {
	t.Helper()
	if _, err := db.Exec(query, args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}

func seedTenant(t *testing.T, db *sql.DB, id string) {
	t.Helper()
	mustExec(t, db, `INSERT INTO tenants (id, name) VALUES ($1, $1)`, id)
}

func TestPostgres_OrderLifecycle(t *testing.T) {
	s, db := setupPostgres(t)
	ctx := context.Background()

	seedTenant(t, db, "t1")
	seedTenant(t, db, "t2")
	mustExec(t, db, `INSERT INTO products (id, tenant_id, name, preparation_minutes) VALUES ('p1', 't1', 'Margherita', 12)`)
	mustExec(t, db, `INSERT INTO orders (id, tenant_id, status) VALUES ('o1', 't1', 'pending')`)
	mustExec(t, db, `INSERT INTO order_items (tenant_id, order_id, product_id, name, quantity) VALUES ('t1', 'o1', 'p1', 'Margherita', 2)`)
	mustExec(t, db, `INSERT INTO order_items (tenant_id, order_id, product_id, name, quantity) VALUES ('t1', 'o1', NULL, 'Refri', 1)`)

	o, err := s.GetOrder(ctx, "t1", "o1")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if len(o.Items) != 2 || o.Items[0].ProductID != "p1" || o.Items[1].ProductID != "" {
		t.Fatalf("unexpected items: %+v", o.Items)
	}

	if _, err := s.GetOrder(ctx, "t2", "o1"); err != repository.ErrNotFound {
		t.Fatalf("cross-tenant GetOrder: got %v, want ErrNotFound", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	records := []model.TimingRecord{
		{TenantID: "t1", ProductID: "p1", OrderID: "o1", EstimatedMinutes: 12, StartedAt: now, HourOfDay: now.Hour()},
		{TenantID: "t1", OrderID: "o1", EstimatedMinutes: 15, StartedAt: now, HourOfDay: now.Hour()},
	}
	wrote, err := s.BeginPreparation(ctx, "t1", "o1", now, records)
	if err != nil || !wrote {
		t.Fatalf("BeginPreparation first: wrote=%v err=%v", wrote, err)
	}
	wrote, err = s.BeginPreparation(ctx, "t1", "o1", now.Add(time.Minute), records)
	if err != nil || wrote {
		t.Fatalf("BeginPreparation second: wrote=%v err=%v", wrote, err)
	}
	if _, err := s.BeginPreparation(ctx, "t1", "missing", now, nil); err != repository.ErrNotFound {
		t.Fatalf("BeginPreparation missing: got %v", err)
	}

	n, err := s.CountOrdersByStatus(ctx, "t1", []model.OrderStatus{model.StatusPreparing})
	if err != nil || n != 1 {
		t.Fatalf("CountOrdersByStatus: n=%d err=%v", n, err)
	}

	wrote, closed, err := s.CompletePreparation(ctx, "t1", "o1", now.Add(14*time.Minute+20*time.Second))
	if err != nil || !wrote || len(closed) != 2 {
		t.Fatalf("CompletePreparation: wrote=%v closed=%d err=%v", wrote, len(closed), err)
	}
	for _, r := range closed {
		if r.ActualMinutes == nil || *r.ActualMinutes != 14 {
			t.Fatalf("closed record actual = %v, want 14", r.ActualMinutes)
		}
	}
	wrote, closed, err = s.CompletePreparation(ctx, "t1", "o1", now.Add(time.Hour))
	if err != nil || wrote || len(closed) != 0 {
		t.Fatalf("CompletePreparation second: wrote=%v closed=%d err=%v", wrote, len(closed), err)
	}

	actuals, err := s.RecentActuals(ctx, "t1", "p1", now.Add(-time.Hour))
	if err != nil || len(actuals) != 1 || actuals[0] != 14 {
		t.Fatalf("RecentActuals: %v %v", actuals, err)
	}
}

func TestPostgres_BeginPreparationRollsBack(t *testing.T) {
	s, db := setupPostgres(t)
	ctx := context.Background()
	seedTenant(t, db, "t1")
	mustExec(t, db, `INSERT INTO orders (id, tenant_id, status) VALUES ('o1', 't1', 'confirmed')`)

	now := time.Now().UTC().Truncate(time.Second)
	// The second record points at an order that does not exist.
	bad := []model.TimingRecord{
		{TenantID: "t1", OrderID: "o1", EstimatedMinutes: 15, StartedAt: now, HourOfDay: now.Hour()},
		{TenantID: "t1", OrderID: "ghost", EstimatedMinutes: 15, StartedAt: now, HourOfDay: now.Hour()},
	}
	if _, err := s.BeginPreparation(ctx, "t1", "o1", now, bad); err == nil {
		t.Fatal("BeginPreparation with a dangling record succeeded")
	}

	o, err := s.GetOrder(ctx, "t1", "o1")
	if err != nil {
		t.Fatal(err)
	}
	if o.PreparationStartedAt != nil || o.Status != model.StatusConfirmed {
		t.Fatalf("order stamped despite rollback: %+v", o)
	}
	var records int
	if err := db.QueryRow(`SELECT COUNT(*) FROM timing_records`).Scan(&records); err != nil || records != 0 {
		t.Fatalf("timing records = %d, %v; want 0", records, err)
	}

	wrote, err := s.BeginPreparation(ctx, "t1", "o1", now, bad[:1])
	if err != nil || !wrote {
		t.Fatalf("retry: wrote=%v err=%v", wrote, err)
	}
}

func TestPostgres_CompletePreparationStatusGuard(t *testing.T) {
	s, db := setupPostgres(t)
	ctx := context.Background()
	seedTenant(t, db, "t1")
	mustExec(t, db, `INSERT INTO orders (id, tenant_id, status, preparation_started_at) VALUES ('o1', 't1', 'delivered', NOW())`)

	wrote, _, err := s.CompletePreparation(ctx, "t1", "o1", time.Now())
	if err != nil || wrote {
		t.Fatalf("CompletePreparation: wrote=%v err=%v", wrote, err)
	}
	o, err := s.GetOrder(ctx, "t1", "o1")
	if err != nil {
		t.Fatal(err)
	}
	if o.Status != model.StatusDelivered || o.PreparationReadyAt != nil {
		t.Fatalf("delivered order moved back: %+v", o)
	}
}

func TestPostgres_ListTenants(t *testing.T) {
	s, db := setupPostgres(t)
	ctx := context.Background()
	seedTenant(t, db, "t1")
	seedTenant(t, db, "t2")
	mustExec(t, db, `UPDATE tenants SET active = FALSE WHERE id = 't2'`)

	active, err := s.ListActiveTenants(ctx)
	if err != nil || len(active) != 1 || active[0].ID != "t1" {
		t.Fatalf("ListActiveTenants: %+v %v", active, err)
	}
	all, err := s.ListTenants(ctx)
	if err != nil || len(all) != 2 {
		t.Fatalf("ListTenants: %+v %v", all, err)
	}
}

func TestPostgres_AlertDedup(t *testing.T) {
	s, db := setupPostgres(t)
	ctx := context.Background()
	seedTenant(t, db, "t1")

	a := model.Alert{TenantID: "t1", Type: model.AlertLowStock, ItemKey: "flour", Message: "low", CreatedAt: time.Now()}
	ok, err := s.InsertAlert(ctx, a)
	if err != nil || !ok {
		t.Fatalf("first insert: ok=%v err=%v", ok, err)
	}
	ok, err = s.InsertAlert(ctx, a)
	if err != nil || ok {
		t.Fatalf("duplicate insert: ok=%v err=%v", ok, err)
	}

	mustExec(t, db, `UPDATE alerts SET read = TRUE WHERE tenant_id = 't1'`)
	ok, err = s.InsertAlert(ctx, a)
	if err != nil || !ok {
		t.Fatalf("insert after read: ok=%v err=%v", ok, err)
	}
}

func TestPostgres_ForecastDedup(t *testing.T) {
	s, db := setupPostgres(t)
	ctx := context.Background()
	seedTenant(t, db, "t1")

	f := model.StockForecast{TenantID: "t1", ProductID: "p1", DailyAverage: 2, Suggested7Day: 14,
		Status: model.ForecastPending, CreatedAt: time.Now()}
	if ok, err := s.InsertForecast(ctx, f); err != nil || !ok {
		t.Fatalf("first insert: ok=%v err=%v", ok, err)
	}
	if ok, err := s.InsertForecast(ctx, f); err != nil || ok {
		t.Fatalf("duplicate insert: ok=%v err=%v", ok, err)
	}
	pending, err := s.HasPendingForecast(ctx, "t1", "p1")
	if err != nil || !pending {
		t.Fatalf("HasPendingForecast: %v %v", pending, err)
	}
}

func TestPostgres_RetryableDeliveries(t *testing.T) {
	s, db := setupPostgres(t)
	ctx := context.Background()
	seedTenant(t, db, "t1")

	now := time.Now()
	rows := []model.WebhookDelivery{
		{ID: uuid.NewString(), TenantID: "t1", Event: "e", Payload: []byte(`{}`), Status: model.DeliveryError, Attempts: 1},
		{ID: uuid.NewString(), TenantID: "t1", Event: "e", Payload: []byte(`{}`), Status: model.DeliveryFailure, Attempts: 3},
		{ID: uuid.NewString(), TenantID: "t1", Event: "e", Payload: []byte(`{}`), Status: model.DeliverySuccess, Attempts: 1},
		{ID: uuid.NewString(), TenantID: "t2", Event: "e", Payload: []byte(`{}`), Status: model.DeliveryFailure, Attempts: 2},
	}
	for i := range rows {
		rows[i].CreatedAt = now.Add(time.Duration(i) * time.Second)
		rows[i].UpdatedAt = rows[i].CreatedAt
		if err := s.InsertDelivery(ctx, rows[i]); err != nil {
			t.Fatalf("InsertDelivery: %v", err)
		}
	}

	all, err := s.ListRetryable(ctx, "", 3, 100)
	if err != nil {
		t.Fatalf("ListRetryable: %v", err)
	}
	if len(all) != 2 || all[0].ID != rows[0].ID || all[1].ID != rows[3].ID {
		t.Fatalf("unexpected retryable set: %+v", all)
	}

	scoped, err := s.ListRetryable(ctx, "t1", 3, 100)
	if err != nil || len(scoped) != 1 {
		t.Fatalf("scoped ListRetryable: %d %v", len(scoped), err)
	}

	n, err := s.DeleteWebhookLogsBefore(ctx, "t1", now.Add(time.Hour))
	if err != nil || n != 3 {
		t.Fatalf("DeleteWebhookLogsBefore: n=%d err=%v", n, err)
	}
}
