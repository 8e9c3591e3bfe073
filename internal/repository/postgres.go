package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"kitchenflow/internal/model"
)

var _ Store = (*Postgres)(nil)

// Postgres implements Store over database/sql with the pgx stdlib driver.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func statusStrings(statuses []model.OrderStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func (p *Postgres) GetOrder(ctx context.Context, tenantID, orderID string) (*model.Order, error) {
	var o model.Order
	var status string
	err := p.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, status, preparation_started_at, preparation_ready_at,
		       estimated_preparation_minutes, estimated_delivery_minutes, created_at
		FROM orders WHERE tenant_id = $1 AND id = $2`, tenantID, orderID,
	).Scan(&o.ID, &o.TenantID, &status, &o.PreparationStartedAt, &o.PreparationReadyAt,
		&o.EstimatedPreparationMinutes, &o.EstimatedDeliveryMinutes, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	o.Status = model.OrderStatus(status)

	items, err := p.orderItems(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return &o, nil
}

func (p *Postgres) orderItems(ctx context.Context, tenantID, orderID string) ([]model.LineItem, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT COALESCE(product_id, ''), name, quantity
		FROM order_items WHERE tenant_id = $1 AND order_id = $2 ORDER BY id`, tenantID, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	var items []model.LineItem
	for rows.Next() {
		var it model.LineItem
		if err := rows.Scan(&it.ProductID, &it.Name, &it.Quantity); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (p *Postgres) ListOrdersByStatus(ctx context.Context, tenantID string, statuses []model.OrderStatus) ([]model.Order, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, tenant_id, status, preparation_started_at, preparation_ready_at,
		       estimated_preparation_minutes, estimated_delivery_minutes, created_at
		FROM orders WHERE tenant_id = $1 AND status = ANY($2) ORDER BY id`,
		tenantID, statusStrings(statuses))
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		var o model.Order
		var status string
		if err := rows.Scan(&o.ID, &o.TenantID, &status, &o.PreparationStartedAt, &o.PreparationReadyAt,
			&o.EstimatedPreparationMinutes, &o.EstimatedDeliveryMinutes, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Status = model.OrderStatus(status)
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func (p *Postgres) CountOrdersByStatus(ctx context.Context, tenantID string, statuses []model.OrderStatus) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders WHERE tenant_id = $1 AND status = ANY($2)`,
		tenantID, statusStrings(statuses)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return n, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func orderExists(ctx context.Context, q queryRower, tenantID, orderID string) error {
	var exists bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM orders WHERE tenant_id = $1 AND id = $2)`,
		tenantID, orderID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check order: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) BeginPreparation(ctx context.Context, tenantID, orderID string, at time.Time, records []model.TimingRecord) (bool, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders SET status = $1, preparation_started_at = $2
		WHERE tenant_id = $3 AND id = $4 AND preparation_started_at IS NULL AND status = ANY($5)`,
		string(model.StatusPreparing), at, tenantID, orderID, statusStrings(startableStatuses))
	if err != nil {
		return false, fmt.Errorf("stamp preparing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return false, orderExists(ctx, tx, tenantID, orderID)
	}

	if err := insertTimings(ctx, tx, records); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}
	return true, nil
}

func (p *Postgres) CompletePreparation(ctx context.Context, tenantID, orderID string, at time.Time) (bool, []model.TimingRecord, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return false, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders SET status = $1, preparation_ready_at = $2
		WHERE tenant_id = $3 AND id = $4
		  AND preparation_started_at IS NOT NULL AND preparation_ready_at IS NULL
		  AND status = ANY($5)`,
		string(model.StatusReady), at, tenantID, orderID, statusStrings(finishableStatuses))
	if err != nil {
		return false, nil, fmt.Errorf("stamp ready: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		if err := orderExists(ctx, tx, tenantID, orderID); err != nil {
			return false, nil, err
		}
	}

	rows, err := tx.QueryContext(ctx, `
		UPDATE timing_records
		SET finished_at = $1::timestamptz,
		    actual_minutes = ROUND(EXTRACT(EPOCH FROM ($1::timestamptz - started_at)) / 60)::int
		WHERE tenant_id = $2 AND order_id = $3 AND finished_at IS NULL
		RETURNING `+timingColumns,
		at, tenantID, orderID)
	if err != nil {
		return false, nil, fmt.Errorf("close timings: %w", err)
	}
	closed, err := scanTimings(rows)
	if err != nil {
		return false, nil, err
	}

	if err := tx.Commit(); err != nil {
		return false, nil, fmt.Errorf("commit tx: %w", err)
	}
	return n == 1, closed, nil
}

func (p *Postgres) GetProduct(ctx context.Context, tenantID, productID string) (*model.Product, error) {
	var pr model.Product
	err := p.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, name, preparation_minutes FROM products WHERE tenant_id = $1 AND id = $2`,
		tenantID, productID).Scan(&pr.ID, &pr.TenantID, &pr.Name, &pr.PreparationMinutes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return &pr, nil
}

func (p *Postgres) UpdatePreparationMinutes(ctx context.Context, tenantID, productID string, minutes int) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE products SET preparation_minutes = $1 WHERE tenant_id = $2 AND id = $3`,
		minutes, tenantID, productID)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) InsertTimings(ctx context.Context, records []model.TimingRecord) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertTimings(ctx, tx, records); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func insertTimings(ctx context.Context, tx *sql.Tx, records []model.TimingRecord) error {
	for _, r := range records {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO timing_records
			    (tenant_id, product_id, order_id, estimated_minutes, started_at, queue_depth, rush_hour, hour_of_day)
			VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8)`,
			r.TenantID, r.ProductID, r.OrderID, r.EstimatedMinutes, r.StartedAt, r.QueueDepth, r.RushHour, r.HourOfDay)
		if err != nil {
			return fmt.Errorf("insert timing: %w", err)
		}
	}
	return nil
}

const timingColumns = `id, tenant_id, COALESCE(product_id, ''), order_id, estimated_minutes, actual_minutes,
	started_at, finished_at, queue_depth, rush_hour, hour_of_day`

func scanTimings(rows *sql.Rows) ([]model.TimingRecord, error) {
	defer rows.Close()
	var out []model.TimingRecord
	for rows.Next() {
		var r model.TimingRecord
		if err := rows.Scan(&r.ID, &r.TenantID, &r.ProductID, &r.OrderID, &r.EstimatedMinutes, &r.ActualMinutes,
			&r.StartedAt, &r.FinishedAt, &r.QueueDepth, &r.RushHour, &r.HourOfDay); err != nil {
			return nil, fmt.Errorf("scan timing: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) RecentActuals(ctx context.Context, tenantID, productID string, since time.Time) ([]int, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT actual_minutes FROM timing_records
		WHERE tenant_id = $1 AND product_id = $2 AND actual_minutes IS NOT NULL AND started_at >= $3`,
		tenantID, productID, since)
	if err != nil {
		return nil, fmt.Errorf("query actuals: %w", err)
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan actual: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (p *Postgres) ListFinishedTimings(ctx context.Context, tenantID, productID string, limit int) ([]model.TimingRecord, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+timingColumns+`
		FROM timing_records
		WHERE tenant_id = $1 AND product_id = $2 AND actual_minutes IS NOT NULL
		ORDER BY started_at DESC LIMIT $3`,
		tenantID, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("query finished timings: %w", err)
	}
	return scanTimings(rows)
}

func (p *Postgres) ListStages(ctx context.Context, tenantID string) ([]model.ProductionStage, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT name, target_seconds, position FROM production_stages WHERE tenant_id = $1 ORDER BY position, id`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("query stages: %w", err)
	}
	defer rows.Close()

	var out []model.ProductionStage
	for rows.Next() {
		var s model.ProductionStage
		if err := rows.Scan(&s.Name, &s.TargetSeconds, &s.Position); err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) ListActiveTenants(ctx context.Context) ([]model.Tenant, error) {
	return p.listTenants(ctx, `SELECT id, name, active FROM tenants WHERE active ORDER BY created_at, id`)
}

func (p *Postgres) ListTenants(ctx context.Context) ([]model.Tenant, error) {
	return p.listTenants(ctx, `SELECT id, name, active FROM tenants ORDER BY created_at, id`)
}

func (p *Postgres) listTenants(ctx context.Context, query string) ([]model.Tenant, error) {
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query tenants: %w", err)
	}
	defer rows.Close()

	var out []model.Tenant
	for rows.Next() {
		var t model.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.Active); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *Postgres) GetWebhookConfig(ctx context.Context, tenantID string) (*model.WebhookConfig, error) {
	c := model.WebhookConfig{TenantID: tenantID}
	err := p.db.QueryRowContext(ctx,
		`SELECT url, secret FROM webhook_configs WHERE tenant_id = $1 AND url <> ''`,
		tenantID).Scan(&c.URL, &c.Secret)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get webhook config: %w", err)
	}
	return &c, nil
}

func (p *Postgres) ListLowStock(ctx context.Context, tenantID string) ([]model.InventoryItem, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, quantity, min_threshold FROM inventory_items
		WHERE tenant_id = $1 AND min_threshold > 0 AND quantity <= min_threshold`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query low stock: %w", err)
	}
	defer rows.Close()

	var out []model.InventoryItem
	for rows.Next() {
		var it model.InventoryItem
		if err := rows.Scan(&it.ID, &it.TenantID, &it.Name, &it.Quantity, &it.MinThreshold); err != nil {
			return nil, fmt.Errorf("scan inventory: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (p *Postgres) ListCustomerActivity(ctx context.Context, tenantID string) ([]model.CustomerActivity, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT c.id, c.name, MAX(o.created_at)
		FROM customers c
		LEFT JOIN orders o ON o.customer_id = c.id AND o.tenant_id = c.tenant_id
		WHERE c.tenant_id = $1
		GROUP BY c.id, c.name
		ORDER BY c.id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query customers: %w", err)
	}
	defer rows.Close()

	var out []model.CustomerActivity
	for rows.Next() {
		var c model.CustomerActivity
		if err := rows.Scan(&c.CustomerID, &c.Name, &c.LastOrderAt); err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *Postgres) HasUnreadAlert(ctx context.Context, tenantID, alertType, itemKey string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM alerts
		WHERE tenant_id = $1 AND type = $2 AND item_key = $3 AND read = FALSE)`,
		tenantID, alertType, itemKey).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check alert: %w", err)
	}
	return exists, nil
}

func (p *Postgres) InsertAlert(ctx context.Context, a model.Alert) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO alerts (tenant_id, type, item_key, message, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, type, item_key) WHERE read = FALSE DO NOTHING`,
		a.TenantID, a.Type, a.ItemKey, a.Message, a.Read, a.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (p *Postgres) ConsumptionSince(ctx context.Context, tenantID string, since time.Time) ([]model.Consumption, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT oi.product_id, SUM(oi.quantity)
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id AND o.tenant_id = oi.tenant_id
		WHERE oi.tenant_id = $1 AND oi.product_id IS NOT NULL
		  AND o.status <> 'cancelled' AND o.created_at >= $2
		GROUP BY oi.product_id
		ORDER BY oi.product_id`, tenantID, since)
	if err != nil {
		return nil, fmt.Errorf("query consumption: %w", err)
	}
	defer rows.Close()

	var out []model.Consumption
	for rows.Next() {
		var c model.Consumption
		if err := rows.Scan(&c.ProductID, &c.Quantity); err != nil {
			return nil, fmt.Errorf("scan consumption: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *Postgres) HasPendingForecast(ctx context.Context, tenantID, productID string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM stock_forecasts
		WHERE tenant_id = $1 AND product_id = $2 AND status = 'pending')`,
		tenantID, productID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check forecast: %w", err)
	}
	return exists, nil
}

func (p *Postgres) InsertForecast(ctx context.Context, f model.StockForecast) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO stock_forecasts (tenant_id, product_id, daily_average, suggested_7_day, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, product_id) WHERE status = 'pending' DO NOTHING`,
		f.TenantID, f.ProductID, f.DailyAverage, f.Suggested7Day, f.Status, f.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert forecast: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (p *Postgres) deleteBefore(ctx context.Context, query, tenantID string, before time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, query, tenantID, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (p *Postgres) DeleteSystemLogsBefore(ctx context.Context, tenantID string, before time.Time) (int64, error) {
	n, err := p.deleteBefore(ctx,
		`DELETE FROM system_logs WHERE tenant_id = $1 AND created_at < $2`, tenantID, before)
	if err != nil {
		return 0, fmt.Errorf("delete system logs: %w", err)
	}
	return n, nil
}

func (p *Postgres) DeleteWebhookLogsBefore(ctx context.Context, tenantID string, before time.Time) (int64, error) {
	n, err := p.deleteBefore(ctx,
		`DELETE FROM webhook_deliveries WHERE tenant_id = $1 AND created_at < $2`, tenantID, before)
	if err != nil {
		return 0, fmt.Errorf("delete webhook logs: %w", err)
	}
	return n, nil
}

func (p *Postgres) DeleteReadAlertsBefore(ctx context.Context, tenantID string, before time.Time) (int64, error) {
	n, err := p.deleteBefore(ctx,
		`DELETE FROM alerts WHERE tenant_id = $1 AND read = TRUE AND created_at < $2`, tenantID, before)
	if err != nil {
		return 0, fmt.Errorf("delete read alerts: %w", err)
	}
	return n, nil
}

func (p *Postgres) InsertDelivery(ctx context.Context, d model.WebhookDelivery) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries
		    (id, tenant_id, event, payload, status, status_code, response, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.ID, d.TenantID, d.Event, d.Payload, string(d.Status), d.StatusCode, d.Response, d.Attempts,
		d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}

func (p *Postgres) UpdateDelivery(ctx context.Context, d model.WebhookDelivery) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET status = $1, status_code = $2, response = $3, attempts = $4, updated_at = $5
		WHERE tenant_id = $6 AND id = $7`,
		string(d.Status), d.StatusCode, d.Response, d.Attempts, d.UpdatedAt, d.TenantID, d.ID)
	if err != nil {
		return fmt.Errorf("update delivery: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ListRetryable(ctx context.Context, tenantID string, maxAttempts, limit int) ([]model.WebhookDelivery, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, tenant_id, event, payload, status, status_code, response, attempts, created_at, updated_at
		FROM webhook_deliveries
		WHERE status IN ('failure', 'error') AND attempts < $1 AND ($2 = '' OR tenant_id = $2)
		ORDER BY created_at, id
		LIMIT $3`, maxAttempts, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("query retryable: %w", err)
	}
	defer rows.Close()

	var out []model.WebhookDelivery
	for rows.Next() {
		var d model.WebhookDelivery
		var status string
		if err := rows.Scan(&d.ID, &d.TenantID, &d.Event, &d.Payload, &status, &d.StatusCode, &d.Response,
			&d.Attempts, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		d.Status = model.DeliveryStatus(status)
		out = append(out, d)
	}
	return out, rows.Err()
}
