package repository

import (
	"context"
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"kitchenflow/internal/model"
)

// Ensure Memory implements Store at compile time.
var _ Store = (*Memory)(nil)

type systemLog struct {
	tenantID string
	at       time.Time
}

// Memory is an in-memory Store. Safe for concurrent use; intended for tests
// and local development.
type Memory struct {
	mu sync.RWMutex

	tenants    []model.Tenant
	webhooks   map[string]model.WebhookConfig
	orders     map[string]*model.Order // key: tenant/order
	products   map[string]*model.Product
	stages     map[string][]model.ProductionStage
	timings    []*model.TimingRecord
	inventory  map[string][]model.InventoryItem
	customers  map[string][]model.CustomerActivity
	alerts     []*model.Alert
	forecasts  []*model.StockForecast
	deliveries []*model.WebhookDelivery
	systemLogs []systemLog
}

func NewMemory() *Memory {
	return &Memory{
		webhooks:  make(map[string]model.WebhookConfig),
		orders:    make(map[string]*model.Order),
		products:  make(map[string]*model.Product),
		stages:    make(map[string][]model.ProductionStage),
		inventory: make(map[string][]model.InventoryItem),
		customers: make(map[string][]model.CustomerActivity),
	}
}

func key(tenantID, id string) string { return tenantID + "/" + id }

// ── seeding and inspection ─────────────────────────

func (m *Memory) PutTenant(t model.Tenant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants = append(m.tenants, t)
}

func (m *Memory) PutWebhookConfig(c model.WebhookConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.webhooks[c.TenantID] = c
}

func (m *Memory) PutOrder(o model.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o.Items = slices.Clone(o.Items)
	m.orders[key(o.TenantID, o.ID)] = &o
}

func (m *Memory) PutProduct(p model.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[key(p.TenantID, p.ID)] = &p
}

func (m *Memory) PutStages(tenantID string, stages []model.ProductionStage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages[tenantID] = slices.Clone(stages)
}

func (m *Memory) PutInventory(item model.InventoryItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inventory[item.TenantID] = append(m.inventory[item.TenantID], item)
}

func (m *Memory) PutCustomer(tenantID string, c model.CustomerActivity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customers[tenantID] = append(m.customers[tenantID], c)
}

func (m *Memory) PutAlert(a model.Alert) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	m.alerts = append(m.alerts, &a)
}

func (m *Memory) PutSystemLog(tenantID string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.systemLogs = append(m.systemLogs, systemLog{tenantID: tenantID, at: at})
}

func (m *Memory) Order(tenantID, orderID string) (model.Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[key(tenantID, orderID)]
	if !ok {
		return model.Order{}, false
	}
	return *o, true
}

func (m *Memory) Product(tenantID, productID string) (model.Product, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[key(tenantID, productID)]
	if !ok {
		return model.Product{}, false
	}
	return *p, true
}

func (m *Memory) Timings(tenantID string) []model.TimingRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.TimingRecord
	for _, r := range m.timings {
		if r.TenantID == tenantID {
			out = append(out, *r)
		}
	}
	return out
}

func (m *Memory) Alerts(tenantID string) []model.Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Alert
	for _, a := range m.alerts {
		if a.TenantID == tenantID {
			out = append(out, *a)
		}
	}
	return out
}

func (m *Memory) Forecasts(tenantID string) []model.StockForecast {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.StockForecast
	for _, f := range m.forecasts {
		if f.TenantID == tenantID {
			out = append(out, *f)
		}
	}
	return out
}

func (m *Memory) Deliveries() []model.WebhookDelivery {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.WebhookDelivery, 0, len(m.deliveries))
	for _, d := range m.deliveries {
		c := *d
		c.Payload = slices.Clone(d.Payload)
		out = append(out, c)
	}
	return out
}

func (m *Memory) SystemLogCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.systemLogs)
}

// ── orders ─────────────────────────────────────────

func (m *Memory) GetOrder(_ context.Context, tenantID, orderID string) (*model.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[key(tenantID, orderID)]
	if !ok {
		return nil, ErrNotFound
	}
	c := *o
	c.Items = slices.Clone(o.Items)
	return &c, nil
}

func (m *Memory) ListOrdersByStatus(_ context.Context, tenantID string, statuses []model.OrderStatus) ([]model.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Order
	for _, o := range m.orders {
		if o.TenantID == tenantID && slices.Contains(statuses, o.Status) {
			c := *o
			c.Items = slices.Clone(o.Items)
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CountOrdersByStatus(ctx context.Context, tenantID string, statuses []model.OrderStatus) (int, error) {
	orders, err := m.ListOrdersByStatus(ctx, tenantID, statuses)
	return len(orders), err
}

func (m *Memory) BeginPreparation(_ context.Context, tenantID, orderID string, at time.Time, records []model.TimingRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[key(tenantID, orderID)]
	if !ok {
		return false, ErrNotFound
	}
	if o.PreparationStartedAt != nil || !slices.Contains(startableStatuses, o.Status) {
		return false, nil
	}
	o.Status = model.StatusPreparing
	o.PreparationStartedAt = &at
	m.insertTimingsLocked(records)
	return true, nil
}

func (m *Memory) CompletePreparation(_ context.Context, tenantID, orderID string, at time.Time) (bool, []model.TimingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[key(tenantID, orderID)]
	if !ok {
		return false, nil, ErrNotFound
	}
	wrote := false
	if o.PreparationStartedAt != nil && o.PreparationReadyAt == nil && slices.Contains(finishableStatuses, o.Status) {
		o.Status = model.StatusReady
		o.PreparationReadyAt = &at
		wrote = true
	}

	var closed []model.TimingRecord
	for _, r := range m.timings {
		if r.TenantID != tenantID || r.OrderID != orderID || r.FinishedAt != nil {
			continue
		}
		actual := int(math.Round(at.Sub(r.StartedAt).Minutes()))
		r.FinishedAt = &at
		r.ActualMinutes = &actual
		closed = append(closed, *r)
	}
	return wrote, closed, nil
}

// ── products ───────────────────────────────────────

func (m *Memory) GetProduct(_ context.Context, tenantID, productID string) (*model.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[key(tenantID, productID)]
	if !ok {
		return nil, ErrNotFound
	}
	c := *p
	return &c, nil
}

func (m *Memory) UpdatePreparationMinutes(_ context.Context, tenantID, productID string, minutes int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[key(tenantID, productID)]
	if !ok {
		return ErrNotFound
	}
	p.PreparationMinutes = minutes
	return nil
}

// ── timings ────────────────────────────────────────

func (m *Memory) InsertTimings(_ context.Context, records []model.TimingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertTimingsLocked(records)
	return nil
}

func (m *Memory) insertTimingsLocked(records []model.TimingRecord) {
	for _, r := range records {
		r := r
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		m.timings = append(m.timings, &r)
	}
}

func (m *Memory) RecentActuals(_ context.Context, tenantID, productID string, since time.Time) ([]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []int
	for _, r := range m.timings {
		if r.TenantID == tenantID && r.ProductID == productID && r.ActualMinutes != nil && !r.StartedAt.Before(since) {
			out = append(out, *r.ActualMinutes)
		}
	}
	return out, nil
}

func (m *Memory) ListFinishedTimings(_ context.Context, tenantID, productID string, limit int) ([]model.TimingRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.TimingRecord
	for _, r := range m.timings {
		if r.TenantID == tenantID && r.ProductID == productID && r.ActualMinutes != nil {
			out = append(out, *r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ── stages and tenants ─────────────────────────────

func (m *Memory) ListStages(_ context.Context, tenantID string) ([]model.ProductionStage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := slices.Clone(m.stages[tenantID])
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (m *Memory) ListTenants(_ context.Context) ([]model.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.tenants), nil
}

func (m *Memory) ListActiveTenants(_ context.Context) ([]model.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Tenant
	for _, t := range m.tenants {
		if t.Active {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *Memory) GetWebhookConfig(_ context.Context, tenantID string) (*model.WebhookConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.webhooks[tenantID]
	if !ok || c.URL == "" {
		return nil, ErrNotFound
	}
	return &c, nil
}

// ── alerts ─────────────────────────────────────────

func (m *Memory) ListLowStock(_ context.Context, tenantID string) ([]model.InventoryItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.InventoryItem
	for _, it := range m.inventory[tenantID] {
		if it.MinThreshold > 0 && it.Quantity <= it.MinThreshold {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *Memory) ListCustomerActivity(_ context.Context, tenantID string) ([]model.CustomerActivity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.customers[tenantID]), nil
}

func (m *Memory) HasUnreadAlert(_ context.Context, tenantID, alertType, itemKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hasUnreadLocked(tenantID, alertType, itemKey), nil
}

func (m *Memory) hasUnreadLocked(tenantID, alertType, itemKey string) bool {
	for _, a := range m.alerts {
		if a.TenantID == tenantID && a.Type == alertType && a.ItemKey == itemKey && !a.Read {
			return true
		}
	}
	return false
}

func (m *Memory) InsertAlert(_ context.Context, a model.Alert) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasUnreadLocked(a.TenantID, a.Type, a.ItemKey) {
		return false, nil
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	m.alerts = append(m.alerts, &a)
	return true, nil
}

// ── forecasts ──────────────────────────────────────

func (m *Memory) ConsumptionSince(_ context.Context, tenantID string, since time.Time) ([]model.Consumption, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	totals := make(map[string]int)
	for _, o := range m.orders {
		if o.TenantID != tenantID || o.Status == model.StatusCancelled || o.CreatedAt.Before(since) {
			continue
		}
		for _, it := range o.Items {
			if it.ProductID != "" {
				totals[it.ProductID] += it.Quantity
			}
		}
	}
	out := make([]model.Consumption, 0, len(totals))
	for id, q := range totals {
		out = append(out, model.Consumption{ProductID: id, Quantity: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (m *Memory) HasPendingForecast(_ context.Context, tenantID, productID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hasPendingLocked(tenantID, productID), nil
}

func (m *Memory) hasPendingLocked(tenantID, productID string) bool {
	for _, f := range m.forecasts {
		if f.TenantID == tenantID && f.ProductID == productID && f.Status == model.ForecastPending {
			return true
		}
	}
	return false
}

func (m *Memory) InsertForecast(_ context.Context, f model.StockForecast) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f.Status == model.ForecastPending && m.hasPendingLocked(f.TenantID, f.ProductID) {
		return false, nil
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	m.forecasts = append(m.forecasts, &f)
	return true, nil
}

// ── retention ──────────────────────────────────────

func (m *Memory) DeleteSystemLogsBefore(_ context.Context, tenantID string, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	m.systemLogs = slices.DeleteFunc(m.systemLogs, func(l systemLog) bool {
		drop := l.tenantID == tenantID && l.at.Before(before)
		if drop {
			n++
		}
		return drop
	})
	return n, nil
}

func (m *Memory) DeleteWebhookLogsBefore(_ context.Context, tenantID string, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	m.deliveries = slices.DeleteFunc(m.deliveries, func(d *model.WebhookDelivery) bool {
		drop := d.TenantID == tenantID && d.CreatedAt.Before(before)
		if drop {
			n++
		}
		return drop
	})
	return n, nil
}

func (m *Memory) DeleteReadAlertsBefore(_ context.Context, tenantID string, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	m.alerts = slices.DeleteFunc(m.alerts, func(a *model.Alert) bool {
		drop := a.TenantID == tenantID && a.Read && a.CreatedAt.Before(before)
		if drop {
			n++
		}
		return drop
	})
	return n, nil
}

// ── webhook deliveries ─────────────────────────────

func (m *Memory) InsertDelivery(_ context.Context, d model.WebhookDelivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.Payload = slices.Clone(d.Payload)
	m.deliveries = append(m.deliveries, &d)
	return nil
}

func (m *Memory) UpdateDelivery(_ context.Context, d model.WebhookDelivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cur := range m.deliveries {
		if cur.ID == d.ID && cur.TenantID == d.TenantID {
			cur.Status = d.Status
			cur.StatusCode = d.StatusCode
			cur.Response = d.Response
			cur.Attempts = d.Attempts
			cur.UpdatedAt = d.UpdatedAt
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) ListRetryable(_ context.Context, tenantID string, maxAttempts, limit int) ([]model.WebhookDelivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.WebhookDelivery
	for _, d := range m.deliveries {
		if tenantID != "" && d.TenantID != tenantID {
			continue
		}
		if d.Status != model.DeliveryFailure && d.Status != model.DeliveryError {
			continue
		}
		if d.Attempts >= maxAttempts {
			continue
		}
		c := *d
		c.Payload = slices.Clone(d.Payload)
		out = append(out, c)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
