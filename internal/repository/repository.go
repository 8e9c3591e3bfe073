// Package repository defines the store consumed by the kitchen services.
// Every method takes an explicit tenant id; none of them reads tenant
// context from anywhere else.
package repository

import (
	"context"
	"errors"
	"slices"
	"time"

	"kitchenflow/internal/model"
)

var ErrNotFound = errors.New("not found")

var (
	startableStatuses = []model.OrderStatus{
		model.StatusPending, model.StatusReceived, model.StatusConfirmed, model.StatusPreparing,
	}
	finishableStatuses = append(slices.Clone(startableStatuses), model.StatusReady)
)

type OrderStore interface {
	GetOrder(ctx context.Context, tenantID, orderID string) (*model.Order, error)
	ListOrdersByStatus(ctx context.Context, tenantID string, statuses []model.OrderStatus) ([]model.Order, error)
	CountOrdersByStatus(ctx context.Context, tenantID string, statuses []model.OrderStatus) (int, error)
	// BeginPreparation stamps preparation_started_at, moves the order to
	// preparing and inserts records, all in one transaction. It reports false
	// and writes nothing when the order is already started or past preparing.
	BeginPreparation(ctx context.Context, tenantID, orderID string, at time.Time, records []model.TimingRecord) (bool, error)
	// CompletePreparation stamps preparation_ready_at and moves the order to
	// ready unless it is already stamped or further along, then closes the
	// order's open timing records. It returns the records it closed.
	CompletePreparation(ctx context.Context, tenantID, orderID string, at time.Time) (bool, []model.TimingRecord, error)
}

type ProductStore interface {
	GetProduct(ctx context.Context, tenantID, productID string) (*model.Product, error)
	UpdatePreparationMinutes(ctx context.Context, tenantID, productID string, minutes int) error
}

type TimingStore interface {
	InsertTimings(ctx context.Context, records []model.TimingRecord) error
	// RecentActuals returns actual minutes of finished records started at or after since.
	RecentActuals(ctx context.Context, tenantID, productID string, since time.Time) ([]int, error)
	// ListFinishedTimings returns up to limit finished records, newest first.
	ListFinishedTimings(ctx context.Context, tenantID, productID string, limit int) ([]model.TimingRecord, error)
}

type StageStore interface {
	ListStages(ctx context.Context, tenantID string) ([]model.ProductionStage, error)
}

type TenantStore interface {
	ListActiveTenants(ctx context.Context) ([]model.Tenant, error)
	ListTenants(ctx context.Context) ([]model.Tenant, error)
	// GetWebhookConfig returns ErrNotFound when the tenant has no webhook URL.
	GetWebhookConfig(ctx context.Context, tenantID string) (*model.WebhookConfig, error)
}

type AlertStore interface {
	ListLowStock(ctx context.Context, tenantID string) ([]model.InventoryItem, error)
	ListCustomerActivity(ctx context.Context, tenantID string) ([]model.CustomerActivity, error)
	HasUnreadAlert(ctx context.Context, tenantID, alertType, itemKey string) (bool, error)
	// InsertAlert reports false when an unread alert with the same key already exists.
	InsertAlert(ctx context.Context, a model.Alert) (bool, error)
}

type ForecastStore interface {
	ConsumptionSince(ctx context.Context, tenantID string, since time.Time) ([]model.Consumption, error)
	HasPendingForecast(ctx context.Context, tenantID, productID string) (bool, error)
	// InsertForecast reports false when a pending forecast for the product already exists.
	InsertForecast(ctx context.Context, f model.StockForecast) (bool, error)
}

type RetentionStore interface {
	DeleteSystemLogsBefore(ctx context.Context, tenantID string, before time.Time) (int64, error)
	DeleteWebhookLogsBefore(ctx context.Context, tenantID string, before time.Time) (int64, error)
	DeleteReadAlertsBefore(ctx context.Context, tenantID string, before time.Time) (int64, error)
}

type WebhookLogStore interface {
	InsertDelivery(ctx context.Context, d model.WebhookDelivery) error
	UpdateDelivery(ctx context.Context, d model.WebhookDelivery) error
	// ListRetryable returns failure/error rows with attempts < maxAttempts,
	// oldest first. An empty tenantID means every tenant.
	ListRetryable(ctx context.Context, tenantID string, maxAttempts, limit int) ([]model.WebhookDelivery, error)
}

type Store interface {
	OrderStore
	ProductStore
	TimingStore
	StageStore
	TenantStore
	AlertStore
	ForecastStore
	RetentionStore
	WebhookLogStore
}
