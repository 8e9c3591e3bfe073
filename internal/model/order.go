package model

import (
	"time"
)

type OrderStatus string

const (
	StatusPending        OrderStatus = "pending"
	StatusReceived       OrderStatus = "received"
	StatusConfirmed      OrderStatus = "confirmed"
	StatusPreparing      OrderStatus = "preparing"
	StatusReady          OrderStatus = "ready"
	StatusOutForDelivery OrderStatus = "out_for_delivery"
	StatusDelivered      OrderStatus = "delivered"
	StatusCancelled      OrderStatus = "cancelled"
)

// rank orders statuses along the kitchen flow; cancelled sits outside it.
var rank = map[OrderStatus]int{
	StatusPending:        0,
	StatusReceived:       1,
	StatusConfirmed:      2,
	StatusPreparing:      3,
	StatusReady:          4,
	StatusOutForDelivery: 5,
	StatusDelivered:      6,
}

// Before reports whether s comes strictly before other in the kitchen flow.
func (s OrderStatus) Before(other OrderStatus) bool {
	a, ok1 := rank[s]
	b, ok2 := rank[other]
	return ok1 && ok2 && a < b
}

type Order struct {
	ID                          string      `json:"id"`
	TenantID                    string      `json:"tenant_id"`
	Status                      OrderStatus `json:"status"`
	Items                       []LineItem  `json:"items"`
	PreparationStartedAt        *time.Time  `json:"preparation_started_at,omitempty"`
	PreparationReadyAt          *time.Time  `json:"preparation_ready_at,omitempty"`
	EstimatedPreparationMinutes int         `json:"estimated_preparation_minutes"`
	EstimatedDeliveryMinutes    int         `json:"estimated_delivery_minutes"`
	CreatedAt                   time.Time   `json:"created_at"`
}

type LineItem struct {
	ProductID string `json:"product_id,omitempty"` // empty = unknown product
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
}
