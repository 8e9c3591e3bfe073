package model

import "time"

type DeliveryStatus string

const (
	DeliverySuccess DeliveryStatus = "success"
	DeliveryFailure DeliveryStatus = "failure"
	DeliveryError   DeliveryStatus = "error"
)

// WebhookDelivery is both the delivery log and the retry queue entry.
type WebhookDelivery struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenant_id"`
	Event      string         `json:"event"`
	Payload    []byte         `json:"payload"`
	Status     DeliveryStatus `json:"status"`
	StatusCode int            `json:"status_code"`
	Response   string         `json:"response"`
	Attempts   int            `json:"attempts"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}
