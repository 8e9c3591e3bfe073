package model

import "time"

type Tenant struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

type WebhookConfig struct {
	TenantID string `json:"tenant_id"`
	URL      string `json:"url"`
	Secret   string `json:"-"`
}

// CustomerActivity is a customer and the time of their latest order, if any.
type CustomerActivity struct {
	CustomerID  string     `json:"customer_id"`
	Name        string     `json:"name"`
	LastOrderAt *time.Time `json:"last_order_at,omitempty"`
}
