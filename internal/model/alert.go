package model

import "time"

const (
	AlertLowStock    = "low_stock"
	AlertCRMFollowUp = "crm_followup"
)

type Alert struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Type      string    `json:"type"`
	ItemKey   string    `json:"item_key"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

type InventoryItem struct {
	ID           string  `json:"id"`
	TenantID     string  `json:"tenant_id"`
	Name         string  `json:"name"`
	Quantity     float64 `json:"quantity"`
	MinThreshold float64 `json:"min_threshold"`
}
