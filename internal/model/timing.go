package model

import "time"

// TimingRecord is one (order, product) preparation observation.
type TimingRecord struct {
	ID               string     `json:"id"`
	TenantID         string     `json:"tenant_id"`
	ProductID        string     `json:"product_id,omitempty"`
	OrderID          string     `json:"order_id"`
	EstimatedMinutes int        `json:"estimated_minutes"`
	ActualMinutes    *int       `json:"actual_minutes,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	QueueDepth       int        `json:"queue_depth"`
	RushHour         bool       `json:"rush_hour"`
	HourOfDay        int        `json:"hour_of_day"`
}
