package model

import "time"

const ForecastPending = "pending"

type StockForecast struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	ProductID     string    `json:"product_id"`
	DailyAverage  float64   `json:"daily_average"`
	Suggested7Day int       `json:"suggested_7_day"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

// Consumption is the quantity of a product sold in a window.
type Consumption struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}
