package model

type Product struct {
	ID                 string `json:"id"`
	TenantID           string `json:"tenant_id"`
	Name               string `json:"name"`
	PreparationMinutes int    `json:"preparation_minutes"` // 0 = not configured
}
