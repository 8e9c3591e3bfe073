package model

type ProductionStage struct {
	Name          string `json:"name"`
	TargetSeconds int    `json:"target_seconds"`
	Position      int    `json:"position"`
}

// DefaultStages is used when a tenant has no stages configured.
func DefaultStages() []ProductionStage {
	return []ProductionStage{
		{Name: "Abrir massa", TargetSeconds: 60, Position: 1},
		{Name: "Montagem", TargetSeconds: 120, Position: 2},
		{Name: "Forno", TargetSeconds: 300, Position: 3},
		{Name: "Finalização", TargetSeconds: 60, Position: 4},
	}
}
