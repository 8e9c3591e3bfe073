package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"kitchenflow/internal/metrics"
	"kitchenflow/internal/model"
	"kitchenflow/internal/repository"
)

const (
	DefaultPreparationMinutes = 15
	DeliveryLegMinutes        = 15

	historyWindow       = 7 * 24 * time.Hour
	historyWeight       = 0.7
	maxQueueFactor      = 2.0
	reblendMinSamples   = 5
	baseConfidence      = 85
	minConfidence       = 50
	largeOrderThreshold = 60
)

// queuedStatuses count towards kitchen congestion.
var queuedStatuses = []model.OrderStatus{model.StatusPending, model.StatusPreparing, model.StatusConfirmed}

type EstimateLine struct {
	ProductID   string `json:"product_id,omitempty"`
	Name        string `json:"name"`
	Quantity    int    `json:"quantity"`
	UnitMinutes int    `json:"unit_minutes"`
	Minutes     int    `json:"minutes"`
	Historical  bool   `json:"historical"`
}

type Estimate struct {
	PreparationMinutes int            `json:"preparation_minutes"`
	DeliveryMinutes    int            `json:"delivery_minutes"`
	BaseMinutes        int            `json:"base_minutes"`
	QueueCount         int            `json:"queue_count"`
	QueueFactor        float64        `json:"queue_factor"`
	Confidence         int            `json:"confidence"`
	Breakdown          []EstimateLine `json:"breakdown"`
}

type EstimationService struct {
	store repository.Store
	options
}

func NewEstimationService(store repository.Store, opts ...Option) *EstimationService {
	return &EstimationService{store: store, options: newOptions(opts)}
}

// QueueFactor widens estimates by 10% per queued order, capped at double.
func QueueFactor(queueCount int) float64 {
	if queueCount < 0 {
		queueCount = 0
	}
	return math.Min(1+0.1*float64(queueCount), maxQueueFactor)
}

func blend(historicalAvg float64, current int) int {
	return int(math.Round(historyWeight*historicalAvg + (1-historyWeight)*float64(current)))
}

func mean(values []int) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum int
	for _, v := range values {
		sum += v
	}
	return float64(sum) / float64(len(values))
}

// configuredMinutes returns the product's stored minutes, or the default when
// the product is unknown or unconfigured.
func (s *EstimationService) configuredMinutes(ctx context.Context, tenantID, productID string) (int, error) {
	if productID == "" {
		return DefaultPreparationMinutes, nil
	}
	p, err := s.store.GetProduct(ctx, tenantID, productID)
	if errors.Is(err, repository.ErrNotFound) {
		return DefaultPreparationMinutes, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get product %s: %w", productID, err)
	}
	if p.PreparationMinutes <= 0 {
		return DefaultPreparationMinutes, nil
	}
	return p.PreparationMinutes, nil
}

// UnitMinutes is the per-unit estimate for a product: configured minutes,
// blended 70/30 with the trailing week's average actual when one exists.
func (s *EstimationService) UnitMinutes(ctx context.Context, tenantID, productID string) (int, bool, error) {
	minutes, err := s.configuredMinutes(ctx, tenantID, productID)
	if err != nil {
		return 0, false, err
	}
	if productID == "" {
		return minutes, false, nil
	}

	actuals, err := s.store.RecentActuals(ctx, tenantID, productID, s.clock().Add(-historyWindow))
	if err != nil {
		return 0, false, fmt.Errorf("recent actuals %s: %w", productID, err)
	}
	if len(actuals) == 0 {
		return minutes, false, nil
	}
	return blend(mean(actuals), minutes), true, nil
}

func (s *EstimationService) EstimatePreparation(ctx context.Context, tenantID string, items []model.LineItem) (*Estimate, error) {
	est := &Estimate{Breakdown: make([]EstimateLine, 0, len(items))}

	base := 0
	for _, it := range items {
		unit, historical, err := s.UnitMinutes(ctx, tenantID, it.ProductID)
		if err != nil {
			return nil, err
		}
		qty := max(it.Quantity, 0)
		line := EstimateLine{
			ProductID:   it.ProductID,
			Name:        it.Name,
			Quantity:    qty,
			UnitMinutes: unit,
			Minutes:     unit * qty,
			Historical:  historical,
		}
		base += line.Minutes
		est.Breakdown = append(est.Breakdown, line)
	}
	base = max(base, DefaultPreparationMinutes)

	queueCount, err := s.store.CountOrdersByStatus(ctx, tenantID, queuedStatuses)
	if err != nil {
		return nil, fmt.Errorf("count queued orders: %w", err)
	}

	factor := QueueFactor(queueCount)
	est.BaseMinutes = base
	est.QueueCount = queueCount
	est.QueueFactor = factor
	est.PreparationMinutes = base + int(math.Round(float64(base)*(factor-1)))
	est.DeliveryMinutes = est.PreparationMinutes + DeliveryLegMinutes
	est.Confidence = estimateConfidence(queueCount, base)

	metrics.EstimateConfidence.Observe(float64(est.Confidence))
	return est, nil
}

func estimateConfidence(queueCount, baseMinutes int) int {
	c := baseConfidence
	if queueCount > 10 {
		c -= 10
	}
	if queueCount > 20 {
		c -= 10
	}
	if baseMinutes > largeOrderThreshold {
		c -= 5
	}
	return max(c, minConfidence)
}
