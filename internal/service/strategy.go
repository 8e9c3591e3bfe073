package service

import (
	"context"
	"fmt"
	"math"
	"sort"

	"kitchenflow/internal/model"
	"kitchenflow/internal/repository"
)

const (
	StrategySimpleBlend       = "simple_blend"
	StrategySegmentedForecast = "segmented_forecast"
	StrategyStageTiming       = "stage_timing"

	stageTimingConfidence = 40
)

type StrategyResult struct {
	Strategy           string `json:"strategy"`
	PreparationMinutes int    `json:"preparation_minutes"`
	Confidence         int    `json:"confidence"`
	Detail             any    `json:"detail,omitempty"`
}

// EstimationStrategy is one way of estimating an order's preparation time.
// Order-level scheduling uses SimpleBlend, live per-product display uses
// SegmentedForecast and the stage loop uses StageTiming.
type EstimationStrategy interface {
	Name() string
	Estimate(ctx context.Context, tenantID string, items []model.LineItem) (*StrategyResult, error)
}

type SimpleBlend struct{ Engine *EstimationService }

func (SimpleBlend) Name() string { return StrategySimpleBlend }

func (s SimpleBlend) Estimate(ctx context.Context, tenantID string, items []model.LineItem) (*StrategyResult, error) {
	est, err := s.Engine.EstimatePreparation(ctx, tenantID, items)
	if err != nil {
		return nil, err
	}
	return &StrategyResult{
		Strategy:           StrategySimpleBlend,
		PreparationMinutes: est.PreparationMinutes,
		Confidence:         est.Confidence,
		Detail:             est,
	}, nil
}

type SegmentedForecast struct{ Forecaster *ForecastService }

func (SegmentedForecast) Name() string { return StrategySegmentedForecast }

func (s SegmentedForecast) Estimate(ctx context.Context, tenantID string, items []model.LineItem) (*StrategyResult, error) {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}
	fc, err := s.Forecaster.ForecastOrderTotal(ctx, tenantID, ids)
	if err != nil {
		return nil, err
	}

	confidence := defaultConfidence
	for i, p := range fc.Products {
		if i == 0 || p.Confidence < confidence {
			confidence = p.Confidence
		}
	}
	return &StrategyResult{
		Strategy:           StrategySegmentedForecast,
		PreparationMinutes: int(math.Ceil(float64(fc.TotalSeconds) / 60)),
		Confidence:         confidence,
		Detail:             fc,
	}, nil
}

// StageTiming runs the tenant's stage list once per distinct product.
type StageTiming struct{ Stages repository.StageStore }

func (StageTiming) Name() string { return StrategyStageTiming }

func (s StageTiming) Estimate(ctx context.Context, tenantID string, items []model.LineItem) (*StrategyResult, error) {
	stages, err := s.Stages.ListStages(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	if len(stages) == 0 {
		stages = model.DefaultStages()
	}
	perProduct := 0
	for _, st := range stages {
		perProduct += st.TargetSeconds
	}

	distinct := make(map[string]bool)
	for _, it := range items {
		distinct[it.ProductID] = true
	}
	n := max(len(distinct), 1)

	return &StrategyResult{
		Strategy:           StrategyStageTiming,
		PreparationMinutes: int(math.Ceil(float64(perProduct*n) / 60)),
		Confidence:         stageTimingConfidence,
		Detail:             stages,
	}, nil
}

// Strategies selects an EstimationStrategy by name.
type Strategies struct {
	byName map[string]EstimationStrategy
}

func NewStrategies(strategies ...EstimationStrategy) *Strategies {
	m := make(map[string]EstimationStrategy, len(strategies))
	for _, s := range strategies {
		m[s.Name()] = s
	}
	return &Strategies{byName: m}
}

func (s *Strategies) Names() []string {
	names := make([]string, 0, len(s.byName))
	for n := range s.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (s *Strategies) Estimate(ctx context.Context, name, tenantID string, items []model.LineItem) (*StrategyResult, error) {
	strategy, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}
	return strategy.Estimate(ctx, tenantID, items)
}
