package service_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"kitchenflow/internal/model"
	"kitchenflow/internal/repository"
	"kitchenflow/internal/service"
)

func newStrategies(store *repository.Memory) *service.Strategies {
	opts := clockOpts(newClock(noon))
	return service.NewStrategies(
		service.SimpleBlend{Engine: service.NewEstimationService(store, opts...)},
		service.SegmentedForecast{Forecaster: service.NewForecastService(store, opts...)},
		service.StageTiming{Stages: store},
	)
}

func TestStrategies_Estimate(t *testing.T) {
	store := repository.NewMemory()
	store.PutProduct(model.Product{ID: "p1", TenantID: "t1", PreparationMinutes: 10})
	store.PutProduct(model.Product{ID: "p2", TenantID: "t1", PreparationMinutes: 10})
	items := []model.LineItem{
		{ProductID: "p1", Quantity: 1},
		{ProductID: "p2", Quantity: 1},
		{ProductID: "p1", Quantity: 2},
	}

	tests := []struct {
		strategy   string
		minutes    int
		confidence int
	}{
		{service.StrategySimpleBlend, 40, 85},
		// 660 seconds at rush hour plus the 300 second buffer.
		{service.StrategySegmentedForecast, 16, 30},
		// Default stages take 540 seconds per distinct product.
		{service.StrategyStageTiming, 18, 40},
	}
	strategies := newStrategies(store)
	for _, tt := range tests {
		t.Run(tt.strategy, func(t *testing.T) {
			res, err := strategies.Estimate(context.Background(), tt.strategy, "t1", items)
			if err != nil {
				t.Fatal(err)
			}
			if res.Strategy != tt.strategy || res.PreparationMinutes != tt.minutes || res.Confidence != tt.confidence {
				t.Errorf("result = %+v, want %d minutes at %d", res, tt.minutes, tt.confidence)
			}
		})
	}
}

func TestStrategies_StageTimingUsesTenantStages(t *testing.T) {
	store := repository.NewMemory()
	store.PutStages("t1", []model.ProductionStage{{Name: "Grill", TargetSeconds: 150, Position: 1}})

	res, err := newStrategies(store).Estimate(context.Background(), service.StrategyStageTiming, "t1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.PreparationMinutes != 3 {
		t.Errorf("minutes = %d, want 3", res.PreparationMinutes)
	}
}

func TestStrategies_Unknown(t *testing.T) {
	strategies := newStrategies(repository.NewMemory())

	want := []string{service.StrategySegmentedForecast, service.StrategySimpleBlend, service.StrategyStageTiming}
	if got := strategies.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("names = %v, want %v", got, want)
	}
	if _, err := strategies.Estimate(context.Background(), "guesswork", "t1", nil); !errors.Is(err, service.ErrUnknownStrategy) {
		t.Errorf("err = %v, want ErrUnknownStrategy", err)
	}
}
