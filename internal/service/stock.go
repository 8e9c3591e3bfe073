package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"kitchenflow/internal/model"
	"kitchenflow/internal/repository"
)

const (
	consumptionWindowDays = 30
	suggestionDays        = 7
)

type StockService struct {
	store repository.Store
	options
}

func NewStockService(store repository.Store, opts ...Option) *StockService {
	return &StockService{store: store, options: newOptions(opts)}
}

// SweepLowStock raises one unread low-stock alert per under-stocked item.
// Items that already have an unread alert are skipped.
func (s *StockService) SweepLowStock(ctx context.Context) (int, error) {
	created := 0
	err := forEachTenant(ctx, s.store.ListActiveTenants, s.logger, "stock-low", func(ctx context.Context, t model.Tenant) error {
		items, err := s.store.ListLowStock(ctx, t.ID)
		if err != nil {
			return fmt.Errorf("list low stock: %w", err)
		}
		for _, it := range items {
			exists, err := s.store.HasUnreadAlert(ctx, t.ID, model.AlertLowStock, it.ID)
			if err != nil {
				return fmt.Errorf("check alert: %w", err)
			}
			if exists {
				continue
			}
			ok, err := s.store.InsertAlert(ctx, model.Alert{
				TenantID:  t.ID,
				Type:      model.AlertLowStock,
				ItemKey:   it.ID,
				Message:   fmt.Sprintf("low stock: %s (%.2f, minimum %.2f)", it.Name, it.Quantity, it.MinThreshold),
				CreatedAt: s.clock(),
			})
			if err != nil {
				return fmt.Errorf("insert alert: %w", err)
			}
			if ok {
				created++
			}
		}
		return nil
	})
	s.logger.Info("low stock sweep finished", "alerts", created)
	return created, err
}

// ForecastStock suggests a seven-day stock level per product from the
// trailing 30 days of sales, once per product until the pending one is handled.
func (s *StockService) ForecastStock(ctx context.Context) (int, error) {
	created := 0
	err := forEachTenant(ctx, s.store.ListActiveTenants, s.logger, "stock-forecast", func(ctx context.Context, t model.Tenant) error {
		now := s.clock()
		usage, err := s.store.ConsumptionSince(ctx, t.ID, now.Add(-consumptionWindowDays*24*time.Hour))
		if err != nil {
			return fmt.Errorf("consumption: %w", err)
		}
		for _, c := range usage {
			if c.Quantity <= 0 {
				continue
			}
			pending, err := s.store.HasPendingForecast(ctx, t.ID, c.ProductID)
			if err != nil {
				return fmt.Errorf("check forecast: %w", err)
			}
			if pending {
				continue
			}
			daily := float64(c.Quantity) / consumptionWindowDays
			ok, err := s.store.InsertForecast(ctx, model.StockForecast{
				TenantID:      t.ID,
				ProductID:     c.ProductID,
				DailyAverage:  daily,
				Suggested7Day: int(math.Ceil(daily * suggestionDays)),
				Status:        model.ForecastPending,
				CreatedAt:     now,
			})
			if err != nil {
				return fmt.Errorf("insert forecast: %w", err)
			}
			if ok {
				created++
			}
		}
		return nil
	})
	s.logger.Info("stock forecast finished", "forecasts", created)
	return created, err
}
