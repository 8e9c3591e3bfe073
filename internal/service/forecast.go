package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"kitchenflow/internal/model"
	"kitchenflow/internal/repository"
)

const (
	BasisDefault    = "default"
	BasisHistorical = "historico"

	PeriodMorning   = "morning"
	PeriodAfternoon = "afternoon"
	PeriodEvening   = "evening"

	forecastSampleLimit    = 100
	forecastMinSamples     = 5
	segmentMinSamples      = 3
	defaultForecastSeconds = 900
	defaultConfidence      = 30
	finishingBufferSeconds = 300
	forecastParallelism    = 8
)

type ProductForecast struct {
	ProductID        string `json:"product_id"`
	EstimatedSeconds int    `json:"estimated_seconds"`
	Confidence       int    `json:"confidence"`
	Basis            string `json:"basis"`
	SampleCount      int    `json:"sample_count"`
	Period           string `json:"period"`
	RushAdjustment   int    `json:"rush_adjustment"`
	LoadAdjustment   int    `json:"load_adjustment"`
}

type OrderForecast struct {
	TotalSeconds int               `json:"total_seconds"`
	Concurrency  int               `json:"concurrency"`
	Products     []ProductForecast `json:"products"`
}

type ForecastService struct {
	store repository.Store
	options
}

func NewForecastService(store repository.Store, opts ...Option) *ForecastService {
	return &ForecastService{store: store, options: newOptions(opts)}
}

// PeriodOf maps an hour of day to its forecasting segment.
func PeriodOf(hour int) string {
	switch {
	case hour >= 6 && hour < 12:
		return PeriodMorning
	case hour >= 12 && hour < 18:
		return PeriodAfternoon
	default:
		return PeriodEvening
	}
}

type sample struct {
	seconds float64
	load    float64
	rush    bool
}

func meanOf(samples []sample, f func(sample) float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += f(s)
	}
	return sum / float64(len(samples))
}

func seconds(s sample) float64 { return s.seconds }

// CurrentConcurrency counts the same queued statuses a timing record's
// queue depth is taken from, so it compares directly with historical load.
func (s *ForecastService) CurrentConcurrency(ctx context.Context, tenantID string) (int, error) {
	n, err := s.store.CountOrdersByStatus(ctx, tenantID, queuedStatuses)
	if err != nil {
		return 0, fmt.Errorf("count queued orders: %w", err)
	}
	return n, nil
}

func (s *ForecastService) ForecastProductTime(ctx context.Context, tenantID, productID string, at time.Time, concurrent int) (*ProductForecast, error) {
	product, err := s.store.GetProduct(ctx, tenantID, productID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}

	records, err := s.store.ListFinishedTimings(ctx, tenantID, productID, forecastSampleLimit)
	if err != nil {
		return nil, fmt.Errorf("list finished timings: %w", err)
	}

	at = at.In(s.loc)
	fc := &ProductForecast{ProductID: productID, SampleCount: len(records), Period: PeriodOf(at.Hour())}
	if len(records) < forecastMinSamples {
		return defaultForecast(fc, product, at, concurrent), nil
	}

	all := make([]sample, 0, len(records))
	var segment []sample
	for _, r := range records {
		smp := sample{seconds: float64(*r.ActualMinutes * 60), load: float64(r.QueueDepth), rush: r.RushHour}
		all = append(all, smp)
		if PeriodOf(r.HourOfDay) == fc.Period {
			segment = append(segment, smp)
		}
	}
	chosen := all
	if len(segment) >= segmentMinSamples {
		chosen = segment
	}

	avg := meanOf(chosen, seconds)
	meanLoad := meanOf(chosen, func(s sample) float64 { return s.load })
	if c := float64(concurrent); c > meanLoad {
		fc.LoadAdjustment = int(math.Round(0.03 * avg * (c - meanLoad)))
	}

	if IsRushHour(at) {
		var rush, calm []sample
		for _, smp := range chosen {
			if smp.rush {
				rush = append(rush, smp)
			} else {
				calm = append(calm, smp)
			}
		}
		if len(rush) >= segmentMinSamples && len(calm) >= segmentMinSamples {
			fc.RushAdjustment = int(math.Round(meanOf(rush, seconds) - meanOf(calm, seconds)))
		} else {
			fc.RushAdjustment = int(math.Round(0.1 * avg))
		}
	}

	fc.SampleCount = len(chosen)
	fc.Basis = BasisHistorical
	fc.Confidence = historicalConfidence(chosen, avg)
	fc.EstimatedSeconds = int(math.Round(avg)) + fc.LoadAdjustment + fc.RushAdjustment
	return fc, nil
}

func defaultForecast(fc *ProductForecast, product *model.Product, at time.Time, concurrent int) *ProductForecast {
	base := defaultForecastSeconds
	if product.PreparationMinutes > 0 {
		base = product.PreparationMinutes * 60
	}
	if IsRushHour(at) {
		fc.RushAdjustment = int(math.Round(0.1 * float64(base)))
	}
	if concurrent > 3 {
		fc.LoadAdjustment = int(math.Round(0.05 * float64(base) * float64(concurrent-3)))
	}
	fc.Basis = BasisDefault
	fc.Confidence = defaultConfidence
	fc.EstimatedSeconds = base + fc.RushAdjustment + fc.LoadAdjustment
	return fc
}

// historicalConfidence is 100 minus the coefficient of variation, kept in [20, 95].
func historicalConfidence(samples []sample, avg float64) int {
	cov := 100.0
	if avg > 0 {
		var sq float64
		for _, s := range samples {
			d := s.seconds - avg
			sq += d * d
		}
		cov = 100 * math.Sqrt(sq/float64(len(samples))) / avg
	}
	return min(max(int(math.Round(100-cov)), 20), 95)
}

// ForecastOrderTotal forecasts each distinct product in parallel; the slowest
// one plus a finishing buffer gates the order.
func (s *ForecastService) ForecastOrderTotal(ctx context.Context, tenantID string, productIDs []string) (*OrderForecast, error) {
	seen := make(map[string]bool, len(productIDs))
	var distinct []string
	for _, id := range productIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		distinct = append(distinct, id)
	}

	concurrent, err := s.CurrentConcurrency(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	at := s.clock()

	results := make([]ProductForecast, len(distinct))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(forecastParallelism)
	for i, id := range distinct {
		i, id := i, id
		g.Go(func() error {
			fc, err := s.ForecastProductTime(gctx, tenantID, id, at, concurrent)
			if err != nil {
				return err
			}
			results[i] = *fc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slowest := 0
	for _, fc := range results {
		slowest = max(slowest, fc.EstimatedSeconds)
	}
	return &OrderForecast{
		TotalSeconds: slowest + finishingBufferSeconds,
		Concurrency:  concurrent,
		Products:     results,
	}, nil
}
