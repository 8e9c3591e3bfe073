package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"kitchenflow/internal/metrics"
	"kitchenflow/internal/model"
	"kitchenflow/internal/repository"
)

const (
	EventPreparationStarted = "order.preparation_started"
	EventPreparationReady   = "order.preparation_ready"

	lateSuffix = " (atrasado)"
)

type Urgency string

const (
	UrgencyGreen  Urgency = "green"
	UrgencyYellow Urgency = "yellow"
	UrgencyRed    Urgency = "red"
)

func (u Urgency) rank() int {
	switch u {
	case UrgencyRed:
		return 0
	case UrgencyYellow:
		return 1
	default:
		return 2
	}
}

// activeStatuses make up the kitchen work queue.
var activeStatuses = []model.OrderStatus{
	model.StatusReceived, model.StatusPreparing, model.StatusPending, model.StatusConfirmed,
}

// Notifier publishes order domain events. *WebhookDispatcher satisfies it.
type Notifier interface {
	Send(ctx context.Context, tenantID, event string, data any) (bool, error)
}

type RealtimeStatus struct {
	OrderID          string            `json:"order_id"`
	Status           model.OrderStatus `json:"status"`
	Started          bool              `json:"started"`
	EstimatedMinutes int               `json:"estimated_minutes"`
	ElapsedSeconds   int               `json:"elapsed_seconds"`
	ElapsedMinutes   int               `json:"elapsed_minutes"`
	ProgressPercent  int               `json:"progress_percent"`
	Ratio            float64           `json:"ratio"`
	Urgency          Urgency           `json:"urgency"`
	CurrentStage     string            `json:"current_stage"`
	NextStage        string            `json:"next_stage,omitempty"`
	RemainingMinutes int               `json:"remaining_minutes"`
}

type orderEvent struct {
	OrderID                     string     `json:"order_id"`
	Status                      string     `json:"status"`
	PreparationStartedAt        *time.Time `json:"preparation_started_at,omitempty"`
	PreparationReadyAt          *time.Time `json:"preparation_ready_at,omitempty"`
	EstimatedPreparationMinutes int        `json:"estimated_preparation_minutes"`
}

type ProductionService struct {
	store     repository.Store
	estimator *EstimationService
	notifier  Notifier
	options
}

// NewProductionService builds the tracker. notifier may be nil.
func NewProductionService(store repository.Store, estimator *EstimationService, notifier Notifier, opts ...Option) *ProductionService {
	return &ProductionService{store: store, estimator: estimator, notifier: notifier, options: newOptions(opts)}
}

func (s *ProductionService) getOrder(ctx context.Context, tenantID, orderID string) (*model.Order, error) {
	o, err := s.store.GetOrder(ctx, tenantID, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

func (s *ProductionService) notify(ctx context.Context, o *model.Order, event string) {
	if s.notifier == nil {
		return
	}
	_, err := s.notifier.Send(ctx, o.TenantID, event, orderEvent{
		OrderID:                     o.ID,
		Status:                      string(o.Status),
		PreparationStartedAt:        o.PreparationStartedAt,
		PreparationReadyAt:          o.PreparationReadyAt,
		EstimatedPreparationMinutes: o.EstimatedPreparationMinutes,
	})
	if err != nil {
		s.logger.Error("order event webhook failed", "tenant", o.TenantID, "order", o.ID, "event", event, "error", err)
	}
}

// StartPreparation moves the order to preparing and opens one timing record
// per distinct product. The stamp and the records are written together.
// Calling it again on a started order changes nothing.
func (s *ProductionService) StartPreparation(ctx context.Context, tenantID, orderID string) (*model.Order, error) {
	o, err := s.getOrder(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	if o.PreparationStartedAt != nil {
		return o, nil
	}
	if !o.Status.Before(model.StatusReady) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, model.StatusPreparing)
	}

	now := s.clock()
	depth, err := s.store.CountOrdersByStatus(ctx, tenantID, queuedStatuses)
	if err != nil {
		return nil, fmt.Errorf("count queued orders: %w", err)
	}

	seen := make(map[string]bool)
	var records []model.TimingRecord
	for _, it := range o.Items {
		if seen[it.ProductID] {
			continue
		}
		seen[it.ProductID] = true

		minutes, err := s.estimator.configuredMinutes(ctx, tenantID, it.ProductID)
		if err != nil {
			return nil, err
		}
		records = append(records, model.TimingRecord{
			TenantID:         tenantID,
			ProductID:        it.ProductID,
			OrderID:          orderID,
			EstimatedMinutes: minutes,
			StartedAt:        now,
			QueueDepth:       depth,
			RushHour:         IsRushHour(now),
			HourOfDay:        now.Hour(),
		})
	}

	wrote, err := s.store.BeginPreparation(ctx, tenantID, orderID, now, records)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("begin preparation: %w", err)
	}
	if !wrote {
		// Lost a race: either someone else started it or it moved on.
		cur, err := s.getOrder(ctx, tenantID, orderID)
		if err != nil {
			return nil, err
		}
		if cur.PreparationStartedAt == nil {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, model.StatusPreparing)
		}
		return cur, nil
	}

	o.Status = model.StatusPreparing
	o.PreparationStartedAt = &now
	s.logger.Info("preparation started", "tenant", tenantID, "order", orderID, "records", len(records), "queue_depth", depth)
	s.notify(ctx, o, EventPreparationStarted)
	return o, nil
}

// FinishPreparation moves the order to ready, closes its open timing records
// and re-blends each touched product once it has enough recent samples.
// Orders already handed to delivery are rejected.
func (s *ProductionService) FinishPreparation(ctx context.Context, tenantID, orderID string) (*model.Order, error) {
	o, err := s.getOrder(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status == model.StatusCancelled {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, model.StatusReady)
	}
	if o.PreparationStartedAt == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotStarted, orderID)
	}
	if o.PreparationReadyAt == nil && model.StatusReady.Before(o.Status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, model.StatusReady)
	}

	now := s.clock()
	wrote, closed, err := s.store.CompletePreparation(ctx, tenantID, orderID, now)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("complete preparation: %w", err)
	}

	// The stamp is committed; a failed re-blend is picked up by the next finish.
	for _, r := range closed {
		if r.ProductID == "" {
			continue
		}
		if err := s.reblend(ctx, tenantID, r.ProductID, now); err != nil {
			s.logger.Error("re-blend failed", "tenant", tenantID, "product", r.ProductID, "error", err)
		}
	}

	if !wrote {
		return s.getOrder(ctx, tenantID, orderID)
	}
	o.Status = model.StatusReady
	o.PreparationReadyAt = &now
	s.logger.Info("preparation finished", "tenant", tenantID, "order", orderID, "closed", len(closed))
	s.notify(ctx, o, EventPreparationReady)
	return o, nil
}

func (s *ProductionService) reblend(ctx context.Context, tenantID, productID string, now time.Time) error {
	actuals, err := s.store.RecentActuals(ctx, tenantID, productID, now.Add(-historyWindow))
	if err != nil {
		return fmt.Errorf("recent actuals %s: %w", productID, err)
	}
	if len(actuals) < reblendMinSamples {
		return nil
	}

	current, err := s.estimator.configuredMinutes(ctx, tenantID, productID)
	if err != nil {
		return err
	}
	updated := blend(mean(actuals), current)
	err = s.store.UpdatePreparationMinutes(ctx, tenantID, productID, updated)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("update product %s: %w", productID, err)
	}
	s.logger.Info("product estimate re-blended", "tenant", tenantID, "product", productID,
		"from", current, "to", updated, "samples", len(actuals))
	return nil
}

func (s *ProductionService) stages(ctx context.Context, tenantID string) ([]model.ProductionStage, error) {
	stages, err := s.store.ListStages(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	if len(stages) == 0 {
		return model.DefaultStages(), nil
	}
	return stages, nil
}

func (s *ProductionService) GetRealtimeStatus(ctx context.Context, tenantID, orderID string) (*RealtimeStatus, error) {
	o, err := s.getOrder(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	stages, err := s.stages(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	st := ComputeStatus(*o, stages, s.clock())
	return &st, nil
}

// ComputeStatus derives live progress for o at now. Finished orders are
// measured up to their ready time.
func ComputeStatus(o model.Order, stages []model.ProductionStage, now time.Time) RealtimeStatus {
	est := o.EstimatedPreparationMinutes
	if est <= 0 {
		est = DefaultPreparationMinutes
	}
	st := RealtimeStatus{
		OrderID:          o.ID,
		Status:           o.Status,
		EstimatedMinutes: est,
		Urgency:          UrgencyGreen,
		RemainingMinutes: est,
	}
	if o.PreparationStartedAt == nil {
		if len(stages) > 0 {
			st.NextStage = stages[0].Name
		}
		return st
	}

	end := now
	if o.PreparationReadyAt != nil {
		end = *o.PreparationReadyAt
	}
	elapsed := max(end.Sub(*o.PreparationStartedAt).Seconds(), 0)
	estSeconds := float64(est * 60)

	st.Started = true
	st.ElapsedSeconds = int(elapsed)
	st.ElapsedMinutes = int(elapsed / 60)
	st.Ratio = elapsed / estSeconds
	st.ProgressPercent = min(max(int(math.Round(100*st.Ratio)), 0), 100)
	switch {
	case st.Ratio >= 1.0:
		st.Urgency = UrgencyRed
	case st.Ratio >= 0.8:
		st.Urgency = UrgencyYellow
	}
	st.RemainingMinutes = max(int(math.Ceil((estSeconds-elapsed)/60)), 0)
	st.CurrentStage, st.NextStage = stageAt(stages, elapsed)
	return st
}

func stageAt(stages []model.ProductionStage, elapsedSeconds float64) (current, next string) {
	if len(stages) == 0 {
		return "", ""
	}
	cum := 0.0
	for i, stage := range stages {
		cum += float64(stage.TargetSeconds)
		if elapsedSeconds < cum {
			if i+1 < len(stages) {
				next = stages[i+1].Name
			}
			return stage.Name, next
		}
	}
	return stages[len(stages)-1].Name + lateSuffix, ""
}

// ListActiveProductionQueue returns active orders red first, then yellow,
// then green; within a tier the most overdue first, then by order id.
func (s *ProductionService) ListActiveProductionQueue(ctx context.Context, tenantID string) ([]RealtimeStatus, error) {
	orders, err := s.store.ListOrdersByStatus(ctx, tenantID, activeStatuses)
	if err != nil {
		return nil, fmt.Errorf("list active orders: %w", err)
	}
	stages, err := s.stages(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	queue := make([]RealtimeStatus, 0, len(orders))
	for _, o := range orders {
		queue = append(queue, ComputeStatus(o, stages, now))
	}
	SortQueue(queue)

	counts := map[Urgency]int{}
	for _, q := range queue {
		counts[q.Urgency]++
	}
	for _, u := range []Urgency{UrgencyGreen, UrgencyYellow, UrgencyRed} {
		metrics.ProductionQueueDepth.WithLabelValues(tenantID, string(u)).Set(float64(counts[u]))
	}
	return queue, nil
}

// SortQueue orders statuses by urgency tier, then ratio descending, then order id.
func SortQueue(queue []RealtimeStatus) {
	sort.SliceStable(queue, func(i, j int) bool {
		a, b := queue[i], queue[j]
		if a.Urgency.rank() != b.Urgency.rank() {
			return a.Urgency.rank() < b.Urgency.rank()
		}
		if a.Ratio != b.Ratio {
			return a.Ratio > b.Ratio
		}
		return a.OrderID < b.OrderID
	})
}
