package service

import (
	"context"
	"fmt"
	"time"

	"kitchenflow/internal/model"
	"kitchenflow/internal/repository"
)

const retentionPeriod = 30 * 24 * time.Hour

type RetentionService struct {
	store repository.Store
	options
}

func NewRetentionService(store repository.Store, opts ...Option) *RetentionService {
	return &RetentionService{store: store, options: newOptions(opts)}
}

// Purge deletes system and webhook logs older than 30 days, and read alerts
// older than 30 days, for every tenant including inactive ones. Unread
// alerts are kept regardless of age.
func (s *RetentionService) Purge(ctx context.Context) (int64, error) {
	var total int64
	err := forEachTenant(ctx, s.store.ListTenants, s.logger, "log-retention", func(ctx context.Context, t model.Tenant) error {
		cutoff := s.clock().Add(-retentionPeriod)

		logs, err := s.store.DeleteSystemLogsBefore(ctx, t.ID, cutoff)
		if err != nil {
			return err
		}
		hooks, err := s.store.DeleteWebhookLogsBefore(ctx, t.ID, cutoff)
		if err != nil {
			return err
		}
		alerts, err := s.store.DeleteReadAlertsBefore(ctx, t.ID, cutoff)
		if err != nil {
			return fmt.Errorf("read alerts: %w", err)
		}
		total += logs + hooks + alerts
		s.logger.Info("retention purged", "tenant", t.ID, "system_logs", logs, "webhook_logs", hooks, "alerts", alerts)
		return nil
	})
	return total, err
}
