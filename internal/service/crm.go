package service

import (
	"context"
	"fmt"
	"time"

	"kitchenflow/internal/model"
	"kitchenflow/internal/repository"
)

const inactiveAfter = 30 * 24 * time.Hour

type CRMService struct {
	store repository.Store
	options
}

func NewCRMService(store repository.Store, opts ...Option) *CRMService {
	return &CRMService{store: store, options: newOptions(opts)}
}

// FollowUp raises a follow-up alert for every customer with no order in the
// last 30 days, unless an unread one is already open.
func (s *CRMService) FollowUp(ctx context.Context) (int, error) {
	created := 0
	err := forEachTenant(ctx, s.store.ListActiveTenants, s.logger, "crm-followup", func(ctx context.Context, t model.Tenant) error {
		customers, err := s.store.ListCustomerActivity(ctx, t.ID)
		if err != nil {
			return fmt.Errorf("list customers: %w", err)
		}
		now := s.clock()
		for _, c := range customers {
			if c.LastOrderAt != nil && now.Sub(*c.LastOrderAt) <= inactiveAfter {
				continue
			}
			exists, err := s.store.HasUnreadAlert(ctx, t.ID, model.AlertCRMFollowUp, c.CustomerID)
			if err != nil {
				return fmt.Errorf("check alert: %w", err)
			}
			if exists {
				continue
			}
			msg := fmt.Sprintf("%s has not ordered in over 30 days", c.Name)
			if c.LastOrderAt == nil {
				msg = fmt.Sprintf("%s has never ordered", c.Name)
			}
			ok, err := s.store.InsertAlert(ctx, model.Alert{
				TenantID:  t.ID,
				Type:      model.AlertCRMFollowUp,
				ItemKey:   c.CustomerID,
				Message:   msg,
				CreatedAt: now,
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
	s.logger.Info("crm follow-up finished", "alerts", created)
	return created, err
}
