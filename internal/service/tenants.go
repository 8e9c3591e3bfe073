package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"kitchenflow/internal/model"
)

type tenantLister func(ctx context.Context) ([]model.Tenant, error)

// forEachTenant runs fn for every tenant returned by list, in order. A
// failing tenant is logged and skipped; all failures are joined into the result.
func forEachTenant(ctx context.Context, list tenantLister, logger *slog.Logger, job string, fn func(ctx context.Context, t model.Tenant) error) error {
	tenants, err := list(ctx)
	if err != nil {
		return fmt.Errorf("list tenants: %w", err)
	}

	var errs []error
	for _, t := range tenants {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err := fn(ctx, t); err != nil {
			logger.Error("tenant sweep failed", "job", job, "tenant", t.ID, "error", err)
			errs = append(errs, fmt.Errorf("tenant %s: %w", t.ID, err))
		}
	}
	return errors.Join(errs...)
}
