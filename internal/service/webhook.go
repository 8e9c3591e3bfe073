package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"kitchenflow/internal/metrics"
	"kitchenflow/internal/model"
	"kitchenflow/internal/repository"
)

const (
	MaxDeliveryAttempts = 3
	retryBatchSize      = 100
	maxResponseBytes    = 1024

	SignatureHeader    = "X-Webhook-Signature"
	EventHeader        = "X-Webhook-Event"
	DeliveryHeader     = "X-Webhook-Delivery"
	RetryAttemptHeader = "X-Webhook-Retry-Attempt"
)

// WebhookPayload is the wire body of every webhook POST.
type WebhookPayload struct {
	Event     string    `json:"event"`
	TenantID  string    `json:"tenantId"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

type WebhookDispatcher struct {
	store   repository.Store
	client  *http.Client
	limiter *rate.Limiter
	options
}

// NewWebhookDispatcher builds a dispatcher. A nil limiter leaves retries unthrottled.
func NewWebhookDispatcher(store repository.Store, timeout time.Duration, limiter *rate.Limiter, opts ...Option) *WebhookDispatcher {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &WebhookDispatcher{
		store:   store,
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
		options: newOptions(opts),
	}
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

type postResult struct {
	status   model.DeliveryStatus
	code     int
	response string
}

func (d *WebhookDispatcher) post(ctx context.Context, cfg *model.WebhookConfig, event, deliveryID string, body []byte, attempt int) postResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return postResult{status: model.DeliveryError, response: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, event)
	req.Header.Set(DeliveryHeader, deliveryID)
	if cfg.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(cfg.Secret, body))
	}
	if attempt > 1 {
		req.Header.Set(RetryAttemptHeader, strconv.Itoa(attempt))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return postResult{status: model.DeliveryError, response: err.Error()}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	res := postResult{code: resp.StatusCode, response: string(respBody), status: model.DeliveryFailure}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		res.status = model.DeliverySuccess
	}
	return res
}

// Send delivers event to the tenant's webhook and records the outcome. It
// returns false without error when the tenant has no webhook configured.
// Delivery failures are recorded, not returned; the error covers only
// serialization and persistence.
func (d *WebhookDispatcher) Send(ctx context.Context, tenantID, event string, data any) (bool, error) {
	cfg, err := d.store.GetWebhookConfig(ctx, tenantID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get webhook config: %w", err)
	}

	now := d.clock()
	body, err := json.Marshal(WebhookPayload{Event: event, TenantID: tenantID, Data: data, Timestamp: now})
	if err != nil {
		return false, fmt.Errorf("marshal payload: %w", err)
	}

	delivery := model.WebhookDelivery{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Event:     event,
		Payload:   body,
		Attempts:  1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	res := d.post(ctx, cfg, event, delivery.ID, body, 1)
	delivery.Status, delivery.StatusCode, delivery.Response = res.status, res.code, res.response

	metrics.WebhookDeliveriesTotal.WithLabelValues(string(res.status), "false").Inc()
	d.logger.Info("webhook delivery",
		"tenant", tenantID, "event", event, "delivery", delivery.ID,
		"status", res.status, "code", res.code, "attempt", 1)

	if err := d.store.InsertDelivery(ctx, delivery); err != nil {
		return res.status == model.DeliverySuccess, fmt.Errorf("record delivery: %w", err)
	}
	return res.status == model.DeliverySuccess, nil
}

// RetryFailed re-posts up to 100 failed deliveries with fewer than three
// attempts, oldest first, and returns how many succeeded. An empty tenantID
// sweeps every tenant. Retries resend the stored payload bytes unchanged.
func (d *WebhookDispatcher) RetryFailed(ctx context.Context, tenantID string) (int, error) {
	rows, err := d.store.ListRetryable(ctx, tenantID, MaxDeliveryAttempts, retryBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list retryable: %w", err)
	}

	var errs []error
	delivered := 0
	for _, row := range rows {
		if err := d.limiter.Wait(ctx); err != nil {
			errs = append(errs, err)
			break
		}

		attempt := row.Attempts + 1
		cfg, err := d.store.GetWebhookConfig(ctx, row.TenantID)
		var res postResult
		switch {
		case errors.Is(err, repository.ErrNotFound):
			res = postResult{status: model.DeliveryError, response: "webhook not configured"}
		case err != nil:
			errs = append(errs, fmt.Errorf("tenant %s: get webhook config: %w", row.TenantID, err))
			continue
		default:
			res = d.post(ctx, cfg, row.Event, row.ID, row.Payload, attempt)
		}

		row.Status, row.StatusCode, row.Response = res.status, res.code, res.response
		row.Attempts = attempt
		row.UpdatedAt = d.clock()
		if err := d.store.UpdateDelivery(ctx, row); err != nil {
			errs = append(errs, fmt.Errorf("delivery %s: %w", row.ID, err))
			continue
		}

		metrics.WebhookDeliveriesTotal.WithLabelValues(string(res.status), "true").Inc()
		d.logger.Info("webhook retry",
			"tenant", row.TenantID, "event", row.Event, "delivery", row.ID,
			"status", res.status, "code", res.code, "attempt", attempt)
		if res.status == model.DeliverySuccess {
			delivered++
		}
	}

	d.logger.Info("webhook retry sweep finished", "tenant", tenantID, "selected", len(rows), "delivered", delivered)
	return delivered, errors.Join(errs...)
}
