package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"kitchenflow/internal/model"
	"kitchenflow/internal/mw"
	"kitchenflow/internal/service"
)

type estimateRequest struct {
	Items []model.LineItem `json:"items"`
}

type orderForecastRequest struct {
	ProductIDs []string `json:"product_ids"`
}

func decodeEstimate(w http.ResponseWriter, r *http.Request) (string, []model.LineItem, bool) {
	tenantID, ok := mw.TenantID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return "", nil, false
	}

	var req estimateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return "", nil, false
	}
	return tenantID, req.Items, true
}

func EstimateHandler(estimator *service.EstimationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, items, ok := decodeEstimate(w, r)
		if !ok {
			return
		}

		est, err := estimator.EstimatePreparation(r.Context(), tenantID, items)
		if err != nil {
			writeError(w, "estimate", err)
			return
		}
		writeJSON(w, http.StatusOK, est)
	}
}

func StrategyEstimateHandler(strategies *service.Strategies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, items, ok := decodeEstimate(w, r)
		if !ok {
			return
		}

		res, err := strategies.Estimate(r.Context(), chi.URLParam(r, "strategy"), tenantID, items)
		if err != nil {
			writeError(w, "strategy estimate", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

type orderTransition func(ctx context.Context, tenantID, orderID string) (*model.Order, error)

func transitionHandler(op string, fn orderTransition) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.TenantID(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		order, err := fn(r.Context(), tenantID, chi.URLParam(r, "orderID"))
		if err != nil {
			writeError(w, op, err)
			return
		}
		writeJSON(w, http.StatusOK, order)
	}
}

func StartPreparationHandler(tracker *service.ProductionService) http.HandlerFunc {
	return transitionHandler("start preparation", tracker.StartPreparation)
}

func FinishPreparationHandler(tracker *service.ProductionService) http.HandlerFunc {
	return transitionHandler("finish preparation", tracker.FinishPreparation)
}

func RealtimeStatusHandler(tracker *service.ProductionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.TenantID(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		st, err := tracker.GetRealtimeStatus(r.Context(), tenantID, chi.URLParam(r, "orderID"))
		if err != nil {
			writeError(w, "realtime status", err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func QueueHandler(tracker *service.ProductionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.TenantID(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		queue, err := tracker.ListActiveProductionQueue(r.Context(), tenantID)
		if err != nil {
			writeError(w, "production queue", err)
			return
		}
		writeJSON(w, http.StatusOK, queue)
	}
}

// ProductForecastHandler accepts optional ?at=<RFC3339> and ?concurrency=<n>;
// they default to now and the current number of orders in preparation.
func ProductForecastHandler(forecaster *service.ForecastService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.TenantID(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		at := time.Now()
		if v := r.URL.Query().Get("at"); v != "" {
			parsed, err := time.Parse(time.RFC3339, v)
			if err != nil {
				http.Error(w, "invalid at", http.StatusBadRequest)
				return
			}
			at = parsed
		}

		var concurrency int
		if v := r.URL.Query().Get("concurrency"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				http.Error(w, "invalid concurrency", http.StatusBadRequest)
				return
			}
			concurrency = n
		} else {
			n, err := forecaster.CurrentConcurrency(r.Context(), tenantID)
			if err != nil {
				writeError(w, "product forecast", err)
				return
			}
			concurrency = n
		}

		fc, err := forecaster.ForecastProductTime(r.Context(), tenantID, chi.URLParam(r, "productID"), at, concurrency)
		if err != nil {
			writeError(w, "product forecast", err)
			return
		}
		writeJSON(w, http.StatusOK, fc)
	}
}

func OrderForecastHandler(forecaster *service.ForecastService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.TenantID(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var req orderForecastRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		fc, err := forecaster.ForecastOrderTotal(r.Context(), tenantID, req.ProductIDs)
		if err != nil {
			writeError(w, "order forecast", err)
			return
		}
		writeJSON(w, http.StatusOK, fc)
	}
}
