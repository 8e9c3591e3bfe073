package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"kitchenflow/internal/handler"
	"kitchenflow/internal/model"
	"kitchenflow/internal/mw"
	"kitchenflow/internal/repository"
	"kitchenflow/internal/scheduler"
	"kitchenflow/internal/service"
)

const jwtSecret = "handler-test-secret"

var noon = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store  *repository.Memory
	router http.Handler
	token  string
	runs   int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: repository.NewMemory()}

	opts := []service.Option{service.WithClock(func() time.Time { return noon }), service.WithLocation(time.UTC)}
	estimator := service.NewEstimationService(f.store, opts...)
	tracker := service.NewProductionService(f.store, estimator, nil, opts...)
	forecaster := service.NewForecastService(f.store, opts...)
	strategies := service.NewStrategies(
		service.SimpleBlend{Engine: estimator},
		service.StageTiming{Stages: f.store},
	)
	dispatcher := service.NewWebhookDispatcher(f.store, time.Second, nil, opts...)

	sched := scheduler.New(scheduler.WithClock(func() time.Time { return noon }), scheduler.WithLocation(time.UTC))
	if err := sched.Register(scheduler.Job{
		Name:     "noop",
		Interval: time.Hour,
		Handler: func(context.Context) error {
			f.runs++
			return nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(mw.AuthMiddleware(jwtSecret))
		r.Post("/estimate", handler.EstimateHandler(estimator))
		r.Post("/estimate/{strategy}", handler.StrategyEstimateHandler(strategies))
		r.Post("/orders/{orderID}/start", handler.StartPreparationHandler(tracker))
		r.Post("/orders/{orderID}/finish", handler.FinishPreparationHandler(tracker))
		r.Get("/orders/{orderID}/status", handler.RealtimeStatusHandler(tracker))
		r.Get("/queue", handler.QueueHandler(tracker))
		r.Get("/forecast/products/{productID}", handler.ProductForecastHandler(forecaster))
		r.Post("/forecast/order", handler.OrderForecastHandler(forecaster))
	})
	r.Get("/admin/scheduler", handler.SchedulerStatusHandler(sched))
	r.Post("/admin/scheduler/jobs/{name}/run", handler.RunJobHandler(sched))
	r.Post("/admin/webhooks/retry", handler.RetryWebhooksHandler(dispatcher))
	f.router = r

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"tenant_id": "t1",
		"exp":       jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(jwtSecret))
	if err != nil {
		t.Fatal(err)
	}
	f.token = token
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+f.token)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestEstimateHandler(t *testing.T) {
	f := newFixture(t)
	f.store.PutProduct(model.Product{ID: "p1", TenantID: "t1", PreparationMinutes: 20})

	rec := f.do(t, http.MethodPost, "/estimate", `{"items":[{"product_id":"p1","name":"Pizza","quantity":1}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var est service.Estimate
	if err := json.NewDecoder(rec.Body).Decode(&est); err != nil {
		t.Fatal(err)
	}
	if est.PreparationMinutes != 20 || est.DeliveryMinutes != 35 {
		t.Errorf("estimate = %+v", est)
	}

	if rec := f.do(t, http.MethodPost, "/estimate", `{"items":`); rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d", rec.Code)
	}
}

func TestStrategyEstimateHandler(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		strategy string
		status   int
	}{
		{service.StrategyStageTiming, http.StatusOK},
		{service.StrategySimpleBlend, http.StatusOK},
		{"crystal_ball", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.strategy, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/estimate/"+tt.strategy, `{"items":[{"name":"x","quantity":1}]}`)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}

func TestPreparationHandlers(t *testing.T) {
	f := newFixture(t)
	f.store.PutOrder(model.Order{ID: "o1", TenantID: "t1", Status: model.StatusConfirmed,
		Items: []model.LineItem{{Name: "x", Quantity: 1}}})
	f.store.PutOrder(model.Order{ID: "o2", TenantID: "t1", Status: model.StatusPending})
	f.store.PutOrder(model.Order{ID: "foreign", TenantID: "t2", Status: model.StatusPending})

	steps := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{"finish before start", http.MethodPost, "/orders/o2/finish", http.StatusConflict},
		{"start", http.MethodPost, "/orders/o1/start", http.StatusOK},
		{"status", http.MethodGet, "/orders/o1/status", http.StatusOK},
		{"queue", http.MethodGet, "/queue", http.StatusOK},
		{"finish", http.MethodPost, "/orders/o1/finish", http.StatusOK},
		{"finish again", http.MethodPost, "/orders/o1/finish", http.StatusOK},
		{"other tenant", http.MethodPost, "/orders/foreign/start", http.StatusNotFound},
		{"missing", http.MethodGet, "/orders/nope/status", http.StatusNotFound},
	}
	for _, s := range steps {
		rec := f.do(t, s.method, s.path, "")
		if rec.Code != s.status {
			t.Fatalf("%s: status = %d, want %d: %s", s.name, rec.Code, s.status, rec.Body)
		}
	}

	if o, _ := f.store.Order("t1", "o1"); o.Status != model.StatusReady {
		t.Errorf("o1 status = %s", o.Status)
	}
}

func TestForecastHandlers(t *testing.T) {
	f := newFixture(t)
	f.store.PutProduct(model.Product{ID: "p1", TenantID: "t1", PreparationMinutes: 10})

	rec := f.do(t, http.MethodGet, "/forecast/products/p1?at=2024-03-04T09:00:00Z&concurrency=0", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var fc service.ProductForecast
	if err := json.NewDecoder(rec.Body).Decode(&fc); err != nil {
		t.Fatal(err)
	}
	if fc.EstimatedSeconds != 600 || fc.Basis != service.BasisDefault {
		t.Errorf("forecast = %+v", fc)
	}

	for path, want := range map[string]int{
		"/forecast/products/p1?at=yesterday":     http.StatusBadRequest,
		"/forecast/products/p1?concurrency=-1":   http.StatusBadRequest,
		"/forecast/products/ghost?concurrency=0": http.StatusNotFound,
	} {
		if rec := f.do(t, http.MethodGet, path, ""); rec.Code != want {
			t.Errorf("%s: status = %d, want %d", path, rec.Code, want)
		}
	}

	rec = f.do(t, http.MethodPost, "/forecast/order", `{"product_ids":["p1","p1"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("order forecast status = %d: %s", rec.Code, rec.Body)
	}
	var total service.OrderForecast
	if err := json.NewDecoder(rec.Body).Decode(&total); err != nil {
		t.Fatal(err)
	}
	// 600 plus the rush-hour 60, plus the 300 second buffer.
	if total.TotalSeconds != 960 || len(total.Products) != 1 {
		t.Errorf("order forecast = %+v", total)
	}
}

func TestTenantRoutesRequireToken(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/queue", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAdminHandlers(t *testing.T) {
	f := newFixture(t)

	if rec := f.do(t, http.MethodPost, "/admin/scheduler/jobs/noop/run", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("run status = %d", rec.Code)
	}
	if f.runs != 1 {
		t.Errorf("runs = %d, want 1", f.runs)
	}
	if rec := f.do(t, http.MethodPost, "/admin/scheduler/jobs/missing/run", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown job status = %d", rec.Code)
	}

	rec := f.do(t, http.MethodGet, "/admin/scheduler", "")
	var st scheduler.Status
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Running || len(st.Jobs) != 1 || st.Jobs[0].Runs != 1 || st.Jobs[0].LastRun == nil {
		t.Errorf("status = %+v", st)
	}

	rec = f.do(t, http.MethodPost, "/admin/webhooks/retry?tenant=t1", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != `{"delivered":0}` {
		t.Errorf("retry = %d %s", rec.Code, rec.Body)
	}
}

type pingStub struct{ err error }

func (p pingStub) PingContext(context.Context) error { return p.err }

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name   string
		deps   map[string]handler.Pinger
		status int
	}{
		{"all up", map[string]handler.Pinger{"database": pingStub{}, "amqp": pingStub{}}, http.StatusOK},
		{"broker down", map[string]handler.Pinger{"database": pingStub{}, "amqp": pingStub{errors.New("closed")}}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.HealthHandler(tt.deps)(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}
