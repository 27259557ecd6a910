package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bedhandler "github.com/jwalitptl/hms-api/internal/handler/bed"
	billinghandler "github.com/jwalitptl/hms-api/internal/handler/billing"
	"github.com/jwalitptl/hms-api/internal/handler/health"
	wardhandler "github.com/jwalitptl/hms-api/internal/handler/ward"
	"github.com/jwalitptl/hms-api/internal/middleware"
	"github.com/jwalitptl/hms-api/internal/repository/memory"
	"github.com/jwalitptl/hms-api/internal/service/bed"
	"github.com/jwalitptl/hms-api/internal/service/billing"
	"github.com/jwalitptl/hms-api/internal/service/ward"
	"github.com/jwalitptl/hms-api/pkg/auth"
	"github.com/jwalitptl/hms-api/pkg/metrics"
	"github.com/jwalitptl/hms-api/pkg/retry"
)

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type api struct {
	t      *testing.T
	engine *gin.Engine
	token  string
}

func newAPI(t *testing.T) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := prometheus.NewRegistry()
	m := metrics.New("hms", reg)
	store := memory.NewStore()
	rp := retry.Policy{Attempts: 2, InitialDelay: time.Millisecond}

	wardSvc := ward.NewService(store.Wards(), time.Minute, time.Minute, m, rp)
	bedSvc := bed.NewService(store.Beds(), wardSvc, m, rp)
	billingSvc := billing.NewService(store.Invoices(), bedSvc, m, rp, billing.Config{})

	verifier := auth.NewTokenVerifier("test-secret", "hms-api")
	token, err := verifier.Issue("reception-1", "receptionist", time.Hour)
	require.NoError(t, err)

	r := NewRouter(
		middleware.NewAuthMiddleware(verifier),
		health.NewHandler(nil),
		m,
		RouterConfig{CORSConfig: middleware.DefaultCORSConfig(), Timeout: 5 * time.Second, Gatherer: reg},
		wardhandler.NewHandler(wardSvc),
		bedhandler.NewHandler(bedSvc),
		billinghandler.NewHandler(billingSvc),
	)
	return &api{t: t, engine: r.Setup(), token: token}
}

func (a *api) do(method, path string, body interface{}) (int, envelope) {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(a.t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w.Code, env
}

func (a *api) mustData(code int, env envelope, want int, out interface{}) {
	a.t.Helper()
	require.Equal(a.t, want, code, "message: %s", env.Message)
	require.Equal(a.t, "success", env.Status)
	if out != nil {
		require.NoError(a.t, json.Unmarshal(env.Data, out))
	}
}

type idOnly struct {
	ID string `json:"id"`
}

func TestBedLifecycleOverHTTP(t *testing.T) {
	a := newAPI(t)

	var w idOnly
	code, env := a.do(http.MethodPost, "/api/v1/wards", map[string]interface{}{"name": "W1", "type": "general"})
	a.mustData(code, env, http.StatusCreated, &w)

	var b struct {
		ID         string  `json:"id"`
		Status     string  `json:"status"`
		RatePerDay float64 `json:"ratePerDay"`
	}
	code, env = a.do(http.MethodPost, "/api/v1/beds", map[string]interface{}{
		"bedNumber": "B1", "ward": w.ID, "ratePerDay": 2500, "features": []string{"oxygen"},
	})
	a.mustData(code, env, http.StatusCreated, &b)
	assert.Equal(t, "available", b.Status)
	assert.Equal(t, 2500.0, b.RatePerDay)

	assign := map[string]interface{}{"patientId": "6a1f0c3e-58b1-4f5e-9d2b-6f0f4f3b8a11", "admissionDate": "2024-01-01"}
	code, env = a.do(http.MethodPost, "/api/v1/beds/"+b.ID+"/assign", assign)
	a.mustData(code, env, http.StatusOK, &b)
	assert.Equal(t, "occupied", b.Status)

	code, env = a.do(http.MethodPost, "/api/v1/beds/"+b.ID+"/assign", assign)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "error", env.Status)

	var beds []idOnly
	code, env = a.do(http.MethodGet, "/api/v1/beds?status=occupied&ward="+w.ID, nil)
	a.mustData(code, env, http.StatusOK, &beds)
	assert.Len(t, beds, 1)

	code, env = a.do(http.MethodPost, "/api/v1/beds/"+b.ID+"/discharge", nil)
	a.mustData(code, env, http.StatusOK, &b)
	assert.Equal(t, "available", b.Status)

	code, _ = a.do(http.MethodPost, "/api/v1/beds/"+b.ID+"/maintenance", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = a.do(http.MethodDelete, "/api/v1/beds/"+b.ID+"/maintenance", nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = a.do(http.MethodGet, "/api/v1/beds/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = a.do(http.MethodGet, "/api/v1/beds/6a1f0c3e-58b1-4f5e-9d2b-6f0f4f3b8a11", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestBillingOverHTTP(t *testing.T) {
	a := newAPI(t)

	var inv struct {
		ID          string  `json:"id"`
		Status      string  `json:"status"`
		Subtotal    float64 `json:"subtotal"`
		TotalAmount float64 `json:"totalAmount"`
		PaidAmount  float64 `json:"paidAmount"`
		Items       []struct {
			Amount float64 `json:"amount"`
		} `json:"items"`
	}
	code, env := a.do(http.MethodPost, "/api/v1/billing", map[string]interface{}{
		"patientId": "6a1f0c3e-58b1-4f5e-9d2b-6f0f4f3b8a11", "dueDate": "2099-01-01",
	})
	a.mustData(code, env, http.StatusCreated, &inv)
	assert.Equal(t, "draft", inv.Status)

	code, env = a.do(http.MethodPut, "/api/v1/billing/"+inv.ID, map[string]interface{}{
		"items": []map[string]interface{}{
			{"description": "Room", "quantity": 3, "rate": 2500, "taxRate": 0, "discount": 0, "amount": 1},
		},
		"discount": 500,
	})
	a.mustData(code, env, http.StatusOK, &inv)
	assert.Equal(t, 7500.0, inv.Items[0].Amount, "client amount is ignored")
	assert.Equal(t, 7500.0, inv.Subtotal)
	assert.Equal(t, 7000.0, inv.TotalAmount)

	code, env = a.do(http.MethodPost, "/api/v1/billing/"+inv.ID+"/payments", map[string]interface{}{
		"amount": 8000, "paymentMethod": "cash",
	})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = a.do(http.MethodPost, "/api/v1/billing/"+inv.ID+"/payments", map[string]interface{}{
		"amount": 7000, "paymentMethod": "cash",
	})
	a.mustData(code, env, http.StatusOK, &inv)
	assert.Equal(t, "paid", inv.Status)
	assert.Equal(t, 7000.0, inv.PaidAmount)

	code, _ = a.do(http.MethodPost, "/api/v1/billing/"+inv.ID+"/status", map[string]interface{}{"status": "cancelled"})
	assert.Equal(t, http.StatusConflict, code)

	var summary struct {
		TotalBilled      float64 `json:"totalBilled"`
		TotalPaid        float64 `json:"totalPaid"`
		TotalOutstanding float64 `json:"totalOutstanding"`
		Count            int     `json:"count"`
	}
	code, env = a.do(http.MethodGet, "/api/v1/billing/summary", nil)
	a.mustData(code, env, http.StatusOK, &summary)
	assert.Equal(t, 1, summary.Count)
	assert.Equal(t, 7000.0, summary.TotalPaid)
	assert.Equal(t, 0.0, summary.TotalOutstanding)

	var list []idOnly
	code, env = a.do(http.MethodGet, "/api/v1/billing?status=paid&fromDate=2000-01-01&toDate=2099-12-31", nil)
	a.mustData(code, env, http.StatusOK, &list)
	assert.Len(t, list, 1)

	code, _ = a.do(http.MethodGet, "/api/v1/billing?fromDate=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestBillingItemsAndRoomChargesOverHTTP(t *testing.T) {
	a := newAPI(t)

	var w, b, inv idOnly
	code, env := a.do(http.MethodPost, "/api/v1/wards", map[string]interface{}{"name": "ICU", "type": "icu"})
	a.mustData(code, env, http.StatusCreated, &w)
	code, env = a.do(http.MethodPost, "/api/v1/beds", map[string]interface{}{"bedNumber": "I-1", "ward": w.ID, "ratePerDay": 4000})
	a.mustData(code, env, http.StatusCreated, &b)
	code, env = a.do(http.MethodPost, "/api/v1/billing", map[string]interface{}{
		"patientId": "6a1f0c3e-58b1-4f5e-9d2b-6f0f4f3b8a11", "bedId": b.ID,
	})
	a.mustData(code, env, http.StatusCreated, &inv)

	var full struct {
		TotalAmount float64 `json:"totalAmount"`
		Items       []struct {
			Category string  `json:"category"`
			Amount   float64 `json:"amount"`
		} `json:"items"`
	}
	code, env = a.do(http.MethodPost, "/api/v1/billing/"+inv.ID+"/room-charges", map[string]interface{}{"days": 2})
	a.mustData(code, env, http.StatusOK, &full)
	require.Len(t, full.Items, 1)
	assert.Equal(t, "room", full.Items[0].Category)
	assert.Equal(t, 8000.0, full.TotalAmount)

	code, env = a.do(http.MethodPost, "/api/v1/billing/"+inv.ID+"/items", map[string]interface{}{
		"description": "Dressing", "quantity": 2, "rate": 100, "taxRate": 10,
	})
	a.mustData(code, env, http.StatusOK, &full)
	assert.Equal(t, 8220.0, full.TotalAmount)

	code, _ = a.do(http.MethodPost, "/api/v1/billing/"+inv.ID+"/items", map[string]interface{}{
		"description": "Bad", "quantity": 1, "rate": 100, "taxRate": 150,
	})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = a.do(http.MethodDelete, "/api/v1/billing/"+inv.ID+"/items/0", nil)
	a.mustData(code, env, http.StatusOK, &full)
	assert.Equal(t, 220.0, full.TotalAmount)

	code, env = a.do(http.MethodPost, "/api/v1/billing/"+inv.ID+"/discount", map[string]interface{}{"amount": 20})
	a.mustData(code, env, http.StatusOK, &full)
	assert.Equal(t, 200.0, full.TotalAmount)

	code, _ = a.do(http.MethodPost, "/api/v1/billing/"+inv.ID+"/status", map[string]interface{}{"status": "paid"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestMutationsRequireToken(t *testing.T) {
	a := newAPI(t)
	a.token = ""

	code, _ := a.do(http.MethodGet, "/api/v1/wards", nil)
	assert.Equal(t, http.StatusOK, code)

	code, env := a.do(http.MethodPost, "/api/v1/wards", map[string]interface{}{"name": "W1", "type": "general"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "error", env.Status)

	code, _ = a.do(http.MethodGet, "/api/v1/health/live", nil)
	assert.Equal(t, http.StatusOK, code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "hms_http_requests_total")
}
