package app

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/masterdata"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/observability"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/procurement"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/sales"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/testing/memstore"
	"github.com/odyssey-erp/odyssey-fulfillment/jobs"
)

func newTestRouter(t *testing.T) (http.Handler, *memstore.Harness) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := memstore.NewHarness(memstore.Options{})
	return NewRouter(RouterParams{
		Logger:             logger,
		Config:             &Config{RateLimitPerMinute: 1000},
		InventoryHandler:   inventory.NewHandler(logger, h.Inventory),
		ProcurementHandler: procurement.NewHandler(logger, h.Procurement),
		SalesHandler:       sales.NewHandler(logger, h.Sales),
		MasterDataHandler:  masterdata.NewHandler(logger, h.Directory),
		JobHandler:         jobs.NewHandler(nil, logger),
		Metrics:            observability.NewMetrics(),
	}), h
}

func apiRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(HeaderBusinessID, "1")
	req.Header.Set(HeaderActorID, "7")
	req.Header.Set(HeaderActorName, "Warehouse Lead")
	return req
}

func TestRouterOperationalEndpoints(t *testing.T) {
	router, _ := newTestRouter(t)

	for _, path := range []string{"/healthz", "/metrics", "/jobs/health"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestScopeHeadersRequired(t *testing.T) {
	router, _ := newTestRouter(t)

	cases := []struct {
		name    string
		headers map[string]string
	}{
		{"missing", map[string]string{}},
		{"missing actor", map[string]string{HeaderBusinessID: "1"}},
		{"malformed business", map[string]string{HeaderBusinessID: "acme", HeaderActorID: "7"}},
		{"zero actor", map[string]string{HeaderBusinessID: "1", HeaderActorID: "0"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/products/low-stock", nil)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestRouterScopesTenants(t *testing.T) {
	router, h := newTestRouter(t)
	p := h.Product(t, "TENANT-1", "3")

	path := "/api/v1/products/" + strconv.FormatInt(p.ID, 10) + "/stock"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, apiRequest(http.MethodGet, path, ""))
	require.Equal(t, http.StatusOK, rec.Code)
	var level inventory.StockLevel
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &level))
	require.Equal(t, p.ID, level.ProductID)

	req := apiRequest(http.MethodGet, path, "")
	req.Header.Set(HeaderBusinessID, "2")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouterMountsDirectoryAndOrders(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, apiRequest(http.MethodPost, "/api/v1/suppliers", `{"name":"Acme"}`))
	require.Equal(t, http.StatusCreated, rec.Code)
	var supplier masterdata.Supplier
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &supplier))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, apiRequest(http.MethodPost, "/api/v1/customers", `{"name":""}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	for _, path := range []string{"/api/v1/purchase-orders", "/api/v1/sales-orders"} {
		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, apiRequest(http.MethodGet, path, ""))
		require.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, apiRequest(http.MethodGet, "/api/v1/receipts/99", ""))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
