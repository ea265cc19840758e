package inventory_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/testing/memstore"
)

func newInventoryRouter(h *memstore.Harness) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithScope(req.Context(), h.Scope)))
		})
	})
	r.Route("/products", inventory.NewHandler(nil, h.Inventory).MountRoutes)
	return r
}

func do(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandlerProductLifecycle(t *testing.T) {
	h := memstore.NewHarness(memstore.Options{})
	router := newInventoryRouter(h)

	rec := do(t, router, http.MethodPost, "/products", `{"sku":"BOLT-8","name":"Bolt M8","minimumStockLevel":"5","costPerUnit":"0.25"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var product inventory.Product
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &product))
	require.Equal(t, "BOLT-8", product.SKU)
	base := "/products/" + strconv.FormatInt(product.ID, 10)

	rec = do(t, router, http.MethodPost, base+"/adjustments", `{"quantity":"12","direction":"INCREASE","note":"count"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodPost, base+"/transfers", `{"quantity":"2","direction":"DECREASE"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var movement inventory.StockMovement
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &movement))
	require.Equal(t, inventory.MovementTransfer, movement.Type)
	require.Equal(t, "-2", movement.Quantity.String())

	rec = do(t, router, http.MethodGet, base+"/stock", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var level inventory.StockLevel
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &level))
	require.Equal(t, "10", level.CurrentStock.String())
	require.False(t, level.LowStock)

	rec = do(t, router, http.MethodGet, base+"/movements?from=2000-01-01", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var movements []inventory.StockMovement
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &movements))
	require.Len(t, movements, 2)

	rec = do(t, router, http.MethodGet, base+"/ledger-check", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var report inventory.LedgerReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.True(t, report.Consistent)
	require.Equal(t, 2, report.Movements)
}

func TestHandlerRejectsBadInput(t *testing.T) {
	h := memstore.NewHarness(memstore.Options{})
	router := newInventoryRouter(h)
	p := h.Product(t, "NUT", "1")
	base := "/products/" + strconv.FormatInt(p.ID, 10)

	rec := do(t, router, http.MethodPost, "/products", `{"name":"no sku"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, base+"/adjustments", `{"quantity":"1","direction":"SIDEWAYS"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, base+"/adjustments", `{"quantity":"5","direction":"DECREASE"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, router, http.MethodGet, "/products/abc/stock", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodGet, "/products/999/stock", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodGet, base+"/movements?to=tomorrow", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerLowStock(t *testing.T) {
	h := memstore.NewHarness(memstore.Options{})
	router := newInventoryRouter(h)
	low := h.Product(t, "LOW", "1")
	h.Product(t, "PLENTY", "50")

	rec := do(t, router, http.MethodGet, "/products/low-stock?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var products []inventory.Product
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &products))
	require.Len(t, products, 1)
	require.Equal(t, low.ID, products[0].ID)
}
