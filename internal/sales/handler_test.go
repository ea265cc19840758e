package sales_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/sales"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/testing/memstore"
)

func newRouter(h *memstore.Harness) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithScope(req.Context(), h.Scope)))
		})
	})
	r.Route("/sales-orders", sales.NewHandler(nil, h.Sales).MountRoutes)
	return r
}

func post(t *testing.T, router http.Handler, path, body string) (int, sales.SalesOrder) {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
	var order sales.SalesOrder
	if rec.Code < 300 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &order), rec.Body.String())
	}
	return rec.Code, order
}

func TestHandlerOrderToDelivery(t *testing.T) {
	h := memstore.NewHarness(memstore.Options{})
	router := newRouter(h)
	product := h.Product(t, "CHAIR", "8")
	customer, err := h.Directory.CreateCustomer(context.Background(), h.Scope, "Northwind")
	require.NoError(t, err)

	code, order := post(t, router, "/sales-orders", fmt.Sprintf(`{"customerId":%d,"priority":"HIGH","lines":[{"productId":%d,"quantity":"3","unitPrice":"45"}]}`, customer.ID, product.ID))
	require.Equal(t, http.StatusCreated, code)
	require.Equal(t, sales.PriorityHigh, order.Priority)
	base := fmt.Sprintf("/sales-orders/%d", order.ID)

	for _, step := range []struct {
		path string
		body string
		want sales.Status
	}{
		{"/submit", "", sales.StatusSubmitted},
		{"/confirm", "", sales.StatusConfirmed},
		{"/release", "", sales.StatusAwaitingPickup},
		{"/start-picking", "", sales.StatusPicking},
		{"/complete-picking", fmt.Sprintf(`{"lines":[{"lineId":%d,"quantityPicked":"3"}]}`, order.Lines[0].ID), sales.StatusPicked},
		{"/start-packing", "", sales.StatusPacking},
		{"/complete-packing", "", sales.StatusPacked},
		{"/ship", `{"carrier":"UPS","trackingNumber":"1Z999"}`, sales.StatusShipped},
		{"/deliver", "", sales.StatusDelivered},
	} {
		code, order = post(t, router, base+step.path, step.body)
		require.Equal(t, http.StatusOK, code, step.path)
		require.Equal(t, step.want, order.Status, step.path)
	}
	require.True(t, h.Stock(t, product.ID).Equal(memstore.Dec(t, "5")))
	require.Equal(t, "1Z999", order.TrackingNumber)
	h.VerifyAll(t)
}

func TestHandlerHoldResumeCancel(t *testing.T) {
	h := memstore.NewHarness(memstore.Options{})
	router := newRouter(h)
	product := h.Product(t, "DESK", "2")
	order := h.SubmittedSO(t, line(t, product.ID, "1", "300"))
	base := fmt.Sprintf("/sales-orders/%d", order.ID)

	code, _ := post(t, router, base+"/hold", `{}`)
	require.Equal(t, http.StatusBadRequest, code)
	code, order = post(t, router, base+"/hold", `{"reason":"credit check"}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, sales.StatusOnHold, order.Status)

	code, order = post(t, router, base+"/resume", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, sales.StatusSubmitted, order.Status)

	code, _ = post(t, router, base+"/ship", `{"carrier":"UPS"}`)
	require.Equal(t, http.StatusConflict, code)

	code, order = post(t, router, base+"/cancel", `{"reason":"customer withdrew"}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, sales.StatusCancelled, order.Status)
}

func TestHandlerConfirmWithoutStock(t *testing.T) {
	h := memstore.NewHarness(memstore.Options{})
	router := newRouter(h)
	product := h.Product(t, "SOFA", "1")
	order := h.SubmittedSO(t, line(t, product.ID, "4", "900"))

	code, _ := post(t, router, fmt.Sprintf("/sales-orders/%d/confirm", order.ID), "")
	require.Equal(t, http.StatusUnprocessableEntity, code)
}

func TestHandlerListGetDelete(t *testing.T) {
	h := memstore.NewHarness(memstore.Options{})
	router := newRouter(h)
	product := h.Product(t, "LAMP", "3")
	customer, err := h.Directory.CreateCustomer(context.Background(), h.Scope, "Contoso")
	require.NoError(t, err)

	code, draft := post(t, router, "/sales-orders", fmt.Sprintf(`{"customerId":%d,"lines":[{"productId":%d,"quantity":"1","unitPrice":"20"}]}`, customer.ID, product.ID))
	require.Equal(t, http.StatusCreated, code)
	code, _ = post(t, router, "/sales-orders", `{"customerId":1,"lines":[]}`)
	require.Equal(t, http.StatusBadRequest, code)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/sales-orders?status=DRAFT&customer_id=%d", customer.ID), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var orders []sales.SalesOrder
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &orders))
	require.Len(t, orders, 1)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/sales-orders/%d", draft.ID), nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/sales-orders/%d", draft.ID), nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
