package procurement_test

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

	"github.com/odyssey-erp/odyssey-fulfillment/internal/procurement"
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
	procurement.NewHandler(nil, h.Procurement).MountRoutes(r)
	return r
}

func call(t *testing.T, router http.Handler, method, path, body string, out any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	if out != nil && rec.Code < 300 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func TestHandlerPurchaseToStock(t *testing.T) {
	h := memstore.NewHarness(memstore.Options{})
	router := newRouter(h)
	product := h.Product(t, "CABLE", "0")
	supplier, err := h.Directory.CreateSupplier(context.Background(), h.Scope, "Acme")
	require.NoError(t, err)

	var po procurement.PurchaseOrder
	body := fmt.Sprintf(`{"supplierId":%d,"lines":[{"productId":%d,"quantity":"20","unitPrice":"1.10"}]}`, supplier.ID, product.ID)
	require.Equal(t, http.StatusCreated, call(t, router, http.MethodPost, "/purchase-orders", body, &po))
	require.Equal(t, procurement.POStatusDraft, po.Status)
	base := fmt.Sprintf("/purchase-orders/%d", po.ID)

	require.Equal(t, http.StatusOK, call(t, router, http.MethodPost, base+"/submit", "", &po))
	require.Equal(t, http.StatusBadRequest, call(t, router, http.MethodPost, base+"/confirm", `{}`, nil))
	require.Equal(t, http.StatusOK, call(t, router, http.MethodPost, base+"/confirm", `{"confirmedDeliveryDate":"2030-01-15T00:00:00Z"}`, &po))
	require.Equal(t, procurement.POStatusConfirmed, po.Status)

	var receipt procurement.Receipt
	require.Equal(t, http.StatusCreated, call(t, router, http.MethodPost, base+"/receipts", `{"supplierDeliveryNote":"DN-1"}`, &receipt))
	require.Equal(t, procurement.ReceiptStatusInProgress, receipt.Status)

	var receipts []procurement.Receipt
	require.Equal(t, http.StatusOK, call(t, router, http.MethodGet, base+"/receipts", "", &receipts))
	require.Len(t, receipts, 1)

	rbase := fmt.Sprintf("/receipts/%d", receipt.ID)
	require.Equal(t, http.StatusOK, call(t, router, http.MethodPost, rbase+"/complete", "", &receipt))
	require.Equal(t, procurement.ReceiptStatusCompleted, receipt.Status)
	require.Equal(t, http.StatusConflict, call(t, router, http.MethodPost, rbase+"/complete", "", nil))
	require.True(t, h.Stock(t, product.ID).Equal(memstore.Dec(t, "20")))

	require.Equal(t, http.StatusOK, call(t, router, http.MethodGet, base, "", &po))
	require.Equal(t, procurement.POStatusCompleted, po.Status)
	require.Equal(t, http.StatusConflict, call(t, router, http.MethodDelete, rbase, "", nil))
}

func TestHandlerVarianceReview(t *testing.T) {
	h := memstore.NewHarness(memstore.Options{})
	router := newRouter(h)
	product := h.Product(t, "PIPE", "0")
	po := h.ConfirmedPO(t, procurement.LineInput{ProductID: product.ID, Quantity: memstore.Dec(t, "5"), UnitPrice: memstore.Dec(t, "10")})

	var receipt procurement.Receipt
	body := fmt.Sprintf(`{"lines":[{"purchaseOrderLineId":%d,"quantityReceived":"5","unitPriceReceived":"11","condition":"GOOD"}]}`, po.Lines[0].ID)
	require.Equal(t, http.StatusCreated, call(t, router, http.MethodPost, fmt.Sprintf("/purchase-orders/%d/receipts", po.ID), body, &receipt))
	require.True(t, receipt.HasVariances)
	require.Equal(t, procurement.ReceiptStatusPendingValidation, receipt.Status)

	rbase := fmt.Sprintf("/receipts/%d", receipt.ID)
	require.Equal(t, http.StatusConflict, call(t, router, http.MethodPost, rbase+"/complete", "", nil))
	require.Equal(t, http.StatusConflict, call(t, router, http.MethodPost, rbase+"/submit", "", nil))
	require.Equal(t, http.StatusBadRequest, call(t, router, http.MethodPost, rbase+"/approve", `{}`, nil))
	require.Equal(t, http.StatusOK, call(t, router, http.MethodPost, rbase+"/approve", `{"varianceNotes":"price rise agreed"}`, &receipt))
	require.Equal(t, procurement.ReceiptStatusValidated, receipt.Status)
	require.Equal(t, http.StatusOK, call(t, router, http.MethodPost, rbase+"/complete", "", &receipt))
	require.True(t, h.Stock(t, product.ID).Equal(memstore.Dec(t, "5")))
}

func TestHandlerDraftEditingAndCancel(t *testing.T) {
	h := memstore.NewHarness(memstore.Options{})
	router := newRouter(h)
	a := h.Product(t, "A", "0")
	b := h.Product(t, "B", "0")
	supplier, err := h.Directory.CreateSupplier(context.Background(), h.Scope, "Acme")
	require.NoError(t, err)

	var po procurement.PurchaseOrder
	require.Equal(t, http.StatusCreated, call(t, router, http.MethodPost, "/purchase-orders", fmt.Sprintf(`{"supplierId":%d}`, supplier.ID), &po))
	base := fmt.Sprintf("/purchase-orders/%d", po.ID)

	lines := fmt.Sprintf(`{"lines":[{"productId":%d,"quantity":"1","unitPrice":"3"},{"productId":%d,"quantity":"2","unitPrice":"4"}]}`, a.ID, b.ID)
	require.Equal(t, http.StatusOK, call(t, router, http.MethodPut, base+"/lines", lines, &po))
	require.Len(t, po.Lines, 2)

	var list []procurement.PurchaseOrder
	require.Equal(t, http.StatusOK, call(t, router, http.MethodGet, "/purchase-orders?status=DRAFT&supplier_id="+fmt.Sprint(supplier.ID), "", &list))
	require.Len(t, list, 1)
	require.Equal(t, http.StatusBadRequest, call(t, router, http.MethodGet, "/purchase-orders?supplier_id=x", "", nil))

	require.Equal(t, http.StatusBadRequest, call(t, router, http.MethodPost, base+"/cancel", `{"reason":""}`, nil))
	require.Equal(t, http.StatusOK, call(t, router, http.MethodPost, base+"/cancel", `{"reason":"budget freeze"}`, &po))
	require.Equal(t, procurement.POStatusCancelled, po.Status)
	require.Equal(t, http.StatusNotFound, call(t, router, http.MethodGet, "/purchase-orders/4242", "", nil))
}

func TestHandlerDeleteDraft(t *testing.T) {
	h := memstore.NewHarness(memstore.Options{})
	router := newRouter(h)
	supplier, err := h.Directory.CreateSupplier(context.Background(), h.Scope, "Acme")
	require.NoError(t, err)

	var po procurement.PurchaseOrder
	require.Equal(t, http.StatusCreated, call(t, router, http.MethodPost, "/purchase-orders", fmt.Sprintf(`{"supplierId":%d}`, supplier.ID), &po))
	require.Equal(t, http.StatusNoContent, call(t, router, http.MethodDelete, fmt.Sprintf("/purchase-orders/%d", po.ID), "", nil))
	require.Equal(t, http.StatusNotFound, call(t, router, http.MethodGet, fmt.Sprintf("/purchase-orders/%d", po.ID), "", nil))
}
