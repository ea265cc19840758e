package procurement_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/outbox"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/procurement"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/testing/memstore"
)

func qty(t *testing.T, v string) *decimal.Decimal {
	d := memstore.Dec(t, v)
	return &d
}

func TestPurchaseOrderLifecycleGuards(t *testing.T) {
	ctx := context.Background()
	h := memstore.NewHarness(memstore.Options{})
	product := h.Product(t, "WIDGET", "0")
	supplier, err := h.Directory.CreateSupplier(ctx, h.Scope, "Acme")
	require.NoError(t, err)

	po, err := h.Procurement.CreatePurchaseOrder(ctx, h.Scope, procurement.CreatePurchaseOrderInput{
		SupplierID:   supplier.ID,
		Lines:        []procurement.LineInput{{ProductID: product.ID, Quantity: memstore.Dec(t, "10"), UnitPrice: memstore.Dec(t, "2.50")}},
		TaxAmount:    memstore.Dec(t, "1.00"),
		ShippingCost: memstore.Dec(t, "4.00"),
	})
	require.NoError(t, err)
	require.Equal(t, procurement.POStatusDraft, po.Status)
	require.Equal(t, "PO-000001", po.OrderNumber)
	require.True(t, po.Total().Equal(memstore.Dec(t, "30")))

	_, err = h.Procurement.ConfirmPurchaseOrder(ctx, h.Scope, po.ID, time.Time{})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = h.Procurement.SubmitPurchaseOrder(ctx, h.Scope, po.ID)
	require.NoError(t, err)
	_, err = h.Procurement.SubmitPurchaseOrder(ctx, h.Scope, po.ID)
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)

	err = h.Procurement.DeletePurchaseOrder(ctx, h.Scope, po.ID)
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)

	_, err = h.Procurement.UpdateDraftLines(ctx, h.Scope, po.ID, nil)
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)
}

func TestSubmitRequiresPositiveLines(t *testing.T) {
	ctx := context.Background()
	h := memstore.NewHarness(memstore.Options{})
	product := h.Product(t, "WIDGET", "0")
	supplier, err := h.Directory.CreateSupplier(ctx, h.Scope, "Acme")
	require.NoError(t, err)

	po, err := h.Procurement.CreatePurchaseOrder(ctx, h.Scope, procurement.CreatePurchaseOrderInput{SupplierID: supplier.ID})
	require.NoError(t, err)
	_, err = h.Procurement.SubmitPurchaseOrder(ctx, h.Scope, po.ID)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = h.Procurement.UpdateDraftLines(ctx, h.Scope, po.ID, []procurement.LineInput{{ProductID: product.ID, Quantity: decimal.Zero, UnitPrice: decimal.NewFromInt(1)}})
	require.NoError(t, err)
	_, err = h.Procurement.SubmitPurchaseOrder(ctx, h.Scope, po.ID)
	require.ErrorIs(t, err, shared.ErrValidation)

	unscoped := shared.Scope{BusinessID: h.Scope.BusinessID}
	_, err = h.Procurement.UpdateDraftLines(ctx, unscoped, po.ID, []procurement.LineInput{{ProductID: product.ID, Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(1)}})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.ErrorIs(t, h.Procurement.DeletePurchaseOrder(ctx, unscoped, po.ID), shared.ErrValidation)
	require.ErrorIs(t, h.Procurement.DeleteReceipt(ctx, shared.Scope{}, 1), shared.ErrValidation)
	po, err = h.Procurement.GetPurchaseOrder(ctx, h.Scope, po.ID)
	require.NoError(t, err)
	require.True(t, po.Lines[0].QuantityOrdered.IsZero(), "rejected edit must not apply")

	require.NoError(t, h.Procurement.DeletePurchaseOrder(ctx, h.Scope, po.ID))
	_, err = h.Procurement.GetPurchaseOrder(ctx, h.Scope, po.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCreatePurchaseOrderChecksReferences(t *testing.T) {
	ctx := context.Background()
	h := memstore.NewHarness(memstore.Options{})
	product := h.Product(t, "WIDGET", "0")

	_, err := h.Procurement.CreatePurchaseOrder(ctx, h.Scope, procurement.CreatePurchaseOrderInput{
		SupplierID: 999,
		Lines:      []procurement.LineInput{{ProductID: product.ID, Quantity: decimal.NewFromInt(1)}},
	})
	require.ErrorIs(t, err, shared.ErrNotFound)

	supplier, err := h.Directory.CreateSupplier(ctx, h.Scope, "Acme")
	require.NoError(t, err)
	_, err = h.Procurement.CreatePurchaseOrder(ctx, h.Scope, procurement.CreatePurchaseOrderInput{
		SupplierID: supplier.ID,
		Lines:      []procurement.LineInput{{ProductID: 12345, Quantity: decimal.NewFromInt(1)}},
	})
	require.ErrorIs(t, err, shared.ErrNotFound)

	other := h.Scope
	other.BusinessID = 2
	_, err = h.Procurement.CreatePurchaseOrder(ctx, other, procurement.CreatePurchaseOrderInput{
		SupplierID: supplier.ID,
		Lines:      []procurement.LineInput{{ProductID: product.ID, Quantity: decimal.NewFromInt(1)}},
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestScenarioPartialThenFullReceipt(t *testing.T) {
	ctx := context.Background()
	h := memstore.NewHarness(memstore.Options{})
	product := h.Product(t, "BOLT", "3")
	po := h.ConfirmedPO(t, procurement.LineInput{ProductID: product.ID, Quantity: memstore.Dec(t, "100"), UnitPrice: memstore.Dec(t, "5")})
	lineID := po.Lines[0].ID

	first, err := h.Procurement.CreateReceipt(ctx, h.Scope, procurement.CreateReceiptInput{
		PurchaseOrderID: po.ID,
		Lines:           []procurement.ReceiptLineInput{{PurchaseOrderLineID: lineID, QuantityReceived: qty(t, "60"), Condition: procurement.ConditionGood}},
	})
	require.NoError(t, err)
	require.False(t, first.HasVariances)
	require.Equal(t, procurement.ReceiptStatusInProgress, first.Status)
	require.Equal(t, "GRN-000001", first.ReceiptNumber)

	po, err = h.Procurement.GetPurchaseOrder(ctx, h.Scope, po.ID)
	require.NoError(t, err)
	require.Equal(t, procurement.POStatusReceiving, po.Status)

	first, err = h.Procurement.CompleteReceipt(ctx, h.Scope, first.ID)
	require.NoError(t, err)
	require.Equal(t, procurement.ReceiptStatusCompleted, first.Status)
	require.NotNil(t, first.CompletedAt)

	po, err = h.Procurement.GetPurchaseOrder(ctx, h.Scope, po.ID)
	require.NoError(t, err)
	require.Equal(t, procurement.POStatusPartiallyReceived, po.Status)
	require.Equal(t, procurement.LineStatusPartiallyReceived, po.Lines[0].Status)
	require.True(t, po.Lines[0].Outstanding().Equal(memstore.Dec(t, "40")))
	require.True(t, h.Stock(t, product.ID).Equal(memstore.Dec(t, "63")))

	movements := h.Store.Movements(product.ID)
	require.Len(t, movements, 2)
	last := movements[1]
	require.Equal(t, inventory.MovementStockIn, last.Type)
	require.True(t, last.PreviousStock.Equal(memstore.Dec(t, "3")))
	require.True(t, last.NewStock.Equal(memstore.Dec(t, "63")))
	require.Equal(t, inventory.ReferencePurchaseReceipt, last.Reference.Type)
	require.Equal(t, first.ID, last.Reference.ID)

	second, err := h.Procurement.CreateReceipt(ctx, h.Scope, procurement.CreateReceiptInput{PurchaseOrderID: po.ID})
	require.NoError(t, err)
	require.Len(t, second.Lines, 1)
	require.True(t, second.Lines[0].QuantityReceived.Equal(memstore.Dec(t, "40")))
	_, err = h.Procurement.CompleteReceipt(ctx, h.Scope, second.ID)
	require.NoError(t, err)

	po, err = h.Procurement.GetPurchaseOrder(ctx, h.Scope, po.ID)
	require.NoError(t, err)
	require.Equal(t, procurement.POStatusCompleted, po.Status)
	require.Equal(t, procurement.LineStatusFullyReceived, po.Lines[0].Status)
	require.True(t, h.Stock(t, product.ID).Equal(memstore.Dec(t, "103")))
	h.VerifyAll(t)

	_, err = h.Procurement.CreateReceipt(ctx, h.Scope, procurement.CreateReceiptInput{PurchaseOrderID: po.ID})
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)
}

func TestScenarioPriceVarianceNeedsNotes(t *testing.T) {
	ctx := context.Background()
	h := memstore.NewHarness(memstore.Options{})
	product := h.Product(t, "NUT", "0")
	po := h.ConfirmedPO(t, procurement.LineInput{ProductID: product.ID, Quantity: memstore.Dec(t, "10"), UnitPrice: memstore.Dec(t, "5.00")})

	receipt, err := h.Procurement.CreateReceipt(ctx, h.Scope, procurement.CreateReceiptInput{
		PurchaseOrderID: po.ID,
		Lines: []procurement.ReceiptLineInput{{
			PurchaseOrderLineID: po.Lines[0].ID,
			UnitPriceReceived:   decimal.NewNullDecimal(memstore.Dec(t, "5.50")),
		}},
	})
	require.NoError(t, err)
	require.True(t, receipt.HasVariances)
	require.Equal(t, procurement.ReceiptStatusPendingValidation, receipt.Status)
	require.True(t, receipt.Lines[0].PriceVariance.Equal(memstore.Dec(t, "0.50")))

	_, err = h.Procurement.CompleteReceipt(ctx, h.Scope, receipt.ID)
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)

	_, err = h.Procurement.ApproveReceipt(ctx, h.Scope, receipt.ID, "  ")
	require.ErrorIs(t, err, shared.ErrValidation)

	receipt, err = h.Procurement.ApproveReceipt(ctx, h.Scope, receipt.ID, "price increase confirmed by supplier")
	require.NoError(t, err)
	require.Equal(t, procurement.ReceiptStatusValidated, receipt.Status)

	receipt, err = h.Procurement.CompleteReceipt(ctx, h.Scope, receipt.ID)
	require.NoError(t, err)
	require.Equal(t, procurement.ReceiptStatusCompleted, receipt.Status)
	require.True(t, h.Stock(t, product.ID).Equal(memstore.Dec(t, "10")))
}

func TestCompleteTwiceAppliesStockOnce(t *testing.T) {
	ctx := context.Background()
	h := memstore.NewHarness(memstore.Options{})
	product := h.Product(t, "GEAR", "0")
	po := h.ConfirmedPO(t, procurement.LineInput{ProductID: product.ID, Quantity: memstore.Dec(t, "8"), UnitPrice: memstore.Dec(t, "1")})

	receipt, err := h.Procurement.CreateReceipt(ctx, h.Scope, procurement.CreateReceiptInput{PurchaseOrderID: po.ID})
	require.NoError(t, err)
	_, err = h.Procurement.CompleteReceipt(ctx, h.Scope, receipt.ID)
	require.NoError(t, err)

	_, err = h.Procurement.CompleteReceipt(ctx, h.Scope, receipt.ID)
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)
	require.True(t, h.Stock(t, product.ID).Equal(memstore.Dec(t, "8")))
	require.Len(t, h.Store.Movements(product.ID), 1)

	err = h.Procurement.DeleteReceipt(ctx, h.Scope, receipt.ID)
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)

	var completed int
	for _, e := range h.Store.Events() {
		if e.EventType == outbox.EventReceiptCompleted {
			completed++
		}
	}
	require.Equal(t, 1, completed)
}

func TestReceiptRejectsOverReceiptUnlessAllowed(t *testing.T) {
	ctx := context.Background()
	h := memstore.NewHarness(memstore.Options{})
	product := h.Product(t, "PIPE", "0")
	po := h.ConfirmedPO(t, procurement.LineInput{ProductID: product.ID, Quantity: memstore.Dec(t, "5"), UnitPrice: memstore.Dec(t, "1")})
	line := po.Lines[0].ID

	_, err := h.Procurement.CreateReceipt(ctx, h.Scope, procurement.CreateReceiptInput{
		PurchaseOrderID: po.ID,
		Lines:           []procurement.ReceiptLineInput{{PurchaseOrderLineID: line, QuantityReceived: qty(t, "6")}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = h.Procurement.CreateReceipt(ctx, h.Scope, procurement.CreateReceiptInput{
		PurchaseOrderID: po.ID,
		Lines:           []procurement.ReceiptLineInput{{PurchaseOrderLineID: line, QuantityReceived: qty(t, "-1")}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = h.Procurement.CreateReceipt(ctx, h.Scope, procurement.CreateReceiptInput{
		PurchaseOrderID: po.ID,
		Lines:           []procurement.ReceiptLineInput{{PurchaseOrderLineID: line, QuantityReceived: qty(t, "0")}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	lenient := memstore.NewHarness(memstore.Options{AllowOverReceipt: true})
	p2 := lenient.Product(t, "PIPE", "0")
	po2 := lenient.ConfirmedPO(t, procurement.LineInput{ProductID: p2.ID, Quantity: memstore.Dec(t, "5"), UnitPrice: memstore.Dec(t, "1")})
	receipt, err := lenient.Procurement.CreateReceipt(ctx, lenient.Scope, procurement.CreateReceiptInput{
		PurchaseOrderID: po2.ID,
		Lines:           []procurement.ReceiptLineInput{{PurchaseOrderLineID: po2.Lines[0].ID, QuantityReceived: qty(t, "6")}},
	})
	require.NoError(t, err)
	require.True(t, receipt.HasVariances)
	require.True(t, receipt.Lines[0].QuantityVariance.Equal(memstore.Dec(t, "1")))
}

func TestConcurrentReceiptsCannotOverReceive(t *testing.T) {
	ctx := context.Background()
	h := memstore.NewHarness(memstore.Options{})
	product := h.Product(t, "CABLE", "0")
	po := h.ConfirmedPO(t, procurement.LineInput{ProductID: product.ID, Quantity: memstore.Dec(t, "10"), UnitPrice: memstore.Dec(t, "1")})

	a, err := h.Procurement.CreateReceipt(ctx, h.Scope, procurement.CreateReceiptInput{PurchaseOrderID: po.ID})
	require.NoError(t, err)
	b, err := h.Procurement.CreateReceipt(ctx, h.Scope, procurement.CreateReceiptInput{PurchaseOrderID: po.ID})
	require.NoError(t, err)

	_, err = h.Procurement.CompleteReceipt(ctx, h.Scope, a.ID)
	require.NoError(t, err)
	_, err = h.Procurement.CompleteReceipt(ctx, h.Scope, b.ID)
	require.Error(t, err)

	po, err = h.Procurement.GetPurchaseOrder(ctx, h.Scope, po.ID)
	require.NoError(t, err)
	require.True(t, po.Lines[0].QuantityReceived.Equal(memstore.Dec(t, "10")))
	require.True(t, h.Stock(t, product.ID).Equal(memstore.Dec(t, "10")))
	h.VerifyAll(t)
}

func TestRejectLeavesStockUntouched(t *testing.T) {
	ctx := context.Background()
	h := memstore.NewHarness(memstore.Options{})
	product := h.Product(t, "VALVE", "2")
	po := h.ConfirmedPO(t, procurement.LineInput{ProductID: product.ID, Quantity: memstore.Dec(t, "4"), UnitPrice: memstore.Dec(t, "3")})

	receipt, err := h.Procurement.CreateReceipt(ctx, h.Scope, procurement.CreateReceiptInput{PurchaseOrderID: po.ID})
	require.NoError(t, err)
	receipt, err = h.Procurement.SubmitReceipt(ctx, h.Scope, receipt.ID)
	require.NoError(t, err)
	require.Equal(t, procurement.ReceiptStatusPendingValidation, receipt.Status)

	_, err = h.Procurement.RejectReceipt(ctx, h.Scope, receipt.ID, "")
	require.ErrorIs(t, err, shared.ErrValidation)
	receipt, err = h.Procurement.RejectReceipt(ctx, h.Scope, receipt.ID, "wrong goods")
	require.NoError(t, err)
	require.Equal(t, procurement.ReceiptStatusRejected, receipt.Status)

	_, err = h.Procurement.CompleteReceipt(ctx, h.Scope, receipt.ID)
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)
	require.True(t, h.Stock(t, product.ID).Equal(memstore.Dec(t, "2")))

	require.NoError(t, h.Procurement.DeleteReceipt(ctx, h.Scope, receipt.ID))
	receipts, err := h.Procurement.ListReceipts(ctx, h.Scope, po.ID)
	require.NoError(t, err)
	require.Empty(t, receipts)
}

func TestShortShipClosureCompletesOrder(t *testing.T) {
	ctx := context.Background()
	h := memstore.NewHarness(memstore.Options{})
	a := h.Product(t, "A", "0")
	b := h.Product(t, "B", "0")
	po := h.ConfirmedPO(t,
		procurement.LineInput{ProductID: a.ID, Quantity: memstore.Dec(t, "10"), UnitPrice: memstore.Dec(t, "1")},
		procurement.LineInput{ProductID: b.ID, Quantity: memstore.Dec(t, "10"), UnitPrice: memstore.Dec(t, "1")},
	)

	receipt, err := h.Procurement.CreateReceipt(ctx, h.Scope, procurement.CreateReceiptInput{
		PurchaseOrderID: po.ID,
		Lines: []procurement.ReceiptLineInput{
			{PurchaseOrderLineID: po.Lines[0].ID},
			{PurchaseOrderLineID: po.Lines[1].ID, QuantityReceived: qty(t, "4")},
		},
	})
	require.NoError(t, err)
	_, err = h.Procurement.CompleteReceipt(ctx, h.Scope, receipt.ID)
	require.NoError(t, err)

	_, err = h.Procurement.ClosePurchaseOrderLineShort(ctx, h.Scope, po.ID, po.Lines[1].ID, "")
	require.ErrorIs(t, err, shared.ErrValidation)

	po, err = h.Procurement.ClosePurchaseOrderLineShort(ctx, h.Scope, po.ID, po.Lines[1].ID, "supplier out of stock")
	require.NoError(t, err)
	require.Equal(t, procurement.LineStatusShortShipped, po.Lines[1].Status)
	require.Equal(t, procurement.POStatusCompleted, po.Status)

	_, err = h.Procurement.ClosePurchaseOrderLineShort(ctx, h.Scope, po.ID, po.Lines[0].ID, "late")
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)
}

func TestCancelKeepsReceivedStock(t *testing.T) {
	ctx := context.Background()
	h := memstore.NewHarness(memstore.Options{})
	product := h.Product(t, "TAPE", "0")
	po := h.ConfirmedPO(t, procurement.LineInput{ProductID: product.ID, Quantity: memstore.Dec(t, "10"), UnitPrice: memstore.Dec(t, "1")})

	receipt, err := h.Procurement.CreateReceipt(ctx, h.Scope, procurement.CreateReceiptInput{
		PurchaseOrderID: po.ID,
		Lines:           []procurement.ReceiptLineInput{{PurchaseOrderLineID: po.Lines[0].ID, QuantityReceived: qty(t, "3")}},
	})
	require.NoError(t, err)
	_, err = h.Procurement.CompleteReceipt(ctx, h.Scope, receipt.ID)
	require.NoError(t, err)

	_, err = h.Procurement.CancelPurchaseOrder(ctx, h.Scope, po.ID, " ")
	require.ErrorIs(t, err, shared.ErrValidation)
	po, err = h.Procurement.CancelPurchaseOrder(ctx, h.Scope, po.ID, "project cancelled")
	require.NoError(t, err)
	require.Equal(t, procurement.POStatusCancelled, po.Status)
	require.Equal(t, procurement.LineStatusCancelled, po.Lines[0].Status)
	require.True(t, h.Stock(t, product.ID).Equal(memstore.Dec(t, "3")))

	_, err = h.Procurement.CancelPurchaseOrder(ctx, h.Scope, po.ID, "again")
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)

	orders, err := h.Procurement.ListPurchaseOrders(ctx, h.Scope, procurement.POFilter{Status: procurement.POStatusCancelled})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	_, err = h.Procurement.ListPurchaseOrders(ctx, h.Scope, procurement.POFilter{Status: "BOGUS"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestRecomputeStatus(t *testing.T) {
	po := procurement.PurchaseOrder{Status: procurement.POStatusReceiving, Lines: []procurement.PurchaseOrderLine{
		{ID: 1, QuantityOrdered: decimal.NewFromInt(5), Status: procurement.LineStatusPending},
		{ID: 2, QuantityOrdered: decimal.NewFromInt(5), Status: procurement.LineStatusCancelled},
	}}
	require.Equal(t, procurement.POStatusReceiving, procurement.RecomputeStatus(po))

	_, err := po.ReceiveLine(1, decimal.NewFromInt(2), false)
	require.NoError(t, err)
	require.Equal(t, procurement.POStatusPartiallyReceived, procurement.RecomputeStatus(po))

	_, err = po.ReceiveLine(1, decimal.NewFromInt(4), false)
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = po.ReceiveLine(1, decimal.NewFromInt(3), false)
	require.NoError(t, err)
	require.Equal(t, procurement.POStatusCompleted, procurement.RecomputeStatus(po))

	_, err = po.ReceiveLine(2, decimal.NewFromInt(1), false)
	require.ErrorIs(t, err, shared.ErrValidation)

	draft := procurement.PurchaseOrder{Status: procurement.POStatusDraft}
	require.Equal(t, procurement.POStatusDraft, procurement.RecomputeStatus(draft))
}

func TestReceiptLineVarianceIgnoresShortDelivery(t *testing.T) {
	cases := []struct {
		name     string
		quantity string
		price    string
		want     bool
	}{
		{"exact", "0", "0", false},
		{"short delivery", "-40", "0", false},
		{"over delivery", "5", "0", true},
		{"cheaper", "0", "-0.50", true},
		{"short and dearer", "-40", "1", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := procurement.ReceiptLine{QuantityVariance: memstore.Dec(t, tc.quantity), PriceVariance: memstore.Dec(t, tc.price)}
			require.Equal(t, tc.want, l.HasVariance())
		})
	}
}
