package memstore

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/masterdata"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/procurement"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/reconcile"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/sales"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/sequence"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

// Options configures a Harness.
type Options struct {
	AllowNegativeStock bool
	AllowOverReceipt   bool
	Policy             sales.DecrementPolicy
}

// Harness wires every service of the fulfillment core on one Store.
type Harness struct {
	Store       *Store
	Ledger      *inventory.Ledger
	Directory   *masterdata.Directory
	Inventory   *inventory.Service
	Procurement *procurement.Service
	Sales       *sales.Service
	Coordinator *reconcile.Coordinator
	Scope       shared.Scope
}

// NewHarness builds a Harness scoped to business 1.
func NewHarness(opts Options) *Harness {
	store := New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ledger := inventory.NewLedger(inventory.LedgerConfig{AllowNegativeStock: opts.AllowNegativeStock})
	directory := masterdata.NewDirectory(store)
	numbers := sequence.NewSequencer(store, 6)
	inv := inventory.NewService(inventory.ServiceParams{
		Repo:        store.Inventory(),
		Ledger:      ledger,
		Audit:       store,
		Idempotency: store,
		Logger:      logger,
	})
	coordinator := reconcile.NewCoordinator(reconcile.Params{
		UnitOfWork:       store.UnitOfWork(),
		Ledger:           ledger,
		Notifier:         inv,
		Logger:           logger,
		AllowOverReceipt: opts.AllowOverReceipt,
	})
	return &Harness{
		Store:     store,
		Ledger:    ledger,
		Directory: directory,
		Inventory: inv,
		Procurement: procurement.NewService(procurement.ServiceParams{
			Repo:             store.Procurement(),
			Numbers:          numbers,
			Suppliers:        directory,
			Reconciler:       coordinator,
			Audit:            store,
			Logger:           logger,
			AllowOverReceipt: opts.AllowOverReceipt,
		}),
		Sales: sales.NewService(sales.ServiceParams{
			Repo:      store.Sales(),
			Ledger:    ledger,
			Numbers:   numbers,
			Customers: directory,
			Shipper:   coordinator,
			Notifier:  inv,
			Audit:     store,
			Logger:    logger,
			Policy:    opts.Policy,
		}),
		Coordinator: coordinator,
		Scope:       shared.Scope{BusinessID: 1, Actor: shared.Actor{ID: 7, Name: "Warehouse Lead"}},
	}
}

// Dec parses a decimal literal.
func Dec(t testing.TB, v string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(v)
	require.NoError(t, err)
	return d
}

// Product creates a product and posts opening stock as an adjustment.
func (h *Harness) Product(t testing.TB, sku, stock string) inventory.Product {
	t.Helper()
	ctx := context.Background()
	p, err := h.Inventory.CreateProduct(ctx, h.Scope, inventory.CreateProductInput{SKU: sku, Name: sku, MinimumStockLevel: decimal.NewFromInt(1)})
	require.NoError(t, err)
	if qty := Dec(t, stock); qty.IsPositive() {
		_, err = h.Inventory.PostAdjustment(ctx, h.Scope, inventory.AdjustmentInput{ProductID: p.ID, Quantity: qty, Direction: inventory.DirectionIncrease, Note: "opening"})
		require.NoError(t, err)
	}
	p, err = h.Inventory.GetProduct(ctx, h.Scope, p.ID)
	require.NoError(t, err)
	return p
}

// Stock returns a product's current stock.
func (h *Harness) Stock(t testing.TB, productID int64) decimal.Decimal {
	t.Helper()
	p, err := h.Inventory.GetProduct(context.Background(), h.Scope, productID)
	require.NoError(t, err)
	return p.CurrentStock
}

// ConfirmedPO creates, submits and confirms a purchase order.
func (h *Harness) ConfirmedPO(t testing.TB, lines ...procurement.LineInput) procurement.PurchaseOrder {
	t.Helper()
	ctx := context.Background()
	supplier, err := h.Directory.CreateSupplier(ctx, h.Scope, "Acme Supply")
	require.NoError(t, err)
	po, err := h.Procurement.CreatePurchaseOrder(ctx, h.Scope, procurement.CreatePurchaseOrderInput{SupplierID: supplier.ID, Lines: lines})
	require.NoError(t, err)
	_, err = h.Procurement.SubmitPurchaseOrder(ctx, h.Scope, po.ID)
	require.NoError(t, err)
	po, err = h.Procurement.ConfirmPurchaseOrder(ctx, h.Scope, po.ID, h.Store.now().AddDate(0, 0, 7))
	require.NoError(t, err)
	return po
}

// SubmittedSO creates and submits a sales order.
func (h *Harness) SubmittedSO(t testing.TB, lines ...sales.LineInput) sales.SalesOrder {
	t.Helper()
	ctx := context.Background()
	customer, err := h.Directory.CreateCustomer(ctx, h.Scope, "Northwind")
	require.NoError(t, err)
	order, err := h.Sales.Create(ctx, h.Scope, sales.CreateInput{CustomerID: customer.ID, Lines: lines})
	require.NoError(t, err)
	order, err = h.Sales.Submit(ctx, h.Scope, order.ID)
	require.NoError(t, err)
	return order
}

// VerifyAll asserts that every product's ledger replays to its current stock.
func (h *Harness) VerifyAll(t testing.TB) {
	t.Helper()
	mismatches, err := h.Inventory.VerifyBusiness(context.Background(), h.Scope.BusinessID)
	require.NoError(t, err)
	require.Empty(t, mismatches)
}
