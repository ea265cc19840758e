package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

// LedgerTx is the transactional surface the Ledger needs. Implementations must
// lock the product row in GetProductForUpdate until the transaction ends.
type LedgerTx interface {
	GetProductForUpdate(ctx context.Context, businessID, productID int64) (Product, error)
	UpdateProductStock(ctx context.Context, productID int64, newStock decimal.Decimal, expectedVersion int64) error
	InsertMovement(ctx context.Context, movement StockMovement) (StockMovement, error)
	// ClaimProduct bumps the row version without touching stock. A concurrent
	// transaction that read the row from an older snapshot then fails with a
	// concurrency conflict instead of deciding on stale reservations.
	ClaimProduct(ctx context.Context, productID, expectedVersion int64) error
}

// LedgerConfig groups ledger policy.
type LedgerConfig struct {
	AllowNegativeStock bool
}

// Ledger is the only writer of Product.CurrentStock.
type Ledger struct {
	allowNeg bool
	now      func() time.Time
}

// NewLedger builds a Ledger.
func NewLedger(cfg LedgerConfig) *Ledger {
	return &Ledger{allowNeg: cfg.AllowNegativeStock, now: func() time.Time { return time.Now().UTC() }}
}

// Apply appends one movement and moves the product's stock inside tx.
func (l *Ledger) Apply(ctx context.Context, tx LedgerTx, in MovementInput) (StockMovement, error) {
	if in.ProductID == 0 {
		return StockMovement{}, errMissingProduct
	}
	if !in.Quantity.IsPositive() {
		return StockMovement{}, ErrInvalidQuantity
	}
	signed, err := signedQuantity(in.Type, in.Direction, in.Quantity)
	if err != nil {
		return StockMovement{}, err
	}
	product, err := tx.GetProductForUpdate(ctx, in.BusinessID, in.ProductID)
	if err != nil {
		return StockMovement{}, err
	}
	newStock := product.CurrentStock.Add(signed)
	if signed.IsNegative() && newStock.IsNegative() && !l.allowNeg {
		return StockMovement{}, fmt.Errorf("%w: product %s has %s, requested %s", shared.ErrInsufficientStock, product.SKU, product.CurrentStock, in.Quantity)
	}
	if err := tx.UpdateProductStock(ctx, product.ID, newStock, product.Version); err != nil {
		return StockMovement{}, err
	}
	return tx.InsertMovement(ctx, StockMovement{
		BusinessID:    product.BusinessID,
		ProductID:     product.ID,
		Type:          in.Type,
		Quantity:      signed,
		PreviousStock: product.CurrentStock,
		NewStock:      newStock,
		Reference:     in.Reference,
		ActorID:       in.ActorID,
		Note:          in.Note,
		CreatedAt:     l.now(),
	})
}

func signedQuantity(t MovementType, dir Direction, qty decimal.Decimal) (decimal.Decimal, error) {
	switch t {
	case MovementStockIn:
		return qty, nil
	case MovementStockOut:
		return qty.Neg(), nil
	case MovementAdjustment, MovementTransfer:
		switch dir {
		case DirectionIncrease:
			return qty, nil
		case DirectionDecrease:
			return qty.Neg(), nil
		}
		return decimal.Zero, ErrInvalidDirection
	default:
		return decimal.Zero, fmt.Errorf("%w: unknown movement type %q", shared.ErrValidation, t)
	}
}

// Replay folds movements in creation order starting from zero and checks the chain.
func Replay(productID int64, current decimal.Decimal, movements []StockMovement) LedgerReport {
	report := LedgerReport{ProductID: productID, CurrentStock: current, Movements: len(movements), Consistent: true}
	stock := decimal.Zero
	for _, m := range movements {
		if report.Consistent && (!m.PreviousStock.Equal(stock) || !m.NewStock.Equal(m.PreviousStock.Add(m.Quantity))) {
			report.Consistent = false
			report.BrokenAt = m.ID
		}
		stock = stock.Add(m.Quantity)
	}
	report.ReplayedStock = stock
	if !stock.Equal(current) {
		report.Consistent = false
	}
	return report
}
