package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

// MovementType enumerates supported stock movements.
type MovementType string

const (
	// MovementStockIn represents goods received.
	MovementStockIn MovementType = "STOCK_IN"
	// MovementStockOut represents goods shipped.
	MovementStockOut MovementType = "STOCK_OUT"
	// MovementAdjustment indicates manual corrections.
	MovementAdjustment MovementType = "ADJUSTMENT"
	// MovementTransfer records stock leaving or arriving from another site.
	MovementTransfer MovementType = "TRANSFER"
)

// ReferenceType names the document that caused a movement.
type ReferenceType string

const (
	ReferencePurchaseReceipt  ReferenceType = "PURCHASE_RECEIPT"
	ReferenceSalesShipment    ReferenceType = "SALES_SHIPMENT"
	ReferenceManualAdjustment ReferenceType = "MANUAL_ADJUSTMENT"
)

// Direction tells adjustments and transfers which way stock moves.
type Direction string

const (
	DirectionIncrease Direction = "INCREASE"
	DirectionDecrease Direction = "DECREASE"
)

var (
	// ErrInvalidQuantity indicates a non-positive movement quantity.
	ErrInvalidQuantity = fmt.Errorf("%w: quantity must be positive", shared.ErrValidation)
	// ErrInvalidDirection indicates a missing or unknown direction.
	ErrInvalidDirection = fmt.Errorf("%w: direction must be INCREASE or DECREASE", shared.ErrValidation)
	// ErrProductNotFound indicates the product does not exist in the business.
	ErrProductNotFound = fmt.Errorf("%w: product", shared.ErrNotFound)
	// ErrDuplicateSKU indicates the sku is taken inside the business.
	ErrDuplicateSKU = fmt.Errorf("%w: sku already exists", shared.ErrValidation)
	// ErrVersionConflict indicates the product row moved since it was read.
	ErrVersionConflict = fmt.Errorf("%w: product stock changed concurrently", shared.ErrConcurrencyConflict)
	errMissingProduct  = errors.New("inventory: product required")
)

// Product is the stock-holding aggregate. CurrentStock changes only through the Ledger.
type Product struct {
	ID                int64           `json:"id"`
	BusinessID        int64           `json:"businessId"`
	SKU               string          `json:"sku"`
	Name              string          `json:"name"`
	CurrentStock      decimal.Decimal `json:"currentStock"`
	MinimumStockLevel decimal.Decimal `json:"minimumStockLevel"`
	CostPerUnit       decimal.Decimal `json:"costPerUnit"`
	Version           int64           `json:"version"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// LowStock reports whether stock is at or below the minimum level.
func (p Product) LowStock() bool {
	return p.CurrentStock.LessThanOrEqual(p.MinimumStockLevel)
}

// Reference points at the document line that caused a movement.
type Reference struct {
	Type   ReferenceType `json:"type"`
	ID     int64         `json:"id"`
	LineID int64         `json:"lineId"`
}

// StockMovement is an immutable ledger entry. Quantity is the signed effect.
type StockMovement struct {
	ID            int64           `json:"id"`
	BusinessID    int64           `json:"businessId"`
	ProductID     int64           `json:"productId"`
	Type          MovementType    `json:"type"`
	Quantity      decimal.Decimal `json:"quantity"`
	PreviousStock decimal.Decimal `json:"previousStock"`
	NewStock      decimal.Decimal `json:"newStock"`
	Reference     Reference       `json:"reference"`
	ActorID       int64           `json:"actorId"`
	Note          string          `json:"note,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// MovementInput describes a request to the Ledger.
type MovementInput struct {
	BusinessID int64
	ProductID  int64
	Type       MovementType
	Quantity   decimal.Decimal
	Direction  Direction
	Reference  Reference
	ActorID    int64
	Note       string
}

// CreateProductInput describes a new product.
type CreateProductInput struct {
	SKU               string
	Name              string
	MinimumStockLevel decimal.Decimal
	CostPerUnit       decimal.Decimal
}

// AdjustmentInput describes a manual adjustment or transfer.
type AdjustmentInput struct {
	Code      string
	ProductID int64
	Quantity  decimal.Decimal
	Direction Direction
	Note      string
}

// MovementFilter narrows movement history queries.
type MovementFilter struct {
	BusinessID int64
	ProductID  int64
	From       *time.Time
	To         *time.Time
	Limit      int
}

// StockLevel is the cached read model for current stock.
type StockLevel struct {
	ProductID         int64           `json:"productId"`
	SKU               string          `json:"sku"`
	CurrentStock      decimal.Decimal `json:"currentStock"`
	MinimumStockLevel decimal.Decimal `json:"minimumStockLevel"`
	LowStock          bool            `json:"lowStock"`
}

// LedgerReport is the outcome of replaying a product's movements.
type LedgerReport struct {
	ProductID     int64           `json:"productId"`
	Movements     int             `json:"movements"`
	ReplayedStock decimal.Decimal `json:"replayedStock"`
	CurrentStock  decimal.Decimal `json:"currentStock"`
	BrokenAt      int64           `json:"brokenAt,omitempty"`
	Consistent    bool            `json:"consistent"`
}
