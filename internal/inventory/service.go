package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/outbox"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	LedgerTx
	Events() outbox.Writer
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	InsertProduct(ctx context.Context, product Product) (Product, error)
	GetProduct(ctx context.Context, businessID, productID int64) (Product, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]StockMovement, error)
	ListLowStock(ctx context.Context, businessID int64, limit int) ([]Product, error)
	ListProductIDs(ctx context.Context, businessID int64) ([]int64, error)
	ListBusinessIDs(ctx context.Context) ([]int64, error)
	// LedgerSnapshot returns the product and its full movement history read from one snapshot.
	LedgerSnapshot(ctx context.Context, businessID, productID int64) (Product, []StockMovement, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards manual postings against replays.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, businessID int64, key, module string) error
	Delete(ctx context.Context, businessID int64, key string) error
}

// MovementObserver receives committed movements for metrics.
type MovementObserver interface {
	ObserveMovement(movementType string)
}

// ServiceParams groups Service dependencies. Only Repo and Ledger are required.
type ServiceParams struct {
	Repo        RepositoryPort
	Ledger      *Ledger
	Audit       AuditPort
	Idempotency IdempotencyPort
	Cache       *StockCache
	Metrics     MovementObserver
	Logger      *slog.Logger
}

// Service coordinates inventory operations.
type Service struct {
	repo        RepositoryPort
	ledger      *Ledger
	audit       AuditPort
	idempotency IdempotencyPort
	cache       *StockCache
	metrics     MovementObserver
	logger      *slog.Logger
}

// NewService builds Service.
func NewService(p ServiceParams) *Service {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        p.Repo,
		ledger:      p.Ledger,
		audit:       p.Audit,
		idempotency: p.Idempotency,
		cache:       p.Cache,
		metrics:     p.Metrics,
		logger:      logger,
	}
}

// CreateProduct registers a product with zero stock. Opening balances are posted as adjustments.
func (s *Service) CreateProduct(ctx context.Context, scope shared.Scope, input CreateProductInput) (Product, error) {
	if err := scope.Validate(); err != nil {
		return Product{}, err
	}
	sku := strings.TrimSpace(input.SKU)
	if sku == "" || strings.TrimSpace(input.Name) == "" {
		return Product{}, fmt.Errorf("%w: sku and name required", shared.ErrValidation)
	}
	if input.MinimumStockLevel.IsNegative() || input.CostPerUnit.IsNegative() {
		return Product{}, fmt.Errorf("%w: minimum stock and cost must not be negative", shared.ErrValidation)
	}
	product, err := s.repo.InsertProduct(ctx, Product{
		BusinessID:        scope.BusinessID,
		SKU:               sku,
		Name:              strings.TrimSpace(input.Name),
		MinimumStockLevel: input.MinimumStockLevel,
		CostPerUnit:       input.CostPerUnit,
		Version:           1,
	})
	if err != nil {
		return Product{}, err
	}
	s.recordAudit(ctx, scope, "PRODUCT_CREATE", product.ID, map[string]any{"sku": product.SKU})
	return product, nil
}

// PostAdjustment posts a manual correction through the ledger.
func (s *Service) PostAdjustment(ctx context.Context, scope shared.Scope, input AdjustmentInput) (StockMovement, error) {
	return s.postManual(ctx, scope, MovementAdjustment, input)
}

// PostTransfer records stock leaving for or arriving from another site.
func (s *Service) PostTransfer(ctx context.Context, scope shared.Scope, input AdjustmentInput) (StockMovement, error) {
	return s.postManual(ctx, scope, MovementTransfer, input)
}

func (s *Service) postManual(ctx context.Context, scope shared.Scope, movementType MovementType, input AdjustmentInput) (StockMovement, error) {
	if err := scope.Validate(); err != nil {
		return StockMovement{}, err
	}
	if input.ProductID == 0 {
		return StockMovement{}, errMissingProduct
	}
	if !input.Quantity.IsPositive() {
		return StockMovement{}, ErrInvalidQuantity
	}
	if input.Direction != DirectionIncrease && input.Direction != DirectionDecrease {
		return StockMovement{}, ErrInvalidDirection
	}
	key := ""
	if input.Code != "" && s.idempotency != nil {
		key = fmt.Sprintf("%s:%s", movementType, input.Code)
		if err := s.idempotency.CheckAndInsert(ctx, scope.BusinessID, key, "inventory"); err != nil {
			return StockMovement{}, err
		}
	}
	var movement StockMovement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		movement, err = s.ledger.Apply(ctx, tx, MovementInput{
			BusinessID: scope.BusinessID,
			ProductID:  input.ProductID,
			Type:       movementType,
			Quantity:   input.Quantity,
			Direction:  input.Direction,
			Reference:  Reference{Type: ReferenceManualAdjustment},
			ActorID:    scope.Actor.ID,
			Note:       input.Note,
		})
		if err != nil {
			return err
		}
		return outbox.Emit(ctx, tx.Events(), outbox.DomainEvent{
			BusinessID:    scope.BusinessID,
			EventType:     outbox.EventStockAdjusted,
			AggregateType: outbox.AggregateProduct,
			AggregateID:   movement.ProductID,
			Actor:         &outbox.ActorRef{ID: scope.Actor.ID, Name: scope.Actor.Name},
			Data: map[string]any{
				"movementType":  movement.Type,
				"quantity":      movement.Quantity,
				"previousStock": movement.PreviousStock,
				"newStock":      movement.NewStock,
				"note":          movement.Note,
			},
		})
	})
	if err != nil {
		if key != "" {
			_ = s.idempotency.Delete(ctx, scope.BusinessID, key)
		}
		return StockMovement{}, err
	}
	s.StockChanged(ctx, scope.BusinessID, []StockMovement{movement})
	s.recordAudit(ctx, scope, "STOCK_"+string(movementType), movement.ProductID, map[string]any{
		"quantity":  movement.Quantity.String(),
		"new_stock": movement.NewStock.String(),
	})
	return movement, nil
}

// StockChanged must be called after a commit that applied movements.
func (s *Service) StockChanged(ctx context.Context, businessID int64, movements []StockMovement) {
	if len(movements) == 0 {
		return
	}
	ids := make([]int64, 0, len(movements))
	for _, m := range movements {
		ids = append(ids, m.ProductID)
		if s.metrics != nil {
			s.metrics.ObserveMovement(string(m.Type))
		}
	}
	if err := s.cache.Invalidate(ctx, businessID, ids...); err != nil {
		s.logger.Warn("invalidate stock cache", slog.Int64("business_id", businessID), slog.Any("error", err))
	}
}

// GetStock returns the current stock level of a product.
func (s *Service) GetStock(ctx context.Context, scope shared.Scope, productID int64) (StockLevel, error) {
	return s.cache.Fetch(ctx, scope.BusinessID, productID, func(ctx context.Context) (StockLevel, error) {
		product, err := s.repo.GetProduct(ctx, scope.BusinessID, productID)
		if err != nil {
			return StockLevel{}, err
		}
		return StockLevel{
			ProductID:         product.ID,
			SKU:               product.SKU,
			CurrentStock:      product.CurrentStock,
			MinimumStockLevel: product.MinimumStockLevel,
			LowStock:          product.LowStock(),
		}, nil
	})
}

// GetProduct loads a product in scope.
func (s *Service) GetProduct(ctx context.Context, scope shared.Scope, productID int64) (Product, error) {
	return s.repo.GetProduct(ctx, scope.BusinessID, productID)
}

// ListMovements lists a product's movement history in creation order.
func (s *Service) ListMovements(ctx context.Context, scope shared.Scope, filter MovementFilter) ([]StockMovement, error) {
	if filter.ProductID == 0 {
		return nil, errMissingProduct
	}
	filter.BusinessID = scope.BusinessID
	if filter.Limit <= 0 || filter.Limit > 1000 {
		filter.Limit = 200
	}
	if _, err := s.repo.GetProduct(ctx, scope.BusinessID, filter.ProductID); err != nil {
		return nil, err
	}
	return s.repo.ListMovements(ctx, filter)
}

// ListLowStock returns products at or below their minimum level.
func (s *Service) ListLowStock(ctx context.Context, scope shared.Scope, limit int) ([]Product, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListLowStock(ctx, scope.BusinessID, limit)
}

// VerifyLedger replays a product's movements from zero and compares with current stock.
func (s *Service) VerifyLedger(ctx context.Context, businessID, productID int64) (LedgerReport, error) {
	product, movements, err := s.repo.LedgerSnapshot(ctx, businessID, productID)
	if err != nil {
		return LedgerReport{}, err
	}
	report := Replay(product.ID, product.CurrentStock, movements)
	if !report.Consistent {
		s.logger.Warn("stock ledger mismatch",
			slog.Int64("business_id", businessID),
			slog.Int64("product_id", productID),
			slog.String("current_stock", report.CurrentStock.String()),
			slog.String("replayed_stock", report.ReplayedStock.String()),
			slog.Int64("broken_at_movement", report.BrokenAt))
	}
	return report, nil
}

// VerifyBusiness verifies every product of a business and returns the inconsistent reports.
func (s *Service) VerifyBusiness(ctx context.Context, businessID int64) ([]LedgerReport, error) {
	ids, err := s.repo.ListProductIDs(ctx, businessID)
	if err != nil {
		return nil, err
	}
	var mismatches []LedgerReport
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return mismatches, err
		}
		report, err := s.VerifyLedger(ctx, businessID, id)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				continue
			}
			return mismatches, err
		}
		if !report.Consistent {
			mismatches = append(mismatches, report)
		}
	}
	return mismatches, nil
}

// ListBusinessIDs lists businesses owning products.
func (s *Service) ListBusinessIDs(ctx context.Context) ([]int64, error) {
	return s.repo.ListBusinessIDs(ctx)
}

func (s *Service) recordAudit(ctx context.Context, scope shared.Scope, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{BusinessID: scope.BusinessID, ActorID: scope.Actor.ID, Action: action, Entity: "product", EntityID: fmt.Sprintf("%d", entityID), Meta: meta}); err != nil {
		s.logger.Error("record audit", slog.String("action", action), slog.Any("error", err))
	}
}
