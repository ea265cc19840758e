package sales

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/outbox"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/sequence"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	GetSalesOrderForUpdate(ctx context.Context, businessID, id int64) (SalesOrder, error)
	InsertSalesOrder(ctx context.Context, order SalesOrder) (SalesOrder, error)
	UpdateSalesOrder(ctx context.Context, order SalesOrder) error
	UpdateSalesOrderLine(ctx context.Context, line SalesOrderLine) error
	DeleteSalesOrder(ctx context.Context, id int64) error
	// SumReserved totals uncommitted allocations of a product on other orders.
	SumReserved(ctx context.Context, businessID, productID, excludeOrderID int64) (decimal.Decimal, error)
	ProductsExist(ctx context.Context, businessID int64, productIDs []int64) error
	Stock() inventory.LedgerTx
	Events() outbox.Writer
}

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetSalesOrder(ctx context.Context, businessID, id int64) (SalesOrder, error)
	ListSalesOrders(ctx context.Context, filter Filter) ([]SalesOrder, error)
}

// NumberSource issues document numbers.
type NumberSource interface {
	Next(ctx context.Context, businessID int64, docType sequence.DocumentType) (string, error)
}

// CustomerDirectory resolves customer references.
type CustomerDirectory interface {
	CustomerExists(ctx context.Context, businessID, customerID int64) error
}

// ShipmentReconciler posts stock and advances the order to Shipped atomically.
type ShipmentReconciler interface {
	ReconcileShipment(ctx context.Context, scope shared.Scope, orderID int64, input ShipmentInput) (SalesOrder, error)
}

// StockNotifier is told about movements after they commit.
type StockNotifier interface {
	StockChanged(ctx context.Context, businessID int64, movements []inventory.StockMovement)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// TransitionObserver counts status transitions.
type TransitionObserver interface {
	ObserveTransition(entity, status string)
}

// ServiceParams groups Service dependencies.
type ServiceParams struct {
	Repo      RepositoryPort
	Ledger    *inventory.Ledger
	Numbers   NumberSource
	Customers CustomerDirectory
	Shipper   ShipmentReconciler
	Notifier  StockNotifier
	Audit     AuditPort
	Metrics   TransitionObserver
	Logger    *slog.Logger
	Policy    DecrementPolicy
}

// Service drives the sales order state machine.
type Service struct {
	repo      RepositoryPort
	ledger    *inventory.Ledger
	numbers   NumberSource
	customers CustomerDirectory
	shipper   ShipmentReconciler
	notifier  StockNotifier
	audit     AuditPort
	metrics   TransitionObserver
	logger    *slog.Logger
	policy    DecrementPolicy
}

// NewService constructs the sales service. An unset policy decrements at ship.
func NewService(p ServiceParams) *Service {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	policy := p.Policy
	if !policy.Valid() {
		policy = DecrementAtShip
	}
	return &Service{
		repo:      p.Repo,
		ledger:    p.Ledger,
		numbers:   p.Numbers,
		customers: p.Customers,
		shipper:   p.Shipper,
		notifier:  p.Notifier,
		audit:     p.Audit,
		metrics:   p.Metrics,
		logger:    logger,
		policy:    policy,
	}
}

const entitySalesOrder = "sales_order"

// mutate loads the order under lock, applies fn and persists the header.
func (s *Service) mutate(ctx context.Context, scope shared.Scope, orderID int64, fn func(context.Context, TxRepository, *SalesOrder) error) (SalesOrder, error) {
	if err := scope.Validate(); err != nil {
		return SalesOrder{}, err
	}
	var order SalesOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		order, err = tx.GetSalesOrderForUpdate(ctx, scope.BusinessID, orderID)
		if err != nil {
			return err
		}
		if err := fn(ctx, tx, &order); err != nil {
			return err
		}
		return tx.UpdateSalesOrder(ctx, order)
	})
	if err != nil {
		s.logger.Debug("sales order transition rejected", slog.Int64("sales_order_id", orderID), slog.Any("error", err))
		return SalesOrder{}, err
	}
	return order, nil
}

// step performs a plain table transition with no line effects.
func (s *Service) step(ctx context.Context, scope shared.Scope, orderID int64, next Status) (SalesOrder, error) {
	order, err := s.mutate(ctx, scope, orderID, func(_ context.Context, _ TxRepository, o *SalesOrder) error {
		if !o.Status.CanTransitionTo(next) {
			return transitionError(*o, next)
		}
		o.Status = next
		return nil
	})
	if err != nil {
		return SalesOrder{}, err
	}
	s.transitioned(ctx, scope, order, nil)
	return order, nil
}

func (s *Service) transitioned(ctx context.Context, scope shared.Scope, order SalesOrder, meta map[string]any) {
	if s.metrics != nil {
		s.metrics.ObserveTransition(entitySalesOrder, string(order.Status))
	}
	s.logger.Info("status changed",
		slog.String("entity", entitySalesOrder),
		slog.Int64("id", order.ID),
		slog.String("status", string(order.Status)),
		slog.Int64("business_id", scope.BusinessID))
	s.recordAudit(ctx, scope, strings.ToUpper(entitySalesOrder)+"_"+string(order.Status), order.ID, meta)
}

func (s *Service) recordAudit(ctx context.Context, scope shared.Scope, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{BusinessID: scope.BusinessID, ActorID: scope.Actor.ID, Action: action, Entity: entitySalesOrder, EntityID: fmt.Sprintf("%d", entityID), Meta: meta}); err != nil {
		s.logger.Error("record audit", slog.String("action", action), slog.Any("error", err))
	}
}
