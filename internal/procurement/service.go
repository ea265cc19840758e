package procurement

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/outbox"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/sequence"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

// TxRepository exposes transactional operations used by service. Every Get
// locks the row until the transaction ends.
type TxRepository interface {
	GetPurchaseOrderForUpdate(ctx context.Context, businessID, id int64) (PurchaseOrder, error)
	InsertPurchaseOrder(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error)
	ReplacePurchaseOrderLines(ctx context.Context, poID int64, lines []PurchaseOrderLine) ([]PurchaseOrderLine, error)
	UpdatePurchaseOrder(ctx context.Context, po PurchaseOrder) error
	UpdatePurchaseOrderLine(ctx context.Context, line PurchaseOrderLine) error
	DeletePurchaseOrder(ctx context.Context, id int64) error
	GetReceiptForUpdate(ctx context.Context, businessID, id int64) (Receipt, error)
	InsertReceipt(ctx context.Context, receipt Receipt) (Receipt, error)
	UpdateReceipt(ctx context.Context, receipt Receipt) error
	DeleteReceipt(ctx context.Context, id int64) error
	ProductsExist(ctx context.Context, businessID int64, productIDs []int64) error
	Events() outbox.Writer
}

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPurchaseOrder(ctx context.Context, businessID, id int64) (PurchaseOrder, error)
	ListPurchaseOrders(ctx context.Context, filter POFilter) ([]PurchaseOrder, error)
	GetReceipt(ctx context.Context, businessID, id int64) (Receipt, error)
	ListReceipts(ctx context.Context, businessID, purchaseOrderID int64) ([]Receipt, error)
}

// NumberSource issues document numbers.
type NumberSource interface {
	Next(ctx context.Context, businessID int64, docType sequence.DocumentType) (string, error)
}

// SupplierDirectory resolves supplier references.
type SupplierDirectory interface {
	SupplierExists(ctx context.Context, businessID, supplierID int64) error
}

// ReceiptReconciler applies a completed receipt to stock and the purchase order atomically.
type ReceiptReconciler interface {
	ReconcileReceipt(ctx context.Context, scope shared.Scope, receiptID int64) (Receipt, error)
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
	Repo             RepositoryPort
	Numbers          NumberSource
	Suppliers        SupplierDirectory
	Reconciler       ReceiptReconciler
	Audit            AuditPort
	Metrics          TransitionObserver
	Logger           *slog.Logger
	AllowOverReceipt bool
}

// Service orchestrates procurement flows.
type Service struct {
	repo       RepositoryPort
	numbers    NumberSource
	suppliers  SupplierDirectory
	reconciler ReceiptReconciler
	audit      AuditPort
	metrics    TransitionObserver
	logger     *slog.Logger
	allowOver  bool
}

// NewService constructs procurement service.
func NewService(p ServiceParams) *Service {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:       p.Repo,
		numbers:    p.Numbers,
		suppliers:  p.Suppliers,
		reconciler: p.Reconciler,
		audit:      p.Audit,
		metrics:    p.Metrics,
		logger:     logger,
		allowOver:  p.AllowOverReceipt,
	}
}

func (s *Service) transitioned(ctx context.Context, scope shared.Scope, entity string, id int64, status string, meta map[string]any) {
	if s.metrics != nil {
		s.metrics.ObserveTransition(entity, status)
	}
	s.logger.Info("status changed", slog.String("entity", entity), slog.Int64("id", id), slog.String("status", status), slog.Int64("business_id", scope.BusinessID))
	s.recordAudit(ctx, scope, strings.ToUpper(entity)+"_"+status, entity, id, meta)
}

func (s *Service) recordAudit(ctx context.Context, scope shared.Scope, action, entity string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{BusinessID: scope.BusinessID, ActorID: scope.Actor.ID, Action: action, Entity: entity, EntityID: fmt.Sprintf("%d", entityID), Meta: meta}); err != nil {
		s.logger.Error("record audit", slog.String("action", action), slog.Any("error", err))
	}
}

func actorRef(scope shared.Scope) *outbox.ActorRef {
	return &outbox.ActorRef{ID: scope.Actor.ID, Name: scope.Actor.Name}
}
