package inventory

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

// Handler wires HTTP endpoints for the inventory module.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.createProduct)
	r.Get("/low-stock", h.lowStock)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/stock", h.stock)
		r.Get("/movements", h.movements)
		r.Post("/adjustments", h.adjust)
		r.Post("/transfers", h.transfer)
		r.Get("/ledger-check", h.ledgerCheck)
	})
}

type createProductRequest struct {
	SKU               string          `json:"sku" validate:"required,max=64"`
	Name              string          `json:"name" validate:"required,max=200"`
	MinimumStockLevel decimal.Decimal `json:"minimumStockLevel"`
	CostPerUnit       decimal.Decimal `json:"costPerUnit"`
}

type adjustmentRequest struct {
	Code      string          `json:"code" validate:"max=64"`
	Quantity  decimal.Decimal `json:"quantity"`
	Direction Direction       `json:"direction" validate:"required,oneof=INCREASE DECREASE"`
	Note      string          `json:"note" validate:"max=500"`
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	scope, err := httpx.ScopeFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req createProductRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	product, err := h.service.CreateProduct(r.Context(), scope, CreateProductInput(req))
	if err != nil {
		h.fail(w, "create product", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, product)
}

func (h *Handler) lowStock(w http.ResponseWriter, r *http.Request) {
	scope, err := httpx.ScopeFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	products, err := h.service.ListLowStock(r.Context(), scope, httpx.QueryInt(r, "limit", 50))
	if err != nil {
		h.fail(w, "list low stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, products)
}

func (h *Handler) stock(w http.ResponseWriter, r *http.Request) {
	scope, err := httpx.ScopeFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.URLInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	level, err := h.service.GetStock(r.Context(), scope, id)
	if err != nil {
		h.fail(w, "get stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, level)
}

func (h *Handler) movements(w http.ResponseWriter, r *http.Request) {
	scope, err := httpx.ScopeFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.URLInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	from, err := httpx.QueryDate(r, "from", false)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	to, err := httpx.QueryDate(r, "to", true)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	movements, err := h.service.ListMovements(r.Context(), scope, MovementFilter{
		ProductID: id,
		From:      from,
		To:        to,
		Limit:     httpx.QueryInt(r, "limit", 200),
	})
	if err != nil {
		h.fail(w, "list movements", err)
		return
	}
	httpx.JSON(w, http.StatusOK, movements)
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	h.postManual(w, r, h.service.PostAdjustment)
}

func (h *Handler) transfer(w http.ResponseWriter, r *http.Request) {
	h.postManual(w, r, h.service.PostTransfer)
}

func (h *Handler) postManual(w http.ResponseWriter, r *http.Request, post func(context.Context, shared.Scope, AdjustmentInput) (StockMovement, error)) {
	scope, err := httpx.ScopeFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.URLInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req adjustmentRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	movement, err := post(r.Context(), scope, AdjustmentInput{
		Code:      req.Code,
		ProductID: id,
		Quantity:  req.Quantity,
		Direction: req.Direction,
		Note:      req.Note,
	})
	if err != nil {
		h.fail(w, "post movement", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movement)
}

func (h *Handler) ledgerCheck(w http.ResponseWriter, r *http.Request) {
	scope, err := httpx.ScopeFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.URLInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	report, err := h.service.VerifyLedger(r.Context(), scope.BusinessID, id)
	if err != nil {
		h.fail(w, "verify ledger", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}
