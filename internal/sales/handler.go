package sales

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

// Handler wires HTTP endpoints for sales orders.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the sales handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers sales order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Delete("/", h.delete)
		r.Post("/submit", h.step(h.service.Submit))
		r.Post("/confirm", h.step(h.service.Confirm))
		r.Post("/release", h.step(h.service.ReleaseForPicking))
		r.Post("/start-picking", h.step(h.service.StartPicking))
		r.Post("/complete-picking", h.completePicking)
		r.Post("/start-packing", h.step(h.service.StartPacking))
		r.Post("/complete-packing", h.step(h.service.CompletePacking))
		r.Post("/ship", h.ship)
		r.Post("/deliver", h.deliver)
		r.Post("/hold", h.hold)
		r.Post("/resume", h.step(h.service.Release))
		r.Post("/cancel", h.cancel)
	})
}

type lineRequest struct {
	ProductID int64           `json:"productId" validate:"required,gt=0"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

type createRequest struct {
	CustomerID int64         `json:"customerId" validate:"required,gt=0"`
	Priority   Priority      `json:"priority" validate:"omitempty,oneof=LOW NORMAL HIGH URGENT"`
	Lines      []lineRequest `json:"lines" validate:"required,min=1,dive"`
	Notes      string        `json:"notes" validate:"max=2000"`
}

type pickedLineRequest struct {
	LineID         int64           `json:"lineId" validate:"required,gt=0"`
	QuantityPicked decimal.Decimal `json:"quantityPicked"`
}

type pickingRequest struct {
	Lines []pickedLineRequest `json:"lines" validate:"dive"`
}

type shipRequest struct {
	Carrier        string    `json:"carrier" validate:"required,max=100"`
	TrackingNumber string    `json:"trackingNumber" validate:"max=100"`
	ShippedAt      time.Time `json:"shippedAt"`
}

type deliverRequest struct {
	DeliveredAt time.Time `json:"deliveredAt"`
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	scope, err := httpx.ScopeFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req createRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	lines := make([]LineInput, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, LineInput(l))
	}
	order, err := h.service.Create(r.Context(), scope, CreateInput{
		CustomerID: req.CustomerID,
		Priority:   req.Priority,
		Lines:      lines,
		Notes:      req.Notes,
	})
	h.respond(w, http.StatusCreated, "create sales order", order, err)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	scope, err := httpx.ScopeFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter := Filter{
		Status: Status(r.URL.Query().Get("status")),
		Limit:  httpx.QueryInt(r, "limit", 50),
		Offset: httpx.QueryInt(r, "offset", 0),
	}
	if raw := r.URL.Query().Get("customer_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.RespondError(w, httpx.ErrBadRequest)
			return
		}
		filter.CustomerID = id
	}
	orders, err := h.service.List(r.Context(), scope, filter)
	h.respond(w, http.StatusOK, "list sales orders", orders, err)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	order, err := h.service.Get(r.Context(), scope, id)
	h.respond(w, http.StatusOK, "get sales order", order, err)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), scope, id); err != nil {
		h.fail(w, "delete sales order", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// step adapts body-less transitions.
func (h *Handler) step(fn func(context.Context, shared.Scope, int64) (SalesOrder, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, id, ok := h.scopeAndID(w, r)
		if !ok {
			return
		}
		order, err := fn(r.Context(), scope, id)
		h.respond(w, http.StatusOK, "sales order transition", order, err)
	}
}

func (h *Handler) completePicking(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	var req pickingRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	picked := make([]PickedLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		picked = append(picked, PickedLine(l))
	}
	order, err := h.service.CompletePicking(r.Context(), scope, id, picked)
	h.respond(w, http.StatusOK, "complete picking", order, err)
}

func (h *Handler) ship(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	var req shipRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	order, err := h.service.Ship(r.Context(), scope, id, ShipmentInput(req))
	h.respond(w, http.StatusOK, "ship sales order", order, err)
}

func (h *Handler) deliver(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	var req deliverRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	order, err := h.service.MarkDelivered(r.Context(), scope, id, req.DeliveredAt)
	h.respond(w, http.StatusOK, "deliver sales order", order, err)
}

func (h *Handler) hold(w http.ResponseWriter, r *http.Request) {
	h.withReason(w, r, "hold sales order", h.service.Hold)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	h.withReason(w, r, "cancel sales order", h.service.Cancel)
}

func (h *Handler) withReason(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, shared.Scope, int64, string) (SalesOrder, error)) {
	scope, id, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	order, err := fn(r.Context(), scope, id, req.Reason)
	h.respond(w, http.StatusOK, op, order, err)
}

func (h *Handler) scopeAndID(w http.ResponseWriter, r *http.Request) (shared.Scope, int64, bool) {
	scope, err := httpx.ScopeFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return shared.Scope{}, 0, false
	}
	id, err := httpx.URLInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return shared.Scope{}, 0, false
	}
	return scope, id, true
}

func (h *Handler) respond(w http.ResponseWriter, status int, op string, body any, err error) {
	if err != nil {
		h.fail(w, op, err)
		return
	}
	httpx.JSON(w, status, body)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}
