package masterdata

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/platform/httpx"
)

// Handler exposes supplier and customer registration.
type Handler struct {
	logger    *slog.Logger
	directory *Directory
}

// NewHandler constructs the masterdata handler.
func NewHandler(logger *slog.Logger, directory *Directory) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, directory: directory}
}

// MountRoutes registers /suppliers and /customers.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/suppliers", h.createSupplier)
	r.Post("/customers", h.createCustomer)
}

type partyRequest struct {
	Name string `json:"name" validate:"required,max=200"`
}

func (h *Handler) createSupplier(w http.ResponseWriter, r *http.Request) {
	scope, err := httpx.ScopeFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req partyRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	supplier, err := h.directory.CreateSupplier(r.Context(), scope, req.Name)
	if err != nil {
		h.logger.Warn("create supplier", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, supplier)
}

func (h *Handler) createCustomer(w http.ResponseWriter, r *http.Request) {
	scope, err := httpx.ScopeFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req partyRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	customer, err := h.directory.CreateCustomer(r.Context(), scope, req.Name)
	if err != nil {
		h.logger.Warn("create customer", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, customer)
}
