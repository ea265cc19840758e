package procurement

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

// Handler wires HTTP endpoints for purchase orders and receipts.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the procurement handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers /purchase-orders and /receipts.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/purchase-orders", func(r chi.Router) {
		r.Post("/", h.createPO)
		r.Get("/", h.listPOs)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getPO)
			r.Delete("/", h.deletePO)
			r.Put("/lines", h.updateLines)
			r.Post("/submit", h.submitPO)
			r.Post("/confirm", h.confirmPO)
			r.Post("/cancel", h.cancelPO)
			r.Post("/lines/{lineID}/close-short", h.closeShort)
			r.Post("/receipts", h.createReceipt)
			r.Get("/receipts", h.listReceipts)
		})
	})
	r.Route("/receipts/{id}", func(r chi.Router) {
		r.Get("/", h.getReceipt)
		r.Delete("/", h.deleteReceipt)
		r.Post("/submit", h.submitReceipt)
		r.Post("/approve", h.approveReceipt)
		r.Post("/reject", h.rejectReceipt)
		r.Post("/complete", h.completeReceipt)
	})
}

type lineRequest struct {
	ProductID int64           `json:"productId" validate:"required,gt=0"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

type createPORequest struct {
	SupplierID           int64           `json:"supplierId" validate:"required,gt=0"`
	Lines                []lineRequest   `json:"lines" validate:"dive"`
	TaxAmount            decimal.Decimal `json:"taxAmount"`
	ShippingCost         decimal.Decimal `json:"shippingCost"`
	ExpectedDeliveryDate *time.Time      `json:"expectedDeliveryDate"`
	Notes                string          `json:"notes" validate:"max=2000"`
}

type linesRequest struct {
	Lines []lineRequest `json:"lines" validate:"dive"`
}

type confirmRequest struct {
	ConfirmedDeliveryDate time.Time `json:"confirmedDeliveryDate"`
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type receiptLineRequest struct {
	PurchaseOrderLineID int64               `json:"purchaseOrderLineId" validate:"required,gt=0"`
	QuantityReceived    *decimal.Decimal    `json:"quantityReceived"`
	UnitPriceReceived   decimal.NullDecimal `json:"unitPriceReceived"`
	Condition           Condition           `json:"condition"`
}

type createReceiptRequest struct {
	SupplierDeliveryNote string               `json:"supplierDeliveryNote" validate:"max=200"`
	Lines                []receiptLineRequest `json:"lines" validate:"dive"`
}

type approveRequest struct {
	VarianceNotes string `json:"varianceNotes" validate:"max=2000"`
}

func toLineInputs(lines []lineRequest) []LineInput {
	out := make([]LineInput, 0, len(lines))
	for _, l := range lines {
		out = append(out, LineInput(l))
	}
	return out
}

func (h *Handler) createPO(w http.ResponseWriter, r *http.Request) {
	scope, err := httpx.ScopeFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req createPORequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := h.service.CreatePurchaseOrder(r.Context(), scope, CreatePurchaseOrderInput{
		SupplierID:           req.SupplierID,
		Lines:                toLineInputs(req.Lines),
		TaxAmount:            req.TaxAmount,
		ShippingCost:         req.ShippingCost,
		ExpectedDeliveryDate: req.ExpectedDeliveryDate,
		Notes:                req.Notes,
	})
	h.respond(w, http.StatusCreated, "create purchase order", po, err)
}

func (h *Handler) listPOs(w http.ResponseWriter, r *http.Request) {
	scope, err := httpx.ScopeFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter := POFilter{
		Status: POStatus(r.URL.Query().Get("status")),
		Limit:  httpx.QueryInt(r, "limit", 50),
		Offset: httpx.QueryInt(r, "offset", 0),
	}
	if raw := r.URL.Query().Get("supplier_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.RespondError(w, httpx.ErrBadRequest)
			return
		}
		filter.SupplierID = id
	}
	pos, err := h.service.ListPurchaseOrders(r.Context(), scope, filter)
	h.respond(w, http.StatusOK, "list purchase orders", pos, err)
}

func (h *Handler) getPO(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	po, err := h.service.GetPurchaseOrder(r.Context(), scope, id)
	h.respond(w, http.StatusOK, "get purchase order", po, err)
}

func (h *Handler) deletePO(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeletePurchaseOrder(r.Context(), scope, id); err != nil {
		h.fail(w, "delete purchase order", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) updateLines(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	var req linesRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := h.service.UpdateDraftLines(r.Context(), scope, id, toLineInputs(req.Lines))
	h.respond(w, http.StatusOK, "update purchase order lines", po, err)
}

func (h *Handler) submitPO(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	po, err := h.service.SubmitPurchaseOrder(r.Context(), scope, id)
	h.respond(w, http.StatusOK, "submit purchase order", po, err)
}

func (h *Handler) confirmPO(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	var req confirmRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := h.service.ConfirmPurchaseOrder(r.Context(), scope, id, req.ConfirmedDeliveryDate)
	h.respond(w, http.StatusOK, "confirm purchase order", po, err)
}

func (h *Handler) cancelPO(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := h.service.CancelPurchaseOrder(r.Context(), scope, id, req.Reason)
	h.respond(w, http.StatusOK, "cancel purchase order", po, err)
}

func (h *Handler) closeShort(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	lineID, err := httpx.URLInt64(r, "lineID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req reasonRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := h.service.ClosePurchaseOrderLineShort(r.Context(), scope, id, lineID, req.Reason)
	h.respond(w, http.StatusOK, "close line short", po, err)
}

func (h *Handler) createReceipt(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	var req createReceiptRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	lines := make([]ReceiptLineInput, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, ReceiptLineInput(l))
	}
	receipt, err := h.service.CreateReceipt(r.Context(), scope, CreateReceiptInput{
		PurchaseOrderID:      id,
		SupplierDeliveryNote: req.SupplierDeliveryNote,
		Lines:                lines,
	})
	h.respond(w, http.StatusCreated, "create receipt", receipt, err)
}

func (h *Handler) listReceipts(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	receipts, err := h.service.ListReceipts(r.Context(), scope, id)
	h.respond(w, http.StatusOK, "list receipts", receipts, err)
}

func (h *Handler) getReceipt(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	receipt, err := h.service.GetReceipt(r.Context(), scope, id)
	h.respond(w, http.StatusOK, "get receipt", receipt, err)
}

func (h *Handler) deleteReceipt(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteReceipt(r.Context(), scope, id); err != nil {
		h.fail(w, "delete receipt", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) submitReceipt(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	receipt, err := h.service.SubmitReceipt(r.Context(), scope, id)
	h.respond(w, http.StatusOK, "submit receipt", receipt, err)
}

func (h *Handler) approveReceipt(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	var req approveRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	receipt, err := h.service.ApproveReceipt(r.Context(), scope, id, req.VarianceNotes)
	h.respond(w, http.StatusOK, "approve receipt", receipt, err)
}

func (h *Handler) rejectReceipt(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	receipt, err := h.service.RejectReceipt(r.Context(), scope, id, req.Reason)
	h.respond(w, http.StatusOK, "reject receipt", receipt, err)
}

func (h *Handler) completeReceipt(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	receipt, err := h.service.CompleteReceipt(r.Context(), scope, id)
	h.respond(w, http.StatusOK, "complete receipt", receipt, err)
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
