package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/andreasstove999/ecommerce-system/services/hold-service-go/internal/inventory"
)

// maxBodyBytes bounds request bodies; webhook payloads are the largest.
const maxBodyBytes = 1 << 20

type Handler struct {
	svc *inventory.Service
}

func NewHandler(svc *inventory.Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req inventory.NewProduct
	if !decode(w, r, &req) {
		return
	}
	p, err := h.svc.CreateProduct(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p.Availability())
}

func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "productId"), 10, 64)
	if err != nil || productID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}
	av, err := h.svc.GetAvailability(r.Context(), productID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, av)
}

type createHoldRequest struct {
	ProductID int64 `json:"product_id"`
	Qty       int   `json:"qty"`
}

func (h *Handler) CreateHold(w http.ResponseWriter, r *http.Request) {
	var req createHoldRequest
	if !decode(w, r, &req) {
		return
	}
	hold, err := h.svc.CreateHold(r.Context(), req.ProductID, req.Qty)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, hold)
}

func (h *Handler) GetHold(w http.ResponseWriter, r *http.Request) {
	hold, err := h.svc.GetHold(r.Context(), chi.URLParam(r, "holdId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hold)
}

func (h *Handler) ReleaseHold(w http.ResponseWriter, r *http.Request) {
	hold, err := h.svc.ReleaseHold(r.Context(), chi.URLParam(r, "holdId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hold)
}

type createOrderRequest struct {
	HoldID string `json:"hold_id"`
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !decode(w, r, &req) {
		return
	}
	o, err := h.svc.CreateOrder(r.Context(), req.HoldID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.svc.GetOrder(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type paymentResponse struct {
	inventory.PaymentLog
	OrderStatus inventory.OrderStatus `json:"order_status,omitempty"`
	Duplicate   bool                  `json:"duplicate"`
}

func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var req inventory.PaymentWebhook
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.ProcessPayment(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, paymentResponse{
		PaymentLog:  res.Log,
		OrderStatus: res.Order.Status,
		Duplicate:   res.Duplicate,
	})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// fail maps domain errors to statuses. Unexpected errors are logged and
// reported without detail.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, inventory.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, inventory.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, inventory.ErrInsufficientStock):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, inventory.ErrHoldNotActive):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, inventory.ErrHoldExpired):
		writeError(w, http.StatusGone, err.Error())
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
