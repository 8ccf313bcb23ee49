package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/pharmacy-fulfillment/internal/core/domain"
	"github.com/rl1809/pharmacy-fulfillment/internal/core/service"
)

const maxBodyBytes = 1 << 20

type HTTPHandler struct {
	svc    *service.FulfillmentService
	logger *zap.Logger
}

func NewHTTPHandler(svc *service.FulfillmentService, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{svc: svc, logger: logger}
}

// Routes registers every endpoint on a new mux.
func (h *HTTPHandler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.HealthCheck)
	mux.HandleFunc("POST /api/orders", h.CreateOrder)
	mux.HandleFunc("GET /api/orders/{id}", h.GetOrder)
	mux.HandleFunc("POST /api/orders/{id}/transitions", h.TransitionOrder)
	mux.HandleFunc("GET /api/products/{id}/stock", h.GetAvailableStock)
	mux.HandleFunc("GET /api/products/{id}/movements", h.GetMovementHistory)
	mux.HandleFunc("GET /api/products/{id}/reconciliation", h.ReconcileProduct)
	mux.HandleFunc("POST /api/products/{id}/receipts", h.ReceiveStock)
	mux.HandleFunc("POST /api/products/{id}/write-offs", h.WriteOffStock)
	mux.HandleFunc("GET /api/stock/value", h.StockValueAt)
	return mux
}

func (h *HTTPHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if !h.decode(w, r, &req) {
		return
	}

	order, err := h.svc.CreateOrder(r.Context(), req.toDomain())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newOrderResponse(order))
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.svc.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(order))
}

func (h *HTTPHandler) TransitionOrder(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := requireField("status", req.Status); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := requireField("actor", req.Actor); err != nil {
		h.writeError(w, r, err)
		return
	}

	order, err := h.svc.TransitionOrder(r.Context(), r.PathValue("id"), domain.OrderStatus(req.Status), req.Actor, req.Note)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(order))
}

func (h *HTTPHandler) GetAvailableStock(w http.ResponseWriter, r *http.Request) {
	productID := r.PathValue("id")
	available, err := h.svc.GetAvailableStock(r.Context(), productID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AvailabilityResponse{ProductID: productID, Available: available})
}

func (h *HTTPHandler) GetMovementHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	query := MovementQuery{
		Types:     q["type"],
		Reference: q.Get("reference"),
		From:      q.Get("from"),
		To:        q.Get("to"),
		Limit:     limit,
	}
	filter, err := query.toFilter()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	movements, err := h.svc.GetMovementHistory(r.Context(), r.PathValue("id"), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newMovementsResponse(movements))
}

func (h *HTTPHandler) ReceiveStock(w http.ResponseWriter, r *http.Request) {
	var req StockChangeRequest
	if !h.decode(w, r, &req) {
		return
	}
	productID := r.PathValue("id")

	st, err := h.svc.ReceiveStock(r.Context(), req.toChange(productID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newStockResponse(productID, st))
}

func (h *HTTPHandler) WriteOffStock(w http.ResponseWriter, r *http.Request) {
	var req StockChangeRequest
	if !h.decode(w, r, &req) {
		return
	}
	productID := r.PathValue("id")

	st, err := h.svc.WriteOffStock(r.Context(), req.toChange(productID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newStockResponse(productID, st))
}

func (h *HTTPHandler) ReconcileProduct(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.ReconcileProduct(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newReconciliationResponse(rec))
}

func (h *HTTPHandler) StockValueAt(w http.ResponseWriter, r *http.Request) {
	at, err := parseTime("at", r.URL.Query().Get("at"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	values, err := h.svc.StockValueAt(r.Context(), at)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StockValueResponse{At: at, OnHand: values})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, r, badBody(err))
		return false
	}
	return true
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := httpStatus(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", code),
			zap.Error(err),
		)
	}
	if code == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, code, newErrorResponse(err))
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
