package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/cx-tal-miterani/parking-session-system/internal/middleware"
	"github.com/cx-tal-miterani/parking-session-system/internal/models"
	"github.com/cx-tal-miterani/parking-session-system/internal/service"
	"github.com/gorilla/mux"
)

// Handler contains HTTP handlers for the API
type Handler struct {
	parkingService service.ParkingService
}

// NewHandler creates a new Handler instance
func NewHandler(parkingService service.ParkingService) *Handler {
	return &Handler{
		parkingService: parkingService,
	}
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func respondMessage(w http.ResponseWriter, status int, kind models.ErrorKind, message string) {
	respondJSON(w, status, map[string]string{"error": message, "kind": string(kind)})
}

var kindStatus = map[models.ErrorKind]int{
	models.ErrorKindNotFound:          http.StatusNotFound,
	models.ErrorKindConflict:          http.StatusConflict,
	models.ErrorKindNoAvailability:    http.StatusConflict,
	models.ErrorKindInvalidTransition: http.StatusConflict,
	models.ErrorKindForbidden:         http.StatusForbidden,
	models.ErrorKindPaymentDeclined:   http.StatusPaymentRequired,
	models.ErrorKindPaymentRetryable:  http.StatusServiceUnavailable,
	models.ErrorKindPaymentUnknown:    http.StatusServiceUnavailable,
	models.ErrorKindInvalidRequest:    http.StatusBadRequest,
}

// respondError answers with the stable kind of err; internal failures are logged, not echoed
func respondError(w http.ResponseWriter, err error) {
	kind := models.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		log.Printf("Internal error: %v", err)
		respondMessage(w, http.StatusInternalServerError, models.ErrorKindInternal, "internal error")
		return
	}
	respondMessage(w, status, kind, err.Error())
}

// caller returns the authenticated user or answers 401
func caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		respondMessage(w, http.StatusUnauthorized, "unauthorized", "authentication required")
	}
	return userID, ok
}

// RequestSession handles POST /api/sessions
func (h *Handler) RequestSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}

	var req models.RequestSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondMessage(w, http.StatusBadRequest, models.ErrorKindInvalidRequest, "Invalid request body")
		return
	}
	if req.Organization == "" {
		respondMessage(w, http.StatusBadRequest, models.ErrorKindInvalidRequest, "Organization is required")
		return
	}
	if req.StructureID == "" {
		respondMessage(w, http.StatusBadRequest, models.ErrorKindInvalidRequest, "Structure ID is required")
		return
	}

	sess, err := h.parkingService.RequestSession(r.Context(), userID, &req)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, sess)
}

// GetSession handles GET /api/sessions/{id}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	h.sessionAction(w, r, h.parkingService.GetSession)
}

// StartSession handles POST /api/sessions/{id}/start
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	h.sessionAction(w, r, h.parkingService.StartSession)
}

// Heartbeat handles POST /api/sessions/{id}/heartbeat
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	h.sessionAction(w, r, h.parkingService.Heartbeat)
}

// StopSession handles POST /api/sessions/{id}/stop
func (h *Handler) StopSession(w http.ResponseWriter, r *http.Request) {
	h.sessionAction(w, r, h.parkingService.StopSession)
}

// CancelSession handles POST /api/sessions/{id}/cancel
func (h *Handler) CancelSession(w http.ResponseWriter, r *http.Request) {
	h.sessionAction(w, r, h.parkingService.CancelSession)
}

// ConfirmPayment handles POST /api/sessions/{id}/confirm
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	h.sessionAction(w, r, h.parkingService.ConfirmPayment)
}

type sessionFunc func(ctx context.Context, userID, sessionID string) (*models.Session, error)

func (h *Handler) sessionAction(w http.ResponseWriter, r *http.Request, fn sessionFunc) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}

	sess, err := fn(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

// EstimateCost handles GET /api/sessions/{id}/estimate?extend=30m
func (h *Handler) EstimateCost(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}

	var extend time.Duration
	if raw := r.URL.Query().Get("extend"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			respondMessage(w, http.StatusBadRequest, models.ErrorKindInvalidRequest, "extend must be a non-negative duration such as 30m")
			return
		}
		extend = d
	}

	est, err := h.parkingService.EstimateCost(r.Context(), userID, mux.Vars(r)["id"], extend)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, est)
}

// History handles GET /api/history?cursor=&limit=&status=
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondMessage(w, http.StatusBadRequest, models.ErrorKindInvalidRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	page, err := h.parkingService.History(r.Context(), userID, q.Get("cursor"), limit, models.SessionStatus(q.Get("status")))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

// Refund handles POST /api/history/{recordId}/refunds
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}

	recordID, err := strconv.ParseInt(mux.Vars(r)["recordId"], 10, 64)
	if err != nil {
		respondMessage(w, http.StatusBadRequest, models.ErrorKindInvalidRequest, "Invalid record ID")
		return
	}

	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		respondMessage(w, http.StatusBadRequest, models.ErrorKindInvalidRequest, "Missing Idempotency-Key header")
		return
	}

	var req models.RefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondMessage(w, http.StatusBadRequest, models.ErrorKindInvalidRequest, "Invalid request body")
		return
	}
	if !req.Amount.IsPositive() {
		respondMessage(w, http.StatusBadRequest, models.ErrorKindInvalidRequest, "Amount must be positive")
		return
	}

	rec, err := h.parkingService.Refund(r.Context(), userID, recordID, key, req)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, rec)
}

// ListSpots handles GET /api/structures/{structureId}/floors/{floorId}/spots
func (h *Handler) ListSpots(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	scope := models.FloorScope{StructureID: vars["structureId"], FloorID: vars["floorId"]}

	spots, err := h.parkingService.ListSpots(r.Context(), scope)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, spots)
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}
