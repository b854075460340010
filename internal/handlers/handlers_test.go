package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cx-tal-miterani/parking-session-system/internal/middleware"
	"github.com/cx-tal-miterani/parking-session-system/internal/models"
	"github.com/cx-tal-miterani/parking-session-system/internal/service/mocks"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testUser = "user-1"

func setupTestRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-Anonymous") == "" {
				r = r.WithContext(middleware.WithUserID(r.Context(), testUser))
			}
			next.ServeHTTP(w, r)
		})
	})
	api.HandleFunc("/sessions", h.RequestSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}", h.GetSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/start", h.StartSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/stop", h.StopSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/cancel", h.CancelSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/confirm", h.ConfirmPayment).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/estimate", h.EstimateCost).Methods(http.MethodGet)
	api.HandleFunc("/history", h.History).Methods(http.MethodGet)
	api.HandleFunc("/history/{recordId}/refunds", h.Refund).Methods(http.MethodPost)
	api.HandleFunc("/structures/{structureId}/floors/{floorId}/spots", h.ListSpots).Methods(http.MethodGet)
	return r
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestHandler_RequestSession(t *testing.T) {
	reserved := &models.Session{
		ID:     "sess-1",
		UserID: testUser,
		Spot:   models.SpotRef{StructureID: "garage-1", FloorID: "L1", SpotID: "A-01"},
		Status: models.SessionStatusReserved,
		Rate:   decimal.RequireFromString("0.10"),
	}

	tests := []struct {
		name           string
		body           string
		mockReturn     *models.Session
		mockError      error
		expectedStatus int
		expectedKind   string
	}{
		{
			name:           "reserved",
			body:           `{"organization":"acme","structureId":"garage-1"}`,
			mockReturn:     reserved,
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "no spot left",
			body:           `{"organization":"acme","structureId":"garage-1"}`,
			mockError:      fmt.Errorf("assign: %w", models.ErrNoAvailability),
			expectedStatus: http.StatusConflict,
			expectedKind:   "no_availability",
		},
		{
			name:           "missing structure",
			body:           `{"organization":"acme"}`,
			expectedStatus: http.StatusBadRequest,
			expectedKind:   "invalid_request",
		},
		{
			name:           "invalid body",
			body:           `{`,
			expectedStatus: http.StatusBadRequest,
			expectedKind:   "invalid_request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(mocks.MockParkingService)
			router := setupTestRouter(NewHandler(mockService))

			if tt.mockReturn != nil || tt.mockError != nil {
				mockService.On("RequestSession", mock.Anything, testUser, mock.AnythingOfType("*models.RequestSessionRequest")).
					Return(tt.mockReturn, tt.mockError)
			}

			req := httptest.NewRequest(http.MethodPost, "/api/sessions", bytes.NewBufferString(tt.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			if tt.expectedKind != "" {
				assert.Equal(t, tt.expectedKind, decodeError(t, rec)["kind"])
			} else {
				var got models.Session
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
				assert.Equal(t, "sess-1", got.ID)
			}
			mockService.AssertExpectations(t)
		})
	}
}

func TestHandler_RequiresCaller(t *testing.T) {
	mockService := new(mocks.MockParkingService)
	router := setupTestRouter(NewHandler(mockService))

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/sess-1", nil)
	req.Header.Set("X-Anonymous", "1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	mockService.AssertNotCalled(t, "GetSession", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandler_SessionActions_MapErrorKinds(t *testing.T) {
	tests := []struct {
		name           string
		path           string
		method         string
		mockError      error
		expectedStatus int
	}{
		{"get found", "/api/sessions/sess-1", "GetSession", nil, http.StatusOK},
		{"get missing", "/api/sessions/sess-1", "GetSession", models.ErrNotFound, http.StatusNotFound},
		{"get other user", "/api/sessions/sess-1", "GetSession", models.ErrForbidden, http.StatusForbidden},
		{"start", "/api/sessions/sess-1/start", "StartSession", nil, http.StatusOK},
		{"start twice", "/api/sessions/sess-1/start", "StartSession", models.ErrInvalidTransition, http.StatusConflict},
		{"stop", "/api/sessions/sess-1/stop", "StopSession", nil, http.StatusOK},
		{"cancel", "/api/sessions/sess-1/cancel", "CancelSession", nil, http.StatusOK},
		{"confirm declined", "/api/sessions/sess-1/confirm", "ConfirmPayment", models.ErrPaymentDeclined, http.StatusPaymentRequired},
		{"confirm unknown", "/api/sessions/sess-1/confirm", "ConfirmPayment", models.ErrPaymentUnknown, http.StatusServiceUnavailable},
		{"internal", "/api/sessions/sess-1/confirm", "ConfirmPayment", fmt.Errorf("temporal down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(mocks.MockParkingService)
			router := setupTestRouter(NewHandler(mockService))

			var ret *models.Session
			if tt.mockError == nil {
				ret = &models.Session{ID: "sess-1", UserID: testUser, Status: models.SessionStatusActive}
			}
			mockService.On(tt.method, mock.Anything, testUser, "sess-1").Return(ret, tt.mockError)

			httpMethod := http.MethodPost
			if tt.method == "GetSession" {
				httpMethod = http.MethodGet
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(httpMethod, tt.path, nil))

			assert.Equal(t, tt.expectedStatus, rec.Code)
			if tt.expectedStatus == http.StatusInternalServerError {
				assert.Equal(t, "internal error", decodeError(t, rec)["error"])
			}
			mockService.AssertExpectations(t)
		})
	}
}

func TestHandler_EstimateCost(t *testing.T) {
	mockService := new(mocks.MockParkingService)
	router := setupTestRouter(NewHandler(mockService))

	mockService.On("EstimateCost", mock.Anything, testUser, "sess-1", 30*time.Minute).Return(&models.SessionEstimate{
		SessionID: "sess-1",
		Minutes:   33,
		Amount:    decimal.RequireFromString("3.30"),
		Currency:  "usd",
	}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/sess-1/estimate?extend=30m", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var est models.SessionEstimate
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&est))
	assert.Equal(t, int64(33), est.Minutes)
	assert.Equal(t, "3.30", est.Amount.StringFixed(2))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/sess-1/estimate?extend=soon", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	mockService.AssertExpectations(t)
}

func TestHandler_History(t *testing.T) {
	mockService := new(mocks.MockParkingService)
	router := setupTestRouter(NewHandler(mockService))

	mockService.On("History", mock.Anything, testUser, "42", 10, models.SessionStatusCompleted).Return(&models.HistoryPage{
		Records:    []models.TransactionRecord{{ID: 41, SessionID: "sess-1", Amount: decimal.RequireFromString("0.30")}},
		NextCursor: "41",
	}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history?cursor=42&limit=10&status=completed", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var page models.HistoryPage
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	require.Len(t, page.Records, 1)
	assert.Equal(t, int64(41), page.Records[0].ID)
	assert.Equal(t, "41", page.NextCursor)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history?limit=many", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	mockService.AssertExpectations(t)
}

func TestHandler_Refund(t *testing.T) {
	tests := []struct {
		name           string
		path           string
		key            string
		body           string
		callService    bool
		mockError      error
		expectedStatus int
	}{
		{"refunded", "/api/history/41/refunds", "refund-1", `{"amount":"0.10","reason":"sensor fault"}`, true, nil, http.StatusCreated},
		{"over refund", "/api/history/41/refunds", "refund-2", `{"amount":"9.00"}`, true, models.ErrInvalidRequest, http.StatusBadRequest},
		{"missing key", "/api/history/41/refunds", "", `{"amount":"0.10"}`, false, nil, http.StatusBadRequest},
		{"bad record id", "/api/history/abc/refunds", "refund-1", `{"amount":"0.10"}`, false, nil, http.StatusBadRequest},
		{"zero amount", "/api/history/41/refunds", "refund-1", `{"amount":"0"}`, false, nil, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(mocks.MockParkingService)
			router := setupTestRouter(NewHandler(mockService))

			if tt.callService {
				var ret *models.TransactionRecord
				if tt.mockError == nil {
					ret = &models.TransactionRecord{ID: 77, Kind: models.TransactionKindCompensation, Corrects: 41}
				}
				mockService.On("Refund", mock.Anything, testUser, int64(41), tt.key, mock.AnythingOfType("models.RefundRequest")).
					Return(ret, tt.mockError)
			}

			req := httptest.NewRequest(http.MethodPost, tt.path, bytes.NewBufferString(tt.body))
			if tt.key != "" {
				req.Header.Set("Idempotency-Key", tt.key)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			mockService.AssertExpectations(t)
		})
	}
}

func TestHandler_ListSpots(t *testing.T) {
	mockService := new(mocks.MockParkingService)
	router := setupTestRouter(NewHandler(mockService))

	scope := models.FloorScope{StructureID: "garage-1", FloorID: "L1"}
	mockService.On("ListSpots", mock.Anything, scope).Return([]models.Spot{
		{SpotRef: models.SpotRef{StructureID: "garage-1", FloorID: "L1", SpotID: "A-01"}, Occupied: true, Version: 3},
	}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/structures/garage-1/floors/L1/spots", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var spots []models.Spot
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&spots))
	require.Len(t, spots, 1)
	assert.True(t, spots[0].Occupied)
	mockService.AssertExpectations(t)
}
