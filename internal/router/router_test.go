package router

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cx-tal-miterani/parking-session-system/internal/feed"
	"github.com/cx-tal-miterani/parking-session-system/internal/handlers"
	"github.com/cx-tal-miterani/parking-session-system/internal/middleware"
	"github.com/cx-tal-miterani/parking-session-system/internal/models"
	"github.com/cx-tal-miterani/parking-session-system/internal/occupancy"
	"github.com/cx-tal-miterani/parking-session-system/internal/service/mocks"
	"github.com/cx-tal-miterani/parking-session-system/internal/websocket"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const secret = "router-secret"

func setup() (*mocks.MockParkingService, http.Handler) {
	svc := new(mocks.MockParkingService)
	hub := websocket.NewHub(feed.NewBroker(0), occupancy.NewMemoryStore())
	return svc, SetupRouter(handlers.NewHandler(svc), hub, secret, nil)
}

func token(t *testing.T, sub string) string {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestRouter_SessionRoutesRequireToken(t *testing.T) {
	svc, r := setup()

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/sess-1", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	svc.On("GetSession", mock.Anything, "user-9", "sess-1").Return(&models.Session{ID: "sess-1", UserID: "user-9"}, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/sessions/sess-1", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, "user-9"))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	svc.AssertExpectations(t)
}

func TestRouter_PublicRoutes(t *testing.T) {
	svc, r := setup()
	svc.On("ListSpots", mock.Anything, models.FloorScope{StructureID: "garage-1", FloorID: "L1"}).Return([]models.Spot{}, nil)

	for _, path := range []string{"/health", "/metrics", "/api/structures/garage-1/floors/L1/spots"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestRouter_Preflight(t *testing.T) {
	_, r := setup()

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/sessions", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Idempotency-Key")
}

func TestRouter_LimiterSeesAuthenticatedCaller(t *testing.T) {
	svc := new(mocks.MockParkingService)
	hub := websocket.NewHub(feed.NewBroker(0), occupancy.NewMemoryStore())

	var seen []string
	limit := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, _ := middleware.UserID(r.Context())
			seen = append(seen, r.URL.Path+"|"+id)
			next.ServeHTTP(w, r)
		})
	}
	r := SetupRouter(handlers.NewHandler(svc), hub, secret, limit)

	svc.On("GetSession", mock.Anything, "user-9", "sess-1").Return(&models.Session{ID: "sess-1", UserID: "user-9"}, nil)
	svc.On("ListSpots", mock.Anything, models.FloorScope{StructureID: "garage-1", FloorID: "L1"}).Return([]models.Spot{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/sess-1", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, "user-9"))
	r.ServeHTTP(httptest.NewRecorder(), req)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/structures/garage-1/floors/L1/spots", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, []string{"/api/sessions/sess-1|user-9", "/api/structures/garage-1/floors/L1/spots|"}, seen)
}
