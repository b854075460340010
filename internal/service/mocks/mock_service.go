package mocks

import (
	"context"
	"time"

	"github.com/cx-tal-miterani/parking-session-system/internal/models"
	"github.com/stretchr/testify/mock"
)

// MockParkingService is a mock implementation of ParkingService
type MockParkingService struct {
	mock.Mock
}

func (m *MockParkingService) RequestSession(ctx context.Context, userID string, req *models.RequestSessionRequest) (*models.Session, error) {
	args := m.Called(ctx, userID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Session), args.Error(1)
}

func (m *MockParkingService) GetSession(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	args := m.Called(ctx, userID, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Session), args.Error(1)
}

func (m *MockParkingService) StartSession(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	args := m.Called(ctx, userID, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Session), args.Error(1)
}

func (m *MockParkingService) Heartbeat(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	args := m.Called(ctx, userID, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Session), args.Error(1)
}

func (m *MockParkingService) StopSession(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	args := m.Called(ctx, userID, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Session), args.Error(1)
}

func (m *MockParkingService) CancelSession(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	args := m.Called(ctx, userID, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Session), args.Error(1)
}

func (m *MockParkingService) ConfirmPayment(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	args := m.Called(ctx, userID, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Session), args.Error(1)
}

func (m *MockParkingService) EstimateCost(ctx context.Context, userID, sessionID string, extend time.Duration) (*models.SessionEstimate, error) {
	args := m.Called(ctx, userID, sessionID, extend)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SessionEstimate), args.Error(1)
}

func (m *MockParkingService) History(ctx context.Context, userID, cursor string, limit int, status models.SessionStatus) (*models.HistoryPage, error) {
	args := m.Called(ctx, userID, cursor, limit, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.HistoryPage), args.Error(1)
}

func (m *MockParkingService) Refund(ctx context.Context, userID string, recordID int64, key string, req models.RefundRequest) (*models.TransactionRecord, error) {
	args := m.Called(ctx, userID, recordID, key, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TransactionRecord), args.Error(1)
}

func (m *MockParkingService) ListSpots(ctx context.Context, scope models.FloorScope) ([]models.Spot, error) {
	args := m.Called(ctx, scope)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Spot), args.Error(1)
}

func (m *MockParkingService) RecordHeartbeat(ctx context.Context, sessionID, source string) error {
	args := m.Called(ctx, sessionID, source)
	return args.Error(0)
}
