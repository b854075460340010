package mocks

import (
	"context"

	"github.com/cx-tal-miterani/parking-session-system/internal/payment"
	"github.com/stretchr/testify/mock"
)

// MockProcessor is a mock implementation of payment.Processor
type MockProcessor struct {
	mock.Mock
}

func (m *MockProcessor) CreateCharge(ctx context.Context, req payment.ChargeRequest) (*payment.Charge, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Charge), args.Error(1)
}

func (m *MockProcessor) GetCharge(ctx context.Context, idempotencyKey string) (*payment.Charge, error) {
	args := m.Called(ctx, idempotencyKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Charge), args.Error(1)
}

func (m *MockProcessor) CreateRefund(ctx context.Context, req payment.RefundRequest) (*payment.Refund, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Refund), args.Error(1)
}
