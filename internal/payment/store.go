package payment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cx-tal-miterani/parking-session-system/internal/models"
	"gopkg.in/guregu/null.v4"
)

// Store is the idempotency ledger: the only authority on whether a charge happened.
// Begin inserts a pending payment unless one exists for the key and returns the stored
// row either way. Settle finalises a pending payment; a settled payment is never changed.
type Store interface {
	Begin(ctx context.Context, p models.Payment) (*models.Payment, bool, error)
	Settle(ctx context.Context, key string, status models.PaymentStatus, chargeID, reason string, attempts int) (*models.Payment, error)
	Get(ctx context.Context, key string) (*models.Payment, error)
	ListPending(ctx context.Context, createdBefore time.Time, limit int) ([]models.Payment, error)
}

// MemoryStore is a Store for local runs and tests
type MemoryStore struct {
	mu       sync.Mutex
	payments map[string]models.Payment
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{payments: make(map[string]models.Payment), now: time.Now}
}

func (m *MemoryStore) Begin(_ context.Context, p models.Payment) (*models.Payment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.payments[p.IdempotencyKey]; ok {
		return &existing, false, nil
	}

	now := m.now()
	p.Status = models.PaymentStatusPending
	p.CreatedAt = now
	p.UpdatedAt = now
	m.payments[p.IdempotencyKey] = p
	return &p, true, nil
}

func (m *MemoryStore) Settle(_ context.Context, key string, status models.PaymentStatus, chargeID, reason string, attempts int) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payments[key]
	if !ok {
		return nil, models.ErrNotFound
	}
	if p.Status != models.PaymentStatusPending {
		return &p, nil
	}

	p.Status = status
	if chargeID != "" {
		p.ProcessorChargeID = null.StringFrom(chargeID)
	}
	p.FailureReason = reason
	p.Attempts = attempts
	p.UpdatedAt = m.now()
	m.payments[key] = p
	return &p, nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payments[key]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &p, nil
}

func (m *MemoryStore) ListPending(_ context.Context, createdBefore time.Time, limit int) ([]models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var pending []models.Payment
	for _, p := range m.payments {
		if p.Status == models.PaymentStatusPending && p.CreatedAt.Before(createdBefore) {
			pending = append(pending, p)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}
