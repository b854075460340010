package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cx-tal-miterani/parking-session-system/internal/billing"
	"github.com/cx-tal-miterani/parking-session-system/internal/models"
	"github.com/cx-tal-miterani/parking-session-system/internal/occupancy"
	"github.com/cx-tal-miterani/parking-session-system/internal/pricing"
	"github.com/cx-tal-miterani/parking-session-system/internal/session"
	"github.com/cx-tal-miterani/parking-session-system/internal/workflows"
	"github.com/google/uuid"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
)

// ParkingService defines the parking session service interface
type ParkingService interface {
	RequestSession(ctx context.Context, userID string, req *models.RequestSessionRequest) (*models.Session, error)
	GetSession(ctx context.Context, userID, sessionID string) (*models.Session, error)
	StartSession(ctx context.Context, userID, sessionID string) (*models.Session, error)
	Heartbeat(ctx context.Context, userID, sessionID string) (*models.Session, error)
	StopSession(ctx context.Context, userID, sessionID string) (*models.Session, error)
	CancelSession(ctx context.Context, userID, sessionID string) (*models.Session, error)
	ConfirmPayment(ctx context.Context, userID, sessionID string) (*models.Session, error)
	EstimateCost(ctx context.Context, userID, sessionID string, extend time.Duration) (*models.SessionEstimate, error)
	History(ctx context.Context, userID, cursor string, limit int, status models.SessionStatus) (*models.HistoryPage, error)
	Refund(ctx context.Context, userID string, recordID int64, key string, req models.RefundRequest) (*models.TransactionRecord, error)
	ListSpots(ctx context.Context, scope models.FloorScope) ([]models.Spot, error)
	RecordHeartbeat(ctx context.Context, sessionID, source string) error
}

// Assigner picks and claims a spot for a new session
type Assigner interface {
	Assign(ctx context.Context, criteria models.AssignmentCriteria, sessionID string) (*models.Spot, error)
}

// Ledger is the read side of the transaction ledger plus compensations
type Ledger interface {
	History(ctx context.Context, userID, cursor string, limit int, status models.SessionStatus) (*models.HistoryPage, error)
	Compensate(ctx context.Context, userID string, originalID int64, key string, req models.RefundRequest) (*models.TransactionRecord, bool, error)
}

// Deps wires the service to its collaborators
type Deps struct {
	Temporal  client.Client
	TaskQueue string
	Policy    models.SessionPolicy
	Assigner  Assigner
	Spots     occupancy.Store
	Pricing   pricing.Source
	Sessions  session.Store
	Ledger    Ledger
}

// parkingServiceImpl implements ParkingService
type parkingServiceImpl struct {
	Deps
	now func() time.Time
}

// NewParkingService creates a new ParkingService
func NewParkingService(d Deps) ParkingService {
	if d.TaskQueue == "" {
		d.TaskQueue = workflows.TaskQueue
	}
	return &parkingServiceImpl{Deps: d, now: func() time.Time { return time.Now().UTC() }}
}

func (s *parkingServiceImpl) RequestSession(ctx context.Context, userID string, req *models.RequestSessionRequest) (*models.Session, error) {
	if req.Organization == "" || req.StructureID == "" {
		return nil, fmt.Errorf("%w: organization and structureId are required", models.ErrInvalidRequest)
	}

	sessionID := uuid.New().String()
	spot, err := s.Assigner.Assign(ctx, req.Criteria(), sessionID)
	if err != nil {
		return nil, err
	}

	quote, err := s.Pricing.Quote(ctx, spot.StructureID, spot.FloorID)
	if err != nil {
		s.giveBack(ctx, spot.SpotRef, sessionID)
		return nil, fmt.Errorf("failed to price spot: %w", err)
	}

	sess := session.New(sessionID, userID)
	sess.CustomerRef = req.CustomerRef
	if _, err := session.Reserve(sess, spot.SpotRef, quote, s.now()); err != nil {
		s.giveBack(ctx, spot.SpotRef, sessionID)
		return nil, err
	}

	workflowOptions := client.StartWorkflowOptions{
		ID:        workflows.WorkflowID(sessionID),
		TaskQueue: s.TaskQueue,
	}
	input := models.SessionWorkflowInput{Session: *sess, Policy: s.Policy}
	if _, err := s.Temporal.ExecuteWorkflow(ctx, workflowOptions, workflows.SessionWorkflow, input); err != nil {
		s.giveBack(ctx, spot.SpotRef, sessionID)
		return nil, fmt.Errorf("failed to start workflow: %w", err)
	}

	return sess, nil
}

// giveBack releases a spot claimed for a session that never got a workflow
func (s *parkingServiceImpl) giveBack(ctx context.Context, ref models.SpotRef, sessionID string) {
	if _, err := occupancy.ReleaseFor(ctx, s.Spots, ref, sessionID, occupancy.DefaultReleaseAttempts); err != nil {
		log.Printf("Failed to release spot %s of session %s: %v", ref, sessionID, err)
	}
}

func (s *parkingServiceImpl) GetSession(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	return s.load(ctx, userID, sessionID)
}

// load reads the live state from the workflow, falling back to the persisted snapshot
// once the workflow is gone
func (s *parkingServiceImpl) load(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	sess, err := s.query(ctx, sessionID)
	if err != nil {
		stored, serr := s.Sessions.Get(ctx, sessionID)
		if serr != nil {
			if errors.Is(serr, models.ErrNotFound) {
				return nil, fmt.Errorf("%w: session %s", models.ErrNotFound, sessionID)
			}
			return nil, fmt.Errorf("failed to load session: %w", serr)
		}
		sess = stored
	}
	if sess.UserID != userID {
		return nil, fmt.Errorf("%w: session %s belongs to another user", models.ErrForbidden, sessionID)
	}
	return sess, nil
}

func (s *parkingServiceImpl) query(ctx context.Context, sessionID string) (*models.Session, error) {
	response, err := s.Temporal.QueryWorkflow(ctx, workflows.WorkflowID(sessionID), "", models.QueryGetSession)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow: %w", err)
	}

	var sess models.Session
	if err := response.Get(&sess); err != nil {
		return nil, fmt.Errorf("failed to decode session state: %w", err)
	}
	return &sess, nil
}

// request signals the session workflow when the current status accepts the request.
// Terminal sessions are reported as they are.
func (s *parkingServiceImpl) request(ctx context.Context, userID, sessionID, signal string, accepts ...models.SessionStatus) (*models.Session, error) {
	sess, err := s.load(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status.Terminal() {
		return sess, nil
	}
	if !statusIn(sess.Status, accepts) {
		return nil, fmt.Errorf("%w: %s is not accepted while %s", models.ErrInvalidTransition, signal, sess.Status)
	}

	if err := s.Temporal.SignalWorkflow(ctx, workflows.WorkflowID(sessionID), "", signal, nil); err != nil {
		return nil, fmt.Errorf("failed to signal workflow: %w", err)
	}

	if updated, err := s.query(ctx, sessionID); err == nil {
		return updated, nil
	}
	return sess, nil
}

func statusIn(status models.SessionStatus, accepts []models.SessionStatus) bool {
	for _, a := range accepts {
		if a == status {
			return true
		}
	}
	return false
}

func (s *parkingServiceImpl) StartSession(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	return s.request(ctx, userID, sessionID, models.SignalStartSession, models.SessionStatusReserved)
}

func (s *parkingServiceImpl) Heartbeat(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	return s.request(ctx, userID, sessionID, models.SignalHeartbeat, models.SessionStatusReserved, models.SessionStatusActive)
}

func (s *parkingServiceImpl) StopSession(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	return s.request(ctx, userID, sessionID, models.SignalStopSession, models.SessionStatusReserved, models.SessionStatusActive)
}

func (s *parkingServiceImpl) CancelSession(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	return s.request(ctx, userID, sessionID, models.SignalCancelSession,
		models.SessionStatusReserved, models.SessionStatusActive, models.SessionStatusFinalizing)
}

func (s *parkingServiceImpl) ConfirmPayment(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	return s.request(ctx, userID, sessionID, models.SignalConfirmPayment, models.SessionStatusFinalizing)
}

// RecordHeartbeat forwards a device heartbeat; devices are trusted by session id alone
func (s *parkingServiceImpl) RecordHeartbeat(ctx context.Context, sessionID, source string) error {
	signal := models.HeartbeatSignal{Source: source}
	if err := s.Temporal.SignalWorkflow(ctx, workflows.WorkflowID(sessionID), "", models.SignalHeartbeat, signal); err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			return fmt.Errorf("%w: no running session %s", models.ErrNotFound, sessionID)
		}
		return fmt.Errorf("failed to signal heartbeat: %w", err)
	}
	return nil
}

// EstimateCost projects the charge if the session ran extend past now.
// A finalizing or finished session reports its frozen interval.
func (s *parkingServiceImpl) EstimateCost(ctx context.Context, userID, sessionID string, extend time.Duration) (*models.SessionEstimate, error) {
	if extend < 0 {
		return nil, fmt.Errorf("%w: extend must not be negative", models.ErrInvalidRequest)
	}
	sess, err := s.load(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	start, until := sess.StartTime, now.Add(extend)
	switch {
	case sess.Status == models.SessionStatusReserved:
		start = now
	case sess.Status == models.SessionStatusFinalizing:
		until = sess.StopRequestedAt.Time
	case sess.Status.Terminal():
		until = sess.EndTime.Time
	}

	minutes, amount := billing.Estimate(start, until, sess.Rate)
	return &models.SessionEstimate{
		SessionID: sess.ID,
		Until:     until,
		Minutes:   minutes,
		Amount:    amount,
		Currency:  sess.Currency,
	}, nil
}

func (s *parkingServiceImpl) History(ctx context.Context, userID, cursor string, limit int, status models.SessionStatus) (*models.HistoryPage, error) {
	return s.Ledger.History(ctx, userID, cursor, limit, status)
}

func (s *parkingServiceImpl) Refund(ctx context.Context, userID string, recordID int64, key string, req models.RefundRequest) (*models.TransactionRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("%w: an idempotency key is required", models.ErrInvalidRequest)
	}
	rec, _, err := s.Ledger.Compensate(ctx, userID, recordID, key, req)
	return rec, err
}

func (s *parkingServiceImpl) ListSpots(ctx context.Context, scope models.FloorScope) ([]models.Spot, error) {
	if scope.StructureID == "" || scope.FloorID == "" {
		return nil, fmt.Errorf("%w: structure and floor are required", models.ErrInvalidRequest)
	}
	return s.Spots.ListFloor(ctx, scope)
}
