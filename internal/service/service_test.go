package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cx-tal-miterani/parking-session-system/internal/assignment"
	"github.com/cx-tal-miterani/parking-session-system/internal/models"
	"github.com/cx-tal-miterani/parking-session-system/internal/occupancy"
	"github.com/cx-tal-miterani/parking-session-system/internal/pricing"
	"github.com/cx-tal-miterani/parking-session-system/internal/session"
	"github.com/cx-tal-miterani/parking-session-system/internal/workflows"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/mocks"
	"gopkg.in/guregu/null.v4"
)

var (
	spotA = models.SpotRef{StructureID: "garage-1", FloorID: "L1", SpotID: "A-01"}
	now   = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
)

type fixture struct {
	svc      *parkingServiceImpl
	temporal *mocks.Client
	spots    *occupancy.MemoryStore
	sessions *session.MemoryStore
}

func newFixture(spots ...models.Spot) *fixture {
	f := &fixture{
		temporal: &mocks.Client{},
		spots:    occupancy.NewMemoryStore(spots...),
		sessions: session.NewMemoryStore(),
	}
	svc := NewParkingService(Deps{
		Temporal: f.temporal,
		Policy:   models.DefaultSessionPolicy(),
		Assigner: assignment.NewAssigner(f.spots, assignment.DefaultCandidateLimit),
		Spots:    f.spots,
		Pricing: pricing.Static{Default: pricing.Quote{
			Rate:     decimal.RequireFromString("0.10"),
			Currency: "usd",
		}},
		Sessions: f.sessions,
	}).(*parkingServiceImpl)
	svc.now = func() time.Time { return now }
	f.svc = svc
	return f
}

// live makes the workflow query answer with sess
func (f *fixture) live(sess models.Session) {
	value := &mocks.Value{}
	value.On("Get", mock.Anything).Run(func(args mock.Arguments) {
		*args.Get(0).(*models.Session) = sess
	}).Return(nil)
	f.temporal.On("QueryWorkflow", mock.Anything, workflows.WorkflowID(sess.ID), "", models.QueryGetSession).Return(value, nil)
}

func activeSession() models.Session {
	return models.Session{
		ID:            "sess-1",
		UserID:        "user-1",
		Spot:          spotA,
		Rate:          decimal.RequireFromString("0.10"),
		Currency:      "usd",
		Status:        models.SessionStatusActive,
		StartTime:     now.Add(-125 * time.Second),
		LastHeartbeat: now,
	}
}

func TestRequestSession_ClaimsSpotAndStartsWorkflow(t *testing.T) {
	f := newFixture(models.Spot{SpotRef: spotA, Organization: "acme"})
	f.temporal.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&mocks.WorkflowRun{}, nil).Once()

	sess, err := f.svc.RequestSession(context.Background(), "user-1", &models.RequestSessionRequest{
		Organization: "acme",
		StructureID:  "garage-1",
	})

	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusReserved, sess.Status)
	assert.Equal(t, spotA, sess.Spot)
	assert.Equal(t, "0.10", sess.Rate.StringFixed(2))
	assert.Equal(t, now, sess.ReservedAt)

	spot, err := f.spots.Get(context.Background(), spotA)
	require.NoError(t, err)
	assert.True(t, spot.Occupied)
	assert.Equal(t, sess.ID, spot.ReservedBy.String)
	f.temporal.AssertExpectations(t)
}

func TestRequestSession_ReleasesSpotWhenWorkflowFails(t *testing.T) {
	f := newFixture(models.Spot{SpotRef: spotA, Organization: "acme"})
	f.temporal.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("temporal unavailable")).Once()

	_, err := f.svc.RequestSession(context.Background(), "user-1", &models.RequestSessionRequest{
		Organization: "acme",
		StructureID:  "garage-1",
	})

	require.Error(t, err)
	spot, err := f.spots.Get(context.Background(), spotA)
	require.NoError(t, err)
	assert.False(t, spot.Occupied)
}

func TestRequestSession_NoAvailability(t *testing.T) {
	f := newFixture()

	_, err := f.svc.RequestSession(context.Background(), "user-1", &models.RequestSessionRequest{
		Organization: "acme",
		StructureID:  "garage-1",
	})

	assert.ErrorIs(t, err, models.ErrNoAvailability)
	f.temporal.AssertNotCalled(t, "ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRequestSession_Validation(t *testing.T) {
	f := newFixture()
	_, err := f.svc.RequestSession(context.Background(), "user-1", &models.RequestSessionRequest{Organization: "acme"})
	assert.ErrorIs(t, err, models.ErrInvalidRequest)
}

func TestGetSession_OtherUserForbidden(t *testing.T) {
	f := newFixture()
	f.live(activeSession())

	_, err := f.svc.GetSession(context.Background(), "user-2", "sess-1")
	assert.ErrorIs(t, err, models.ErrForbidden)
}

func TestGetSession_FallsBackToStore(t *testing.T) {
	f := newFixture()
	f.temporal.On("QueryWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("workflow not found"))
	done := activeSession()
	done.Status = models.SessionStatusCompleted
	require.NoError(t, f.sessions.Save(context.Background(), &done))

	sess, err := f.svc.GetSession(context.Background(), "user-1", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCompleted, sess.Status)

	_, err = f.svc.GetSession(context.Background(), "user-1", "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestStopSession_SignalsWorkflow(t *testing.T) {
	f := newFixture()
	f.live(activeSession())
	f.temporal.On("SignalWorkflow", mock.Anything, "session-sess-1", "", models.SignalStopSession, nil).Return(nil).Once()

	sess, err := f.svc.StopSession(context.Background(), "user-1", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", sess.ID)
	f.temporal.AssertExpectations(t)
}

func TestTerminalSession_RequestsAreNoOps(t *testing.T) {
	f := newFixture()
	done := activeSession()
	done.Status = models.SessionStatusCancelled
	done.EndTime = null.TimeFrom(now)
	f.live(done)

	for _, call := range []func(context.Context, string, string) (*models.Session, error){
		f.svc.StartSession, f.svc.StopSession, f.svc.CancelSession, f.svc.ConfirmPayment, f.svc.Heartbeat,
	} {
		sess, err := call(context.Background(), "user-1", "sess-1")
		require.NoError(t, err)
		assert.Equal(t, models.SessionStatusCancelled, sess.Status)
	}
	f.temporal.AssertNotCalled(t, "SignalWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestConfirmPayment_RejectedWhileActive(t *testing.T) {
	f := newFixture()
	f.live(activeSession())

	_, err := f.svc.ConfirmPayment(context.Background(), "user-1", "sess-1")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = f.svc.StartSession(context.Background(), "user-1", "sess-1")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestRecordHeartbeat(t *testing.T) {
	f := newFixture()
	f.temporal.On("SignalWorkflow", mock.Anything, "session-sess-1", "", models.SignalHeartbeat,
		models.HeartbeatSignal{Source: "beacon-7"}).Return(nil).Once()

	require.NoError(t, f.svc.RecordHeartbeat(context.Background(), "sess-1", "beacon-7"))
	f.temporal.AssertExpectations(t)
}

func TestRecordHeartbeat_ClosedSession(t *testing.T) {
	f := newFixture()
	f.temporal.On("SignalWorkflow", mock.Anything, "session-sess-9", "", models.SignalHeartbeat, mock.Anything).
		Return(serviceerror.NewNotFound("workflow execution already completed")).Once()

	err := f.svc.RecordHeartbeat(context.Background(), "sess-9", "beacon-7")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestEstimateCost(t *testing.T) {
	f := newFixture()
	f.live(activeSession())

	tests := []struct {
		name    string
		extend  time.Duration
		minutes int64
		amount  string
	}{
		{"now", 0, 3, "0.30"},
		{"extended half hour", 30 * time.Minute, 33, "3.30"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			est, err := f.svc.EstimateCost(context.Background(), "user-1", "sess-1", tt.extend)
			require.NoError(t, err)
			assert.Equal(t, tt.minutes, est.Minutes)
			assert.Equal(t, tt.amount, est.Amount.StringFixed(2))
			assert.Equal(t, now.Add(tt.extend), est.Until)
		})
	}

	_, err := f.svc.EstimateCost(context.Background(), "user-1", "sess-1", -time.Minute)
	assert.ErrorIs(t, err, models.ErrInvalidRequest)
}

func TestEstimateCost_FinalizingUsesStopTime(t *testing.T) {
	f := newFixture()
	sess := activeSession()
	sess.Status = models.SessionStatusFinalizing
	sess.StopRequestedAt = null.TimeFrom(sess.StartTime.Add(61 * time.Second))
	f.live(sess)

	est, err := f.svc.EstimateCost(context.Background(), "user-1", "sess-1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), est.Minutes)
	assert.Equal(t, "0.20", est.Amount.StringFixed(2))
}

func TestRefund_RequiresKey(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Refund(context.Background(), "user-1", 1, " ", models.RefundRequest{Amount: decimal.RequireFromString("1")})
	assert.ErrorIs(t, err, models.ErrInvalidRequest)
}

func TestListSpots(t *testing.T) {
	f := newFixture(
		models.Spot{SpotRef: spotA, Organization: "acme"},
		models.Spot{SpotRef: models.SpotRef{StructureID: "garage-1", FloorID: "L2", SpotID: "B-01"}, Organization: "acme"},
	)

	spots, err := f.svc.ListSpots(context.Background(), models.FloorScope{StructureID: "garage-1", FloorID: "L1"})
	require.NoError(t, err)
	require.Len(t, spots, 1)
	assert.Equal(t, spotA, spots[0].SpotRef)

	_, err = f.svc.ListSpots(context.Background(), models.FloorScope{StructureID: "garage-1"})
	assert.ErrorIs(t, err, models.ErrInvalidRequest)
}
