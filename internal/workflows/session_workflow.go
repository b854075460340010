package workflows

import (
	"errors"
	"fmt"
	"time"

	"github.com/cx-tal-miterani/parking-session-system/internal/activities"
	"github.com/cx-tal-miterani/parking-session-system/internal/billing"
	"github.com/cx-tal-miterani/parking-session-system/internal/models"
	"github.com/cx-tal-miterani/parking-session-system/internal/session"
	"github.com/shopspring/decimal"
	"go.temporal.io/sdk/log"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	// TaskQueue is where session workflows and their activities run
	TaskQueue = "parking-sessions"
	// PaymentTimeout bounds a single capture attempt, gateway backoff included
	PaymentTimeout = 2 * time.Minute
)

// WorkflowID is the workflow id of a session; one workflow serializes every transition of it
func WorkflowID(sessionID string) string {
	return "session-" + sessionID
}

// CaptureKey is the idempotency key of the n-th confirmed capture of a session
func CaptureKey(sessionID string, attempt int) string {
	return fmt.Sprintf("%s:capture:%d", sessionID, attempt)
}

// ExpiryKey is the idempotency key of the best-effort charge of an expired session
func ExpiryKey(sessionID string) string {
	return sessionID + ":expiry"
}

// activity method values resolve to registered names on a nil receiver
var a *activities.Activities

var (
	shortOptions = workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    5,
		},
	}

	// releasing the spot keeps retrying; the reconciliation sweeper covers what is left behind
	releaseOptions = workflow.ActivityOptions{
		StartToCloseTimeout:    10 * time.Second,
		ScheduleToCloseTimeout: time.Hour,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
		},
	}

	paymentOptions = workflow.ActivityOptions{
		StartToCloseTimeout: PaymentTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        time.Minute,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{activities.ErrTypePaymentDeclined, activities.ErrTypeInvalidPayment},
		},
	}

	// a lookup never submits a charge, so it backs off longer to let the processor settle
	resolveOptions = workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        5 * time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        time.Minute,
			MaximumAttempts:        4,
			NonRetryableErrorTypes: []string{activities.ErrTypeInvalidPayment},
		},
	}
)

type sessionRun struct {
	ctx    workflow.Context
	logger log.Logger
	s      *models.Session
	policy models.SessionPolicy

	start, heartbeat, stop, cancel, confirm workflow.ReceiveChannel

	minutes      int64
	confirmBy    time.Time
	expiryCharge bool
	charge       *chargeAttempt
}

// chargeAttempt is the outcome of the last capture the workflow asked for
type chargeAttempt struct {
	status   models.PaymentStatus
	chargeID string
}

// paymentFailure is the stable kind and processor reason of a capture that did not succeed
type paymentFailure struct {
	kind   models.ErrorKind
	reason string
}

// signal handlers of one wait; a nil handler still drains its channel
type handlers struct {
	start, heartbeat, stop, cancel, confirm func(now time.Time)
}

// SessionWorkflow drives one reserved session to a terminal state.
// Deadlines are re-evaluated on every iteration, so a heartbeat or a replay never extends a window by accident.
func SessionWorkflow(ctx workflow.Context, input models.SessionWorkflowInput) (*models.Session, error) {
	s := input.Session
	if s.Status != models.SessionStatusReserved {
		return nil, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("session %s cannot start in %s", s.ID, s.Status), "InvalidSession", nil)
	}

	r := &sessionRun{
		ctx:       ctx,
		logger:    workflow.GetLogger(ctx),
		s:         &s,
		policy:    withDefaults(input.Policy),
		start:     workflow.GetSignalChannel(ctx, models.SignalStartSession),
		heartbeat: workflow.GetSignalChannel(ctx, models.SignalHeartbeat),
		stop:      workflow.GetSignalChannel(ctx, models.SignalStopSession),
		cancel:    workflow.GetSignalChannel(ctx, models.SignalCancelSession),
		confirm:   workflow.GetSignalChannel(ctx, models.SignalConfirmPayment),
	}

	err := workflow.SetQueryHandler(ctx, models.QueryGetSession, func() (models.Session, error) {
		return *r.s, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register query handler: %w", err)
	}

	r.logger.Info("Session workflow started", "sessionID", s.ID, "spot", s.Spot.String())
	r.save()

	for !r.s.Status.Terminal() {
		var err error
		switch {
		case r.ctx.Err() != nil:
			err = r.abandon()
		case r.s.Status == models.SessionStatusReserved:
			err = r.reserved()
		case r.s.Status == models.SessionStatusActive:
			err = r.active()
		case r.s.Status == models.SessionStatusFinalizing:
			err = r.finalizing()
		default:
			err = fmt.Errorf("%w: unexpected status %s", models.ErrInvalidTransition, r.s.Status)
		}
		if err != nil {
			r.logger.Error("Session workflow failed", "sessionID", s.ID, "error", err)
			return r.s, err
		}
	}

	r.closeOut()
	r.logger.Info("Session workflow finished", "sessionID", s.ID, "status", r.s.Status)
	return r.s, nil
}

func withDefaults(p models.SessionPolicy) models.SessionPolicy {
	def := models.DefaultSessionPolicy()
	if p.ReservationHold <= 0 {
		p.ReservationHold = def.ReservationHold
	}
	if p.HeartbeatGrace <= 0 {
		p.HeartbeatGrace = def.HeartbeatGrace
	}
	if p.MaxDuration <= 0 {
		p.MaxDuration = def.MaxDuration
	}
	if p.ConfirmWindow <= 0 {
		p.ConfirmWindow = def.ConfirmWindow
	}
	if p.MaxPaymentAttempts <= 0 {
		p.MaxPaymentAttempts = def.MaxPaymentAttempts
	}
	return p
}

func (r *sessionRun) reserved() error {
	now := workflow.Now(r.ctx)
	deadline := r.s.ReservedAt.Add(r.policy.ReservationHold)
	if grace := r.s.LastHeartbeat.Add(r.policy.HeartbeatGrace); grace.Before(deadline) {
		deadline = grace
	}
	if !now.Before(deadline) {
		return r.transition(session.Expire(r.s, "reservation was never started", now))
	}

	var err error
	leave := func(now time.Time) { err = r.transition(session.Cancel(r.s, now)) }
	r.wait(deadline, handlers{
		start:     func(now time.Time) { err = r.transition(session.Activate(r.s, now)) },
		heartbeat: func(now time.Time) { session.Heartbeat(r.s, now) },
		stop:      leave,
		cancel:    leave,
	})
	return err
}

func (r *sessionRun) active() error {
	now := workflow.Now(r.ctx)
	maxAt := r.s.StartTime.Add(r.policy.MaxDuration)
	graceAt := r.s.LastHeartbeat.Add(r.policy.HeartbeatGrace)

	if !graceAt.After(now) && !graceAt.After(maxAt) {
		return r.expireActive("heartbeat grace elapsed", now)
	}
	if !maxAt.After(now) {
		return r.transition(session.BeginFinalize(r.s, models.FinalizeReasonMaxDuration, maxAt))
	}

	deadline := graceAt
	if maxAt.Before(deadline) {
		deadline = maxAt
	}

	var err error
	r.wait(deadline, handlers{
		heartbeat: func(now time.Time) { session.Heartbeat(r.s, now) },
		stop: func(now time.Time) {
			err = r.transition(session.BeginFinalize(r.s, models.FinalizeReasonStop, now))
		},
		cancel: func(now time.Time) {
			err = r.transition(session.BeginFinalize(r.s, models.FinalizeReasonCancel, now))
		},
	})
	return err
}

// expireActive closes a session that lost its device; the elapsed time up to the last heartbeat is charged on close-out
func (r *sessionRun) expireActive(reason string, now time.Time) error {
	if err := r.transition(session.Expire(r.s, reason, now)); err != nil {
		return err
	}
	minutes, amount := billing.Estimate(r.s.StartTime, r.s.LastHeartbeat, r.s.Rate)
	r.minutes = minutes
	if amount.IsPositive() {
		session.SetAmountDue(r.s, amount, ExpiryKey(r.s.ID))
		r.expiryCharge = true
	}
	return nil
}

func (r *sessionRun) finalizing() error {
	now := workflow.Now(r.ctx)

	if !r.s.AmountDue.Valid {
		minutes, amount := billing.Estimate(r.s.StartTime, r.s.StopRequestedAt.Time, r.s.Rate)
		r.minutes = minutes
		if !amount.IsPositive() {
			return r.transition(session.Complete(r.s, decimal.Zero, now))
		}
		session.SetAmountDue(r.s, amount, CaptureKey(r.s.ID, 1))
		r.confirmBy = now.Add(r.policy.ConfirmWindow)
		r.s.UpdatedAt = now
		r.save()
		r.logger.Info("Session total computed", "sessionID", r.s.ID, "minutes", minutes, "amount", amount.StringFixed(billing.CentPlaces))

		if r.s.FinalizeReason == models.FinalizeReasonMaxDuration {
			return r.capture()
		}
		return nil
	}

	if !now.Before(r.confirmBy) {
		if r.s.PaymentAttempts == 0 {
			r.logger.Info("Confirm window elapsed, capturing", "sessionID", r.s.ID)
			return r.capture()
		}
		return r.expireUnpaid("payment was not recovered", now)
	}

	var confirmed, cancelled bool
	r.wait(r.confirmBy, handlers{
		confirm: func(time.Time) { confirmed = true },
		cancel:  func(time.Time) { cancelled = true },
	})
	switch {
	case cancelled:
		now = workflow.Now(r.ctx)
		if r.resolve(r.failure()) == nil {
			return r.transition(session.Complete(r.s, r.s.AmountDue.Decimal, now))
		}
		r.logger.Info("Charge waived", "sessionID", r.s.ID, "amount", r.s.AmountDue.Decimal.StringFixed(billing.CentPlaces))
		return r.transition(session.Cancel(r.s, now))
	case confirmed:
		return r.capture()
	}
	return nil
}

// capture charges the amount due. A decline rotates the idempotency key for the next confirmation;
// any other failure keeps the key so the gateway resolves the pending charge first.
func (r *sessionRun) capture() error {
	f := r.attempt()
	now := workflow.Now(r.ctx)
	if f == nil {
		return r.transition(session.Complete(r.s, r.s.AmountDue.Decimal, now))
	}

	r.s.FailureKind, r.s.FailureReason = f.kind, f.reason
	if r.s.PaymentAttempts >= r.policy.MaxPaymentAttempts {
		return r.expireUnpaid("payment attempts exhausted", now)
	}
	if f.kind == models.ErrorKindPaymentDeclined {
		session.SetAmountDue(r.s, r.s.AmountDue.Decimal, CaptureKey(r.s.ID, r.s.PaymentAttempts+1))
	}
	r.confirmBy = now.Add(r.policy.ConfirmWindow)
	r.s.UpdatedAt = now
	r.save()
	return nil
}

// expireUnpaid gives up on the amount due unless the last charge turns out to have gone through
func (r *sessionRun) expireUnpaid(reason string, now time.Time) error {
	f := r.resolve(r.failure())
	if f == nil {
		return r.transition(session.Complete(r.s, r.s.AmountDue.Decimal, now))
	}
	r.s.FailureKind = f.kind
	return r.transition(session.Expire(r.s, reason+": "+f.reason, now))
}

func (r *sessionRun) failure() *paymentFailure {
	return &paymentFailure{kind: r.s.FailureKind, reason: r.s.FailureReason}
}

// resolve looks up a charge whose last capture ended without a definitive answer.
// It returns nil once the charge is known to have succeeded and never submits a new one.
func (r *sessionRun) resolve(f *paymentFailure) *paymentFailure {
	if f == nil || r.charge == nil || r.charge.status != models.PaymentStatusPending {
		return f
	}

	key := r.s.IdempotencyKey.String
	ctx := workflow.WithActivityOptions(r.ctx, resolveOptions)
	var res models.CapturePaymentResult
	if err := workflow.ExecuteActivity(ctx, a.ResolvePayment, key).Get(ctx, &res); err != nil {
		r.logger.Warn("Payment still unresolved", "sessionID", r.s.ID, "key", key, "error", err)
		return f
	}

	switch res.Outcome {
	case models.CaptureSucceeded:
		r.charge = &chargeAttempt{status: models.PaymentStatusSucceeded, chargeID: res.ChargeID}
		r.logger.Info("Pending payment resolved", "sessionID", r.s.ID, "key", key, "chargeID", res.ChargeID)
		return nil
	case models.CaptureDeclined:
		r.charge = &chargeAttempt{status: models.PaymentStatusFailed}
		return &paymentFailure{kind: models.ErrorKindPaymentDeclined, reason: res.Reason}
	}
	return f
}

// attempt runs one capture activity and records its outcome for the ledger; it returns nil on success
func (r *sessionRun) attempt() *paymentFailure {
	r.s.PaymentAttempts++
	req := models.CaptureRequest{
		SessionID:      r.s.ID,
		Amount:         r.s.AmountDue.Decimal,
		Currency:       r.s.Currency,
		CustomerRef:    r.s.CustomerRef,
		PayoutAccount:  r.s.PayoutAccount,
		IdempotencyKey: r.s.IdempotencyKey.String,
	}
	if req.CustomerRef == "" {
		req.CustomerRef = r.s.UserID
	}

	ctx := workflow.WithActivityOptions(r.ctx, paymentOptions)
	var res models.CapturePaymentResult
	err := workflow.ExecuteActivity(ctx, a.CapturePayment, req).Get(ctx, &res)
	if err == nil {
		r.charge = &chargeAttempt{status: models.PaymentStatusSucceeded, chargeID: res.ChargeID}
		r.logger.Info("Payment captured", "sessionID", r.s.ID, "chargeID", res.ChargeID)
		return nil
	}

	f := classifyCapture(err)
	if f.kind == models.ErrorKindPaymentDeclined || f.kind == models.ErrorKindInvalidRequest {
		r.charge = &chargeAttempt{status: models.PaymentStatusFailed}
	} else {
		r.charge = &chargeAttempt{status: models.PaymentStatusPending}
	}
	r.logger.Warn("Payment capture failed", "sessionID", r.s.ID, "key", req.IdempotencyKey, "kind", f.kind, "error", err)
	return f
}

// classifyCapture reduces a capture activity error to its kind and the processor's own reason
func classifyCapture(err error) *paymentFailure {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		switch appErr.Type() {
		case activities.ErrTypePaymentDeclined:
			return &paymentFailure{kind: models.ErrorKindPaymentDeclined, reason: appErr.Message()}
		case activities.ErrTypeInvalidPayment:
			return &paymentFailure{kind: models.ErrorKindInvalidRequest, reason: appErr.Message()}
		case activities.ErrTypePaymentRetryable:
			return &paymentFailure{kind: models.ErrorKindPaymentRetryable, reason: appErr.Message()}
		}
	}

	var timeoutErr *temporal.TimeoutError
	if errors.As(err, &timeoutErr) {
		return &paymentFailure{kind: models.ErrorKindPaymentUnknown, reason: "payment processor did not answer in time"}
	}
	return &paymentFailure{kind: models.ErrorKindPaymentUnknown, reason: "payment outcome unknown"}
}

// abandon handles cancellation of the workflow itself; the close-out still runs on a disconnected context
func (r *sessionRun) abandon() error {
	r.ctx, _ = workflow.NewDisconnectedContext(r.ctx)
	now := workflow.Now(r.ctx)
	r.logger.Warn("Session workflow cancelled", "sessionID", r.s.ID, "status", r.s.Status)
	if r.s.Status == models.SessionStatusActive {
		return r.expireActive("session workflow cancelled", now)
	}
	return r.transition(session.Expire(r.s, "session workflow cancelled", now))
}

// closeOut releases the spot, settles the expiry charge, and records and announces the outcome
func (r *sessionRun) closeOut() {
	ctx := workflow.WithActivityOptions(r.ctx, releaseOptions)
	var released bool
	err := workflow.ExecuteActivity(ctx, a.ReleaseSpot, models.ReleaseSpotInput{SessionID: r.s.ID, Spot: r.s.Spot}).Get(ctx, &released)
	if err != nil {
		r.logger.Error("Failed to release spot", "sessionID", r.s.ID, "spot", r.s.Spot.String(), "error", err)
	}

	if r.expiryCharge {
		if f := r.resolve(r.attempt()); f != nil {
			r.s.FailureKind = f.kind
			r.s.FailureReason = r.s.FailureReason + "; expiry charge failed: " + f.reason
		}
	}

	ctx = workflow.WithActivityOptions(r.ctx, shortOptions)
	if r.charge != nil {
		in := models.RecordTransactionInput{
			Session:       *r.s,
			Minutes:       r.minutes,
			Amount:        r.s.AmountDue.Decimal,
			PaymentStatus: r.charge.status,
			ChargeID:      r.charge.chargeID,
		}
		var recordID int64
		if err := workflow.ExecuteActivity(ctx, a.RecordTransaction, in).Get(ctx, &recordID); err != nil {
			r.logger.Error("Failed to record transaction", "sessionID", r.s.ID, "error", err)
		}
	}

	r.save()

	event := models.SessionEvent{
		Type:       models.SessionEventFinalized,
		SessionID:  r.s.ID,
		UserID:     r.s.UserID,
		Spot:       r.s.Spot,
		Status:     r.s.Status,
		Amount:     decimal.Zero,
		Currency:   r.s.Currency,
		OccurredAt: workflow.Now(r.ctx),
	}
	if r.charge != nil && r.charge.status == models.PaymentStatusSucceeded {
		event.Amount = r.s.AmountDue.Decimal
		event.ChargeID = r.charge.chargeID
	}
	if err := workflow.ExecuteActivity(ctx, a.PublishSessionEvent, event).Get(ctx, nil); err != nil {
		r.logger.Error("Failed to publish session event", "sessionID", r.s.ID, "error", err)
	}
}

// transition persists the session after a state change
func (r *sessionRun) transition(changed bool, err error) error {
	if err != nil {
		return err
	}
	if changed {
		r.logger.Info("Session transition", "sessionID", r.s.ID, "status", r.s.Status)
		r.save()
	}
	return nil
}

func (r *sessionRun) save() {
	ctx := workflow.WithActivityOptions(r.ctx, shortOptions)
	if err := workflow.ExecuteActivity(ctx, a.SaveSession, *r.s).Get(ctx, nil); err != nil {
		r.logger.Error("Failed to persist session", "sessionID", r.s.ID, "error", err)
	}
}

// wait blocks until deadline or the next signal, whichever comes first
func (r *sessionRun) wait(deadline time.Time, h handlers) {
	timerCtx, cancelTimer := workflow.WithCancel(r.ctx)
	defer cancelTimer()

	selector := workflow.NewSelector(r.ctx)
	selector.AddFuture(workflow.NewTimer(timerCtx, deadline.Sub(workflow.Now(r.ctx))), func(workflow.Future) {})
	r.receive(selector, r.start, models.SignalStartSession, h.start)
	r.receive(selector, r.heartbeat, models.SignalHeartbeat, h.heartbeat)
	r.receive(selector, r.stop, models.SignalStopSession, h.stop)
	r.receive(selector, r.cancel, models.SignalCancelSession, h.cancel)
	r.receive(selector, r.confirm, models.SignalConfirmPayment, h.confirm)
	selector.Select(r.ctx)
}

func (r *sessionRun) receive(selector workflow.Selector, ch workflow.ReceiveChannel, name string, fn func(time.Time)) {
	selector.AddReceive(ch, func(c workflow.ReceiveChannel, _ bool) {
		c.Receive(r.ctx, nil)
		if fn == nil {
			r.logger.Debug("Signal ignored", "sessionID", r.s.ID, "signal", name, "status", r.s.Status)
			return
		}
		fn(workflow.Now(r.ctx))
	})
}
