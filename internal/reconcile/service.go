package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"webphone-platform/internal/audit"
	"webphone-platform/internal/billing"
	"webphone-platform/internal/calls"
	"webphone-platform/internal/provider"
	"webphone-platform/internal/rates"
	"webphone-platform/internal/realtime"
	"webphone-platform/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Charger applies an at-most-once balance deduction. Satisfied by
// billing.Service.
type Charger interface {
	ChargeForCall(ctx context.Context, userID, dedupeKey string, cost decimal.Decimal) (billing.Balance, bool, error)
}

// HistoryInvalidator drops a user's cached call history after the
// authoritative record changes.
type HistoryInvalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

// SlotReleaser frees the per-user placement slot once a call is over.
type SlotReleaser interface {
	ReleaseSlot(ctx context.Context, userID string)
}

// RateSource resolves a per-minute rate for client summaries that never got
// a server-side record. Satisfied by rates.Resolver.
type RateSource interface {
	RatePerMinute(ctx context.Context, countryCode, callType string) decimal.Decimal
}

// Service is the single authoritative writer for call duration, cost and
// terminal status. Clients may display optimistic numbers while a call
// runs; whatever the provider reports here wins.
type Service struct {
	calls      calls.Store
	charger    Charger
	history    HistoryInvalidator
	slots      SlotReleaser
	publisher  realtime.Publisher
	audit      *audit.Service
	rateSource RateSource

	clock func() time.Time
}

func NewService(store calls.Store, charger Charger, history HistoryInvalidator, slots SlotReleaser, publisher realtime.Publisher, auditor *audit.Service, rateSource RateSource) *Service {
	return &Service{
		calls:      store,
		charger:    charger,
		history:    history,
		slots:      slots,
		publisher:  publisher,
		audit:      auditor,
		rateSource: rateSource,
		clock:      time.Now,
	}
}

// statusFromProvider maps provider callback statuses onto the record
// lifecycle. Unknown values are dropped by the caller.
var statusFromProvider = map[string]calls.Status{
	"queued":      calls.StatusPlacing,
	"initiated":   calls.StatusPlacing,
	"ringing":     calls.StatusRinging,
	"in-progress": calls.StatusConnected,
	"answered":    calls.StatusConnected,
	"completed":   calls.StatusCompleted,
	"busy":        calls.StatusBusy,
	"no-answer":   calls.StatusNoAnswer,
	"failed":      calls.StatusFailed,
	"canceled":    calls.StatusCanceled,
}

// Process applies one provider status callback.
//
// It never returns an error for business conflicts (unknown session,
// already-terminal record, unrecognized status); those are logged and
// dropped so the webhook endpoint can acknowledge unconditionally and the
// provider stops retrying. Errors are reserved for infrastructure failures.
func (s *Service) Process(ctx context.Context, form provider.StatusCallbackForm) error {
	log := logger.From(ctx)

	rec, err := s.calls.GetByExternalID(ctx, form.CallSID)
	if err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			log.Warn("status callback for unknown session", "external_session_id", form.CallSID, "call_status", form.CallStatus)
			s.logConflict(ctx, form.CallSID, "unknown session: "+form.CallStatus)
			return nil
		}
		return err
	}

	next, ok := statusFromProvider[form.CallStatus]
	if !ok {
		log.Warn("unrecognized provider status", "external_session_id", form.CallSID, "call_status", form.CallStatus)
		return nil
	}

	if rec.Status.IsTerminal() {
		log.Info("status callback after terminal state",
			"external_session_id", form.CallSID,
			"recorded_status", rec.Status,
			"call_status", form.CallStatus)
		s.logConflict(ctx, form.CallSID, fmt.Sprintf("update %q after terminal %q", form.CallStatus, rec.Status))
		return nil
	}

	if !next.IsTerminal() {
		if next == rec.Status {
			return nil
		}
		rec.Status = next
		return s.calls.Update(ctx, rec)
	}

	return s.finalize(ctx, rec, next, form, rec.ExternalSessionID)
}

// ErrInvalidSummary rejects a client summary with a non-terminal status,
// negative duration or no way to identify the call.
var ErrInvalidSummary = errors.New("invalid client summary")

// ClientSummary is the client's best-effort record of a finished call,
// used when the status webhook could not close the record.
type ClientSummary struct {
	ExternalSessionID string
	Destination       string
	Status            string
	DurationSeconds   int
}

// ApplyClientSummary persists a client-optimistic call summary. The webhook
// path stays authoritative: a record it already closed is left untouched,
// and any charge goes through the same dedupe guard, keyed by the external
// session id when the client learned it and by (destination, minute bucket)
// when it did not.
func (s *Service) ApplyClientSummary(ctx context.Context, userID string, sum ClientSummary) (calls.CallRecord, error) {
	status := calls.Status(sum.Status)
	if !status.IsTerminal() || sum.DurationSeconds < 0 {
		return calls.CallRecord{}, ErrInvalidSummary
	}

	form := provider.StatusCallbackForm{
		CallSID:      sum.ExternalSessionID,
		CallStatus:   sum.Status,
		CallDuration: sum.DurationSeconds,
	}

	if sum.ExternalSessionID != "" {
		rec, err := s.calls.GetByExternalID(ctx, sum.ExternalSessionID)
		if err == nil {
			if rec.UserID != userID {
				s.logConflict(ctx, sum.ExternalSessionID, "client save for another user's call")
				return calls.CallRecord{}, ErrInvalidSummary
			}
			if rec.Status.IsTerminal() {
				s.logConflict(ctx, sum.ExternalSessionID, fmt.Sprintf("client save after terminal %q", rec.Status))
				return rec, nil
			}
			if err := s.finalize(ctx, rec, status, form, rec.ExternalSessionID); err != nil {
				return calls.CallRecord{}, err
			}
			return s.calls.GetByExternalID(ctx, sum.ExternalSessionID)
		}
		if !errors.Is(err, calls.ErrNotFound) {
			return calls.CallRecord{}, err
		}
	}

	// The placement path never saw this call; reconstruct a record from the
	// summary alone.
	if sum.Destination == "" {
		return calls.CallRecord{}, ErrInvalidSummary
	}
	country := rates.CountryForNumber(sum.Destination)
	rate := decimal.Zero
	if s.rateSource != nil {
		rate = s.rateSource.RatePerMinute(ctx, country, "outbound")
	}

	now := s.clock().UTC()
	rec := calls.CallRecord{
		ID:                uuid.NewString(),
		ExternalSessionID: sum.ExternalSessionID,
		UserID:            userID,
		Direction:         calls.DirectionOutbound,
		To:                sum.Destination,
		Status:            calls.StatusPlacing,
		RatePerMinute:     rate,
		Country:           country,
		StartedAt:         now.Add(-time.Duration(sum.DurationSeconds) * time.Second),
	}
	dedupeKey := sum.ExternalSessionID
	if dedupeKey == "" {
		rec.ExternalSessionID = "local-" + rec.ID
		dedupeKey = billing.DegradedChargeKey(sum.Destination, now)
	}

	if err := s.calls.Create(ctx, rec); err != nil {
		return calls.CallRecord{}, err
	}
	if err := s.finalize(ctx, rec, status, form, dedupeKey); err != nil {
		return calls.CallRecord{}, err
	}
	return s.calls.GetByExternalID(ctx, rec.ExternalSessionID)
}

// finalize applies a terminal status: persist the authoritative duration,
// deduct the cost at most once under dedupeKey, then fan out notifications.
func (s *Service) finalize(ctx context.Context, rec calls.CallRecord, next calls.Status, form provider.StatusCallbackForm, dedupeKey string) error {
	log := logger.From(ctx)
	now := s.clock().UTC()

	wasOffered := rec.Direction == calls.DirectionInbound && rec.Status == calls.StatusRinging

	rec.Status = next
	rec.DurationSeconds = form.CallDuration
	rec.EndedAt = &now

	// Any terminal status with a reported duration is billable; busy and
	// failed legs with connect time cost money too.
	cost := decimal.Zero
	if form.HasDuration() {
		cost = rates.CostForDuration(rec.RatePerMinute, form.CallDuration)
	}
	rec.Cost = cost

	charged := false
	if cost.IsPositive() {
		_, applied, err := s.charger.ChargeForCall(ctx, rec.UserID, dedupeKey, cost)
		if err != nil {
			// Persist the terminal record regardless; money can be
			// re-reconciled from audit, a lost record cannot.
			log.Error("charge failed", "external_session_id", rec.ExternalSessionID, "cost", cost.String(), "err", err)
		} else {
			charged = applied
			if !applied {
				log.Info("duplicate charge skipped", "external_session_id", rec.ExternalSessionID)
			}
			s.logCharge(ctx, rec, cost, !applied)
		}
	}

	if err := s.calls.Update(ctx, rec); err != nil {
		return err
	}

	if s.history != nil {
		if err := s.history.Invalidate(ctx, rec.UserID); err != nil {
			log.Warn("history invalidate failed", "user_id", rec.UserID, "err", err)
		}
	}
	if s.slots != nil && rec.Direction == calls.DirectionOutbound {
		s.slots.ReleaseSlot(ctx, rec.UserID)
	}

	s.notify(ctx, rec, wasOffered)

	log.Info("call reconciled",
		"external_session_id", rec.ExternalSessionID,
		"status", rec.Status,
		"duration_seconds", rec.DurationSeconds,
		"cost", rec.Cost.String(),
		"charged", charged)
	return nil
}

func (s *Service) notify(ctx context.Context, rec calls.CallRecord, wasOffered bool) {
	log := logger.From(ctx)

	// An inbound call that ends while still offered never reached the
	// client's call screen; clear the offer UI explicitly. A no-answer
	// terminal confirms the offer countdown expired, so the dedicated
	// timeout event goes out first.
	if wasOffered && rec.Status == calls.StatusNoAnswer {
		ev, err := realtime.NewEvent(realtime.EventIncomingCallTimeout, realtime.IncomingCallTimeoutPayload{
			ExternalSessionID: rec.ExternalSessionID,
		})
		if err == nil {
			if perr := s.publisher.Publish(ctx, rec.UserID, ev); perr != nil {
				log.Warn("offer timeout publish failed", "user_id", rec.UserID, "err", perr)
			}
		}
	}
	if wasOffered {
		ev, err := realtime.NewEvent(realtime.EventIncomingCallCanceled, realtime.IncomingCallCanceledPayload{
			ExternalSessionID: rec.ExternalSessionID,
			Reason:            string(rec.Status),
		})
		if err == nil {
			if perr := s.publisher.Publish(ctx, rec.UserID, ev); perr != nil {
				log.Warn("offer cancel publish failed", "user_id", rec.UserID, "err", perr)
			}
		}
	}

	ev, err := realtime.NewEvent(realtime.EventCallEnded, realtime.CallEndedPayload{
		ExternalSessionID: rec.ExternalSessionID,
		Status:            string(rec.Status),
		DurationSeconds:   rec.DurationSeconds,
		Cost:              rec.Cost.String(),
	})
	if err == nil {
		if perr := s.publisher.Publish(ctx, rec.UserID, ev); perr != nil {
			log.Warn("call ended publish failed", "user_id", rec.UserID, "err", perr)
		}
	}
}

func (s *Service) logCharge(ctx context.Context, rec calls.CallRecord, cost decimal.Decimal, duplicate bool) {
	if s.audit == nil {
		return
	}
	msg := fmt.Sprintf("charged %s for %ds", cost.String(), rec.DurationSeconds)
	if duplicate {
		msg = fmt.Sprintf("skipped duplicate charge of %s", cost.String())
	}
	if err := s.audit.LogCharge(ctx, rec.UserID, rec.ExternalSessionID, msg, "", duplicate); err != nil {
		logger.From(ctx).Warn("audit append failed", "err", err)
	}
}

func (s *Service) logConflict(ctx context.Context, externalSessionID, message string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.LogConflict(ctx, externalSessionID, message); err != nil {
		logger.From(ctx).Warn("audit append failed", "err", err)
	}
}
