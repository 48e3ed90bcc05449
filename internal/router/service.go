package router

import (
	"context"
	"time"

	"webphone-platform/internal/billing"
	"webphone-platform/internal/calls"
	"webphone-platform/internal/config"
	"webphone-platform/internal/provider"
	"webphone-platform/internal/rates"
	"webphone-platform/internal/realtime"
	"webphone-platform/pkg/logger"

	"github.com/google/uuid"
)

// BalanceReader is the router's read-only view of the prepaid balance.
// The router only pre-checks; it never writes money.
type BalanceReader interface {
	GetBalance(ctx context.Context, userID string) (billing.Balance, error)
}

// Service is the call router: it resolves caller-ID and destination,
// computes the provisional rate, creates the call record and instructs the
// provider to connect.
type Service struct {
	calls     calls.Store
	balances  BalanceReader
	rates     *rates.Resolver
	provider  provider.TelephonyProvider
	publisher realtime.Publisher
	directory UserDirectory
	slots     SlotGuard

	defaultCallerID   string
	voiceURL          string
	statusCallbackURL string

	clock func() time.Time
}

type Options struct {
	Calls     calls.Store
	Balances  BalanceReader
	Rates     *rates.Resolver
	Provider  provider.TelephonyProvider
	Publisher realtime.Publisher
	Directory UserDirectory
	Slots     SlotGuard

	App     config.AppConfig
	Billing config.BillingConfig
}

func NewService(opts Options) *Service {
	return &Service{
		calls:             opts.Calls,
		balances:          opts.Balances,
		rates:             opts.Rates,
		provider:          opts.Provider,
		publisher:         opts.Publisher,
		directory:         opts.Directory,
		slots:             opts.Slots,
		defaultCallerID:   opts.Billing.DefaultCallerID,
		voiceURL:          opts.App.PublicBaseURL + "/calls/voice",
		statusCallbackURL: opts.App.PublicBaseURL + "/calls/status-callback",
		clock:             time.Now,
	}
}

type PlaceResult struct {
	ExternalSessionID string       `json:"externalSessionId"`
	Status            calls.Status `json:"status"`
}

// Place connects an outbound call for userID.
//
// Order matters: destination and balance are validated before the provider
// is contacted, so an invalid request never costs a provider round trip.
func (s *Service) Place(ctx context.Context, userID, rawDestination, requestedCallerID string) (PlaceResult, error) {
	log := logger.From(ctx)

	prefix, err := s.directory.RegionPrefix(ctx, userID)
	if err != nil {
		return PlaceResult{}, err
	}
	dest := FormatDestination(rawDestination, prefix)
	if !IsDialable(dest) {
		return PlaceResult{}, ErrInvalidDestination
	}

	bal, err := s.balances.GetBalance(ctx, userID)
	if err != nil {
		return PlaceResult{}, err
	}
	if !bal.Amount.IsPositive() {
		return PlaceResult{}, ErrInsufficientBalance
	}

	ok, err := s.slots.Acquire(ctx, userID)
	if err != nil {
		return PlaceResult{}, err
	}
	if !ok {
		return PlaceResult{}, ErrCallInProgress
	}

	callerID, err := s.resolveCallerID(ctx, userID, requestedCallerID)
	if err != nil {
		_ = s.slots.Release(ctx, userID)
		return PlaceResult{}, err
	}

	country := rates.CountryForNumber(dest)
	rate := s.rates.RatePerMinute(ctx, country, "outbound")

	res, err := s.provider.Connect(ctx, provider.ConnectRequest{
		From:              callerID,
		To:                dest,
		VoiceURL:          s.voiceURL,
		StatusCallbackURL: s.statusCallbackURL,
	})
	if err != nil {
		_ = s.slots.Release(ctx, userID)
		return PlaceResult{}, err
	}

	now := s.clock().UTC()
	rec := calls.CallRecord{
		ID:                uuid.NewString(),
		ExternalSessionID: res.ExternalSessionID,
		UserID:            userID,
		Direction:         calls.DirectionOutbound,
		From:              callerID,
		To:                dest,
		Status:            calls.StatusPlacing,
		RatePerMinute:     rate,
		Country:           country,
		StartedAt:         now,
	}
	if err := s.calls.Create(ctx, rec); err != nil {
		// The provider call is already in flight; the reconciler will
		// report to an unknown session id, which it logs and drops.
		log.Error("call record create failed", "external_session_id", res.ExternalSessionID, "err", err)
		return PlaceResult{}, err
	}

	log.Info("call placed",
		"external_session_id", res.ExternalSessionID,
		"user_id", userID,
		"country", country,
		"rate_per_minute", rate.String())

	return PlaceResult{ExternalSessionID: res.ExternalSessionID, Status: calls.StatusPlacing}, nil
}

// ReleaseSlot frees the per-user placement slot; called by the reconciler
// on terminal status.
func (s *Service) ReleaseSlot(ctx context.Context, userID string) {
	if err := s.slots.Release(ctx, userID); err != nil {
		logger.From(ctx).Warn("slot release failed", "user_id", userID, "err", err)
	}
}

// VoiceDocument handles the provider's voice request for a client-initiated
// session: the browser client connected straight to the provider, which now
// asks what to do with the call. The destination may arrive under any of
// the accepted field names (see ResolveDestination). The same gates as
// Place apply: an empty balance or an occupied slot never dials out, it
// gets a spoken rejection instead.
func (s *Service) VoiceDocument(ctx context.Context, userID, externalSessionID string, getter func(field string) string) (provider.CallControl, error) {
	dest, err := ResolveDestination(getter)
	if err != nil {
		return provider.CallControl{}, err
	}

	bal, err := s.balances.GetBalance(ctx, userID)
	if err != nil {
		return provider.CallControl{}, err
	}
	if !bal.Amount.IsPositive() {
		return provider.CallControl{
			Action:  provider.CallControlSayHangup,
			Message: "Your balance is empty. Please add funds to place calls.",
		}, nil
	}

	ok, err := s.slots.Acquire(ctx, userID)
	if err != nil {
		return provider.CallControl{}, err
	}
	if !ok {
		return provider.CallControl{
			Action:  provider.CallControlSayHangup,
			Message: "You already have a call in progress.",
		}, nil
	}

	callerID, err := s.resolveCallerID(ctx, userID, getter("callerId"))
	if err != nil {
		_ = s.slots.Release(ctx, userID)
		return provider.CallControl{}, err
	}

	country := rates.CountryForNumber(dest)
	rate := s.rates.RatePerMinute(ctx, country, "outbound")

	if externalSessionID != "" {
		now := s.clock().UTC()
		rec := calls.CallRecord{
			ID:                uuid.NewString(),
			ExternalSessionID: externalSessionID,
			UserID:            userID,
			Direction:         calls.DirectionOutbound,
			From:              callerID,
			To:                dest,
			Status:            calls.StatusPlacing,
			RatePerMinute:     rate,
			Country:           country,
			StartedAt:         now,
		}
		if err := s.calls.Create(ctx, rec); err != nil {
			logger.From(ctx).Error("call record create failed", "external_session_id", externalSessionID, "err", err)
		}
	}

	return provider.CallControl{
		Action:   provider.CallControlDial,
		CallerID: callerID,
		Target:   dest,
	}, nil
}

// HandleInbound processes a provider inbound-call event: create the record
// in ringing, notify the owner's realtime channel, and park the call
// toward the owner's browser client.
func (s *Service) HandleInbound(ctx context.Context, externalSessionID, from, to string) (provider.CallControl, error) {
	log := logger.From(ctx)

	ownerID, err := s.directory.OwnerOfAddress(ctx, to)
	if err != nil {
		if err == ErrAddressNotOwned {
			log.Warn("inbound call to unprovisioned number", "to", to)
			return provider.CallControl{
				Action:  provider.CallControlSayHangup,
				Message: "This number is not in service.",
			}, nil
		}
		return provider.CallControl{}, err
	}

	country := rates.CountryForNumber(from)
	rate := s.rates.RatePerMinute(ctx, country, "inbound")

	now := s.clock().UTC()
	rec := calls.CallRecord{
		ID:                uuid.NewString(),
		ExternalSessionID: externalSessionID,
		UserID:            ownerID,
		Direction:         calls.DirectionInbound,
		From:              from,
		To:                to,
		Status:            calls.StatusRinging,
		RatePerMinute:     rate,
		Country:           country,
		StartedAt:         now,
	}
	if err := s.calls.Create(ctx, rec); err != nil {
		return provider.CallControl{}, err
	}

	ev, err := realtime.NewEvent(realtime.EventIncomingCall, realtime.IncomingCallPayload{
		ExternalSessionID: externalSessionID,
		From:              from,
		To:                to,
	})
	if err == nil {
		if perr := s.publisher.Publish(ctx, ownerID, ev); perr != nil {
			log.Warn("incoming call publish failed", "user_id", ownerID, "err", perr)
		}
	}

	// Ring the owner's browser client while the offer is pending.
	return provider.CallControl{
		Action: provider.CallControlDial,
		Target: clientIdentity(ownerID),
	}, nil
}

// AcceptQueued hands the client a queue token it uses to pick up a pending
// inbound offer.
func (s *Service) AcceptQueued(ctx context.Context, userID, externalSessionID string) (string, error) {
	rec, err := s.calls.GetByExternalID(ctx, externalSessionID)
	if err != nil {
		if err == calls.ErrNotFound {
			return "", ErrUnknownCall
		}
		return "", err
	}
	if rec.UserID != userID || rec.Direction != calls.DirectionInbound {
		return "", ErrUnknownCall
	}
	if rec.Status.IsTerminal() {
		return "", ErrUnknownCall
	}

	token := uuid.NewString()
	if rec.Metadata == nil {
		rec.Metadata = map[string]string{}
	}
	rec.Metadata["queue_token"] = token
	if err := s.calls.Update(ctx, rec); err != nil {
		return "", err
	}
	return token, nil
}

func (s *Service) resolveCallerID(ctx context.Context, userID, requested string) (string, error) {
	if requested != "" {
		if d := SanitizeDestination(requested); IsDialable(d) {
			return d, nil
		}
		return "", ErrInvalidDestination
	}
	configured, err := s.directory.CallerID(ctx, userID)
	if err != nil {
		return "", err
	}
	if configured != "" {
		return configured, nil
	}
	return s.defaultCallerID, nil
}

// clientIdentity is the provider-side client identifier a user's browser
// session registers under.
func clientIdentity(userID string) string {
	return "user-" + userID
}
