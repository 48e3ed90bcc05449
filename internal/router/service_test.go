package router

import (
	"context"
	"errors"
	"testing"

	"webphone-platform/internal/billing"
	"webphone-platform/internal/calls"
	"webphone-platform/internal/config"
	"webphone-platform/internal/provider"
	"webphone-platform/internal/rates"
	"webphone-platform/internal/realtime"

	"github.com/shopspring/decimal"
)

type fakeBalances struct {
	amount decimal.Decimal
	err    error
}

func (f *fakeBalances) GetBalance(ctx context.Context, userID string) (billing.Balance, error) {
	if f.err != nil {
		return billing.Balance{}, f.err
	}
	return billing.Balance{UserID: userID, Currency: "USD", Amount: f.amount}, nil
}

type fakeProvider struct {
	calls int
	last  provider.ConnectRequest
	sid   string
	err   error
}

func (f *fakeProvider) Name() string                          { return "fake" }
func (f *fakeProvider) HealthCheck(ctx context.Context) error { return nil }

func (f *fakeProvider) Connect(ctx context.Context, req provider.ConnectRequest) (provider.ConnectResult, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return provider.ConnectResult{}, f.err
	}
	return provider.ConnectResult{ExternalSessionID: f.sid, ProvisionalStatus: "queued"}, nil
}

type routerFixture struct {
	svc       *Service
	calls     *calls.MemoryStore
	balances  *fakeBalances
	provider  *fakeProvider
	publisher *realtime.MemoryPublisher
	directory *MemoryDirectory
	slots     *MemorySlotGuard
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()

	resolver, err := rates.NewResolver(nil, config.BillingConfig{
		MarkupMultiplier:     "1.5",
		MinimumRatePerMinute: "0.010",
		DefaultRatePerMinute: "0.100",
		DefaultCallerID:      "+15550001111",
	})
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	f := &routerFixture{
		calls:     calls.NewMemoryStore(),
		balances:  &fakeBalances{amount: decimal.NewFromInt(10)},
		provider:  &fakeProvider{sid: "CA123"},
		publisher: realtime.NewMemoryPublisher(),
		directory: NewMemoryDirectory(),
		slots:     NewMemorySlotGuard(),
	}
	f.svc = NewService(Options{
		Calls:     f.calls,
		Balances:  f.balances,
		Rates:     resolver,
		Provider:  f.provider,
		Publisher: f.publisher,
		Directory: f.directory,
		Slots:     f.slots,
		App:       config.AppConfig{PublicBaseURL: "https://api.example.com"},
		Billing:   config.BillingConfig{DefaultCallerID: "+15550001111"},
	})
	return f
}

func TestPlaceRejectsInvalidDestinationBeforeProvider(t *testing.T) {
	f := newRouterFixture(t)

	_, err := f.svc.Place(context.Background(), "u1", "1234", "")
	if !errors.Is(err, ErrInvalidDestination) {
		t.Fatalf("err = %v, want ErrInvalidDestination", err)
	}
	if f.provider.calls != 0 {
		t.Fatalf("provider contacted %d times for invalid destination", f.provider.calls)
	}
}

func TestPlaceRejectsZeroBalance(t *testing.T) {
	f := newRouterFixture(t)
	f.balances.amount = decimal.Zero

	_, err := f.svc.Place(context.Background(), "u1", "+14155551234", "")
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	if f.provider.calls != 0 {
		t.Fatal("provider contacted despite empty balance")
	}
}

func TestPlaceEnforcesSingleSlot(t *testing.T) {
	f := newRouterFixture(t)

	if _, err := f.svc.Place(context.Background(), "u1", "+14155551234", ""); err != nil {
		t.Fatalf("first Place: %v", err)
	}
	_, err := f.svc.Place(context.Background(), "u1", "+14155551234", "")
	if !errors.Is(err, ErrCallInProgress) {
		t.Fatalf("err = %v, want ErrCallInProgress", err)
	}

	f.svc.ReleaseSlot(context.Background(), "u1")
	f.provider.sid = "CA456"
	if _, err := f.svc.Place(context.Background(), "u1", "+14155551234", ""); err != nil {
		t.Fatalf("Place after release: %v", err)
	}
}

func TestPlaceReleasesSlotOnProviderFailure(t *testing.T) {
	f := newRouterFixture(t)
	f.provider.err = errors.New("provider down")

	if _, err := f.svc.Place(context.Background(), "u1", "+14155551234", ""); err == nil {
		t.Fatal("expected provider error")
	}

	f.provider.err = nil
	if _, err := f.svc.Place(context.Background(), "u1", "+14155551234", ""); err != nil {
		t.Fatalf("Place after provider recovery: %v", err)
	}
}

func TestPlaceCallerIDPrecedence(t *testing.T) {
	f := newRouterFixture(t)
	f.directory.CallerIDs["u1"] = "+16175552222"

	if _, err := f.svc.Place(context.Background(), "u1", "+14155551234", "+12065553333"); err != nil {
		t.Fatalf("Place: %v", err)
	}
	if f.provider.last.From != "+12065553333" {
		t.Fatalf("From = %q, want explicit caller id", f.provider.last.From)
	}

	f.svc.ReleaseSlot(context.Background(), "u1")
	f.provider.sid = "CA2"
	if _, err := f.svc.Place(context.Background(), "u1", "+14155551234", ""); err != nil {
		t.Fatalf("Place: %v", err)
	}
	if f.provider.last.From != "+16175552222" {
		t.Fatalf("From = %q, want user default", f.provider.last.From)
	}

	delete(f.directory.CallerIDs, "u1")
	f.svc.ReleaseSlot(context.Background(), "u1")
	f.provider.sid = "CA3"
	if _, err := f.svc.Place(context.Background(), "u1", "+14155551234", ""); err != nil {
		t.Fatalf("Place: %v", err)
	}
	if f.provider.last.From != "+15550001111" {
		t.Fatalf("From = %q, want platform default", f.provider.last.From)
	}
}

func TestPlaceAppliesRegionPrefix(t *testing.T) {
	f := newRouterFixture(t)
	f.directory.Prefixes["u1"] = "+1"

	res, err := f.svc.Place(context.Background(), "u1", "(415) 555-1234", "")
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if f.provider.last.To != "+14155551234" {
		t.Fatalf("To = %q, want +14155551234", f.provider.last.To)
	}
	if res.Status != calls.StatusPlacing {
		t.Fatalf("status = %q, want placing", res.Status)
	}

	rec, err := f.calls.GetByExternalID(context.Background(), res.ExternalSessionID)
	if err != nil {
		t.Fatalf("GetByExternalID: %v", err)
	}
	if rec.Country != "US" {
		t.Fatalf("country = %q, want US", rec.Country)
	}
}

func TestVoiceDocumentResolvesCompatibilityFields(t *testing.T) {
	f := newRouterFixture(t)

	form := map[string]string{"PhoneNumber": "+442071234567"}
	doc, err := f.svc.VoiceDocument(context.Background(), "u1", "CA999", func(field string) string {
		return form[field]
	})
	if err != nil {
		t.Fatalf("VoiceDocument: %v", err)
	}
	if doc.Action != provider.CallControlDial || doc.Target != "+442071234567" {
		t.Fatalf("doc = %+v", doc)
	}

	rec, err := f.calls.GetByExternalID(context.Background(), "CA999")
	if err != nil {
		t.Fatalf("record not created: %v", err)
	}
	if rec.Direction != calls.DirectionOutbound || rec.Status != calls.StatusPlacing {
		t.Fatalf("record = %+v", rec)
	}
}

func TestVoiceDocumentRejectsZeroBalance(t *testing.T) {
	f := newRouterFixture(t)
	f.balances.amount = decimal.Zero

	form := map[string]string{"destination": "+15557654321"}
	doc, err := f.svc.VoiceDocument(context.Background(), "u1", "CA999", func(field string) string {
		return form[field]
	})
	if err != nil {
		t.Fatalf("VoiceDocument: %v", err)
	}
	if doc.Action != provider.CallControlSayHangup {
		t.Fatalf("zero-balance user got %+v, want say-and-hangup", doc)
	}

	if _, err := f.calls.GetByExternalID(context.Background(), "CA999"); err != calls.ErrNotFound {
		t.Fatalf("record should not be created, got err = %v", err)
	}
}

func TestVoiceDocumentEnforcesSingleSlot(t *testing.T) {
	f := newRouterFixture(t)

	ok, err := f.slots.Acquire(context.Background(), "u1")
	if err != nil || !ok {
		t.Fatalf("seed slot: ok=%v err=%v", ok, err)
	}

	form := map[string]string{"destination": "+15557654321"}
	doc, err := f.svc.VoiceDocument(context.Background(), "u1", "CA999", func(field string) string {
		return form[field]
	})
	if err != nil {
		t.Fatalf("VoiceDocument: %v", err)
	}
	if doc.Action != provider.CallControlSayHangup {
		t.Fatalf("busy user got %+v, want say-and-hangup", doc)
	}
}

func TestVoiceDocumentNoDestination(t *testing.T) {
	f := newRouterFixture(t)

	_, err := f.svc.VoiceDocument(context.Background(), "u1", "CA1", func(string) string { return "" })
	if !errors.Is(err, ErrNoDestination) {
		t.Fatalf("err = %v, want ErrNoDestination", err)
	}
}

func TestHandleInboundNotifiesOwner(t *testing.T) {
	f := newRouterFixture(t)
	f.directory.Numbers["+15550009999"] = "owner1"

	doc, err := f.svc.HandleInbound(context.Background(), "CAin1", "+14155551234", "+15550009999")
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if doc.Action != provider.CallControlDial || doc.Target != "user-owner1" {
		t.Fatalf("doc = %+v", doc)
	}

	events := f.publisher.Events("owner1")
	if len(events) != 1 || events[0].Type != realtime.EventIncomingCall {
		t.Fatalf("events = %+v", events)
	}

	rec, err := f.calls.GetByExternalID(context.Background(), "CAin1")
	if err != nil {
		t.Fatalf("record not created: %v", err)
	}
	if rec.Direction != calls.DirectionInbound || rec.Status != calls.StatusRinging {
		t.Fatalf("record = %+v", rec)
	}
}

func TestHandleInboundUnknownNumber(t *testing.T) {
	f := newRouterFixture(t)

	doc, err := f.svc.HandleInbound(context.Background(), "CAin2", "+14155551234", "+15550000000")
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if doc.Action != provider.CallControlSayHangup {
		t.Fatalf("doc = %+v, want say_hangup", doc)
	}
	if _, err := f.calls.GetByExternalID(context.Background(), "CAin2"); !errors.Is(err, calls.ErrNotFound) {
		t.Fatal("record created for unprovisioned number")
	}
}

func TestAcceptQueued(t *testing.T) {
	f := newRouterFixture(t)
	f.directory.Numbers["+15550009999"] = "owner1"
	if _, err := f.svc.HandleInbound(context.Background(), "CAin3", "+14155551234", "+15550009999"); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}

	token, err := f.svc.AcceptQueued(context.Background(), "owner1", "CAin3")
	if err != nil {
		t.Fatalf("AcceptQueued: %v", err)
	}
	if token == "" {
		t.Fatal("empty queue token")
	}

	if _, err := f.svc.AcceptQueued(context.Background(), "intruder", "CAin3"); !errors.Is(err, ErrUnknownCall) {
		t.Fatalf("err = %v, want ErrUnknownCall for wrong user", err)
	}
	if _, err := f.svc.AcceptQueued(context.Background(), "owner1", "CAnope"); !errors.Is(err, ErrUnknownCall) {
		t.Fatalf("err = %v, want ErrUnknownCall for unknown session", err)
	}
}
