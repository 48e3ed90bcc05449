package dialer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type offerFixture struct {
	coord    *OfferCoordinator
	accepts  int32
	declines int32

	acceptErr error

	timeouts int32
	cancels  int32
}

func newOfferFixture(busy func() bool) *offerFixture {
	f := &offerFixture{}
	f.coord = NewOfferCoordinator(
		func(ctx context.Context, sid string) error {
			atomic.AddInt32(&f.accepts, 1)
			return f.acceptErr
		},
		func(ctx context.Context, sid string) error {
			atomic.AddInt32(&f.declines, 1)
			return nil
		},
		busy,
	)
	f.coord.Emitter.On(string(OfferEventTimeout), func(interface{}) {
		atomic.AddInt32(&f.timeouts, 1)
	})
	f.coord.Emitter.On(string(OfferEventCanceled), func(interface{}) {
		atomic.AddInt32(&f.cancels, 1)
	})
	return f
}

func offer(sid string) Offer {
	return Offer{ExternalSessionID: sid, From: "+14155551234", To: "+15550009999"}
}

func TestOfferAccept(t *testing.T) {
	f := newOfferFixture(nil)
	if err := f.coord.HandleIncoming(context.Background(), offer("CA1")); err != nil {
		t.Fatalf("HandleIncoming: %v", err)
	}
	if err := f.coord.Accept(context.Background()); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if f.coord.State() != OfferAccepted {
		t.Fatalf("state = %q", f.coord.State())
	}
	if atomic.LoadInt32(&f.accepts) != 1 {
		t.Fatalf("accepts = %d", f.accepts)
	}
}

func TestOfferSecondWhileOfferedIsDeclined(t *testing.T) {
	f := newOfferFixture(nil)
	if err := f.coord.HandleIncoming(context.Background(), offer("CA1")); err != nil {
		t.Fatalf("HandleIncoming: %v", err)
	}
	if err := f.coord.HandleIncoming(context.Background(), offer("CA2")); !errors.Is(err, ErrOfferPending) {
		t.Fatalf("err = %v, want ErrOfferPending", err)
	}
	if atomic.LoadInt32(&f.declines) != 1 {
		t.Fatalf("declines = %d, want immediate decline of CA2", f.declines)
	}
	if pending, ok := f.coord.Pending(); !ok || pending.ExternalSessionID != "CA1" {
		t.Fatalf("pending = %+v ok=%v", pending, ok)
	}
}

func TestOfferWhileBusyIsDeclined(t *testing.T) {
	f := newOfferFixture(func() bool { return true })
	if err := f.coord.HandleIncoming(context.Background(), offer("CA1")); !errors.Is(err, ErrOfferPending) {
		t.Fatalf("err = %v", err)
	}
	if atomic.LoadInt32(&f.declines) != 1 {
		t.Fatalf("declines = %d", f.declines)
	}
}

func TestOfferTimesOutAndAutoDeclines(t *testing.T) {
	f := newOfferFixture(nil)
	f.coord.countdown = 20 * time.Millisecond

	if err := f.coord.HandleIncoming(context.Background(), offer("CA1")); err != nil {
		t.Fatalf("HandleIncoming: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&f.timeouts) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timeout event never fired")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if f.coord.State() != OfferTimedOut {
		t.Fatalf("state = %q", f.coord.State())
	}
	if atomic.LoadInt32(&f.declines) != 1 {
		t.Fatalf("declines = %d, want auto-decline", f.declines)
	}
}

func TestOfferRemoteCancelIdempotent(t *testing.T) {
	f := newOfferFixture(nil)
	if err := f.coord.HandleIncoming(context.Background(), offer("CA1")); err != nil {
		t.Fatalf("HandleIncoming: %v", err)
	}

	f.coord.HandleRemoteCancel("CA1", "canceled")
	f.coord.HandleRemoteCancel("CA1", "canceled")
	f.coord.HandleRemoteCancel("CAother", "canceled")

	if f.coord.State() != OfferCanceled {
		t.Fatalf("state = %q", f.coord.State())
	}
	if atomic.LoadInt32(&f.cancels) != 1 {
		t.Fatalf("cancel events = %d, want 1", f.cancels)
	}
}

func TestOfferCancelAfterLocalTimeoutIsNoOp(t *testing.T) {
	f := newOfferFixture(nil)
	f.coord.countdown = 10 * time.Millisecond

	if err := f.coord.HandleIncoming(context.Background(), offer("CA1")); err != nil {
		t.Fatalf("HandleIncoming: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&f.timeouts) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timeout never fired")
		}
		time.Sleep(5 * time.Millisecond)
	}

	f.coord.HandleRemoteCancel("CA1", "no_answer")
	if f.coord.State() != OfferTimedOut {
		t.Fatalf("state = %q, cancel must not overwrite local timeout", f.coord.State())
	}
	if atomic.LoadInt32(&f.cancels) != 0 {
		t.Fatalf("cancel events = %d", f.cancels)
	}
}

func TestOfferAcceptWithinGraceWindow(t *testing.T) {
	f := newOfferFixture(nil)
	if err := f.coord.HandleIncoming(context.Background(), offer("CA1")); err != nil {
		t.Fatalf("HandleIncoming: %v", err)
	}
	f.coord.HandleRemoteCancel("CA1", "canceled")

	// The user hit accept at nearly the same instant; still honored.
	if err := f.coord.Accept(context.Background()); err != nil {
		t.Fatalf("Accept in grace window: %v", err)
	}
	if atomic.LoadInt32(&f.accepts) != 1 {
		t.Fatalf("accepts = %d", f.accepts)
	}

	// Past the grace window the accept is refused.
	f2 := newOfferFixture(nil)
	base := time.Now()
	f2.coord.clock = func() time.Time { return base }
	if err := f2.coord.HandleIncoming(context.Background(), offer("CA2")); err != nil {
		t.Fatalf("HandleIncoming: %v", err)
	}
	f2.coord.HandleRemoteCancel("CA2", "canceled")
	f2.coord.clock = func() time.Time { return base.Add(OfferAcceptGraceWindow + time.Second) }
	if err := f2.coord.Accept(context.Background()); !errors.Is(err, ErrNoOffer) {
		t.Fatalf("err = %v, want ErrNoOffer", err)
	}
}

func TestOfferAcceptFailureReoffers(t *testing.T) {
	f := newOfferFixture(nil)
	f.acceptErr = errors.New("queue connect failed")
	f.coord.reofferCountdown = 20 * time.Millisecond

	if err := f.coord.HandleIncoming(context.Background(), offer("CA1")); err != nil {
		t.Fatalf("HandleIncoming: %v", err)
	}
	if err := f.coord.Accept(context.Background()); err == nil {
		t.Fatal("Accept should surface the connect failure")
	}
	if f.coord.State() != OfferOffered {
		t.Fatalf("state = %q, want re-offered", f.coord.State())
	}

	// The shortened countdown still auto-declines.
	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&f.timeouts) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("re-offer timeout never fired")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
