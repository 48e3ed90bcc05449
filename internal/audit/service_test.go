package audit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAppendRequiresType(t *testing.T) {
	s := NewService(NewMemoryRepo())
	if err := s.Append(context.Background(), Event{UserID: "u1"}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("err = %v, want ErrInvalidEvent", err)
	}
}

func TestAppendFillsIDAndTimestamp(t *testing.T) {
	repo := NewMemoryRepo()
	s := NewService(repo)
	s.clock = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }

	if err := s.LogCharge(context.Background(), "u1", "CA1", "charged 0.060", "", false); err != nil {
		t.Fatalf("LogCharge: %v", err)
	}

	events := repo.Events()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	e := events[0]
	if e.ID == "" {
		t.Fatal("ID not assigned")
	}
	if !e.CreatedAt.Equal(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("CreatedAt = %v", e.CreatedAt)
	}
	if e.Type != EventTypeChargeApplied {
		t.Fatalf("Type = %q", e.Type)
	}
}

func TestLogChargeDuplicate(t *testing.T) {
	repo := NewMemoryRepo()
	s := NewService(repo)

	if err := s.LogCharge(context.Background(), "u1", "CA1", "retry", "", true); err != nil {
		t.Fatalf("LogCharge: %v", err)
	}
	if got := repo.Events()[0].Type; got != EventTypeChargeDuplicate {
		t.Fatalf("Type = %q, want charge_duplicate", got)
	}
}
