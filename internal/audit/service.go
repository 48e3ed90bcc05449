package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only. No Update/Delete methods are provided.

type Repository interface {
	Append(ctx context.Context, e Event) error
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}

// Service logs internal audit information.
//
// Audit is internal-only; records are not exposed to end users.
// Callers should treat audit logging as best-effort.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// Recent returns the newest events, most recent first. limit <= 0 uses a
// default page size.
func (s *Service) Recent(ctx context.Context, limit int) ([]Event, error) {
	if s.repo == nil {
		return nil, errors.New("audit: repository not configured")
	}
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	return s.repo.ListRecent(ctx, limit)
}

// LogCharge records the outcome of a charge attempt for a call session.
func (s *Service) LogCharge(ctx context.Context, userID, externalSessionID, message, metadata string, duplicate bool) error {
	t := EventTypeChargeApplied
	if duplicate {
		t = EventTypeChargeDuplicate
	}
	return s.Append(ctx, Event{
		Type:              t,
		UserID:            userID,
		ExternalSessionID: externalSessionID,
		Message:           message,
		Metadata:          metadata,
	})
}

// LogConflict records a status update that did not match reconcilable state.
func (s *Service) LogConflict(ctx context.Context, externalSessionID, message string) error {
	return s.Append(ctx, Event{
		Type:              EventTypeReconcileConflict,
		ExternalSessionID: externalSessionID,
		Message:           message,
	})
}
