package realtime

import (
	"context"
	"sync"
)

// MemoryPublisher records published events; used by tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events map[string][]Event
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{events: map[string][]Event{}}
}

func (p *MemoryPublisher) Publish(ctx context.Context, userID string, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events[userID] = append(p.events[userID], ev)
	return nil
}

func (p *MemoryPublisher) Events(userID string) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events[userID]))
	copy(out, p.events[userID])
	return out
}
