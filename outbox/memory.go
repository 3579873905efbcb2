package outbox

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-claimbot/core"
)

// MemoryStore keeps outbox rows in process. Append writes immediately; the
// in-memory unit of work stages rows and hands them over with Insert on
// commit.
type MemoryStore struct {
	Now func() time.Time

	mu     sync.Mutex
	events []core.OutboxEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{Now: func() time.Time { return time.Now().UTC() }}
}

func (s *MemoryStore) Append(_ context.Context, draft core.EventDraft) (core.OutboxEvent, error) {
	event, err := NewEvent(draft, s.now())
	if err != nil {
		return core.OutboxEvent{}, err
	}
	s.Insert(event)
	return event, nil
}

func (s *MemoryStore) Insert(events ...core.OutboxEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
}

func (s *MemoryStore) ListUnpublished(_ context.Context, limit int) ([]core.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := make([]core.OutboxEvent, 0, len(s.events))
	for _, event := range s.events {
		if !event.Published() {
			pending = append(pending, event)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

// MarkPublished is a no-op for an event that is already published.
func (s *MemoryStore) MarkPublished(_ context.Context, id string) error {
	id = strings.TrimSpace(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	for index := range s.events {
		if s.events[index].ID != id {
			continue
		}
		if s.events[index].PublishedAt == nil {
			publishedAt := s.now()
			s.events[index].PublishedAt = &publishedAt
		}
		return nil
	}
	return fmt.Errorf("outbox: event %q not found", id)
}

// Events returns a copy of every row, published or not.
func (s *MemoryStore) Events() []core.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.OutboxEvent, len(s.events))
	copy(out, s.events)
	return out
}

func (s *MemoryStore) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

var (
	_ core.OutboxAppender = (*MemoryStore)(nil)
	_ core.OutboxReader   = (*MemoryStore)(nil)
)
