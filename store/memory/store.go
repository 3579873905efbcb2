// Package memory is an in-process unit of work over users, journeys and the
// outbox. Writes made inside Do are staged and become visible only when fn
// returns nil.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-claimbot/core"
	"github.com/goliatone/go-claimbot/outbox"
)

type Store struct {
	Outbox *outbox.MemoryStore
	Now    func() time.Time

	mu       sync.Mutex
	users    map[string]core.User
	journeys map[string]core.Journey
}

func NewStore() *Store {
	return &Store{
		Outbox:   outbox.NewMemoryStore(),
		Now:      func() time.Time { return time.Now().UTC() },
		users:    map[string]core.User{},
		journeys: map[string]core.Journey{},
	}
}

// Do runs fn against a private copy of the data. fn must not call back into
// the Store's read methods.
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, tx core.Tx) error) error {
	if fn == nil {
		return fmt.Errorf("memory: unit of work requires a function")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{
		now:      s.now,
		users:    make(map[string]core.User, len(s.users)),
		journeys: make(map[string]core.Journey, len(s.journeys)),
	}
	for key, user := range s.users {
		tx.users[key] = user
	}
	for key, journey := range s.journeys {
		tx.journeys[key] = journey
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.users = tx.users
	s.journeys = tx.journeys
	if s.Outbox != nil {
		s.Outbox.Insert(tx.events...)
	}
	return nil
}

func (s *Store) FindByPhone(_ context.Context, phone string) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[normalizePhone(phone)]
	if !ok {
		return core.User{}, core.ErrUserNotFound
	}
	return user, nil
}

// ListByPhone returns the sender's journeys newest first.
func (s *Store) ListByPhone(_ context.Context, phone string, limit int) ([]core.Journey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	phone = normalizePhone(phone)
	out := make([]core.Journey, 0)
	for _, journey := range s.journeys {
		if journey.Phone == phone {
			out = append(out, journey)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SeedUser inserts a user directly, outside any unit of work.
func (s *Store) SeedUser(user core.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user.Phone = normalizePhone(user.Phone)
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	s.users[user.Phone] = user
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

type memoryTx struct {
	now      func() time.Time
	users    map[string]core.User
	journeys map[string]core.Journey
	events   []core.OutboxEvent
}

func (t *memoryTx) Users() core.UserWriter       { return txUsers{t} }
func (t *memoryTx) Journeys() core.JourneyWriter { return txJourneys{t} }
func (t *memoryTx) Outbox() core.OutboxAppender  { return txOutbox{t} }

type txUsers struct{ tx *memoryTx }

func (u txUsers) Register(_ context.Context, phone string, acceptedAt time.Time) (core.User, error) {
	phone = normalizePhone(phone)
	if phone == "" {
		return core.User{}, fmt.Errorf("memory: phone is required")
	}
	now := u.tx.now()
	user, ok := u.tx.users[phone]
	if !ok {
		user = core.User{ID: uuid.NewString(), Phone: phone, CreatedAt: now}
	}
	accepted := acceptedAt.UTC()
	user.TermsAcceptedAt = &accepted
	user.UpdatedAt = now
	u.tx.users[phone] = user
	return user, nil
}

func (u txUsers) MarkVerified(_ context.Context, phone string, verifiedAt time.Time) (core.User, error) {
	phone = normalizePhone(phone)
	user, ok := u.tx.users[phone]
	if !ok {
		return core.User{}, core.ErrUserNotFound
	}
	verified := verifiedAt.UTC()
	user.VerifiedAt = &verified
	user.UpdatedAt = u.tx.now()
	u.tx.users[phone] = user
	return user, nil
}

type txJourneys struct{ tx *memoryTx }

func (j txJourneys) Create(_ context.Context, journey core.Journey) (core.Journey, error) {
	journey.Phone = normalizePhone(journey.Phone)
	if journey.Phone == "" {
		return core.Journey{}, fmt.Errorf("memory: journey phone is required")
	}
	now := j.tx.now()
	if journey.ID == "" {
		journey.ID = uuid.NewString()
	}
	if journey.Status == "" {
		journey.Status = core.JourneyStatusConfirmed
	}
	journey.CreatedAt = now
	journey.UpdatedAt = now
	j.tx.journeys[journey.ID] = journey
	return journey, nil
}

func (j txJourneys) AttachTicket(_ context.Context, journeyID string, ticketURL string) (core.Journey, error) {
	journey, ok := j.tx.journeys[strings.TrimSpace(journeyID)]
	if !ok {
		return core.Journey{}, core.ErrJourneyNotFound
	}
	journey.TicketURL = strings.TrimSpace(ticketURL)
	journey.UpdatedAt = j.tx.now()
	j.tx.journeys[journey.ID] = journey
	return journey, nil
}

func (j txJourneys) Submit(_ context.Context, journeyID string) (core.Journey, error) {
	journey, ok := j.tx.journeys[strings.TrimSpace(journeyID)]
	if !ok {
		return core.Journey{}, core.ErrJourneyNotFound
	}
	journey.Status = core.JourneyStatusSubmitted
	journey.UpdatedAt = j.tx.now()
	j.tx.journeys[journey.ID] = journey
	return journey, nil
}

type txOutbox struct{ tx *memoryTx }

func (o txOutbox) Append(_ context.Context, draft core.EventDraft) (core.OutboxEvent, error) {
	event, err := outbox.NewEvent(draft, o.tx.now())
	if err != nil {
		return core.OutboxEvent{}, err
	}
	o.tx.events = append(o.tx.events, event)
	return event, nil
}

func normalizePhone(phone string) string {
	return strings.TrimSpace(phone)
}

var (
	_ core.UnitOfWork       = (*Store)(nil)
	_ core.UserDirectory    = (*Store)(nil)
	_ core.JourneyDirectory = (*Store)(nil)
)
