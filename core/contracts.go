package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// KeyValueStore is the shared store behind sessions, idempotency records,
// rate-limit counters and session leases. Implementations must make every
// single-key operation atomic across process instances.
type KeyValueStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetIfAbsent stores value only when key does not exist and reports
	// whether the write happened.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	// Incr increments the integer at key, creating it at 1 when absent.
	// A key created by Incr has no expiry until Expire is called.
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// TTL returns the remaining time to live; a missing key or a key without
	// expiry returns a non-positive duration.
	TTL(ctx context.Context, key string) (time.Duration, error)
}

type SessionStore interface {
	Load(ctx context.Context, senderID string) (Session, error)
	Save(ctx context.Context, senderID string, session Session) error
	Delete(ctx context.Context, senderID string) error
}

type OutboxAppender interface {
	Append(ctx context.Context, draft EventDraft) (OutboxEvent, error)
}

// OutboxReader is the surface consumed by the out-of-process publisher.
type OutboxReader interface {
	ListUnpublished(ctx context.Context, limit int) ([]OutboxEvent, error)
	MarkPublished(ctx context.Context, id string) error
}

type UserWriter interface {
	Register(ctx context.Context, phone string, acceptedAt time.Time) (User, error)
	MarkVerified(ctx context.Context, phone string, verifiedAt time.Time) (User, error)
}

type JourneyWriter interface {
	Create(ctx context.Context, journey Journey) (Journey, error)
	AttachTicket(ctx context.Context, journeyID string, ticketURL string) (Journey, error)
	Submit(ctx context.Context, journeyID string) (Journey, error)
}

// Tx exposes the writers bound to one atomic unit of work.
type Tx interface {
	Users() UserWriter
	Journeys() JourneyWriter
	Outbox() OutboxAppender
}

// UnitOfWork runs fn in a single transaction. Returning an error from fn
// rolls back every write and every appended outbox event.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type UserDirectory interface {
	FindByPhone(ctx context.Context, phone string) (User, error)
}

type JourneyDirectory interface {
	ListByPhone(ctx context.Context, phone string, limit int) ([]Journey, error)
}

type PhoneVerifier interface {
	StartVerification(ctx context.Context, phone string) error
	CheckVerification(ctx context.Context, phone string, code string) (VerificationStatus, error)
}

type JourneyMatcher interface {
	FindRoutes(ctx context.Context, query RouteQuery) ([]Route, error)
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger
