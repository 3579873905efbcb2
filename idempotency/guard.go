package idempotency

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/goliatone/go-claimbot/core"
)

const KeyPrefix = "idempotent:"

type Status string

const (
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
)

// Record is the value stored under idempotent:{messageId}.
type Record struct {
	Status      Status     `json:"status"`
	Response    string     `json:"response,omitempty"`
	ClaimedAt   time.Time  `json:"claimed_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Claim is the outcome of an attempt to take ownership of a message id.
// When Acquired is false the message is a duplicate and Existing holds the
// record written by the first delivery.
type Claim struct {
	MessageID string
	Acquired  bool
	Existing  Record
}

// Replay reports whether the duplicate already has a final response.
func (c Claim) Replay() (string, bool) {
	if c.Acquired || c.Existing.Status != StatusProcessed {
		return "", false
	}
	return c.Existing.Response, true
}

type Guard struct {
	Store core.KeyValueStore
	// TTL is the lifetime of a processed record.
	TTL time.Duration
	// Lease bounds how long an in-flight claim blocks duplicates when the
	// owning request dies without releasing it.
	Lease time.Duration
	Now   func() time.Time
}

func NewGuard(store core.KeyValueStore, cfg core.IdempotencyConfig) *Guard {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	lease := cfg.Lease
	if lease <= 0 {
		lease = 2 * time.Minute
	}
	return &Guard{
		Store: store,
		TTL:   ttl,
		Lease: lease,
		Now:   func() time.Time { return time.Now().UTC() },
	}
}

func Key(messageID string) string {
	return KeyPrefix + strings.TrimSpace(messageID)
}

// HasBeenProcessed reports whether a record exists for messageID, in flight
// or completed.
func (g *Guard) HasBeenProcessed(ctx context.Context, messageID string) (bool, error) {
	if err := g.validate(messageID); err != nil {
		return false, err
	}
	_, found, err := g.Store.Get(ctx, Key(messageID))
	if err != nil {
		return false, core.StoreUnavailableError("idempotency lookup failed", err)
	}
	return found, nil
}

// Claim atomically records messageID as in flight. Exactly one concurrent
// caller acquires a given id.
func (g *Guard) Claim(ctx context.Context, messageID string) (Claim, error) {
	if err := g.validate(messageID); err != nil {
		return Claim{}, err
	}
	messageID = strings.TrimSpace(messageID)
	payload, err := json.Marshal(Record{Status: StatusProcessing, ClaimedAt: g.now()})
	if err != nil {
		return Claim{}, core.UnhandledError("idempotency record encode failed", err)
	}
	acquired, err := g.Store.SetIfAbsent(ctx, Key(messageID), payload, g.Lease)
	if err != nil {
		return Claim{}, core.StoreUnavailableError("idempotency claim failed", err)
	}
	if acquired {
		return Claim{MessageID: messageID, Acquired: true}, nil
	}

	existing, found, err := g.load(ctx, messageID)
	if err != nil {
		return Claim{}, err
	}
	if !found {
		// The record expired between the two calls; treat it as in flight.
		existing = Record{Status: StatusProcessing}
	}
	return Claim{MessageID: messageID, Existing: existing}, nil
}

// MarkProcessed stores the final response so duplicates replay it.
func (g *Guard) MarkProcessed(ctx context.Context, messageID string, response string) error {
	if err := g.validate(messageID); err != nil {
		return err
	}
	now := g.now()
	record := Record{Status: StatusProcessed, Response: response, ClaimedAt: now, CompletedAt: &now}
	if existing, found, err := g.load(ctx, messageID); err == nil && found {
		record.ClaimedAt = existing.ClaimedAt
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return core.UnhandledError("idempotency record encode failed", err)
	}
	if err := g.Store.Set(ctx, Key(messageID), payload, g.TTL); err != nil {
		return core.StoreUnavailableError("idempotency mark failed", err)
	}
	return nil
}

// Release drops an in-flight claim so a transport retry is processed. A
// processed record is left in place.
func (g *Guard) Release(ctx context.Context, messageID string) error {
	if err := g.validate(messageID); err != nil {
		return err
	}
	existing, found, err := g.load(ctx, messageID)
	if err != nil {
		return err
	}
	if !found || existing.Status == StatusProcessed {
		return nil
	}
	if err := g.Store.Delete(ctx, Key(messageID)); err != nil {
		return core.StoreUnavailableError("idempotency release failed", err)
	}
	return nil
}

func (g *Guard) load(ctx context.Context, messageID string) (Record, bool, error) {
	raw, found, err := g.Store.Get(ctx, Key(messageID))
	if err != nil {
		return Record{}, false, core.StoreUnavailableError("idempotency lookup failed", err)
	}
	if !found {
		return Record{}, false, nil
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		// Foreign values count as completed without a replayable response.
		return Record{Status: StatusProcessed}, true, nil
	}
	return record, true, nil
}

func (g *Guard) validate(messageID string) error {
	if g == nil || g.Store == nil {
		return core.ConfigurationError("idempotency guard requires a store", nil)
	}
	if strings.TrimSpace(messageID) == "" {
		return core.ValidationError("message id is required", map[string]any{"field": "MessageSid"})
	}
	return nil
}

func (g *Guard) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now().UTC()
}
