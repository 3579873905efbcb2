package session

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-claimbot/core"
)

const LeaseKeyPrefix = "lease:session:"

// Leaser serializes the load, dispatch and persist sequence per sender.
type Leaser interface {
	Acquire(ctx context.Context, senderID string) (Lease, bool, error)
	Release(ctx context.Context, lease Lease) error
}

type Lease struct {
	SenderID string
	Token    string
}

// KVLeaser takes a short set-if-absent lock. The lock expires on its own if
// the holder dies, so Release is best effort.
type KVLeaser struct {
	Store core.KeyValueStore
	TTL   time.Duration
}

func NewKVLeaser(store core.KeyValueStore, cfg core.SessionConfig) *KVLeaser {
	ttl := cfg.LeaseTTL
	if ttl <= 0 {
		ttl = 45 * time.Second
	}
	return &KVLeaser{Store: store, TTL: ttl}
}

func LeaseKey(senderID string) string {
	return LeaseKeyPrefix + strings.TrimSpace(senderID)
}

func (l *KVLeaser) Acquire(ctx context.Context, senderID string) (Lease, bool, error) {
	lease := Lease{SenderID: strings.TrimSpace(senderID), Token: uuid.NewString()}
	acquired, err := l.Store.SetIfAbsent(ctx, LeaseKey(lease.SenderID), []byte(lease.Token), l.TTL)
	if err != nil {
		return Lease{}, false, core.StoreUnavailableError("session lease failed", err)
	}
	if !acquired {
		return Lease{}, false, nil
	}
	return lease, true, nil
}

// Release deletes the lock only while it still holds this lease's token.
func (l *KVLeaser) Release(ctx context.Context, lease Lease) error {
	raw, found, err := l.Store.Get(ctx, LeaseKey(lease.SenderID))
	if err != nil {
		return core.StoreUnavailableError("session lease release failed", err)
	}
	if !found || string(raw) != lease.Token {
		return nil
	}
	if err := l.Store.Delete(ctx, LeaseKey(lease.SenderID)); err != nil {
		return core.StoreUnavailableError("session lease release failed", err)
	}
	return nil
}

// NopLeaser always grants the lease: concurrent messages from one sender
// resolve as last write wins.
type NopLeaser struct{}

func (NopLeaser) Acquire(_ context.Context, senderID string) (Lease, bool, error) {
	return Lease{SenderID: senderID}, true, nil
}

func (NopLeaser) Release(context.Context, Lease) error {
	return nil
}

var (
	_ Leaser = (*KVLeaser)(nil)
	_ Leaser = NopLeaser{}
)
