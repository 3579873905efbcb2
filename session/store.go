package session

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-claimbot/core"
)

const KeyPrefix = "session:"

func Key(senderID string) string {
	return KeyPrefix + strings.TrimSpace(senderID)
}

// KVStore persists sessions as JSON {state, data} with a TTL refreshed on
// every write. A missing record loads as the initial state.
type KVStore struct {
	Store core.KeyValueStore
	TTL   time.Duration
}

func NewKVStore(store core.KeyValueStore, cfg core.SessionConfig) *KVStore {
	ttl := cfg.TTL
	if ttl <= 0 || ttl > 24*time.Hour {
		ttl = 24 * time.Hour
	}
	return &KVStore{Store: store, TTL: ttl}
}

func (s *KVStore) Load(ctx context.Context, senderID string) (core.Session, error) {
	if err := s.validate(senderID); err != nil {
		return core.Session{}, err
	}
	raw, found, err := s.Store.Get(ctx, Key(senderID))
	if err != nil {
		return core.Session{}, core.StoreUnavailableError("session load failed", err)
	}
	if !found {
		return core.NewSession(), nil
	}
	return decode(raw)
}

func (s *KVStore) Save(ctx context.Context, senderID string, session core.Session) error {
	if err := s.validate(senderID); err != nil {
		return err
	}
	if !session.State.Valid() {
		return core.UnhandledError("session state is not a member of the state set", core.ErrUnknownState)
	}
	if session.Data == nil {
		session.Data = map[string]any{}
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return core.UnhandledError("session encode failed", err)
	}
	if err := s.Store.Set(ctx, Key(senderID), payload, s.TTL); err != nil {
		return core.StoreUnavailableError("session save failed", err)
	}
	return nil
}

// Delete is advisory; TTL expiry removes abandoned sessions regardless.
func (s *KVStore) Delete(ctx context.Context, senderID string) error {
	if err := s.validate(senderID); err != nil {
		return err
	}
	if err := s.Store.Delete(ctx, Key(senderID)); err != nil {
		return core.StoreUnavailableError("session delete failed", err)
	}
	return nil
}

func (s *KVStore) validate(senderID string) error {
	if s == nil || s.Store == nil {
		return core.ConfigurationError("session store requires a key-value store", nil)
	}
	if strings.TrimSpace(senderID) == "" {
		return core.ValidationError("sender is required", map[string]any{"field": "From"})
	}
	return nil
}

// decode tolerates records written by older builds: an unknown state falls
// back to the initial state with empty data. Whole numbers in data load as
// int and other numbers as float64.
func decode(raw []byte) (core.Session, error) {
	var stored struct {
		State string         `json:"state"`
		Data  map[string]any `json:"data"`
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&stored); err != nil {
		return core.NewSession(), nil
	}
	state, err := core.ParseState(stored.State)
	if err != nil {
		return core.NewSession(), nil
	}
	data, _ := normalizeNumbers(stored.Data).(map[string]any)
	if data == nil {
		data = map[string]any{}
	}
	return core.Session{State: state, Data: data}, nil
}

func normalizeNumbers(value any) any {
	switch typed := value.(type) {
	case json.Number:
		if whole, err := strconv.ParseInt(typed.String(), 10, 0); err == nil {
			return int(whole)
		}
		if fractional, err := typed.Float64(); err == nil {
			return fractional
		}
		return typed.String()
	case map[string]any:
		for key, item := range typed {
			typed[key] = normalizeNumbers(item)
		}
		return typed
	case []any:
		for index, item := range typed {
			typed[index] = normalizeNumbers(item)
		}
		return typed
	default:
		return value
	}
}

// Apply folds a transition result into the session according to policy.
func Apply(current core.Session, result core.HandlerResult) core.Session {
	next := core.Session{State: current.State, Data: cloneData(current.Data)}
	if result.NextState != nil {
		next.State = *result.NextState
	}
	if result.StateData == nil {
		return next
	}
	if result.DataPolicy == core.DataPolicyReplace {
		next.Data = cloneData(result.StateData)
		return next
	}
	for key, value := range result.StateData {
		next.Data[key] = value
	}
	return next
}

func cloneData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for key, value := range data {
		out[key] = value
	}
	return out
}

var _ core.SessionStore = (*KVStore)(nil)
