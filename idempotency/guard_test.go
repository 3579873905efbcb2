package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-claimbot/core"
	"github.com/goliatone/go-claimbot/kvstore"
)

func newTestGuard() (*Guard, *kvstore.MemoryStore) {
	store := kvstore.NewMemoryStore()
	guard := NewGuard(store, core.IdempotencyConfig{})
	return guard, store
}

func TestGuard_FirstSightIsNotProcessed(t *testing.T) {
	guard, _ := newTestGuard()
	processed, err := guard.HasBeenProcessed(context.Background(), "SM1")
	if err != nil {
		t.Fatalf("has been processed: %v", err)
	}
	if processed {
		t.Fatalf("expected unseen message id")
	}
}

func TestGuard_ClaimThenMarkReplaysResponse(t *testing.T) {
	ctx := context.Background()
	guard, _ := newTestGuard()

	claim, err := guard.Claim(ctx, "SM1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !claim.Acquired {
		t.Fatalf("expected first claim to acquire")
	}
	if err := guard.MarkProcessed(ctx, "SM1", "Welcome!"); err != nil {
		t.Fatalf("mark processed: %v", err)
	}

	duplicate, err := guard.Claim(ctx, "SM1")
	if err != nil {
		t.Fatalf("duplicate claim: %v", err)
	}
	if duplicate.Acquired {
		t.Fatalf("expected duplicate not to acquire")
	}
	response, ok := duplicate.Replay()
	if !ok || response != "Welcome!" {
		t.Fatalf("expected replayed response, got %q (%v)", response, ok)
	}

	processed, err := guard.HasBeenProcessed(ctx, "SM1")
	if err != nil || !processed {
		t.Fatalf("expected processed, got %v (%v)", processed, err)
	}
}

func TestGuard_InFlightDuplicateHasNoReplay(t *testing.T) {
	ctx := context.Background()
	guard, _ := newTestGuard()
	if _, err := guard.Claim(ctx, "SM2"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	duplicate, err := guard.Claim(ctx, "SM2")
	if err != nil {
		t.Fatalf("duplicate claim: %v", err)
	}
	if _, ok := duplicate.Replay(); ok {
		t.Fatalf("expected in-flight duplicate to have no replay")
	}
	if duplicate.Existing.Status != StatusProcessing {
		t.Fatalf("expected processing status, got %q", duplicate.Existing.Status)
	}
}

func TestGuard_ConcurrentClaimsAcquireOnce(t *testing.T) {
	ctx := context.Background()
	guard, _ := newTestGuard()

	var wg sync.WaitGroup
	var mu sync.Mutex
	acquired := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claim, err := guard.Claim(ctx, "SM3")
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			if claim.Acquired {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if acquired != 1 {
		t.Fatalf("expected one acquisition, got %d", acquired)
	}
}

func TestGuard_ReleaseAllowsRetry(t *testing.T) {
	ctx := context.Background()
	guard, _ := newTestGuard()
	if _, err := guard.Claim(ctx, "SM4"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := guard.Release(ctx, "SM4"); err != nil {
		t.Fatalf("release: %v", err)
	}
	claim, err := guard.Claim(ctx, "SM4")
	if err != nil || !claim.Acquired {
		t.Fatalf("expected retry to acquire, got %+v (%v)", claim, err)
	}
}

func TestGuard_ReleaseKeepsProcessedRecord(t *testing.T) {
	ctx := context.Background()
	guard, _ := newTestGuard()
	_, _ = guard.Claim(ctx, "SM5")
	_ = guard.MarkProcessed(ctx, "SM5", "done")
	if err := guard.Release(ctx, "SM5"); err != nil {
		t.Fatalf("release: %v", err)
	}
	claim, _ := guard.Claim(ctx, "SM5")
	if claim.Acquired {
		t.Fatalf("expected processed record to survive release")
	}
}

func TestGuard_ProcessedRecordOutlivesInFlightLease(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := kvstore.NewMemoryStore()
	store.Now = func() time.Time { return now }
	guard := NewGuard(store, core.DefaultConfig().Idempotency)

	_, _ = guard.Claim(ctx, "SM7")
	_, _ = guard.Claim(ctx, "SM8")
	if err := guard.MarkProcessed(ctx, "SM8", "ok"); err != nil {
		t.Fatalf("mark processed: %v", err)
	}

	now = now.Add(guard.Lease + time.Second)
	stale, err := guard.Claim(ctx, "SM7")
	if err != nil || !stale.Acquired {
		t.Fatalf("expected abandoned in-flight claim to lapse after the lease, got %+v %v", stale, err)
	}
	done, err := guard.Claim(ctx, "SM8")
	if err != nil || done.Acquired {
		t.Fatalf("expected processed record to survive the lease, got %+v %v", done, err)
	}
	if response, ok := done.Replay(); !ok || response != "ok" {
		t.Fatalf("expected replay, got %q (%v)", response, ok)
	}
}

func TestGuard_ProcessedRecordExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := kvstore.NewMemoryStore()
	store.Now = func() time.Time { return now }
	guard := NewGuard(store, core.IdempotencyConfig{TTL: 24 * time.Hour})
	guard.Now = store.Now

	_, _ = guard.Claim(ctx, "SM6")
	_ = guard.MarkProcessed(ctx, "SM6", "ok")

	now = now.Add(24 * time.Hour)
	processed, err := guard.HasBeenProcessed(ctx, "SM6")
	if err != nil {
		t.Fatalf("has been processed: %v", err)
	}
	if processed {
		t.Fatalf("expected record to expire after 24h")
	}
}

func TestGuard_StoreFailureFailsClosed(t *testing.T) {
	guard, store := newTestGuard()
	store.FailWith(errors.New("connection refused"))

	_, err := guard.Claim(context.Background(), "SM7")
	if !core.HasTextCode(err, core.ErrorStoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
	if _, err := guard.HasBeenProcessed(context.Background(), "SM7"); !core.HasTextCode(err, core.ErrorStoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
}

func TestGuard_EmptyMessageIDIsValidationError(t *testing.T) {
	guard, _ := newTestGuard()
	_, err := guard.Claim(context.Background(), " ")
	if !core.HasTextCode(err, core.ErrorValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
