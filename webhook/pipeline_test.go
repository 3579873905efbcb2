package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-claimbot/core"
	"github.com/goliatone/go-claimbot/fsm"
	"github.com/goliatone/go-claimbot/idempotency"
	"github.com/goliatone/go-claimbot/kvstore"
	"github.com/goliatone/go-claimbot/ratelimit"
	"github.com/goliatone/go-claimbot/session"
	"github.com/goliatone/go-claimbot/store/memory"
)

const (
	testToken  = "auth-token"
	testURL    = "https://bot.example.com/webhook/whatsapp"
	testSender = "whatsapp:+447700900123"
)

type countingVerifier struct {
	mu      sync.Mutex
	started int
}

func (v *countingVerifier) StartVerification(context.Context, string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.started++
	return nil
}

func (v *countingVerifier) CheckVerification(context.Context, string, string) (core.VerificationStatus, error) {
	return core.VerificationApproved, nil
}

func (v *countingVerifier) starts() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.started
}

type noRoutes struct{}

func (noRoutes) FindRoutes(context.Context, core.RouteQuery) ([]core.Route, error) {
	return nil, nil
}

type dispatcherFunc func(ctx context.Context, in fsm.TransitionInput) (core.HandlerResult, error)

func (f dispatcherFunc) Transition(ctx context.Context, in fsm.TransitionInput) (core.HandlerResult, error) {
	return f(ctx, in)
}

type failingSaves struct {
	core.SessionStore
}

func (failingSaves) Save(context.Context, string, core.Session) error {
	return core.StoreUnavailableError("session save failed", errors.New("connection reset"))
}

type pipelineHarness struct {
	pipeline *Pipeline
	kv       *kvstore.MemoryStore
	store    *memory.Store
	sessions *session.KVStore
	guard    *idempotency.Guard
	verifier *countingVerifier
}

func newPipelineHarness(t *testing.T, customize ...func(*Dependencies)) *pipelineHarness {
	t.Helper()
	kv := kvstore.NewMemoryStore()
	store := memory.NewStore()
	verifier := &countingVerifier{}
	machine, err := fsm.New(fsm.Dependencies{
		Users:    store,
		Journeys: store,
		Verifier: verifier,
		Matcher:  noRoutes{},
	})
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}

	cfg := core.DefaultConfig()
	fixed := time.Date(2026, 3, 1, 9, 0, 30, 0, time.UTC)
	limiter := ratelimit.NewFixedWindowLimiter(kv, cfg.RateLimit)
	limiter.Now = func() time.Time { return fixed }
	sessions := session.NewKVStore(kv, cfg.Session)
	guard := idempotency.NewGuard(kv, cfg.Idempotency)

	deps := Dependencies{
		Verifier:   SignatureVerifier{AuthToken: testToken},
		Guard:      guard,
		Limiter:    limiter,
		Sessions:   sessions,
		Dispatcher: machine,
		UnitOfWork: store,
	}
	for _, fn := range customize {
		fn(&deps)
	}
	pipeline, err := NewPipeline(deps)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return &pipelineHarness{
		pipeline: pipeline,
		kv:       kv,
		store:    store,
		sessions: sessions,
		guard:    guard,
		verifier: verifier,
	}
}

func messageForm(messageID string, body string) url.Values {
	return url.Values{
		FieldMessageID: {messageID},
		FieldFrom:      {testSender},
		FieldTo:        {"whatsapp:+14155238886"},
		FieldBody:      {body},
	}
}

func signed(form url.Values) Request {
	return Request{
		URL:  testURL,
		Form: form,
		Headers: http.Header{
			HeaderSignature: {Sign(testToken, testURL, form)},
		},
		CorrelationID: "corr-" + form.Get(FieldMessageID),
	}
}

func (h *pipelineHarness) state(t *testing.T) core.State {
	t.Helper()
	current, err := h.sessions.Load(context.Background(), testSender)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	return current.State
}

func (h *pipelineHarness) seedState(t *testing.T, state core.State) {
	t.Helper()
	if err := h.sessions.Save(context.Background(), testSender, core.Session{State: state, Data: map[string]any{}}); err != nil {
		t.Fatalf("seed session: %v", err)
	}
}

func TestPipeline_NewSenderIsInvitedToAcceptTerms(t *testing.T) {
	h := newPipelineHarness(t)
	resp, err := h.pipeline.Process(context.Background(), signed(messageForm("SM001", "Hello")))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if resp.StatusCode != http.StatusOK || resp.Outcome != OutcomeProcessed {
		t.Fatalf("expected processed 200, got %d %s", resp.StatusCode, resp.Outcome)
	}
	if !strings.Contains(resp.Body, "<Response><Message>") || !strings.Contains(resp.Body, "terms") {
		t.Fatalf("expected terms invitation envelope, got %s", resp.Body)
	}
	if got := h.state(t); got != core.StateAwaitingTerms {
		t.Fatalf("expected AWAITING_TERMS, got %s", got)
	}
	if resp.CorrelationID != "corr-SM001" {
		t.Fatalf("expected correlation id to be echoed, got %q", resp.CorrelationID)
	}
}

func TestPipeline_DuplicateDeliveryReplaysResponse(t *testing.T) {
	h := newPipelineHarness(t)
	h.seedState(t, core.StateAwaitingTerms)
	req := signed(messageForm("SM002", "YES"))

	first, err := h.pipeline.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := h.pipeline.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.Body != second.Body {
		t.Fatalf("expected identical bodies:\n%s\n%s", first.Body, second.Body)
	}
	if second.Outcome != OutcomeReplayed || second.StatusCode != http.StatusOK {
		t.Fatalf("expected replayed 200, got %d %s", second.StatusCode, second.Outcome)
	}
	if got := len(h.store.Outbox.Events()); got != 1 {
		t.Fatalf("expected one outbox event, got %d", got)
	}
	if got := h.verifier.starts(); got != 1 {
		t.Fatalf("expected one verification start, got %d", got)
	}
	if got := h.state(t); got != core.StateAwaitingOTP {
		t.Fatalf("expected AWAITING_OTP, got %s", got)
	}
}

func TestPipeline_InFlightDuplicateGetsEmptyEnvelope(t *testing.T) {
	h := newPipelineHarness(t)
	if _, err := h.guard.Claim(context.Background(), "SM003"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	resp, err := h.pipeline.Process(context.Background(), signed(messageForm("SM003", "Hello")))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if resp.StatusCode != http.StatusOK || resp.Outcome != OutcomeInFlight || resp.Message != "" {
		t.Fatalf("expected empty 200, got %+v", resp)
	}
}

func TestPipeline_RateLimitsSixtyFirstRequest(t *testing.T) {
	h := newPipelineHarness(t)
	for i := 1; i <= 60; i++ {
		resp, err := h.pipeline.Process(context.Background(), signed(messageForm(fmt.Sprintf("SM1%03d", i), "Hello")))
		if err != nil || resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d %v", i, resp.StatusCode, err)
		}
	}
	resp, err := h.pipeline.Process(context.Background(), signed(messageForm("SM1061", "Hello")))
	if !core.HasTextCode(err, core.ErrorRateLimited) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	retryAfter, parseErr := strconv.Atoi(resp.Headers().Get("Retry-After"))
	if parseErr != nil || retryAfter < 1 || retryAfter > 60 {
		t.Fatalf("expected retry-after in [1,60], got %q", resp.Headers().Get("Retry-After"))
	}
	processed, _ := h.guard.HasBeenProcessed(context.Background(), "SM1061")
	if processed {
		t.Fatalf("expected rate limited message to stay retryable")
	}
}

func TestPipeline_RejectsBadSignature(t *testing.T) {
	h := newPipelineHarness(t)
	req := signed(messageForm("SM004", "Hello"))
	req.Form.Set(FieldBody, "tampered")

	resp, err := h.pipeline.Process(context.Background(), req)
	if !core.HasTextCode(err, core.ErrorAuthentication) {
		t.Fatalf("expected authentication error, got %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized || resp.Message != "" {
		t.Fatalf("expected bare 401, got %+v", resp)
	}
	if len(h.kv.Keys("")) != 0 {
		t.Fatalf("expected no store writes for a rejected request, got %v", h.kv.Keys(""))
	}
}

func TestPipeline_RejectsMissingFields(t *testing.T) {
	h := newPipelineHarness(t)
	form := url.Values{FieldFrom: {testSender}}
	resp, err := h.pipeline.Process(context.Background(), signed(form))
	if !core.HasTextCode(err, core.ErrorValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestPipeline_StoreOutageFailsClosed(t *testing.T) {
	h := newPipelineHarness(t)
	h.kv.FailWith(errors.New("dial tcp: connection refused"))

	resp, err := h.pipeline.Process(context.Background(), signed(messageForm("SM005", "Hello")))
	if !core.HasTextCode(err, core.ErrorStoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	if strings.Contains(resp.Body, "connection refused") {
		t.Fatalf("expected no internal detail in the response, got %s", resp.Body)
	}
	if h.verifier.starts() != 0 {
		t.Fatalf("expected no collaborator calls")
	}
}

func TestPipeline_PanicBecomesApology(t *testing.T) {
	h := newPipelineHarness(t, func(deps *Dependencies) {
		deps.Dispatcher = dispatcherFunc(func(context.Context, fsm.TransitionInput) (core.HandlerResult, error) {
			panic("nil map write")
		})
	})
	resp, err := h.pipeline.Process(context.Background(), signed(messageForm("SM006", "Hello")))
	if !core.HasTextCode(err, core.ErrorUnhandled) {
		t.Fatalf("expected unhandled error, got %v", err)
	}
	if resp.StatusCode != http.StatusInternalServerError || !strings.Contains(resp.Body, "Sorry") {
		t.Fatalf("expected apology 500, got %d %s", resp.StatusCode, resp.Body)
	}
	if resp.Headers().Get("X-Correlation-ID") != "corr-SM006" {
		t.Fatalf("expected correlation id header, got %v", resp.Headers())
	}
	processed, _ := h.guard.HasBeenProcessed(context.Background(), "SM006")
	if processed {
		t.Fatalf("expected claim to be released after a panic")
	}
}

func TestPipeline_FailedWriteRollsBackEverything(t *testing.T) {
	h := newPipelineHarness(t, func(deps *Dependencies) {
		deps.Dispatcher = dispatcherFunc(func(context.Context, fsm.TransitionInput) (core.HandlerResult, error) {
			return core.HandlerResult{
				Response:  "saved",
				NextState: core.StatePtr(core.StateAwaitingOTP),
				Events: []core.EventDraft{{
					AggregateID:   "u-1",
					AggregateType: core.AggregateUser,
					EventType:     core.EventUserRegistered,
				}},
				Writes: []core.Write{func(context.Context, core.Tx) ([]core.EventDraft, error) {
					return nil, errors.New("constraint violation")
				}},
			}, nil
		})
	})
	resp, err := h.pipeline.Process(context.Background(), signed(messageForm("SM007", "YES")))
	if err == nil || resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d %v", resp.StatusCode, err)
	}
	if got := len(h.store.Outbox.Events()); got != 0 {
		t.Fatalf("expected no outbox rows, got %d", got)
	}
	if got := h.state(t); got != core.StateStart {
		t.Fatalf("expected session untouched, got %s", got)
	}
	processed, _ := h.guard.HasBeenProcessed(context.Background(), "SM007")
	if processed {
		t.Fatalf("expected claim to be released")
	}
}

func TestPipeline_SessionFailureAfterCommitReplaysResponse(t *testing.T) {
	h := newPipelineHarness(t)
	h.seedState(t, core.StateAwaitingTerms)
	failing, err := NewPipeline(Dependencies{
		Verifier:   NopVerifier{},
		Guard:      h.guard,
		Limiter:    ratelimit.NewFixedWindowLimiter(h.kv, core.DefaultConfig().RateLimit),
		Sessions:   failingSaves{SessionStore: h.sessions},
		Dispatcher: h.pipeline.dispatcher,
		UnitOfWork: h.store,
	})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}

	resp, err := failing.Process(context.Background(), signed(messageForm("SM008", "YES")))
	if resp.StatusCode != http.StatusServiceUnavailable || err == nil {
		t.Fatalf("expected 503, got %d %v", resp.StatusCode, err)
	}
	if got := len(h.store.Outbox.Events()); got != 1 {
		t.Fatalf("expected committed event, got %d", got)
	}

	retry, err := failing.Process(context.Background(), signed(messageForm("SM008", "YES")))
	if err != nil || retry.Outcome != OutcomeReplayed {
		t.Fatalf("expected retry to replay the committed response, got %+v %v", retry, err)
	}
	if got := len(h.store.Outbox.Events()); got != 1 {
		t.Fatalf("expected no second event, got %d", got)
	}
}

func TestPipeline_RedeliveryAfterLeaseWindowDoesNotRecommit(t *testing.T) {
	h := newPipelineHarness(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	h.kv.Now = func() time.Time { return now }
	h.seedState(t, core.StateAwaitingTerms)
	failing, err := NewPipeline(Dependencies{
		Verifier:   NopVerifier{},
		Guard:      h.guard,
		Limiter:    ratelimit.NewFixedWindowLimiter(h.kv, core.DefaultConfig().RateLimit),
		Sessions:   failingSaves{SessionStore: h.sessions},
		Dispatcher: h.pipeline.dispatcher,
		UnitOfWork: h.store,
	})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}

	resp, _ := failing.Process(context.Background(), signed(messageForm("SM018", "YES")))
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 after session save failure, got %d", resp.StatusCode)
	}

	for _, wait := range []time.Duration{31 * time.Second, h.guard.Lease + time.Second, time.Hour} {
		now = now.Add(wait)
		retry, err := h.pipeline.Process(context.Background(), signed(messageForm("SM018", "YES")))
		if err != nil || retry.Outcome != OutcomeReplayed {
			t.Fatalf("after %s: expected replay, got %+v %v", wait, retry, err)
		}
	}
	if got := len(h.store.Outbox.Events()); got != 1 {
		t.Fatalf("expected one outbox event, got %d", got)
	}
	if got := h.verifier.starts(); got != 1 {
		t.Fatalf("expected one verification start, got %d", got)
	}
}

func TestPipeline_ClaimOutlivesSlowestDispatch(t *testing.T) {
	var h *pipelineHarness
	budget := core.DefaultConfig().DispatchBudget()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	h = newPipelineHarness(t, func(deps *Dependencies) {
		deps.Dispatcher = dispatcherFunc(func(ctx context.Context, _ fsm.TransitionInput) (core.HandlerResult, error) {
			now = now.Add(budget)
			duplicate, err := h.guard.Claim(ctx, "SM019")
			if err != nil {
				return core.HandlerResult{}, err
			}
			if duplicate.Acquired {
				return core.HandlerResult{}, errors.New("duplicate claimed the message mid dispatch")
			}
			return core.HandlerResult{Response: "ok", NextState: core.StatePtr(core.StateAwaitingTerms)}, nil
		})
	})
	h.kv.Now = func() time.Time { return now }

	resp, err := h.pipeline.Process(context.Background(), signed(messageForm("SM019", "Hello")))
	if err != nil || resp.Outcome != OutcomeProcessed {
		t.Fatalf("expected processed, got %+v %v", resp, err)
	}
}

func TestPipeline_EndConversationDeletesSession(t *testing.T) {
	h := newPipelineHarness(t)
	h.seedState(t, core.StateAuthenticated)

	resp, err := h.pipeline.Process(context.Background(), signed(messageForm("SM009", "logout")))
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d %v", resp.StatusCode, err)
	}
	if _, found, _ := h.kv.Get(context.Background(), session.Key(testSender)); found {
		t.Fatalf("expected session to be deleted")
	}
}

func TestPipeline_ContendedLeaseAsksForRetry(t *testing.T) {
	var leaser *session.KVLeaser
	h := newPipelineHarness(t, func(deps *Dependencies) {
		store := deps.Sessions.(*session.KVStore).Store
		leaser = session.NewKVLeaser(store, core.DefaultConfig().Session)
		deps.Leaser = leaser
	})
	if _, acquired, err := leaser.Acquire(context.Background(), testSender); err != nil || !acquired {
		t.Fatalf("pre-acquire lease: %v", err)
	}

	resp, _ := h.pipeline.Process(context.Background(), signed(messageForm("SM010", "Hello")))
	if resp.StatusCode != http.StatusServiceUnavailable || resp.Outcome != OutcomeContended {
		t.Fatalf("expected contended 503, got %d %s", resp.StatusCode, resp.Outcome)
	}
	if resp.Headers().Get("Retry-After") != "1" {
		t.Fatalf("expected Retry-After 1, got %q", resp.Headers().Get("Retry-After"))
	}
	processed, _ := h.guard.HasBeenProcessed(context.Background(), "SM010")
	if processed {
		t.Fatalf("expected claim to be released")
	}
}

func TestPipeline_SenderLeaseOutlivesSlowestDispatch(t *testing.T) {
	var leaser *session.KVLeaser
	budget := core.DefaultConfig().DispatchBudget()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	h := newPipelineHarness(t, func(deps *Dependencies) {
		store := deps.Sessions.(*session.KVStore).Store
		leaser = session.NewKVLeaser(store, core.DefaultConfig().Session)
		deps.Leaser = leaser
		deps.Dispatcher = dispatcherFunc(func(ctx context.Context, _ fsm.TransitionInput) (core.HandlerResult, error) {
			now = now.Add(budget)
			if _, acquired, err := leaser.Acquire(ctx, testSender); err != nil || acquired {
				return core.HandlerResult{}, fmt.Errorf("second message leased the sender mid dispatch: %v", err)
			}
			return core.HandlerResult{Response: "ok", NextState: core.StatePtr(core.StateAwaitingTerms)}, nil
		})
	})
	h.kv.Now = func() time.Time { return now }

	resp, err := h.pipeline.Process(context.Background(), signed(messageForm("SM020", "Hello")))
	if err != nil || resp.Outcome != OutcomeProcessed {
		t.Fatalf("expected processed, got %+v %v", resp, err)
	}
}

func TestNewPipeline_RequiresDependencies(t *testing.T) {
	_, err := NewPipeline(Dependencies{Verifier: NopVerifier{}})
	if !core.HasTextCode(err, core.ErrorConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if !strings.Contains(err.Error(), "unit of work") {
		t.Fatalf("expected missing dependencies to be named, got %v", err)
	}
}
