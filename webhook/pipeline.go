package webhook

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-claimbot/core"
	"github.com/goliatone/go-claimbot/fsm"
	"github.com/goliatone/go-claimbot/idempotency"
	"github.com/goliatone/go-claimbot/ratelimit"
	"github.com/goliatone/go-claimbot/session"
)

type IdempotencyGuard interface {
	Claim(ctx context.Context, messageID string) (idempotency.Claim, error)
	MarkProcessed(ctx context.Context, messageID string, response string) error
	Release(ctx context.Context, messageID string) error
}

type RateLimiter interface {
	Admit(ctx context.Context, senderID string) (ratelimit.Decision, error)
}

type Dispatcher interface {
	Transition(ctx context.Context, in fsm.TransitionInput) (core.HandlerResult, error)
}

type Dependencies struct {
	Verifier   Verifier
	Guard      IdempotencyGuard
	Limiter    RateLimiter
	Sessions   core.SessionStore
	Dispatcher Dispatcher
	UnitOfWork core.UnitOfWork
	// Leaser is optional. Without it concurrent messages from one sender
	// resolve as last write wins.
	Leaser   session.Leaser
	Observer core.Observer
	Now      func() time.Time
}

// Pipeline runs one inbound message through verification, duplicate
// suppression, rate limiting, the state machine and persistence. Each stage
// may short-circuit with a terminal response.
type Pipeline struct {
	verifier   Verifier
	guard      IdempotencyGuard
	limiter    RateLimiter
	sessions   core.SessionStore
	dispatcher Dispatcher
	unitOfWork core.UnitOfWork
	leaser     session.Leaser
	observer   core.Observer
	now        func() time.Time
}

func NewPipeline(deps Dependencies) (*Pipeline, error) {
	missing := make([]string, 0)
	if deps.Verifier == nil {
		missing = append(missing, "verifier")
	}
	if deps.Guard == nil {
		missing = append(missing, "idempotency guard")
	}
	if deps.Limiter == nil {
		missing = append(missing, "rate limiter")
	}
	if deps.Sessions == nil {
		missing = append(missing, "session store")
	}
	if deps.Dispatcher == nil {
		missing = append(missing, "dispatcher")
	}
	if deps.UnitOfWork == nil {
		missing = append(missing, "unit of work")
	}
	if len(missing) > 0 {
		return nil, core.ConfigurationError(
			"webhook: pipeline requires "+strings.Join(missing, ", "),
			map[string]any{"missing": missing},
		)
	}
	pipeline := &Pipeline{
		verifier:   deps.Verifier,
		guard:      deps.Guard,
		limiter:    deps.Limiter,
		sessions:   deps.Sessions,
		dispatcher: deps.Dispatcher,
		unitOfWork: deps.UnitOfWork,
		leaser:     deps.Leaser,
		observer:   deps.Observer,
		now:        deps.Now,
	}
	if pipeline.leaser == nil {
		pipeline.leaser = session.NopLeaser{}
	}
	if pipeline.now == nil {
		pipeline.now = func() time.Time { return time.Now().UTC() }
	}
	return pipeline, nil
}

// run tracks what one request has done so failures can be unwound.
type run struct {
	correlationID string
	messageID     string
	state         core.State
	claimed       bool
	committed     bool
}

// Process never panics. The returned Response is always renderable; the
// error, when set, is the cause behind a non-200 status and is meant for
// logs only.
func (p *Pipeline) Process(ctx context.Context, req Request) (resp Response, err error) {
	startedAt := time.Now()
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(req.CorrelationID) != "" {
		ctx = core.ContextWithCorrelationID(ctx, req.CorrelationID)
	}
	ctx, correlationID := core.EnsureCorrelationID(ctx)
	current := &run{correlationID: correlationID}

	defer func() {
		if recovered := recover(); recovered != nil {
			err = core.UnhandledError("webhook: pipeline panicked", fmt.Errorf("panic: %v", recovered))
			p.releaseClaim(ctx, current)
			resp = newResponse(http.StatusInternalServerError, msgApology, OutcomeFailed, correlationID)
		}
		p.observe(ctx, startedAt, current, resp, err)
	}()

	resp, err = p.process(ctx, req, current)
	return resp, err
}

func (p *Pipeline) process(ctx context.Context, req Request, current *run) (Response, error) {
	if err := p.verifier.Verify(ctx, req); err != nil {
		return p.failure(current, err), err
	}
	message, err := ParseMessage(req.Form)
	if err != nil {
		return p.failure(current, err), err
	}
	current.messageID = message.MessageID

	claim, err := p.guard.Claim(ctx, message.MessageID)
	if err != nil {
		return p.failure(current, err), err
	}
	if !claim.Acquired {
		if text, ok := claim.Replay(); ok {
			return newResponse(http.StatusOK, text, OutcomeReplayed, current.correlationID), nil
		}
		return newResponse(http.StatusOK, "", OutcomeInFlight, current.correlationID), nil
	}
	current.claimed = true

	resp, err := p.handle(ctx, req, message, current)
	if err != nil {
		p.releaseClaim(ctx, current)
	}
	return resp, err
}

func (p *Pipeline) handle(ctx context.Context, req Request, message core.InboundMessage, current *run) (Response, error) {
	sender := message.From

	decision, err := p.limiter.Admit(ctx, sender)
	if err != nil {
		return p.failure(current, err), err
	}
	if !decision.Allowed {
		err := decision.Err(sender)
		return p.failure(current, err), err
	}

	lease, acquired, err := p.leaser.Acquire(ctx, sender)
	if err != nil {
		return p.failure(current, err), err
	}
	if !acquired {
		err := core.StoreUnavailableError("webhook: sender session is busy", nil)
		resp := newResponse(http.StatusServiceUnavailable, msgUnavailable, OutcomeContended, current.correlationID)
		resp.RetryAfter = 1
		return resp, err
	}
	defer func() {
		if releaseErr := p.leaser.Release(context.WithoutCancel(ctx), lease); releaseErr != nil {
			p.observer.Error(ctx, "webhook session lease release failed", map[string]any{"error": releaseErr.Error()})
		}
	}()

	conversation, err := p.sessions.Load(ctx, sender)
	if err != nil {
		return p.failure(current, err), err
	}
	current.state = conversation.State

	receivedAt := req.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = p.now()
	}
	result, err := p.dispatcher.Transition(ctx, fsm.TransitionInput{
		State:   conversation.State,
		Text:    message.Body,
		Data:    conversation.Data,
		Message: message,
		Context: fsm.ExternalContext{
			SenderID:      sender,
			CorrelationID: current.correlationID,
			ReceivedAt:    receivedAt,
		},
	})
	if err != nil {
		return p.failure(current, err), err
	}
	if strings.TrimSpace(result.Response) == "" {
		err := core.UnhandledError(fmt.Sprintf("webhook: state %s produced an empty response", conversation.State), nil)
		return p.failure(current, err), err
	}

	if err := p.commit(ctx, result); err != nil {
		if !isRich(err) {
			err = core.UnhandledError("webhook: unit of work failed", err)
		}
		return p.failure(current, err), err
	}
	current.committed = true

	// The committed response is recorded under the full idempotency TTL
	// before the session moves, so a redelivery after any later failure
	// replays it instead of committing again.
	if err := p.guard.MarkProcessed(ctx, message.MessageID, result.Response); err != nil {
		p.observer.Error(ctx, "webhook idempotency mark failed", map[string]any{
			"message_id": message.MessageID,
			"error":      err.Error(),
		})
	}

	if result.EndConversation {
		if err := p.sessions.Delete(ctx, sender); err != nil {
			p.observer.Error(ctx, "webhook session delete failed", map[string]any{"error": err.Error()})
		}
	} else {
		next := session.Apply(conversation, result)
		if err := p.sessions.Save(ctx, sender, next); err != nil {
			return p.failure(current, err), err
		}
		current.state = next.State
	}
	return newResponse(http.StatusOK, result.Response, OutcomeProcessed, current.correlationID), nil
}

// commit runs the business writes and appends every event in one unit of
// work. Events declared on the result are appended before those returned by
// the writes.
func (p *Pipeline) commit(ctx context.Context, result core.HandlerResult) error {
	if len(result.Writes) == 0 && len(result.Events) == 0 {
		return nil
	}
	return p.unitOfWork.Do(ctx, func(ctx context.Context, tx core.Tx) error {
		drafts := append([]core.EventDraft(nil), result.Events...)
		for _, write := range result.Writes {
			if write == nil {
				continue
			}
			produced, err := write(ctx, tx)
			if err != nil {
				return err
			}
			drafts = append(drafts, produced...)
		}
		for _, draft := range drafts {
			if _, err := tx.Outbox().Append(ctx, draft); err != nil {
				return err
			}
		}
		return nil
	})
}

// releaseClaim lets a transport retry reprocess a message that failed before
// its unit of work committed. After a commit the processed record stays so a
// retry cannot emit the same events twice.
func (p *Pipeline) releaseClaim(ctx context.Context, current *run) {
	if !current.claimed || current.committed {
		return
	}
	if err := p.guard.Release(context.WithoutCancel(ctx), current.messageID); err != nil {
		p.observer.Error(ctx, "webhook idempotency release failed", map[string]any{
			"message_id": current.messageID,
			"error":      err.Error(),
		})
	}
}

func (p *Pipeline) failure(current *run, err error) Response {
	status := core.HTTPStatus(err)
	var message string
	outcome := OutcomeFailed
	switch {
	case status == http.StatusBadRequest:
		outcome = OutcomeInvalid
	case status == http.StatusUnauthorized:
		outcome = OutcomeRejected
	case status == http.StatusTooManyRequests:
		outcome = OutcomeRateLimited
		message = msgSlowDown
	case status == http.StatusServiceUnavailable:
		outcome = OutcomeUnavailable
		message = msgUnavailable
	case status >= http.StatusInternalServerError:
		// Dependency and configuration failures reach the caller as 500.
		status = http.StatusInternalServerError
		message = msgApology
	}
	resp := newResponse(status, message, outcome, current.correlationID)
	if seconds, ok := core.RetryAfterSeconds(err); ok {
		resp.RetryAfter = seconds
	}
	return resp
}

func (p *Pipeline) observe(ctx context.Context, startedAt time.Time, current *run, resp Response, err error) {
	fields := map[string]any{
		"outcome":     string(resp.Outcome),
		"status_code": resp.StatusCode,
	}
	if current.messageID != "" {
		fields["message_id"] = current.messageID
	}
	if current.state != "" {
		fields["state"] = string(current.state)
	}
	p.observer.Observe(ctx, startedAt, "webhook.process", err, fields)
}

func isRich(err error) bool {
	var rich *goerrors.Error
	return goerrors.As(err, &rich)
}
