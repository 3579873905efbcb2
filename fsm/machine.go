package fsm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-claimbot/core"
)

// Dependencies are the collaborators transition functions may call.
type Dependencies struct {
	Users    core.UserDirectory
	Journeys core.JourneyDirectory
	Verifier core.PhoneVerifier
	Matcher  core.JourneyMatcher
}

type Machine struct {
	deps     Dependencies
	config   core.ConversationConfig
	timeout  time.Duration
	now      func() time.Time
	observer core.Observer
	registry *Registry
}

type Option func(*Machine)

func WithConversationConfig(cfg core.ConversationConfig) Option {
	return func(m *Machine) {
		m.config = cfg
	}
}

// WithCollaboratorTimeout bounds every collaborator call made by a
// transition.
func WithCollaboratorTimeout(timeout time.Duration) Option {
	return func(m *Machine) {
		if timeout > 0 {
			m.timeout = timeout
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

func WithObserver(observer core.Observer) Option {
	return func(m *Machine) {
		m.observer = observer
	}
}

// New builds the machine and its registry. Every dependency is required.
func New(deps Dependencies, opts ...Option) (*Machine, error) {
	if deps.Users == nil || deps.Journeys == nil {
		return nil, core.ConfigurationError("fsm: user and journey directories are required", nil)
	}
	if deps.Verifier == nil {
		return nil, core.ConfigurationError("fsm: phone verifier is required", nil)
	}
	if deps.Matcher == nil {
		return nil, core.ConfigurationError("fsm: journey matcher is required", nil)
	}
	defaults := core.DefaultConfig()
	m := &Machine{
		deps:    deps,
		config:  defaults.Conversation,
		timeout: defaults.Collaborators.Timeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	if m.config.MaxOTPAttempts <= 0 {
		m.config.MaxOTPAttempts = defaults.Conversation.MaxOTPAttempts
	}
	if m.config.MaxAlternatives <= 0 {
		m.config.MaxAlternatives = defaults.Conversation.MaxAlternatives
	}
	registry, err := NewRegistry(m.handlers())
	if err != nil {
		return nil, err
	}
	m.registry = registry
	return m, nil
}

func (m *Machine) Registry() *Registry {
	return m.registry
}

// Transition runs the handler of in.State. The only error it returns is a
// configuration error for a state without a handler.
func (m *Machine) Transition(ctx context.Context, in TransitionInput) (core.HandlerResult, error) {
	if m == nil || m.registry == nil {
		return core.HandlerResult{}, core.ConfigurationError("fsm: machine is not configured", nil)
	}
	state := in.State
	if state == "" {
		state = core.InitialState
	}
	handler, err := m.registry.Lookup(state)
	if err != nil {
		return core.HandlerResult{}, err
	}
	in.State = state
	if in.Data == nil {
		in.Data = map[string]any{}
	}
	return handler(ctx, in), nil
}

func (m *Machine) handlers() map[core.State]HandlerFunc {
	return map[core.State]HandlerFunc{
		core.StateStart:                      m.handleStart,
		core.StateAwaitingTerms:              m.termsTable().handler(),
		core.StateAwaitingOTP:                m.handleOTP,
		core.StateAuthenticated:              m.menuTable().handler(),
		core.StateAwaitingJourneyDate:        m.handleJourneyDate,
		core.StateAwaitingJourneyStations:    m.handleJourneyStations,
		core.StateAwaitingJourneyTime:        m.handleJourneyTime,
		core.StateAwaitingJourneyConfirm:     m.journeyConfirmTable().handler(),
		core.StateAwaitingRoutingConfirm:     m.routingConfirmTable().handler(),
		core.StateAwaitingRoutingAlternative: m.handleRoutingAlternative,
		core.StateAwaitingTicketUpload:       m.handleTicketUpload,
		core.StateAwaitingClaimStatus:        m.handleClaimStatus,
		core.StateError:                      m.errorTable().handler(),
	}
}

// call runs fn under the collaborator timeout and turns any failure into a
// dependency error.
func (m *Machine) call(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	startedAt := time.Now()
	err := fn(callCtx)
	if err != nil {
		err = core.DependencyError(fmt.Sprintf("fsm: %s failed", operation), err, map[string]any{"operation": operation})
	}
	m.observer.Observe(ctx, startedAt, "collaborator."+operation, err, nil)
	return err
}

// fail moves the conversation to ERROR and remembers where to resume.
func (m *Machine) fail(state core.State, err error) core.HandlerResult {
	message := msgTemporaryFailure
	if core.IsTimeout(err) {
		message = msgTimeoutFailure
	}
	return core.HandlerResult{
		Response:   message,
		NextState:  core.StatePtr(core.StateError),
		StateData:  map[string]any{keyResumeState: string(state)},
		DataPolicy: core.DataPolicyMerge,
	}
}

func (m *Machine) currentTime() time.Time {
	if m.now == nil {
		return time.Now().UTC()
	}
	return m.now()
}

func stay(response string) core.HandlerResult {
	return core.HandlerResult{Response: response, DataPolicy: core.DataPolicyMerge}
}

func moveTo(state core.State, response string, data map[string]any, policy core.DataPolicy) core.HandlerResult {
	return core.HandlerResult{
		Response:   response,
		NextState:  core.StatePtr(state),
		StateData:  data,
		DataPolicy: policy,
	}
}

// senderPhone strips the transport channel prefix from the sender address.
func senderPhone(in TransitionInput) string {
	sender := strings.TrimSpace(in.Message.From)
	if sender == "" {
		sender = strings.TrimSpace(in.Context.SenderID)
	}
	if index := strings.Index(sender, ":"); index >= 0 {
		sender = sender[index+1:]
	}
	return strings.TrimSpace(sender)
}
