package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnknownState         = errors.New("core: unknown conversation state")
	ErrInvalidAggregateType = errors.New("core: invalid aggregate type")
	ErrUserNotFound         = errors.New("core: user not found")
	ErrJourneyNotFound      = errors.New("core: journey not found")
)

// State is the closed set of conversation states a sender can be in.
type State string

const (
	StateStart                      State = "START"
	StateAwaitingTerms              State = "AWAITING_TERMS"
	StateAwaitingOTP                State = "AWAITING_OTP"
	StateAuthenticated              State = "AUTHENTICATED"
	StateAwaitingJourneyDate        State = "AWAITING_JOURNEY_DATE"
	StateAwaitingJourneyStations    State = "AWAITING_JOURNEY_STATIONS"
	StateAwaitingJourneyTime        State = "AWAITING_JOURNEY_TIME"
	StateAwaitingJourneyConfirm     State = "AWAITING_JOURNEY_CONFIRM"
	StateAwaitingRoutingConfirm     State = "AWAITING_ROUTING_CONFIRM"
	StateAwaitingRoutingAlternative State = "AWAITING_ROUTING_ALTERNATIVE"
	StateAwaitingTicketUpload       State = "AWAITING_TICKET_UPLOAD"
	StateAwaitingClaimStatus        State = "AWAITING_CLAIM_STATUS"
	StateError                      State = "ERROR"
)

// InitialState is the state of a sender with no stored session.
const InitialState = StateStart

// States lists every member of the closed state enum in declaration order.
func States() []State {
	return []State{
		StateStart,
		StateAwaitingTerms,
		StateAwaitingOTP,
		StateAuthenticated,
		StateAwaitingJourneyDate,
		StateAwaitingJourneyStations,
		StateAwaitingJourneyTime,
		StateAwaitingJourneyConfirm,
		StateAwaitingRoutingConfirm,
		StateAwaitingRoutingAlternative,
		StateAwaitingTicketUpload,
		StateAwaitingClaimStatus,
		StateError,
	}
}

func (s State) Valid() bool {
	for _, candidate := range States() {
		if candidate == s {
			return true
		}
	}
	return false
}

func ParseState(raw string) (State, error) {
	state := State(strings.ToUpper(strings.TrimSpace(raw)))
	if state == "" {
		return InitialState, nil
	}
	if !state.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownState, raw)
	}
	return state, nil
}

// Session is the persisted conversation of one sender.
type Session struct {
	State State          `json:"state"`
	Data  map[string]any `json:"data"`
}

func NewSession() Session {
	return Session{State: InitialState, Data: map[string]any{}}
}

type MediaRef struct {
	URL         string
	ContentType string
}

// InboundMessage is one transport delivery. It is consumed by the pipeline
// and never persisted as such.
type InboundMessage struct {
	MessageID string
	From      string
	To        string
	Body      string
	Media     []MediaRef
}

func (m InboundMessage) HasMedia() bool {
	for _, media := range m.Media {
		if strings.TrimSpace(media.URL) != "" {
			return true
		}
	}
	return false
}

// DataPolicy controls how HandlerResult.StateData is applied to the session.
type DataPolicy string

const (
	DataPolicyMerge   DataPolicy = "merge"
	DataPolicyReplace DataPolicy = "replace"
)

type AggregateType string

const (
	AggregateUser    AggregateType = "user"
	AggregateJourney AggregateType = "journey"
	AggregateClaim   AggregateType = "claim"
)

func (a AggregateType) Validate() error {
	switch a {
	case AggregateUser, AggregateJourney, AggregateClaim:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidAggregateType, string(a))
	}
}

const (
	EventUserRegistered        = "user.registered"
	EventUserVerified          = "user.verified"
	EventJourneyCreated        = "journey.created"
	EventJourneyTicketUploaded = "journey.ticket_uploaded"
	EventClaimSubmitted        = "claim.submitted"
)

// EventDraft is an outbox event before it is assigned an id and timestamp.
type EventDraft struct {
	AggregateID   string
	AggregateType AggregateType
	EventType     string
	Payload       map[string]any
}

type OutboxEvent struct {
	ID            string
	AggregateID   string
	AggregateType AggregateType
	EventType     string
	Payload       map[string]any
	PublishedAt   *time.Time
	CreatedAt     time.Time
}

func (e OutboxEvent) Published() bool {
	return e.PublishedAt != nil
}

// Write is a business mutation executed inside a unit of work. Writes may
// return additional event drafts that depend on ids assigned by the store.
type Write func(ctx context.Context, tx Tx) ([]EventDraft, error)

// HandlerResult is the outcome of one state transition.
type HandlerResult struct {
	Response        string
	NextState       *State
	StateData       map[string]any
	DataPolicy      DataPolicy
	EndConversation bool
	Events          []EventDraft
	Writes          []Write
}

// Stay reports whether the result keeps the sender in its current state.
func (r HandlerResult) Stay() bool {
	return r.NextState == nil
}

func StatePtr(state State) *State {
	return &state
}

type User struct {
	ID              string
	Phone           string
	TermsAcceptedAt *time.Time
	VerifiedAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (u User) Verified() bool {
	return u.VerifiedAt != nil
}

type JourneyStatus string

const (
	JourneyStatusCaptured  JourneyStatus = "captured"
	JourneyStatusConfirmed JourneyStatus = "confirmed"
	JourneyStatusSubmitted JourneyStatus = "submitted"
)

type Journey struct {
	ID            string
	UserID        string
	Phone         string
	TravelDate    string
	Origin        string
	Destination   string
	DepartureTime string
	RouteID       string
	TicketURL     string
	Status        JourneyStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Route is one candidate service returned by the journey matcher.
type Route struct {
	ID            string `json:"id"`
	Origin        string `json:"origin"`
	Destination   string `json:"destination"`
	DepartureTime string `json:"departure_time"`
	ArrivalTime   string `json:"arrival_time"`
	Operator      string `json:"operator"`
	Changes       int    `json:"changes"`
}

type RouteQuery struct {
	Origin        string
	Destination   string
	TravelDate    string
	DepartureTime string
}

type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationApproved VerificationStatus = "approved"
	VerificationRejected VerificationStatus = "rejected"
)
