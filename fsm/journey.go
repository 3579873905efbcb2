package fsm

import (
	"context"
	"errors"
	"strings"

	"github.com/goliatone/go-claimbot/core"
	"github.com/google/uuid"
)

func (m *Machine) handleJourneyDate(ctx context.Context, in TransitionInput) core.HandlerResult {
	if Token(Normalize(in.Text)) == TokenMenu {
		return m.showMenu("")
	}
	now := m.currentTime()
	date, err := ParseDate(in.Text, now)
	if err != nil {
		return stay(msgDateHint)
	}
	switch err := ValidateTravelDate(date, now, m.config.ClaimWindowDays); {
	case errors.Is(err, ErrDateInFuture):
		return stay(msgDateFuture)
	case errors.Is(err, ErrDateTooOld):
		return stay(dateTooOld(m.config.ClaimWindowDays))
	}
	return moveTo(core.StateAwaitingJourneyStations, msgAskStations, map[string]any{
		keyJourneyDate: date.Format(dateLayout),
	}, core.DataPolicyMerge)
}

func (m *Machine) handleJourneyStations(ctx context.Context, in TransitionInput) core.HandlerResult {
	if Token(Normalize(in.Text)) == TokenMenu {
		return m.showMenu("")
	}
	origin, destination, ok := ParseStations(in.Text)
	if !ok {
		return stay(msgStationsHint)
	}
	return moveTo(core.StateAwaitingJourneyTime, msgAskTime, map[string]any{
		keyOrigin:      origin,
		keyDestination: destination,
	}, core.DataPolicyMerge)
}

func (m *Machine) handleJourneyTime(ctx context.Context, in TransitionInput) core.HandlerResult {
	if Token(Normalize(in.Text)) == TokenMenu {
		return m.showMenu("")
	}
	departure, ok := ParseTime(in.Text)
	if !ok {
		return stay(msgTimeHint)
	}
	journey := journeyFromData(in.Data)
	journey.DepartureTime = departure
	return moveTo(core.StateAwaitingJourneyConfirm, journeySummary(journey), map[string]any{
		keyDepartureTime: departure,
	}, core.DataPolicyMerge)
}

func (m *Machine) journeyConfirmTable() tokenTable {
	return tokenTable{
		routes: map[Token]HandlerFunc{
			TokenYes:  m.lookupRoutes,
			TokenNo:   func(context.Context, TransitionInput) core.HandlerResult { return m.restartJourney("No problem, let's start again.") },
			TokenMenu: func(context.Context, TransitionInput) core.HandlerResult { return m.showMenu("") },
		},
		fallback: func(context.Context, TransitionInput) core.HandlerResult { return stay(msgConfirmHint) },
	}
}

// lookupRoutes asks the journey matcher for services matching the captured
// journey. The first route is offered for confirmation; up to
// MaxAlternatives more are kept for the alternative list.
func (m *Machine) lookupRoutes(ctx context.Context, in TransitionInput) core.HandlerResult {
	journey := journeyFromData(in.Data)
	query := core.RouteQuery{
		Origin:        journey.Origin,
		Destination:   journey.Destination,
		TravelDate:    journey.TravelDate,
		DepartureTime: journey.DepartureTime,
	}
	if in.Context.CorrelationID != "" && core.CorrelationIDFromContext(ctx) == "" {
		ctx = core.ContextWithCorrelationID(ctx, in.Context.CorrelationID)
	}

	var routes []core.Route
	if err := m.call(ctx, "find_routes", func(ctx context.Context) error {
		var lookupErr error
		routes, lookupErr = m.deps.Matcher.FindRoutes(ctx, query)
		return lookupErr
	}); err != nil {
		return m.fail(core.StateAwaitingJourneyConfirm, err)
	}
	if len(routes) == 0 {
		return moveTo(core.StateAwaitingJourneyStations, noRoutesFound(journey), map[string]any{
			keyRoutes: []core.Route{},
		}, core.DataPolicyMerge)
	}
	if limit := m.config.MaxAlternatives + 1; len(routes) > limit {
		routes = routes[:limit]
	}
	return moveTo(core.StateAwaitingRoutingConfirm, routeConfirmation(routes[0]), map[string]any{
		keyRoutes: routes,
	}, core.DataPolicyMerge)
}

func (m *Machine) routingConfirmTable() tokenTable {
	return tokenTable{
		routes: map[Token]HandlerFunc{
			TokenYes: func(ctx context.Context, in TransitionInput) core.HandlerResult {
				routes := routesValue(in.Data)
				if len(routes) == 0 {
					return m.restartJourney(msgJourneyMissing)
				}
				return m.saveJourney(ctx, in, core.StateAwaitingRoutingConfirm, routes[0])
			},
			TokenNo: func(_ context.Context, in TransitionInput) core.HandlerResult {
				alternatives := m.alternatives(routesValue(in.Data))
				if len(alternatives) == 0 {
					return moveTo(core.StateAwaitingJourneyTime, noAlternatives(), nil, core.DataPolicyMerge)
				}
				return moveTo(core.StateAwaitingRoutingAlternative, alternativesList(alternatives), nil, core.DataPolicyMerge)
			},
			TokenMenu: func(context.Context, TransitionInput) core.HandlerResult { return m.showMenu("") },
		},
		fallback: func(context.Context, TransitionInput) core.HandlerResult { return stay(msgRouteHint) },
	}
}

func (m *Machine) handleRoutingAlternative(ctx context.Context, in TransitionInput) core.HandlerResult {
	switch Token(Normalize(in.Text)) {
	case "0", TokenNone:
		return m.restartJourney("No problem, let's start again.")
	case TokenMenu:
		return m.showMenu("")
	}
	alternatives := m.alternatives(routesValue(in.Data))
	if len(alternatives) == 0 {
		return m.restartJourney(msgJourneyMissing)
	}
	choice, ok := ParseChoice(in.Text, len(alternatives))
	if !ok {
		return stay(alternativeHint(len(alternatives)))
	}
	return m.saveJourney(ctx, in, core.StateAwaitingRoutingAlternative, alternatives[choice-1])
}

// saveJourney records the confirmed journey. The id is assigned here so the
// ticket upload that follows can refer to it.
func (m *Machine) saveJourney(ctx context.Context, in TransitionInput, from core.State, route core.Route) core.HandlerResult {
	phone := senderPhone(in)
	var userID string
	if err := m.call(ctx, "find_user", func(ctx context.Context) error {
		user, lookupErr := m.deps.Users.FindByPhone(ctx, phone)
		if errors.Is(lookupErr, core.ErrUserNotFound) {
			return nil
		}
		userID = user.ID
		return lookupErr
	}); err != nil {
		return m.fail(from, err)
	}

	journey := journeyFromData(in.Data)
	journey.ID = uuid.NewString()
	journey.UserID = userID
	journey.Phone = phone
	journey.RouteID = route.ID
	journey.Status = core.JourneyStatusConfirmed
	if route.DepartureTime != "" {
		journey.DepartureTime = route.DepartureTime
	}

	result := moveTo(core.StateAwaitingTicketUpload, msgTicketPrompt, map[string]any{
		keyJourneyID:     journey.ID,
		keyDepartureTime: journey.DepartureTime,
	}, core.DataPolicyMerge)
	result.Writes = []core.Write{func(ctx context.Context, tx core.Tx) ([]core.EventDraft, error) {
		created, err := tx.Journeys().Create(ctx, journey)
		if err != nil {
			return nil, err
		}
		return []core.EventDraft{{
			AggregateID:   created.ID,
			AggregateType: core.AggregateJourney,
			EventType:     core.EventJourneyCreated,
			Payload: map[string]any{
				"journey_id":     created.ID,
				"user_id":        created.UserID,
				"phone":          created.Phone,
				"travel_date":    created.TravelDate,
				"origin":         created.Origin,
				"destination":    created.Destination,
				"departure_time": created.DepartureTime,
				"route_id":       created.RouteID,
			},
		}}, nil
	}}
	return result
}

func (m *Machine) handleTicketUpload(ctx context.Context, in TransitionInput) core.HandlerResult {
	journeyID := stringValue(in.Data, keyJourneyID)
	if journeyID == "" {
		return m.showMenu(msgJourneyMissing)
	}
	if in.Message.HasMedia() {
		return m.submitClaim(journeyID, ticketURL(in.Message))
	}
	switch Token(Normalize(in.Text)) {
	case TokenSkip:
		return m.submitClaim(journeyID, "")
	case TokenMenu:
		return m.showMenu("")
	}
	return stay(msgTicketHint)
}

// submitClaim attaches the ticket when there is one and submits the claim
// in the same unit of work.
func (m *Machine) submitClaim(journeyID string, ticket string) core.HandlerResult {
	result := m.showMenu(claimSubmitted(journeyID, ticket != ""))
	result.Writes = []core.Write{func(ctx context.Context, tx core.Tx) ([]core.EventDraft, error) {
		drafts := make([]core.EventDraft, 0, 2)
		if ticket != "" {
			journey, err := tx.Journeys().AttachTicket(ctx, journeyID, ticket)
			if err != nil {
				return nil, err
			}
			drafts = append(drafts, core.EventDraft{
				AggregateID:   journey.ID,
				AggregateType: core.AggregateJourney,
				EventType:     core.EventJourneyTicketUploaded,
				Payload: map[string]any{
					"journey_id": journey.ID,
					"ticket_url": journey.TicketURL,
				},
			})
		}
		journey, err := tx.Journeys().Submit(ctx, journeyID)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, core.EventDraft{
			AggregateID:   journey.ID,
			AggregateType: core.AggregateClaim,
			EventType:     core.EventClaimSubmitted,
			Payload: map[string]any{
				"journey_id":  journey.ID,
				"reference":   claimReference(journey.ID),
				"phone":       journey.Phone,
				"has_ticket":  journey.TicketURL != "",
				"travel_date": journey.TravelDate,
			},
		})
		return drafts, nil
	}}
	return result
}

func (m *Machine) listClaims(ctx context.Context, in TransitionInput) core.HandlerResult {
	journeys, err := m.recentJourneys(ctx, in)
	if err != nil {
		return m.fail(core.StateAuthenticated, err)
	}
	if len(journeys) == 0 {
		return moveTo(core.StateAwaitingClaimStatus, msgNoClaims, map[string]any{keyClaimIDs: []string{}}, core.DataPolicyReplace)
	}
	ids := make([]string, 0, len(journeys))
	for _, journey := range journeys {
		ids = append(ids, journey.ID)
	}
	return moveTo(core.StateAwaitingClaimStatus, claimsList(journeys), map[string]any{keyClaimIDs: ids}, core.DataPolicyReplace)
}

func (m *Machine) handleClaimStatus(ctx context.Context, in TransitionInput) core.HandlerResult {
	switch Token(Normalize(in.Text)) {
	case TokenMenu:
		return m.showMenu("")
	case TokenDelay, TokenClaim:
		return m.restartJourney("")
	}
	ids := stringsValue(in.Data, keyClaimIDs)
	choice, ok := ParseChoice(in.Text, len(ids))
	if !ok {
		return stay(msgClaimStatusHint)
	}
	journeys, err := m.recentJourneys(ctx, in)
	if err != nil {
		return m.fail(core.StateAwaitingClaimStatus, err)
	}
	for _, journey := range journeys {
		if journey.ID == ids[choice-1] {
			return stay(claimDetail(journey))
		}
	}
	return stay(msgClaimStatusHint)
}

const claimListLimit = 5

func (m *Machine) recentJourneys(ctx context.Context, in TransitionInput) ([]core.Journey, error) {
	phone := senderPhone(in)
	var journeys []core.Journey
	err := m.call(ctx, "list_journeys", func(ctx context.Context) error {
		var listErr error
		journeys, listErr = m.deps.Journeys.ListByPhone(ctx, phone, claimListLimit)
		return listErr
	})
	return journeys, err
}

// alternatives returns the routes after the first one, capped at
// MaxAlternatives.
func (m *Machine) alternatives(routes []core.Route) []core.Route {
	if len(routes) <= 1 {
		return nil
	}
	rest := routes[1:]
	if len(rest) > m.config.MaxAlternatives {
		rest = rest[:m.config.MaxAlternatives]
	}
	return rest
}

func ticketURL(message core.InboundMessage) string {
	for _, media := range message.Media {
		if url := strings.TrimSpace(media.URL); url != "" {
			return url
		}
	}
	return ""
}
