package fsm

import (
	"context"
	"errors"
	"time"

	"github.com/goliatone/go-claimbot/core"
)

func (m *Machine) handleStart(ctx context.Context, in TransitionInput) core.HandlerResult {
	phone := senderPhone(in)
	var user core.User
	found := false
	err := m.call(ctx, "find_user", func(ctx context.Context) error {
		var lookupErr error
		user, lookupErr = m.deps.Users.FindByPhone(ctx, phone)
		if errors.Is(lookupErr, core.ErrUserNotFound) {
			return nil
		}
		found = lookupErr == nil
		return lookupErr
	})
	if err != nil {
		return m.fail(core.StateStart, err)
	}
	if found && user.Verified() {
		return m.showMenu("Welcome back.")
	}
	return moveTo(core.StateAwaitingTerms, termsInvite(m.config.TermsURL), map[string]any{}, core.DataPolicyReplace)
}

func (m *Machine) termsTable() tokenTable {
	return tokenTable{
		routes: map[Token]HandlerFunc{
			TokenYes:   m.acceptTerms,
			TokenTerms: func(context.Context, TransitionInput) core.HandlerResult { return stay(termsLink(m.config.TermsURL)) },
			TokenNo:    endConversation(msgGoodbye),
		},
		fallback: func(context.Context, TransitionInput) core.HandlerResult { return stay(msgTermsHint) },
	}
}

// acceptTerms starts phone verification and registers the user. The
// registration event is only emitted for a phone seen for the first time.
func (m *Machine) acceptTerms(ctx context.Context, in TransitionInput) core.HandlerResult {
	phone := senderPhone(in)
	existing := false
	err := m.call(ctx, "find_user", func(ctx context.Context) error {
		_, lookupErr := m.deps.Users.FindByPhone(ctx, phone)
		if errors.Is(lookupErr, core.ErrUserNotFound) {
			return nil
		}
		existing = lookupErr == nil
		return lookupErr
	})
	if err != nil {
		return m.fail(core.StateAwaitingTerms, err)
	}
	if err := m.call(ctx, "start_verification", func(ctx context.Context) error {
		return m.deps.Verifier.StartVerification(ctx, phone)
	}); err != nil {
		return m.fail(core.StateAwaitingTerms, err)
	}

	acceptedAt := m.currentTime()
	result := moveTo(core.StateAwaitingOTP, msgOTPPrompt, map[string]any{keyOTPAttempts: 0}, core.DataPolicyReplace)
	result.Writes = []core.Write{func(ctx context.Context, tx core.Tx) ([]core.EventDraft, error) {
		user, err := tx.Users().Register(ctx, phone, acceptedAt)
		if err != nil {
			return nil, err
		}
		if existing {
			return nil, nil
		}
		return []core.EventDraft{{
			AggregateID:   user.ID,
			AggregateType: core.AggregateUser,
			EventType:     core.EventUserRegistered,
			Payload: map[string]any{
				"user_id":           user.ID,
				"phone":             user.Phone,
				"terms_accepted_at": acceptedAt.Format(time.RFC3339),
			},
		}}, nil
	}}
	return result
}

func (m *Machine) handleOTP(ctx context.Context, in TransitionInput) core.HandlerResult {
	phone := senderPhone(in)
	if Token(Normalize(in.Text)) == TokenResend {
		if err := m.call(ctx, "start_verification", func(ctx context.Context) error {
			return m.deps.Verifier.StartVerification(ctx, phone)
		}); err != nil {
			return m.fail(core.StateAwaitingOTP, err)
		}
		return stay(msgOTPResent + " " + msgOTPHint)
	}

	code, ok := ParseOTP(in.Text)
	if !ok {
		return stay(msgOTPHint)
	}

	var status core.VerificationStatus
	if err := m.call(ctx, "check_verification", func(ctx context.Context) error {
		var checkErr error
		status, checkErr = m.deps.Verifier.CheckVerification(ctx, phone, code)
		return checkErr
	}); err != nil {
		return m.fail(core.StateAwaitingOTP, err)
	}

	if status != core.VerificationApproved {
		attempts := intValue(in.Data, keyOTPAttempts) + 1
		if attempts >= m.config.MaxOTPAttempts {
			return moveTo(core.StateAwaitingTerms, otpExhausted(m.config.TermsURL), map[string]any{}, core.DataPolicyReplace)
		}
		result := stay(otpRejected(m.config.MaxOTPAttempts - attempts))
		result.StateData = map[string]any{keyOTPAttempts: attempts}
		return result
	}

	verifiedAt := m.currentTime()
	result := moveTo(core.StateAuthenticated, withMenu(msgVerified), map[string]any{}, core.DataPolicyReplace)
	result.Writes = []core.Write{func(ctx context.Context, tx core.Tx) ([]core.EventDraft, error) {
		user, err := tx.Users().MarkVerified(ctx, phone, verifiedAt)
		if err != nil {
			return nil, err
		}
		return []core.EventDraft{{
			AggregateID:   user.ID,
			AggregateType: core.AggregateUser,
			EventType:     core.EventUserVerified,
			Payload: map[string]any{
				"user_id":     user.ID,
				"phone":       user.Phone,
				"verified_at": verifiedAt.Format(time.RFC3339),
			},
		}}, nil
	}}
	return result
}

func (m *Machine) menuTable() tokenTable {
	startJourney := func(context.Context, TransitionInput) core.HandlerResult {
		return m.restartJourney("")
	}
	return tokenTable{
		routes: map[Token]HandlerFunc{
			TokenDelay:  startJourney,
			TokenClaim:  startJourney,
			TokenStatus: m.listClaims,
			TokenHelp:   func(context.Context, TransitionInput) core.HandlerResult { return stay(msgHelp) },
			TokenMenu:   func(context.Context, TransitionInput) core.HandlerResult { return stay(msgMenu) },
			TokenLogout: endConversation(msgLoggedOut),
		},
		fallback: func(context.Context, TransitionInput) core.HandlerResult { return stay(msgMenuHint) },
	}
}

func (m *Machine) errorTable() tokenTable {
	return tokenTable{
		routes: map[Token]HandlerFunc{
			TokenRetry: m.resume,
			TokenMenu:  m.handleStart,
		},
		fallback: func(context.Context, TransitionInput) core.HandlerResult { return stay(msgErrorHint) },
	}
}

// resume returns to the state recorded when the conversation failed and
// repeats that state's prompt.
func (m *Machine) resume(ctx context.Context, in TransitionInput) core.HandlerResult {
	state, err := core.ParseState(stringValue(in.Data, keyResumeState))
	if err != nil || state == core.StateError {
		state = core.StateStart
	}
	if state == core.StateStart {
		return m.handleStart(ctx, in)
	}
	return moveTo(state, m.promptFor(state, in.Data), map[string]any{keyResumeState: nil}, core.DataPolicyMerge)
}

func (m *Machine) showMenu(prefix string) core.HandlerResult {
	return moveTo(core.StateAuthenticated, withMenu(prefix), map[string]any{}, core.DataPolicyReplace)
}

// restartJourney discards any captured journey and asks for the date again.
func (m *Machine) restartJourney(prefix string) core.HandlerResult {
	response := msgAskDate
	if prefix != "" {
		response = prefix + " " + msgAskDate
	}
	return moveTo(core.StateAwaitingJourneyDate, response, map[string]any{}, core.DataPolicyReplace)
}

func endConversation(response string) HandlerFunc {
	return func(context.Context, TransitionInput) core.HandlerResult {
		return core.HandlerResult{
			Response:        response,
			NextState:       core.StatePtr(core.StateStart),
			StateData:       map[string]any{},
			DataPolicy:      core.DataPolicyReplace,
			EndConversation: true,
		}
	}
}

func (m *Machine) promptFor(state core.State, data map[string]any) string {
	switch state {
	case core.StateAwaitingTerms:
		return termsInvite(m.config.TermsURL)
	case core.StateAwaitingOTP:
		return msgOTPHint
	case core.StateAuthenticated:
		return msgMenu
	case core.StateAwaitingJourneyDate:
		return msgAskDate
	case core.StateAwaitingJourneyStations:
		return msgAskStations
	case core.StateAwaitingJourneyTime:
		return msgAskTime
	case core.StateAwaitingJourneyConfirm:
		return journeySummary(journeyFromData(data))
	case core.StateAwaitingRoutingConfirm:
		if routes := routesValue(data); len(routes) > 0 {
			return routeConfirmation(routes[0])
		}
		return msgConfirmHint
	case core.StateAwaitingRoutingAlternative:
		if routes := routesValue(data); len(routes) > 1 {
			return alternativesList(m.alternatives(routes))
		}
		return msgAskTime
	case core.StateAwaitingTicketUpload:
		return msgTicketHint
	case core.StateAwaitingClaimStatus:
		return msgClaimStatusHint
	case core.StateError:
		return msgErrorHint
	default:
		return msgStartPrompt
	}
}
