package fsm

import (
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-claimbot/core"
)

const (
	msgMenu = "What would you like to do?\n" +
		"DELAY - start a delay repay claim\n" +
		"STATUS - check your claims\n" +
		"HELP - get help\n" +
		"LOGOUT - sign out"
	msgMenuHint         = "Sorry, I didn't understand that. Reply DELAY, CLAIM, STATUS, HELP or LOGOUT."
	msgHelp             = "I can help you claim compensation for a delayed train. Reply DELAY to start a claim, STATUS to see your claims or MENU to see all options."
	msgGoodbye          = "Thanks for chatting with us. Send any message when you want to start again."
	msgLoggedOut        = "You have been signed out. Send any message to start again."
	msgTermsHint        = "Please reply YES to accept the terms, NO to decline or TERMS to read them."
	msgOTPPrompt        = "We have sent a 6-digit code to this number. Reply with the code to verify your phone, or RESEND for a new code."
	msgOTPHint          = "Please reply with the 6-digit code we sent you, or RESEND for a new code."
	msgOTPResent        = "We have sent you a new 6-digit code."
	msgVerified         = "Your phone number is verified."
	msgAskDate          = "When did you travel? Reply with a date such as today, yesterday, 27/02 or 2026-02-27."
	msgDateHint         = "Sorry, I couldn't read that date. Try today, yesterday, 27/02, 27 Feb or 2026-02-27. Reply MENU to go back."
	msgDateFuture       = "That date is in the future. When did you travel?"
	msgAskStations      = "Which stations did you travel between? For example: Leeds to York."
	msgStationsHint     = "Please tell me your stations like this: Leeds to York. Reply MENU to go back."
	msgAskTime          = "What time was your train due to leave? For example: 08:15 or 8:15am."
	msgTimeHint         = "Sorry, I couldn't read that time. Try 08:15, 0815 or 8:15am. Reply MENU to go back."
	msgConfirmHint      = "Reply YES to confirm your journey or NO to start again."
	msgRouteHint        = "Reply YES if this was your train or NO to see other trains."
	msgTicketPrompt     = "Your journey is saved. Please send a photo of your ticket, or reply SKIP to continue without one."
	msgTicketHint       = "Please attach a photo of your ticket, or reply SKIP to continue without one."
	msgJourneyMissing   = "We couldn't find the journey for this claim. Please start again."
	msgNoClaims         = "You have no claims yet. Reply DELAY to start one or MENU for the menu."
	msgClaimStatusHint  = "Reply with a claim number for details, DELAY to start a new claim or MENU for the menu."
	msgErrorHint        = "Reply RETRY to try again or MENU to go back to the menu."
	msgStartPrompt      = "Send any message to get started."
	msgTemporaryFailure = "Sorry, something went wrong on our side. " + msgErrorHint
	msgTimeoutFailure   = "Sorry, one of our services is taking too long to respond. " + msgErrorHint
)

func termsInvite(termsURL string) string {
	return fmt.Sprintf(
		"Welcome to Delay Repay. Before we start, please accept our terms and conditions: %s\nReply YES to accept, NO to decline or TERMS to read them again.",
		termsURL,
	)
}

func termsLink(termsURL string) string {
	return fmt.Sprintf("You can read our terms and conditions here: %s\nReply YES to accept or NO to decline.", termsURL)
}

func withMenu(prefix string) string {
	if strings.TrimSpace(prefix) == "" {
		return msgMenu
	}
	return prefix + "\n\n" + msgMenu
}

func otpRejected(remaining int) string {
	if remaining == 1 {
		return "That code didn't match. You have 1 attempt left."
	}
	return fmt.Sprintf("That code didn't match. You have %d attempts left.", remaining)
}

func otpExhausted(termsURL string) string {
	return "That code didn't match too many times. " + termsLink(termsURL)
}

func dateTooOld(windowDays int) string {
	return fmt.Sprintf("Claims must be made within %d days of travel. Please give a more recent date.", windowDays)
}

func displayDate(isoDate string) string {
	parsed, err := time.Parse(dateLayout, isoDate)
	if err != nil {
		return isoDate
	}
	return parsed.Format("Mon 2 Jan 2006")
}

func journeySummary(journey core.Journey) string {
	return fmt.Sprintf(
		"Please confirm your journey: %s to %s on %s, departing %s.\nReply YES to confirm or NO to start again.",
		journey.Origin,
		journey.Destination,
		displayDate(journey.TravelDate),
		journey.DepartureTime,
	)
}

func describeRoute(route core.Route) string {
	text := fmt.Sprintf("%s %s to %s", route.DepartureTime, route.Origin, route.Destination)
	if route.ArrivalTime != "" {
		text += fmt.Sprintf(", arriving %s", route.ArrivalTime)
	}
	if route.Operator != "" {
		text += fmt.Sprintf(" (%s)", route.Operator)
	}
	return text
}

func routeConfirmation(route core.Route) string {
	return fmt.Sprintf("We found this train: %s.\n%s", describeRoute(route), msgRouteHint)
}

func noRoutesFound(journey core.Journey) string {
	return fmt.Sprintf(
		"We couldn't find any trains from %s to %s around %s. %s",
		journey.Origin,
		journey.Destination,
		journey.DepartureTime,
		msgAskStations,
	)
}

func alternativesList(routes []core.Route) string {
	var b strings.Builder
	b.WriteString("Here are other trains for that journey:\n")
	for index, route := range routes {
		fmt.Fprintf(&b, "%d) %s\n", index+1, describeRoute(route))
	}
	b.WriteString(alternativeHint(len(routes)))
	return b.String()
}

func alternativeHint(count int) string {
	if count == 1 {
		return "Reply 1 to choose this train, or 0 if it isn't listed."
	}
	return fmt.Sprintf("Reply with a number from 1 to %d, or 0 if your train isn't listed.", count)
}

func noAlternatives() string {
	return "We couldn't find other trains for that journey. " + msgAskTime
}

func claimReference(journeyID string) string {
	compact := strings.ReplaceAll(journeyID, "-", "")
	if len(compact) > 8 {
		compact = compact[:8]
	}
	return strings.ToUpper(compact)
}

func claimSubmitted(journeyID string, withTicket bool) string {
	if withTicket {
		return fmt.Sprintf("Thanks, we have your ticket and your claim has been submitted. Your reference is %s.", claimReference(journeyID))
	}
	return fmt.Sprintf("Your claim has been submitted without a ticket. Your reference is %s.", claimReference(journeyID))
}

func claimsList(journeys []core.Journey) string {
	var b strings.Builder
	b.WriteString("Your claims:\n")
	for index, journey := range journeys {
		fmt.Fprintf(&b, "%d) %s %s to %s - %s\n",
			index+1,
			displayDate(journey.TravelDate),
			journey.Origin,
			journey.Destination,
			journey.Status,
		)
	}
	b.WriteString(msgClaimStatusHint)
	return b.String()
}

func claimDetail(journey core.Journey) string {
	ticket := "no ticket"
	if journey.TicketURL != "" {
		ticket = "ticket received"
	}
	return fmt.Sprintf(
		"Claim %s: %s to %s on %s at %s. Status: %s, %s.\n%s",
		claimReference(journey.ID),
		journey.Origin,
		journey.Destination,
		displayDate(journey.TravelDate),
		journey.DepartureTime,
		journey.Status,
		ticket,
		msgClaimStatusHint,
	)
}
