package webhook

import (
	"encoding/xml"
	"net/http"
	"strconv"
)

const ContentTypeTwiML = "text/xml; charset=utf-8"

const (
	msgApology     = "Sorry, something went wrong on our side. Please try again in a moment."
	msgUnavailable = "Sorry, we can't take your message right now. Please try again in a moment."
	msgSlowDown    = "You're sending messages too quickly. Please wait a moment and try again."
)

// Outcome labels the path a request took through the pipeline.
type Outcome string

const (
	OutcomeProcessed   Outcome = "processed"
	OutcomeReplayed    Outcome = "replayed"
	OutcomeInFlight    Outcome = "in_flight"
	OutcomeRejected    Outcome = "rejected"
	OutcomeInvalid     Outcome = "invalid"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeContended   Outcome = "contended"
	OutcomeUnavailable Outcome = "unavailable"
	OutcomeFailed      Outcome = "failed"
)

type Response struct {
	StatusCode    int
	Body          string
	RetryAfter    int64
	CorrelationID string
	Outcome       Outcome
	// Message is the reply text inside Body; empty for no-op envelopes.
	Message string
}

// Headers returns the response headers for the envelope.
func (r Response) Headers() http.Header {
	headers := http.Header{}
	headers.Set("Content-Type", ContentTypeTwiML)
	if r.CorrelationID != "" {
		headers.Set("X-Correlation-ID", r.CorrelationID)
	}
	if r.RetryAfter > 0 {
		headers.Set("Retry-After", strconv.FormatInt(r.RetryAfter, 10))
	}
	return headers
}

type twimlResponse struct {
	XMLName  xml.Name `xml:"Response"`
	Messages []string `xml:"Message"`
}

// RenderTwiML wraps message in the transport markup envelope. An empty
// message renders an envelope that sends nothing.
func RenderTwiML(message string) string {
	envelope := twimlResponse{}
	if message != "" {
		envelope.Messages = []string{message}
	}
	raw, err := xml.Marshal(envelope)
	if err != nil {
		return xml.Header + "<Response></Response>"
	}
	return xml.Header + string(raw)
}

func newResponse(status int, message string, outcome Outcome, correlationID string) Response {
	return Response{
		StatusCode:    status,
		Body:          RenderTwiML(message),
		CorrelationID: correlationID,
		Outcome:       outcome,
		Message:       message,
	}
}
