package webhook

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-claimbot/core"
)

// Transport form fields.
const (
	FieldMessageID = "MessageSid"
	FieldFrom      = "From"
	FieldTo        = "To"
	FieldBody      = "Body"
	FieldNumMedia  = "NumMedia"
)

const maxMediaItems = 10

// Request is one inbound delivery, decoupled from net/http so the pipeline
// can be driven from other entrypoints.
type Request struct {
	// URL is the externally visible URL the transport signed.
	URL           string
	Form          url.Values
	Headers       http.Header
	CorrelationID string
	ReceivedAt    time.Time
}

func (r Request) Header(name string) string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get(name)
}

// ParseMessage validates the required fields and builds the message. Body
// must be present but may be empty when the message carries media.
func ParseMessage(form url.Values) (core.InboundMessage, error) {
	missing := make([]string, 0, 3)
	messageID := strings.TrimSpace(form.Get(FieldMessageID))
	if messageID == "" {
		missing = append(missing, FieldMessageID)
	}
	from := strings.TrimSpace(form.Get(FieldFrom))
	if from == "" {
		missing = append(missing, FieldFrom)
	}
	media := parseMedia(form)
	if !form.Has(FieldBody) && len(media) == 0 {
		missing = append(missing, FieldBody)
	}
	if len(missing) > 0 {
		return core.InboundMessage{}, core.ValidationError(
			"missing required fields: "+strings.Join(missing, ", "),
			map[string]any{"fields": missing},
		)
	}
	return core.InboundMessage{
		MessageID: messageID,
		From:      from,
		To:        strings.TrimSpace(form.Get(FieldTo)),
		Body:      form.Get(FieldBody),
		Media:     media,
	}, nil
}

func parseMedia(form url.Values) []core.MediaRef {
	count, err := strconv.Atoi(strings.TrimSpace(form.Get(FieldNumMedia)))
	if err != nil || count <= 0 {
		return nil
	}
	if count > maxMediaItems {
		count = maxMediaItems
	}
	media := make([]core.MediaRef, 0, count)
	for index := 0; index < count; index++ {
		mediaURL := strings.TrimSpace(form.Get(fmt.Sprintf("MediaUrl%d", index)))
		if mediaURL == "" {
			continue
		}
		media = append(media, core.MediaRef{
			URL:         mediaURL,
			ContentType: strings.TrimSpace(form.Get(fmt.Sprintf("MediaContentType%d", index))),
		})
	}
	return media
}
