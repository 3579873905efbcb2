package webhook

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/goliatone/go-claimbot/core"
)

// LambdaHandler adapts a Processor to API Gateway proxy events. It never
// returns an error: every outcome is an HTTP response.
type LambdaHandler struct {
	processor Processor
	publicURL string
	now       func() time.Time
}

func NewLambdaHandler(processor Processor, publicURL string) *LambdaHandler {
	return &LambdaHandler{
		processor: processor,
		publicURL: strings.TrimSpace(publicURL),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (h *LambdaHandler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	headers := lambdaHeaders(event)
	correlationID := strings.TrimSpace(headers.Get(core.HeaderCorrelationID))
	if correlationID == "" {
		correlationID = strings.TrimSpace(event.RequestContext.RequestID)
	}
	if event.HTTPMethod != "" && event.HTTPMethod != http.MethodPost {
		return lambdaResponse(newResponse(http.StatusMethodNotAllowed, "", OutcomeInvalid, correlationID)), nil
	}

	body := event.Body
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return lambdaResponse(newResponse(http.StatusBadRequest, "", OutcomeInvalid, correlationID)), nil
		}
		body = string(decoded)
	}
	if len(body) > maxBodyBytes {
		return lambdaResponse(newResponse(http.StatusRequestEntityTooLarge, "", OutcomeInvalid, correlationID)), nil
	}
	form, err := url.ParseQuery(body)
	if err != nil {
		return lambdaResponse(newResponse(http.StatusBadRequest, "", OutcomeInvalid, correlationID)), nil
	}

	resp, _ := h.processor.Process(ctx, Request{
		URL:           h.signedURL(event, headers),
		Form:          form,
		Headers:       headers,
		CorrelationID: correlationID,
		ReceivedAt:    h.now(),
	})
	return lambdaResponse(resp), nil
}

// signedURL rebuilds the URL the transport signed. Query parameters are
// re-encoded in sorted order, so deployments with a query string should
// configure the public URL.
func (h *LambdaHandler) signedURL(event events.APIGatewayProxyRequest, headers http.Header) string {
	query := lambdaQuery(event)
	base := h.publicURL
	if base == "" {
		scheme := strings.TrimSpace(headers.Get("X-Forwarded-Proto"))
		if scheme == "" {
			scheme = "https"
		}
		base = scheme + "://" + headers.Get("Host") + event.Path
	}
	if query != "" {
		return base + "?" + query
	}
	return base
}

func lambdaHeaders(event events.APIGatewayProxyRequest) http.Header {
	headers := http.Header{}
	for key, values := range event.MultiValueHeaders {
		for _, value := range values {
			headers.Add(key, value)
		}
	}
	for key, value := range event.Headers {
		if headers.Get(key) == "" {
			headers.Set(key, value)
		}
	}
	return headers
}

func lambdaQuery(event events.APIGatewayProxyRequest) string {
	values := url.Values{}
	for key, list := range event.MultiValueQueryStringParameters {
		for _, value := range list {
			values.Add(key, value)
		}
	}
	for key, value := range event.QueryStringParameters {
		if !values.Has(key) {
			values.Set(key, value)
		}
	}
	return values.Encode()
}

func lambdaResponse(resp Response) events.APIGatewayProxyResponse {
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	headers := map[string]string{}
	for key, values := range resp.Headers() {
		headers[key] = strings.Join(values, ",")
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    headers,
		Body:       resp.Body,
	}
}
