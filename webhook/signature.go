package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"net/url"
	"sort"
	"strings"

	"github.com/goliatone/go-claimbot/core"
)

const HeaderSignature = "X-Twilio-Signature"

// Verifier checks that a request came from the messaging transport.
type Verifier interface {
	Verify(ctx context.Context, req Request) error
}

// SignatureVerifier validates the transport signature: a base64 HMAC-SHA1,
// keyed by the account auth token, over the full request URL followed by
// every form key and value in key order.
type SignatureVerifier struct {
	AuthToken string
}

func (v SignatureVerifier) Verify(_ context.Context, req Request) error {
	token := strings.TrimSpace(v.AuthToken)
	if token == "" {
		return core.AuthenticationError("signature verification is not configured", nil)
	}
	header := strings.TrimSpace(req.Header(HeaderSignature))
	if header == "" {
		return core.AuthenticationError("signature header is required", nil)
	}
	provided, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return core.AuthenticationError("signature verification failed", err)
	}
	expected := computeSignature(token, req.URL, req.Form)
	if subtle.ConstantTimeCompare(provided, expected) != 1 {
		return core.AuthenticationError("signature verification failed", nil)
	}
	return nil
}

// NopVerifier accepts every request. Local development only.
type NopVerifier struct{}

func (NopVerifier) Verify(context.Context, Request) error {
	return nil
}

// Sign returns the signature header value for rawURL and form.
func Sign(authToken string, rawURL string, form url.Values) string {
	return base64.StdEncoding.EncodeToString(computeSignature(strings.TrimSpace(authToken), rawURL, form))
}

func computeSignature(authToken string, rawURL string, form url.Values) []byte {
	keys := make([]string, 0, len(form))
	for key := range form {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var payload strings.Builder
	payload.WriteString(rawURL)
	for _, key := range keys {
		for _, value := range form[key] {
			payload.WriteString(key)
			payload.WriteString(value)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	_, _ = mac.Write([]byte(payload.String()))
	return mac.Sum(nil)
}

var (
	_ Verifier = SignatureVerifier{}
	_ Verifier = NopVerifier{}
)
