// Package verification is the client for the phone verification service
// that sends and checks one-time codes.
package verification

import (
	"context"
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-claimbot/core"
	"github.com/goliatone/go-claimbot/transport"
)

const (
	pathVerifications = "/verifications"
	pathChecks        = "/verification-checks"
	defaultChannel    = "sms"
)

type Client struct {
	rest    *transport.RESTAdapter
	channel string
}

// NewClient builds a client for baseURL. A non-empty token is sent as a
// bearer credential.
func NewClient(doer transport.HTTPDoer, baseURL string, token string) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, core.ConfigurationError("verification: base url is required", nil)
	}
	rest := transport.NewRESTAdapter(doer, baseURL)
	if token = strings.TrimSpace(token); token != "" {
		rest.DefaultHeaders["Authorization"] = "Bearer " + token
	}
	return &Client{rest: rest, channel: defaultChannel}, nil
}

type startRequest struct {
	To      string `json:"to"`
	Channel string `json:"channel"`
}

type checkRequest struct {
	To   string `json:"to"`
	Code string `json:"code"`
}

type checkResponse struct {
	Status string `json:"status"`
}

func (c *Client) StartVerification(ctx context.Context, phone string) error {
	return c.rest.PostJSON(ctx, pathVerifications, startRequest{To: phone, Channel: c.channel}, nil)
}

// CheckVerification reports the code status. A check against an expired or
// unknown verification counts as rejected.
func (c *Client) CheckVerification(ctx context.Context, phone string, code string) (core.VerificationStatus, error) {
	var out checkResponse
	err := c.rest.PostJSON(ctx, pathChecks, checkRequest{To: phone, Code: code}, &out)
	if err != nil {
		if statusCode(err) == http.StatusNotFound {
			return core.VerificationRejected, nil
		}
		return "", err
	}
	switch core.VerificationStatus(strings.ToLower(strings.TrimSpace(out.Status))) {
	case core.VerificationApproved:
		return core.VerificationApproved, nil
	case core.VerificationPending:
		return core.VerificationPending, nil
	default:
		return core.VerificationRejected, nil
	}
}

func statusCode(err error) int {
	var rich *goerrors.Error
	if !errors.As(err, &rich) || rich.Metadata == nil {
		return 0
	}
	code, _ := rich.Metadata["status_code"].(int)
	return code
}

var _ core.PhoneVerifier = (*Client)(nil)
