package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-claimbot/core"
)

const defaultRESTClientTimeout = 30 * time.Second
const defaultRESTResponseBodyLimit int64 = 1 << 20 // 1 MiB

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Request struct {
	Method               string
	URL                  string
	Query                map[string]string
	Headers              map[string]string
	Body                 []byte
	Timeout              time.Duration
	MaxResponseBodyBytes int64
}

type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Duration   time.Duration
}

func (r Response) Successful() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// RESTAdapter executes JSON requests against collaborator services. The
// correlation id carried by ctx is forwarded on every request.
type RESTAdapter struct {
	Client               HTTPDoer
	BaseURL              string
	DefaultHeaders       map[string]string
	MaxResponseBodyBytes int64
}

func NewRESTAdapter(client HTTPDoer, baseURL string) *RESTAdapter {
	if client == nil {
		client = &http.Client{Timeout: defaultRESTClientTimeout}
	}
	return &RESTAdapter{
		Client:               client,
		BaseURL:              strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		DefaultHeaders:       map[string]string{"Accept": "application/json"},
		MaxResponseBodyBytes: defaultRESTResponseBodyLimit,
	}
}

func (a *RESTAdapter) Do(ctx context.Context, req Request) (Response, error) {
	if a == nil || a.Client == nil {
		return Response{}, transportError(nil, goerrors.CategoryInternal, http.StatusInternalServerError,
			"transport: rest adapter requires an http client", nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	method := strings.TrimSpace(strings.ToUpper(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	parsedURL, err := a.resolveURL(req.URL)
	if err != nil {
		return Response{}, err
	}

	query := parsedURL.Query()
	for key, value := range req.Query {
		if strings.TrimSpace(key) == "" {
			continue
		}
		query.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	parsedURL.RawQuery = query.Encode()

	requestCtx := ctx
	cancel := func() {}
	if req.Timeout > 0 {
		requestCtx, cancel = context.WithTimeout(ctx, req.Timeout)
	}
	defer cancel()

	httpReq, err := http.NewRequestWithContext(requestCtx, method, parsedURL.String(), bytes.NewReader(req.Body))
	if err != nil {
		return Response{}, transportError(err, goerrors.CategoryBadInput, http.StatusBadRequest,
			"transport: create http request", map[string]any{"method": method, "url": parsedURL.String()})
	}
	for key, value := range a.DefaultHeaders {
		if strings.TrimSpace(key) == "" {
			continue
		}
		httpReq.Header.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	for key, value := range req.Headers {
		if strings.TrimSpace(key) == "" {
			continue
		}
		httpReq.Header.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	if len(req.Body) > 0 && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if correlationID := core.CorrelationIDFromContext(ctx); correlationID != "" {
		httpReq.Header.Set(core.HeaderCorrelationID, correlationID)
	}

	startedAt := time.Now()
	httpRes, err := a.Client.Do(httpReq)
	if err != nil {
		return Response{}, core.DependencyError(
			"transport: execute http request",
			err,
			map[string]any{"method": method, "path": parsedURL.Path},
		)
	}
	defer httpRes.Body.Close()

	maxBodyBytes := resolveResponseBodyLimit(req.MaxResponseBodyBytes, a.MaxResponseBodyBytes)
	body, err := io.ReadAll(io.LimitReader(httpRes.Body, maxBodyBytes+1))
	if err != nil {
		return Response{}, core.DependencyError(
			"transport: read response body",
			err,
			map[string]any{"status_code": httpRes.StatusCode},
		)
	}
	if int64(len(body)) > maxBodyBytes {
		return Response{}, transportError(nil, goerrors.CategoryExternal, http.StatusBadGateway,
			fmt.Sprintf("transport: response body exceeds limit of %d bytes", maxBodyBytes),
			map[string]any{"status_code": httpRes.StatusCode, "response_limit_b": maxBodyBytes})
	}

	return Response{
		StatusCode: httpRes.StatusCode,
		Headers:    flattenHeaders(httpRes.Header),
		Body:       body,
		Duration:   time.Since(startedAt),
	}, nil
}

// PostJSON encodes payload, posts it to path and decodes a 2xx body into
// out when out is not nil.
func (a *RESTAdapter) PostJSON(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return transportError(err, goerrors.CategoryInternal, http.StatusInternalServerError, "transport: encode request body", nil)
	}
	res, err := a.Do(ctx, Request{Method: http.MethodPost, URL: path, Body: body})
	if err != nil {
		return err
	}
	return DecodeJSON(res, out)
}

// GetJSON issues a GET with query and decodes a 2xx body into out.
func (a *RESTAdapter) GetJSON(ctx context.Context, path string, query map[string]string, out any) error {
	res, err := a.Do(ctx, Request{Method: http.MethodGet, URL: path, Query: query})
	if err != nil {
		return err
	}
	return DecodeJSON(res, out)
}

// DecodeJSON turns a non-2xx response into an error and decodes the body
// of a successful one.
func DecodeJSON(res Response, out any) error {
	if !res.Successful() {
		return StatusError(res)
	}
	if out == nil || len(bytes.TrimSpace(res.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(res.Body, out); err != nil {
		return transportError(err, goerrors.CategoryExternal, http.StatusBadGateway, "transport: decode response body", map[string]any{
			"status_code": res.StatusCode,
		})
	}
	return nil
}

// StatusError describes a collaborator response outside the 2xx range.
// The body is not included.
func StatusError(res Response) error {
	category := goerrors.CategoryExternal
	switch {
	case res.StatusCode == http.StatusUnauthorized:
		category = goerrors.CategoryAuth
	case res.StatusCode == http.StatusTooManyRequests:
		category = goerrors.CategoryRateLimit
	case res.StatusCode >= 400 && res.StatusCode < 500:
		category = goerrors.CategoryBadInput
	}
	return goerrors.New(fmt.Sprintf("transport: collaborator returned status %d", res.StatusCode), category).
		WithCode(http.StatusBadGateway).
		WithTextCode(core.ErrorDependencyFailed).
		WithMetadata(map[string]any{"status_code": res.StatusCode})
}

func (a *RESTAdapter) resolveURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if a.BaseURL != "" && !strings.Contains(raw, "://") {
		raw = a.BaseURL + "/" + strings.TrimLeft(raw, "/")
	}
	if raw == "" {
		return nil, transportError(nil, goerrors.CategoryBadInput, http.StatusBadRequest, "transport: request url is required", nil)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, transportError(err, goerrors.CategoryBadInput, http.StatusBadRequest, "transport: invalid request url", nil)
	}
	return parsed, nil
}

func flattenHeaders(headers http.Header) map[string]string {
	if len(headers) == 0 {
		return map[string]string{}
	}
	flat := make(map[string]string, len(headers))
	for key, values := range headers {
		if len(values) == 0 {
			flat[key] = ""
			continue
		}
		flat[key] = strings.Join(values, ",")
	}
	return flat
}

func resolveResponseBodyLimit(requestLimit int64, adapterLimit int64) int64 {
	if requestLimit > 0 {
		return requestLimit
	}
	if adapterLimit > 0 {
		return adapterLimit
	}
	return defaultRESTResponseBodyLimit
}
