package webhook

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/goliatone/go-claimbot/core"
)

const maxBodyBytes = 1 << 20

type Processor interface {
	Process(ctx context.Context, req Request) (Response, error)
}

// Handler adapts a Processor to net/http.
type Handler struct {
	processor Processor
	// publicURL is the URL the transport signs. Behind a proxy the request
	// URL seen here differs from it.
	publicURL string
}

func NewHandler(processor Processor, publicURL string) *Handler {
	return &Handler{processor: processor, publicURL: strings.TrimSpace(publicURL)}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	correlationID := requestCorrelationID(r)
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		writeResponse(w, newResponse(http.StatusBadRequest, "", OutcomeInvalid, correlationID))
		return
	}
	resp, _ := h.processor.Process(r.Context(), Request{
		URL:           h.signedURL(r),
		Form:          r.PostForm,
		Headers:       r.Header,
		CorrelationID: correlationID,
		ReceivedAt:    time.Now().UTC(),
	})
	writeResponse(w, resp)
}

func (h *Handler) signedURL(r *http.Request) string {
	if h.publicURL != "" {
		if r.URL.RawQuery != "" {
			return h.publicURL + "?" + r.URL.RawQuery
		}
		return h.publicURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")); forwarded != "" {
		scheme = forwarded
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func requestCorrelationID(r *http.Request) string {
	if value := strings.TrimSpace(r.Header.Get(core.HeaderCorrelationID)); value != "" {
		return value
	}
	return chiMiddleware.GetReqID(r.Context())
}

func writeResponse(w http.ResponseWriter, resp Response) {
	for key, values := range resp.Headers() {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(resp.Body))
}

// NewRouter mounts handler at path behind request id, real ip and panic
// recovery middleware, with a heartbeat at /health.
func NewRouter(handler http.Handler, path string) chi.Router {
	path = strings.TrimSpace(path)
	if path == "" {
		path = core.DefaultConfig().Webhook.Path
	}
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Post(path, handler.ServeHTTP)
	return r
}
