package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/guardrail-io/admission/internal/auth"
	"github.com/guardrail-io/admission/internal/observability"
	"github.com/guardrail-io/admission/internal/ratelimit"
)

// ClientIDFunc derives the rate limiting identity from a request.
type ClientIDFunc func(*http.Request) string

type requestContextKey struct{}

// ContextWithRequest attaches the admitted request's context for
// downstream handlers.
func ContextWithRequest(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// RequestFromContext returns the RequestContext attached by Protect.
func RequestFromContext(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(requestContextKey{}).(*RequestContext)
	return rc, ok
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Protect wraps an http.Handler with the admission checks. Rejected
// requests get 401 (authentication) or 429 (rate limit) with a JSON
// error body; admitted requests carry their RequestContext and request
// id in the context. Rate limit headers are set on every response when
// rate limiting is enabled. A nil clientID falls back to the secure
// RemoteAddr-only extractor.
func (s *Security) Protect(clientID ClientIDFunc) func(http.Handler) http.Handler {
	if clientID == nil {
		clientID = NewClientIPExtractor(nil).Extract
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := clientID(r)

			rc, err := s.CheckRequest(r.Context(), id, r.Header, r.URL.Query())

			for name, value := range s.RateLimitHeaders(r.Context(), id) {
				w.Header().Set(name, value)
			}

			if err != nil {
				s.writeError(w, err)
				return
			}

			ctx := ContextWithRequest(r.Context(), rc)
			ctx = observability.ContextWithRequestID(ctx, rc.RequestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (s *Security) writeError(w http.ResponseWriter, err error) {
	var (
		status int
		detail errorDetail
	)

	if authErr, ok := auth.AsAuthError(err); ok {
		status = http.StatusUnauthorized
		detail = errorDetail{Code: authErr.Code, Message: authErr.Message}
	} else if rlErr, ok := ratelimit.AsRateLimitError(err); ok {
		w.Header().Set(HeaderRetryAfter, strconv.Itoa(ceilSeconds(rlErr.RetryAfter)))
		status = http.StatusTooManyRequests
		detail = errorDetail{Code: "RATE_LIMIT_EXCEEDED", Message: rlErr.Error()}
	} else {
		status = http.StatusInternalServerError
		detail = errorDetail{Code: "ADMISSION_FAILED", Message: err.Error()}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encodeErr := json.NewEncoder(w).Encode(errorBody{Error: detail}); encodeErr != nil {
		s.logger.Error("failed to write error response", observability.Error(encodeErr))
	}
}
