// Package relay defines the domain types shared across the recording
// reverse proxy. This package has no project imports -- it is the
// dependency root.
package relay

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// Exchange is a single recorded (request, response) pair plus timing.
// The forwarder owns a draft until Record is called, then the recorder
// owns it until the write commits: the recorder attaches TokenUsage and
// storage fills in ID. It is not modified after the write.
type Exchange struct {
	ID              int64 // assigned by storage on insert
	Timestamp       time.Time
	Method          string
	Path            string // includes query string, as received
	RequestHeaders  Headers
	RequestBody     string // absent (empty) when the body was empty
	HasRequestBody  bool
	ResponseStatus  int
	ResponseHeaders Headers
	ResponseBody    string
	HasResponseBody bool
	DurationMs      int64
	TokenUsage      *TokenUsage // nil unless the parser produced one
}

// TokenUsage is the optional, at-most-one-per-Exchange child row holding
// token counts reported by the upstream LLM provider.
type TokenUsage struct {
	ID                  int64
	ExchangeID          int64
	Timestamp           time.Time
	Model               string
	HasModel            bool
	InputTokens         int64
	OutputTokens        int64
	CacheReadTokens     int64
	CacheCreationTokens int64
}

// StatsProjection is the read-side projection Storage returns for
// aggregation: just enough to bucket by time and count LLM calls.
type StatsProjection struct {
	Timestamp    time.Time
	HasLLM       bool
	InputTokens  int64
	OutputTokens int64
}

// Headers is the recording encoding for a single HTTP request/response's
// header set: an ordered-on-the-wire multimap collapsed to name -> joined
// value, for observability only. It is never used to drive wire behavior.
type Headers map[string]string

// EncodeHeaders serializes an http.Header into the recording encoding,
// joining repeated values with ", ".
func EncodeHeaders(h http.Header) Headers {
	out := make(Headers, len(h))
	for name, values := range h {
		out[name] = strings.Join(values, ", ")
	}
	return out
}

// Get returns the joined value for a header name, matched case-insensitively
// the way net/http.Header.Get does, since Headers is a plain map keyed by
// whatever canonicalization the caller used.
func (h Headers) Get(name string) string {
	if v, ok := h[name]; ok {
		return v
	}
	if v, ok := h[http.CanonicalHeaderKey(name)]; ok {
		return v
	}
	for k, v := range h {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

type contextKey int

const requestIDKey contextKey = iota

// ContextWithRequestID returns a context carrying id, retrievable with
// RequestIDFromContext.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the request ID stored by ContextWithRequestID,
// or "" if none was set.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
