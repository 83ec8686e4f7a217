// Package tokenusage extracts token-usage counts from Anthropic Messages
// API response bodies, both single JSON documents and Server-Sent Event
// streams. Parsing is pure and never panics: malformed or partial input
// degrades to a nil result rather than an error.
package tokenusage

import (
	"strings"

	"github.com/tidwall/gjson"

	relay "github.com/kjellberg/relayproxy/internal"
)

// IsAnthropicMessagesCall reports whether a request is an LLM call: a POST
// whose path, with any query string stripped, ends with "/v1/messages" or
// "/messages" at a segment boundary. "/v1/messages-extended" does not match.
func IsAnthropicMessagesCall(path, method string) bool {
	if !strings.EqualFold(method, "POST") {
		return false
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return hasSuffixSegment(path, "/v1/messages") || hasSuffixSegment(path, "/messages")
}

// hasSuffixSegment reports whether path ends with suffix and the match
// begins at a segment boundary: either suffix itself starts with a path
// separator, or the character immediately preceding the match, if any, is
// one -- so a match can't land in the middle of a longer segment name.
func hasSuffixSegment(path, suffix string) bool {
	if !strings.HasSuffix(path, suffix) {
		return false
	}
	if strings.HasPrefix(suffix, "/") {
		return true
	}
	rest := path[:len(path)-len(suffix)]
	return rest == "" || strings.HasSuffix(rest, "/")
}

// IsStreamingContentType reports whether a Content-Type header value
// identifies an SSE body, matched case-insensitively and ignoring any
// ";charset=..." style parameters.
func IsStreamingContentType(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "text/event-stream")
}

// Parse extracts token usage from a response body. streaming selects
// between the single-JSON-document path and the SSE event path. Returns
// nil, without error, for empty input, malformed JSON, or a body that
// never reports usage.
func Parse(body string, streaming bool) *relay.TokenUsage {
	if strings.TrimSpace(body) == "" {
		return nil
	}
	if streaming {
		return parseStreaming(body)
	}
	return parseDocument(body)
}

func parseDocument(body string) *relay.TokenUsage {
	if !gjson.Valid(body) {
		return nil
	}
	root := gjson.Parse(body)
	usage := root.Get("usage")
	if !usage.Exists() {
		return nil
	}
	return usageFromJSON(root.Get("model"), usage)
}

// usageFromJSON builds a TokenUsage from a "model" result (possibly absent)
// and a "usage" object result, using the Anthropic Messages API field names.
func usageFromJSON(model, usage gjson.Result) *relay.TokenUsage {
	u := &relay.TokenUsage{
		InputTokens:         usage.Get("input_tokens").Int(),
		OutputTokens:        usage.Get("output_tokens").Int(),
		CacheReadTokens:     usage.Get("cache_read_input_tokens").Int(),
		CacheCreationTokens: usage.Get("cache_creation_input_tokens").Int(),
	}
	if model.Exists() && model.Type == gjson.String {
		u.Model = model.String()
		u.HasModel = true
	}
	return u
}

// parseStreaming scans an SSE body for message_start and message_delta
// events, ignoring malformed or non-data lines.
func parseStreaming(body string) *relay.TokenUsage {
	var (
		startUsage   *relay.TokenUsage
		deltaUsage   *relay.TokenUsage
		lastModel    string
		lastHasModel bool
	)

	for _, rawLine := range strings.Split(body, "\n") {
		line := strings.TrimSpace(rawLine)
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}
		if !gjson.Valid(payload) {
			continue
		}
		event := gjson.Parse(payload)
		switch event.Get("type").String() {
		case "message_start":
			msg := event.Get("message")
			model := msg.Get("model")
			if model.Exists() && model.Type == gjson.String {
				lastModel = model.String()
				lastHasModel = true
			}
			if usage := msg.Get("usage"); usage.Exists() {
				startUsage = usageFromJSON(model, usage)
			}
		case "message_delta":
			if usage := event.Get("usage"); usage.Exists() {
				deltaUsage = usageFromJSON(gjson.Result{}, usage)
			}
		}
	}

	switch {
	case deltaUsage != nil:
		if lastHasModel {
			deltaUsage.Model = lastModel
			deltaUsage.HasModel = true
		} else if startUsage != nil && startUsage.HasModel {
			deltaUsage.Model = startUsage.Model
			deltaUsage.HasModel = true
		}
		return deltaUsage
	case startUsage != nil:
		return startUsage
	default:
		return nil
	}
}
