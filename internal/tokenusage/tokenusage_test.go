package tokenusage

import "testing"

func TestIsAnthropicMessagesCall(t *testing.T) {
	cases := []struct {
		method, path string
		want         bool
	}{
		{"POST", "/v1/messages", true},
		{"POST", "/v1/messages?stream=true", true},
		{"POST", "/prefix/v1/messages", true},
		{"GET", "/v1/messages", false},
		{"POST", "/v1/messages-extended", false},
		{"post", "/v1/messages", true},
		{"POST", "/messages", true},
		{"POST", "/v1/chat/completions", false},
	}
	for _, c := range cases {
		if got := IsAnthropicMessagesCall(c.path, c.method); got != c.want {
			t.Errorf("IsAnthropicMessagesCall(%q, %q) = %v, want %v", c.path, c.method, got, c.want)
		}
	}
}

func TestParseDocument(t *testing.T) {
	body := `{"type":"message","model":"claude-sonnet-4-6","usage":{"input_tokens":10,"output_tokens":25,"cache_read_input_tokens":100,"cache_creation_input_tokens":50}}`
	u := Parse(body, false)
	if u == nil {
		t.Fatal("expected non-nil usage")
	}
	if !u.HasModel || u.Model != "claude-sonnet-4-6" {
		t.Errorf("model = %q (has=%v), want claude-sonnet-4-6", u.Model, u.HasModel)
	}
	if u.InputTokens != 10 || u.OutputTokens != 25 || u.CacheReadTokens != 100 || u.CacheCreationTokens != 50 {
		t.Errorf("unexpected token counts: %+v", u)
	}
}

func TestParseDocumentNoUsage(t *testing.T) {
	if u := Parse(`{"type":"message","model":"x"}`, false); u != nil {
		t.Errorf("expected nil, got %+v", u)
	}
}

func TestParseDocumentMalformed(t *testing.T) {
	if u := Parse(`not json at all {`, false); u != nil {
		t.Errorf("expected nil for malformed JSON, got %+v", u)
	}
}

func TestParseDocumentMissingFieldsDefaultZero(t *testing.T) {
	u := Parse(`{"usage":{"input_tokens":5}}`, false)
	if u == nil {
		t.Fatal("expected non-nil")
	}
	if u.OutputTokens != 0 || u.CacheReadTokens != 0 || u.CacheCreationTokens != 0 {
		t.Errorf("expected zero defaults, got %+v", u)
	}
	if u.HasModel {
		t.Errorf("expected no model, got %q", u.Model)
	}
}

func TestParseEmptyOrWhitespace(t *testing.T) {
	if u := Parse("", false); u != nil {
		t.Error("expected nil for empty body")
	}
	if u := Parse("   \n  ", true); u != nil {
		t.Error("expected nil for whitespace body")
	}
}

const streamBody = `event: message_start
data: {"type":"message_start","message":{"id":"msg_1","model":"claude-sonnet-4-6","usage":{"input_tokens":3,"output_tokens":0,"cache_creation_input_tokens":1886,"cache_read_input_tokens":18685}}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hi"}}

event: message_delta
data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"input_tokens":3,"output_tokens":176,"cache_creation_input_tokens":1886,"cache_read_input_tokens":18685}}

event: message_stop
data: {"type":"message_stop"}

`

func TestParseStreaming(t *testing.T) {
	u := Parse(streamBody, true)
	if u == nil {
		t.Fatal("expected non-nil usage")
	}
	if !u.HasModel || u.Model != "claude-sonnet-4-6" {
		t.Errorf("model = %q (has=%v)", u.Model, u.HasModel)
	}
	if u.InputTokens != 3 || u.OutputTokens != 176 || u.CacheReadTokens != 18685 || u.CacheCreationTokens != 1886 {
		t.Errorf("unexpected token counts: %+v", u)
	}
}

func TestParseStreamingIgnoresMalformedLine(t *testing.T) {
	injected := streamBody + "data: not json\n\n"
	u1 := Parse(streamBody, true)
	u2 := Parse(injected, true)
	if *u1 != *u2 {
		t.Errorf("malformed data line changed result: %+v vs %+v", u1, u2)
	}
}

func TestParseStreamingOnlyMessageStart(t *testing.T) {
	body := `data: {"type":"message_start","message":{"model":"claude-x","usage":{"input_tokens":7,"output_tokens":0}}}

`
	u := Parse(body, true)
	if u == nil {
		t.Fatal("expected non-nil usage")
	}
	if u.InputTokens != 7 {
		t.Errorf("input_tokens = %d, want 7", u.InputTokens)
	}
}

func TestParseStreamingNoUsageEvents(t *testing.T) {
	body := "data: {\"type\":\"ping\"}\n\ndata: [DONE]\n\n"
	if u := Parse(body, true); u != nil {
		t.Errorf("expected nil, got %+v", u)
	}
}

func TestParseStreamingDoneSentinelIgnored(t *testing.T) {
	if u := Parse("data: [DONE]\n\n", true); u != nil {
		t.Errorf("expected nil for bare [DONE] stream, got %+v", u)
	}
}

func TestParseIdempotent(t *testing.T) {
	body := `{"model":"m","usage":{"input_tokens":1,"output_tokens":2}}`
	a := Parse(body, false)
	b := Parse(body, false)
	if *a != *b {
		t.Errorf("parse not idempotent: %+v vs %+v", a, b)
	}
}

func TestIsStreamingContentType(t *testing.T) {
	cases := []struct {
		ct   string
		want bool
	}{
		{"text/event-stream", true},
		{"text/event-stream; charset=utf-8", true},
		{"TEXT/EVENT-STREAM", true},
		{"application/json", false},
		{"", false},
	}
	for _, c := range cases {
		if got := IsStreamingContentType(c.ct); got != c.want {
			t.Errorf("IsStreamingContentType(%q) = %v, want %v", c.ct, got, c.want)
		}
	}
}
