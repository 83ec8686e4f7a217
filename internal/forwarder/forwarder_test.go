package forwarder

import (
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	relay "github.com/kjellberg/relayproxy/internal"
)

type fakeRecorder struct {
	mu       sync.Mutex
	recorded []*relay.Exchange
}

func (f *fakeRecorder) Record(exchange *relay.Exchange) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, exchange)
}

func (f *fakeRecorder) snapshot() []*relay.Exchange {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*relay.Exchange, len(f.recorded))
	copy(out, f.recorded)
	return out
}

func newForwarder(t *testing.T, upstream *httptest.Server, cap int) (*Forwarder, *fakeRecorder) {
	t.Helper()
	rec := &fakeRecorder{}
	client := &http.Client{
		Timeout:   2 * time.Second,
		Transport: &http.Transport{DisableCompression: true},
	}
	return New(client, upstream.URL, cap, rec), rec
}

func TestForwardsMethodPathQueryAndBody(t *testing.T) {
	var gotMethod, gotPath, gotQuery, gotBody string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	f, rec := newForwarder(t, upstream, 1_048_576)
	req := httptest.NewRequest(http.MethodPost, "/v1/messages?foo=bar", strings.NewReader(`{"x":1}`))
	w := httptest.NewRecorder()
	f.ServeHTTP(w, req)

	if gotMethod != "POST" || gotPath != "/v1/messages" || gotQuery != "foo=bar" {
		t.Fatalf("unexpected upstream request: %s %s?%s", gotMethod, gotPath, gotQuery)
	}
	if gotBody != `{"x":1}` {
		t.Errorf("unexpected upstream body: %q", gotBody)
	}
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if w.Body.String() != `{"ok":true}` {
		t.Errorf("client body = %q", w.Body.String())
	}

	recorded := rec.snapshot()
	if len(recorded) != 1 {
		t.Fatalf("expected 1 recorded exchange, got %d", len(recorded))
	}
	ex := recorded[0]
	if ex.Path != "/v1/messages?foo=bar" {
		t.Errorf("recorded path = %q", ex.Path)
	}
	if ex.ResponseBody != `{"ok":true}` {
		t.Errorf("recorded response body = %q", ex.ResponseBody)
	}
}

func TestHopByHopHeadersStripped(t *testing.T) {
	var gotConnection string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotConnection = r.Header.Get("Connection")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Custom", "value")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	f, _ := newForwarder(t, upstream, 1024)
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("Connection", "keep-alive")
	w := httptest.NewRecorder()
	f.ServeHTTP(w, req)

	if gotConnection != "" {
		t.Errorf("expected Connection header stripped from upstream request, got %q", gotConnection)
	}
	if w.Header().Get("Connection") != "" {
		t.Error("expected Connection header stripped from client response")
	}
	if w.Header().Get("X-Custom") != "value" {
		t.Error("expected non-hop-by-hop header to pass through")
	}
}

func TestGzipResponseDecodedForRecordingButNotOnWire(t *testing.T) {
	var gz strings.Builder
	zw := gzip.NewWriter(&gz)
	zw.Write([]byte(`{"usage":{"input_tokens":1,"output_tokens":2}}`))
	zw.Close()
	compressed := gz.String()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, compressed)
	}))
	defer upstream.Close()

	f, rec := newForwarder(t, upstream, 1_048_576)
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	w := httptest.NewRecorder()
	f.ServeHTTP(w, req)

	if w.Body.String() != compressed {
		t.Error("expected wire bytes to remain gzip-compressed")
	}
	recorded := rec.snapshot()
	if len(recorded) != 1 {
		t.Fatalf("expected 1 recorded exchange, got %d", len(recorded))
	}
	if recorded[0].ResponseBody != `{"usage":{"input_tokens":1,"output_tokens":2}}` {
		t.Errorf("expected decompressed body recorded, got %q", recorded[0].ResponseBody)
	}
}

func TestSSEStreamedChunkByChunk(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		io.WriteString(w, "data: {\"type\":\"message_start\"}\n\n")
		flusher.Flush()
		io.WriteString(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer upstream.Close()

	f, rec := newForwarder(t, upstream, 1_048_576)
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	w := httptest.NewRecorder()
	f.ServeHTTP(w, req)

	want := "data: {\"type\":\"message_start\"}\n\ndata: [DONE]\n\n"
	if w.Body.String() != want {
		t.Errorf("streamed body = %q, want %q", w.Body.String(), want)
	}
	recorded := rec.snapshot()
	if len(recorded) != 1 || recorded[0].ResponseBody != want {
		t.Fatalf("expected SSE body recorded verbatim, got %+v", recorded)
	}
}

func TestUpstreamUnreachableReturns502AndDoesNotRecord(t *testing.T) {
	rec := &fakeRecorder{}
	client := &http.Client{Timeout: time.Second}
	f := New(client, "http://127.0.0.1:1", 1024, rec)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	w := httptest.NewRecorder()
	f.ServeHTTP(w, req)

	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}
	if w.Body.String() != msgUpstreamTransport {
		t.Errorf("body = %q", w.Body.String())
	}
	if len(rec.snapshot()) != 0 {
		t.Error("expected no exchange recorded on transport failure")
	}
}

func TestUpstreamTimeoutReturns504AndDoesNotRecord(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	rec := &fakeRecorder{}
	client := &http.Client{Timeout: 10 * time.Millisecond}
	f := New(client, upstream.URL, 1024, rec)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	w := httptest.NewRecorder()
	f.ServeHTTP(w, req)

	if w.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", w.Code)
	}
	if w.Body.String() != msgUpstreamTimeout {
		t.Errorf("body = %q", w.Body.String())
	}
	if len(rec.snapshot()) != 0 {
		t.Error("expected no exchange recorded on timeout")
	}
}

func TestClientCancelledBeforeHeadersAbandonsSilently(t *testing.T) {
	block := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()
	defer close(block)

	rec := &fakeRecorder{}
	client := &http.Client{}
	f := New(client, upstream.URL, 1024, rec)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		f.ServeHTTP(w, req)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	<-done

	if len(rec.snapshot()) != 0 {
		t.Error("expected no exchange recorded when client cancels before headers")
	}
}

func TestTruncationAppliedToStoredBodies(t *testing.T) {
	body := strings.Repeat("X", 200)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, body)
	}))
	defer upstream.Close()

	f, rec := newForwarder(t, upstream, 50)
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	w := httptest.NewRecorder()
	f.ServeHTTP(w, req)

	if w.Body.String() != body {
		t.Error("expected full 200-byte body delivered to client on the wire")
	}
	recorded := rec.snapshot()
	if len(recorded) != 1 {
		t.Fatalf("expected 1 recorded exchange, got %d", len(recorded))
	}
	want := strings.Repeat("X", 50) + "\n[TRUNCATED: original size was 200 bytes, stored first 50 bytes]"
	if recorded[0].ResponseBody != want {
		t.Errorf("recorded response body = %q, want %q", recorded[0].ResponseBody, want)
	}
}
