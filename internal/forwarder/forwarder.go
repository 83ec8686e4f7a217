// Package forwarder implements the terminal proxy handler: it forwards
// every request not claimed by a sibling route to a single upstream,
// returns the response byte-for-byte, and hands a decoded copy of the
// exchange to a Recorder.
package forwarder

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	relay "github.com/kjellberg/relayproxy/internal"
	"github.com/kjellberg/relayproxy/internal/telemetry"
	"github.com/kjellberg/relayproxy/internal/tokenusage"
)

// streamChunkSize bounds a single read off the upstream body on the
// streaming (SSE) path; each chunk is written and flushed immediately.
const streamChunkSize = 8 * 1024

const (
	msgUpstreamTimeout   = "Gateway Timeout: upstream did not respond in time."
	msgUpstreamTransport = "Bad Gateway: could not connect to upstream."
)

// Recorder is the dependency the forwarder hands completed exchanges to.
// recorder.Recorder satisfies this.
type Recorder interface {
	Record(exchange *relay.Exchange)
}

// Forwarder is the terminal http.Handler for the proxy. It must be mounted
// behind any local routes (e.g. the analytics API): a router that only
// reaches this handler when nothing more specific matched already
// satisfies the "yield to sibling routes" requirement, so Forwarder itself
// does no route introspection.
type Forwarder struct {
	client   *http.Client
	baseURL  string // trailing slash already trimmed
	bodyCap  int
	recorder Recorder
	metrics  *telemetry.Metrics // optional; nil-checked before every use
}

// New creates a Forwarder. client should disable redirect-following and
// response auto-decompression so the wire bytes pass through unmodified.
func New(client *http.Client, baseURL string, bodyCap int, recorder Recorder) *Forwarder {
	return &Forwarder{client: client, baseURL: baseURL, bodyCap: bodyCap, recorder: recorder}
}

// SetMetrics attaches a Metrics collector. Without it, the forwarder runs
// with no observability overhead.
func (f *Forwarder) SetMetrics(metrics *telemetry.Metrics) {
	f.metrics = metrics
}

func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	timestamp := start.UTC()

	if f.metrics != nil {
		f.metrics.ActiveRequests.Inc()
		defer f.metrics.ActiveRequests.Dec()
	}

	// Step 1: buffer request body, capture incoming headers as received.
	reqBody, err := io.ReadAll(r.Body)
	if err != nil {
		writeGatewayError(w, http.StatusBadGateway, msgUpstreamTransport)
		return
	}
	if f.metrics != nil {
		f.metrics.RequestBodyBytes.Observe(float64(len(reqBody)))
	}
	reqHeaders := relay.EncodeHeaders(r.Header)

	// Step 2: build upstream request.
	target := f.baseURL + r.URL.Path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	var upstreamBody io.Reader
	if len(reqBody) > 0 {
		upstreamBody = bytes.NewReader(reqBody)
	}
	upstreamReq, err := http.NewRequestWithContext(r.Context(), r.Method, target, upstreamBody)
	if err != nil {
		slog.LogAttrs(r.Context(), slog.LevelError, "forwarder: build upstream request failed",
			slog.String("error", err.Error()))
		writeGatewayError(w, http.StatusBadGateway, msgUpstreamTransport)
		return
	}
	copyHeaders(upstreamReq.Header, r.Header, requestHopByHop)

	// Step 3: dispatch, with streaming response-header completion.
	resp, err := f.client.Do(upstreamReq)
	if err != nil {
		if r.Context().Err() != nil {
			// Client cancelled before headers arrived. Abandon silently.
			return
		}
		var urlErr *url.Error
		if errors.As(err, &urlErr) && urlErr.Timeout() {
			writeGatewayError(w, http.StatusGatewayTimeout, msgUpstreamTimeout)
			return
		}
		writeGatewayError(w, http.StatusBadGateway, msgUpstreamTransport)
		return
	}
	defer resp.Body.Close()

	// Step 4: copy response status and headers.
	copyHeaders(w.Header(), resp.Header, responseHopByHop)
	respHeaders := relay.EncodeHeaders(w.Header())
	w.WriteHeader(resp.StatusCode)

	// Step 5: stream or buffer the response body.
	var accumulator bytes.Buffer
	delivered := f.deliverBody(w, resp, &accumulator)
	if !delivered {
		// Client disconnected mid-body. No Exchange is recorded.
		return
	}

	// Step 6: record.
	elapsed := time.Since(start)
	contentEncoding := resp.Header.Get("Content-Encoding")

	requestText := string(reqBody)
	responseText := decodeResponseBody(r.Context(), accumulator.Bytes(), contentEncoding)

	if f.metrics != nil {
		f.metrics.ResponseBodyBytes.Observe(float64(len(responseText)))
		f.metrics.RequestsTotal.WithLabelValues(r.Method, strconv.Itoa(resp.StatusCode)).Inc()
		f.metrics.ForwardDuration.WithLabelValues(r.Method).Observe(elapsed.Seconds())
		if len(requestText) > f.bodyCap {
			f.metrics.TruncationsTotal.WithLabelValues("request").Inc()
		}
		if len(responseText) > f.bodyCap {
			f.metrics.TruncationsTotal.WithLabelValues("response").Inc()
		}
	}

	exchange := &relay.Exchange{
		Timestamp:       timestamp,
		Method:          r.Method,
		Path:            requestPathAndQuery(r),
		RequestHeaders:  reqHeaders,
		RequestBody:     truncate(requestText, f.bodyCap),
		HasRequestBody:  len(reqBody) > 0,
		ResponseStatus:  resp.StatusCode,
		ResponseHeaders: respHeaders,
		ResponseBody:    truncate(responseText, f.bodyCap),
		HasResponseBody: accumulator.Len() > 0,
		DurationMs:      elapsed.Milliseconds(),
	}
	f.recorder.Record(exchange)
}

// deliverBody writes the upstream response to the client, classifying the
// response as streaming (text/event-stream) or buffered, while filling acc
// with the exact bytes delivered. It returns false when the client
// disconnected before the body finished, in which case nothing should be
// recorded.
func (f *Forwarder) deliverBody(w http.ResponseWriter, resp *http.Response, acc *bytes.Buffer) bool {
	if tokenusage.IsStreamingContentType(resp.Header.Get("Content-Type")) {
		return streamBody(w, resp.Body, acc)
	}
	return bufferBody(w, resp.Body, acc)
}

// streamBody reads the upstream body in fixed-size chunks, writing and
// flushing each one to the client before reading the next, accumulating a
// copy for recording. A write error (client gone) stops the copy and
// reports no-record.
func streamBody(w http.ResponseWriter, body io.Reader, acc *bytes.Buffer) bool {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, streamChunkSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			acc.Write(buf[:n])
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return false
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return true
			}
			return false
		}
	}
}

// bufferBody reads the entire upstream body before writing it to the
// client in one shot.
func bufferBody(w http.ResponseWriter, body io.Reader, acc *bytes.Buffer) bool {
	data, err := io.ReadAll(body)
	if err != nil {
		return false
	}
	acc.Write(data)
	if _, err := w.Write(data); err != nil {
		return false
	}
	return true
}

// writeGatewayError writes msg as the exact plain-text response body, with
// no trailing newline (http.Error would append one).
func writeGatewayError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, msg)
}

// requestPathAndQuery returns the path exactly as received, including the
// raw (still-encoded) query string.
func requestPathAndQuery(r *http.Request) string {
	return r.URL.RequestURI()
}
