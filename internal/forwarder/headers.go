package forwarder

import "net/http"

// requestHopByHop is the exclusion set applied when copying the client's
// request headers onto the outgoing upstream request. Host and
// Content-Length are excluded in addition to the classic hop-by-hop set:
// Host because the outgoing client sets it to the upstream authority,
// Content-Length because the outgoing client recomputes it from the
// buffered body.
var requestHopByHop = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailers":            {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Proxy-Connection":    {},
	"Host":                {},
	"Content-Length":      {},
}

// responseHopByHop is the exclusion set applied when copying the upstream's
// response headers onto the client response. Content-Length is stripped so
// the server resets it from what is actually written.
var responseHopByHop = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailers":            {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Proxy-Connection":    {},
	"Content-Length":      {},
}

// copyHeaders copies every header in src to dst except those named in skip,
// matched via the canonical MIME form that http.Header already keys by.
func copyHeaders(dst, src http.Header, skip map[string]struct{}) {
	for name, values := range src {
		if _, excluded := skip[http.CanonicalHeaderKey(name)]; excluded {
			continue
		}
		dst[name] = append([]string(nil), values...)
	}
}
