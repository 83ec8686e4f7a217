package relay

import "errors"

// Sentinel errors for the relay domain. config.Load wraps ErrConfig and the
// SQLite store wraps ErrPersist; the other three name the forwarder's
// failure classes but are not returned by any function in this module.
var (
	ErrConfig            = errors.New("missing or invalid configuration")
	ErrUpstreamTimeout   = errors.New("upstream did not respond in time")
	ErrUpstreamTransport = errors.New("could not connect to upstream")
	ErrClientCancelled   = errors.New("client cancelled request")
	ErrPersist           = errors.New("storage write failed")
)
