package forwarder

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"log/slog"
	"strings"
)

// decodeResponseBody turns the raw bytes written to the client into the
// decoded text stored on the Exchange, undoing gzip when the upstream set
// Content-Encoding: gzip. A gzip decode failure is logged and the raw bytes
// are stored instead rather than losing the recording entirely.
func decodeResponseBody(ctx context.Context, raw []byte, contentEncoding string) string {
	if !strings.Contains(strings.ToLower(contentEncoding), "gzip") {
		return string(raw)
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "forwarder: gzip reader init failed, recording raw bytes",
			slog.String("error", err.Error()))
		return string(raw)
	}
	defer zr.Close()
	decoded, err := io.ReadAll(zr)
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "forwarder: gzip decode failed, recording raw bytes",
			slog.String("error", err.Error()))
		return string(raw)
	}
	return string(decoded)
}
