package fetcher

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// loggingTransport logs every outbound request with its status and latency.
//
// Behavior:
//   - Captures start time before the round trip.
//   - Logs method, url, status, latency in ms and content length at debug level.
//   - Transport errors are logged with status 0 and returned unchanged.
//
// Example log output:
//
//	method=GET url=https://spimex.com/markets/oil_products/trades/results/ status=200 latency_ms=184 bytes=-1
type loggingTransport struct {
	next http.RoundTripper
	log  *zerolog.Logger
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.next.RoundTrip(req)

	ev := t.log.Debug().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Int64("latency_ms", time.Since(start).Milliseconds())
	if err != nil {
		ev.Int("status", 0).Err(err).Msg("http_request")
		return nil, err
	}
	ev.Int("status", resp.StatusCode).Int64("bytes", resp.ContentLength).Msg("http_request")
	return resp, nil
}
