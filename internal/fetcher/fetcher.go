package fetcher

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/time/rate"

	"github.com/guttosm/spimexpulse/internal/logger"
)

// Fetcher retrieves listing pages and bulletin files.
type Fetcher interface {
	GetPage(ctx context.Context, url string) (string, error)
	GetBytes(ctx context.Context, url string) ([]byte, error)
}

// Options configures the HTTP fetcher.
type Options struct {
	UserAgent string
	Timeout   time.Duration // 0 disables the client timeout
	RateLimit float64       // requests per second; 0 means unlimited
}

// StatusError is returned for any non-2xx response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d from %s", e.Code, e.URL)
}

// HTTPFetcher implements Fetcher over a single shared *http.Client.
// It is safe for concurrent use.
type HTTPFetcher struct {
	client  *http.Client
	opts    Options
	limiter *rate.Limiter
}

// New creates an HTTPFetcher with the given options.
func New(opts Options) *HTTPFetcher {
	if opts.UserAgent == "" {
		opts.UserAgent = "spimexpulse/1.0"
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}

	return &HTTPFetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &loggingTransport{
				next: &http.Transport{
					Proxy:               http.ProxyFromEnvironment,
					MaxIdleConnsPerHost: 20,
					IdleConnTimeout:     90 * time.Second,
				},
				log: logger.L(),
			},
		},
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// GetPage fetches an HTML page and returns its body decoded to UTF-8 using the
// charset announced in the Content-Type header.
func (f *HTTPFetcher) GetPage(ctx context.Context, url string) (string, error) {
	body, contentType, err := f.get(ctx, url)
	if err != nil {
		return "", err
	}

	text, err := decodeCharset(body, contentType)
	if err != nil {
		return "", eris.Wrapf(err, "decode page %s", url)
	}
	return text, nil
}

// GetBytes fetches a file and returns the raw body.
func (f *HTTPFetcher) GetBytes(ctx context.Context, url string) ([]byte, error) {
	body, _, err := f.get(ctx, url)
	return body, err
}

func (f *HTTPFetcher) get(ctx context.Context, url string) ([]byte, string, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, "", eris.Wrap(err, "rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", eris.Wrapf(err, "build request %s", url)
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", eris.Wrapf(err, "get %s", url)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, "", eris.Wrap(&StatusError{URL: url, Code: resp.StatusCode}, "unexpected status")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", eris.Wrapf(err, "read body %s", url)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// decodeCharset converts body to UTF-8. Unknown or missing charsets are
// treated as UTF-8.
func decodeCharset(body []byte, contentType string) (string, error) {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil || params["charset"] == "" {
		return string(body), nil
	}

	enc, err := htmlindex.Get(params["charset"])
	if err != nil {
		return string(body), nil
	}
	if name, _ := htmlindex.Name(enc); name == "utf-8" {
		return string(body), nil
	}

	out, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
