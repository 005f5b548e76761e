// Package fetch implements the Fetcher implementations spec §6.1 names: an
// HTTP fetcher over net/http and a stealth-patched browser fetcher over
// go-rod. Both satisfy scheduler.Fetcher, classifying every failure into one
// of the three Retry Policy error types so the Scheduler never type-asserts
// an unknown error. Grounded on the teacher's internal/fetcher/http.go.
package fetch

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/waylight/kestrel/internal/config"
	"github.com/waylight/kestrel/internal/scheduler"
	"github.com/waylight/kestrel/internal/types"
)

// HTTPFetcher implements scheduler.Fetcher using net/http.
type HTTPFetcher struct {
	client     *http.Client
	cfg        *config.FetcherConfig
	logger     *slog.Logger
	userAgents []string
	uaIndex    atomic.Int64
}

// NewHTTPFetcher builds an HTTPFetcher from the engine's FetcherConfig.
func NewHTTPFetcher(cfg *config.Config, logger *slog.Logger) (*HTTPFetcher, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: creating cookie jar: %w", err)
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        cfg.Fetcher.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.Fetcher.MaxIdleConns / 2,
		IdleConnTimeout:     cfg.Fetcher.IdleConnTimeout,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig:     &tls.Config{},
		DisableCompression:  true, // decompression is handled explicitly below, including brotli
	}

	redirectPolicy := func(req *http.Request, via []*http.Request) error {
		if !cfg.Fetcher.FollowRedirects {
			return http.ErrUseLastResponse
		}
		if len(via) >= cfg.Fetcher.MaxRedirects {
			return fmt.Errorf("max redirects (%d) reached", cfg.Fetcher.MaxRedirects)
		}
		return nil
	}

	client := &http.Client{
		Transport:     transport,
		Jar:           jar,
		Timeout:       cfg.Fetcher.RequestTimeout,
		CheckRedirect: redirectPolicy,
	}

	return &HTTPFetcher{
		client:     client,
		cfg:        &cfg.Fetcher,
		logger:     logger.With("component", "http_fetcher"),
		userAgents: cfg.Fetcher.UserAgents,
	}, nil
}

// Execute satisfies scheduler.Fetcher.
func (f *HTTPFetcher) Execute(ctx context.Context, req *types.Request) (*scheduler.FetchResult, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if len(req.Body) > 0 {
		bodyReader = strings.NewReader(string(req.Body))
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, bodyReader)
	if err != nil {
		return nil, &types.FatalError{Message: fmt.Sprintf("building request for %s: %v", req.URL, err)}
	}

	httpReq.Header.Set("User-Agent", f.nextUserAgent())
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	httpReq.Header.Set("Accept-Language", "en-US,en;q=0.9")
	httpReq.Header.Set("Accept-Encoding", "gzip, deflate, br")
	for key, values := range req.Headers {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	for name, value := range req.Cookies {
		httpReq.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	httpResp, err := f.client.Do(httpReq)
	if err != nil {
		if isFatalError(err) {
			return nil, &types.FatalError{Message: fmt.Sprintf("fetching %s: %v", req.URL, err)}
		}
		return nil, &types.TransientError{Message: fmt.Sprintf("fetching %s: %v", req.URL, err)}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode == http.StatusTooManyRequests {
		retryAfter := parseRetryAfterSeconds(httpResp.Header.Get("Retry-After"))
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return nil, &types.TransientError{
			StatusCode: httpResp.StatusCode,
			Message:    fmt.Sprintf("HTTP 429 from %s: %s", req.URL, strings.TrimSpace(string(body))),
			RetryAfter: retryAfter,
		}
	}
	// 501 Not Implemented means the server will never support this request
	// regardless of retry; every other 5xx is worth retrying (spec §4.5/§7:
	// "5xx except 501"). 408 Request Timeout is listed alongside them as
	// transient even though it falls in the 4xx range.
	if httpResp.StatusCode == http.StatusNotImplemented {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 1024))
		return nil, &types.FatalError{Message: fmt.Sprintf("HTTP %d from %s: %s", httpResp.StatusCode, req.URL, string(body))}
	}
	if httpResp.StatusCode >= 500 || httpResp.StatusCode == http.StatusRequestTimeout {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 1024))
		return nil, &types.TransientError{
			StatusCode: httpResp.StatusCode,
			Message:    fmt.Sprintf("HTTP %d from %s: %s", httpResp.StatusCode, req.URL, string(body)),
		}
	}
	if httpResp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 1024))
		return nil, &types.FatalError{Message: fmt.Sprintf("HTTP %d from %s: %s", httpResp.StatusCode, req.URL, string(body))}
	}

	var reader io.Reader = httpResp.Body
	if f.cfg.MaxBodySize > 0 {
		reader = io.LimitReader(reader, f.cfg.MaxBodySize)
	}
	reader, err = decompressReader(httpResp, reader)
	if err != nil {
		return nil, &types.FatalError{Message: fmt.Sprintf("decompressing response from %s: %v", req.URL, err)}
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, &types.TransientError{Message: fmt.Sprintf("reading response body from %s: %v", req.URL, err)}
	}

	finalURL := req.URL
	if httpResp.Request != nil && httpResp.Request.URL != nil {
		finalURL = httpResp.Request.URL.String()
	}

	f.logger.Debug("fetch complete", "url", req.URL, "status", httpResp.StatusCode, "size", len(body))

	return &scheduler.FetchResult{
		StatusCode: httpResp.StatusCode,
		Headers:    map[string][]string(httpResp.Header),
		FinalURL:   finalURL,
		Body:       body,
	}, nil
}

// Close releases idle connections.
func (f *HTTPFetcher) Close() error {
	f.client.CloseIdleConnections()
	return nil
}

func (f *HTTPFetcher) nextUserAgent() string {
	if len(f.userAgents) == 0 {
		return "kestrel/1.0"
	}
	idx := f.uaIndex.Add(1) % int64(len(f.userAgents))
	return f.userAgents[idx]
}

func decompressReader(resp *http.Response, reader io.Reader) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(reader)
	case "deflate":
		return flate.NewReader(reader), nil
	case "br":
		return brotli.NewReader(reader), nil
	default:
		return reader, nil
	}
}

// isFatalError distinguishes a retryable transport failure (timeout,
// connection reset/refused, truncated body) from a non-retryable one: a
// cancelled context, or any error not recognised as retryable.
func isFatalError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if errors.Is(opErr.Err, syscall.ECONNRESET) || errors.Is(opErr.Err, syscall.ECONNREFUSED) {
			return false
		}
	}
	return true
}

func parseRetryAfterSeconds(header string) *int {
	if header == "" {
		return nil
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil {
		if secs > 120 {
			secs = 120
		}
		return &secs
	}
	if t, err := http.ParseTime(header); err == nil {
		d := int(time.Until(t).Seconds())
		if d < 0 {
			d = 0
		}
		if d > 120 {
			d = 120
		}
		return &d
	}
	return nil
}
