package fetcher

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
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
	"github.com/go-resty/resty/v2"
	"golang.org/x/net/publicsuffix"

	"github.com/IshaanNene/bundlewatch/internal/config"
	"github.com/IshaanNene/bundlewatch/internal/types"
)

// HTTPFetcher implements Fetcher on top of a resty client.
type HTTPFetcher struct {
	client     *resty.Client
	cfg        *config.FetcherConfig
	logger     *slog.Logger
	userAgents []string
	uaIndex    atomic.Int64
}

// NewHTTPFetcher creates a new HTTP fetcher.
func NewHTTPFetcher(cfg *config.Config, logger *slog.Logger) (*HTTPFetcher, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DisableCompression:  true, // decoded below, brotli included
	}

	f := &HTTPFetcher{
		cfg:        &cfg.Fetcher,
		logger:     logger.With("component", "http_fetcher"),
		userAgents: cfg.Fetcher.UserAgents,
	}

	client := resty.NewWithClient(&http.Client{Transport: transport, Jar: jar}).
		SetLogger(restyLogger{f.logger}).
		SetTimeout(cfg.Fetcher.RequestTimeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(cfg.Fetcher.MaxRedirects)).
		SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8").
		SetHeader("Accept-Language", "en-US,en;q=0.9").
		SetHeader("Accept-Encoding", "gzip, deflate, br").
		SetRetryCount(cfg.Fetcher.MaxRetries).
		SetRetryWaitTime(cfg.Fetcher.RetryWait).
		SetRetryMaxWaitTime(cfg.Fetcher.RetryMaxWait).
		SetRetryAfter(retryAfter).
		AddRetryCondition(shouldRetry).
		AddRetryHook(func(r *resty.Response, err error) {
			attrs := []any{"error", err}
			if r != nil && r.Request != nil {
				attrs = append(attrs, "url", r.Request.URL, "status", r.StatusCode())
			}
			f.logger.Warn("retrying request", attrs...)
		})

	f.client = client
	return f, nil
}

// Fetch executes an HTTP GET and returns the decoded response.
// Non-2xx final statuses are returned as *types.FetchError.
func (f *HTTPFetcher) Fetch(ctx context.Context, req *types.Request) (*types.Response, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	r := f.client.R().
		SetContext(ctx).
		SetHeader("User-Agent", f.nextUserAgent())
	for key, values := range req.Headers {
		for _, v := range values {
			r.SetHeader(key, v)
		}
	}

	start := time.Now()
	httpResp, err := r.Get(req.URLString())
	duration := time.Since(start)

	if err != nil {
		return nil, &types.FetchError{
			URL:       req.URLString(),
			Err:       err,
			Retryable: isRetryableError(err),
		}
	}

	status := httpResp.StatusCode()
	if status < 200 || status >= 300 {
		fe := &types.FetchError{
			URL:        req.URLString(),
			StatusCode: status,
			Err:        fmt.Errorf("HTTP %d: %s", status, snippet(httpResp.Body(), 512)),
			Retryable:  status == http.StatusTooManyRequests || status >= 500,
		}
		if status == http.StatusTooManyRequests {
			fe.RetryAfter = parseRetryAfter(httpResp.Header().Get("Retry-After"))
		}
		return nil, fe
	}

	body, err := decodeBody(httpResp.Header().Get("Content-Encoding"), httpResp.Body())
	if err != nil {
		return nil, &types.FetchError{URL: req.URLString(), StatusCode: status, Err: err}
	}
	if f.cfg.MaxBodySize > 0 && int64(len(body)) > f.cfg.MaxBodySize {
		return nil, &types.FetchError{
			URL:        req.URLString(),
			StatusCode: status,
			Err:        fmt.Errorf("body of %d bytes exceeds limit of %d", len(body), f.cfg.MaxBodySize),
		}
	}

	finalURL := req.URLString()
	if raw := httpResp.RawResponse; raw != nil && raw.Request != nil && raw.Request.URL != nil {
		finalURL = raw.Request.URL.String()
	}

	resp := types.NewResponse(req, status, httpResp.Header(), body, finalURL, duration)

	f.logger.Debug("fetch complete",
		"url", req.URLString(),
		"status", status,
		"size", len(body),
		"duration", duration,
	)

	return resp, nil
}

// Close releases resources.
func (f *HTTPFetcher) Close() error {
	f.client.GetClient().CloseIdleConnections()
	return nil
}

// Type returns the fetcher type identifier.
func (f *HTTPFetcher) Type() string {
	return "http"
}

// nextUserAgent returns the next User-Agent in rotation.
func (f *HTTPFetcher) nextUserAgent() string {
	if len(f.userAgents) == 0 {
		return "bundlewatch/" + config.Version
	}
	idx := f.uaIndex.Add(1) % int64(len(f.userAgents))
	return f.userAgents[idx]
}

// shouldRetry retries transport failures, 429 and 5xx.
func shouldRetry(r *resty.Response, err error) bool {
	if err != nil {
		return isRetryableError(err)
	}
	if r == nil {
		return false
	}
	status := r.StatusCode()
	return status == http.StatusTooManyRequests || status >= 500
}

// retryAfter honors Retry-After on 429. Zero falls back to resty's backoff.
func retryAfter(_ *resty.Client, r *resty.Response) (time.Duration, error) {
	if r == nil || r.StatusCode() != http.StatusTooManyRequests {
		return 0, nil
	}
	if r.Header().Get("Retry-After") == "" {
		return 0, nil
	}
	return parseRetryAfter(r.Header().Get("Retry-After")), nil
}

// decodeBody undoes Content-Encoding. Bodies that are already plain are returned as is.
func decodeBody(encoding string, body []byte) ([]byte, error) {
	var reader io.Reader
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "gzip":
		if len(body) < 2 || body[0] != 0x1f || body[1] != 0x8b {
			return body, nil
		}
		gz, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer gz.Close()
		reader = gz
	case "deflate":
		reader = flate.NewReader(bytes.NewReader(body))
	case "br":
		reader = brotli.NewReader(bytes.NewReader(body))
	default:
		return body, nil
	}
	out, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("decode %s body: %w", encoding, err)
	}
	return out, nil
}

// isRetryableError checks if a network error warrants a retry.
// Covers timeouts, connection resets, unexpected EOF, and connection refused.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	// Context cancellation is NOT retryable
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if errors.Is(opErr.Err, syscall.ECONNRESET) ||
			errors.Is(opErr.Err, syscall.ECONNREFUSED) {
			return true
		}
	}
	return false
}

// parseRetryAfter parses the Retry-After header value.
// Supports both integer seconds and HTTP-date formats.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 5 * time.Second // default back-off
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil {
		if secs > 120 {
			secs = 120 // cap at 2 minutes
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		d := time.Until(t)
		if d < 0 {
			return time.Second
		}
		if d > 2*time.Minute {
			return 2 * time.Minute
		}
		return d
	}
	return 5 * time.Second
}

func snippet(body []byte, n int) string {
	if len(body) > n {
		body = body[:n]
	}
	return strings.TrimSpace(string(body))
}

// restyLogger routes resty's internal messages into slog.
type restyLogger struct {
	logger *slog.Logger
}

func (l restyLogger) Errorf(format string, v ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l restyLogger) Warnf(format string, v ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l restyLogger) Debugf(format string, v ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
