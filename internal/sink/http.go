package sink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"

	"github.com/park285/cheese-observer/internal/domain"
)

// Delivery status values reported by HTTP.Status.
const (
	StatusUnknown = "unknown"
	StatusSuccess = "success"
	StatusError   = "error"
)

// HeaderProvider allows injecting per-request headers
type HeaderProvider func() map[string]string

// HTTP posts each snapshot as JSON to a backend URL.
type HTTP struct {
	url     string
	http    *fasthttp.Client
	headers HeaderProvider
	limiter *rate.Limiter

	defaultTimeout time.Duration
	retryMax       int
	retryBase      time.Duration

	mu      sync.RWMutex
	status  string
	lastErr error
}

type HTTPOption func(*HTTP)

func WithTimeout(d time.Duration) HTTPOption {
	return func(h *HTTP) {
		if d > 0 {
			h.defaultTimeout = d
		}
	}
}

func WithRetry(max int) HTTPOption { return func(h *HTTP) { h.retryMax = max } }

// WithRetryBase sets the first backoff interval between attempts.
func WithRetryBase(d time.Duration) HTTPOption { return func(h *HTTP) { h.retryBase = d } }

func WithHeaderProvider(p HeaderProvider) HTTPOption { return func(h *HTTP) { h.headers = p } }

// WithRateLimit caps deliveries per second; rps <= 0 disables the limiter.
func WithRateLimit(rps float64) HTTPOption {
	return func(h *HTTP) {
		if rps > 0 {
			h.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithDial replaces the transport dialer.
func WithDial(dial fasthttp.DialFunc) HTTPOption { return func(h *HTTP) { h.http.Dial = dial } }

func NewHTTP(url string, opts ...HTTPOption) (*HTTP, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("sink url is required")
	}
	h := &HTTP{
		url:            url,
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 8},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
		retryBase:      100 * time.Millisecond,
		status:         StatusUnknown,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Status reports the outcome of the last delivery.
func (h *HTTP) Status() string {
	if h == nil {
		return StatusUnknown
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

func (h *HTTP) LastError() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastErr
}

func (h *HTTP) Deliver(ctx context.Context, rec domain.Record) error {
	body, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	err = h.post(ctx, body)
	h.mu.Lock()
	if err != nil {
		h.status, h.lastErr = StatusError, err
	} else {
		h.status, h.lastErr = StatusSuccess, nil
	}
	h.mu.Unlock()
	return err
}

func (h *HTTP) post(ctx context.Context, body []byte) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(h.url)
	req.Header.SetContentType("application/json")
	if h.headers != nil {
		for k, v := range h.headers() {
			if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
				req.Header.Set(k, v)
			}
		}
	}
	req.SetBody(body)

	attempts := h.retryMax
	if attempts <= 0 {
		attempts = 1
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = h.retryBase
	bo.MaxInterval = 2 * time.Second

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := h.http.DoDeadline(req, resp, h.computeDeadline(ctx))
		if err == nil {
			status := resp.StatusCode()
			if status >= 200 && status < 300 {
				return nil
			}
			err = fmt.Errorf("sink error: status=%d body=%s", status, truncate(string(resp.Body()), 512))
			if !shouldRetryStatus(status) {
				return err
			}
		} else {
			sent := !notSent(err)
			err = fmt.Errorf("request failed: %w", err)
			if sent {
				// the body may have landed; a second POST would duplicate the snapshot
				return err
			}
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			break
		}
		if sleepErr := sleepWithContext(ctx, wait); sleepErr != nil {
			return lastErr
		}
		resp.Reset()
	}
	return lastErr
}

func (h *HTTP) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(h.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// notSent reports transport errors raised before the request was written.
func notSent(err error) bool {
	if errors.Is(err, fasthttp.ErrDialTimeout) || errors.Is(err, fasthttp.ErrNoFreeConns) ||
		errors.Is(err, fasthttp.ErrTLSHandshakeTimeout) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
