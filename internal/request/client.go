// Package request provides the rate-limited HTTP client shared by all
// probing units. Terminal failures are folded into the outcome rather than
// returned as errors, so callers can treat every probe uniformly.
package request

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	// maxBody caps how much of a response body is read.
	maxBody = 1024 * 1024

	// maxRetryAfter caps how long a single Retry-After header can stall a probe.
	maxRetryAfter = 60 * time.Second
)

// DefaultUserAgent is the browser identity presented on every request,
// including WebSocket handshakes issued outside this package.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// RawBodyMarker is stored in Outcome.Data when a 200 body is not valid JSON.
const RawBodyMarker = "unparsable response body"

// Target is a single probe: a URL and the method to request it with.
type Target struct {
	URL    string
	Method string // defaults to GET
}

// Outcome is the terminal result of probing one target. Status 404 means
// "absent" and is not an error; Err is set only when no usable response was
// obtained within the retry budget.
type Outcome struct {
	URL          string            `json:"url"`
	Method       string            `json:"method,omitempty"`
	Status       int               `json:"status,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	Data         any               `json:"data,omitempty"`
	BodySize     int64             `json:"size,omitempty"`
	Attempts     int               `json:"attempts,omitempty"`
	DurationSecs float64           `json:"duration_secs"`
	Err          string            `json:"error,omitempty"`
}

// OK reports a 200 response.
func (o *Outcome) OK() bool { return o.Err == "" && o.Status == http.StatusOK }

// Absent reports a 404 response, meaning "no data" rather than failure.
func (o *Outcome) Absent() bool { return o.Err == "" && o.Status == http.StatusNotFound }

// Failed reports that no usable response was obtained.
func (o *Outcome) Failed() bool { return o.Err != "" }

// Options configures a Client.
type Options struct {
	// Token is sent verbatim in the Authorization header when set.
	Token string

	// Timeout bounds each request attempt.
	Timeout time.Duration

	// Delay is the pacing interval between requests issued by this client,
	// and the fallback wait for a 429 without a Retry-After header.
	Delay time.Duration

	// ErrorDelay is the wait before retrying a transport failure.
	ErrorDelay time.Duration

	// Retries is the attempt budget per target.
	Retries int

	// Workers bounds DoMany concurrency.
	Workers int

	UserAgent string
	Log       zerolog.Logger
}

// Client issues paced, retried HTTP requests. Each probing unit owns its
// own Client, so its connection pool and pacing never interfere with
// another unit's.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	token      string
	userAgent  string
	retries    int
	delay      time.Duration
	errorDelay time.Duration
	workers    int
	log        zerolog.Logger
}

// New builds a Client. Zero option fields get conservative defaults.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Delay <= 0 {
		opts.Delay = 500 * time.Millisecond
	}
	if opts.ErrorDelay <= 0 {
		opts.ErrorDelay = time.Second
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	if opts.Workers <= 0 {
		opts.Workers = 10
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}

	httpClient := &http.Client{
		Timeout: opts.Timeout,
		Transport: &http.Transport{
			TLSClientConfig:     &tls.Config{InsecureSkipVerify: true},
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: opts.Workers,
			IdleConnTimeout:     90 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}

	return &Client{
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Every(opts.Delay), 1),
		token:      opts.Token,
		userAgent:  opts.UserAgent,
		retries:    opts.Retries,
		delay:      opts.Delay,
		errorDelay: opts.ErrorDelay,
		workers:    opts.Workers,
		log:        opts.Log,
	}
}

// Close releases the client's idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// Do probes one target. It never returns an error: rate limits are retried
// with the server's Retry-After, transport failures are retried after a
// fixed delay, and an exhausted budget yields an outcome with Err set.
func (c *Client) Do(ctx context.Context, t Target) *Outcome {
	method := t.Method
	if method == "" {
		method = http.MethodGet
	}

	out := &Outcome{URL: t.URL, Method: method}
	start := time.Now()
	defer func() { out.DurationSecs = time.Since(start).Seconds() }()

	for attempt := 1; attempt <= c.retries; attempt++ {
		out.Attempts = attempt

		if err := c.limiter.Wait(ctx); err != nil {
			out.Err = err.Error()
			return out
		}

		req, err := http.NewRequestWithContext(ctx, method, t.URL, nil)
		if err != nil {
			// A malformed URL will not improve with retries.
			out.Err = fmt.Sprintf("build request: %s", err)
			return out
		}
		c.setHeaders(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.log.Warn().Str("url", t.URL).Int("attempt", attempt).Err(err).Msg("request failed")
			if attempt == c.retries {
				out.Err = err.Error()
				return out
			}
			if !sleepCtx(ctx, c.errorDelay) {
				out.Err = ctx.Err().Error()
				return out
			}
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			wait := retryAfter(resp.Header, c.delay)
			drain(resp)
			c.log.Warn().Str("url", t.URL).Int("attempt", attempt).Dur("retry_after", wait).Msg("rate limited")
			if attempt == c.retries {
				out.Status = resp.StatusCode
				out.Headers = FlattenHeaders(resp.Header)
				out.Err = "retry budget exhausted"
				return out
			}
			if !sleepCtx(ctx, wait) {
				out.Err = ctx.Err().Error()
				return out
			}
			continue
		}

		c.finish(out, resp)
		return out
	}

	return out
}

// DoMany probes every target with a bounded worker pool. The returned slice
// is aligned with the input: exactly one outcome per target, in order.
func (c *Client) DoMany(ctx context.Context, targets []Target) []*Outcome {
	outcomes := make([]*Outcome, len(targets))

	type item struct {
		idx    int
		target Target
	}
	work := make(chan item, len(targets))
	for i, t := range targets {
		work <- item{idx: i, target: t}
	}
	close(work)

	workers := c.workers
	if workers > len(targets) {
		workers = len(targets)
	}
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for it := range work {
				// Do returns a canceled outcome immediately once the
				// context is gone, keeping the one-per-target invariant.
				outcomes[it.idx] = c.Do(ctx, it.target)
			}
		}()
	}

	wg.Wait()
	return outcomes
}

// finish folds a non-429 response into the outcome. 200 bodies are decoded
// as JSON, 404 means absent, anything else is recorded as data and never
// retried.
func (c *Client) finish(out *Outcome, resp *http.Response) {
	defer resp.Body.Close()

	out.Status = resp.StatusCode
	out.Headers = FlattenHeaders(resp.Header)

	switch out.Status {
	case http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBody))
		out.BodySize = int64(len(body))
		if len(body) > 0 {
			var v any
			if err := json.Unmarshal(body, &v); err != nil {
				out.Data = RawBodyMarker
			} else {
				out.Data = v
			}
		}
	case http.StatusNotFound:
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
	default:
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		c.log.Debug().Str("url", out.URL).Int("status", out.Status).Msg("non-success status")
	}

	if out.BodySize == 0 && resp.ContentLength > 0 {
		out.BodySize = resp.ContentLength
	}
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	if c.token != "" {
		req.Header.Set("Authorization", c.token)
	}
}

// retryAfter reads a Retry-After header in seconds, falling back to the
// client's pacing delay. HTTP-date values are treated as absent.
func retryAfter(h http.Header, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return fallback
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs < 0 {
		return fallback
	}
	wait := time.Duration(secs * float64(time.Second))
	if wait > maxRetryAfter {
		return maxRetryAfter
	}
	return wait
}

// FlattenHeaders lowercases header names and keeps the first value of each.
// Findings store headers in this form so lookups never depend on wire casing.
func FlattenHeaders(h http.Header) map[string]string {
	m := make(map[string]string, len(h))
	for name, vals := range h {
		if len(vals) > 0 {
			m[strings.ToLower(name)] = vals[0]
		}
	}
	return m
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
	resp.Body.Close()
}

// sleepCtx sleeps for d unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
