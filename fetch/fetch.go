// Package fetch downloads plan entries over http. Each entry gets a bounded
// number of attempts with exponential backoff between them; a finished file
// only ever appears under its final name via an atomic rename, so other
// processes never observe a partial download.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"bsdl/plan"

	log "github.com/sirupsen/logrus"
)

// State is the terminal disposition of a single fetch.
type State string

const (
	StateSkipped   State = "skipped"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Reason classifies why a fetch failed.
type Reason string

const (
	// ReasonNotFound means the server said the artifact does not exist
	// (404 or 410). Not retried.
	ReasonNotFound Reason = "not_found"

	// ReasonNetworkError means every attempt failed with a transport error,
	// a retryable status, or a truncated body.
	ReasonNetworkError Reason = "network_error"

	// ReasonCancelled means the run was cancelled while this item was
	// waiting or transferring.
	ReasonCancelled Reason = "cancelled"

	// ReasonInternal means a non-network defect: a disk failure or a bug.
	ReasonInternal Reason = "internal_error"
)

// Outcome is the result of fetching one plan entry.
type Outcome struct {
	State    State
	Reason   Reason // set only when State is StateFailed
	Attempts int    // download attempts made; 0 for a skip
	Bytes    int64  // bytes written to the finished file
	Err      error  // last error, set only when State is StateFailed
}

const (
	DefaultMaxAttempts = 3
	DefaultBackoffBase = time.Second
	DefaultBackoffCap  = 30 * time.Second
)

// The CDN returns 403 to obviously non-browser agents.
const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/115.0 Safari/537.36"

// Config adjusts fetcher behavior. Zero values select the defaults.
type Config struct {
	MaxAttempts int           // tries per item; default 3
	BackoffBase time.Duration // delay before the second attempt; default 1s
	BackoffCap  time.Duration // upper bound on any single delay; default 30s
	UserAgent   string        // User-Agent header on every request
	Client      *http.Client  // http client override, mainly for tests
}

// Fetcher downloads plan entries with bounded retries. It is safe for
// concurrent use.
type Fetcher struct {
	hc          *http.Client
	maxAttempts int
	backoffBase time.Duration
	backoffCap  time.Duration
	userAgent   string
}

// New returns a fetcher with the given configuration.
func New(cfg Config) *Fetcher {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = DefaultBackoffCap
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Transport: newTransport()}
	}

	return &Fetcher{
		hc:          cfg.Client,
		maxAttempts: cfg.MaxAttempts,
		backoffBase: cfg.BackoffBase,
		backoffCap:  cfg.BackoffCap,
		userAgent:   cfg.UserAgent,
	}
}

// Fetch retrieves one plan entry. It never returns an error; every
// disposition, including cancellation and worker-side defects, is expressed
// as an Outcome so one item cannot abort a run.
func (f *Fetcher) Fetch(ctx context.Context, e plan.Entry) Outcome {
	if e.Status == plan.StatusPresentValid {
		log.Debugf("skipping %s: already on disk", e.Path)
		return Outcome{State: StateSkipped}
	}

	var lastErr error
	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := backoffDelay(f.backoffBase, f.backoffCap, attempt-1)
			log.Debugf("retrying in %v: url=%s attempt=%d/%d", delay, e.Item.URL, attempt, f.maxAttempts)
			if err := sleep(ctx, delay); err != nil {
				return Outcome{State: StateFailed, Reason: ReasonCancelled, Attempts: attempt - 1, Err: err}
			}
		}

		n, err := f.attempt(ctx, e)
		if err == nil {
			log.Debugf("downloaded %s (%d bytes)", e.Path, n)
			return Outcome{State: StateSucceeded, Attempts: attempt, Bytes: n}
		}
		lastErr = err

		if ctx.Err() != nil {
			return Outcome{State: StateFailed, Reason: ReasonCancelled, Attempts: attempt, Err: err}
		}

		var se *statusError
		if errors.As(err, &se) && se.terminal() {
			return Outcome{State: StateFailed, Reason: ReasonNotFound, Attempts: attempt, Err: err}
		}

		var le *localError
		if errors.As(err, &le) {
			return Outcome{State: StateFailed, Reason: ReasonInternal, Attempts: attempt, Err: err}
		}

		log.WithError(err).Warnf("download attempt failed: url=%s attempt=%d/%d", e.Item.URL, attempt, f.maxAttempts)
	}

	return Outcome{State: StateFailed, Reason: ReasonNetworkError, Attempts: f.maxAttempts, Err: lastErr}
}

// attempt performs one download try: GET the url, stream the body into a
// part file, then rename it onto the target. The part file is removed on any
// failure so an aborted attempt leaves nothing behind under the final name.
func (f *Fetcher) attempt(ctx context.Context, e plan.Entry) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.Item.URL, nil)
	if err != nil {
		return 0, &localError{err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)

	log.Debugf("get: %s", e.Item.URL)
	rsp, err := f.hc.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to send request: %v", err)
	}
	defer rsp.Body.Close()

	if rsp.StatusCode < 200 || rsp.StatusCode >= 300 {
		return 0, &statusError{code: rsp.StatusCode, status: rsp.Status}
	}

	part := e.Path + ".part"
	out, err := os.Create(part)
	if err != nil {
		return 0, &localError{err: fmt.Errorf("failed to create part file: %v", err)}
	}

	n, err := io.Copy(out, NewContextReader(ctx, rsp.Body))
	if err != nil {
		out.Close()
		os.Remove(part)
		return 0, err
	}

	if err := out.Close(); err != nil {
		os.Remove(part)
		return 0, &localError{err: fmt.Errorf("failed to close part file: %v", err)}
	}

	if rsp.ContentLength >= 0 && n != rsp.ContentLength {
		os.Remove(part)
		return 0, fmt.Errorf("short body: got=%d want=%d bytes", n, rsp.ContentLength)
	}

	if err := os.Rename(part, e.Path); err != nil {
		os.Remove(part)
		return 0, &localError{err: fmt.Errorf("failed to finalize %s: %v", e.Path, err)}
	}

	return n, nil
}

// statusError is a non-2xx http response.
type statusError struct {
	code   int
	status string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("error status: %s", e.status)
}

// terminal returns true if the status means the artifact does not exist and
// never will, making retries pointless.
func (e *statusError) terminal() bool {
	return e.code == http.StatusNotFound || e.code == http.StatusGone
}

// localError marks a disk-side failure that retrying the download cannot
// fix.
type localError struct {
	err error
}

func (e *localError) Error() string {
	return e.err.Error()
}

func (e *localError) Unwrap() error {
	return e.err
}

// newTransport returns the http transport used when the caller supplies no
// client. Timeouts bound each phase of a request so one hung CDN node cannot
// stall a worker indefinitely.
func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
	}
}
