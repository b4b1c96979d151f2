package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"bsdl/bplist"
	"bsdl/plan"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func response(req *http.Request, code int, body string) *http.Response {
	return &http.Response{
		StatusCode:    code,
		Status:        fmt.Sprintf("%d %s", code, http.StatusText(code)),
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Header:        make(http.Header),
		Request:       req,
	}
}

func testFetcher(rt http.RoundTripper, maxAttempts int) *Fetcher {
	return New(Config{
		MaxAttempts: maxAttempts,
		BackoffBase: time.Millisecond,
		BackoffCap:  5 * time.Millisecond,
		Client:      &http.Client{Transport: rt},
	})
}

func absentEntry(t *testing.T, name string) plan.Entry {
	t.Helper()
	return plan.Entry{
		Item:   bplist.Item{ID: name, Name: name, URL: "https://cdn.example/" + name + ".zip", Kind: bplist.KindArchive},
		Path:   filepath.Join(t.TempDir(), name+".zip"),
		Status: plan.StatusAbsent,
	}
}

func TestFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("zip-bytes"))
	}))
	defer srv.Close()

	e := absentEntry(t, "aa")
	e.Item.URL = srv.URL + "/aa.zip"

	f := New(Config{MaxAttempts: 3, BackoffBase: time.Millisecond})
	oc := f.Fetch(context.Background(), e)

	if oc.State != StateSucceeded {
		t.Fatalf("State = %s (err=%v), want %s", oc.State, oc.Err, StateSucceeded)
	}
	if oc.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", oc.Attempts)
	}
	if oc.Bytes != int64(len("zip-bytes")) {
		t.Errorf("Bytes = %d, want %d", oc.Bytes, len("zip-bytes"))
	}

	got, err := os.ReadFile(e.Path)
	if err != nil {
		t.Fatalf("target file not written: %v", err)
	}
	if string(got) != "zip-bytes" {
		t.Errorf("file contents = %q", got)
	}
	if _, err := os.Stat(e.Path + ".part"); !errors.Is(err, os.ErrNotExist) {
		t.Error("part file left behind after success")
	}
}

func TestFetchSkipsPresentValid(t *testing.T) {
	var calls int32
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return response(req, http.StatusOK, "x"), nil
	})

	e := absentEntry(t, "aa")
	e.Status = plan.StatusPresentValid

	oc := testFetcher(rt, 3).Fetch(context.Background(), e)

	if oc.State != StateSkipped {
		t.Fatalf("State = %s, want %s", oc.State, StateSkipped)
	}
	if oc.Attempts != 0 {
		t.Errorf("Attempts = %d, want 0", oc.Attempts)
	}
	if n := atomic.LoadInt32(&calls); n != 0 {
		t.Errorf("skip made %d network calls, want 0", n)
	}
}

func TestFetchRedownloadsPresentInvalid(t *testing.T) {
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return response(req, http.StatusOK, "fresh-data"), nil
	})

	e := absentEntry(t, "aa")
	if err := os.WriteFile(e.Path, nil, 0644); err != nil {
		t.Fatal(err)
	}
	e.Status = plan.StatusPresentInvalid

	oc := testFetcher(rt, 3).Fetch(context.Background(), e)

	if oc.State != StateSucceeded {
		t.Fatalf("State = %s (err=%v), want %s", oc.State, oc.Err, StateSucceeded)
	}
	got, err := os.ReadFile(e.Path)
	if err != nil || string(got) != "fresh-data" {
		t.Errorf("file contents = %q, err = %v", got, err)
	}
}

func TestFetchRetriesThenSucceeds(t *testing.T) {
	var calls int32
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			return nil, errors.New("connection reset")
		}
		return response(req, http.StatusOK, "eventually"), nil
	})

	oc := testFetcher(rt, 3).Fetch(context.Background(), absentEntry(t, "aa"))

	if oc.State != StateSucceeded {
		t.Fatalf("State = %s (err=%v), want %s", oc.State, oc.Err, StateSucceeded)
	}
	if oc.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", oc.Attempts)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("network calls = %d, want 3", n)
	}
}

func TestFetchNotFoundIsTerminal(t *testing.T) {
	for _, code := range []int{http.StatusNotFound, http.StatusGone} {
		t.Run(fmt.Sprint(code), func(t *testing.T) {
			var calls int32
			rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
				atomic.AddInt32(&calls, 1)
				return response(req, code, "missing"), nil
			})

			e := absentEntry(t, "aa")
			oc := testFetcher(rt, 3).Fetch(context.Background(), e)

			if oc.State != StateFailed || oc.Reason != ReasonNotFound {
				t.Fatalf("Outcome = %s/%s, want failed/%s", oc.State, oc.Reason, ReasonNotFound)
			}
			if oc.Attempts != 1 {
				t.Errorf("Attempts = %d, want 1 (no retry on %d)", oc.Attempts, code)
			}
			if n := atomic.LoadInt32(&calls); n != 1 {
				t.Errorf("network calls = %d, want 1", n)
			}
			if _, err := os.Stat(e.Path); !errors.Is(err, os.ErrNotExist) {
				t.Error("target file exists after terminal failure")
			}
		})
	}
}

func TestFetchExhaustsRetries(t *testing.T) {
	var calls int32
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return response(req, http.StatusServiceUnavailable, "busy"), nil
	})

	oc := testFetcher(rt, 3).Fetch(context.Background(), absentEntry(t, "aa"))

	if oc.State != StateFailed || oc.Reason != ReasonNetworkError {
		t.Fatalf("Outcome = %s/%s, want failed/%s", oc.State, oc.Reason, ReasonNetworkError)
	}
	if oc.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", oc.Attempts)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("network calls = %d, want 3", n)
	}
	if oc.Err == nil {
		t.Error("Err not set on failure")
	}
}

func TestFetchShortBodyRetries(t *testing.T) {
	var calls int32
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		rsp := response(req, http.StatusOK, "short")
		rsp.ContentLength = 1000
		return rsp, nil
	})

	e := absentEntry(t, "aa")
	oc := testFetcher(rt, 2).Fetch(context.Background(), e)

	if oc.State != StateFailed || oc.Reason != ReasonNetworkError {
		t.Fatalf("Outcome = %s/%s, want failed/%s", oc.State, oc.Reason, ReasonNetworkError)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("network calls = %d, want 2", n)
	}

	// Neither a final file nor a part file may survive a truncated body.
	if _, err := os.Stat(e.Path); !errors.Is(err, os.ErrNotExist) {
		t.Error("target file exists after truncated download")
	}
	if _, err := os.Stat(e.Path + ".part"); !errors.Is(err, os.ErrNotExist) {
		t.Error("part file left behind after truncated download")
	}
}

func TestFetchCancelledDuringBackoff(t *testing.T) {
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})

	f := New(Config{
		MaxAttempts: 3,
		BackoffBase: 10 * time.Second, // cancellation must cut this short
		Client:      &http.Client{Transport: rt},
	})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	oc := f.Fetch(ctx, absentEntry(t, "aa"))
	elapsed := time.Since(start)

	if oc.State != StateFailed || oc.Reason != ReasonCancelled {
		t.Fatalf("Outcome = %s/%s, want failed/%s", oc.State, oc.Reason, ReasonCancelled)
	}
	if elapsed > 2*time.Second {
		t.Errorf("cancellation took %v, backoff sleep was not interrupted", elapsed)
	}
}

type blockedBody struct {
	unblock chan struct{}
}

func (b *blockedBody) Read(p []byte) (int, error) {
	<-b.unblock
	return 0, io.EOF
}

func (b *blockedBody) Close() error {
	return nil
}

func TestFetchCancelledMidTransfer(t *testing.T) {
	body := &blockedBody{unblock: make(chan struct{})}
	defer close(body.unblock)

	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode:    http.StatusOK,
			Status:        "200 OK",
			Body:          body,
			ContentLength: -1,
			Header:        make(http.Header),
			Request:       req,
		}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	e := absentEntry(t, "aa")
	oc := testFetcher(rt, 3).Fetch(ctx, e)

	if oc.State != StateFailed || oc.Reason != ReasonCancelled {
		t.Fatalf("Outcome = %s/%s, want failed/%s", oc.State, oc.Reason, ReasonCancelled)
	}
	if oc.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", oc.Attempts)
	}
	if _, err := os.Stat(e.Path); !errors.Is(err, os.ErrNotExist) {
		t.Error("target file exists after cancelled transfer")
	}
	if _, err := os.Stat(e.Path + ".part"); !errors.Is(err, os.ErrNotExist) {
		t.Error("part file left behind after cancelled transfer")
	}
}

func TestFetchSetsUserAgent(t *testing.T) {
	var gotUA atomic.Value
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		gotUA.Store(req.Header.Get("User-Agent"))
		return response(req, http.StatusOK, "x"), nil
	})

	f := New(Config{
		UserAgent:   "bsdl-test/1.0",
		BackoffBase: time.Millisecond,
		Client:      &http.Client{Transport: rt},
	})
	oc := f.Fetch(context.Background(), absentEntry(t, "aa"))

	if oc.State != StateSucceeded {
		t.Fatalf("State = %s (err=%v)", oc.State, oc.Err)
	}
	if ua, _ := gotUA.Load().(string); ua != "bsdl-test/1.0" {
		t.Errorf("User-Agent = %q, want bsdl-test/1.0", ua)
	}
}

func TestFetchDiskFailureIsInternal(t *testing.T) {
	var calls int32
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return response(req, http.StatusOK, "x"), nil
	})

	e := absentEntry(t, "aa")
	e.Path = filepath.Join(filepath.Dir(e.Path), "no-such-dir", "aa.zip")

	oc := testFetcher(rt, 3).Fetch(context.Background(), e)

	if oc.State != StateFailed || oc.Reason != ReasonInternal {
		t.Fatalf("Outcome = %s/%s, want failed/%s", oc.State, oc.Reason, ReasonInternal)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("network calls = %d, want 1 (no retry on disk failure)", n)
	}
}
