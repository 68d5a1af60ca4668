package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

// ── Stubs ────────────────────────────────────────────────────────────────

type stubLister struct {
	base  string
	paths []string
	err   error
}

func (s *stubLister) List(_ context.Context) ([]string, error) {
	return s.paths, s.err
}

func (s *stubLister) PublicURL(addr string) (string, error) {
	if !strings.HasPrefix(addr, "/1/") {
		return "", errors.New("not a cite path")
	}
	return s.base + "/expose" + strings.TrimPrefix(addr, "/1"), nil
}

const post = "/1/chan/chat/~zod/general/msg/170"

// ── Tests ────────────────────────────────────────────────────────────────

func TestProbe_success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	checker := New(nil, Config{ProbeTimeout: 5 * time.Second}, zap.NewNop())
	status, err := checker.probe(context.Background(), srv.URL)
	if err != nil || status != http.StatusOK {
		t.Errorf("expected 200, got %d (%v)", status, err)
	}
}

func TestProbe_headRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	checker := New(nil, Config{ProbeTimeout: 5 * time.Second}, zap.NewNop())
	status, _ := checker.probe(context.Background(), srv.URL)
	if status != http.StatusOK {
		t.Errorf("expected GET fallback to succeed, got %d", status)
	}
}

func TestCheckAll_results(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/170") {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	lister := &stubLister{base: srv.URL, paths: []string{
		"/1/chan/heap/~zod/links/curio/9",
		post,
		"garbage",
	}}
	var probes atomic.Int32
	checker := New(lister, Config{ProbeTimeout: 5 * time.Second}, zap.NewNop())
	checker.SetMetricsRecord(func(bool) { probes.Add(1) })

	results, err := checker.CheckAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if probes.Load() != 3 {
		t.Errorf("expected 3 metric records, got %d", probes.Load())
	}

	// Sorted by path.
	if results[0].Path != post || !results[0].OK {
		t.Errorf("expected %s reachable, got %+v", post, results[0])
	}
	if results[0].URL != srv.URL+"/expose/chan/chat/~zod/general/msg/170" {
		t.Errorf("unexpected url %q", results[0].URL)
	}
	if results[1].OK || results[1].Status != http.StatusNotFound {
		t.Errorf("expected heap post unreachable with 404, got %+v", results[1])
	}
	if results[2].Path != "garbage" || results[2].OK || results[2].Error == "" {
		t.Errorf("expected url error for garbage path, got %+v", results[2])
	}
}

func TestCheckAll_listError(t *testing.T) {
	checker := New(&stubLister{err: errors.New("unauthorized")}, Config{}, zap.NewNop())
	if _, err := checker.CheckAll(context.Background()); err == nil {
		t.Error("expected list error")
	}
}

func TestCheckAll_degradesAfterThreshold(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	lister := &stubLister{base: srv.URL, paths: []string{post}}
	checker := New(lister, Config{
		ProbeTimeout:  5 * time.Second,
		FailThreshold: 3,
	}, zap.NewNop())

	var degraded []int
	checker.SetDegraded(func(_ context.Context, r Result, n int) {
		degraded = append(degraded, n)
	})

	// Run 4 times; the callback fires only when the threshold is reached.
	for i := 0; i < 4; i++ {
		if _, err := checker.CheckAll(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	if len(degraded) != 1 || degraded[0] != 3 {
		t.Errorf("expected one degraded call at 3, got %v", degraded)
	}
	if checker.FailCount(post) != 4 {
		t.Errorf("expected fail count 4, got %d", checker.FailCount(post))
	}
}

func TestCheckAll_recoversOnSuccess(t *testing.T) {
	var failCount atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if failCount.Load() < 3 {
			failCount.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	lister := &stubLister{base: srv.URL, paths: []string{post}}
	checker := New(lister, Config{
		ProbeTimeout:  5 * time.Second,
		FailThreshold: 3,
	}, zap.NewNop())

	var recovered []string
	checker.SetRecovered(func(_ context.Context, r Result) {
		recovered = append(recovered, r.Path)
	})

	// Fail 3 times, then succeed.
	for i := 0; i < 4; i++ {
		if _, err := checker.CheckAll(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	if len(recovered) != 1 || recovered[0] != post {
		t.Errorf("expected one recovery for %s, got %v", post, recovered)
	}

	if checker.FailCount(post) != 0 {
		t.Errorf("expected fail count reset after recovery, got %d", checker.FailCount(post))
	}
}

func TestNew_nonPositiveSettingsUseDefaults(t *testing.T) {
	checker := New(nil, Config{
		CheckInterval: -time.Second,
		ProbeTimeout:  -1,
		FailThreshold: -2,
		Concurrency:   -3,
	}, zap.NewNop())

	want := Config{CheckInterval: 5 * time.Minute, ProbeTimeout: 10 * time.Second, FailThreshold: 3, Concurrency: 10}
	if checker.cfg != want {
		t.Errorf("expected defaults %+v, got %+v", want, checker.cfg)
	}

	// Start must not panic on the ticker.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.lister = &stubLister{}
	checker.Start(ctx)
}

func TestStart_stopsOnCancel(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	lister := &stubLister{base: srv.URL, paths: []string{post}}
	checker := New(lister, Config{CheckInterval: time.Hour}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
	if calls.Load() == 0 {
		t.Error("expected an immediate first check")
	}
}
