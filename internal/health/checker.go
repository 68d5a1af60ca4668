// Package health probes the public URLs of exposed posts and tracks which
// ones have stopped being served.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
	Concurrency   int
}

// Lister returns the posts to probe and where they are served.
// *expose.Service satisfies it.
type Lister interface {
	List(ctx context.Context) ([]string, error)
	PublicURL(addr string) (string, error)
}

// Result is the outcome of probing one exposed post.
type Result struct {
	Path   string `json:"path"`
	URL    string `json:"url,omitempty"`
	Status int    `json:"status,omitempty"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

// DegradedFunc is called once when a post crosses the failure threshold.
type DegradedFunc func(ctx context.Context, r Result, failCount int)

// RecoveredFunc is called when a degraded post is reachable again.
type RecoveredFunc func(ctx context.Context, r Result)

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(success bool)

// Checker probes exposed posts.
type Checker struct {
	lister      Lister
	httpClient  *http.Client
	failCounts  map[string]int
	mu          sync.Mutex
	cfg         Config
	onDegraded  DegradedFunc
	onRecovered RecoveredFunc
	onMetrics   MetricsRecordFunc
	logger      *zap.Logger
}

// New creates a new Checker. Zero or negative settings take their defaults.
func New(lister Lister, cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 5 * time.Minute
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if cfg.FailThreshold <= 0 {
		cfg.FailThreshold = 3
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}

	return &Checker{
		lister:     lister,
		httpClient: &http.Client{Timeout: cfg.ProbeTimeout},
		failCounts: make(map[string]int),
		cfg:        cfg,
		logger:     logger,
	}
}

// SetHTTPClient replaces the client used for probes.
func (h *Checker) SetHTTPClient(c *http.Client) {
	h.httpClient = c
}

// SetDegraded configures the degraded callback.
func (h *Checker) SetDegraded(fn DegradedFunc) {
	h.onDegraded = fn
}

// SetRecovered configures the recovered callback.
func (h *Checker) SetRecovered(fn RecoveredFunc) {
	h.onRecovered = fn
}

// SetMetricsRecord configures the metrics recording callback.
func (h *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	h.onMetrics = fn
}

// Start runs CheckAll every CheckInterval until ctx is cancelled.
func (h *Checker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		if _, err := h.runOnce(ctx); err != nil && ctx.Err() == nil {
			h.logger.Error("health: list exposed", zap.Error(err))
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (h *Checker) runOnce(ctx context.Context) ([]Result, error) {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.CheckInterval)
	defer cancel()
	return h.CheckAll(ctx)
}

// CheckAll probes every exposed post with bounded concurrency and returns
// the results sorted by path.
func (h *Checker) CheckAll(ctx context.Context) ([]Result, error) {
	paths, err := h.lister.List(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(paths))
	sem := make(chan struct{}, h.cfg.Concurrency)
	var wg sync.WaitGroup

	for i, p := range paths {
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			r := h.check(ctx, path)
			results[i] = r

			if h.onMetrics != nil {
				h.onMetrics(r.OK)
			}
			h.track(ctx, r)
		}(i, p)
	}

	wg.Wait()
	sort.Slice(results, func(i, j int) bool { return results[i].Path < results[j].Path })
	return results, nil
}

func (h *Checker) check(ctx context.Context, path string) Result {
	r := Result{Path: path}
	u, err := h.lister.PublicURL(path)
	if err != nil {
		r.Error = err.Error()
		return r
	}
	r.URL = u
	r.Status, err = h.probe(ctx, u)
	if err != nil {
		r.Error = err.Error()
		return r
	}
	r.OK = r.Status >= 200 && r.Status < 300
	return r
}

func (h *Checker) track(ctx context.Context, r Result) {
	h.mu.Lock()
	prevCount := h.failCounts[r.Path]
	if r.OK {
		delete(h.failCounts, r.Path)
	} else {
		h.failCounts[r.Path]++
	}
	count := h.failCounts[r.Path]
	h.mu.Unlock()

	switch {
	case r.OK && prevCount >= h.cfg.FailThreshold:
		h.logger.Info("health: recovered", zap.String("path", r.Path))
		if h.onRecovered != nil {
			h.onRecovered(ctx, r)
		}
	case !r.OK && count == h.cfg.FailThreshold:
		// Exactly at the threshold so the callback fires once per outage.
		h.logger.Warn("health: unreachable",
			zap.String("path", r.Path),
			zap.String("url", r.URL),
			zap.Int("fail_count", count),
		)
		if h.onDegraded != nil {
			h.onDegraded(ctx, r, count)
		}
	}
}

// FailCount returns the number of consecutive failed probes for path.
func (h *Checker) FailCount(path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failCounts[path]
}

// probe attempts HEAD then GET and returns the last status seen.
func (h *Checker) probe(ctx context.Context, endpoint string) (int, error) {
	status := 0
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, endpoint, nil)
	if err != nil {
		return 0, err
	}
	resp, err := h.httpClient.Do(req)
	if err == nil {
		resp.Body.Close()
		status = resp.StatusCode
		if status >= 200 && status < 300 {
			return status, nil
		}
	}

	// Some front ends reject HEAD.
	req, err = http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return status, err
	}
	resp, err = h.httpClient.Do(req)
	if err != nil {
		return status, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}
