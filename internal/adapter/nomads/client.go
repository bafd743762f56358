package nomads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/gfs-ingest-service/internal/domain"
	"github.com/couchcryptid/gfs-ingest-service/internal/observability"
	"github.com/jonboulle/clockwork"
)

// Retrieval modes.
const (
	ModeBulk     = "bulk"
	ModeFiltered = "filtered"
)

// minPayload is the smallest body accepted as a GRIB2 file. NOMADS answers
// some missing files with a short text body and a 200.
const minPayload = 1024

// Config configures the NOMADS client.
type Config struct {
	Mode              string
	BaseURLs          []string // bulk mirrors, tried in order
	FilterURL         string
	Levels            []string
	Variables         []string
	Region            domain.Region
	FetchTimeout      time.Duration
	ProbeTimeout      time.Duration
	RetryAfterDefault time.Duration
}

// Client fetches GFS 0.25° GRIB2 files from NOMADS and probes for their
// availability. It implements scheduler.Fetcher and scheduler.Prober.
type Client struct {
	httpClient *http.Client
	cfg        Config
	clock      clockwork.Clock
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a NOMADS client. transport is normally a rate limited
// ratelimit.Transport so every request shares the upstream budget.
func NewClient(cfg Config, transport http.RoundTripper, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *Client {
	if cfg.Mode == "" {
		cfg.Mode = ModeBulk
	}
	if cfg.RetryAfterDefault <= 0 {
		cfg.RetryAfterDefault = 60 * time.Second
	}
	return &Client{
		// Timeouts are applied per request: fetches and probes differ.
		httpClient: &http.Client{Transport: transport},
		cfg:        cfg,
		clock:      clock,
		metrics:    metrics,
		logger:     logger,
	}
}

// Fetch downloads the artifact for job. In filtered mode a not-found answer
// from the filter endpoint falls back to the bulk mirrors. A file missing on
// every mirror is domain.ErrNotPublished.
func (c *Client) Fetch(ctx context.Context, job domain.Job) (domain.Artifact, error) {
	if c.cfg.Mode == ModeFiltered {
		u := c.filterURL(job)
		data, err := c.get(ctx, u)
		if err == nil {
			return domain.Artifact{Job: job, Data: data, Source: u}, nil
		}
		if !errors.Is(err, domain.ErrNotPublished) || ctx.Err() != nil {
			return domain.Artifact{}, err
		}
		c.logger.Debug("filtered file not found, trying bulk mirrors", "job", job.String(), "error", err)
	}

	var lastErr error
	for _, base := range c.cfg.BaseURLs {
		u := base + bulkPath(job.RunTime, job.Offset)
		data, err := c.get(ctx, u)
		if err == nil {
			return domain.Artifact{Job: job, Data: data, Source: u}, nil
		}
		if _, ok := domain.RetryAfter(err); ok || ctx.Err() != nil {
			return domain.Artifact{}, err
		}
		if !errors.Is(err, domain.ErrNotPublished) {
			lastErr = err
		}
		c.logger.Debug("mirror miss", "job", job.String(), "url", u, "error", err)
	}
	if lastErr != nil {
		return domain.Artifact{}, lastErr
	}
	return domain.Artifact{}, domain.ErrNotPublished
}

// Available reports whether the .idx companion of the offset's file exists
// on any mirror.
func (c *Client) Available(ctx context.Context, run time.Time, offset int) (bool, error) {
	var lastErr error
	for _, base := range c.cfg.BaseURLs {
		ok, err := c.head(ctx, base+bulkPath(run, offset)+".idx")
		if ok {
			return true, nil
		}
		if err == nil {
			continue
		}
		if _, rl := domain.RetryAfter(err); rl || ctx.Err() != nil {
			return false, err
		}
		lastErr = err
	}
	return false, lastErr
}

func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, domain.Permanent(fmt.Errorf("create request: %w", err))
	}

	start := c.clock.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe("fetch", "error", start)
		return nil, fmt.Errorf("fetch %s: %w", u, err)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		c.observe("fetch", outcomeOf(err), start)
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.observe("fetch", "error", start)
		return nil, fmt.Errorf("read %s: %w", u, err)
	}
	if len(data) < minPayload {
		c.observe("fetch", "not_found", start)
		return nil, fmt.Errorf("%w: %d byte body from %s", domain.ErrNotPublished, len(data), u)
	}
	c.observe("fetch", "ok", start)
	return data, nil
}

func (c *Client) head(ctx context.Context, u string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u, nil)
	if err != nil {
		return false, domain.Permanent(fmt.Errorf("create request: %w", err))
	}

	start := c.clock.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe("probe", "error", start)
		return false, fmt.Errorf("probe %s: %w", u, err)
	}
	resp.Body.Close()

	err = c.checkStatus(resp)
	c.observe("probe", outcomeOf(err), start)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, domain.ErrNotPublished):
		return false, nil
	default:
		return false, err
	}
}

// checkStatus maps an upstream response onto the error taxonomy.
func (c *Client) checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &domain.RateLimitedError{RetryAfter: c.retryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrNotPublished
	case resp.StatusCode == http.StatusBadRequest:
		return domain.Permanent(fmt.Errorf("nomads rejected request: status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("nomads error: status %d", resp.StatusCode)
	case isHTML(resp.Header.Get("Content-Type")):
		return fmt.Errorf("%w: html error page", domain.ErrNotPublished)
	}
	return nil
}

// retryAfter parses delta-seconds or an HTTP-date.
func (c *Client) retryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return c.cfg.RetryAfterDefault
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		return max(at.Sub(c.clock.Now()), 0)
	}
	return c.cfg.RetryAfterDefault
}

func (c *Client) observe(kind, outcome string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.UpstreamRequests.WithLabelValues(kind, outcome).Inc()
	c.metrics.UpstreamDuration.WithLabelValues(kind).Observe(c.clock.Since(start).Seconds())
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	if errors.Is(err, domain.ErrNotPublished) {
		return "not_found"
	}
	if _, ok := domain.RetryAfter(err); ok {
		return "rate_limited"
	}
	return "error"
}

func isHTML(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "text/html"
}

func fileName(run time.Time, offset int) string {
	return fmt.Sprintf("gfs.t%02dz.pgrb2.0p25.f%03d", run.UTC().Hour(), offset)
}

func runDir(run time.Time) string {
	run = run.UTC()
	return fmt.Sprintf("/gfs.%s/%02d/atmos", run.Format("20060102"), run.Hour())
}

// bulkPath is the file's path below a mirror's gfs/prod root.
func bulkPath(run time.Time, offset int) string {
	return runDir(run) + "/" + fileName(run, offset)
}

// filterURL builds a grib filter request for the configured subset and region.
func (c *Client) filterURL(job domain.Job) string {
	q := url.Values{}
	q.Set("file", fileName(job.RunTime, job.Offset))
	q.Set("dir", runDir(job.RunTime))
	for _, l := range c.cfg.Levels {
		q.Set("lev_"+l, "on")
	}
	for _, v := range c.cfg.Variables {
		q.Set("var_"+v, "on")
	}
	r := c.cfg.Region
	q.Set("subregion", "")
	q.Set("toplat", strconv.FormatFloat(r.LatMax, 'f', -1, 64))
	q.Set("bottomlat", strconv.FormatFloat(r.LatMin, 'f', -1, 64))
	q.Set("leftlon", strconv.FormatFloat(r.LonMin, 'f', -1, 64))
	q.Set("rightlon", strconv.FormatFloat(r.LonMax, 'f', -1, 64))
	return c.cfg.FilterURL + "?" + q.Encode()
}
