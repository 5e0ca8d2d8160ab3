// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// DefaultProbeTimeout bounds a single source probe.
const DefaultProbeTimeout = 15 * time.Second

// maxIndexBytes caps how much index JSON a probe will read from one source.
const maxIndexBytes = 8 << 20

// ProbeResult is the outcome of one successful source probe.
type ProbeResult struct {
	Source  *SourceDescriptor
	Records []RemotePluginRecord
	Elapsed time.Duration
	// Version is the highest version advertised across the index; parse
	// inconsistencies degrade to 0.0.0, never fail the probe.
	Version *semver.Version
}

// SourceStatus summarizes one source's outcome for user-visible reporting.
type SourceStatus struct {
	Name    string
	Records int
	Err     error
}

func (s SourceStatus) String() string {
	switch {
	case s.Err != nil:
		return fmt.Sprintf("%s: error: %v", s.Name, s.Err)
	case s.Records == 0:
		return fmt.Sprintf("%s: empty index", s.Name)
	default:
		return fmt.Sprintf("%s: %d plugins", s.Name, s.Records)
	}
}

// SelectionResult is the winning source's catalog after a fetch race.
type SelectionResult struct {
	RunID    string
	Source   *SourceDescriptor
	Version  *semver.Version
	Elapsed  time.Duration
	Records  map[Category][]RemotePluginRecord
	ByID     map[string]RemotePluginRecord
	Statuses []SourceStatus
}

// Prober probes one remote catalog source over HTTP with a deadline.
type Prober struct {
	client  *http.Client
	timeout time.Duration
}

// NewProber creates a prober with the given per-probe timeout.
// A zero timeout uses DefaultProbeTimeout.
func NewProber(timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Prober{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// Probe issues one cache-busted GET against the source's index URL and
// returns the decoded records with timing. The probe blocks its own
// goroutine only; the caller races probes across sources.
func (p *Prober) Probe(ctx context.Context, src *SourceDescriptor) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	reqURL, err := cacheBust(src.IndexURL)
	if err != nil {
		return nil, oops.Code(codeFetchFailed).With("source", src.Name).Wrap(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, oops.Code(codeFetchFailed).With("source", src.Name).Wrap(err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, oops.Code(codeFetchFailed).With("source", src.Name).Wrap(err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Debug("error closing index response body", "source", src.Name, "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, oops.Code(codeFetchFailed).
			With("source", src.Name).
			Errorf("index request returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxIndexBytes))
	if err != nil {
		return nil, oops.Code(codeFetchFailed).With("source", src.Name).Wrap(err)
	}
	elapsed := time.Since(start)

	if err := ValidateIndex(body); err != nil {
		return nil, oops.Code(codeFetchFailed).With("source", src.Name).Wrap(err)
	}

	var records []RemotePluginRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, oops.Code(codeFetchFailed).With("source", src.Name).Wrap(err)
	}

	return &ProbeResult{
		Source:  src,
		Records: records,
		Elapsed: elapsed,
		Version: MaxIndexVersion(records),
	}, nil
}

// cacheBust appends a timestamp query parameter so intermediary caches
// cannot serve a stale index.
func cacheBust(indexURL string) (string, error) {
	u, err := url.Parse(indexURL)
	if err != nil {
		return "", fmt.Errorf("invalid index URL: %w", err)
	}
	q := u.Query()
	q.Set("ts", strconv.FormatInt(time.Now().UnixNano(), 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Fetcher races all configured sources concurrently and selects the best
// successful result. At most one fetch is in flight process-wide; a
// concurrent call observes ErrFetchInFlight and should treat it as a no-op.
type Fetcher struct {
	sources  []*SourceDescriptor
	prober   *Prober
	inFlight atomic.Bool
	entropy  *ulid.MonotonicEntropy
	mu       sync.Mutex // guards entropy
}

// NewFetcher creates a fetcher over the configured sources.
func NewFetcher(sources []*SourceDescriptor, prober *Prober) *Fetcher {
	return &Fetcher{
		sources: sources,
		prober:  prober,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0), //nolint:gosec // run IDs are not security-sensitive
	}
}

// Sources returns the configured source descriptors.
func (f *Fetcher) Sources() []*SourceDescriptor { return f.sources }

// FetchBest probes every source concurrently, waits for all probes, and
// selects the winner by highest reported version, then lowest elapsed time,
// then lowest priority number, with remaining ties broken by encounter
// order. Zero successes yields an error carrying the per-source summary.
func (f *Fetcher) FetchBest(ctx context.Context) (*SelectionResult, error) {
	if !f.inFlight.CompareAndSwap(false, true) {
		return nil, ErrFetchInFlight
	}
	defer f.inFlight.Store(false)

	runID := f.newRunID()
	if len(f.sources) == 0 {
		return nil, oops.Code(codeFetchFailed).With("run_id", runID).Errorf("no remote sources configured")
	}

	slog.Info("probing remote sources",
		"run_id", runID,
		"sources", len(f.sources))

	// One worker per source: the pool width equals the small, bounded
	// source count. The race waits for every probe; a slow source delays
	// the overall result but selection itself needs all outcomes anyway.
	results := make([]*ProbeResult, len(f.sources))
	errs := make([]error, len(f.sources))

	var wg sync.WaitGroup
	for i, src := range f.sources {
		wg.Add(1)
		go func(i int, src *SourceDescriptor) {
			defer wg.Done()
			start := time.Now()
			res, err := f.prober.Probe(ctx, src)
			if err != nil {
				errs[i] = err
				RecordFetch(src.Name, StatusError)
				slog.Warn("source probe failed",
					"run_id", runID,
					"source", src.Name,
					"error", err)
				return
			}
			results[i] = res
			RecordFetch(src.Name, StatusSuccess)
			RecordFetchDuration(src.Name, time.Since(start))
		}(i, src)
	}
	wg.Wait()

	statuses := make([]SourceStatus, len(f.sources))
	for i, src := range f.sources {
		statuses[i] = SourceStatus{Name: src.Name, Err: errs[i]}
		if results[i] != nil {
			statuses[i].Records = len(results[i].Records)
			src.LastSuccess = time.Now()
			if src.AvgResponseTime == 0 {
				src.AvgResponseTime = results[i].Elapsed
			} else {
				src.AvgResponseTime = (src.AvgResponseTime + results[i].Elapsed) / 2
			}
		}
	}

	best := selectBest(results)
	if best == nil {
		return nil, oops.Code(codeFetchFailed).
			With("run_id", runID).
			With("sources", statusSummary(statuses)).
			Errorf("all %d remote sources failed", len(f.sources))
	}

	slog.Info("selected remote source",
		"run_id", runID,
		"source", best.Source.Name,
		"version", best.Version.String(),
		"elapsed", best.Elapsed,
		"plugins", len(best.Records))

	sel := &SelectionResult{
		RunID:    runID,
		Source:   best.Source,
		Version:  best.Version,
		Elapsed:  best.Elapsed,
		Records:  partitionByCategory(best.Records),
		ByID:     make(map[string]RemotePluginRecord, len(best.Records)),
		Statuses: statuses,
	}
	for _, r := range best.Records {
		sel.ByID[r.ID] = r
	}
	return sel, nil
}

// selectBest applies the selection total order over successful probes:
// version descending, elapsed ascending, priority ascending, encounter
// order. The exact tie-break sequence is a contract pinned by tests.
func selectBest(results []*ProbeResult) *ProbeResult {
	var ok []*ProbeResult
	for _, r := range results {
		if r != nil {
			ok = append(ok, r)
		}
	}
	if len(ok) == 0 {
		return nil
	}
	sort.SliceStable(ok, func(i, j int) bool {
		if c := ok[i].Version.Compare(ok[j].Version); c != 0 {
			return c > 0
		}
		if ok[i].Elapsed != ok[j].Elapsed {
			return ok[i].Elapsed < ok[j].Elapsed
		}
		return ok[i].Source.Priority < ok[j].Source.Priority
	})
	return ok[0]
}

// partitionByCategory splits records into the merged view's remote side.
// Records without a recognized category land in add-ons rather than
// vanishing from the catalog.
func partitionByCategory(records []RemotePluginRecord) map[Category][]RemotePluginRecord {
	out := make(map[Category][]RemotePluginRecord, len(Categories))
	for _, r := range records {
		cat := r.Category
		if !ValidCategory(cat) {
			slog.Debug("remote record has unknown category, listing under add-ons",
				"plugin", r.ID,
				"category", string(cat))
			cat = CategoryAddOns
		}
		out[cat] = append(out[cat], r)
	}
	return out
}

func statusSummary(statuses []SourceStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = s.String()
	}
	return out
}

func (f *Fetcher) newRunID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), f.entropy).String()
}
