// Package scanner discovers the class-bearing modules to register, without
// the caller knowing which execution environment it runs under: a source
// tree in development, a packaged archive or directory layout in frozen
// images, or an explicit list when scanning is disabled.
//
// The scanner deduplicates by canonical module id, scope-limits the scan via
// prefix allow/deny lists so only user code is considered, and never fails on
// an individual unloadable module — failures are recorded per module and the
// scan continues. It runs once, synchronously, at boot; never during request
// handling.
package scanner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Status classifies one module's scan outcome.
type Status string

const (
	StatusImported      Status = "imported"
	StatusAlreadyLoaded Status = "already-loaded"
	StatusFailed        Status = "failed"
)

// Result records one module's scan outcome.
type Result struct {
	ModuleID    string
	Environment Environment
	Status      Status
	Err         error
}

// Stats aggregates a scan for the observability collaborator. Resolution
// logic never consumes it.
type Stats struct {
	Environment   Environment
	Imported      int
	AlreadyLoaded int
	Failed        int
	Excluded      int
	Duration      time.Duration
}

// ScanFailureError reports one module that failed to load during scanning.
type ScanFailureError struct {
	ModuleID string
	Err      error
}

func (e *ScanFailureError) Error() string {
	return fmt.Sprintf("scan: module %s failed to load: %v", e.ModuleID, e.Err)
}

func (e *ScanFailureError) Unwrap() error { return e.Err }

// Loader loads a discovered module by id. The scanner consumes only this
// interface; what loading means belongs to the embedder (typically a
// ModuleTable of setup functions).
type Loader interface {
	Load(id string) error
	IsLoaded(id string) bool
}

// ── ModuleTable ───────────────────────────────────────────────────────────────

// ModuleTable is an owned table of module setup functions — the explicit
// replacement for registration dictionaries living in ambient global state.
// The embedder adds one setup per module id; Load runs it once.
type ModuleTable struct {
	setups map[string]func() error
	loaded map[string]bool
}

// NewModuleTable creates an empty table.
func NewModuleTable() *ModuleTable {
	return &ModuleTable{
		setups: make(map[string]func() error),
		loaded: make(map[string]bool),
	}
}

// Add registers the setup function for a module id.
func (t *ModuleTable) Add(id string, setup func() error) {
	t.setups[id] = setup
}

// Load runs the module's setup once. An id with no setup is a load failure.
func (t *ModuleTable) Load(id string) error {
	if t.loaded[id] {
		return nil
	}
	setup, ok := t.setups[id]
	if !ok {
		return fmt.Errorf("no setup registered for module %q", id)
	}
	if err := setup(); err != nil {
		return err
	}
	t.loaded[id] = true
	return nil
}

// IsLoaded reports whether the module's setup already ran.
func (t *ModuleTable) IsLoaded(id string) bool { return t.loaded[id] }

// IDs returns every registered module id.
func (t *ModuleTable) IDs() []string {
	out := make([]string, 0, len(t.setups))
	for id := range t.setups {
		out = append(out, id)
	}
	return out
}

// ── Scanner ───────────────────────────────────────────────────────────────────

// Options configure a scan.
type Options struct {
	// AutoScan enables environment probing and traversal. When false the
	// Explicit list is consumed as-is — the zero-cost path.
	AutoScan bool

	// Explicit module ids, used when AutoScan is false.
	Explicit []string

	// UserPackages allow-lists module id prefixes. Empty allows everything.
	UserPackages []string

	// ExcludePackages deny-lists module id prefixes. Applied after the
	// allow-list.
	ExcludePackages []string

	// Source overrides environment detection. Nil probes via Detect.
	Source Source

	// Probing hints for Detect.
	ArchivePath string
	FrozenDir   string
	DevRoot     string
}

// Scanner locates user modules and drives their loading.
type Scanner struct {
	opts   Options
	loader Loader
	logger *zap.Logger

	results []Result
	stats   Stats
}

// New creates a scanner over the given loader.
func New(loader Loader, logger *zap.Logger, opts Options) *Scanner {
	return &Scanner{opts: opts, loader: loader, logger: logger}
}

// Scan discovers candidates, filters and deduplicates them, and loads each
// one. Individual load failures are recorded as failed results and the scan
// continues; only a broken source itself (unreadable archive, unwalkable
// tree) fails the scan. ctx cancellation stops between modules.
func (s *Scanner) Scan(ctx context.Context) (Stats, error) {
	start := time.Now()

	source := s.opts.Source
	if source == nil {
		if s.opts.AutoScan {
			source = Detect(s.opts.ArchivePath, s.opts.FrozenDir, s.opts.DevRoot)
		} else {
			source = ExplicitListSource{IDs: s.opts.Explicit}
		}
	}

	s.results = nil
	s.stats = Stats{Environment: source.Environment()}

	candidates, err := source.Modules()
	if err != nil {
		s.stats.Duration = time.Since(start)
		return s.stats, err
	}

	seen := make(map[string]bool, len(candidates))
	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			s.stats.Duration = time.Since(start)
			return s.stats, err
		}
		if seen[cand.ID] {
			continue
		}
		seen[cand.ID] = true

		if !s.included(cand.ID) {
			s.stats.Excluded++
			continue
		}
		s.load(source.Environment(), cand)
	}

	s.stats.Duration = time.Since(start)
	s.logger.Info("module scan complete",
		zap.String("environment", string(s.stats.Environment)),
		zap.Int("imported", s.stats.Imported),
		zap.Int("already_loaded", s.stats.AlreadyLoaded),
		zap.Int("failed", s.stats.Failed),
		zap.Int("excluded", s.stats.Excluded),
		zap.Duration("duration", s.stats.Duration))
	return s.stats, nil
}

func (s *Scanner) load(env Environment, cand Candidate) {
	if cand.AlreadyLoaded || s.loader.IsLoaded(cand.ID) {
		s.results = append(s.results, Result{ModuleID: cand.ID, Environment: env, Status: StatusAlreadyLoaded})
		s.stats.AlreadyLoaded++
		return
	}
	if err := s.loader.Load(cand.ID); err != nil {
		ferr := &ScanFailureError{ModuleID: cand.ID, Err: err}
		s.results = append(s.results, Result{ModuleID: cand.ID, Environment: env, Status: StatusFailed, Err: ferr})
		s.stats.Failed++
		s.logger.Warn("module load failed", zap.String("module", cand.ID), zap.Error(err))
		return
	}
	s.results = append(s.results, Result{ModuleID: cand.ID, Environment: env, Status: StatusImported})
	s.stats.Imported++
}

// included applies the allow/deny prefix filters.
func (s *Scanner) included(id string) bool {
	if len(s.opts.UserPackages) > 0 {
		allowed := false
		for _, prefix := range s.opts.UserPackages {
			if hasPathPrefix(id, prefix) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}
	for _, prefix := range s.opts.ExcludePackages {
		if hasPathPrefix(id, prefix) {
			return false
		}
	}
	return true
}

func hasPathPrefix(id, prefix string) bool {
	return id == prefix || strings.HasPrefix(id, prefix+"/")
}

// Results returns the per-module outcomes of the last scan.
func (s *Scanner) Results() []Result {
	out := make([]Result, len(s.results))
	copy(out, s.results)
	return out
}

// Stats returns the aggregate of the last scan.
func (s *Scanner) Stats() Stats { return s.stats }

// Failures returns the scan failures of the last scan, for the strict
// startup policy to surface.
func (s *Scanner) Failures() []error {
	var errs []error
	for _, r := range s.results {
		if r.Status == StatusFailed {
			errs = append(errs, r.Err)
		}
	}
	return errs
}
