package core

import (
	"os"
	"sync"
	"time"
)

// Recorder receives engine outcomes for metrics. All methods must be safe
// for concurrent use.
type Recorder interface {
	RecordsIngested(kind string, n int)
	ComparisonServed(strategy string)
	SelectionChanged(n int64)
	MigrationFinished(migrated, skipped int)
	ExportFinished(err error)
}

type nopRecorder struct{}

func (nopRecorder) RecordsIngested(string, int) {}
func (nopRecorder) ComparisonServed(string) {}
func (nopRecorder) SelectionChanged(int64) {}
func (nopRecorder) MigrationFinished(int, int) {}
func (nopRecorder) ExportFinished(error) {}

// Options configures a Service. Zero values select defaults.
type Options struct {
	// TempDir receives transient export files (default os.TempDir()).
	TempDir string

	// Location formats exported timestamps (default time.Local).
	Location *time.Location

	// Limiter bounds concurrent workbook parsing and rendering.
	Limiter *FileLimiter

	Recorder Recorder

	// Now overrides the clock used for export file names.
	Now func() time.Time
}

// Service provides the migration engine operations over a Store.
type Service struct {
	store    Store
	tempDir  string
	loc      *time.Location
	limiter  *FileLimiter
	recorder Recorder
	now      func() time.Time

	mu      sync.Mutex
	running map[int64]struct{} // sessions with an execution in flight
}

// NewService creates a Service backed by store.
func NewService(store Store, opts Options) *Service {
	s := &Service{
		store:    store,
		tempDir:  opts.TempDir,
		loc:      opts.Location,
		limiter:  opts.Limiter,
		recorder: opts.Recorder,
		now:      opts.Now,
		running:  make(map[int64]struct{}),
	}
	if s.tempDir == "" {
		s.tempDir = os.TempDir()
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.limiter == nil {
		s.limiter = NewFileLimiter(DefaultMaxConcurrentFiles, DefaultMaxWaitTime)
	}
	if s.recorder == nil {
		s.recorder = nopRecorder{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Limiter exposes the file limiter so the server can drain it on shutdown.
func (s *Service) Limiter() *FileLimiter {
	return s.limiter
}
