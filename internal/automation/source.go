package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/beacon/internal/cache"
)

// ProcessCatalog is the remote source of automation rules.
type ProcessCatalog interface {
	GetProcesses(ctx context.Context) ([]StateTriggerProcess, error)
}

// Mirror persists the last good catalog. *SQLiteMirror satisfies it.
type Mirror interface {
	Save(ctx context.Context, processes []StateTriggerProcess) error
	Load(ctx context.Context) ([]StateTriggerProcess, error)
}

// ProcessSource serves the process catalog from a single-flight cache.
//
// A successful fetch is written through to the mirror. When the catalog is
// unreachable the mirror is served instead, so automation continues on the
// last known rules.
type ProcessSource struct {
	catalog   ProcessCatalog
	mirror    Mirror
	processes *cache.Collection[StateTriggerProcess]
	logger    Logger
}

// NewProcessSource creates a source. mirror and logger may be nil.
func NewProcessSource(catalog ProcessCatalog, mirror Mirror, logger Logger) *ProcessSource {
	if logger == nil {
		logger = noopLogger{}
	}
	s := &ProcessSource{catalog: catalog, mirror: mirror, logger: logger}
	s.processes = cache.NewCollection("processes", s.fetch)
	return s
}

// Processes returns the cached catalog, fetching it on a miss.
func (s *ProcessSource) Processes(ctx context.Context) ([]StateTriggerProcess, error) {
	return s.processes.GetOrFetch(ctx)
}

// Invalidate forces the next Processes call to refetch.
func (s *ProcessSource) Invalidate() {
	s.processes.Invalidate()
}

// FetchedAt returns when the cache was last filled.
func (s *ProcessSource) FetchedAt() time.Time {
	return s.processes.FetchedAt()
}

// Refresh refetches the catalog now and replaces the cache on success. On
// failure the cache is left untouched.
func (s *ProcessSource) Refresh(ctx context.Context) (int, error) {
	processes, err := s.catalog.GetProcesses(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetching processes: %w", err)
	}
	s.processes.Set(processes)
	s.saveMirror(ctx, processes)
	return len(processes), nil
}

func (s *ProcessSource) fetch(ctx context.Context) ([]StateTriggerProcess, error) {
	processes, err := s.catalog.GetProcesses(ctx)
	if err == nil {
		s.saveMirror(ctx, processes)
		return processes, nil
	}
	if s.mirror == nil {
		return nil, fmt.Errorf("fetching processes: %w", err)
	}

	mirrored, mirrorErr := s.mirror.Load(ctx)
	if mirrorErr != nil {
		return nil, fmt.Errorf("fetching processes: %w (mirror: %v)", err, mirrorErr)
	}
	s.logger.Warn("process catalog unreachable, using mirror", "error", err, "processes", len(mirrored))
	return mirrored, nil
}

func (s *ProcessSource) saveMirror(ctx context.Context, processes []StateTriggerProcess) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.Save(ctx, processes); err != nil {
		s.logger.Warn("saving process mirror failed", "error", err)
	}
}
