package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrRunActive is returned when a run start is requested while another
// run is still draining.
var ErrRunActive = errors.New("pipeline: a run is already active")

// Factory builds a fresh single-use Pipeline for each run.
type Factory func() (*Pipeline, error)

// RunInfo is the supervisor's view of one run, live or finished.
type RunInfo struct {
	ID         string    `json:"id"`
	State      State     `json:"state"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Stats      Stats     `json:"stats"`
	Error      string    `json:"error,omitempty"`
}

// Supervisor owns run lifecycles on behalf of the admin API: it starts
// runs in the background, serializes them (at most one active), and
// retains their outcomes for inspection.
type Supervisor struct {
	factory Factory
	base    context.Context
	logger  *zap.Logger

	mu     sync.Mutex
	runs   map[string]*RunInfo
	active *Pipeline
	wg     sync.WaitGroup
}

// NewSupervisor wires a supervisor over base, the process-lifetime
// context: runs outlive the HTTP request that triggered them but not
// the process.
func NewSupervisor(base context.Context, factory Factory, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		factory: factory,
		base:    base,
		logger:  logger.Named("supervisor"),
		runs:    make(map[string]*RunInfo),
	}
}

// Start launches a new run and returns its ID without waiting for it
// to finish. At most one run is active at a time.
func (s *Supervisor) Start() (string, error) {
	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		return "", ErrRunActive
	}
	p, err := s.factory()
	if err != nil {
		s.mu.Unlock()
		return "", err
	}
	id := p.RunID().String()
	info := &RunInfo{
		ID:        id,
		State:     StateSeeding,
		StartedAt: time.Now().UTC(),
	}
	s.runs[id] = info
	s.active = p
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		stats, runErr := p.Run(s.base)

		s.mu.Lock()
		defer s.mu.Unlock()
		info.State = stats.State
		info.Stats = stats
		info.FinishedAt = time.Now().UTC()
		if runErr != nil {
			info.Error = runErr.Error()
			s.logger.Error("run failed", zap.String("run_id", id), zap.Error(runErr))
		}
		s.active = nil
	}()

	return id, nil
}

// Run reports one run by ID. Active runs report live state and
// counters-so-far are not included until they finish.
func (s *Supervisor) Run(id string) (RunInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.runs[id]
	if !ok {
		return RunInfo{}, false
	}
	out := *info
	if s.active != nil && s.active.RunID().String() == id {
		out.State = s.active.State()
	}
	return out, true
}

// Runs lists known runs, newest first.
func (s *Supervisor) Runs() []RunInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RunInfo, 0, len(s.runs))
	for id, info := range s.runs {
		entry := *info
		if s.active != nil && s.active.RunID().String() == id {
			entry.State = s.active.State()
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// Wait blocks until every started run has finished. Used on shutdown
// after the base context is cancelled.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}
