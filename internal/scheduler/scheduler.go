// Package scheduler owns the ingestion pipelines: cron-driven runs, manual
// triggers, freshness dedup, and market-hours gating.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/marketpulse/internal/domain"
	"github.com/jonesrussell/marketpulse/internal/logger"
	"github.com/jonesrussell/marketpulse/internal/metrics"
)

// ErrUnknownTask is returned when a manual trigger names a task that is not
// registered.
var ErrUnknownTask = errors.New("scheduler: unknown task")

// Run outcomes.
const (
	StatusCompleted    = "completed"
	StatusSkippedGate  = "skipped_gate"
	StatusSkippedFresh = "skipped_fresh"
	StatusFailed       = "failed"
)

const (
	markerPrefix = "ingest:"
	markerValue  = "1"
)

// Fetcher pulls fresh content from one upstream source.
type Fetcher interface {
	Fetch(ctx context.Context) ([]domain.ContentItem, error)
}

// Storer persists fetched items.
type Storer interface {
	Store(ctx context.Context, items []domain.ContentItem) error
}

// Gate decides whether a pipeline may run at a given time.
type Gate interface {
	Open(t time.Time) bool
}

// DedupCache tracks freshness markers. An unavailable cache reports every
// marker as absent, so pipelines degrade to running on every trigger rather
// than stalling.
type DedupCache interface {
	Exists(ctx context.Context, key string) bool
	Set(ctx context.Context, key, value string, ttl time.Duration) bool
}

// Pipeline binds one task to its schedule, freshness TTL, and fetcher. A nil
// Gate means the task is never gated.
type Pipeline struct {
	Name     string
	Schedule string
	TTL      time.Duration
	Fetcher  Fetcher
	Gate     Gate
}

// RunResult is the outcome of one pipeline run.
type RunResult struct {
	Task       string `json:"task"`
	Status     string `json:"status"`
	Items      int    `json:"items"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// RunReport aggregates the results of one manual trigger.
type RunReport struct {
	ID      string      `json:"run_id"`
	Results []RunResult `json:"results"`
}

// TaskStatus describes one registered pipeline for the admin surface. Active
// reports whether the pipeline's schedule is currently installed, which is
// false before Start and after Stop.
type TaskStatus struct {
	Task     string     `json:"task"`
	Schedule string     `json:"schedule"`
	Active   bool       `json:"active"`
	Gated    bool       `json:"gated"`
	TTL      string     `json:"ttl"`
	LastRun  *RunResult `json:"last_run,omitempty"`
}

// Scheduler coordinates the registered pipelines. Pipelines register before
// Start; Start wires them into the trigger and Stop unwires them, so a
// stopped scheduler can be started again with the same registrations.
type Scheduler struct {
	trigger Trigger
	store   Storer
	dedup   DedupCache
	metrics *metrics.Metrics
	log     logger.Logger

	mu        sync.Mutex
	pipelines []Pipeline
	byName    map[string]Pipeline
	entries   map[string]int
	lastRuns  map[string]RunResult
	runs      map[string]*RunHandle
	runOrder  []string
	started   bool
}

// New builds a scheduler around a single content store and dedup cache
// shared by every pipeline.
func New(trigger Trigger, store Storer, dedup DedupCache, m *metrics.Metrics, log logger.Logger) *Scheduler {
	return &Scheduler{
		trigger:  trigger,
		store:    store,
		dedup:    dedup,
		metrics:  m,
		log:      log,
		byName:   make(map[string]Pipeline),
		entries:  make(map[string]int),
		lastRuns: make(map[string]RunResult),
		runs:     make(map[string]*RunHandle),
	}
}

// Register adds a pipeline. Registration is rejected while the scheduler is
// running.
func (s *Scheduler) Register(p Pipeline) error {
	if p.Name == "" || p.Name == domain.TaskAll {
		return fmt.Errorf("scheduler: invalid task name %q", p.Name)
	}
	if p.Fetcher == nil {
		return fmt.Errorf("scheduler: task %q has no fetcher", p.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler: cannot register while running")
	}
	if _, dup := s.byName[p.Name]; dup {
		return fmt.Errorf("scheduler: duplicate task %q", p.Name)
	}

	s.pipelines = append(s.pipelines, p)
	s.byName[p.Name] = p
	return nil
}

// Start wires every registered pipeline into the trigger and starts it.
// Starting a running scheduler is a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	for i := range s.pipelines {
		p := s.pipelines[i]
		id, err := s.trigger.Add(p.Schedule, func() { s.runScheduled(p.Name) })
		if err != nil {
			for name, entryID := range s.entries {
				s.trigger.Remove(entryID)
				delete(s.entries, name)
			}
			return fmt.Errorf("schedule task %q: %w", p.Name, err)
		}
		s.entries[p.Name] = id
	}

	s.trigger.Start()
	s.started = true
	s.log.Info("scheduler started", logger.Int("tasks", len(s.pipelines)))
	return nil
}

// Stop unwires the schedules and stops the trigger. In-flight runs finish on
// their own. Stopping a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	for name, id := range s.entries {
		s.trigger.Remove(id)
		delete(s.entries, name)
	}
	s.started = false
	s.mu.Unlock()

	// The trigger drain blocks until running entries return, and those
	// entries take the scheduler lock, so it must happen unlocked.
	s.trigger.Stop()
	s.log.Info("scheduler stopped")
}

// RunOnce triggers one task immediately, or every registered task when name
// is "all", and blocks until the triggered pipelines finish.
func (s *Scheduler) RunOnce(ctx context.Context, name string) (*RunReport, error) {
	pipelines, err := s.selectPipelines(name)
	if err != nil {
		return nil, err
	}
	return s.runAll(ctx, uuid.NewString(), pipelines), nil
}

// Tasks lists the registered pipelines in registration order.
func (s *Scheduler) Tasks() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TaskStatus, 0, len(s.pipelines))
	for i := range s.pipelines {
		p := s.pipelines[i]
		_, active := s.entries[p.Name]
		st := TaskStatus{
			Task:     p.Name,
			Schedule: p.Schedule,
			Active:   active,
			Gated:    p.Gate != nil,
			TTL:      p.TTL.String(),
		}
		if last, ok := s.lastRuns[p.Name]; ok {
			lastCopy := last
			st.LastRun = &lastCopy
		}
		out = append(out, st)
	}
	return out
}

func (s *Scheduler) selectPipelines(name string) ([]Pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if name == domain.TaskAll {
		out := make([]Pipeline, len(s.pipelines))
		copy(out, s.pipelines)
		return out, nil
	}
	p, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTask, name)
	}
	return []Pipeline{p}, nil
}

func (s *Scheduler) runScheduled(name string) {
	s.mu.Lock()
	p, ok := s.byName[name]
	s.mu.Unlock()
	if !ok {
		return
	}
	s.run(context.Background(), p)
}

func (s *Scheduler) runAll(ctx context.Context, id string, pipelines []Pipeline) *RunReport {
	report := &RunReport{ID: id, Results: make([]RunResult, len(pipelines))}

	var wg sync.WaitGroup
	for i, p := range pipelines {
		wg.Add(1)
		go func(i int, p Pipeline) {
			defer wg.Done()
			report.Results[i] = s.run(ctx, p)
		}(i, p)
	}
	wg.Wait()
	return report
}

func (s *Scheduler) run(ctx context.Context, p Pipeline) RunResult {
	start := time.Now()
	result := s.execute(ctx, p)
	elapsed := time.Since(start)
	result.DurationMS = elapsed.Milliseconds()

	s.metrics.RecordPipelineRun(p.Name, result.Status, result.Items, elapsed)

	s.mu.Lock()
	s.lastRuns[p.Name] = result
	s.mu.Unlock()
	return result
}

// execute walks one pipeline through its admission checks and stages. The
// gate comes before the freshness check so a gated run neither consumes nor
// refreshes the marker. The marker is only written after a successful store,
// which means a failed run leaves the task eligible for the next trigger.
func (s *Scheduler) execute(ctx context.Context, p Pipeline) RunResult {
	if p.Gate != nil && !p.Gate.Open(time.Now()) {
		s.log.Debug("pipeline gated", logger.String("task", p.Name))
		return RunResult{Task: p.Name, Status: StatusSkippedGate}
	}

	marker := markerPrefix + p.Name
	if s.dedup.Exists(ctx, marker) {
		s.log.Debug("pipeline data still fresh", logger.String("task", p.Name))
		return RunResult{Task: p.Name, Status: StatusSkippedFresh}
	}

	items, err := p.Fetcher.Fetch(ctx)
	if err != nil {
		s.log.Error("pipeline fetch failed", logger.String("task", p.Name), logger.Error(err))
		return RunResult{Task: p.Name, Status: StatusFailed, Error: err.Error()}
	}

	if err := s.store.Store(ctx, items); err != nil {
		s.log.Error("pipeline store failed", logger.String("task", p.Name), logger.Error(err))
		return RunResult{Task: p.Name, Status: StatusFailed, Error: err.Error()}
	}

	if !s.dedup.Set(ctx, marker, markerValue, p.TTL) {
		s.log.Warn("freshness marker not written", logger.String("task", p.Name))
	}

	s.log.Info("pipeline completed",
		logger.String("task", p.Name),
		logger.Int("items", len(items)),
	)
	return RunResult{Task: p.Name, Status: StatusCompleted, Items: len(items)}
}
