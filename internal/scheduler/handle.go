package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// runHistorySize bounds how many finished detached runs stay queryable.
const runHistorySize = 32

// RunHandle tracks one detached manual run.
type RunHandle struct {
	ID      string
	Task    string
	Started time.Time

	done   chan struct{}
	report *RunReport
}

// Done is closed when the run has finished.
func (h *RunHandle) Done() <-chan struct{} {
	return h.done
}

// Finished reports whether the run has completed.
func (h *RunHandle) Finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Report returns the run's outcome, or nil while it is still running.
func (h *RunHandle) Report() *RunReport {
	if !h.Finished() {
		return nil
	}
	return h.report
}

// RunDetached starts a manual run in the background and returns immediately.
// The handle stays queryable through Run until evicted by newer runs. An
// unknown task fails synchronously.
func (s *Scheduler) RunDetached(name string) (*RunHandle, error) {
	pipelines, err := s.selectPipelines(name)
	if err != nil {
		return nil, err
	}

	h := &RunHandle{
		ID:      uuid.NewString(),
		Task:    name,
		Started: time.Now(),
		done:    make(chan struct{}),
	}
	s.trackRun(h)

	go func() {
		// The run outlives the triggering request on purpose.
		h.report = s.runAll(context.Background(), h.ID, pipelines)
		close(h.done)
	}()
	return h, nil
}

// Run returns a tracked detached run by id.
func (s *Scheduler) Run(id string) (*RunHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.runs[id]
	return h, ok
}

func (s *Scheduler) trackRun(h *RunHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[h.ID] = h
	s.runOrder = append(s.runOrder, h.ID)

	// Evict the oldest finished runs beyond the history bound. Running
	// entries are never evicted.
	for len(s.runOrder) > runHistorySize {
		evicted := false
		for i, id := range s.runOrder {
			if s.runs[id].Finished() {
				delete(s.runs, id)
				s.runOrder = append(s.runOrder[:i], s.runOrder[i+1:]...)
				evicted = true
				break
			}
		}
		if !evicted {
			break
		}
	}
}
