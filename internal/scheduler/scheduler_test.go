package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/marketpulse/internal/domain"
	"github.com/jonesrussell/marketpulse/internal/logger"
	"github.com/jonesrussell/marketpulse/internal/metrics"
	"github.com/jonesrussell/marketpulse/internal/scheduler"
)

type fakeTrigger struct {
	mu      sync.Mutex
	nextID  int
	entries map[int]func()
	adds    int
	removes int
	started int
	stopped int
	failOn  int
}

func newFakeTrigger() *fakeTrigger {
	return &fakeTrigger{entries: map[int]func(){}}
}

func (t *fakeTrigger) Add(_ string, run func()) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failOn > 0 && t.adds+1 == t.failOn {
		return 0, errors.New("bad spec")
	}
	t.nextID++
	t.entries[t.nextID] = run
	t.adds++
	return t.nextID, nil
}

func (t *fakeTrigger) Remove(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, id)
	t.removes++
}

func (t *fakeTrigger) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started++
}

func (t *fakeTrigger) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped++
}

func (t *fakeTrigger) fire(id int) {
	t.mu.Lock()
	run := t.entries[id]
	t.mu.Unlock()
	if run != nil {
		run()
	}
}

func (t *fakeTrigger) counts() (adds, removes, started, stopped int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.adds, t.removes, t.started, t.stopped
}

type fakeFetcher struct {
	items []domain.ContentItem
	err   error
	calls atomic.Int32

	// entered and release let a test hold concurrent fetches at a barrier.
	entered chan struct{}
	release chan struct{}
}

func (f *fakeFetcher) Fetch(_ context.Context) ([]domain.ContentItem, error) {
	f.calls.Add(1)
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	return f.items, f.err
}

type fakeStore struct {
	mu      sync.Mutex
	err     error
	batches [][]domain.ContentItem
}

func (s *fakeStore) Store(_ context.Context, items []domain.ContentItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, items)
	return nil
}

func (s *fakeStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

type fakeDedup struct {
	mu          sync.Mutex
	markers     map[string]time.Duration
	existsCalls int
	setCalls    int
}

func newFakeDedup() *fakeDedup {
	return &fakeDedup{markers: map[string]time.Duration{}}
}

func (d *fakeDedup) Exists(_ context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.existsCalls++
	_, ok := d.markers[key]
	return ok
}

func (d *fakeDedup) Set(_ context.Context, key, _ string, ttl time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setCalls++
	d.markers[key] = ttl
	return true
}

func (d *fakeDedup) seed(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.markers[key] = time.Minute
}

func (d *fakeDedup) ttl(key string) (time.Duration, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ttl, ok := d.markers[key]
	return ttl, ok
}

func (d *fakeDedup) stats() (exists, sets int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.existsCalls, d.setCalls
}

type fakeGate struct {
	open bool
}

func (g fakeGate) Open(time.Time) bool {
	return g.open
}

func newTestScheduler(trigger scheduler.Trigger, store scheduler.Storer, dedup scheduler.DedupCache) *scheduler.Scheduler {
	return scheduler.New(trigger, store, dedup, metrics.New(), logger.NewNop())
}

func cryptoItems() []domain.ContentItem {
	return []domain.ContentItem{
		{ID: "aaa", Kind: domain.TaskCrypto, Text: "BTC is up."},
		{ID: "bbb", Kind: domain.TaskCrypto, Text: "ETH is down."},
	}
}

func TestRunOnce_FetchesStoresAndMarks(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	dedup := newFakeDedup()
	fetcher := &fakeFetcher{items: cryptoItems()}

	s := newTestScheduler(newFakeTrigger(), store, dedup)
	require.NoError(t, s.Register(scheduler.Pipeline{
		Name: domain.TaskCrypto, Schedule: "*/5 * * * *", TTL: 4 * time.Minute, Fetcher: fetcher,
	}))

	report, err := s.RunOnce(context.Background(), domain.TaskCrypto)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.NotEmpty(t, report.ID)

	result := report.Results[0]
	assert.Equal(t, scheduler.StatusCompleted, result.Status)
	assert.Equal(t, 2, result.Items)

	assert.Equal(t, int32(1), fetcher.calls.Load())
	require.Equal(t, 1, store.calls())

	ttl, ok := dedup.ttl("ingest:crypto")
	require.True(t, ok, "freshness marker should be written after a successful store")
	assert.Equal(t, 4*time.Minute, ttl)
}

func TestRunOnce_FreshMarkerSkipsFetch(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	dedup := newFakeDedup()
	dedup.seed("ingest:crypto")
	fetcher := &fakeFetcher{items: cryptoItems()}

	s := newTestScheduler(newFakeTrigger(), store, dedup)
	require.NoError(t, s.Register(scheduler.Pipeline{
		Name: domain.TaskCrypto, Schedule: "*/5 * * * *", TTL: 4 * time.Minute, Fetcher: fetcher,
	}))

	report, err := s.RunOnce(context.Background(), domain.TaskCrypto)
	require.NoError(t, err)

	assert.Equal(t, scheduler.StatusSkippedFresh, report.Results[0].Status)
	assert.Equal(t, int32(0), fetcher.calls.Load())
	assert.Equal(t, 0, store.calls())
}

func TestRunOnce_FetchFailure(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	dedup := newFakeDedup()
	fetcher := &fakeFetcher{err: errors.New("upstream down")}

	s := newTestScheduler(newFakeTrigger(), store, dedup)
	require.NoError(t, s.Register(scheduler.Pipeline{
		Name: domain.TaskNews, Schedule: "*/15 * * * *", TTL: 10 * time.Minute, Fetcher: fetcher,
	}))

	report, err := s.RunOnce(context.Background(), domain.TaskNews)
	require.NoError(t, err)

	result := report.Results[0]
	assert.Equal(t, scheduler.StatusFailed, result.Status)
	assert.Contains(t, result.Error, "upstream down")
	assert.Equal(t, 0, store.calls())

	// A failed run must not mark the task fresh.
	_, sets := dedup.stats()
	assert.Equal(t, 0, sets)
}

func TestRunOnce_StoreFailure(t *testing.T) {
	t.Parallel()

	store := &fakeStore{err: errors.New("index unavailable")}
	dedup := newFakeDedup()
	fetcher := &fakeFetcher{items: cryptoItems()}

	s := newTestScheduler(newFakeTrigger(), store, dedup)
	require.NoError(t, s.Register(scheduler.Pipeline{
		Name: domain.TaskCrypto, Schedule: "*/5 * * * *", TTL: 4 * time.Minute, Fetcher: fetcher,
	}))

	report, err := s.RunOnce(context.Background(), domain.TaskCrypto)
	require.NoError(t, err)

	assert.Equal(t, scheduler.StatusFailed, report.Results[0].Status)
	_, ok := dedup.ttl("ingest:crypto")
	assert.False(t, ok)
}

func TestRunOnce_GateClosed(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	dedup := newFakeDedup()
	fetcher := &fakeFetcher{items: cryptoItems()}

	s := newTestScheduler(newFakeTrigger(), store, dedup)
	require.NoError(t, s.Register(scheduler.Pipeline{
		Name: domain.TaskStocks, Schedule: "*/10 * * * *", TTL: 8 * time.Minute,
		Fetcher: fetcher, Gate: fakeGate{open: false},
	}))

	report, err := s.RunOnce(context.Background(), domain.TaskStocks)
	require.NoError(t, err)

	assert.Equal(t, scheduler.StatusSkippedGate, report.Results[0].Status)
	assert.Equal(t, int32(0), fetcher.calls.Load())

	// The gate is checked first, so a gated run never touches the marker.
	exists, sets := dedup.stats()
	assert.Equal(t, 0, exists)
	assert.Equal(t, 0, sets)
}

func TestRunOnce_GateOpenStillDeduped(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	dedup := newFakeDedup()
	dedup.seed("ingest:stocks")
	fetcher := &fakeFetcher{items: cryptoItems()}

	s := newTestScheduler(newFakeTrigger(), store, dedup)
	require.NoError(t, s.Register(scheduler.Pipeline{
		Name: domain.TaskStocks, Schedule: "*/10 * * * *", TTL: 8 * time.Minute,
		Fetcher: fetcher, Gate: fakeGate{open: true},
	}))

	report, err := s.RunOnce(context.Background(), domain.TaskStocks)
	require.NoError(t, err)

	assert.Equal(t, scheduler.StatusSkippedFresh, report.Results[0].Status)
	assert.Equal(t, int32(0), fetcher.calls.Load())
}

func TestRunOnce_UnknownTask(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(newFakeTrigger(), &fakeStore{}, newFakeDedup())

	_, err := s.RunOnce(context.Background(), "weather")
	require.ErrorIs(t, err, scheduler.ErrUnknownTask)
}

func TestRunOnce_AllFanOut(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	dedup := newFakeDedup()
	s := newTestScheduler(newFakeTrigger(), store, dedup)

	require.NoError(t, s.Register(scheduler.Pipeline{
		Name: domain.TaskNews, Schedule: "*/15 * * * *", TTL: 10 * time.Minute,
		Fetcher: &fakeFetcher{items: cryptoItems()},
	}))
	require.NoError(t, s.Register(scheduler.Pipeline{
		Name: domain.TaskCrypto, Schedule: "*/5 * * * *", TTL: 4 * time.Minute,
		Fetcher: &fakeFetcher{err: errors.New("upstream down")},
	}))
	require.NoError(t, s.Register(scheduler.Pipeline{
		Name: domain.TaskRates, Schedule: "0 */6 * * *", TTL: 5 * time.Hour,
		Fetcher: &fakeFetcher{items: cryptoItems()[:1]},
	}))

	report, err := s.RunOnce(context.Background(), domain.TaskAll)
	require.NoError(t, err)
	require.Len(t, report.Results, 3)

	statuses := make(map[string]string, len(report.Results))
	for _, r := range report.Results {
		statuses[r.Task] = r.Status
	}
	assert.Equal(t, scheduler.StatusCompleted, statuses[domain.TaskNews])
	assert.Equal(t, scheduler.StatusFailed, statuses[domain.TaskCrypto])
	assert.Equal(t, scheduler.StatusCompleted, statuses[domain.TaskRates])

	// One failing task must not stop the others from storing.
	assert.Equal(t, 2, store.calls())
}

func TestRunOnce_ConcurrentSameTask(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	dedup := newFakeDedup()
	fetcher := &fakeFetcher{
		items:   cryptoItems(),
		entered: make(chan struct{}, 2),
		release: make(chan struct{}),
	}

	s := newTestScheduler(newFakeTrigger(), store, dedup)
	require.NoError(t, s.Register(scheduler.Pipeline{
		Name: domain.TaskCrypto, Schedule: "*/5 * * * *", TTL: 4 * time.Minute, Fetcher: fetcher,
	}))

	results := make(chan string, 2)
	for range 2 {
		go func() {
			report, err := s.RunOnce(context.Background(), domain.TaskCrypto)
			if err != nil {
				results <- "error: " + err.Error()
				return
			}
			results <- report.Results[0].Status
		}()
	}

	// Both runs are now past the freshness check and held inside Fetch,
	// which is exactly the duplicate-run window.
	<-fetcher.entered
	<-fetcher.entered
	close(fetcher.release)

	for range 2 {
		assert.Equal(t, scheduler.StatusCompleted, <-results)
	}

	// Overlapping runs both execute; identical item IDs make the double
	// store an overwrite, not a duplication.
	assert.Equal(t, int32(2), fetcher.calls.Load())
	assert.Equal(t, 2, store.calls())
	_, sets := dedup.stats()
	assert.Equal(t, 2, sets)
}

func TestStartStopStart_ReregistersSchedules(t *testing.T) {
	t.Parallel()

	trigger := newFakeTrigger()
	store := &fakeStore{}
	dedup := newFakeDedup()
	fetcher := &fakeFetcher{items: cryptoItems()}

	s := newTestScheduler(trigger, store, dedup)
	require.NoError(t, s.Register(scheduler.Pipeline{
		Name: domain.TaskCrypto, Schedule: "*/5 * * * *", TTL: 4 * time.Minute, Fetcher: fetcher,
	}))
	require.NoError(t, s.Register(scheduler.Pipeline{
		Name: domain.TaskNews, Schedule: "*/15 * * * *", TTL: 10 * time.Minute,
		Fetcher: &fakeFetcher{items: cryptoItems()},
	}))

	require.NoError(t, s.Start())
	adds, _, started, _ := trigger.counts()
	assert.Equal(t, 2, adds)
	assert.Equal(t, 1, started)

	// Starting again is a no-op.
	require.NoError(t, s.Start())
	adds, _, started, _ = trigger.counts()
	assert.Equal(t, 2, adds)
	assert.Equal(t, 1, started)

	// A fired schedule drives a normal run.
	trigger.fire(1)
	assert.Equal(t, int32(1), fetcher.calls.Load())
	assert.Equal(t, 1, store.calls())

	s.Stop()
	_, removes, _, stopped := trigger.counts()
	assert.Equal(t, 2, removes)
	assert.Equal(t, 1, stopped)

	// Restart reinstalls every schedule.
	require.NoError(t, s.Start())
	adds, _, started, _ = trigger.counts()
	assert.Equal(t, 4, adds)
	assert.Equal(t, 2, started)
}

func TestStart_AddFailureRollsBack(t *testing.T) {
	t.Parallel()

	trigger := newFakeTrigger()
	trigger.failOn = 2

	s := newTestScheduler(trigger, &fakeStore{}, newFakeDedup())
	require.NoError(t, s.Register(scheduler.Pipeline{
		Name: domain.TaskCrypto, Schedule: "*/5 * * * *", TTL: 4 * time.Minute,
		Fetcher: &fakeFetcher{},
	}))
	require.NoError(t, s.Register(scheduler.Pipeline{
		Name: domain.TaskNews, Schedule: "not a schedule", TTL: 10 * time.Minute,
		Fetcher: &fakeFetcher{},
	}))

	err := s.Start()
	require.Error(t, err)

	_, removes, started, _ := trigger.counts()
	assert.Equal(t, 1, removes, "the entry added before the failure should be rolled back")
	assert.Equal(t, 0, started)
}

func TestRegister_Validation(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{}
	valid := scheduler.Pipeline{
		Name: domain.TaskCrypto, Schedule: "*/5 * * * *", TTL: 4 * time.Minute, Fetcher: fetcher,
	}

	s := newTestScheduler(newFakeTrigger(), &fakeStore{}, newFakeDedup())

	assert.Error(t, s.Register(scheduler.Pipeline{Schedule: "* * * * *", Fetcher: fetcher}))
	assert.Error(t, s.Register(scheduler.Pipeline{Name: domain.TaskAll, Schedule: "* * * * *", Fetcher: fetcher}))
	assert.Error(t, s.Register(scheduler.Pipeline{Name: "news", Schedule: "* * * * *"}))

	require.NoError(t, s.Register(valid))
	assert.Error(t, s.Register(valid), "duplicate names are rejected")

	require.NoError(t, s.Start())
	defer s.Stop()
	assert.Error(t, s.Register(scheduler.Pipeline{
		Name: domain.TaskNews, Schedule: "* * * * *", Fetcher: fetcher,
	}), "registration is rejected while running")
}

func TestRunDetached(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	dedup := newFakeDedup()

	s := newTestScheduler(newFakeTrigger(), store, dedup)
	require.NoError(t, s.Register(scheduler.Pipeline{
		Name: domain.TaskCrypto, Schedule: "*/5 * * * *", TTL: 4 * time.Minute,
		Fetcher: &fakeFetcher{items: cryptoItems()},
	}))

	handle, err := s.RunDetached(domain.TaskCrypto)
	require.NoError(t, err)
	require.NotEmpty(t, handle.ID)

	select {
	case <-handle.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("detached run did not finish")
	}

	require.True(t, handle.Finished())
	report := handle.Report()
	require.NotNil(t, report)
	assert.Equal(t, handle.ID, report.ID)
	require.Len(t, report.Results, 1)
	assert.Equal(t, scheduler.StatusCompleted, report.Results[0].Status)

	tracked, ok := s.Run(handle.ID)
	require.True(t, ok)
	assert.Same(t, handle, tracked)
}

func TestRunDetached_UnknownTask(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(newFakeTrigger(), &fakeStore{}, newFakeDedup())

	_, err := s.RunDetached("weather")
	require.ErrorIs(t, err, scheduler.ErrUnknownTask)
}

func TestTasks(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(newFakeTrigger(), &fakeStore{}, newFakeDedup())
	require.NoError(t, s.Register(scheduler.Pipeline{
		Name: domain.TaskCrypto, Schedule: "*/5 * * * *", TTL: 4 * time.Minute,
		Fetcher: &fakeFetcher{items: cryptoItems()},
	}))
	require.NoError(t, s.Register(scheduler.Pipeline{
		Name: domain.TaskStocks, Schedule: "*/10 * * * *", TTL: 8 * time.Minute,
		Fetcher: &fakeFetcher{}, Gate: fakeGate{open: false},
	}))

	tasks := s.Tasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, domain.TaskCrypto, tasks[0].Task)
	assert.False(t, tasks[0].Active, "schedules are not installed before Start")
	assert.False(t, tasks[0].Gated)
	assert.Nil(t, tasks[0].LastRun)
	assert.Equal(t, "4m0s", tasks[0].TTL)
	assert.True(t, tasks[1].Gated)

	require.NoError(t, s.Start())
	tasks = s.Tasks()
	assert.True(t, tasks[0].Active)
	assert.True(t, tasks[1].Active)

	_, err := s.RunOnce(context.Background(), domain.TaskCrypto)
	require.NoError(t, err)

	tasks = s.Tasks()
	require.NotNil(t, tasks[0].LastRun)
	assert.Equal(t, scheduler.StatusCompleted, tasks[0].LastRun.Status)
	assert.Equal(t, 2, tasks[0].LastRun.Items)

	s.Stop()
	tasks = s.Tasks()
	assert.False(t, tasks[0].Active)
}
