package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rigflip/models"
	"rigflip/storage"
)

type fakeGateway struct {
	mu         sync.Mutex
	next       int
	spawnErr   error
	spawned    []string
	sent       []models.StartScan
	terminated []string
	events     chan models.WorkerEvent
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{events: make(chan models.WorkerEvent, 16)}
}

func (g *fakeGateway) Spawn(ctx context.Context, url string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.spawnErr != nil {
		return "", g.spawnErr
	}
	g.next++
	h := fmt.Sprintf("tab-%d", g.next)
	g.spawned = append(g.spawned, h)
	return h, nil
}

func (g *fakeGateway) Inject(ctx context.Context, handle string) error { return nil }

func (g *fakeGateway) Send(ctx context.Context, handle string, cmd models.StartScan) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, cmd)
	return nil
}

func (g *fakeGateway) Terminate(ctx context.Context, handle string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.terminated = append(g.terminated, handle)
	return errors.New("already closed")
}

func (g *fakeGateway) Events() <-chan models.WorkerEvent { return g.events }

func (g *fakeGateway) sentCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sent)
}

func (g *fakeGateway) terminatedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.terminated)
}

type staticSearches []models.SavedSearch

func (s staticSearches) SavedSearches() []models.SavedSearch { return s }

func searches(n int) staticSearches {
	out := make(staticSearches, n)
	for i := range out {
		out[i] = models.SavedSearch{
			ID:      fmt.Sprintf("search-%d", i+1),
			Name:    fmt.Sprintf("Search %d", i+1),
			URL:     fmt.Sprintf("https://example.com/search/%d", i+1),
			Site:    "example",
			Enabled: true,
		}
	}
	return out
}

type fakeGate struct {
	active atomic.Bool
}

func (g *fakeGate) QueryActivity(ctx context.Context, threshold time.Duration) (models.Activity, error) {
	if g.active.Load() {
		return models.ActivityActive, nil
	}
	return models.ActivityIdle, nil
}

// blockingGate holds every query until release is closed.
type blockingGate struct {
	entered chan struct{}
	release chan struct{}
}

func (g *blockingGate) QueryActivity(ctx context.Context, threshold time.Duration) (models.Activity, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	select {
	case <-g.release:
		return models.ActivityIdle, nil
	case <-ctx.Done():
		return models.ActivityIdle, ctx.Err()
	}
}

type fixedResults struct{ newListings, goodDeals int }

func (r fixedResults) HandleResults(ctx context.Context, job *models.ScanJob, listings []models.Listing) (int, int) {
	return r.newListings, r.goodDeals
}

// slowResults blocks in HandleResults until release is closed.
type slowResults struct {
	started chan struct{}
	release chan struct{}
}

func (r *slowResults) HandleResults(ctx context.Context, job *models.ScanJob, listings []models.Listing) (int, int) {
	close(r.started)
	<-r.release
	return len(listings), 1
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(ctx context.Context, title, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	return nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) count(typ EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func newTestScheduler(t *testing.T, cfg Config, n int) (*Scheduler, *fakeGateway, *eventRecorder) {
	t.Helper()
	gw := newFakeGateway()
	s := New(cfg, gw, storage.NewMemoryStore(), searches(n))
	rec := &eventRecorder{}
	s.Subscribe(rec.record)
	return s, gw, rec
}

// waitAttached waits until n active jobs have a worker handle.
func waitAttached(t *testing.T, s *Scheduler, gw *fakeGateway, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		attached := 0
		for _, job := range s.GetStatus().ActiveJobs {
			if job.WorkerHandle != "" {
				attached++
			}
		}
		return attached == n && gw.sentCount() >= n
	}, time.Second, 5*time.Millisecond)
}

func countStatus(sess *models.ScanSession, status models.JobStatus) int {
	n := 0
	for _, job := range sess.Jobs {
		if job.Status == status {
			n++
		}
	}
	return n
}

func TestStartSession_RespectsConcurrencyCap(t *testing.T) {
	ctx := context.Background()
	s, gw, _ := newTestScheduler(t, Config{MaxConcurrentTabs: 3, JobTimeout: time.Minute}, 5)

	sess, err := s.StartSession(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, countStatus(sess, models.JobStatusRunning))
	assert.Equal(t, 2, countStatus(sess, models.JobStatusPending))

	st := s.GetStatus()
	assert.True(t, st.Running)
	assert.Len(t, st.ActiveJobs, 3)
	assert.Equal(t, 2, st.QueueLength)

	waitAttached(t, s, gw, 3)
	first := s.GetStatus().ActiveJobs[0]
	s.HandleWorkerEvent(ctx, models.WorkerEvent{Handle: first.WorkerHandle, Listings: []models.Listing{{ID: "a"}}})

	st = s.GetStatus()
	assert.Len(t, st.ActiveJobs, 3)
	assert.Equal(t, 1, st.QueueLength)
	assert.Equal(t, 1, countStatus(st.Session, models.JobStatusCompleted))
	assert.Equal(t, 3, countStatus(st.Session, models.JobStatusRunning))
	assert.Equal(t, 1, countStatus(st.Session, models.JobStatusPending))

	for _, job := range st.Session.Jobs {
		if job.ID == first.ID {
			require.NotNil(t, job.ResultsCount)
			assert.Equal(t, 1, *job.ResultsCount)
		}
	}
}

func TestStartSession_ActiveNeverExceedsCap(t *testing.T) {
	ctx := context.Background()
	s, gw, _ := newTestScheduler(t, Config{MaxConcurrentTabs: 2, JobTimeout: time.Minute}, 6)

	var maxActive atomic.Int32
	s.Subscribe(func(e Event) {
		if e.Type != EventJobStarted {
			return
		}
		n := int32(len(s.GetStatus().ActiveJobs))
		for {
			cur := maxActive.Load()
			if n <= cur || maxActive.CompareAndSwap(cur, n) {
				break
			}
		}
	})

	_, err := s.StartSession(ctx, nil)
	require.NoError(t, err)

	for s.GetStatus().Running {
		waitAttached(t, s, gw, len(s.GetStatus().ActiveJobs))
		next := s.GetStatus().ActiveJobs[0]
		s.HandleWorkerEvent(ctx, models.WorkerEvent{Handle: next.WorkerHandle})
	}

	assert.LessOrEqual(t, maxActive.Load(), int32(2))
	last := s.History()[0]
	assert.Equal(t, 6, last.Stats.Completed)
	assert.True(t, last.Stats.Done())
}

func TestStartSession_Errors(t *testing.T) {
	ctx := context.Background()

	disabled := searches(2)
	for i := range disabled {
		disabled[i].Enabled = false
	}
	s := New(Config{}, newFakeGateway(), storage.NewMemoryStore(), disabled)
	_, err := s.StartSession(ctx, nil)
	assert.ErrorIs(t, err, ErrNoSearchesSelected)

	_, err = s.StartSession(ctx, []string{"nope"})
	assert.ErrorIs(t, err, ErrNoSearchesSelected)

	// explicit ids select disabled searches too
	sess, err := s.StartSession(ctx, []string{"search-2", "search-2"})
	require.NoError(t, err)
	assert.Len(t, sess.Jobs, 1)
	assert.Equal(t, "search-2", sess.Jobs[0].SearchID)

	_, err = s.StartSession(ctx, nil)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestStopSession_CancelsEverything(t *testing.T) {
	ctx := context.Background()
	s, gw, rec := newTestScheduler(t, Config{MaxConcurrentTabs: 3, JobTimeout: time.Minute}, 5)

	_, err := s.StartSession(ctx, nil)
	require.NoError(t, err)
	waitAttached(t, s, gw, 3)

	s.StopSession(ctx)

	st := s.GetStatus()
	assert.False(t, st.Running)
	assert.Empty(t, st.ActiveJobs)
	assert.Zero(t, st.QueueLength)
	assert.Equal(t, 5, countStatus(st.Session, models.JobStatusCancelled))
	assert.Equal(t, 5, st.Session.Stats.Cancelled)
	assert.NotNil(t, st.Session.CompletedAt)
	assert.Equal(t, 3, gw.terminatedCount())
	assert.Equal(t, 1, rec.count(EventSessionStopped))
	assert.Zero(t, rec.count(EventSessionCompleted))

	// late results for a cancelled job are ignored
	s.HandleWorkerEvent(ctx, models.WorkerEvent{Handle: "tab-1"})
	assert.Equal(t, 5, s.GetStatus().Session.Stats.Cancelled)

	// stopping again is a no-op
	s.StopSession(ctx)
	assert.Equal(t, 1, rec.count(EventSessionStopped))
}

func TestJobTimeout(t *testing.T) {
	ctx := context.Background()
	s, gw, rec := newTestScheduler(t, Config{MaxConcurrentTabs: 1, JobTimeout: 50 * time.Millisecond}, 1)

	_, err := s.StartSession(ctx, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !s.GetStatus().Running }, time.Second, 5*time.Millisecond)

	job := s.GetStatus().Session.Jobs[0]
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, ReasonTimeout, job.Error)
	assert.Equal(t, 1, rec.count(EventJobFailed))
	assert.Equal(t, 1, rec.count(EventSessionCompleted))
	assert.Equal(t, 1, gw.terminatedCount())
}

func TestSpawnErrorFailsJob(t *testing.T) {
	ctx := context.Background()
	s, gw, _ := newTestScheduler(t, Config{MaxConcurrentTabs: 2, JobTimeout: time.Minute}, 3)
	gw.spawnErr = errors.New("browser crashed")

	_, err := s.StartSession(ctx, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return !s.GetStatus().Running }, time.Second, 5*time.Millisecond)

	sess := s.GetStatus().Session
	assert.Equal(t, 3, sess.Stats.Failed)
	for _, job := range sess.Jobs {
		assert.Contains(t, job.Error, "browser crashed")
	}
}

func TestWorkerGoneAndErrorEvents(t *testing.T) {
	ctx := context.Background()
	s, gw, _ := newTestScheduler(t, Config{MaxConcurrentTabs: 2, JobTimeout: time.Minute}, 2)

	_, err := s.StartSession(ctx, nil)
	require.NoError(t, err)
	waitAttached(t, s, gw, 2)

	active := s.GetStatus().ActiveJobs
	s.HandleWorkerEvent(ctx, models.WorkerEvent{Handle: active[0].WorkerHandle, Gone: true})
	s.HandleWorkerEvent(ctx, models.WorkerEvent{Handle: active[1].WorkerHandle, Err: errors.New("no results container")})

	sess := s.GetStatus().Session
	assert.False(t, s.GetStatus().Running)
	assert.Equal(t, 2, sess.Stats.Failed)
	reasons := []string{sess.Jobs[0].Error, sess.Jobs[1].Error}
	assert.ElementsMatch(t, []string{ReasonWorkerGone, "no results container"}, reasons)
}

func TestIdleGate_RequeuesAndResumes(t *testing.T) {
	ctx := context.Background()
	s, gw, rec := newTestScheduler(t, Config{
		MaxConcurrentTabs: 2,
		JobTimeout:        time.Minute,
		IdleCooldown:      20 * time.Millisecond,
	}, 3)
	gate := &fakeGate{}
	gate.active.Store(true)
	s.SetIdleGate(gate)

	sess, err := s.StartSession(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, countStatus(sess, models.JobStatusPending))

	st := s.GetStatus()
	assert.True(t, st.Paused)
	assert.Empty(t, st.ActiveJobs)
	assert.Equal(t, 3, st.QueueLength)
	assert.Equal(t, 1, rec.count(EventSessionPaused))

	gate.active.Store(false)
	require.Eventually(t, func() bool { return len(s.GetStatus().ActiveJobs) == 2 }, time.Second, 5*time.Millisecond)

	st = s.GetStatus()
	assert.False(t, st.Paused)
	assert.Equal(t, 1, st.QueueLength)
	assert.Equal(t, 1, rec.count(EventSessionResumed))

	// FIFO order is preserved across the requeue
	waitAttached(t, s, gw, 2)
	assert.Equal(t, "search-1", st.ActiveJobs[0].SearchID)
	assert.Equal(t, "search-2", st.ActiveJobs[1].SearchID)
}

func TestIdleGate_ExplicitPauseHoldsThroughRecheck(t *testing.T) {
	ctx := context.Background()
	s, _, rec := newTestScheduler(t, Config{
		MaxConcurrentTabs: 2,
		JobTimeout:        time.Minute,
		IdleCooldown:      20 * time.Millisecond,
	}, 3)
	gate := &fakeGate{}
	gate.active.Store(true)
	s.SetIdleGate(gate)

	_, err := s.StartSession(ctx, nil)
	require.NoError(t, err)
	require.True(t, s.GetStatus().Paused)

	s.SetPaused(ctx, true)
	gate.active.Store(false)
	time.Sleep(150 * time.Millisecond)

	st := s.GetStatus()
	assert.True(t, st.Paused)
	assert.Empty(t, st.ActiveJobs)
	assert.Equal(t, 3, st.QueueLength)
	assert.Equal(t, 1, rec.count(EventSessionPaused))
	assert.Zero(t, rec.count(EventSessionResumed))

	s.SetPaused(ctx, false)
	st = s.GetStatus()
	assert.False(t, st.Paused)
	assert.Len(t, st.ActiveJobs, 2)
	assert.Equal(t, 1, rec.count(EventSessionResumed))
}

func TestIdleGate_QueriedWithoutHoldingLock(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestScheduler(t, Config{MaxConcurrentTabs: 2, JobTimeout: time.Minute}, 2)
	gate := &blockingGate{entered: make(chan struct{}, 1), release: make(chan struct{})}
	s.SetIdleGate(gate)

	started := make(chan error, 1)
	go func() {
		_, err := s.StartSession(ctx, nil)
		started <- err
	}()
	select {
	case <-gate.entered:
	case <-time.After(time.Second):
		t.Fatal("idle gate was never queried")
	}

	status := make(chan Status, 1)
	go func() { status <- s.GetStatus() }()
	select {
	case st := <-status:
		assert.True(t, st.Running)
		assert.Empty(t, st.ActiveJobs)
		assert.Equal(t, 2, st.QueueLength)
	case <-time.After(time.Second):
		t.Fatal("GetStatus blocked while the idle gate was queried")
	}

	close(gate.release)
	require.NoError(t, <-started)
	assert.Len(t, s.GetStatus().ActiveJobs, 2)
}

func TestResultsClaimJobBeforeTimeout(t *testing.T) {
	ctx := context.Background()
	s, gw, rec := newTestScheduler(t, Config{MaxConcurrentTabs: 1, JobTimeout: 150 * time.Millisecond}, 1)
	results := &slowResults{started: make(chan struct{}), release: make(chan struct{})}
	s.SetResultHandler(results)

	_, err := s.StartSession(ctx, nil)
	require.NoError(t, err)
	waitAttached(t, s, gw, 1)
	handle := s.GetStatus().ActiveJobs[0].WorkerHandle

	done := make(chan struct{})
	go func() {
		s.HandleWorkerEvent(ctx, models.WorkerEvent{Handle: handle, Listings: make([]models.Listing, 3)})
		close(done)
	}()
	<-results.started

	// a close arriving while listings are processed is dropped
	s.HandleWorkerEvent(ctx, models.WorkerEvent{Handle: handle, Gone: true})
	time.Sleep(250 * time.Millisecond)
	assert.True(t, s.GetStatus().Running)

	close(results.release)
	<-done

	sess := s.GetStatus().Session
	assert.False(t, s.GetStatus().Running)
	assert.Equal(t, models.JobStatusCompleted, sess.Jobs[0].Status)
	assert.Equal(t, 1, sess.Stats.Completed)
	assert.Zero(t, sess.Stats.Failed)
	assert.Equal(t, 3, sess.Stats.NewListings)
	assert.Equal(t, 1, sess.Stats.GoodDeals)
	assert.Zero(t, rec.count(EventJobFailed))
}

func TestSetPaused_StopsAndResumesDispatch(t *testing.T) {
	ctx := context.Background()
	s, gw, rec := newTestScheduler(t, Config{MaxConcurrentTabs: 1, JobTimeout: time.Minute}, 2)

	_, err := s.StartSession(ctx, nil)
	require.NoError(t, err)
	waitAttached(t, s, gw, 1)

	s.SetPaused(ctx, true)
	s.HandleWorkerEvent(ctx, models.WorkerEvent{Handle: s.GetStatus().ActiveJobs[0].WorkerHandle})

	st := s.GetStatus()
	assert.Empty(t, st.ActiveJobs)
	assert.Equal(t, 1, st.QueueLength)
	assert.True(t, st.Running)

	s.SetPaused(ctx, false)
	assert.Len(t, s.GetStatus().ActiveJobs, 1)
	assert.Equal(t, 1, rec.count(EventSessionPaused))
	assert.Equal(t, 1, rec.count(EventSessionResumed))
}

func TestSessionCompletesOnceAndNotifies(t *testing.T) {
	ctx := context.Background()
	s, gw, rec := newTestScheduler(t, Config{MaxConcurrentTabs: 2, JobTimeout: time.Minute, NotifyOnComplete: true}, 2)
	s.SetResultHandler(fixedResults{newListings: 2, goodDeals: 1})
	notifier := &recordingNotifier{}
	s.SetNotifier(notifier)

	_, err := s.StartSession(ctx, nil)
	require.NoError(t, err)
	waitAttached(t, s, gw, 2)

	active := s.GetStatus().ActiveJobs
	for _, job := range active {
		s.HandleWorkerEvent(ctx, models.WorkerEvent{Handle: job.WorkerHandle})
	}
	// duplicate completions are no-ops
	s.HandleWorkerEvent(ctx, models.WorkerEvent{Handle: active[0].WorkerHandle})

	sess := s.GetStatus().Session
	assert.Equal(t, 2, sess.Stats.Completed)
	assert.Equal(t, 4, sess.Stats.NewListings)
	assert.Equal(t, 2, sess.Stats.GoodDeals)
	assert.Equal(t, 1, rec.count(EventSessionCompleted))
	assert.Equal(t, []string{"Scanned 2 searches, found 4 new listings"}, notifier.messages)
}

func TestHistoryPersistedAndCapped(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	gw.spawnErr = errors.New("offline")
	store := storage.NewMemoryStore()
	s := New(Config{JobTimeout: time.Minute}, gw, store, searches(1))

	var lastID string
	for i := 0; i < HistoryLimit+2; i++ {
		sess, err := s.StartSession(ctx, nil)
		require.NoError(t, err)
		lastID = sess.ID
		require.Eventually(t, func() bool { return !s.GetStatus().Running }, time.Second, time.Millisecond)
	}

	data, err := store.Get(ctx, storage.KeyScanSessions)
	require.NoError(t, err)
	var saved []*models.ScanSession
	require.NoError(t, json.Unmarshal(data, &saved))
	assert.Len(t, saved, HistoryLimit)
	assert.Equal(t, lastID, saved[0].ID)

	restored := New(Config{}, gw, store, searches(1))
	require.NoError(t, restored.Load(ctx))
	assert.Len(t, restored.History(), HistoryLimit)
}

func TestLoad_FinalizesInterruptedSession(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	now := time.Now()
	history := []*models.ScanSession{{
		ID:        "s1",
		StartedAt: now,
		Stats:     models.SessionStats{Total: 2},
		Jobs: []*models.ScanJob{
			{ID: "j1", Status: models.JobStatusRunning, StartedAt: &now},
			{ID: "j2", Status: models.JobStatusPending},
		},
	}}
	data, err := json.Marshal(history)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, storage.KeyScanSessions, data))

	s := New(Config{}, newFakeGateway(), store, searches(1))
	require.NoError(t, s.Load(ctx))

	sess := s.History()[0]
	require.NotNil(t, sess.CompletedAt)
	assert.Equal(t, models.JobStatusFailed, sess.Jobs[0].Status)
	assert.Equal(t, ReasonInterrupted, sess.Jobs[0].Error)
	assert.Equal(t, models.JobStatusCancelled, sess.Jobs[1].Status)
	assert.True(t, sess.Stats.Done())
}

func TestRun_ConsumesGatewayEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s, gw, _ := newTestScheduler(t, Config{MaxConcurrentTabs: 1, JobTimeout: time.Minute}, 1)
	go s.Run(ctx)

	_, err := s.StartSession(ctx, nil)
	require.NoError(t, err)
	waitAttached(t, s, gw, 1)

	gw.events <- models.WorkerEvent{Handle: "tab-1", Listings: make([]models.Listing, 3)}
	require.Eventually(t, func() bool { return !s.GetStatus().Running }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, s.GetStatus().Session.Stats.Completed)
}
