// Package scheduler runs scan sessions: batches of saved-search scans
// dispatched to workers with a concurrency cap, per-job timeouts and an
// idle gate that pauses dispatch while the operator is at the machine.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"rigflip/events"
	"rigflip/models"
	"rigflip/storage"
)

var log = logrus.WithField("component", "scheduler")

var (
	ErrAlreadyRunning     = errors.New("scan session already running")
	ErrNoSearchesSelected = errors.New("no searches selected")
)

const (
	ReasonTimeout     = "Scan timed out"
	ReasonWorkerGone  = "Worker closed unexpectedly"
	ReasonInterrupted = "Scheduler restarted"

	DefaultMaxConcurrentTabs = 3
	DefaultJobTimeout        = 60 * time.Second
	DefaultIdleThreshold     = 60 * time.Second
	DefaultIdleCooldown      = 30 * time.Second
	HistoryLimit             = 50

	idleQueryTimeout = 2 * time.Second
)

type Config struct {
	MaxConcurrentTabs int
	JobTimeout        time.Duration
	// IdleThreshold is how long the operator must have been inactive
	// before dispatch is allowed.
	IdleThreshold time.Duration
	// IdleCooldown is the wait before re-querying the idle gate after it
	// reported activity.
	IdleCooldown     time.Duration
	NotifyOnComplete bool
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentTabs <= 0 {
		c.MaxConcurrentTabs = DefaultMaxConcurrentTabs
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = DefaultJobTimeout
	}
	if c.IdleThreshold <= 0 {
		c.IdleThreshold = DefaultIdleThreshold
	}
	if c.IdleCooldown <= 0 {
		c.IdleCooldown = DefaultIdleCooldown
	}
	return c
}

type EventType string

const (
	EventSessionStarted   EventType = "session_started"
	EventSessionStopped   EventType = "session_stopped"
	EventSessionCompleted EventType = "session_completed"
	EventSessionPaused    EventType = "session_paused"
	EventSessionResumed   EventType = "session_resumed"
	EventJobStarted       EventType = "job_started"
	EventJobCompleted     EventType = "job_completed"
	EventJobFailed        EventType = "job_failed"
)

// Event carries snapshots; listeners may keep them.
type Event struct {
	Type    EventType
	Session *models.ScanSession
	Job     *models.ScanJob
	At      time.Time
}

type Status struct {
	Running     bool
	Paused      bool
	Session     *models.ScanSession
	ActiveJobs  []*models.ScanJob
	QueueLength int
}

type Scheduler struct {
	cfg      Config
	gateway  Gateway
	store    storage.KV
	searches SearchSource
	idle     IdleGate
	results  ResultHandler
	notifier Notifier
	bus      *events.Bus[Event]

	saveMu sync.Mutex

	mu      sync.Mutex
	running bool
	paused  bool
	// held is an explicit operator pause. The idle gate never lifts it.
	held     bool
	session  *models.ScanSession
	history  []*models.ScanSession
	jobs     map[string]*models.ScanJob
	queue    []string
	active   map[string]*models.ScanJob
	handles  map[string]string
	timers   map[string]*time.Timer
	settling map[string]bool
	// idleTimer re-queries the gate after it paused dispatch.
	idleTimer *time.Timer
	idleGen   int
}

// New creates a scheduler. The idle gate, result handler and notifier are
// optional and attached with the Set methods before the first session.
func New(cfg Config, gateway Gateway, store storage.KV, searches SearchSource) *Scheduler {
	return &Scheduler{
		cfg:      cfg.withDefaults(),
		gateway:  gateway,
		store:    store,
		searches: searches,
		bus:      events.NewBus[Event]("scheduler"),
		jobs:     make(map[string]*models.ScanJob),
		active:   make(map[string]*models.ScanJob),
		handles:  make(map[string]string),
		timers:   make(map[string]*time.Timer),
		settling: make(map[string]bool),
	}
}

func (s *Scheduler) SetIdleGate(g IdleGate)           { s.idle = g }
func (s *Scheduler) SetResultHandler(h ResultHandler) { s.results = h }
func (s *Scheduler) SetNotifier(n Notifier)           { s.notifier = n }

// Subscribe registers a listener for scheduler events.
func (s *Scheduler) Subscribe(fn func(Event)) func() {
	return s.bus.Subscribe(fn)
}

// effects collects the side effects of a locked mutation so they can run
// after the lock is released.
type effects struct {
	events    []Event
	launch    []*models.ScanJob
	terminate []string
	save      bool
	completed *models.ScanSession
	// gate names the session whose dispatch waits on an idle gate query.
	gate string
}

func (s *Scheduler) emitLocked(fx *effects, typ EventType, job *models.ScanJob) {
	fx.events = append(fx.events, Event{
		Type:    typ,
		Session: s.session.Clone(),
		Job:     job.Clone(),
		At:      time.Now(),
	})
}

// apply runs collected effects: worker teardown, then persistence, then
// events, then new worker launches. Events are only published once the
// state they describe has been written.
func (s *Scheduler) apply(ctx context.Context, fx *effects) {
	for _, h := range fx.terminate {
		if err := s.gateway.Terminate(ctx, h); err != nil {
			log.WithError(err).WithField("handle", h).Debug("Terminate worker")
		}
	}
	if fx.save {
		s.persist(ctx)
	}
	for _, e := range fx.events {
		s.bus.Publish(e)
	}
	if fx.completed != nil {
		s.notifyCompleted(ctx, fx.completed)
	}
	for _, job := range fx.launch {
		go s.launch(job)
	}
	if fx.gate != "" {
		s.gateDispatch(ctx, fx.gate)
	}
}

// Load restores session history. A session left open by a previous process
// is finalized: its pending jobs are cancelled and running jobs failed.
func (s *Scheduler) Load(ctx context.Context) error {
	data, err := s.store.Get(ctx, storage.KeyScanSessions)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load scan sessions: %w", err)
	}
	var history []*models.ScanSession
	if err := json.Unmarshal(data, &history); err != nil {
		return fmt.Errorf("decode scan sessions: %w", err)
	}

	interrupted := false
	for _, sess := range history {
		if sess == nil || sess.CompletedAt != nil {
			continue
		}
		interrupted = true
		finalizeInterrupted(sess, time.Now())
	}

	s.mu.Lock()
	if len(history) > HistoryLimit {
		history = history[:HistoryLimit]
	}
	s.history = history
	s.mu.Unlock()

	if interrupted {
		log.Warn("Finalized scan session interrupted by restart")
		s.persist(ctx)
	}
	log.WithField("sessions", len(history)).Info("Loaded scan history")
	return nil
}

func finalizeInterrupted(sess *models.ScanSession, now time.Time) {
	for _, job := range sess.Jobs {
		switch job.Status {
		case models.JobStatusPending:
			job.Status = models.JobStatusCancelled
			job.CompletedAt = &now
			sess.Stats.Cancelled++
		case models.JobStatusRunning:
			job.Status = models.JobStatusFailed
			job.Error = ReasonInterrupted
			job.CompletedAt = &now
			sess.Stats.Failed++
		}
	}
	sess.CompletedAt = &now
}

// History returns copies of past sessions, most recent first.
func (s *Scheduler) History() []*models.ScanSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.ScanSession, len(s.history))
	for i, sess := range s.history {
		out[i] = sess.Clone()
	}
	return out
}

// StartSession creates a session covering searchIDs, or every enabled saved
// search when none are given, and begins dispatch.
func (s *Scheduler) StartSession(ctx context.Context, searchIDs []string) (*models.ScanSession, error) {
	resolved := s.resolveSearches(searchIDs)

	fx := &effects{}
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	if len(resolved) == 0 {
		s.mu.Unlock()
		return nil, ErrNoSearchesSelected
	}

	session := &models.ScanSession{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		Stats:     models.SessionStats{Total: len(resolved)},
	}
	s.jobs = make(map[string]*models.ScanJob, len(resolved))
	s.active = make(map[string]*models.ScanJob)
	s.handles = make(map[string]string)
	s.settling = make(map[string]bool)
	s.queue = s.queue[:0]
	for _, search := range resolved {
		job := &models.ScanJob{
			ID:         uuid.NewString(),
			SearchID:   search.ID,
			SearchName: search.Name,
			URL:        search.URL,
			Site:       search.Site,
			Status:     models.JobStatusPending,
		}
		session.Jobs = append(session.Jobs, job)
		s.jobs[job.ID] = job
		s.queue = append(s.queue, job.ID)
	}

	s.session = session
	s.running = true
	s.paused = false
	s.held = false
	s.history = append([]*models.ScanSession{session}, s.history...)
	if len(s.history) > HistoryLimit {
		s.history = s.history[:HistoryLimit]
	}

	fx.save = true
	s.emitLocked(fx, EventSessionStarted, nil)
	s.processQueueLocked(fx)
	snapshot := session.Clone()
	s.mu.Unlock()

	log.WithFields(logrus.Fields{
		"session":  session.ID,
		"searches": len(resolved),
	}).Info("Scan session started")
	s.apply(ctx, fx)
	return snapshot, nil
}

func (s *Scheduler) resolveSearches(ids []string) []models.SavedSearch {
	if s.searches == nil {
		return nil
	}
	all := s.searches.SavedSearches()
	if len(ids) == 0 {
		var enabled []models.SavedSearch
		for _, search := range all {
			if search.Enabled {
				enabled = append(enabled, search)
			}
		}
		return enabled
	}

	byID := make(map[string]models.SavedSearch, len(all))
	for _, search := range all {
		byID[search.ID] = search
	}
	seen := make(map[string]bool, len(ids))
	var out []models.SavedSearch
	for _, id := range ids {
		search, ok := byID[id]
		if !ok {
			log.WithField("search", id).Warn("Unknown saved search")
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, search)
	}
	return out
}

// StopSession cancels every queued and active job. It does nothing when no
// session is running.
func (s *Scheduler) StopSession(ctx context.Context) {
	fx := &effects{}
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}

	now := time.Now()
	for _, id := range s.queue {
		job := s.jobs[id]
		if job == nil || job.Status != models.JobStatusPending {
			continue
		}
		job.Status = models.JobStatusCancelled
		job.CompletedAt = &now
		s.session.Stats.Cancelled++
	}
	s.queue = s.queue[:0]

	for id, job := range s.active {
		s.stopTimerLocked(id)
		if job.WorkerHandle != "" {
			delete(s.handles, job.WorkerHandle)
			fx.terminate = append(fx.terminate, job.WorkerHandle)
		}
		job.Status = models.JobStatusCancelled
		job.CompletedAt = &now
		s.session.Stats.Cancelled++
		delete(s.active, id)
	}
	s.settling = make(map[string]bool)

	s.cancelIdleRecheckLocked()
	s.running = false
	s.paused = false
	s.held = false
	s.session.CompletedAt = &now

	fx.save = true
	s.emitLocked(fx, EventSessionStopped, nil)
	stats := s.session.Stats
	s.mu.Unlock()

	log.WithFields(logrus.Fields{
		"completed": stats.Completed,
		"failed":    stats.Failed,
		"cancelled": stats.Cancelled,
	}).Info("Scan session stopped")
	s.apply(ctx, fx)
}

// SetPaused toggles dispatch. Jobs already running are unaffected. An
// explicit pause holds even when dispatch was already paused by the idle
// gate, and only SetPaused(false) lifts it.
func (s *Scheduler) SetPaused(ctx context.Context, paused bool) {
	fx := &effects{}
	s.mu.Lock()
	if s.held == paused && s.paused == paused {
		s.mu.Unlock()
		return
	}
	s.held = paused
	s.cancelIdleRecheckLocked()
	if paused {
		if !s.paused {
			s.paused = true
			s.emitLocked(fx, EventSessionPaused, nil)
		}
	} else {
		s.paused = false
		s.emitLocked(fx, EventSessionResumed, nil)
		s.processQueueLocked(fx)
	}
	s.mu.Unlock()

	s.apply(ctx, fx)
}

// GetStatus returns a snapshot of the scheduler state.
func (s *Scheduler) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running:     s.running,
		Paused:      s.paused,
		Session:     s.session.Clone(),
		QueueLength: len(s.queue),
	}
	if s.session != nil {
		for _, job := range s.session.Jobs {
			if _, ok := s.active[job.ID]; ok {
				st.ActiveJobs = append(st.ActiveJobs, job.Clone())
			}
		}
	}
	return st
}

// processQueueLocked dispatches queued jobs up to the concurrency cap and
// completes the session once nothing is queued or active. Safe to call from
// any path; it only acts on state it observes. With an idle gate attached,
// dispatch is deferred until the gate has been queried outside the lock.
func (s *Scheduler) processQueueLocked(fx *effects) {
	if !s.running || s.paused {
		return
	}
	if s.idle != nil && s.dispatchableLocked() {
		fx.gate = s.session.ID
		return
	}
	s.drainQueueLocked(fx)
}

// dispatchableLocked reports whether a pending job could start now. It
// drops finished jobs from the head of the queue.
func (s *Scheduler) dispatchableLocked() bool {
	for len(s.queue) > 0 {
		job := s.jobs[s.queue[0]]
		if job != nil && job.Status == models.JobStatusPending {
			return len(s.active) < s.cfg.MaxConcurrentTabs
		}
		s.queue = s.queue[1:]
	}
	return false
}

func (s *Scheduler) drainQueueLocked(fx *effects) {
	for len(s.active) < s.cfg.MaxConcurrentTabs && len(s.queue) > 0 {
		jobID := s.queue[0]
		s.queue = s.queue[1:]
		job := s.jobs[jobID]
		if job == nil || job.Status != models.JobStatusPending {
			continue
		}
		s.dispatchLocked(fx, job)
	}

	if len(s.queue) == 0 && len(s.active) == 0 {
		s.completeSessionLocked(fx)
	}
}

// gateDispatch queries the idle gate without holding the lock, then either
// dispatches or pauses. State is re-checked after the query since it may
// have moved on meanwhile.
func (s *Scheduler) gateDispatch(ctx context.Context, sessionID string) {
	active := s.operatorActive(ctx)

	fx := &effects{}
	s.mu.Lock()
	if !s.running || s.paused || s.session == nil || s.session.ID != sessionID {
		s.mu.Unlock()
		return
	}
	if active && s.dispatchableLocked() {
		s.paused = true
		s.scheduleIdleRecheckLocked()
		s.emitLocked(fx, EventSessionPaused, nil)
		log.WithField("cooldown", s.cfg.IdleCooldown).Info("Operator active, pausing dispatch")
	} else {
		s.drainQueueLocked(fx)
	}
	s.mu.Unlock()

	s.apply(ctx, fx)
}

func (s *Scheduler) operatorActive(ctx context.Context) bool {
	if s.idle == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, idleQueryTimeout)
	defer cancel()
	activity, err := s.idle.QueryActivity(ctx, s.cfg.IdleThreshold)
	if err != nil {
		log.WithError(err).Warn("Idle gate query failed, treating as idle")
		return false
	}
	return activity == models.ActivityActive
}

func (s *Scheduler) dispatchLocked(fx *effects, job *models.ScanJob) {
	now := time.Now()
	job.Status = models.JobStatusRunning
	job.StartedAt = &now
	s.active[job.ID] = job

	jobID := job.ID
	s.timers[jobID] = time.AfterFunc(s.cfg.JobTimeout, func() {
		if s.finish(context.Background(), jobID, outcome{status: models.JobStatusFailed, reason: ReasonTimeout}) {
			log.WithField("job", jobID).Warn("Scan timed out")
		}
	})

	fx.save = true
	fx.launch = append(fx.launch, job.Clone())
	s.emitLocked(fx, EventJobStarted, job)
}

// launch drives a dispatched job through spawn, inject and send. Any error
// fails the job.
func (s *Scheduler) launch(job *models.ScanJob) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()

	handle, err := s.gateway.Spawn(ctx, job.URL)
	if err != nil {
		s.failJob(job.ID, fmt.Sprintf("Failed to open worker: %v", err))
		return
	}
	if !s.attachHandle(job.ID, handle) {
		// The job ended while its worker was opening.
		if err := s.gateway.Terminate(ctx, handle); err != nil {
			log.WithError(err).WithField("handle", handle).Debug("Terminate late worker")
		}
		return
	}
	if err := s.gateway.Inject(ctx, handle); err != nil {
		s.failJob(job.ID, fmt.Sprintf("Failed to inject scanner: %v", err))
		return
	}
	cmd := models.StartScan{JobID: job.ID, SearchID: job.SearchID, Site: job.Site}
	if err := s.gateway.Send(ctx, handle, cmd); err != nil {
		s.failJob(job.ID, fmt.Sprintf("Failed to start scan: %v", err))
	}
}

func (s *Scheduler) attachHandle(jobID, handle string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.active[jobID]
	if !ok {
		return false
	}
	job.WorkerHandle = handle
	s.handles[handle] = jobID
	return true
}

func (s *Scheduler) failJob(jobID, reason string) {
	if s.finish(context.Background(), jobID, outcome{status: models.JobStatusFailed, reason: reason}) {
		log.WithFields(logrus.Fields{"job": jobID, "reason": reason}).Warn("Scan job failed")
	}
}

// HandleWorkerEvent routes a gateway event to the job owning the handle.
// Events for unknown or already finished jobs are dropped. A result event
// claims its job before the listings are processed, so a timeout or a late
// close cannot finish the job meanwhile.
func (s *Scheduler) HandleWorkerEvent(ctx context.Context, ev models.WorkerEvent) {
	failed := ev.Gone || ev.Err != nil

	s.mu.Lock()
	jobID, ok := s.handles[ev.Handle]
	var job *models.ScanJob
	if ok && !s.settling[jobID] {
		job = s.active[jobID].Clone()
	}
	if job != nil && !failed {
		s.settling[jobID] = true
		s.stopTimerLocked(jobID)
	}
	s.mu.Unlock()
	if job == nil {
		log.WithField("handle", ev.Handle).Debug("Event for unknown worker")
		return
	}

	switch {
	case ev.Gone:
		s.failJob(jobID, ReasonWorkerGone)
	case ev.Err != nil:
		s.failJob(jobID, ev.Err.Error())
	default:
		var newListings, goodDeals int
		if s.results != nil {
			newListings, goodDeals = s.results.HandleResults(ctx, job, ev.Listings)
		}
		n := len(ev.Listings)
		done := s.finish(ctx, jobID, outcome{
			status:      models.JobStatusCompleted,
			results:     &n,
			newListings: newListings,
			goodDeals:   goodDeals,
			claimed:     true,
		})
		if done {
			log.WithFields(logrus.Fields{
				"job":      jobID,
				"search":   job.SearchName,
				"listings": n,
				"new":      newListings,
			}).Info("Scan job completed")
		}
	}
}

// Run consumes gateway events until ctx is done or the channel closes.
func (s *Scheduler) Run(ctx context.Context) {
	ch := s.gateway.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			s.HandleWorkerEvent(ctx, ev)
		}
	}
}

type outcome struct {
	status      models.JobStatus
	reason      string
	results     *int
	newListings int
	goodDeals   int
	// claimed is set by the result path that reserved the job.
	claimed bool
}

// finish moves an active job to a terminal status and dispatches the next
// one. It returns false if the job was not active, or if it is claimed by
// a result still being processed.
func (s *Scheduler) finish(ctx context.Context, jobID string, out outcome) bool {
	fx := &effects{}
	s.mu.Lock()
	job, ok := s.active[jobID]
	if !ok || s.settling[jobID] != out.claimed {
		s.mu.Unlock()
		return false
	}
	delete(s.active, jobID)
	delete(s.settling, jobID)
	s.stopTimerLocked(jobID)
	if job.WorkerHandle != "" {
		delete(s.handles, job.WorkerHandle)
		fx.terminate = append(fx.terminate, job.WorkerHandle)
	}

	now := time.Now()
	job.Status = out.status
	job.CompletedAt = &now
	switch out.status {
	case models.JobStatusCompleted:
		job.ResultsCount = out.results
		s.session.Stats.Completed++
		s.session.Stats.NewListings += out.newListings
		s.session.Stats.GoodDeals += out.goodDeals
		s.emitLocked(fx, EventJobCompleted, job)
	default:
		job.Error = out.reason
		s.session.Stats.Failed++
		s.emitLocked(fx, EventJobFailed, job)
	}
	fx.save = true

	s.processQueueLocked(fx)
	s.mu.Unlock()

	s.apply(ctx, fx)
	return true
}

func (s *Scheduler) completeSessionLocked(fx *effects) {
	if !s.running {
		return
	}
	now := time.Now()
	s.running = false
	s.paused = false
	s.held = false
	s.session.CompletedAt = &now
	s.cancelIdleRecheckLocked()

	fx.save = true
	s.emitLocked(fx, EventSessionCompleted, nil)
	if s.cfg.NotifyOnComplete && s.notifier != nil {
		fx.completed = s.session.Clone()
	}
	log.WithFields(logrus.Fields{
		"session":   s.session.ID,
		"completed": s.session.Stats.Completed,
		"failed":    s.session.Stats.Failed,
		"new":       s.session.Stats.NewListings,
	}).Info("Scan session completed")
}

func (s *Scheduler) notifyCompleted(ctx context.Context, sess *models.ScanSession) {
	msg := fmt.Sprintf("Scanned %d searches, found %d new listings", sess.Stats.Total, sess.Stats.NewListings)
	if err := s.notifier.Notify(ctx, "Scan complete", msg); err != nil {
		log.WithError(err).Warn("Completion notification failed")
	}
}

func (s *Scheduler) stopTimerLocked(jobID string) {
	if t, ok := s.timers[jobID]; ok {
		t.Stop()
		delete(s.timers, jobID)
	}
}

func (s *Scheduler) scheduleIdleRecheckLocked() {
	s.cancelIdleRecheckLocked()
	gen := s.idleGen
	s.idleTimer = time.AfterFunc(s.cfg.IdleCooldown, func() { s.recheckIdle(gen) })
}

// cancelIdleRecheckLocked also invalidates a recheck that already fired and
// is waiting on the lock.
func (s *Scheduler) cancelIdleRecheckLocked() {
	s.idleGen++
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
}

func (s *Scheduler) recheckIdle(gen int) {
	if !s.idleRecheckDue(gen) {
		return
	}
	ctx := context.Background()
	active := s.operatorActive(ctx)

	fx := &effects{}
	s.mu.Lock()
	if !s.idleRecheckDueLocked(gen) {
		s.mu.Unlock()
		return
	}
	s.idleTimer = nil
	if active {
		s.scheduleIdleRecheckLocked()
		s.mu.Unlock()
		return
	}
	s.paused = false
	s.emitLocked(fx, EventSessionResumed, nil)
	s.drainQueueLocked(fx)
	s.mu.Unlock()

	s.apply(ctx, fx)
}

func (s *Scheduler) idleRecheckDue(gen int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idleRecheckDueLocked(gen)
}

// idleRecheckDueLocked is false for a cancelled recheck. An explicit
// operator pause also blocks it.
func (s *Scheduler) idleRecheckDueLocked(gen int) bool {
	return gen == s.idleGen && s.running && s.paused && !s.held
}

// persist writes the session history. Failures are logged; in-memory state
// stays authoritative.
func (s *Scheduler) persist(ctx context.Context) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	data, err := json.Marshal(s.history)
	s.mu.Unlock()
	if err != nil {
		log.WithError(err).Error("Encode scan sessions")
		return
	}
	if err := s.store.Set(ctx, storage.KeyScanSessions, data); err != nil {
		log.WithError(err).Error("Failed to persist scan sessions")
	}
}
