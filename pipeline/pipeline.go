// Package pipeline tracks deals through the stages of a buy, refurbish and
// resell workflow. All deal mutation goes through a Pipeline.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"rigflip/events"
	"rigflip/models"
	"rigflip/storage"
)

var log = logrus.WithField("component", "pipeline")

var (
	ErrDealExists   = errors.New("listing already in pipeline")
	ErrUnknownStage = errors.New("unknown stage")
)

const (
	ReasonAdded       = "Added to pipeline"
	ReasonAutoAdvance = "Auto-advanced for analysis"
	ReasonPoorDeal    = "Poor deal - auto archived"
	ReasonAged        = "Auto-archived due to age"

	DefaultAutoAdvanceDelay     = 2 * time.Second
	DefaultPoorDealArchiveDelay = 5 * time.Second
	DefaultArchiveAfterDays     = 90
)

type Config struct {
	// AutoAdvance and Notifications are the defaults for new deals.
	AutoAdvance          bool
	Notifications        bool
	AutoAdvanceDelay     time.Duration
	PoorDealArchiveDelay time.Duration
	Now                  func() time.Time
}

type EventType string

const (
	EventDealAdded      EventType = "deal_added"
	EventStageChanged   EventType = "stage_changed"
	EventDealUpdated    EventType = "deal_updated"
	EventMessageAdded   EventType = "message_added"
	EventTaskCompleted  EventType = "task_completed"
	EventStageSuggested EventType = "stage_suggested"
)

// Event carries a copy of the deal after the change plus the fields that
// apply to its type.
type Event struct {
	Type      EventType
	Deal      *models.PipelineDeal
	From      models.Stage
	To        models.Stage
	Reason    string
	Fields    []string
	Message   *models.Message
	Task      *models.Task
	Suggested models.Stage
	At        time.Time
}

// DealPatch holds the fields UpdateDeal may replace. Nil fields are left
// alone. Stage is not patchable; use AdvanceStage.
type DealPatch struct {
	Priority      *models.Priority
	Costs         *models.Costs
	Revenue       *models.Revenue
	Tags          []string
	AutoAdvance   *bool
	Notifications *bool
	Listing       *models.Listing
}

func (p DealPatch) apply(d *models.PipelineDeal) []string {
	var fields []string
	if p.Priority != nil {
		d.Priority = *p.Priority
		fields = append(fields, "priority")
	}
	if p.Costs != nil {
		d.Costs = *p.Costs
		fields = append(fields, "costs")
	}
	if p.Revenue != nil {
		d.Revenue = *p.Revenue
		fields = append(fields, "revenue")
	}
	if p.Tags != nil {
		d.Tags = append([]string(nil), p.Tags...)
		fields = append(fields, "tags")
	}
	if p.AutoAdvance != nil {
		d.AutoAdvance = *p.AutoAdvance
		fields = append(fields, "autoAdvance")
	}
	if p.Notifications != nil {
		d.Notifications = *p.Notifications
		fields = append(fields, "notifications")
	}
	if p.Listing != nil {
		d.Listing = p.Listing.Clone()
		fields = append(fields, "listing")
	}
	return fields
}

type Pipeline struct {
	cfg   Config
	store storage.KV
	bus   *events.Bus[Event]
	now   func() time.Time

	saveMu sync.Mutex

	mu        sync.Mutex
	deals     map[string]*models.PipelineDeal
	byListing map[string]string
	timers    map[int]*time.Timer
	nextTimer int
	closed    bool
}

func New(cfg Config, store storage.KV) *Pipeline {
	if cfg.AutoAdvanceDelay <= 0 {
		cfg.AutoAdvanceDelay = DefaultAutoAdvanceDelay
	}
	if cfg.PoorDealArchiveDelay <= 0 {
		cfg.PoorDealArchiveDelay = DefaultPoorDealArchiveDelay
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Pipeline{
		cfg:       cfg,
		store:     store,
		bus:       events.NewBus[Event]("pipeline"),
		now:       now,
		deals:     make(map[string]*models.PipelineDeal),
		byListing: make(map[string]string),
		timers:    make(map[int]*time.Timer),
	}
}

// Subscribe registers a listener for pipeline events.
func (p *Pipeline) Subscribe(fn func(Event)) func() {
	return p.bus.Subscribe(fn)
}

func (p *Pipeline) publish(e Event) {
	if e.At.IsZero() {
		e.At = p.now()
	}
	p.bus.Publish(e)
}

// PriorityFor derives a deal priority from a listing's appraisal.
func PriorityFor(l models.Listing) models.Priority {
	switch {
	case l.ROI > 100 && l.Urgent:
		return models.PriorityUrgent
	case l.ROI > 50:
		return models.PriorityHigh
	case l.ROI > 20:
		return models.PriorityNormal
	default:
		return models.PriorityLow
	}
}

func deriveTags(l models.Listing) []string {
	seen := make(map[string]bool)
	tags := []string{}
	add := func(tag string) {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			return
		}
		seen[tag] = true
		tags = append(tags, tag)
	}
	for _, kw := range l.Keywords {
		add(kw)
	}
	if l.DealQuality != "" && l.DealQuality != models.QualityUnknown {
		add(string(l.DealQuality))
	}
	if l.Urgent {
		add("urgent")
	}
	if l.Bundle {
		add("bundle")
	}
	return tags
}

func newAction(typ, desc string, at time.Time) models.Action {
	return models.Action{ID: uuid.NewString(), Type: typ, Description: desc, At: at}
}

// AddToPipeline starts tracking a listing. An empty stage means scanner.
func (p *Pipeline) AddToPipeline(ctx context.Context, listing models.Listing, stage models.Stage) (*models.PipelineDeal, error) {
	if stage == "" {
		stage = models.StageScanner
	}
	if !stage.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStage, stage)
	}

	p.mu.Lock()
	if listing.ID != "" {
		if _, ok := p.byListing[listing.ID]; ok {
			p.mu.Unlock()
			return nil, ErrDealExists
		}
	}

	now := p.now()
	priority := PriorityFor(listing)
	deal := &models.PipelineDeal{
		DealID:          uuid.NewString(),
		Listing:         listing.Clone(),
		Stage:           stage,
		Priority:        priority,
		AddedToPipeline: now,
		StageHistory:    []models.StageEntry{{Stage: stage, EnteredAt: now, Reason: ReasonAdded}},
		Costs:           models.Costs{Purchase: listing.Price, Total: listing.Price},
		Messages:        []models.Message{},
		Tasks:           initialTasks(listing, priority, now),
		Tags:            deriveTags(listing),
		AutoAdvance:     p.cfg.AutoAdvance,
		Notifications:   p.cfg.Notifications,
		Actions:         []models.Action{newAction("created", fmt.Sprintf("Added to pipeline in %s", stage), now)},
	}
	p.deals[deal.DealID] = deal
	if listing.ID != "" {
		p.byListing[listing.ID] = deal.DealID
	}
	if deal.AutoAdvance && stage == models.StageScanner {
		p.scheduleAdvanceLocked(deal.DealID, models.StageScanner, models.StageAnalysis, ReasonAutoAdvance, p.cfg.AutoAdvanceDelay)
	}
	snapshot := deal.Clone()
	p.mu.Unlock()

	log.WithFields(logrus.Fields{
		"deal":     snapshot.DealID,
		"title":    listing.Title,
		"priority": priority,
	}).Info("Deal added to pipeline")
	p.persist(ctx)
	p.publish(Event{Type: EventDealAdded, Deal: snapshot, To: stage, At: now})
	return snapshot.Clone(), nil
}

// AdvanceStage moves a deal along a registered edge. It returns false and
// leaves the deal untouched when the deal is unknown, the edge does not
// exist or its condition fails.
func (p *Pipeline) AdvanceStage(ctx context.Context, dealID string, to models.Stage, reason string) bool {
	return p.advance(ctx, dealID, "", to, reason)
}

// advance moves the deal only if it is still in expect, when expect is set.
func (p *Pipeline) advance(ctx context.Context, dealID string, expect, to models.Stage, reason string) bool {
	p.mu.Lock()
	deal, ok := p.deals[dealID]
	if !ok {
		p.mu.Unlock()
		log.WithField("deal", dealID).Warn("Advance requested for unknown deal")
		return false
	}
	from := deal.Stage
	if expect != "" && from != expect {
		p.mu.Unlock()
		return false
	}
	tr, ok := findTransition(from, to)
	if !ok {
		p.mu.Unlock()
		log.WithFields(logrus.Fields{"deal": dealID, "from": from, "to": to}).Warn("No transition between stages")
		return false
	}
	if tr.Condition != nil && !tr.Condition(deal) {
		p.mu.Unlock()
		log.WithFields(logrus.Fields{"deal": dealID, "from": from, "to": to}).Warn("Transition condition not met")
		return false
	}

	now := p.now()
	if open := deal.OpenEntry(); open != nil {
		exited := now
		open.ExitedAt = &exited
	}
	deal.StageHistory = append(deal.StageHistory, models.StageEntry{Stage: to, EnteredAt: now, Reason: reason})
	deal.Stage = to
	desc := fmt.Sprintf("Moved from %s to %s", from, to)
	if reason != "" {
		desc += ": " + reason
	}
	deal.Actions = append(deal.Actions, newAction("stage_change", desc, now))
	deal.Metrics.TouchPoints++
	if tr.Action != nil {
		tr.Action(deal, now)
	}
	deal.Tasks = append(deal.Tasks, tasksForStage(to, now)...)
	snapshot := deal.Clone()
	p.mu.Unlock()

	log.WithFields(logrus.Fields{"deal": dealID, "from": from, "to": to}).Info("Deal stage changed")
	p.persist(ctx)
	p.publish(Event{Type: EventStageChanged, Deal: snapshot, From: from, To: to, Reason: reason, At: now})
	p.runAutomations(ctx, dealID, to)
	return true
}

// runAutomations applies stage-entry hooks after the stage change has been
// published.
func (p *Pipeline) runAutomations(ctx context.Context, dealID string, stage models.Stage) {
	switch stage {
	case models.StageAnalysis:
		p.mu.Lock()
		if d, ok := p.deals[dealID]; ok && d.Listing.DealQuality == models.QualityPoor {
			p.scheduleAdvanceLocked(dealID, models.StageAnalysis, models.StageArchived, ReasonPoorDeal, p.cfg.PoorDealArchiveDelay)
		}
		p.mu.Unlock()
	case models.StageContacted:
		p.mu.Lock()
		d, ok := p.deals[dealID]
		if ok {
			d.Tasks = append(d.Tasks, followUpTask.build(p.now()))
		}
		p.mu.Unlock()
		if ok {
			p.persist(ctx)
		}
	}
}

// scheduleAdvanceLocked arms a tracked timer that advances the deal if it is
// still in from when the timer fires.
func (p *Pipeline) scheduleAdvanceLocked(dealID string, from, to models.Stage, reason string, delay time.Duration) {
	if p.closed {
		return
	}
	p.nextTimer++
	id := p.nextTimer
	p.timers[id] = time.AfterFunc(delay, func() {
		p.mu.Lock()
		delete(p.timers, id)
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return
		}
		p.advance(context.Background(), dealID, from, to, reason)
	})
}

// UpdateDeal merges the set fields of patch into the deal.
func (p *Pipeline) UpdateDeal(ctx context.Context, dealID string, patch DealPatch) bool {
	p.mu.Lock()
	deal, ok := p.deals[dealID]
	if !ok {
		p.mu.Unlock()
		log.WithField("deal", dealID).Warn("Update requested for unknown deal")
		return false
	}
	oldListingID := deal.Listing.ID
	fields := patch.apply(deal)
	if len(fields) == 0 {
		p.mu.Unlock()
		return true
	}
	if deal.Listing.ID != oldListingID {
		delete(p.byListing, oldListingID)
		if deal.Listing.ID != "" {
			p.byListing[deal.Listing.ID] = dealID
		}
	}
	now := p.now()
	deal.Actions = append(deal.Actions, newAction("updated", "Updated fields: "+strings.Join(fields, ", "), now))
	deal.Metrics.TouchPoints++
	snapshot := deal.Clone()
	p.mu.Unlock()

	p.persist(ctx)
	p.publish(Event{Type: EventDealUpdated, Deal: snapshot, Fields: fields, At: now})
	return true
}

// AddMessage appends to the deal's message log. ID and SentAt are filled
// in when empty.
func (p *Pipeline) AddMessage(ctx context.Context, dealID string, msg models.Message) bool {
	p.mu.Lock()
	deal, ok := p.deals[dealID]
	if !ok {
		p.mu.Unlock()
		return false
	}
	now := p.now()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = now
	}
	deal.Messages = append(deal.Messages, msg)
	deal.Actions = append(deal.Actions, newAction("message", fmt.Sprintf("Logged %s message", msg.Direction), now))
	deal.Metrics.TouchPoints++
	snapshot := deal.Clone()
	p.mu.Unlock()

	p.persist(ctx)
	p.publish(Event{Type: EventMessageAdded, Deal: snapshot, Message: &msg, At: now})
	return true
}

// CompleteTask marks a task done. When it was the last open task of an
// auto-advance deal, a next stage is suggested but not applied.
func (p *Pipeline) CompleteTask(ctx context.Context, dealID, taskID string) bool {
	p.mu.Lock()
	deal, ok := p.deals[dealID]
	if !ok {
		p.mu.Unlock()
		return false
	}
	idx := -1
	for i := range deal.Tasks {
		if deal.Tasks[i].ID == taskID {
			idx = i
			break
		}
	}
	if idx < 0 || deal.Tasks[idx].Completed {
		p.mu.Unlock()
		return false
	}

	now := p.now()
	task := &deal.Tasks[idx]
	task.Completed = true
	completedAt := now
	task.CompletedAt = &completedAt
	deal.Actions = append(deal.Actions, newAction("task_completed", "Completed task: "+task.Title, now))
	deal.Metrics.TouchPoints++

	var suggested models.Stage
	if deal.AutoAdvance && deal.OpenTasks() == 0 {
		suggested = nextStage[deal.Stage]
	}
	done := *task
	snapshot := deal.Clone()
	p.mu.Unlock()

	p.persist(ctx)
	p.publish(Event{Type: EventTaskCompleted, Deal: snapshot, Task: &done, At: now})
	if suggested != "" {
		log.WithFields(logrus.Fields{"deal": dealID, "next": suggested}).Info("All tasks complete, suggesting next stage")
		p.publish(Event{Type: EventStageSuggested, Deal: snapshot, From: snapshot.Stage, Suggested: suggested, At: now})
	}
	return true
}

// GetDeal returns a copy of the deal, or nil.
func (p *Pipeline) GetDeal(dealID string) *models.PipelineDeal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deals[dealID].Clone()
}

// GetDealByListing returns the deal tracking a listing, or nil.
func (p *Pipeline) GetDealByListing(listingID string) *models.PipelineDeal {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.byListing[listingID]
	if !ok {
		return nil
	}
	return p.deals[id].Clone()
}

// GetDealsByStage returns copies of deals in stage, or all deals when stage
// is empty, oldest first.
func (p *Pipeline) GetDealsByStage(stage models.Stage) []*models.PipelineDeal {
	return p.filter(func(d *models.PipelineDeal) bool {
		return stage == "" || d.Stage == stage
	})
}

// SearchDeals matches query case-insensitively against title, description,
// CPU and GPU model, and tags.
func (p *Pipeline) SearchDeals(query string) []*models.PipelineDeal {
	q := strings.ToLower(strings.TrimSpace(query))
	return p.filter(func(d *models.PipelineDeal) bool {
		return q == "" || matches(d, q)
	})
}

func matches(d *models.PipelineDeal, q string) bool {
	for _, field := range []string{d.Listing.Title, d.Listing.Description, d.Listing.CPUModel, d.Listing.GPUModel} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	for _, tag := range d.Tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return true
		}
	}
	return false
}

func (p *Pipeline) filter(keep func(*models.PipelineDeal) bool) []*models.PipelineDeal {
	p.mu.Lock()
	out := make([]*models.PipelineDeal, 0, len(p.deals))
	for _, d := range p.deals {
		if keep(d) {
			out = append(out, d.Clone())
		}
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].AddedToPipeline.Equal(out[j].AddedToPipeline) {
			return out[i].DealID < out[j].DealID
		}
		return out[i].AddedToPipeline.Before(out[j].AddedToPipeline)
	})
	return out
}

// ArchiveOldDeals archives every non-archived deal added more than daysOld
// days ago. Deals whose stage has no edge to archived are skipped and
// returned.
func (p *Pipeline) ArchiveOldDeals(ctx context.Context, daysOld int) (int, []string) {
	if daysOld <= 0 {
		daysOld = DefaultArchiveAfterDays
	}
	cutoff := p.now().Add(-time.Duration(daysOld) * 24 * time.Hour)

	p.mu.Lock()
	var candidates []string
	for id, d := range p.deals {
		if d.Stage != models.StageArchived && d.AddedToPipeline.Before(cutoff) {
			candidates = append(candidates, id)
		}
	}
	p.mu.Unlock()
	sort.Strings(candidates)

	archived := 0
	var skipped []string
	for _, id := range candidates {
		if p.AdvanceStage(ctx, id, models.StageArchived, ReasonAged) {
			archived++
		} else {
			skipped = append(skipped, id)
		}
	}
	if len(skipped) > 0 {
		log.WithField("skipped", len(skipped)).Warn("Old deals could not be archived from their current stage")
	}
	return archived, skipped
}

// RefreshMetrics recomputes time-in-stage and total time for every deal.
func (p *Pipeline) RefreshMetrics() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	for _, d := range p.deals {
		if open := d.OpenEntry(); open != nil {
			d.Metrics.TimeInStage = now.Sub(open.EnteredAt)
		}
		d.Metrics.TotalTime = now.Sub(d.AddedToPipeline)
	}
	return len(p.deals)
}

// Load restores deals saved by Save and re-arms the automations of deals
// waiting in scanner or analysis.
func (p *Pipeline) Load(ctx context.Context) error {
	data, err := p.store.Get(ctx, storage.KeyPipelineDeals)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load deals: %w", err)
	}
	deals := make(map[string]*models.PipelineDeal)
	if err := json.Unmarshal(data, &deals); err != nil {
		return fmt.Errorf("decode deals: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.deals = deals
	p.byListing = make(map[string]string, len(deals))
	for id, d := range deals {
		if d.Listing.ID != "" {
			p.byListing[d.Listing.ID] = id
		}
		switch {
		case d.Stage == models.StageScanner && d.AutoAdvance:
			p.scheduleAdvanceLocked(id, models.StageScanner, models.StageAnalysis, ReasonAutoAdvance, p.cfg.AutoAdvanceDelay)
		case d.Stage == models.StageAnalysis && d.Listing.DealQuality == models.QualityPoor:
			p.scheduleAdvanceLocked(id, models.StageAnalysis, models.StageArchived, ReasonPoorDeal, p.cfg.PoorDealArchiveDelay)
		}
	}
	log.WithField("deals", len(deals)).Info("Loaded pipeline")
	return nil
}

// Save writes a snapshot of every deal.
func (p *Pipeline) Save(ctx context.Context) error {
	p.saveMu.Lock()
	defer p.saveMu.Unlock()

	p.mu.Lock()
	data, err := json.Marshal(p.deals)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode deals: %w", err)
	}
	if err := p.store.Set(ctx, storage.KeyPipelineDeals, data); err != nil {
		return fmt.Errorf("save deals: %w", err)
	}
	return nil
}

// persist saves and logs failures; in-memory state stays authoritative.
func (p *Pipeline) persist(ctx context.Context) {
	if err := p.Save(ctx); err != nil {
		log.WithError(err).Error("Failed to persist pipeline")
	}
}

// Close cancels pending automations.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for id, t := range p.timers {
		t.Stop()
		delete(p.timers, id)
	}
}

// PendingAutomations is the number of armed automation timers.
func (p *Pipeline) PendingAutomations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.timers)
}
