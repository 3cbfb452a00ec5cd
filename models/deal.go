package models

import "time"

type Stage string

const (
	StageScanner     Stage = "scanner"
	StageAnalysis    Stage = "analysis"
	StageContacted   Stage = "contacted"
	StageNegotiating Stage = "negotiating"
	StageScheduled   Stage = "scheduled"
	StagePurchased   Stage = "purchased"
	StageTesting     Stage = "testing"
	StageRefurbing   Stage = "refurbing"
	StageListed      Stage = "listed"
	StageSold        Stage = "sold"
	StageArchived    Stage = "archived"
)

// Stages lists every stage in lifecycle order.
var Stages = []Stage{
	StageScanner, StageAnalysis, StageContacted, StageNegotiating, StageScheduled,
	StagePurchased, StageTesting, StageRefurbing, StageListed, StageSold, StageArchived,
}

func (s Stage) Valid() bool {
	for _, st := range Stages {
		if st == s {
			return true
		}
	}
	return false
}

type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

type StageEntry struct {
	Stage     Stage      `json:"stage"`
	EnteredAt time.Time  `json:"entered_at"`
	ExitedAt  *time.Time `json:"exited_at,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

type Costs struct {
	Purchase float64 `json:"purchase"`
	Parts    float64 `json:"parts"`
	Shipping float64 `json:"shipping"`
	Fees     float64 `json:"fees"`
	Other    float64 `json:"other"`
	Total    float64 `json:"total"`
}

type Revenue struct {
	SalePrice float64 `json:"sale_price"`
	Shipping  float64 `json:"shipping"`
	Total     float64 `json:"total"`
}

type MessageDirection string

const (
	MessageInbound  MessageDirection = "inbound"
	MessageOutbound MessageDirection = "outbound"
)

type Message struct {
	ID        string           `json:"id"`
	Direction MessageDirection `json:"direction"`
	Channel   string           `json:"channel,omitempty"`
	Body      string           `json:"body"`
	SentAt    time.Time        `json:"sent_at"`
}

type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Due         *time.Time `json:"due,omitempty"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Priority    Priority   `json:"priority"`
}

type DealMetrics struct {
	TimeInStage time.Duration `json:"time_in_stage"`
	TotalTime   time.Duration `json:"total_time"`
	TouchPoints int           `json:"touch_points"`
}

type Action struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	At          time.Time `json:"at"`
}

// PipelineDeal is a listing under active tracking. Only the pipeline mutates it.
type PipelineDeal struct {
	DealID          string       `json:"deal_id"`
	Listing         Listing      `json:"listing"`
	Stage           Stage        `json:"stage"`
	Priority        Priority     `json:"priority"`
	AddedToPipeline time.Time    `json:"added_to_pipeline"`
	StageHistory    []StageEntry `json:"stage_history"`
	Costs           Costs        `json:"costs"`
	Revenue         Revenue      `json:"revenue"`
	Messages        []Message    `json:"messages"`
	Tasks           []Task       `json:"tasks"`
	Tags            []string     `json:"tags"`
	AutoAdvance     bool         `json:"auto_advance"`
	Notifications   bool         `json:"notifications"`
	Metrics         DealMetrics  `json:"metrics"`
	Actions         []Action     `json:"actions"`
}

// OpenEntry returns the history entry for the current stage, or nil if the
// history is malformed.
func (d *PipelineDeal) OpenEntry() *StageEntry {
	for i := len(d.StageHistory) - 1; i >= 0; i-- {
		if d.StageHistory[i].ExitedAt == nil {
			return &d.StageHistory[i]
		}
	}
	return nil
}

// OpenTasks counts tasks not yet completed.
func (d *PipelineDeal) OpenTasks() int {
	n := 0
	for _, t := range d.Tasks {
		if !t.Completed {
			n++
		}
	}
	return n
}

// Clone returns a deep copy.
func (d *PipelineDeal) Clone() *PipelineDeal {
	if d == nil {
		return nil
	}
	c := *d
	c.Listing = d.Listing.Clone()
	c.StageHistory = make([]StageEntry, len(d.StageHistory))
	for i, e := range d.StageHistory {
		if e.ExitedAt != nil {
			t := *e.ExitedAt
			e.ExitedAt = &t
		}
		c.StageHistory[i] = e
	}
	c.Messages = append([]Message(nil), d.Messages...)
	c.Tasks = make([]Task, len(d.Tasks))
	for i, t := range d.Tasks {
		if t.Due != nil {
			due := *t.Due
			t.Due = &due
		}
		if t.CompletedAt != nil {
			at := *t.CompletedAt
			t.CompletedAt = &at
		}
		c.Tasks[i] = t
	}
	c.Tags = append([]string(nil), d.Tags...)
	c.Actions = append([]Action(nil), d.Actions...)
	return &c
}
