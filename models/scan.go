package models

import "time"

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether a job in this status can no longer change.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// SavedSearch is a marketplace search URL the operator wants scanned.
type SavedSearch struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	URL     string `json:"url" yaml:"url"`
	Site    string `json:"site" yaml:"site"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

type ScanJob struct {
	ID           string     `json:"id"`
	SearchID     string     `json:"search_id"`
	SearchName   string     `json:"search_name"`
	URL          string     `json:"url"`
	Site         string     `json:"site,omitempty"`
	Status       JobStatus  `json:"status"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Error        string     `json:"error,omitempty"`
	ResultsCount *int       `json:"results_count,omitempty"`
	WorkerHandle string     `json:"worker_handle,omitempty"`
}

func (j *ScanJob) Clone() *ScanJob {
	if j == nil {
		return nil
	}
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	if j.ResultsCount != nil {
		n := *j.ResultsCount
		c.ResultsCount = &n
	}
	return &c
}

type SessionStats struct {
	Total       int `json:"total"`
	Completed   int `json:"completed"`
	Failed      int `json:"failed"`
	Cancelled   int `json:"cancelled"`
	NewListings int `json:"new_listings"`
	GoodDeals   int `json:"good_deals"`
}

// Finished is the number of jobs that reached a terminal state.
func (s SessionStats) Finished() int {
	return s.Completed + s.Failed + s.Cancelled
}

// Done reports whether every job in the session is terminal.
func (s SessionStats) Done() bool {
	return s.Finished() == s.Total
}

type ScanSession struct {
	ID          string       `json:"id"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Jobs        []*ScanJob   `json:"jobs"`
	Stats       SessionStats `json:"stats"`
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s *ScanSession) Clone() *ScanSession {
	if s == nil {
		return nil
	}
	c := *s
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	c.Jobs = make([]*ScanJob, len(s.Jobs))
	for i, j := range s.Jobs {
		c.Jobs[i] = j.Clone()
	}
	return &c
}
