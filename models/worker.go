package models

// StartScan is the command sent to a spawned worker to begin scanning its page.
type StartScan struct {
	JobID    string `json:"job_id"`
	SearchID string `json:"search_id"`
	Site     string `json:"site"`
}

// WorkerEvent is delivered asynchronously by a worker gateway. Exactly one of
// Listings, Err or Gone describes the outcome.
type WorkerEvent struct {
	Handle   string
	Listings []Listing
	Err      error
	Gone     bool
}

// Activity is what an idle gate reports about the operator.
type Activity string

const (
	ActivityActive Activity = "active"
	ActivityIdle   Activity = "idle"
)
