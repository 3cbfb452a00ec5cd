package scheduler

import (
	"context"
	"time"

	"rigflip/models"
)

// Gateway spawns and drives the workers (browser tabs) that perform scans.
// Outcomes arrive asynchronously on Events. Send must not retain ctx past
// its return.
type Gateway interface {
	Spawn(ctx context.Context, url string) (string, error)
	Inject(ctx context.Context, handle string) error
	Send(ctx context.Context, handle string, cmd models.StartScan) error
	Terminate(ctx context.Context, handle string) error
	Events() <-chan models.WorkerEvent
}

// IdleGate reports whether the operator is actively using the machine.
// It is queried while the scheduler holds its lock and must return quickly.
type IdleGate interface {
	QueryActivity(ctx context.Context, threshold time.Duration) (models.Activity, error)
}

type SearchSource interface {
	SavedSearches() []models.SavedSearch
}

// ResultHandler receives the listings of a successful job and reports how
// many were new and how many were good deals.
type ResultHandler interface {
	HandleResults(ctx context.Context, job *models.ScanJob, listings []models.Listing) (newListings, goodDeals int)
}

type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}
