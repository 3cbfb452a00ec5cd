package notify

import (
	"context"
	"fmt"
	"time"

	"rigflip/models"
	"rigflip/pipeline"
)

const sendTimeout = 10 * time.Second

type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

// PipelineAlerts tells the operator about excellent new deals and sales.
// Deals with notifications switched off are ignored.
type PipelineAlerts struct {
	notifier Notifier
}

func NewPipelineAlerts(n Notifier) *PipelineAlerts {
	return &PipelineAlerts{notifier: n}
}

// Handle is a pipeline bus listener.
func (a *PipelineAlerts) Handle(e pipeline.Event) {
	if e.Deal == nil || !e.Deal.Notifications {
		return
	}

	var title, message string
	switch {
	case e.Type == pipeline.EventDealAdded && e.Deal.Listing.DealQuality == models.QualityExcellent:
		title = "Excellent deal found"
		message = fmt.Sprintf("%s for $%.0f (%.0f%% ROI)", e.Deal.Listing.Title, e.Deal.Listing.Price, e.Deal.Listing.ROI)
	case e.Type == pipeline.EventStageChanged && e.To == models.StageSold:
		title = "Deal sold"
		message = fmt.Sprintf("%s sold for $%.0f", e.Deal.Listing.Title, e.Deal.Revenue.Total)
	default:
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := a.notifier.Notify(ctx, title, message); err != nil {
			log.WithError(err).Warn("Failed to send pipeline notification")
		}
	}()
}
