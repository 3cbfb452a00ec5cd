package workers

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"rigflip/pipeline"
)

var log = logrus.WithField("component", "workers")

// finalSaveTimeout bounds the snapshot written when the worker stops.
const finalSaveTimeout = 5 * time.Second

type Saver interface {
	Save(ctx context.Context) error
}

// AutosaveWorker snapshots the pipeline on an interval, on demand, and
// once more when it is stopped.
type AutosaveWorker struct {
	saver     Saver
	interval  time.Duration
	triggerCh chan struct{}
}

func NewAutosaveWorker(saver Saver, interval time.Duration) *AutosaveWorker {
	return &AutosaveWorker{
		saver:     saver,
		interval:  interval,
		triggerCh: make(chan struct{}, 1),
	}
}

// Trigger causes the worker to run immediately
func (w *AutosaveWorker) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

func (w *AutosaveWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			saveCtx, cancel := context.WithTimeout(context.Background(), finalSaveTimeout)
			w.save(saveCtx)
			cancel()
			log.Info("Autosave worker stopping")
			return
		case <-ticker.C:
			w.save(ctx)
		case <-w.triggerCh:
			log.Debug("Autosave triggered manually")
			w.save(ctx)
		}
	}
}

func (w *AutosaveWorker) save(ctx context.Context) {
	if err := w.saver.Save(ctx); err != nil {
		log.WithError(err).Warn("Autosave failed")
	}
}

type MetricsSource interface {
	RefreshMetrics() int
	GetStats() pipeline.PipelineStats
}

type StatsSink interface {
	SetPipelineStats(st pipeline.PipelineStats)
}

// MetricsWorker recomputes per-deal time metrics and publishes aggregate
// stats to the sink when one is set.
type MetricsWorker struct {
	source    MetricsSource
	sink      StatsSink
	interval  time.Duration
	triggerCh chan struct{}
}

func NewMetricsWorker(source MetricsSource, sink StatsSink, interval time.Duration) *MetricsWorker {
	return &MetricsWorker{
		source:    source,
		sink:      sink,
		interval:  interval,
		triggerCh: make(chan struct{}, 1),
	}
}

// Trigger causes the worker to run immediately
func (w *MetricsWorker) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

func (w *MetricsWorker) Run(ctx context.Context) {
	w.refresh()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Metrics worker stopping")
			return
		case <-ticker.C:
			w.refresh()
		case <-w.triggerCh:
			log.Debug("Metrics refresh triggered manually")
			w.refresh()
		}
	}
}

func (w *MetricsWorker) refresh() {
	n := w.source.RefreshMetrics()
	if w.sink != nil {
		w.sink.SetPipelineStats(w.source.GetStats())
	}
	log.WithField("deals", n).Debug("Refreshed deal metrics")
}
