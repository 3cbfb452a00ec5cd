package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"rigflip/models"
)

// Triggerable allows workers to be triggered manually
type Triggerable interface {
	Trigger()
}

// CommandSource is the operator command queue.
type CommandSource interface {
	GetPendingCommands() ([]models.Command, error)
	MarkCommandProcessed(id int64) error
	ParseCommandParams(cmd *models.Command) (*models.CommandParams, error)
}

// Archiver retires stale deals.
type Archiver interface {
	ArchiveOldDeals(ctx context.Context, daysOld int) (int, []string)
}

const commandPollInterval = 2 * time.Second

type TriggerConfig struct {
	// Cron takes precedence over Interval when both are set.
	Cron     string
	Interval time.Duration
	// ArchiveCron schedules ArchiveOldDeals; empty disables it.
	ArchiveCron      string
	ArchiveAfterDays int
}

// Trigger starts scan sessions on a schedule and executes queued operator
// commands against the scheduler.
type Trigger struct {
	cfg      TriggerConfig
	sched    *Scheduler
	commands CommandSource
	archiver Archiver
	cron     *cron.Cron
	ticker   *time.Ticker
	stopCh   chan struct{}
	stopOnce sync.Once

	saveWorker    Triggerable
	metricsWorker Triggerable
}

func NewTrigger(cfg TriggerConfig, sched *Scheduler, commands CommandSource) *Trigger {
	if cfg.ArchiveAfterDays <= 0 {
		cfg.ArchiveAfterDays = 90
	}
	return &Trigger{
		cfg:      cfg,
		sched:    sched,
		commands: commands,
		cron:     cron.New(),
		stopCh:   make(chan struct{}),
	}
}

func (t *Trigger) SetArchiver(a Archiver) { t.archiver = a }

// SetWorkers registers background workers for manual triggering
func (t *Trigger) SetWorkers(save, metrics Triggerable) {
	t.saveWorker = save
	t.metricsWorker = metrics
}

func (t *Trigger) Start(ctx context.Context) error {
	if t.commands != nil {
		go t.pollCommands(ctx)
	}

	cronJobs := 0
	if t.cfg.Cron != "" {
		log.Infof("Starting scan trigger with cron: %s", t.cfg.Cron)
		if _, err := t.cron.AddFunc(t.cfg.Cron, func() { t.runScheduled(ctx) }); err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		cronJobs++
	} else if t.cfg.Interval > 0 {
		log.Infof("Starting scan trigger with interval: %s", t.cfg.Interval)
		t.ticker = time.NewTicker(t.cfg.Interval)
		go func() {
			for {
				select {
				case <-t.ticker.C:
					t.runScheduled(ctx)
				case <-t.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	} else {
		log.Info("No scan schedule configured, daemon will only respond to commands")
	}

	if t.cfg.ArchiveCron != "" && t.archiver != nil {
		_, err := t.cron.AddFunc(t.cfg.ArchiveCron, func() { t.archive(ctx, t.cfg.ArchiveAfterDays) })
		if err != nil {
			return fmt.Errorf("invalid archive cron expression: %w", err)
		}
		cronJobs++
	}
	if cronJobs > 0 {
		t.cron.Start()
	}
	return nil
}

func (t *Trigger) Stop() {
	t.stopOnce.Do(func() {
		<-t.cron.Stop().Done()
		if t.ticker != nil {
			t.ticker.Stop()
		}
		close(t.stopCh)
	})
}

func (t *Trigger) runScheduled(ctx context.Context) {
	_, err := t.sched.StartSession(ctx, nil)
	switch {
	case errors.Is(err, ErrAlreadyRunning):
		log.Info("Scheduled scan skipped, session already running")
	case err != nil:
		log.WithError(err).Warn("Scheduled scan not started")
	}
}

func (t *Trigger) archive(ctx context.Context, days int) {
	if t.archiver == nil {
		return
	}
	n, skipped := t.archiver.ArchiveOldDeals(ctx, days)
	log.WithField("archived", n).WithField("skipped", len(skipped)).Info("Archived old deals")
}

func (t *Trigger) pollCommands(ctx context.Context) {
	ticker := time.NewTicker(commandPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.drainCommands(ctx)
		case <-t.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (t *Trigger) drainCommands(ctx context.Context) {
	cmds, err := t.commands.GetPendingCommands()
	if err != nil {
		log.WithError(err).Error("Error getting commands")
		return
	}
	for i := range cmds {
		cmd := &cmds[i]
		log.WithField("command", cmd.Command).Info("Processing command")
		if err := t.HandleCommand(ctx, cmd); err != nil {
			log.WithError(err).WithField("command", cmd.Command).Warn("Command error")
		}
		if err := t.commands.MarkCommandProcessed(cmd.ID); err != nil {
			log.WithError(err).Error("Error marking command processed")
		}
	}
}

// HandleCommand executes one operator command.
func (t *Trigger) HandleCommand(ctx context.Context, cmd *models.Command) error {
	params, err := t.commands.ParseCommandParams(cmd)
	if err != nil {
		return fmt.Errorf("parse params: %w", err)
	}

	switch cmd.Command {
	case models.CmdScanNow:
		_, err := t.sched.StartSession(ctx, params.SearchIDs)
		return err
	case models.CmdScanStop:
		t.sched.StopSession(ctx)
	case models.CmdPause:
		t.sched.SetPaused(ctx, true)
	case models.CmdResume:
		t.sched.SetPaused(ctx, false)
	case models.CmdArchiveOld:
		days := params.Days
		if days <= 0 {
			days = t.cfg.ArchiveAfterDays
		}
		t.archive(ctx, days)
	case models.CmdSaveNow:
		if t.saveWorker != nil {
			t.saveWorker.Trigger()
		}
	case models.CmdRefresh:
		if t.metricsWorker != nil {
			t.metricsWorker.Trigger()
		}
	default:
		return fmt.Errorf("unknown command: %s", cmd.Command)
	}
	return nil
}
