package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"rigflip/models"
	"rigflip/pipeline"
	"rigflip/scheduler"
	"rigflip/storage"
	"rigflip/workers"
)

// flag names
const (
	flagStage  = "stage"
	flagQuery  = "query"
	flagJSON   = "json"
	flagDays   = "days"
	flagSearch = "search"
	flagReason = "reason"
)

const shutdownTimeout = 10 * time.Second

func init() {
	dealsCmd.Flags().StringP(flagStage, "s", "", "Only show deals in this stage")
	dealsCmd.Flags().StringP(flagQuery, "q", "", "Search titles, descriptions and tags")
	dealsCmd.Flags().Bool(flagJSON, false, "Print deals as JSON")
	dealsCmd.AddCommand(moveDealCmd)
	moveDealCmd.Flags().String(flagReason, "Moved from CLI", "Reason recorded in stage history")

	archiveCmd.Flags().Int(flagDays, pipeline.DefaultArchiveAfterDays, "Archive deals added more than this many days ago")

	sendCmd.Flags().StringSlice(flagSearch, nil, "Saved search IDs for scan_now (default: all enabled)")
	sendCmd.Flags().Int(flagDays, 0, "Age in days for archive_old")
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run scheduled scans, housekeeping and the command queue until interrupted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext()
		defer stop()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.loadPipeline(ctx); err != nil {
			return err
		}
		if err := a.loadScheduler(ctx); err != nil {
			return err
		}

		runCtx, cancel := context.WithCancel(context.Background())
		var wg sync.WaitGroup
		goRun := func(fn func(context.Context)) {
			wg.Add(1)
			go func() {
				defer wg.Done()
				fn(runCtx)
			}()
		}

		autosave := workers.NewAutosaveWorker(a.pipeline, a.cfg.Pipeline.AutosaveInterval)
		refresher := workers.NewMetricsWorker(a.pipeline, a.collector, a.cfg.Pipeline.MetricsInterval)
		goRun(a.sched.Run)
		goRun(autosave.Run)
		goRun(refresher.Run)

		sc := a.cfg.Scheduler
		trigger := scheduler.NewTrigger(scheduler.TriggerConfig{
			Cron:             sc.Cron,
			Interval:         sc.Interval,
			ArchiveCron:      sc.ArchiveCron,
			ArchiveAfterDays: sc.ArchiveAfterDays,
		}, a.sched, a.sqlite)
		trigger.SetArchiver(a.pipeline)
		trigger.SetWorkers(autosave, refresher)
		if err := trigger.Start(runCtx); err != nil {
			cancel()
			wg.Wait()
			return err
		}

		var srv *http.Server
		if a.cfg.MetricsAddr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", a.collector.Handler())
			srv = &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.WithError(err).Error("Metrics server failed")
				}
			}()
			log.WithField("addr", a.cfg.MetricsAddr).Info("Serving metrics")
		}

		log.WithFields(logrus.Fields{
			"sites":    len(a.cfg.Sites),
			"searches": len(a.cfg.Searches),
			"deals":    len(a.pipeline.GetDealsByStage("")),
		}).Info("Daemon running. Press Ctrl+C to stop.")
		<-ctx.Done()

		log.Info("Shutting down...")
		trigger.Stop()
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		a.sched.StopSession(shutdownCtx)
		if srv != nil {
			srv.Shutdown(shutdownCtx)
		}
		cancel()
		wg.Wait()
		log.Info("Goodbye!")
		return nil
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan [search-id...]",
	Short: "Run one scan session and exit",
	Long:  "Scans the given saved searches, or every enabled search when none are named, then saves the pipeline and exits.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.loadPipeline(ctx); err != nil {
			return err
		}
		if err := a.loadScheduler(ctx); err != nil {
			return err
		}

		finished := make(chan *models.ScanSession, 1)
		a.sched.Subscribe(func(e scheduler.Event) {
			if e.Type == scheduler.EventSessionCompleted || e.Type == scheduler.EventSessionStopped {
				select {
				case finished <- e.Session:
				default:
				}
			}
		})

		runCtx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go a.sched.Run(runCtx)

		var ids []string
		if len(args) > 0 {
			ids = args
		}
		if _, err := a.sched.StartSession(runCtx, ids); err != nil {
			return err
		}

		var session *models.ScanSession
		select {
		case session = <-finished:
		case <-ctx.Done():
			a.sched.StopSession(runCtx)
			session = <-finished
		}

		if err := a.pipeline.Save(runCtx); err != nil {
			return fmt.Errorf("save pipeline: %w", err)
		}
		st := session.Stats
		fmt.Printf("Session %s: %d/%d completed, %d failed, %d cancelled, %d new listings, %d good deals\n",
			session.ID, st.Completed, st.Total, st.Failed, st.Cancelled, st.NewListings, st.GoodDeals)
		return nil
	},
}

// withPipeline runs fn against the stored pipeline and saves afterwards
// when save is set.
func withPipeline(save bool, fn func(ctx context.Context, p *pipeline.Pipeline) error) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.loadPipeline(ctx); err != nil {
		return err
	}
	if err := fn(ctx, a.pipeline); err != nil {
		return err
	}
	if save {
		return a.pipeline.Save(ctx)
	}
	return nil
}

var dealsCmd = &cobra.Command{
	Use:   "deals",
	Short: "List tracked deals",
	RunE: func(cmd *cobra.Command, _ []string) error {
		stage, _ := cmd.Flags().GetString(flagStage)
		query, _ := cmd.Flags().GetString(flagQuery)
		asJSON, _ := cmd.Flags().GetBool(flagJSON)
		if stage != "" && !models.Stage(stage).Valid() {
			return fmt.Errorf("%w: %s", pipeline.ErrUnknownStage, stage)
		}

		return withPipeline(false, func(ctx context.Context, p *pipeline.Pipeline) error {
			deals := p.SearchDeals(query)
			if stage != "" {
				kept := deals[:0]
				for _, d := range deals {
					if d.Stage == models.Stage(stage) {
						kept = append(kept, d)
					}
				}
				deals = kept
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(deals)
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DEAL\tSTAGE\tPRIORITY\tPRICE\tROI\tTITLE")
			for _, d := range deals {
				fmt.Fprintf(tw, "%s\t%s\t%s\t$%.0f\t%.0f%%\t%s\n",
					d.DealID[:8], d.Stage, d.Priority, d.Listing.Price, d.Listing.ROI, d.Listing.Title)
			}
			return tw.Flush()
		})
	},
}

var moveDealCmd = &cobra.Command{
	Use:   "move <deal-id> <stage>",
	Short: "Move a deal to another stage",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString(flagReason)
		to := models.Stage(args[1])
		if !to.Valid() {
			return fmt.Errorf("%w: %s", pipeline.ErrUnknownStage, args[1])
		}

		return withPipeline(true, func(ctx context.Context, p *pipeline.Pipeline) error {
			id, err := resolveDealID(p, args[0])
			if err != nil {
				return err
			}
			if !p.AdvanceStage(ctx, id, to, reason) {
				d := p.GetDeal(id)
				return fmt.Errorf("cannot move deal from %s to %s; allowed: %v", d.Stage, to, pipeline.NextStages(d.Stage))
			}
			fmt.Printf("Deal %s moved to %s\n", id, to)
			return nil
		})
	},
}

// resolveDealID accepts a full deal ID or a unique prefix as printed by
// the deals listing.
func resolveDealID(p *pipeline.Pipeline, ref string) (string, error) {
	if d := p.GetDeal(ref); d != nil {
		return d.DealID, nil
	}
	var match string
	for _, d := range p.GetDealsByStage("") {
		if strings.HasPrefix(d.DealID, ref) {
			if match != "" {
				return "", fmt.Errorf("deal prefix %q is ambiguous", ref)
			}
			match = d.DealID
		}
	}
	if match == "" {
		return "", fmt.Errorf("deal %q not found", ref)
	}
	return match, nil
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print pipeline statistics as JSON",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withPipeline(false, func(ctx context.Context, p *pipeline.Pipeline) error {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(p.GetStats())
		})
	},
}

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Archive deals older than --days (stop the daemon first, or use send archive_old)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		days, _ := cmd.Flags().GetInt(flagDays)
		return withPipeline(true, func(ctx context.Context, p *pipeline.Pipeline) error {
			n, skipped := p.ArchiveOldDeals(ctx, days)
			fmt.Printf("Archived %d deals\n", n)
			if len(skipped) > 0 {
				fmt.Printf("Skipped %d deals with no archive transition: %s\n", len(skipped), strings.Join(skipped, ", "))
			}
			return nil
		})
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Upload pipeline and scan history snapshots to S3",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext()
		defer stop()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		up, err := storage.NewS3Uploader(ctx, a.cfg.S3)
		if err != nil {
			return err
		}
		keys, err := storage.ExportKeys(ctx, a.kv, up, time.Now(), storage.KeyPipelineDeals, storage.KeyScanSessions)
		for _, k := range keys {
			fmt.Println("Uploaded", k)
		}
		return err
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <command>",
	Short: "Queue a command for the running daemon",
	Long: `Queues a command for the running daemon. Commands: scan_now, scan_stop,
pause, resume, archive_old, save_now, refresh_metrics.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		searchIDs, _ := cmd.Flags().GetStringSlice(flagSearch)
		days, _ := cmd.Flags().GetInt(flagDays)

		ctx, stop := signalContext()
		defer stop()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		id, err := a.sqlite.EnqueueCommand(models.CommandType(args[0]), models.CommandParams{SearchIDs: searchIDs, Days: days})
		if err != nil {
			return fmt.Errorf("queue command: %w", err)
		}
		fmt.Printf("Queued %s (#%d)\n", args[0], id)
		return nil
	},
}
