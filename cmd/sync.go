package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/titan-sync/internal/config"
	"github.com/sells-group/titan-sync/internal/monitoring"
	"github.com/sells-group/titan-sync/internal/pipeline"
	"github.com/sells-group/titan-sync/internal/sink"
	"github.com/sells-group/titan-sync/internal/store"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Collect, enrich, export and save every customer",
	Long:  "Runs one full sync: fetches all ServiceTitan collections, enriches customers, writes the configured exports and upserts each record into the sink. With --dry-run nothing is written to the sink.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		applySyncFlags(cmd, cfg)

		dryRun, _ := cmd.Flags().GetBool("dry-run")
		mode := config.ModeSync
		if dryRun {
			mode = config.ModeDryRun
		}
		if err := cfg.Validate(mode); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if cfg.Pipeline.RunTimeoutSecs > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.Pipeline.RunTimeoutSecs)*time.Second)
			defer cancel()
		}

		return runSync(ctx, cfg, dryRun, os.Stdout)
	},
}

// applySyncFlags lets explicitly set flags override loaded config.
func applySyncFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("page-size") {
		c.ServiceTitan.PageSize, _ = flags.GetInt("page-size")
	}
	if flags.Changed("max-pages") {
		c.ServiceTitan.MaxPages, _ = flags.GetInt("max-pages")
	}
	if flags.Changed("batch-size") {
		c.Pipeline.BatchSize, _ = flags.GetInt("batch-size")
	}
	if flags.Changed("csv") {
		c.Export.CSVPath, _ = flags.GetString("csv")
	}
	if flags.Changed("xlsx") {
		c.Export.XLSXPath, _ = flags.GetString("xlsx")
	}
	if flags.Changed("timeout") {
		d, _ := flags.GetDuration("timeout")
		c.Pipeline.RunTimeoutSecs = int(d.Seconds())
	}
	if flags.Changed("continue-on-fetch-error") {
		c.Pipeline.ContinueOnFetchError, _ = flags.GetBool("continue-on-fetch-error")
	}
}

func runSync(ctx context.Context, c *config.Config, dryRun bool, out io.Writer) error {
	log := zap.L().With(zap.String("component", "sync"))
	rec := monitoring.NewRecorder()

	st, err := initStore(ctx, c)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	var saver *sink.Saver
	if !dryRun {
		s, closeSink, err := newSaver(ctx, c, rec)
		if err != nil {
			return err
		}
		defer closeSink()
		saver = s
	}

	p := pipeline.New(newSource(c, rec), saver, st, rec, pipelineOptions(c, dryRun))
	report, runErr := p.Run(ctx)

	if err := rec.WriteTextfile(c.Metrics.TextfilePath); err != nil {
		log.Warn("failed to write metrics textfile", zap.Error(err))
	}
	checkAlerts(context.WithoutCancel(ctx), c, st)

	if report != nil {
		formatReport(out, report)
	}
	if runErr != nil {
		if pipeline.IsCancelled(runErr) {
			return eris.Wrap(runErr, "sync cancelled")
		}
		return eris.Wrap(runErr, "sync")
	}
	if !report.Result.Success {
		return eris.New("sync: no record was saved successfully")
	}
	return nil
}

// checkAlerts evaluates recent run health and posts any alerts.
func checkAlerts(ctx context.Context, c *config.Config, st store.Store) {
	if c.Monitoring.WebhookURL == "" {
		return
	}
	snap, err := monitoring.NewCollector(st).Collect(ctx, c.Monitoring.LookbackHours)
	if err != nil {
		zap.L().Warn("monitoring: collect failed", zap.Error(err))
		return
	}
	alerter := monitoring.NewAlerter(c.Monitoring)
	alerter.SendAlerts(ctx, alerter.Evaluate(snap))
}

// formatReport writes a run summary to w.
func formatReport(out io.Writer, r *pipeline.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", r.RunID)
	for _, entity := range []string{"customers", "contacts", "locations", "invoices", "memberships", "jobs", "business_units"} {
		if n, ok := r.Result.Fetched[entity]; ok {
			_, _ = fmt.Fprintf(w, "Fetched %s:\t%d\n", entity, n)
		}
	}
	_, _ = fmt.Fprintf(w, "Records:\t%d\n", len(r.Records))
	_, _ = fmt.Fprintf(w, "Processed:\t%d\n", r.Result.Processed)
	_, _ = fmt.Fprintf(w, "Inserted:\t%d\n", r.Result.Inserted)
	_, _ = fmt.Fprintf(w, "Updated:\t%d\n", r.Result.Updated)
	_, _ = fmt.Fprintf(w, "Errors:\t%d\n", r.Result.Errors)
	for _, s := range r.Result.Steps {
		if s.Error != "" {
			_, _ = fmt.Fprintf(w, "Step %s:\t%s (%s)\n", s.Name, s.Status, s.Error)
		}
	}
	_, _ = fmt.Fprintf(w, "Success:\t%t\n", r.Result.Success)
	_ = w.Flush()
}

func init() {
	syncCmd.Flags().Bool("dry-run", false, "collect, enrich and export without writing to the sink")
	syncCmd.Flags().Int("page-size", 0, "records per page and contact batch (overrides servicetitan.page_size)")
	syncCmd.Flags().Int("max-pages", 0, "page cap per collection (overrides servicetitan.max_pages)")
	syncCmd.Flags().Int("batch-size", 0, "customers per enrichment batch (overrides pipeline.batch_size)")
	syncCmd.Flags().String("csv", "", "write the CSV export to this path")
	syncCmd.Flags().String("xlsx", "", "write the XLSX export to this path")
	syncCmd.Flags().Duration("timeout", 0, "overall run timeout (e.g. 90m)")
	syncCmd.Flags().Bool("continue-on-fetch-error", false, "keep going when a non-customer collection fails")

	rootCmd.AddCommand(syncCmd)
}
