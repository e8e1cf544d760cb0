// Package pipeline runs one sync: collect every entity from ServiceTitan,
// enrich customers, export the flattened records and save them to the sink.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/titan-sync/internal/enrich"
	"github.com/sells-group/titan-sync/internal/export"
	"github.com/sells-group/titan-sync/internal/model"
	"github.com/sells-group/titan-sync/internal/monitoring"
	"github.com/sells-group/titan-sync/internal/sink"
	"github.com/sells-group/titan-sync/internal/store"
	"github.com/sells-group/titan-sync/pkg/servicetitan"
)

// ErrNoCustomers is returned when the customer collection comes back empty.
var ErrNoCustomers = eris.New("pipeline: no customers collected")

// Options tunes a run.
type Options struct {
	Collect    servicetitan.CollectOptions
	BatchSize  int
	PassBudget time.Duration

	// ContinueOnFetchError keeps going with an empty collection when a
	// non-customer entity fails to collect. Auth failures always abort.
	ContinueOnFetchError bool

	CSVPath  string
	XLSXPath string
	DryRun   bool
}

// Report is what a finished run produced.
type Report struct {
	RunID   string
	Records []export.Record
	Passes  []enrich.PassReport
	Result  model.RunResult
}

// Pipeline wires the collector, enrichment engine, exporters and sink.
type Pipeline struct {
	src      Source
	enricher *enrich.Engine
	saver    *sink.Saver
	store    store.Store
	metrics  *monitoring.Recorder
	opts     Options
	log      *zap.Logger
}

// New creates a Pipeline. saver may be nil for dry runs; st and rec may be
// nil when run history or metrics are not wanted.
func New(src Source, saver *sink.Saver, st store.Store, rec *monitoring.Recorder, opts Options) *Pipeline {
	return &Pipeline{
		src:      src,
		enricher: enrich.New(opts.BatchSize, opts.PassBudget),
		saver:    saver,
		store:    st,
		metrics:  rec,
		opts:     opts,
		log:      zap.L().With(zap.String("component", "pipeline")),
	}
}

// run carries the state of a single execution. The collections belong to
// this run alone.
type run struct {
	id     string
	cols   model.Collections
	result model.RunResult
}

// Run executes one sync. Once the run is recorded the returned report is
// non-nil, even on error, and holds whatever the run got through.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	r := &run{result: model.RunResult{Fetched: map[string]int{}}}

	if p.store != nil {
		rec, err := p.store.CreateRun(ctx, p.opts.DryRun)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: create run")
		}
		r.id = rec.ID
	} else {
		r.id = uuid.New().String()
	}
	log := p.log.With(zap.String("run_id", r.id))
	log.Info("sync started", zap.Bool("dry_run", p.opts.DryRun))

	report := &Report{RunID: r.id}
	err := p.execute(ctx, r, report)

	elapsed := time.Since(start)
	status := model.RunStatusComplete
	switch {
	case err != nil && ctx.Err() != nil:
		status = model.RunStatusCancelled
	case err != nil:
		status = model.RunStatusFailed
	case !r.result.Success:
		status = model.RunStatusFailed
	}
	if err != nil {
		r.result.Success = false
		r.result.Error = err.Error()
	}
	report.Result = r.result

	p.finish(r, status, elapsed)

	log.Info("sync finished",
		zap.String("status", string(status)),
		zap.Int("processed", r.result.Processed),
		zap.Int("inserted", r.result.Inserted),
		zap.Int("updated", r.result.Updated),
		zap.Int("errors", r.result.Errors),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
	)
	return report, err
}

func (p *Pipeline) execute(ctx context.Context, r *run, report *Report) error {
	if err := p.collect(ctx, r); err != nil {
		return err
	}

	err := p.track(r, "enrich", func() (map[string]any, error) {
		passes, err := p.enricher.Run(ctx, &r.cols)
		report.Passes = passes
		meta := map[string]any{"customers": len(r.cols.Customers)}
		for _, pr := range passes {
			meta[pr.Name+"_matched"] = pr.Matched
			if pr.Partial {
				meta[pr.Name+"_partial"] = true
			}
		}
		return meta, err
	})
	if err != nil {
		return err
	}

	err = p.track(r, "export", func() (map[string]any, error) {
		report.Records = export.FlattenAll(r.cols.Customers)
		meta := map[string]any{"records": len(report.Records)}
		if p.opts.CSVPath != "" {
			if err := export.WriteCSVFile(p.opts.CSVPath, report.Records); err != nil {
				return meta, err
			}
			meta["csv"] = p.opts.CSVPath
		}
		if p.opts.XLSXPath != "" {
			if err := export.WriteXLSXFile(p.opts.XLSXPath, report.Records); err != nil {
				return meta, err
			}
			meta["xlsx"] = p.opts.XLSXPath
		}
		return meta, nil
	})
	if err != nil {
		return err
	}

	if p.opts.DryRun || p.saver == nil {
		p.skip(r, "save", "dry run")
		r.result.Processed = len(report.Records)
		r.result.Success = len(report.Records) > 0
		return nil
	}

	return p.track(r, "save", func() (map[string]any, error) {
		sum, err := p.saver.SaveAll(ctx, r.id, report.Records)
		r.result.Processed = sum.Processed
		r.result.Inserted = sum.Inserted
		r.result.Updated = sum.Updated
		r.result.Errors = sum.Errors
		r.result.Success = sum.Success
		if p.store != nil && len(sum.DeadLetters) > 0 {
			if dlErr := p.store.RecordDeadLetters(context.WithoutCancel(ctx), sum.DeadLetters); dlErr != nil {
				p.log.Warn("failed to record dead letters", zap.Error(dlErr))
			}
		}
		return map[string]any{
			"processed":    sum.Processed,
			"inserted":     sum.Inserted,
			"updated":      sum.Updated,
			"errors":       sum.Errors,
			"dead_letters": len(sum.DeadLetters),
		}, err
	})
}

// collect fetches every entity in dependency order. Customers must come
// first; contacts are keyed by their ids.
func (p *Pipeline) collect(ctx context.Context, r *run) error {
	opts := p.opts.Collect

	err := p.track(r, "fetch_customers", func() (map[string]any, error) {
		res, err := p.src.Customers(ctx, opts)
		if err != nil {
			return nil, err
		}
		r.cols.Customers = res.Items
		p.fetched(r, "customers", len(res.Items))
		if len(res.Items) == 0 {
			return nil, ErrNoCustomers
		}
		return resultMeta(res.Pages, res.Dropped, res.Stopped), nil
	})
	if err != nil {
		return err
	}
	ids := r.cols.CustomerIDs()

	err = p.track(r, "fetch_contacts", func() (map[string]any, error) {
		res, err := p.src.Contacts(ctx, ids, opts.PageSize)
		r.cols.Contacts = res.Items
		p.fetched(r, "contacts", len(res.Items))
		return map[string]any{
			"batches":        res.Batches,
			"failed_batches": res.Failed,
			"dropped":        res.Dropped,
		}, err
	})
	if err := p.tolerate(ctx, err); err != nil {
		return err
	}

	err = p.track(r, "fetch_locations", func() (map[string]any, error) {
		res, err := p.src.Locations(ctx, opts)
		if err != nil {
			return nil, err
		}
		r.cols.Locations = res.Items
		removed := r.cols.RetainLocationsFor(ids)
		p.fetched(r, "locations", len(r.cols.Locations))
		meta := resultMeta(res.Pages, res.Dropped, res.Stopped)
		meta["unknown_customer"] = removed
		return meta, nil
	})
	if err := p.tolerate(ctx, err); err != nil {
		return err
	}

	if err := p.tolerate(ctx, fetchInto(p, ctx, r, "invoices", p.src.Invoices, &r.cols.Invoices)); err != nil {
		return err
	}
	if err := p.tolerate(ctx, fetchInto(p, ctx, r, "memberships", p.src.Memberships, &r.cols.Memberships)); err != nil {
		return err
	}
	if err := p.tolerate(ctx, fetchInto(p, ctx, r, "jobs", p.src.Jobs, &r.cols.Jobs)); err != nil {
		return err
	}
	return p.tolerate(ctx, fetchInto(p, ctx, r, "business_units", p.src.BusinessUnits, &r.cols.BusinessUnits))
}

// fetchInto runs one paginated collection as a tracked step.
func fetchInto[T any](
	p *Pipeline,
	ctx context.Context,
	r *run,
	entity string,
	fetch func(context.Context, servicetitan.CollectOptions) (servicetitan.Result[T], error),
	dst *[]T,
) error {
	return p.track(r, "fetch_"+entity, func() (map[string]any, error) {
		res, err := fetch(ctx, p.opts.Collect)
		if err != nil {
			return nil, err
		}
		*dst = res.Items
		p.fetched(r, entity, len(res.Items))
		return resultMeta(res.Pages, res.Dropped, res.Stopped), nil
	})
}

// tolerate decides whether a failed non-customer fetch ends the run.
func (p *Pipeline) tolerate(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil || servicetitan.IsAuthError(err) || !p.opts.ContinueOnFetchError {
		return err
	}
	p.log.Warn("continuing without collection", zap.Error(err))
	return nil
}

func (p *Pipeline) fetched(r *run, entity string, n int) {
	r.result.Fetched[entity] = n
	if p.metrics != nil {
		p.metrics.ObserveFetched(entity, n)
	}
}

// track runs fn as a named step and records its outcome on the run.
func (p *Pipeline) track(r *run, name string, fn func() (map[string]any, error)) error {
	start := time.Now()
	meta, err := fn()
	d := time.Since(start)

	step := model.StepResult{
		Name:     name,
		Status:   model.StepStatusComplete,
		Duration: d.Milliseconds(),
		Metadata: meta,
	}
	if err != nil {
		step.Status = model.StepStatusFailed
		step.Error = err.Error()
		p.log.Error("step failed",
			zap.String("run_id", r.id),
			zap.String("step", name),
			zap.Int64("duration_ms", step.Duration),
			zap.Error(err),
		)
	} else {
		p.log.Info("step complete",
			zap.String("run_id", r.id),
			zap.String("step", name),
			zap.Int64("duration_ms", step.Duration),
			zap.Any("metadata", meta),
		)
	}
	r.result.Steps = append(r.result.Steps, step)
	if p.metrics != nil {
		p.metrics.ObserveStep(name, d)
	}
	return err
}

func (p *Pipeline) skip(r *run, name, reason string) {
	r.result.Steps = append(r.result.Steps, model.StepResult{
		Name:     name,
		Status:   model.StepStatusSkipped,
		Metadata: map[string]any{"reason": reason},
	})
	p.log.Info("step skipped", zap.String("run_id", r.id), zap.String("step", name), zap.String("reason", reason))
}

// finish records the outcome. It runs even when ctx is already done.
func (p *Pipeline) finish(r *run, status model.RunStatus, elapsed time.Duration) {
	if p.metrics != nil {
		p.metrics.ObserveRun(elapsed, status == model.RunStatusComplete, time.Now())
	}
	if p.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.store.FinishRun(ctx, r.id, status, &r.result); err != nil {
		p.log.Warn("failed to record run result", zap.String("run_id", r.id), zap.Error(err))
	}
}

func resultMeta(pages, dropped int, stopped servicetitan.StopReason) map[string]any {
	return map[string]any{
		"pages":   pages,
		"dropped": dropped,
		"stopped": string(stopped),
	}
}

// IsCancelled reports whether err came from the run being cancelled or
// timing out.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
