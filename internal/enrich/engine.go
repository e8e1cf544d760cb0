// Package enrich joins the narrow collections onto customers.
package enrich

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/titan-sync/internal/model"
)

// Engine defaults.
const (
	DefaultBatchSize = 100
	DefaultBudget    = 30 * time.Minute

	progressEvery = 10
)

// Engine runs the enrichment passes in a fixed order. Every pass resets its
// fields on all customers before matching, so results do not depend on a
// previous run or on the batch size.
type Engine struct {
	batchSize int
	budget    time.Duration
	nowFunc   func() time.Time
	log       *zap.Logger
}

// New creates an Engine. Non-positive values fall back to the defaults.
func New(batchSize int, budget time.Duration) *Engine {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Engine{
		batchSize: batchSize,
		budget:    budget,
		nowFunc:   time.Now,
		log:       zap.L().With(zap.String("component", "enrich")),
	}
}

// PassReport summarizes one pass.
type PassReport struct {
	Name      string        `json:"name"`
	Processed int           `json:"processed"`
	Matched   int           `json:"matched"`
	Batches   int           `json:"batches"`
	Partial   bool          `json:"partial"`
	Duration  time.Duration `json:"duration"`
}

// PartialDataWarning reports a pass that ran out of budget.
type PartialDataWarning struct {
	Pass      string
	Processed int
	Total     int
	Budget    time.Duration
}

func (w *PartialDataWarning) Error() string {
	return fmt.Sprintf("enrich: %s pass exceeded its %s budget after %d of %d customers", w.Pass, w.Budget, w.Processed, w.Total)
}

// pass is one enrichment step. reset installs the no-match default; apply
// fills the customer from the pass's indices and reports whether it matched.
type pass struct {
	name  string
	reset func(*model.Customer)
	apply func(*model.Customer) bool
}

// Run executes every pass over c.Customers in place. It returns early only
// when ctx is done.
func (e *Engine) Run(ctx context.Context, c *model.Collections) ([]PassReport, error) {
	passes := []pass{
		contactsPass(c.Contacts),
		locationsPass(c.Locations),
		invoicesPass(c.Invoices),
		membershipsPass(c.Memberships),
		businessUnitsPass(c.Jobs, c.BusinessUnits),
	}

	reports := make([]PassReport, 0, len(passes))
	for _, p := range passes {
		rep, err := e.run(ctx, c.Customers, p)
		reports = append(reports, rep)
		if err != nil {
			return reports, err
		}
	}
	return reports, nil
}

func (e *Engine) run(ctx context.Context, customers []model.Customer, p pass) (PassReport, error) {
	log := e.log.With(zap.String("pass", p.name))
	start := e.nowFunc()
	rep := PassReport{Name: p.name}

	for i := range customers {
		p.reset(&customers[i])
	}

	total := len(customers)
	batches := (total + e.batchSize - 1) / e.batchSize
	for lo := 0; lo < total; lo += e.batchSize {
		if err := ctx.Err(); err != nil {
			rep.Duration = e.nowFunc().Sub(start)
			return rep, err
		}

		hi := min(lo+e.batchSize, total)
		for i := lo; i < hi; i++ {
			if p.apply(&customers[i]) {
				rep.Matched++
			}
		}
		rep.Processed = hi
		rep.Batches++

		if rep.Batches%progressEvery == 1 || rep.Batches == batches {
			log.Debug("batch progress",
				zap.Int("batch", rep.Batches),
				zap.Int("of", batches),
				zap.Int("matched", rep.Matched),
			)
		}

		if elapsed := e.nowFunc().Sub(start); elapsed > e.budget && hi < total {
			rep.Partial = true
			log.Warn("partial data", zap.Error(&PartialDataWarning{
				Pass:      p.name,
				Processed: hi,
				Total:     total,
				Budget:    e.budget,
			}))
			break
		}
	}

	rep.Duration = e.nowFunc().Sub(start)
	log.Info("pass complete",
		zap.Int("processed", rep.Processed),
		zap.Int("matched", rep.Matched),
		zap.Int("unmatched", rep.Processed-rep.Matched),
		zap.Bool("partial", rep.Partial),
		zap.Int64("duration_ms", rep.Duration.Milliseconds()),
	)
	return rep, nil
}
