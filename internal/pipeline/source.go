package pipeline

import (
	"context"

	"github.com/sells-group/titan-sync/internal/model"
	"github.com/sells-group/titan-sync/pkg/servicetitan"
)

// Source is the upstream the pipeline collects from. *servicetitan.Client
// satisfies it.
type Source interface {
	Customers(ctx context.Context, opts servicetitan.CollectOptions) (servicetitan.Result[model.Customer], error)
	Contacts(ctx context.Context, customerIDs []int64, batchSize int) (servicetitan.BatchResult[model.Contact], error)
	Locations(ctx context.Context, opts servicetitan.CollectOptions) (servicetitan.Result[model.Location], error)
	Invoices(ctx context.Context, opts servicetitan.CollectOptions) (servicetitan.Result[model.Invoice], error)
	Memberships(ctx context.Context, opts servicetitan.CollectOptions) (servicetitan.Result[model.Membership], error)
	Jobs(ctx context.Context, opts servicetitan.CollectOptions) (servicetitan.Result[model.Job], error)
	BusinessUnits(ctx context.Context, opts servicetitan.CollectOptions) (servicetitan.Result[model.BusinessUnit], error)
}

var _ Source = (*servicetitan.Client)(nil)
