package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/titan-sync/internal/model"
	"github.com/sells-group/titan-sync/pkg/servicetitan"
)

type mockSource struct {
	mock.Mock
}

func (m *mockSource) Customers(ctx context.Context, opts servicetitan.CollectOptions) (servicetitan.Result[model.Customer], error) {
	args := m.Called(ctx, opts)
	return args.Get(0).(servicetitan.Result[model.Customer]), args.Error(1)
}

func (m *mockSource) Contacts(ctx context.Context, ids []int64, batchSize int) (servicetitan.BatchResult[model.Contact], error) {
	args := m.Called(ctx, ids, batchSize)
	return args.Get(0).(servicetitan.BatchResult[model.Contact]), args.Error(1)
}

func (m *mockSource) Locations(ctx context.Context, opts servicetitan.CollectOptions) (servicetitan.Result[model.Location], error) {
	args := m.Called(ctx, opts)
	return args.Get(0).(servicetitan.Result[model.Location]), args.Error(1)
}

func (m *mockSource) Invoices(ctx context.Context, opts servicetitan.CollectOptions) (servicetitan.Result[model.Invoice], error) {
	args := m.Called(ctx, opts)
	return args.Get(0).(servicetitan.Result[model.Invoice]), args.Error(1)
}

func (m *mockSource) Memberships(ctx context.Context, opts servicetitan.CollectOptions) (servicetitan.Result[model.Membership], error) {
	args := m.Called(ctx, opts)
	return args.Get(0).(servicetitan.Result[model.Membership]), args.Error(1)
}

func (m *mockSource) Jobs(ctx context.Context, opts servicetitan.CollectOptions) (servicetitan.Result[model.Job], error) {
	args := m.Called(ctx, opts)
	return args.Get(0).(servicetitan.Result[model.Job]), args.Error(1)
}

func (m *mockSource) BusinessUnits(ctx context.Context, opts servicetitan.CollectOptions) (servicetitan.Result[model.BusinessUnit], error) {
	args := m.Called(ctx, opts)
	return args.Get(0).(servicetitan.Result[model.BusinessUnit]), args.Error(1)
}

// fixtureSource returns a source with two customers and one of everything
// attached to customer 1.
func fixtureSource() *mockSource {
	date := "2024-03-01T00:00:00Z"
	typeID := int64(9)

	src := new(mockSource)
	src.On("Customers", mock.Anything, mock.Anything).Return(servicetitan.Result[model.Customer]{
		Items:   []model.Customer{{CustomerID: 1, Name: "Acme"}, {CustomerID: 2, Name: "Globex"}},
		Pages:   1,
		Stopped: servicetitan.StopPartial,
	}, nil)
	src.On("Contacts", mock.Anything, []int64{1, 2}, 50).Return(servicetitan.BatchResult[model.Contact]{
		Items: []model.Contact{
			{CustomerID: 1, PhoneNumber: "555-0100", Type: "Phone"},
			{CustomerID: 1, Email: "ops@acme.com", Type: "Email"},
		},
		Batches: 1,
	}, nil)
	src.On("Locations", mock.Anything, mock.Anything).Return(servicetitan.Result[model.Location]{
		Items: []model.Location{
			{CustomerID: 1, Name: "HQ", Street: "1 Main St", City: "Springfield", Zip: "12345", ModifiedAt: date},
			{CustomerID: 77, Name: "Orphan"},
		},
		Pages: 1,
	}, nil)
	src.On("Invoices", mock.Anything, mock.Anything).Return(servicetitan.Result[model.Invoice]{
		Items: []model.Invoice{{CustomerID: 1, ReferenceNumber: "INV-1", InvoiceDate: &date}},
		Pages: 1,
	}, nil)
	src.On("Memberships", mock.Anything, mock.Anything).Return(servicetitan.Result[model.Membership]{
		Items: []model.Membership{{CustomerID: 1, MembershipTypeID: &typeID}},
		Pages: 1,
	}, nil)
	src.On("Jobs", mock.Anything, mock.Anything).Return(servicetitan.Result[model.Job]{
		Items: []model.Job{{CustomerID: 1, BusinessUnitID: 4}},
		Pages: 1,
	}, nil)
	src.On("BusinessUnits", mock.Anything, mock.Anything).Return(servicetitan.Result[model.BusinessUnit]{
		Items: []model.BusinessUnit{{ID: 4, Name: "Plumbing"}},
		Pages: 1,
	}, nil)
	return src
}
