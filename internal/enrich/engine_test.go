package enrich

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/titan-sync/internal/model"
)

func strPtr(s string) *string { return &s }
func intPtr(i int64) *int64   { return &i }

func customers(ids ...int64) []model.Customer {
	out := make([]model.Customer, len(ids))
	for i, id := range ids {
		out[i] = model.Customer{CustomerID: id, Name: "Customer"}
	}
	return out
}

func sampleCollections() *model.Collections {
	return &model.Collections{
		Customers: customers(1, 2, 3, 4, 5),
		Contacts: []model.Contact{
			{CustomerID: 1, PhoneNumber: "555-1"},
			{CustomerID: 1, Email: "a@b.com", Type: "Home"},
			{CustomerID: 2, PhoneNumber: "555-2"},
		},
		Locations: []model.Location{
			{CustomerID: 1, Name: "Old", Street: "1 A St", City: "Austin", Zip: "78701", CreatedAt: "2023-01-01T00:00:00Z"},
			{CustomerID: 1, Name: "New", Street: "2 B St", City: "Dallas", Zip: "75201", CreatedAt: "2023-01-01T00:00:00Z", ModifiedAt: "2024-05-01T10:00:00Z"},
			{CustomerID: 3, Name: "Only", Street: "3 C St"},
		},
		Invoices: []model.Invoice{
			{CustomerID: 1, ReferenceNumber: "INV-1", InvoiceDate: strPtr("2024-01-01")},
			{CustomerID: 1, ReferenceNumber: "INV-2", InvoiceDate: nil},
			{CustomerID: 1, ReferenceNumber: "INV-3", InvoiceDate: strPtr("2024-02-01")},
			{CustomerID: 2, ReferenceNumber: "", InvoiceDate: strPtr("2024-03-01")},
		},
		Memberships: []model.Membership{
			{CustomerID: 1, MembershipTypeID: intPtr(10)},
			{CustomerID: 1, MembershipTypeID: intPtr(11)},
			{CustomerID: 2, MembershipTypeID: nil},
		},
		Jobs: []model.Job{
			{CustomerID: 1, BusinessUnitID: 100},
			{CustomerID: 1, BusinessUnitID: 200},
			{CustomerID: 2, BusinessUnitID: 999},
		},
		BusinessUnits: []model.BusinessUnit{
			{ID: 100, Name: "Plumbing"},
			{ID: 200, Name: "HVAC"},
		},
	}
}

func TestRun_ContactEnrichment(t *testing.T) {
	t.Parallel()

	c := &model.Collections{
		Customers: customers(1, 2),
		Contacts: []model.Contact{
			{CustomerID: 1, PhoneNumber: "555-1"},
			{CustomerID: 1, Email: "a@b.com", Type: "Home"},
			{CustomerID: 2, PhoneNumber: "555-2"},
		},
	}

	_, err := New(100, time.Minute).Run(context.Background(), c)
	require.NoError(t, err)

	assert.Equal(t, []string{"555-1"}, c.Customers[0].PhoneNumbers)
	assert.Equal(t, []model.Email{{Email: "a@b.com", Type: "Home"}}, c.Customers[0].Emails)
	assert.Equal(t, []string{"555-2"}, c.Customers[1].PhoneNumbers)
	assert.NotNil(t, c.Customers[1].Emails)
	assert.Empty(t, c.Customers[1].Emails)
}

func TestRun_FullJoin(t *testing.T) {
	t.Parallel()

	c := sampleCollections()
	reports, err := New(2, time.Minute).Run(context.Background(), c)
	require.NoError(t, err)
	require.Len(t, reports, 5)
	assert.Equal(t, []string{"contacts", "locations", "invoices", "memberships", "business_units"},
		[]string{reports[0].Name, reports[1].Name, reports[2].Name, reports[3].Name, reports[4].Name})
	assert.Equal(t, 3, reports[0].Batches)

	c1 := c.Customers[0]
	assert.Len(t, c1.Addresses, 2)
	assert.Equal(t, "New", c1.LocationName)
	assert.Equal(t, "2 B St", c1.LocationStreet)
	assert.Equal(t, "Dallas", c1.LocationCity)
	assert.Equal(t, "75201", c1.LocationZip)
	assert.Equal(t, []string{"INV-1", "INV-3"}, c1.BillingReferenceNumbers)
	assert.Equal(t, []string{"2024-01-01", "2024-02-01"}, c1.BillingDates)
	assert.Equal(t, model.VIPYes, c1.IsVIP)
	require.NotNil(t, c1.MembershipTypeID)
	assert.Equal(t, int64(11), *c1.MembershipTypeID, "last membership wins")
	assert.Equal(t, "HVAC", c1.BusinessUnitName, "last job wins")

	c2 := c.Customers[1]
	assert.Empty(t, c2.BillingReferenceNumbers, "empty reference numbers are excluded")
	assert.Equal(t, model.VIPNo, c2.IsVIP, "null membership type is not VIP")
	assert.Nil(t, c2.MembershipTypeID)
	assert.Equal(t, model.BusinessUnitUnknown, c2.BusinessUnitName)

	c3 := c.Customers[2]
	assert.Equal(t, "Only", c3.LocationName)
	assert.Equal(t, model.BusinessUnitNoJob, c3.BusinessUnitName)

	c5 := c.Customers[4]
	assert.NotNil(t, c5.Addresses)
	assert.Empty(t, c5.Addresses)
	assert.Empty(t, c5.LocationName)
	assert.NotNil(t, c5.PhoneNumbers)
	assert.NotNil(t, c5.BillingDates)
}

func TestRun_Invariants(t *testing.T) {
	t.Parallel()

	c := sampleCollections()
	_, err := New(0, 0).Run(context.Background(), c)
	require.NoError(t, err)

	jobCustomers := map[int64]bool{}
	for _, j := range c.Jobs {
		jobCustomers[j.CustomerID] = true
	}

	for _, cust := range c.Customers {
		assert.Equal(t, len(cust.BillingReferenceNumbers), len(cust.BillingDates), "customer %d", cust.CustomerID)
		assert.Equal(t, cust.IsVIP == model.VIPYes, cust.MembershipTypeID != nil, "customer %d", cust.CustomerID)
		if !jobCustomers[cust.CustomerID] {
			assert.Equal(t, model.BusinessUnitNoJob, cust.BusinessUnitName, "customer %d", cust.CustomerID)
		}
	}
}

func TestRun_IdempotentAndBatchSizeIndependent(t *testing.T) {
	t.Parallel()

	c := sampleCollections()
	_, err := New(100, time.Minute).Run(context.Background(), c)
	require.NoError(t, err)
	first, err := json.Marshal(c.Customers)
	require.NoError(t, err)

	_, err = New(100, time.Minute).Run(context.Background(), c)
	require.NoError(t, err)
	second, err := json.Marshal(c.Customers)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))

	other := sampleCollections()
	_, err = New(1, time.Minute).Run(context.Background(), other)
	require.NoError(t, err)
	third, err := json.Marshal(other.Customers)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(third))
}

func TestRun_BudgetExceededLeavesDefaults(t *testing.T) {
	t.Parallel()

	c := &model.Collections{
		Customers: customers(1, 2, 3, 4),
		Jobs: []model.Job{
			{CustomerID: 1, BusinessUnitID: 1},
			{CustomerID: 4, BusinessUnitID: 1},
		},
		BusinessUnits: []model.BusinessUnit{{ID: 1, Name: "HVAC"}},
	}

	e := New(2, time.Second)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	e.nowFunc = func() time.Time {
		now = now.Add(2 * time.Second)
		return now
	}

	reports, err := e.Run(context.Background(), c)
	require.NoError(t, err)

	bu := reports[4]
	assert.True(t, bu.Partial)
	assert.Equal(t, 2, bu.Processed)
	assert.Equal(t, 1, bu.Batches)

	assert.Equal(t, "HVAC", c.Customers[0].BusinessUnitName)
	assert.Equal(t, model.BusinessUnitNoJob, c.Customers[3].BusinessUnitName, "unreached customers keep the no-match default")
	assert.Equal(t, model.VIPNo, c.Customers[3].IsVIP)
	assert.NotNil(t, c.Customers[3].PhoneNumbers)
}

func TestRun_ContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reports, err := New(10, time.Minute).Run(ctx, sampleCollections())
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, reports, 1)
}

func TestRun_NoCustomers(t *testing.T) {
	t.Parallel()

	reports, err := New(10, time.Minute).Run(context.Background(), &model.Collections{})
	require.NoError(t, err)
	for _, r := range reports {
		assert.Zero(t, r.Processed)
		assert.False(t, r.Partial)
	}
}

func TestRun_InvoiceWithEmptyDateIsKept(t *testing.T) {
	t.Parallel()

	c := &model.Collections{
		Customers: []model.Customer{{CustomerID: 1}},
		Invoices: []model.Invoice{
			{CustomerID: 1, ReferenceNumber: "INV-1", InvoiceDate: strPtr("")},
			{CustomerID: 1, ReferenceNumber: "INV-2", InvoiceDate: nil},
			{CustomerID: 1, ReferenceNumber: "INV-3", InvoiceDate: strPtr("2024-02-01")},
		},
	}
	_, err := New(10, time.Minute).Run(context.Background(), c)
	require.NoError(t, err)

	assert.Equal(t, []string{"INV-1", "INV-3"}, c.Customers[0].BillingReferenceNumbers)
	assert.Equal(t, []string{"", "2024-02-01"}, c.Customers[0].BillingDates)
}
