package servicetitan

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/sells-group/titan-sync/internal/model"
)

// Upstream collections, in fetch order.
var (
	CustomersEndpoint     = Endpoint{Entity: "customers", Path: "crm/v2/tenant/%s/customers"}
	ContactsEndpoint      = Endpoint{Entity: "contacts", Path: "crm/v2/tenant/%s/customers/contacts"}
	LocationsEndpoint     = Endpoint{Entity: "locations", Path: "crm/v2/tenant/%s/locations"}
	InvoicesEndpoint      = Endpoint{Entity: "invoices", Path: "accounting/v2/tenant/%s/invoices"}
	MembershipsEndpoint   = Endpoint{Entity: "memberships", Path: "memberships/v2/tenant/%s/memberships"}
	JobsEndpoint          = Endpoint{Entity: "jobs", Path: "jpm/v2/tenant/%s/jobs"}
	BusinessUnitsEndpoint = Endpoint{Entity: "business_units", Path: "settings/v2/tenant/%s/business-units"}
)

type rawAddress struct {
	Street string `json:"street"`
	City   string `json:"city"`
	Zip    string `json:"zip"`
}

type rawCustomer struct {
	ID      int64           `json:"id"`
	Name    string          `json:"name"`
	Address json.RawMessage `json:"address"`
}

type rawContact struct {
	CustomerID    int64  `json:"customerId"`
	Type          string `json:"type"`
	Value         string `json:"value"`
	PhoneSettings *struct {
		PhoneNumber string `json:"phoneNumber"`
	} `json:"phoneSettings"`
}

type rawLocation struct {
	CustomerID int64           `json:"customerId"`
	Name       string          `json:"name"`
	Address    json.RawMessage `json:"address"`
	CreatedOn  string          `json:"createdOn"`
	ModifiedOn string          `json:"modifiedOn"`
}

type rawInvoice struct {
	ReferenceNumber string          `json:"referenceNumber"`
	InvoiceDate     json.RawMessage `json:"invoiceDate"`
	Customer        *struct {
		ID int64 `json:"id"`
	} `json:"customer"`
}

type rawMembership struct {
	CustomerID       int64  `json:"customerId"`
	MembershipTypeID *int64 `json:"membershipTypeId"`
}

type rawJob struct {
	CustomerID     int64 `json:"customerId"`
	BusinessUnitID int64 `json:"businessUnitId"`
}

type rawBusinessUnit struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ProjectCustomer keeps id, name and the street and city of the address.
// A plain string address is taken as the street.
func ProjectCustomer(raw json.RawMessage) (model.Customer, bool, error) {
	var r rawCustomer
	if err := json.Unmarshal(raw, &r); err != nil {
		return model.Customer{}, false, err
	}
	if r.ID == 0 {
		return model.Customer{}, false, nil
	}
	c := model.Customer{CustomerID: r.ID, Name: r.Name}
	c.AddressStreet, c.AddressCity = customerAddress(r.Address)
	return c, true, nil
}

func customerAddress(raw json.RawMessage) (street, city string) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", ""
	}
	switch trimmed[0] {
	case '"':
		_ = json.Unmarshal(trimmed, &street)
	case '{':
		var addr rawAddress
		if err := json.Unmarshal(trimmed, &addr); err == nil {
			street, city = addr.Street, addr.City
		}
	}
	return street, city
}

// ProjectContact takes the phone number from phoneSettings and treats the
// contact value as the email regardless of its declared type.
func ProjectContact(raw json.RawMessage) (model.Contact, bool, error) {
	var r rawContact
	if err := json.Unmarshal(raw, &r); err != nil {
		return model.Contact{}, false, err
	}
	if r.CustomerID == 0 {
		return model.Contact{}, false, nil
	}
	c := model.Contact{CustomerID: r.CustomerID, Email: r.Value, Type: r.Type}
	if r.PhoneSettings != nil {
		c.PhoneNumber = r.PhoneSettings.PhoneNumber
	}
	return c, true, nil
}

// ProjectLocation keeps the address parts, the raw address object and both
// timestamps.
func ProjectLocation(raw json.RawMessage) (model.Location, bool, error) {
	var r rawLocation
	if err := json.Unmarshal(raw, &r); err != nil {
		return model.Location{}, false, err
	}
	if r.CustomerID == 0 {
		return model.Location{}, false, nil
	}
	loc := model.Location{
		CustomerID: r.CustomerID,
		Name:       r.Name,
		CreatedAt:  r.CreatedOn,
		ModifiedAt: r.ModifiedOn,
	}
	if trimmed := bytes.TrimSpace(r.Address); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		var addr rawAddress
		// A non-object address carries no usable parts but is still kept raw.
		if err := json.Unmarshal(trimmed, &addr); err == nil {
			loc.Street = addr.Street
			loc.City = addr.City
			loc.Zip = addr.Zip
		}
		loc.RawAddress = string(trimmed)
	}
	return loc, true, nil
}

// ProjectInvoice reads the customer id from the nested customer object. An
// explicit null invoiceDate stays nil; a missing one becomes "".
func ProjectInvoice(raw json.RawMessage) (model.Invoice, bool, error) {
	var r rawInvoice
	if err := json.Unmarshal(raw, &r); err != nil {
		return model.Invoice{}, false, err
	}
	if r.Customer == nil || r.Customer.ID == 0 {
		return model.Invoice{}, false, nil
	}
	inv := model.Invoice{
		CustomerID:      r.Customer.ID,
		ReferenceNumber: r.ReferenceNumber,
	}
	switch date := bytes.TrimSpace(r.InvoiceDate); {
	case len(date) == 0:
		empty := ""
		inv.InvoiceDate = &empty
	case bytes.Equal(date, []byte("null")):
	default:
		var s string
		if err := json.Unmarshal(date, &s); err != nil {
			return model.Invoice{}, false, err
		}
		inv.InvoiceDate = &s
	}
	return inv, true, nil
}

// ProjectMembership keeps a null membership type as nil.
func ProjectMembership(raw json.RawMessage) (model.Membership, bool, error) {
	var r rawMembership
	if err := json.Unmarshal(raw, &r); err != nil {
		return model.Membership{}, false, err
	}
	if r.CustomerID == 0 {
		return model.Membership{}, false, nil
	}
	return model.Membership{CustomerID: r.CustomerID, MembershipTypeID: r.MembershipTypeID}, true, nil
}

// ProjectJob drops jobs that carry no business unit, so they cannot mask an
// earlier job that does.
func ProjectJob(raw json.RawMessage) (model.Job, bool, error) {
	var r rawJob
	if err := json.Unmarshal(raw, &r); err != nil {
		return model.Job{}, false, err
	}
	if r.CustomerID == 0 || r.BusinessUnitID == 0 {
		return model.Job{}, false, nil
	}
	return model.Job{CustomerID: r.CustomerID, BusinessUnitID: r.BusinessUnitID}, true, nil
}

// ProjectBusinessUnit keeps units with an id; the name may be empty.
func ProjectBusinessUnit(raw json.RawMessage) (model.BusinessUnit, bool, error) {
	var r rawBusinessUnit
	if err := json.Unmarshal(raw, &r); err != nil {
		return model.BusinessUnit{}, false, err
	}
	if r.ID == 0 {
		return model.BusinessUnit{}, false, nil
	}
	return model.BusinessUnit{ID: r.ID, Name: r.Name}, true, nil
}

// Customers collects every customer.
func (c *Client) Customers(ctx context.Context, opts CollectOptions) (Result[model.Customer], error) {
	return Collect(ctx, c, CustomersEndpoint, ProjectCustomer, opts)
}

// Contacts collects contacts for the given customers in batches of batchSize.
func (c *Client) Contacts(ctx context.Context, customerIDs []int64, batchSize int) (BatchResult[model.Contact], error) {
	return CollectByIDs(ctx, c, ContactsEndpoint, customerIDs, ProjectContact, batchSize)
}

// Locations collects every location.
func (c *Client) Locations(ctx context.Context, opts CollectOptions) (Result[model.Location], error) {
	return Collect(ctx, c, LocationsEndpoint, ProjectLocation, opts)
}

// Invoices collects every invoice.
func (c *Client) Invoices(ctx context.Context, opts CollectOptions) (Result[model.Invoice], error) {
	return Collect(ctx, c, InvoicesEndpoint, ProjectInvoice, opts)
}

// Memberships collects every membership.
func (c *Client) Memberships(ctx context.Context, opts CollectOptions) (Result[model.Membership], error) {
	return Collect(ctx, c, MembershipsEndpoint, ProjectMembership, opts)
}

// Jobs collects every job.
func (c *Client) Jobs(ctx context.Context, opts CollectOptions) (Result[model.Job], error) {
	return Collect(ctx, c, JobsEndpoint, ProjectJob, opts)
}

// BusinessUnits collects the business unit table.
func (c *Client) BusinessUnits(ctx context.Context, opts CollectOptions) (Result[model.BusinessUnit], error) {
	return Collect(ctx, c, BusinessUnitsEndpoint, ProjectBusinessUnit, opts)
}
