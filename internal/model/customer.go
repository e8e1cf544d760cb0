package model

// VIPStatus is the exported VIP flag for a customer.
type VIPStatus string

const (
	VIPYes VIPStatus = "YES"
	VIPNo  VIPStatus = "NO"
)

// Business unit names used when a customer's latest job cannot be resolved.
const (
	BusinessUnitUnknown = "Unknown Business Unit"
	BusinessUnitNoJob   = "No Past Job"
)

// Email is a single email contact with its declared contact type.
type Email struct {
	Email string `json:"email"`
	Type  string `json:"type"`
}

// Address is one location attached to a customer.
type Address struct {
	Name       string `json:"name"`
	Street     string `json:"street"`
	City       string `json:"city"`
	Zip        string `json:"zip"`
	RawAddress string `json:"raw_address"`
	CreatedAt  string `json:"created_at"`
	ModifiedAt string `json:"modified_at"`
}

// Customer is the primary entity. The collector fills the identity fields;
// enrichment passes fill the rest and never remove what another pass set.
type Customer struct {
	CustomerID    int64  `json:"customer_id"`
	Name          string `json:"name"`
	AddressStreet string `json:"address_street"`
	AddressCity   string `json:"address_city"`

	PhoneNumbers []string  `json:"phone_numbers"`
	Emails       []Email   `json:"emails"`
	Addresses    []Address `json:"addresses"`

	// Latest location, picked by modified/created timestamp.
	LocationName   string `json:"location_name"`
	LocationStreet string `json:"location_street"`
	LocationCity   string `json:"location_city"`
	LocationZip    string `json:"location_zip"`

	IsVIP            VIPStatus `json:"is_vip"`
	MembershipTypeID *int64    `json:"membership_type_id"`
	BusinessUnitName string    `json:"business_unit_name"`

	// Index-aligned: BillingDates[i] is the date of BillingReferenceNumbers[i].
	BillingReferenceNumbers []string `json:"billing_reference_numbers"`
	BillingDates            []string `json:"billing_dates"`
}

// Contact is the narrow contact record. Email holds the contact value
// regardless of its declared type.
type Contact struct {
	CustomerID  int64  `json:"customer_id"`
	PhoneNumber string `json:"phone_number"`
	Email       string `json:"email"`
	Type        string `json:"type"`
}

// Location is the narrow location record.
type Location struct {
	CustomerID int64  `json:"customer_id"`
	Name       string `json:"name"`
	Street     string `json:"street"`
	City       string `json:"city"`
	Zip        string `json:"zip"`
	RawAddress string `json:"raw_address"`
	CreatedAt  string `json:"created_at"`
	ModifiedAt string `json:"modified_at"`
}

// Invoice is the narrow invoice record. A nil InvoiceDate means the API
// returned null and the invoice is ignored by enrichment; a missing date is
// an empty string and the invoice is kept.
type Invoice struct {
	CustomerID      int64   `json:"customer_id"`
	ReferenceNumber string  `json:"reference_number"`
	InvoiceDate     *string `json:"invoice_date"`
}

// Membership links a customer to a membership type.
type Membership struct {
	CustomerID       int64  `json:"customer_id"`
	MembershipTypeID *int64 `json:"membership_type_id"`
}

// Job links a customer to the business unit that ran the job.
type Job struct {
	CustomerID     int64 `json:"customer_id"`
	BusinessUnitID int64 `json:"business_unit_id"`
}

// BusinessUnit is a static id to name lookup row.
type BusinessUnit struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Collections holds every collection gathered during one run. A run owns
// exactly one Collections value; nothing else writes to it.
type Collections struct {
	Customers     []Customer
	Contacts      []Contact
	Locations     []Location
	Invoices      []Invoice
	Memberships   []Membership
	Jobs          []Job
	BusinessUnits []BusinessUnit
}

// CustomerIDs returns the ids of all collected customers in collection order.
func (c *Collections) CustomerIDs() []int64 {
	ids := make([]int64, 0, len(c.Customers))
	for _, cust := range c.Customers {
		if cust.CustomerID != 0 {
			ids = append(ids, cust.CustomerID)
		}
	}
	return ids
}

// RetainLocationsFor drops locations whose customer is not in ids and
// returns how many were removed.
func (c *Collections) RetainLocationsFor(ids []int64) int {
	known := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		known[id] = struct{}{}
	}
	kept := c.Locations[:0]
	for _, loc := range c.Locations {
		if _, ok := known[loc.CustomerID]; ok {
			kept = append(kept, loc)
		}
	}
	removed := len(c.Locations) - len(kept)
	c.Locations = kept
	return removed
}
