package enrich

import (
	"time"

	"github.com/sells-group/titan-sync/internal/model"
)

func contactsPass(contacts []model.Contact) pass {
	byCustomer := make(map[int64][]model.Contact)
	for _, ct := range contacts {
		byCustomer[ct.CustomerID] = append(byCustomer[ct.CustomerID], ct)
	}

	return pass{
		name: "contacts",
		reset: func(c *model.Customer) {
			c.PhoneNumbers = []string{}
			c.Emails = []model.Email{}
		},
		apply: func(c *model.Customer) bool {
			found := byCustomer[c.CustomerID]
			for _, ct := range found {
				if ct.PhoneNumber != "" {
					c.PhoneNumbers = append(c.PhoneNumbers, ct.PhoneNumber)
				}
				if ct.Email != "" {
					c.Emails = append(c.Emails, model.Email{Email: ct.Email, Type: ct.Type})
				}
			}
			return len(found) > 0
		},
	}
}

func locationsPass(locations []model.Location) pass {
	byCustomer := make(map[int64][]model.Location)
	for _, loc := range locations {
		byCustomer[loc.CustomerID] = append(byCustomer[loc.CustomerID], loc)
	}

	return pass{
		name: "locations",
		reset: func(c *model.Customer) {
			c.Addresses = []model.Address{}
			c.LocationName = ""
			c.LocationStreet = ""
			c.LocationCity = ""
			c.LocationZip = ""
		},
		apply: func(c *model.Customer) bool {
			found := byCustomer[c.CustomerID]
			if len(found) == 0 {
				return false
			}
			for _, loc := range found {
				c.Addresses = append(c.Addresses, model.Address{
					Name:       loc.Name,
					Street:     loc.Street,
					City:       loc.City,
					Zip:        loc.Zip,
					RawAddress: loc.RawAddress,
					CreatedAt:  loc.CreatedAt,
					ModifiedAt: loc.ModifiedAt,
				})
			}
			latest := LatestLocation(found)
			c.LocationName = latest.Name
			c.LocationStreet = latest.Street
			c.LocationCity = latest.City
			c.LocationZip = latest.Zip
			return true
		},
	}
}

// LatestLocation picks the representative location: the one with the latest
// modified (else created) timestamp. A later timestamp must be strictly
// greater to win. Locations with no parseable timestamp only win when no
// earlier location has been picked. locs must be non-empty.
func LatestLocation(locs []model.Location) model.Location {
	picked := -1
	var pickedAt time.Time
	dated := false

	for i, loc := range locs {
		raw := loc.ModifiedAt
		if raw == "" {
			raw = loc.CreatedAt
		}
		if ts, ok := parseTimestamp(raw); ok {
			if !dated || ts.After(pickedAt) {
				picked, pickedAt, dated = i, ts, true
			}
			continue
		}
		if picked < 0 {
			picked = i
		}
	}
	return locs[picked]
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTimestamp accepts RFC 3339 (including a trailing Z) and the naive
// forms the API occasionally returns, which are read as UTC.
func parseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func invoicesPass(invoices []model.Invoice) pass {
	byCustomer := make(map[int64][]model.Invoice)
	for _, inv := range invoices {
		if inv.InvoiceDate == nil || inv.ReferenceNumber == "" {
			continue
		}
		byCustomer[inv.CustomerID] = append(byCustomer[inv.CustomerID], inv)
	}

	return pass{
		name: "invoices",
		reset: func(c *model.Customer) {
			c.BillingReferenceNumbers = []string{}
			c.BillingDates = []string{}
		},
		apply: func(c *model.Customer) bool {
			found := byCustomer[c.CustomerID]
			for _, inv := range found {
				c.BillingReferenceNumbers = append(c.BillingReferenceNumbers, inv.ReferenceNumber)
				c.BillingDates = append(c.BillingDates, *inv.InvoiceDate)
			}
			return len(found) > 0
		},
	}
}

func membershipsPass(memberships []model.Membership) pass {
	typeByCustomer := make(map[int64]int64)
	for _, m := range memberships {
		if m.MembershipTypeID != nil {
			typeByCustomer[m.CustomerID] = *m.MembershipTypeID
		}
	}

	return pass{
		name: "memberships",
		reset: func(c *model.Customer) {
			c.IsVIP = model.VIPNo
			c.MembershipTypeID = nil
		},
		apply: func(c *model.Customer) bool {
			typeID, ok := typeByCustomer[c.CustomerID]
			if !ok {
				return false
			}
			c.IsVIP = model.VIPYes
			c.MembershipTypeID = &typeID
			return true
		},
	}
}

// businessUnitsPass resolves each customer's business unit from the last job
// seen for it. Jobs carry no timestamp, so "last" means API response order.
func businessUnitsPass(jobs []model.Job, units []model.BusinessUnit) pass {
	names := make(map[int64]string, len(units))
	for _, bu := range units {
		names[bu.ID] = bu.Name
	}
	unitByCustomer := make(map[int64]int64)
	for _, j := range jobs {
		unitByCustomer[j.CustomerID] = j.BusinessUnitID
	}

	return pass{
		name: "business_units",
		reset: func(c *model.Customer) {
			c.BusinessUnitName = model.BusinessUnitNoJob
		},
		apply: func(c *model.Customer) bool {
			unitID, ok := unitByCustomer[c.CustomerID]
			if !ok {
				return false
			}
			if name := names[unitID]; name != "" {
				c.BusinessUnitName = name
			} else {
				c.BusinessUnitName = model.BusinessUnitUnknown
			}
			return true
		},
	}
}
