// Package export flattens enriched customers into the downstream row shape
// and writes them as CSV or XLSX.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/titan-sync/internal/model"
)

// Placeholders written in place of empty values.
const (
	NoContactName  = "No Contact Name Info"
	NoPhone        = "No Phone Info"
	NoEmail        = "No Email Info"
	NoStreet       = "No Street Info"
	NoCity         = "No City Info"
	NoZip          = "No Zip Info"
	NoAddressName  = "No Address Name Info"
	NoVIP          = "No VIP Info"
	NoBusinessUnit = "No Business Unit Info"
	NoBillingName  = "No Billing Name Info"
	NoBillingLine  = "No Billing Line Info"
)

// Separator joins multi-valued text fields.
const Separator = "; "

// Columns is the exported column order.
var Columns = []string{
	"customer_id",
	"contactname",
	"all_phone_numbers",
	"all_emails",
	"all_streets",
	"all_cities",
	"all_zips",
	"all_addresses",
	"primary_street",
	"primary_city",
	"primary_zip",
	"primary_address",
	"is_vip",
	"business_unit_name",
	"billingname",
	"billingline1",
}

// Record is one flattened customer. Every text field is non-empty.
type Record struct {
	CustomerID       int64  `json:"customer_id"`
	ContactName      string `json:"contactname"`
	AllPhoneNumbers  string `json:"all_phone_numbers"`
	AllEmails        string `json:"all_emails"`
	AllStreets       string `json:"all_streets"`
	AllCities        string `json:"all_cities"`
	AllZips          string `json:"all_zips"`
	AllAddresses     string `json:"all_addresses"`
	PrimaryStreet    string `json:"primary_street"`
	PrimaryCity      string `json:"primary_city"`
	PrimaryZip       string `json:"primary_zip"`
	PrimaryAddress   string `json:"primary_address"`
	IsVIP            string `json:"is_vip"`
	BusinessUnitName string `json:"business_unit_name"`
	BillingName      string `json:"billingname"`
	BillingLine1     string `json:"billingline1"`
}

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// IsValidEmail reports whether s, trimmed, looks like an email address.
func IsValidEmail(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	if _, err := strconv.ParseUint(s, 10, 64); err == nil {
		return false
	}
	return emailPattern.MatchString(s)
}

// Flatten converts an enriched customer into its exported record.
func Flatten(c model.Customer) Record {
	var phones, emails, streets, cities, zips, names []string

	for _, p := range c.PhoneNumbers {
		phones = appendClean(phones, p)
	}
	for _, e := range c.Emails {
		if IsValidEmail(e.Email) {
			emails = appendClean(emails, e.Email)
		}
	}
	for _, a := range c.Addresses {
		streets = appendClean(streets, a.Street)
		cities = appendClean(cities, a.City)
		zips = appendClean(zips, a.Zip)
		names = appendClean(names, a.Name)
	}

	return Record{
		CustomerID:       c.CustomerID,
		ContactName:      orPlaceholder(clean(c.Name), NoContactName),
		AllPhoneNumbers:  joinOr(phones, NoPhone),
		AllEmails:        joinOr(emails, NoEmail),
		AllStreets:       joinOr(streets, NoStreet),
		AllCities:        joinOr(cities, NoCity),
		AllZips:          joinOr(zips, NoZip),
		AllAddresses:     joinOr(names, NoAddressName),
		PrimaryStreet:    orPlaceholder(clean(c.LocationStreet), NoStreet),
		PrimaryCity:      orPlaceholder(clean(c.LocationCity), NoCity),
		PrimaryZip:       orPlaceholder(clean(c.LocationZip), NoZip),
		PrimaryAddress:   orPlaceholder(clean(c.LocationName), NoAddressName),
		IsVIP:            orPlaceholder(clean(string(c.IsVIP)), NoVIP),
		BusinessUnitName: orPlaceholder(clean(c.BusinessUnitName), NoBusinessUnit),
		BillingName:      jsonListOr(c.BillingReferenceNumbers, NoBillingName),
		BillingLine1:     jsonListOr(c.BillingDates, NoBillingLine),
	}
}

// FlattenAll flattens every customer that has an id.
func FlattenAll(customers []model.Customer) []Record {
	out := make([]Record, 0, len(customers))
	for _, c := range customers {
		if c.CustomerID == 0 {
			continue
		}
		out = append(out, Flatten(c))
	}
	return out
}

// Values returns the record's cells in Columns order.
func (r Record) Values() []string {
	return []string{
		strconv.FormatInt(r.CustomerID, 10),
		r.ContactName,
		r.AllPhoneNumbers,
		r.AllEmails,
		r.AllStreets,
		r.AllCities,
		r.AllZips,
		r.AllAddresses,
		r.PrimaryStreet,
		r.PrimaryCity,
		r.PrimaryZip,
		r.PrimaryAddress,
		r.IsVIP,
		r.BusinessUnitName,
		r.BillingName,
		r.BillingLine1,
	}
}

// Fields returns the record keyed by column name, with customer_id numeric.
func (r Record) Fields() map[string]any {
	vals := r.Values()
	m := make(map[string]any, len(Columns))
	m[Columns[0]] = r.CustomerID
	for i := 1; i < len(Columns); i++ {
		m[Columns[i]] = vals[i]
	}
	return m
}

func clean(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

func appendClean(dst []string, s string) []string {
	if s = clean(s); s != "" {
		dst = append(dst, s)
	}
	return dst
}

func orPlaceholder(s, placeholder string) string {
	if s == "" {
		return placeholder
	}
	return s
}

func joinOr(vals []string, placeholder string) string {
	if len(vals) == 0 {
		return placeholder
	}
	return strings.Join(vals, Separator)
}

// jsonListOr encodes vals as a JSON array with ", " between elements and
// every non-ASCII character escaped as \uXXXX, the layout existing rows were
// written with.
func jsonListOr(vals []string, placeholder string) string {
	if len(vals) == 0 {
		return placeholder
	}
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = jsonString(norm.NFC.String(v))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func jsonString(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	return asciiEscape(strings.TrimSuffix(buf.String(), "\n"))
}

// asciiEscape rewrites non-ASCII runes in encoded JSON as \uXXXX escapes,
// using surrogate pairs outside the basic plane.
func asciiEscape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < utf8.RuneSelf {
			b.WriteRune(r)
			continue
		}
		if r1, r2 := utf16.EncodeRune(r); r1 != utf8.RuneError {
			fmt.Fprintf(&b, "\\u%04x\\u%04x", r1, r2)
			continue
		}
		fmt.Fprintf(&b, "\\u%04x", r)
	}
	return b.String()
}
