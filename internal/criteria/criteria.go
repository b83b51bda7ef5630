// Package criteria holds the property search filters gathered over a
// conversation and the policy for merging updates into them.
package criteria

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// SearchCriteria is the set of optional filters applied to property searches.
// A nil field means "not specified".
type SearchCriteria struct {
	City         *string  `json:"city,omitempty"`
	State        *string  `json:"state,omitempty"`
	MinBedrooms  *int     `json:"min_bedrooms,omitempty"`
	MinBathrooms *int     `json:"min_bathrooms,omitempty"`
	MinPrice     *float64 `json:"min_price,omitempty"`
	MaxPrice     *float64 `json:"max_price,omitempty"`
}

// String returns a pointer to s.
func String(s string) *string { return &s }

// Int returns a pointer to n.
func Int(n int) *int { return &n }

// Float returns a pointer to f.
func Float(f float64) *float64 { return &f }

// IsZero reports whether no field is set.
func (c SearchCriteria) IsZero() bool {
	return c.City == nil && c.State == nil &&
		c.MinBedrooms == nil && c.MinBathrooms == nil &&
		c.MinPrice == nil && c.MaxPrice == nil
}

// Merge applies update on top of c and returns the result. c is not modified.
//
// City and state travel together: an update that sets only one of them clears
// the other, so a new city never inherits the previous search's state. All
// other fields overwrite individually and are left alone when absent.
func (c SearchCriteria) Merge(update SearchCriteria) SearchCriteria {
	out := c.clone()

	switch {
	case update.City != nil && update.State != nil:
		out.City = copyString(update.City)
		out.State = copyString(update.State)
	case update.City != nil:
		out.City = copyString(update.City)
		out.State = nil
	case update.State != nil:
		out.State = copyString(update.State)
		out.City = nil
	}

	if update.MinBedrooms != nil {
		out.MinBedrooms = copyInt(update.MinBedrooms)
	}
	if update.MinBathrooms != nil {
		out.MinBathrooms = copyInt(update.MinBathrooms)
	}
	if update.MinPrice != nil {
		out.MinPrice = copyFloat(update.MinPrice)
	}
	if update.MaxPrice != nil {
		out.MaxPrice = copyFloat(update.MaxPrice)
	}
	return out
}

// Lines renders the set fields as "Label: value" lines in a stable order.
func (c SearchCriteria) Lines() []string {
	var lines []string
	if c.City != nil {
		lines = append(lines, "City: "+*c.City)
	}
	if c.State != nil {
		lines = append(lines, "State: "+*c.State)
	}
	if c.MinBedrooms != nil {
		lines = append(lines, fmt.Sprintf("Min bedrooms: %d", *c.MinBedrooms))
	}
	if c.MinBathrooms != nil {
		lines = append(lines, fmt.Sprintf("Min bathrooms: %d", *c.MinBathrooms))
	}
	if c.MinPrice != nil {
		lines = append(lines, "Min price: "+FormatPrice(*c.MinPrice))
	}
	if c.MaxPrice != nil {
		lines = append(lines, "Max price: "+FormatPrice(*c.MaxPrice))
	}
	return lines
}

// String implements fmt.Stringer.
func (c SearchCriteria) String() string {
	lines := c.Lines()
	if len(lines) == 0 {
		return "(no criteria)"
	}
	return strings.Join(lines, ", ")
}

// FormatPrice renders a dollar amount with thousands separators, e.g. $525,000.
func FormatPrice(v float64) string {
	whole := fmt.Sprintf("%.0f", v)
	neg := strings.HasPrefix(whole, "-")
	whole = strings.TrimPrefix(whole, "-")

	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-$" + b.String()
	}
	return "$" + b.String()
}

// rawCriteria accepts the field spellings language models tend to produce.
type rawCriteria struct {
	City         *string `json:"city"`
	State        *string `json:"state"`
	MinBedrooms  number  `json:"min_bedrooms"`
	MinBedroom   number  `json:"min_bedroom"`
	Bedrooms     number  `json:"bedrooms"`
	MinBathrooms number  `json:"min_bathrooms"`
	MinBathroom  number  `json:"min_bathroom"`
	Bathrooms    number  `json:"bathrooms"`
	MinPrice     number  `json:"min_price"`
	MaxPrice     number  `json:"max_price"`
}

// number decodes a JSON number or a numeric string such as "3" or
// "$500,000". Null and blank strings leave it unset.
type number struct {
	v *float64
}

func (n *number) UnmarshalJSON(data []byte) error {
	text := strings.TrimSpace(string(data))
	if text == "null" {
		n.v = nil
		return nil
	}
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		text = strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)
		if text == "" {
			n.v = nil
			return nil
		}
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return fmt.Errorf("not a number: %s", data)
	}
	n.v = &f
	return nil
}

// Parse decodes a JSON object into SearchCriteria. Numbers may arrive as JSON
// numbers or numeric strings. Null and blank values are treated as absent;
// singular and unprefixed bedroom/bathroom keys are
// accepted as aliases.
func Parse(data []byte) (SearchCriteria, error) {
	var raw rawCriteria
	if err := json.Unmarshal(data, &raw); err != nil {
		return SearchCriteria{}, fmt.Errorf("criteria: parse: %w", err)
	}

	var c SearchCriteria
	c.City = nonBlank(raw.City)
	c.State = nonBlank(raw.State)
	c.MinBedrooms = firstInt(raw.MinBedrooms, raw.MinBedroom, raw.Bedrooms)
	c.MinBathrooms = firstInt(raw.MinBathrooms, raw.MinBathroom, raw.Bathrooms)
	c.MinPrice = copyFloat(raw.MinPrice.v)
	c.MaxPrice = copyFloat(raw.MaxPrice.v)

	if c.MinPrice != nil && c.MaxPrice != nil && *c.MinPrice > *c.MaxPrice {
		return SearchCriteria{}, fmt.Errorf("criteria: min_price %.0f exceeds max_price %.0f", *c.MinPrice, *c.MaxPrice)
	}
	return c, nil
}

func (c SearchCriteria) clone() SearchCriteria {
	return SearchCriteria{
		City:         copyString(c.City),
		State:        copyString(c.State),
		MinBedrooms:  copyInt(c.MinBedrooms),
		MinBathrooms: copyInt(c.MinBathrooms),
		MinPrice:     copyFloat(c.MinPrice),
		MaxPrice:     copyFloat(c.MaxPrice),
	}
}

func nonBlank(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func firstInt(vals ...number) *int {
	for _, v := range vals {
		if v.v != nil {
			n := int(*v.v)
			return &n
		}
	}
	return nil
}

func copyString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
