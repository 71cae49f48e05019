package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Purpose is a closed set of things an assistant can be configured to do.
type Purpose int

const (
	PurposeUnknown Purpose = iota
	PurposeCustomerSupport
	PurposeSales
	PurposeScheduling
	PurposeLeadCapture
	PurposeImportSpreadsheet
	PurposeSmartDatabase
	PurposeCreditOffers
)

var purposeNames = map[Purpose]string{
	PurposeCustomerSupport:   "customer_support",
	PurposeSales:             "sales",
	PurposeScheduling:        "scheduling",
	PurposeLeadCapture:       "lead_capture",
	PurposeImportSpreadsheet: "import_spreadsheet",
	PurposeSmartDatabase:     "smart_database",
	PurposeCreditOffers:      "credit_offers",
}

var purposesByName = func() map[string]Purpose {
	m := make(map[string]Purpose, len(purposeNames))
	for p, n := range purposeNames {
		m[n] = p
	}
	return m
}()

func (p Purpose) String() string {
	if n, ok := purposeNames[p]; ok {
		return n
	}
	return "unknown"
}

// RequiresDatabase reports whether an assistant with this purpose needs a
// linked data source.
func (p Purpose) RequiresDatabase() bool {
	return p == PurposeImportSpreadsheet || p == PurposeSmartDatabase
}

// ParsePurpose maps a wire name to its Purpose.
func ParsePurpose(name string) (Purpose, error) {
	p, ok := purposesByName[name]
	if !ok {
		return PurposeUnknown, &ErrValidation{Field: "purposes", Message: fmt.Sprintf("unknown purpose %q", name)}
	}
	return p, nil
}

func (p Purpose) MarshalJSON() ([]byte, error) {
	if _, ok := purposeNames[p]; !ok {
		return nil, fmt.Errorf("cannot marshal purpose %d", int(p))
	}
	return json.Marshal(p.String())
}

func (p *Purpose) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return &ErrValidation{Field: "purposes", Message: "purpose must be a string"}
	}
	parsed, err := ParsePurpose(name)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// PurposeSet is a set of purposes. It decodes from either a JSON array of
// names or an object of name→bool, and always encodes as a sorted array.
type PurposeSet map[Purpose]struct{}

// NewPurposeSet builds a set from the given purposes.
func NewPurposeSet(ps ...Purpose) PurposeSet {
	s := make(PurposeSet, len(ps))
	for _, p := range ps {
		s[p] = struct{}{}
	}
	return s
}

func (s PurposeSet) Has(p Purpose) bool {
	_, ok := s[p]
	return ok
}

// Slice returns members ordered by enum value.
func (s PurposeSet) Slice() []Purpose {
	out := make([]Purpose, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RequiresDatabase reports whether any member requires a database.
func (s PurposeSet) RequiresDatabase() bool {
	for p := range s {
		if p.RequiresDatabase() {
			return true
		}
	}
	return false
}

func (s PurposeSet) MarshalJSON() ([]byte, error) {
	names := make([]string, 0, len(s))
	for _, p := range s.Slice() {
		names = append(names, p.String())
	}
	return json.Marshal(names)
}

func (s *PurposeSet) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	set := PurposeSet{}

	switch {
	case bytes.Equal(data, []byte("null")):
	case len(data) > 0 && data[0] == '[':
		var names []string
		if err := json.Unmarshal(data, &names); err != nil {
			return &ErrValidation{Field: "purposes", Message: "purposes must be a list of names"}
		}
		for _, n := range names {
			p, err := ParsePurpose(n)
			if err != nil {
				return err
			}
			set[p] = struct{}{}
		}
	case len(data) > 0 && data[0] == '{':
		var flags map[string]bool
		if err := json.Unmarshal(data, &flags); err != nil {
			return &ErrValidation{Field: "purposes", Message: "purposes object must map names to booleans"}
		}
		for n, on := range flags {
			p, err := ParsePurpose(n)
			if err != nil {
				return err
			}
			if on {
				set[p] = struct{}{}
			}
		}
	default:
		return &ErrValidation{Field: "purposes", Message: "purposes must be an array or an object"}
	}

	*s = set
	return nil
}
