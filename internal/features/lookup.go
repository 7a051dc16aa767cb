// Package features turns a claim form state into the numeric feature vector
// the claim type classifier was trained on.
package features

import (
	"encoding/json"

	"github.com/banshee-data/claimtype/internal/claim"
)

// Entry is one declared key → code binding.
type Entry struct {
	Key  string `json:"key"`
	Code int    `json:"code"`
}

// Overwrite records a key that was declared more than once. Only Code is
// observable; Previous was silently replaced.
type Overwrite struct {
	Key      string `json:"key"`
	Previous int    `json:"previous"`
	Code     int    `json:"code"`
}

// Lookup is an ordered, immutable string → code table. Declaring a key twice
// keeps the key at its first position and binds it to the last code.
type Lookup struct {
	name        string
	keys        []string
	codes       map[string]int
	overwritten []Overwrite
}

// NewLookup builds a table from its declaration list.
func NewLookup(name string, decl []Entry) *Lookup {
	l := &Lookup{name: name, codes: make(map[string]int, len(decl))}
	for _, e := range decl {
		if prev, ok := l.codes[e.Key]; ok {
			l.overwritten = append(l.overwritten, Overwrite{Key: e.Key, Previous: prev, Code: e.Code})
		} else {
			l.keys = append(l.keys, e.Key)
		}
		l.codes[e.Key] = e.Code
	}
	return l
}

func (l *Lookup) Name() string { return l.name }

// Len is the number of effective entries.
func (l *Lookup) Len() int { return len(l.keys) }

// Keys returns the effective keys in declaration order.
func (l *Lookup) Keys() []string {
	out := make([]string, len(l.keys))
	copy(out, l.keys)
	return out
}

// Code returns the code bound to key.
func (l *Lookup) Code(key string) (int, bool) {
	c, ok := l.codes[key]
	return c, ok
}

// HasCode reports whether any key maps to code.
func (l *Lookup) HasCode(code int) bool {
	for _, c := range l.codes {
		if c == code {
			return true
		}
	}
	return false
}

// Entries returns the effective bindings in key order.
func (l *Lookup) Entries() []Entry {
	out := make([]Entry, len(l.keys))
	for i, k := range l.keys {
		out[i] = Entry{Key: k, Code: l.codes[k]}
	}
	return out
}

// Overwritten lists keys whose earlier declaration was replaced.
func (l *Lookup) Overwritten() []Overwrite {
	out := make([]Overwrite, len(l.overwritten))
	copy(out, l.overwritten)
	return out
}

// MarshalJSON renders the table for the config endpoint.
func (l *Lookup) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name        string      `json:"name"`
		Entries     []Entry     `json:"entries"`
		Overwritten []Overwrite `json:"overwritten,omitempty"`
	}{l.name, l.Entries(), l.overwritten})
}

// The district declaration binds BINGHAMTON twice. The model was trained on
// the resulting table, so it is kept as is: six effective keys and no key
// for code 1. STATEWITE is spelled as in the training data.
var districtDecl = []Entry{
	{"ALBANY", 0},
	{"BINGHAMTON", 1},
	{"BINGHAMTON", 2},
	{"BUFFALO", 3},
	{"ROCHESTER", 4},
	{"SYRACUSE", 5},
	{"STATEWITE", 6},
}

var carrierDecl = []Entry{
	{"PRIVATE", 0},
	{"SIF", 1},
	{"SELF PUBLIC", 2},
	{"SELF PRIVATE", 3},
	{"SPECIAL FUND - CONS. COMM.", 4},
	{"SPECIAL FUND - POI CARRIER", 5},
	{"SPECIAL FUND - UNKNOWN", 6},
	{"UNKNOWN", 7},
}

var medicalFeeDecl = []Entry{
	{"1", 0},
	{"2", 1},
	{"3", 2},
	{"4", 3},
	{"UK", 4},
}

// Tables groups the three categorical lookups.
type Tables struct {
	District   *Lookup `json:"district"`
	Carrier    *Lookup `json:"carrier"`
	MedicalFee *Lookup `json:"medical_fee_region"`
}

// DefaultTables builds the lookups the shipped model was trained with.
func DefaultTables() Tables {
	return Tables{
		District:   NewLookup("district", districtDecl),
		Carrier:    NewLookup("carrier", carrierDecl),
		MedicalFee: NewLookup("medical_fee_region", medicalFeeDecl),
	}
}

// Choices exposes the table keys as form options.
func (t Tables) Choices() claim.Choices {
	return claim.Choices{
		Districts:         t.District.Keys(),
		MedicalFeeRegions: t.MedicalFee.Keys(),
		Carriers:          t.Carrier.Keys(),
	}
}
