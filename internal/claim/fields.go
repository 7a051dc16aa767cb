package claim

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind is the input control type of a field.
type Kind string

const (
	KindInt    Kind = "int"
	KindFloat  Kind = "float"
	KindBool   Kind = "bool"
	KindChoice Kind = "choice"
	KindMonth  Kind = "month"
)

// Form sections, in display order.
const (
	SectionBasic    = "Basic Information"
	SectionTimeline = "Timeline Details"
	SectionFactors  = "Additional Factors"
	SectionMedical  = "Medical Information"
)

// Sections lists the form sections in display order.
var Sections = []string{SectionBasic, SectionTimeline, SectionFactors, SectionMedical}

// Option is one selectable value of a choice or month field.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Field describes one form control.
type Field struct {
	Key     string   `json:"key"`
	Label   string   `json:"label"`
	Help    string   `json:"help"`
	Section string   `json:"section"`
	Kind    Kind     `json:"kind"`
	Min     float64  `json:"min"`
	Max     float64  `json:"max"`
	Step    float64  `json:"step,omitempty"`
	Options []Option `json:"options,omitempty"`

	intp   func(*FormState) *int
	floatp func(*FormState) *float64
	boolp  func(*FormState) *bool
	strp   func(*FormState) *string
}

// HasRange reports whether Min and Max bound the field.
func (f Field) HasRange() bool {
	return f.Kind == KindInt || f.Kind == KindFloat || f.Kind == KindMonth
}

func intField(key, label, help, section string, lo, hi int, p func(*FormState) *int) Field {
	return Field{Key: key, Label: label, Help: help, Section: section, Kind: KindInt,
		Min: float64(lo), Max: float64(hi), Step: 1, intp: p}
}

func floatField(key, label, help, section string, p func(*FormState) *float64) Field {
	return Field{Key: key, Label: label, Help: help, Section: section, Kind: KindFloat,
		Min: 0, Max: 1, Step: 0.01, floatp: p}
}

func boolField(key, label, help, section string, p func(*FormState) *bool) Field {
	return Field{Key: key, Label: label, Help: help, Section: section, Kind: KindBool, boolp: p}
}

func choiceField(key, label, help, section string, p func(*FormState) *string) Field {
	return Field{Key: key, Label: label, Help: help, Section: section, Kind: KindChoice, strp: p}
}

var fieldDefs = []Field{
	intField("birth_year", "Birth Year", "Enter the claimant's birth year", SectionBasic, 1940, 2010,
		func(s *FormState) *int { return &s.BirthYear }),
	{Key: "accident_month", Label: "Accident Month", Help: "Month when the accident occurred",
		Section: SectionBasic, Kind: KindMonth, Min: 1, Max: 12, Step: 1,
		intp: func(s *FormState) *int { return &s.AccidentMonth }},
	choiceField("district_name", "District Name", "Select the district office handling the claim", SectionBasic,
		func(s *FormState) *string { return &s.DistrictName }),
	choiceField("medical_fee_region", "Medical Fee Region", "Medical fee region code", SectionBasic,
		func(s *FormState) *string { return &s.MedicalFeeRegion }),
	choiceField("carrier_name", "Insurance Carrier Type", "Select the insurance carrier type", SectionBasic,
		func(s *FormState) *string { return &s.CarrierName }),
	boolField("attorney_representative", "Attorney/Representative Present", "Is the claimant represented by an attorney?", SectionBasic,
		func(s *FormState) *bool { return &s.AttorneyRepresentative }),

	boolField("c2_after_c3_flag", "C2 Form submitted after C3", "Was Form C2 submitted after Form C3?", SectionTimeline,
		func(s *FormState) *bool { return &s.C2AfterC3Flag }),
	boolField("c3_after_assembly_flag", "C3 Form submitted after assembly", "Was Form C3 submitted after claim assembly?", SectionTimeline,
		func(s *FormState) *bool { return &s.C3AfterAssemblyFlag }),
	boolField("c3_date_converted", "C3 Date Converted", "C3 date conversion status", SectionTimeline,
		func(s *FormState) *bool { return &s.C3DateConverted }),
	intField("days_accident_to_c3", "Days: Accident to C3 Form", "Number of days between accident and C3 form submission", SectionTimeline, 0, 1000,
		func(s *FormState) *int { return &s.DaysAccidentToC3 }),
	intField("days_accident_to_assembly", "Days: Accident to Assembly", "Number of days between accident and claim assembly", SectionTimeline, 0, 1000,
		func(s *FormState) *int { return &s.DaysAccidentToAssembly }),
	intField("days_accident_to_first_hearing", "Days: Accident to First Hearing", "Number of days between accident and first hearing", SectionTimeline, 0, 1000,
		func(s *FormState) *int { return &s.DaysAccidentToFirstHearing }),

	floatField("region_risk_score", "Region Risk Score", "Risk score associated with the region", SectionFactors,
		func(s *FormState) *float64 { return &s.RegionRiskScore }),
	floatField("county_claims_normalized", "County Claims (Normalized)", "Normalized claim count for the county", SectionFactors,
		func(s *FormState) *float64 { return &s.CountyClaimsNormalized }),
	boolField("age_outlier_flag", "Age is Statistical Outlier", "Is the claimant's age considered an outlier?", SectionFactors,
		func(s *FormState) *bool { return &s.AgeOutlierFlag }),
	intField("average_weekly_wage", "Average Weekly Wage ($)", "Claimant's average weekly wage", SectionFactors, 0, 10000,
		func(s *FormState) *int { return &s.AverageWeeklyWage }),
	intField("ime_4_count", "Number of IME-4 Forms", "Number of IME-4 forms received", SectionFactors, 0, 10,
		func(s *FormState) *int { return &s.IME4Count }),

	intField("wcio_part_body_code", "Body Part Code (WCIO)", "Code representing the injured body part", SectionMedical, 0, 99,
		func(s *FormState) *int { return &s.WCIOPartBodyCode }),
	intField("wcio_cause_injury_code", "Injury Cause Code (WCIO)", "Code representing the cause of injury", SectionMedical, 0, 99,
		func(s *FormState) *int { return &s.WCIOCauseInjuryCode }),
}

var fieldIndex = func() map[string]int {
	m := make(map[string]int, len(fieldDefs))
	for i, f := range fieldDefs {
		m[f.Key] = i
	}
	return m
}()

// FieldByKey returns the descriptor for key without any choice options.
func FieldByKey(key string) (Field, bool) {
	i, ok := fieldIndex[key]
	if !ok {
		return Field{}, false
	}
	return fieldDefs[i], true
}

// Keys returns the 19 field keys in form order.
func Keys() []string {
	keys := make([]string, len(fieldDefs))
	for i, f := range fieldDefs {
		keys[i] = f.Key
	}
	return keys
}

// MonthName formats an accident month for display.
func MonthName(m int) string {
	if m < 1 || m > 12 {
		return strconv.Itoa(m)
	}
	return time.Month(m).String()
}

// Fields returns the form descriptors with the categorical options filled
// in from c.
func Fields(c Choices) []Field {
	out := make([]Field, len(fieldDefs))
	copy(out, fieldDefs)
	for i := range out {
		switch out[i].Key {
		case "accident_month":
			out[i].Options = monthOptions()
		case "district_name":
			out[i].Options = keyOptions(c.Districts)
		case "medical_fee_region":
			out[i].Options = keyOptions(c.MedicalFeeRegions)
		case "carrier_name":
			out[i].Options = keyOptions(c.Carriers)
		}
	}
	return out
}

// FieldsBySection groups Fields(c) by section name. Fields keep their
// declaration order within a section; iterate Sections for section order.
func FieldsBySection(c Choices) map[string][]Field {
	out := make(map[string][]Field, len(Sections))
	for _, f := range Fields(c) {
		out[f.Section] = append(out[f.Section], f)
	}
	return out
}

func monthOptions() []Option {
	opts := make([]Option, 12)
	for m := 1; m <= 12; m++ {
		opts[m-1] = Option{Value: strconv.Itoa(m), Label: MonthName(m)}
	}
	return opts
}

func keyOptions(keys []string) []Option {
	opts := make([]Option, len(keys))
	for i, k := range keys {
		opts[i] = Option{Value: k, Label: k}
	}
	return opts
}

func (f Field) assign(s *FormState, value string) error {
	value = strings.TrimSpace(value)
	switch {
	case f.intp != nil:
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("field %s: invalid integer %q", f.Key, value)
		}
		*f.intp(s) = v
	case f.floatp != nil:
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("field %s: invalid number %q", f.Key, value)
		}
		*f.floatp(s) = v
	case f.boolp != nil:
		switch strings.ToLower(value) {
		case "on":
			*f.boolp(s) = true
		case "off", "":
			*f.boolp(s) = false
		default:
			v, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("field %s: invalid boolean %q", f.Key, value)
			}
			*f.boolp(s) = v
		}
	case f.strp != nil:
		*f.strp(s) = value
	}
	return nil
}

func (f Field) format(s FormState) string {
	switch {
	case f.intp != nil:
		return strconv.Itoa(*f.intp(&s))
	case f.floatp != nil:
		return strconv.FormatFloat(*f.floatp(&s), 'f', -1, 64)
	case f.boolp != nil:
		return strconv.FormatBool(*f.boolp(&s))
	case f.strp != nil:
		return *f.strp(&s)
	}
	return ""
}

// Bool reports the value of a boolean field.
func (f Field) Bool(s FormState) bool {
	if f.boolp == nil {
		return false
	}
	return *f.boolp(&s)
}

// Value returns the string form of the field in s.
func (f Field) Value(s FormState) string {
	return f.format(s)
}

// Set assigns the field in s from its string form.
func (f Field) Set(s *FormState, value string) error {
	return f.assign(s, value)
}
