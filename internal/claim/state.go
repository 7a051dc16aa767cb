// Package claim holds the user-facing model of a workers' compensation claim:
// the form state, the field descriptors that drive every input surface, the
// claim type labels and the validator used for untrusted input.
package claim

import (
	"encoding/json"
	"fmt"
)

// Default values for the non-categorical fields.
const (
	DefaultBirthYear           = 1980
	DefaultAccidentMonth       = 1
	DefaultRiskScore           = 0.5
	DefaultWCIOPartBodyCode    = 30
	DefaultWCIOCauseInjuryCode = 1
)

// Choices lists the selectable keys of the three categorical fields, in
// display order. The first entry of each list is the field default.
type Choices struct {
	Districts         []string `json:"districts"`
	MedicalFeeRegions []string `json:"medical_fee_regions"`
	Carriers          []string `json:"carriers"`
}

// FormState is one complete set of claim attributes as entered on a form.
// Every field always carries a value; NewFormState fills in the defaults.
type FormState struct {
	BirthYear                  int     `json:"birth_year"`
	AccidentMonth              int     `json:"accident_month"`
	DistrictName               string  `json:"district_name"`
	MedicalFeeRegion           string  `json:"medical_fee_region"`
	CarrierName                string  `json:"carrier_name"`
	AttorneyRepresentative     bool    `json:"attorney_representative"`
	C2AfterC3Flag              bool    `json:"c2_after_c3_flag"`
	C3AfterAssemblyFlag        bool    `json:"c3_after_assembly_flag"`
	C3DateConverted            bool    `json:"c3_date_converted"`
	DaysAccidentToC3           int     `json:"days_accident_to_c3"`
	DaysAccidentToAssembly     int     `json:"days_accident_to_assembly"`
	DaysAccidentToFirstHearing int     `json:"days_accident_to_first_hearing"`
	RegionRiskScore            float64 `json:"region_risk_score"`
	CountyClaimsNormalized     float64 `json:"county_claims_normalized"`
	AgeOutlierFlag             bool    `json:"age_outlier_flag"`
	AverageWeeklyWage          int     `json:"average_weekly_wage"`
	IME4Count                  int     `json:"ime_4_count"`
	WCIOPartBodyCode           int     `json:"wcio_part_body_code"`
	WCIOCauseInjuryCode        int     `json:"wcio_cause_injury_code"`
}

// NewFormState returns the form state shown before the user touches any
// control.
func NewFormState(c Choices) FormState {
	return FormState{
		BirthYear:              DefaultBirthYear,
		AccidentMonth:          DefaultAccidentMonth,
		DistrictName:           first(c.Districts),
		MedicalFeeRegion:       first(c.MedicalFeeRegions),
		CarrierName:            first(c.Carriers),
		RegionRiskScore:        DefaultRiskScore,
		CountyClaimsNormalized: DefaultRiskScore,
		WCIOPartBodyCode:       DefaultWCIOPartBodyCode,
		WCIOCauseInjuryCode:    DefaultWCIOCauseInjuryCode,
	}
}

func first(keys []string) string {
	if len(keys) == 0 {
		return ""
	}
	return keys[0]
}

// Merge overlays a partial JSON object onto s. Keys absent from data keep
// their current value.
func (s FormState) Merge(data []byte) (FormState, error) {
	out := s
	if err := json.Unmarshal(data, &out); err != nil {
		return s, fmt.Errorf("decode form state: %w", err)
	}
	return out, nil
}

// Set assigns a single field from its string form, as used by the
// `--set key=value` CLI flag and the HTML form handler.
func (s *FormState) Set(key, value string) error {
	f, ok := FieldByKey(key)
	if !ok {
		return fmt.Errorf("unknown field %q", key)
	}
	return f.assign(s, value)
}

// Get returns the string form of a single field.
func (s FormState) Get(key string) (string, bool) {
	f, ok := FieldByKey(key)
	if !ok {
		return "", false
	}
	return f.format(s), true
}
