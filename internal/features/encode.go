package features

import (
	"fmt"

	"github.com/banshee-data/claimtype/internal/claim"
)

// EncodingError reports a categorical value that has no code.
type EncodingError struct {
	Field string
	Value string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode %s: unknown value %q", e.Field, e.Value)
}

// Encode maps a form state to the model input row. It is pure; the same state
// and tables always give the same vector.
func (t Tables) Encode(s claim.FormState) (Vector, error) {
	var v Vector

	carrier, ok := t.Carrier.Code(s.CarrierName)
	if !ok {
		return v, &EncodingError{Field: "carrier_name", Value: s.CarrierName}
	}
	district, ok := t.District.Code(s.DistrictName)
	if !ok {
		return v, &EncodingError{Field: "district_name", Value: s.DistrictName}
	}
	medFee, ok := t.MedicalFee.Code(s.MedicalFeeRegion)
	if !ok {
		return v, &EncodingError{Field: "medical_fee_region", Value: s.MedicalFeeRegion}
	}

	v[ColDaysToFirstHearing] = float64(s.DaysAccidentToFirstHearing)
	v[ColIME4Count] = float64(s.IME4Count)
	v[ColAverageWeeklyWage] = float64(s.AverageWeeklyWage)
	v[ColAttorney] = flag(s.AttorneyRepresentative)
	v[ColWCIOCause] = float64(s.WCIOCauseInjuryCode)
	v[ColWCIOPartOfBody] = float64(s.WCIOPartBodyCode)
	v[ColRegionRiskScore] = s.RegionRiskScore
	v[ColC2AfterC3] = flag(s.C2AfterC3Flag)
	v[ColC3AfterAssembly] = flag(s.C3AfterAssemblyFlag)
	v[ColC3DateConverted] = flag(s.C3DateConverted)
	v[ColDaysToC3] = float64(s.DaysAccidentToC3)
	v[ColCarrierName] = float64(carrier)
	v[ColBirthYear] = float64(s.BirthYear)
	v[ColDaysToAssembly] = float64(s.DaysAccidentToAssembly)
	v[ColDistrictName] = float64(district)
	v[ColMedicalFeeRegion] = float64(medFee)
	v[ColAccidentMonth] = float64(s.AccidentMonth)
	v[ColAgeOutlier] = flag(s.AgeOutlierFlag)
	v[ColCountyClaimsNormalized] = s.CountyClaimsNormalized
	return v, nil
}

func flag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
