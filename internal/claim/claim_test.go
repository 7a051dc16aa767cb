package claim

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testChoices = Choices{
	Districts:         []string{"ALBANY", "BINGHAMTON", "BUFFALO"},
	MedicalFeeRegions: []string{"1", "2", "UK"},
	Carriers:          []string{"PRIVATE", "SIF"},
}

func TestLabel_TotalOverClasses(t *testing.T) {
	t.Parallel()

	allowed := map[string]bool{
		"CANCELLED": true, "NON-COMP": true, "MED ONLY": true, "TEMPORARY": true,
		"PPD SCH LOSS": true, "PPD NSL": true, "PTD": true, "DEATH": true,
	}
	seen := map[string]bool{}
	for id := 0; id < NumClasses; id++ {
		label, err := Label(id)
		require.NoError(t, err, "class %d", id)
		assert.True(t, allowed[label], "unexpected label %q", label)
		seen[label] = true
	}
	assert.Len(t, seen, NumClasses)
}

func TestLabel_OutOfRange(t *testing.T) {
	t.Parallel()

	for _, id := range []int{-1, 8, 100} {
		_, err := Label(id)
		assert.Error(t, err, "class %d", id)
	}
}

func TestNewFormState_Defaults(t *testing.T) {
	t.Parallel()

	want := FormState{
		BirthYear:              1980,
		AccidentMonth:          1,
		DistrictName:           "ALBANY",
		MedicalFeeRegion:       "1",
		CarrierName:            "PRIVATE",
		RegionRiskScore:        0.5,
		CountyClaimsNormalized: 0.5,
		WCIOPartBodyCode:       30,
		WCIOCauseInjuryCode:    1,
	}
	if diff := cmp.Diff(want, NewFormState(testChoices)); diff != "" {
		t.Errorf("NewFormState() mismatch (-want +got):\n%s", diff)
	}
}

func TestFields_Descriptors(t *testing.T) {
	t.Parallel()

	fields := Fields(testChoices)
	require.Len(t, fields, 19)

	tests := []struct {
		key      string
		kind     Kind
		min, max float64
		section  string
	}{
		{"birth_year", KindInt, 1940, 2010, SectionBasic},
		{"accident_month", KindMonth, 1, 12, SectionBasic},
		{"days_accident_to_c3", KindInt, 0, 1000, SectionTimeline},
		{"days_accident_to_assembly", KindInt, 0, 1000, SectionTimeline},
		{"days_accident_to_first_hearing", KindInt, 0, 1000, SectionTimeline},
		{"region_risk_score", KindFloat, 0, 1, SectionFactors},
		{"county_claims_normalized", KindFloat, 0, 1, SectionFactors},
		{"average_weekly_wage", KindInt, 0, 10000, SectionFactors},
		{"ime_4_count", KindInt, 0, 10, SectionFactors},
		{"wcio_part_body_code", KindInt, 0, 99, SectionMedical},
		{"wcio_cause_injury_code", KindInt, 0, 99, SectionMedical},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			f, ok := FieldByKey(tt.key)
			require.True(t, ok)
			assert.Equal(t, tt.kind, f.Kind)
			assert.Equal(t, tt.min, f.Min)
			assert.Equal(t, tt.max, f.Max)
			assert.Equal(t, tt.section, f.Section)
		})
	}

	bySection := FieldsBySection(testChoices)
	assert.Len(t, bySection[SectionBasic], 6)
	assert.Len(t, bySection[SectionTimeline], 6)
	assert.Len(t, bySection[SectionFactors], 5)
	assert.Len(t, bySection[SectionMedical], 2)
}

func TestFields_Options(t *testing.T) {
	t.Parallel()

	for _, f := range Fields(testChoices) {
		switch f.Key {
		case "accident_month":
			require.Len(t, f.Options, 12)
			assert.Equal(t, Option{Value: "1", Label: "January"}, f.Options[0])
			assert.Equal(t, Option{Value: "12", Label: "December"}, f.Options[11])
		case "district_name":
			assert.Len(t, f.Options, len(testChoices.Districts))
		case "carrier_name":
			assert.Equal(t, "SIF", f.Options[1].Value)
		}
	}
}

func TestFormState_SetGet(t *testing.T) {
	t.Parallel()

	s := NewFormState(testChoices)
	require.NoError(t, s.Set("carrier_name", "SIF"))
	require.NoError(t, s.Set("attorney_representative", "on"))
	require.NoError(t, s.Set("c3_date_converted", "true"))
	require.NoError(t, s.Set("region_risk_score", "0.25"))
	require.NoError(t, s.Set("ime_4_count", " 3 "))

	assert.Equal(t, "SIF", s.CarrierName)
	assert.True(t, s.AttorneyRepresentative)
	assert.True(t, s.C3DateConverted)
	assert.Equal(t, 0.25, s.RegionRiskScore)
	assert.Equal(t, 3, s.IME4Count)

	v, ok := s.Get("region_risk_score")
	require.True(t, ok)
	assert.Equal(t, "0.25", v)

	assert.Error(t, s.Set("nope", "1"))
	assert.Error(t, s.Set("birth_year", "nineteen"))
	assert.Error(t, s.Set("age_outlier_flag", "maybe"))
}

func TestFormState_Merge(t *testing.T) {
	t.Parallel()

	base := NewFormState(testChoices)
	got, err := base.Merge([]byte(`{"birth_year": 1975, "age_outlier_flag": true}`))
	require.NoError(t, err)

	want := base
	want.BirthYear = 1975
	want.AgeOutlierFlag = true
	assert.Equal(t, want, got)

	_, err = base.Merge([]byte(`{"birth_year": "x"}`))
	assert.Error(t, err)
}

func TestValidator_Decode(t *testing.T) {
	t.Parallel()

	v, err := NewValidator(testChoices)
	require.NoError(t, err)

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"empty object takes defaults", `{}`, false},
		{"partial", `{"carrier_name": "SIF", "ime_4_count": 2}`, false},
		{"birth year too low", `{"birth_year": 1900}`, true},
		{"month out of range", `{"accident_month": 13}`, true},
		{"fractional integer", `{"ime_4_count": 1.5}`, true},
		{"risk above one", `{"region_risk_score": 1.01}`, true},
		{"unknown carrier", `{"carrier_name": "ACME"}`, true},
		{"unknown key", `{"shoe_size": 9}`, true},
		{"wrong bool type", `{"age_outlier_flag": "yes"}`, true},
		{"not an object", `[1,2]`, true},
		{"malformed", `{`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Decode([]byte(tt.body))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalid))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestValidator_DecodeMap(t *testing.T) {
	t.Parallel()

	v, err := NewValidator(testChoices)
	require.NoError(t, err)

	s, err := v.DecodeMap(map[string]any{"birth_year": float64(1990), "district_name": "BUFFALO"})
	require.NoError(t, err)
	assert.Equal(t, 1990, s.BirthYear)
	assert.Equal(t, "BUFFALO", s.DistrictName)
	assert.Equal(t, 30, s.WCIOPartBodyCode)

	_, err = v.DecodeMap(map[string]any{"wcio_part_body_code": float64(100)})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestValidator_Check(t *testing.T) {
	t.Parallel()

	v, err := NewValidator(testChoices)
	require.NoError(t, err)

	s := v.Defaults()
	assert.NoError(t, v.Check(s))

	s.DistrictName = "NOWHERE"
	assert.ErrorIs(t, v.Check(s), ErrInvalid)
}
