package features

import "fmt"

// NumColumns is the width of the model input.
const NumColumns = 19

// DType is the logical type of a column.
type DType string

const (
	Int64   DType = "int64"
	Float64 DType = "float64"
)

// Column is one named model input.
type Column struct {
	Name  string `json:"name"`
	DType DType  `json:"dtype"`
}

// Column indices, in model order.
const (
	ColDaysToFirstHearing = iota
	ColIME4Count
	ColAverageWeeklyWage
	ColAttorney
	ColWCIOCause
	ColWCIOPartOfBody
	ColRegionRiskScore
	ColC2AfterC3
	ColC3AfterAssembly
	ColC3DateConverted
	ColDaysToC3
	ColCarrierName
	ColBirthYear
	ColDaysToAssembly
	ColDistrictName
	ColMedicalFeeRegion
	ColAccidentMonth
	ColAgeOutlier
	ColCountyClaimsNormalized
)

// Columns is the input schema the classifier was fit on. The order is part of
// the model contract.
var Columns = [NumColumns]Column{
	{"Days_Accident_to_First_Hearing", Int64},
	{"IME-4 Count", Int64},
	{"Average Weekly Wage", Int64},
	{"Attorney/Representative", Int64},
	{"WCIO Cause of Injury Code", Int64},
	{"WCIO Part Of Body Code", Int64},
	{"Region_Risk_Score", Float64},
	{"C2_After_C3_Flag", Int64},
	{"C3_After_Assembly_Flag", Int64},
	{"C-3 Date Converted", Int64},
	{"Days_Accident_to_C3", Int64},
	{"Carrier Name", Int64},
	{"Birth Year", Int64},
	{"Days_Accident_to_Assembly", Int64},
	{"District Name", Int64},
	{"Medical Fee Region", Int64},
	{"Accident_Month", Int64},
	{"Age_Outlier_Flag", Int64},
	{"County_Claims_Normalized", Float64},
}

// ColumnNames returns the column names in model order.
func ColumnNames() []string {
	out := make([]string, NumColumns)
	for i, c := range Columns {
		out[i] = c.Name
	}
	return out
}

// ColumnIndex returns the position of a named column.
func ColumnIndex(name string) (int, bool) {
	for i, c := range Columns {
		if c.Name == name {
			return i, true
		}
	}
	return 0, false
}

// ColumnTypes maps each column name to its dtype, for diagnostics.
func ColumnTypes() []Column {
	out := make([]Column, NumColumns)
	copy(out, Columns[:])
	return out
}

// Vector is one encoded row of model input.
type Vector [NumColumns]float64

// Get returns the value of a named column.
func (v Vector) Get(name string) (float64, error) {
	i, ok := ColumnIndex(name)
	if !ok {
		return 0, fmt.Errorf("unknown column %q", name)
	}
	return v[i], nil
}

// Float32 converts the row for float32 model runtimes.
func (v Vector) Float32() []float32 {
	out := make([]float32, NumColumns)
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// Map returns the row keyed by column name.
func (v Vector) Map() map[string]float64 {
	out := make(map[string]float64, NumColumns)
	for i, c := range Columns {
		out[c.Name] = v[i]
	}
	return out
}
