// Package features assembles the per-stay, per-day training table: lab and
// chart events reshaped by pkg/events, joined with demographics, death
// outcomes and the expanded treatment assignment.
package features

import "time"

// TrainingRecord is one fully joined patient-day. Feature values live in
// Features keyed by normalized measurement label (diff columns included); a
// missing key is a missing value.
type TrainingRecord struct {
	HadmID    int
	SubjectID int
	Day       time.Time
	Treatment string
	Sex       string
	Age       float64
	Died      bool
	Features  map[string]float64
}

// PatientInfo carries the non-clinical fields for one admission. The
// demographic descriptor fields are available for reporting; the default
// model feature list only uses sex and age.
type PatientInfo struct {
	SubjectID     int
	HadmID        int
	Sex           string
	Age           float64
	MaritalStatus string
	Ethnicity     string
	PayorGroup    string
	Religion      string
}
