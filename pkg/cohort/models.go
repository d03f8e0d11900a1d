package cohort

import "time"

// Row types returned by the MIMIC-II cohort queries. Values are kept in
// their raw database form; cleanup happens in the processing packages.

type Admission struct {
	HadmID    int       `gorm:"column:hadm_id"`
	SubjectID int       `gorm:"column:subject_id"`
	AdmitDt   time.Time `gorm:"column:admit_dt"`
	DischDt   time.Time `gorm:"column:disch_dt"`
}

type Patient struct {
	SubjectID int        `gorm:"column:subject_id"`
	HadmID    int        `gorm:"column:hadm_id"`
	Sex       string     `gorm:"column:sex"`
	DOB       time.Time  `gorm:"column:dob"`
	DOD       *time.Time `gorm:"column:dod"`
}

type DemographicDetail struct {
	SubjectID     int    `gorm:"column:subject_id"`
	HadmID        int    `gorm:"column:hadm_id"`
	MaritalStatus string `gorm:"column:marital_status_descr"`
	Ethnicity     string `gorm:"column:ethnicity_descr"`
	PayorGroup    string `gorm:"column:overall_payor_group_descr"`
	Religion      string `gorm:"column:religion_descr"`
}

// LabEvent values arrive as strings; some carry inequality prefixes such as
// "<" or "LESS THAN" that are stripped before numeric coercion.
type LabEvent struct {
	SubjectID int       `gorm:"column:subject_id"`
	HadmID    int       `gorm:"column:hadm_id"`
	ItemID    int       `gorm:"column:itemid"`
	Charttime time.Time `gorm:"column:charttime"`
	Value     string    `gorm:"column:value"`
}

type ChartEvent struct {
	SubjectID int       `gorm:"column:subject_id"`
	HadmID    int       `gorm:"column:hadm_id"`
	ItemID    int       `gorm:"column:itemid"`
	Charttime time.Time `gorm:"column:charttime"`
	Value     *float64  `gorm:"column:value1num"`
}

// MedicationOrder is a provider order entry for the target diuretic. Orders
// with a missing start or stop date are unusable and dropped downstream.
type MedicationOrder struct {
	SubjectID int        `gorm:"column:subject_id"`
	HadmID    int        `gorm:"column:hadm_id"`
	StartDt   *time.Time `gorm:"column:start_dt"`
	StopDt    *time.Time `gorm:"column:stop_dt"`
	DoseVal   string     `gorm:"column:dose_val_rx"`
	DoseUnit  string     `gorm:"column:dose_unit_rx"`
	Route     string     `gorm:"column:route"`
}
