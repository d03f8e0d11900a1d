package cohort

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

const targetMedication = "Furosemide"

// Repository reads the CHF cohort from a MIMIC-II Postgres instance. Every
// query is filtered to admissions carrying the configured ICD-9 diagnosis
// code, mirroring the cohort definition used to extract the source data.
type Repository struct {
	db            *gorm.DB
	diagnosisCode string
}

func NewRepository(db *gorm.DB, diagnosisCode string) *Repository {
	return &Repository{db: db, diagnosisCode: diagnosisCode}
}

func (r *Repository) Admissions(ctx context.Context) ([]Admission, error) {
	var rows []Admission
	err := r.db.WithContext(ctx).Raw(`
		SELECT a.hadm_id, a.subject_id, a.admit_dt, a.disch_dt
		FROM mimic2v26.admissions AS a
		INNER JOIN mimic2v26.icd9 AS i ON i.hadm_id = a.hadm_id
		WHERE i.code = ?`, r.diagnosisCode).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query admissions: %w", err)
	}
	return rows, nil
}

func (r *Repository) Patients(ctx context.Context) ([]Patient, error) {
	var rows []Patient
	err := r.db.WithContext(ctx).Raw(`
		SELECT p.subject_id, i.hadm_id, p.sex, p.dob, p.dod
		FROM mimic2v26.icd9 AS i
		INNER JOIN mimic2v26.d_patients AS p ON p.subject_id = i.subject_id
		WHERE i.code = ?`, r.diagnosisCode).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query patients: %w", err)
	}
	return rows, nil
}

func (r *Repository) DemographicDetails(ctx context.Context) ([]DemographicDetail, error) {
	var rows []DemographicDetail
	err := r.db.WithContext(ctx).Raw(`
		SELECT dd.subject_id, dd.hadm_id, dd.marital_status_descr,
		       dd.ethnicity_descr, dd.overall_payor_group_descr, dd.religion_descr
		FROM mimic2v26.demographic_detail AS dd
		INNER JOIN mimic2v26.icd9 AS i ON i.hadm_id = dd.hadm_id
		WHERE i.code = ?`, r.diagnosisCode).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query demographic details: %w", err)
	}
	return rows, nil
}

func (r *Repository) LabEvents(ctx context.Context, itemIDs []int) ([]LabEvent, error) {
	var rows []LabEvent
	err := r.db.WithContext(ctx).Raw(fmt.Sprintf(`
		SELECT le.subject_id, le.hadm_id, le.itemid, le.charttime, le.value
		FROM mimic2v26.labevents AS le
		INNER JOIN mimic2v26.icd9 AS i ON i.hadm_id = le.hadm_id
		WHERE i.code = ? AND le.itemid IN (%s) AND le.icustay_id IS NOT NULL`,
		placeholderList(itemIDs)), r.diagnosisCode).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query lab events: %w", err)
	}
	return rows, nil
}

func (r *Repository) ChartEvents(ctx context.Context, itemIDs []int) ([]ChartEvent, error) {
	var rows []ChartEvent
	err := r.db.WithContext(ctx).Raw(fmt.Sprintf(`
		SELECT ce.subject_id, a.hadm_id, ce.itemid, ce.charttime, ce.value1num
		FROM mimic2v26.chartevents AS ce
		INNER JOIN mimic2v26.icustay_detail AS icd ON icd.icustay_id = ce.icustay_id
		INNER JOIN mimic2v26.admissions AS a ON a.hadm_id = icd.hadm_id
		INNER JOIN mimic2v26.icd9 AS i ON i.hadm_id = a.hadm_id
		WHERE i.code = ? AND ce.itemid IN (%s) AND ce.icustay_id IS NOT NULL`,
		placeholderList(itemIDs)), r.diagnosisCode).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query chart events: %w", err)
	}
	return rows, nil
}

func (r *Repository) MedicationOrders(ctx context.Context) ([]MedicationOrder, error) {
	var rows []MedicationOrder
	err := r.db.WithContext(ctx).Raw(`
		SELECT poe.subject_id, poe.hadm_id, poe.start_dt, poe.stop_dt,
		       poem.dose_val_rx, poem.dose_unit_rx, poem.route
		FROM mimic2v26.poe_order AS poe
		INNER JOIN mimic2v26.poe_med AS poem ON poe.poe_id = poem.poe_id
		INNER JOIN mimic2v26.admissions AS a ON a.hadm_id = poe.hadm_id
		INNER JOIN mimic2v26.icd9 AS i ON i.hadm_id = a.hadm_id
		WHERE i.code = ? AND poe.medication = ? AND poe.icustay_id IS NOT NULL`,
		r.diagnosisCode, targetMedication).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query medication orders: %w", err)
	}
	return rows, nil
}

func placeholderList(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, ", ")
}
