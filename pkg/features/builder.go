package features

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/clinalytics/chf-pipeline/pkg/cache"
	"github.com/clinalytics/chf-pipeline/pkg/cohort"
	"github.com/clinalytics/chf-pipeline/pkg/common/config"
	"github.com/clinalytics/chf-pipeline/pkg/common/logger"
	"github.com/clinalytics/chf-pipeline/pkg/dateshift"
	"github.com/clinalytics/chf-pipeline/pkg/events"
	"github.com/clinalytics/chf-pipeline/pkg/treatment"
	"github.com/sirupsen/logrus"
)

// Stage cache keys. Each key names one pipeline stage output.
const (
	CacheKeyLabEvents   = "processed_lab_events"
	CacheKeyChartEvents = "processed_chart_events"
	CacheKeyTraining    = "ml_data"
)

// Source provides the cohort tables. Satisfied by cohort.Repository;
// tests provide an in-memory implementation.
type Source interface {
	Admissions(ctx context.Context) ([]cohort.Admission, error)
	Patients(ctx context.Context) ([]cohort.Patient, error)
	DemographicDetails(ctx context.Context) ([]cohort.DemographicDetail, error)
	LabEvents(ctx context.Context, itemIDs []int) ([]cohort.LabEvent, error)
	ChartEvents(ctx context.Context, itemIDs []int) ([]cohort.ChartEvent, error)
	MedicationOrders(ctx context.Context) ([]cohort.MedicationOrder, error)
}

// Builder runs the feature pipeline. It owns the per-subject date-shift
// table (built once, invalidated explicitly) and consults the stage cache
// when the caller allows it; every stage also computes correctly from
// scratch with no cache at all.
type Builder struct {
	source  Source
	store   cache.Store
	cfg     *config.Pipeline
	shifter *dateshift.Shifter
}

func NewBuilder(source Source, store cache.Store, cfg *config.Pipeline) *Builder {
	return &Builder{source: source, store: store, cfg: cfg}
}

// InvalidateShifter forces the date-shift table to be rebuilt from the
// cohort on next use.
func (b *Builder) InvalidateShifter() {
	b.shifter = nil
}

func (b *Builder) shifts(ctx context.Context) (*dateshift.Shifter, error) {
	if b.shifter != nil {
		return b.shifter, nil
	}
	patients, err := b.source.Patients(ctx)
	if err != nil {
		return nil, fmt.Errorf("load patients for date shifting: %w", err)
	}
	b.shifter = dateshift.Build(patients, b.cfg.TargetYear)
	logger.WithField("subjects", b.shifter.Len()).Debug("built date-shift table")
	return b.shifter, nil
}

// ProcessedLabEvents extracts the target lab events, cleans their values,
// and reshapes them into the wide per-admission-day table with diff columns.
func (b *Builder) ProcessedLabEvents(ctx context.Context, useCache bool) (*events.WideTable, error) {
	if table, ok := b.cachedTable(ctx, CacheKeyLabEvents, useCache); ok {
		return table, nil
	}

	rows, err := b.source.LabEvents(ctx, itemIDs(b.cfg.LabItems))
	if err != nil {
		return nil, err
	}
	shifter, err := b.shifts(ctx)
	if err != nil {
		return nil, err
	}

	var evts []events.Event
	dropped := 0
	for _, row := range rows {
		label, ok := b.cfg.LabItems[row.ItemID]
		if !ok {
			continue
		}
		value, ok := events.CleanNumeric(row.Value)
		if !ok {
			dropped++
			continue
		}
		evts = append(evts, events.Event{
			EntityID:  row.HadmID,
			Label:     events.NormalizeLabel(label),
			Value:     value,
			Charttime: shifter.Shift(row.SubjectID, row.Charttime),
		})
	}
	if dropped > 0 {
		logger.WithFields(logrus.Fields{"stage": "lab_events", "dropped": dropped}).
			Info("dropped rows with non-numeric values")
	}

	table, err := reshape(evts)
	if err != nil {
		return nil, fmt.Errorf("reshape lab events: %w", err)
	}
	b.saveTable(ctx, CacheKeyLabEvents, table)
	return table, nil
}

// ProcessedChartEvents does the same for the vital-sign chart events.
func (b *Builder) ProcessedChartEvents(ctx context.Context, useCache bool) (*events.WideTable, error) {
	if table, ok := b.cachedTable(ctx, CacheKeyChartEvents, useCache); ok {
		return table, nil
	}

	rows, err := b.source.ChartEvents(ctx, itemIDs(b.cfg.ChartItems))
	if err != nil {
		return nil, err
	}
	shifter, err := b.shifts(ctx)
	if err != nil {
		return nil, err
	}

	var evts []events.Event
	dropped := 0
	for _, row := range rows {
		label, ok := b.cfg.ChartItems[row.ItemID]
		if !ok {
			continue
		}
		if row.Value == nil {
			dropped++
			continue
		}
		evts = append(evts, events.Event{
			EntityID:  row.HadmID,
			Label:     events.NormalizeLabel(label),
			Value:     *row.Value,
			Charttime: shifter.Shift(row.SubjectID, row.Charttime),
		})
	}
	if dropped > 0 {
		logger.WithFields(logrus.Fields{"stage": "chart_events", "dropped": dropped}).
			Info("dropped rows with missing values")
	}

	table, err := reshape(evts)
	if err != nil {
		return nil, fmt.Errorf("reshape chart events: %w", err)
	}
	b.saveTable(ctx, CacheKeyChartEvents, table)
	return table, nil
}

// PatientInfo returns sex, demographic descriptors and age at admission for
// every admission in the cohort.
func (b *Builder) PatientInfo(ctx context.Context) (map[int]PatientInfo, error) {
	patients, err := b.source.Patients(ctx)
	if err != nil {
		return nil, err
	}
	demographics, err := b.source.DemographicDetails(ctx)
	if err != nil {
		return nil, err
	}
	admissions, err := b.source.Admissions(ctx)
	if err != nil {
		return nil, err
	}
	shifter, err := b.shifts(ctx)
	if err != nil {
		return nil, err
	}

	admitByHadm := make(map[int]cohort.Admission, len(admissions))
	for _, adm := range admissions {
		admitByHadm[adm.HadmID] = adm
	}
	demoByHadm := make(map[int]cohort.DemographicDetail, len(demographics))
	for _, demo := range demographics {
		demoByHadm[demo.HadmID] = demo
	}

	info := make(map[int]PatientInfo, len(patients))
	for _, p := range patients {
		adm, ok := admitByHadm[p.HadmID]
		if !ok {
			continue
		}
		admit := shifter.Shift(p.SubjectID, adm.AdmitDt)
		dob := shifter.Shift(p.SubjectID, p.DOB)
		entry := PatientInfo{
			SubjectID: p.SubjectID,
			HadmID:    p.HadmID,
			Sex:       p.Sex,
			Age:       ageInYears(dob, admit),
		}
		if demo, ok := demoByHadm[p.HadmID]; ok {
			entry.MaritalStatus = demo.MaritalStatus
			entry.Ethnicity = demo.Ethnicity
			entry.PayorGroup = demo.PayorGroup
			entry.Religion = demo.Religion
		}
		info[p.HadmID] = entry
	}
	return info, nil
}

// AdmissionOutcomes maps each admission to whether the patient died.
func (b *Builder) AdmissionOutcomes(ctx context.Context) (map[int]bool, error) {
	patients, err := b.source.Patients(ctx)
	if err != nil {
		return nil, err
	}
	outcomes := make(map[int]bool, len(patients))
	for _, p := range patients {
		outcomes[p.HadmID] = p.DOD != nil
	}
	return outcomes, nil
}

// ExpandedTreatments assigns a treatment category to every day of every
// admission, per the interval-expansion and minimum-stay policy.
func (b *Builder) ExpandedTreatments(ctx context.Context) ([]treatment.DayTreatment, error) {
	orders, err := b.source.MedicationOrders(ctx)
	if err != nil {
		return nil, err
	}
	admissions, err := b.source.Admissions(ctx)
	if err != nil {
		return nil, err
	}
	shifter, err := b.shifts(ctx)
	if err != nil {
		return nil, err
	}

	intervalsByHadm := make(map[int][]treatment.Interval)
	droppedOrders := 0
	for _, order := range orders {
		if order.StartDt == nil || order.StopDt == nil {
			droppedOrders++
			continue
		}
		intervalsByHadm[order.HadmID] = append(intervalsByHadm[order.HadmID], treatment.Interval{
			Start:    shifter.Shift(order.SubjectID, *order.StartDt),
			Stop:     shifter.Shift(order.SubjectID, *order.StopDt),
			Category: treatment.Category(order.DoseVal, order.DoseUnit, order.Route),
		})
	}
	if droppedOrders > 0 {
		logger.WithFields(logrus.Fields{"stage": "treatments", "dropped": droppedOrders}).
			Info("dropped orders with missing dates")
	}

	minStay := time.Duration(b.cfg.MinStayHours) * time.Hour
	var expanded []treatment.DayTreatment
	excluded := 0
	for _, adm := range admissions {
		admit := shifter.Shift(adm.SubjectID, adm.AdmitDt)
		discharge := shifter.Shift(adm.SubjectID, adm.DischDt)
		days := treatment.Expand(adm.HadmID, admit, discharge, intervalsByHadm[adm.HadmID], minStay)
		if days == nil {
			excluded++
			continue
		}
		expanded = append(expanded, days...)
	}
	if excluded > 0 {
		logger.WithFields(logrus.Fields{"stage": "treatments", "excluded_stays": excluded}).
			Info("excluded short stays with no treatment orders")
	}
	return expanded, nil
}

// TrainingData builds the fully joined training table. Join policy: labs and
// charts merge outer on (admission, day); the result joins inner with the
// expanded treatments, patient info and outcomes, so every record has a
// treatment and an outcome label.
func (b *Builder) TrainingData(ctx context.Context, useCache bool) ([]TrainingRecord, error) {
	if useCache && b.store != nil {
		if data, ok, err := b.store.Get(ctx, CacheKeyTraining); err == nil && ok {
			records, err := DecodeTrainingRecords(data)
			if err == nil {
				logger.WithField("records", len(records)).Info("loaded training data from cache")
				return records, nil
			}
			logger.WithError(err).Warn("ignoring unreadable cached training data")
		}
	}

	labs, err := b.ProcessedLabEvents(ctx, useCache)
	if err != nil {
		return nil, err
	}
	charts, err := b.ProcessedChartEvents(ctx, useCache)
	if err != nil {
		return nil, err
	}
	merged, err := mergeOuter(labs, charts)
	if err != nil {
		return nil, err
	}

	info, err := b.PatientInfo(ctx)
	if err != nil {
		return nil, err
	}
	outcomes, err := b.AdmissionOutcomes(ctx)
	if err != nil {
		return nil, err
	}
	treatments, err := b.ExpandedTreatments(ctx)
	if err != nil {
		return nil, err
	}

	type rowKey struct {
		entityID int
		day      time.Time
	}
	featureRows := make(map[rowKey]events.WideRow, len(merged.Rows))
	for _, row := range merged.Rows {
		featureRows[rowKey{entityID: row.EntityID, day: row.Day}] = row
	}

	var records []TrainingRecord
	for _, day := range treatments {
		row, ok := featureRows[rowKey{entityID: day.EntityID, day: day.Day}]
		if !ok {
			continue
		}
		patient, ok := info[day.EntityID]
		if !ok {
			continue
		}
		died, ok := outcomes[day.EntityID]
		if !ok {
			continue
		}
		records = append(records, TrainingRecord{
			HadmID:    day.EntityID,
			SubjectID: patient.SubjectID,
			Day:       day.Day,
			Treatment: day.Treatment,
			Sex:       patient.Sex,
			Age:       patient.Age,
			Died:      died,
			Features:  row.Values,
		})
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].HadmID != records[j].HadmID {
			return records[i].HadmID < records[j].HadmID
		}
		return records[i].Day.Before(records[j].Day)
	})
	logger.WithField("records", len(records)).Info("built training data")

	if b.store != nil {
		data, err := EncodeTrainingRecords(records, merged.Labels)
		if err == nil {
			if err := b.store.Put(ctx, CacheKeyTraining, data); err != nil {
				logger.WithError(err).Warn("failed to cache training data")
			}
		}
	}
	return records, nil
}

func (b *Builder) cachedTable(ctx context.Context, key string, useCache bool) (*events.WideTable, bool) {
	if !useCache || b.store == nil {
		return nil, false
	}
	data, ok, err := b.store.Get(ctx, key)
	if err != nil || !ok {
		return nil, false
	}
	table, err := DecodeWideTable(data)
	if err != nil {
		logger.WithError(err).WithField("key", key).Warn("ignoring unreadable cached table")
		return nil, false
	}
	return table, true
}

func (b *Builder) saveTable(ctx context.Context, key string, table *events.WideTable) {
	if b.store == nil {
		return
	}
	data, err := EncodeWideTable(table)
	if err != nil {
		logger.WithError(err).WithField("key", key).Warn("failed to encode table for cache")
		return
	}
	if err := b.store.Put(ctx, key, data); err != nil {
		logger.WithError(err).WithField("key", key).Warn("failed to cache table")
	}
}

func reshape(evts []events.Event) (*events.WideTable, error) {
	points, err := events.Resample(evts)
	if err != nil {
		return nil, err
	}
	table, err := events.Pivot(points)
	if err != nil {
		return nil, err
	}
	return events.AddDiffs(table), nil
}

// mergeOuter unions two wide tables on (entity, day). A label resolved in
// both tables for the same cell is the same broken invariant the pivot
// guards against, so the merge fails loudly as well.
func mergeOuter(left, right *events.WideTable) (*events.WideTable, error) {
	type rowKey struct {
		entityID int
		day      time.Time
	}
	mergedRows := make(map[rowKey]map[string]float64)
	add := func(table *events.WideTable) error {
		for _, row := range table.Rows {
			key := rowKey{entityID: row.EntityID, day: row.Day}
			cell, ok := mergedRows[key]
			if !ok {
				cell = make(map[string]float64, len(row.Values))
				mergedRows[key] = cell
			}
			for label, value := range row.Values {
				if _, exists := cell[label]; exists {
					return fmt.Errorf("%w: entity %d day %s label %q",
						events.ErrDuplicateCell, row.EntityID, row.Day.Format(dayFormat), label)
				}
				cell[label] = value
			}
		}
		return nil
	}
	if err := add(left); err != nil {
		return nil, err
	}
	if err := add(right); err != nil {
		return nil, err
	}

	labelSet := make(map[string]struct{}, len(left.Labels)+len(right.Labels))
	for _, label := range left.Labels {
		labelSet[label] = struct{}{}
	}
	for _, label := range right.Labels {
		labelSet[label] = struct{}{}
	}
	labels := make([]string, 0, len(labelSet))
	for label := range labelSet {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	keys := make([]rowKey, 0, len(mergedRows))
	for key := range mergedRows {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].entityID != keys[j].entityID {
			return keys[i].entityID < keys[j].entityID
		}
		return keys[i].day.Before(keys[j].day)
	})

	merged := &events.WideTable{Labels: labels, Rows: make([]events.WideRow, 0, len(keys))}
	for _, key := range keys {
		merged.Rows = append(merged.Rows, events.WideRow{
			EntityID: key.entityID,
			Day:      key.day,
			Values:   mergedRows[key],
		})
	}
	return merged, nil
}

func itemIDs(items map[int]string) []int {
	ids := make([]int, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func ageInYears(dob, admit time.Time) float64 {
	if admit.Before(dob) {
		return 0
	}
	days := admit.Sub(dob).Hours() / 24
	return float64(int(days / 365.25))
}
