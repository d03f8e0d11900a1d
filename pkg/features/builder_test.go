package features

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/clinalytics/chf-pipeline/pkg/cache"
	"github.com/clinalytics/chf-pipeline/pkg/cohort"
	"github.com/clinalytics/chf-pipeline/pkg/common/config"
	"github.com/clinalytics/chf-pipeline/pkg/common/logger"
	"github.com/clinalytics/chf-pipeline/pkg/treatment"
)

func TestMain(m *testing.M) {
	logger.Init()
	os.Exit(m.Run())
}

// fakeSource serves a fixed two-stay cohort from memory.
type fakeSource struct {
	admissions   []cohort.Admission
	patients     []cohort.Patient
	demographics []cohort.DemographicDetail
	labs         []cohort.LabEvent
	charts       []cohort.ChartEvent
	orders       []cohort.MedicationOrder
}

func (s *fakeSource) Admissions(ctx context.Context) ([]cohort.Admission, error) {
	return s.admissions, nil
}
func (s *fakeSource) Patients(ctx context.Context) ([]cohort.Patient, error) {
	return s.patients, nil
}
func (s *fakeSource) DemographicDetails(ctx context.Context) ([]cohort.DemographicDetail, error) {
	return s.demographics, nil
}
func (s *fakeSource) LabEvents(ctx context.Context, itemIDs []int) ([]cohort.LabEvent, error) {
	return s.labs, nil
}
func (s *fakeSource) ChartEvents(ctx context.Context, itemIDs []int) ([]cohort.ChartEvent, error) {
	return s.charts, nil
}
func (s *fakeSource) MedicationOrders(ctx context.Context) ([]cohort.MedicationOrder, error) {
	return s.orders, nil
}

func at(year, month, day, hour int) time.Time {
	return time.Date(year, time.Month(month), day, hour, 0, 0, 0, time.UTC)
}

func ptrTime(t time.Time) *time.Time { return &t }
func ptrFloat(v float64) *float64    { return &v }

// Subject 1 (hadm 10) carries no date obfuscation; subject 2 (hadm 20) is
// shifted 1060 years into the future, the MIMIC-II obfuscation scheme.
func testSource() *fakeSource {
	dod := at(3131, 1, 1, 0)
	return &fakeSource{
		admissions: []cohort.Admission{
			{HadmID: 10, SubjectID: 1, AdmitDt: at(2000, 3, 1, 8), DischDt: at(2000, 3, 3, 18)},
			{HadmID: 20, SubjectID: 2, AdmitDt: at(3130, 3, 1, 6), DischDt: at(3130, 3, 2, 20)},
		},
		patients: []cohort.Patient{
			{SubjectID: 1, HadmID: 10, Sex: "F", DOB: at(1999, 3, 1, 0)},
			{SubjectID: 2, HadmID: 20, Sex: "M", DOB: at(3062, 3, 1, 0), DOD: &dod},
		},
		demographics: []cohort.DemographicDetail{
			{SubjectID: 1, HadmID: 10, MaritalStatus: "MARRIED", Ethnicity: "WHITE"},
		},
		labs: []cohort.LabEvent{
			{SubjectID: 1, HadmID: 10, ItemID: 50159, Charttime: at(2000, 3, 1, 9), Value: "138"},
			{SubjectID: 1, HadmID: 10, ItemID: 50159, Charttime: at(2000, 3, 3, 10), Value: "<142"},
			{SubjectID: 1, HadmID: 10, ItemID: 50159, Charttime: at(2000, 3, 2, 7), Value: "ERROR"},
			{SubjectID: 2, HadmID: 20, ItemID: 50159, Charttime: at(3130, 3, 1, 8), Value: "150"},
		},
		charts: []cohort.ChartEvent{
			{SubjectID: 1, HadmID: 10, ItemID: 211, Charttime: at(2000, 3, 1, 10), Value: ptrFloat(80)},
			{SubjectID: 1, HadmID: 10, ItemID: 211, Charttime: at(2000, 3, 1, 11), Value: nil},
		},
		orders: []cohort.MedicationOrder{
			{SubjectID: 1, HadmID: 10, StartDt: ptrTime(at(2000, 3, 2, 8)), StopDt: ptrTime(at(2000, 3, 3, 8)),
				DoseVal: "40", DoseUnit: "mg", Route: "IV"},
			{SubjectID: 1, HadmID: 10, StartDt: ptrTime(at(2000, 3, 2, 9)), StopDt: nil,
				DoseVal: "80", DoseUnit: "mg", Route: "IV"},
		},
	}
}

func testPipelineConfig() *config.Pipeline {
	cfg := config.DefaultPipeline()
	cfg.LabItems = map[int]string{50159: "Sodium"}
	cfg.ChartItems = map[int]string{211: "Heart Rate"}
	cfg.ScalarFields = []string{"sodium", "heart_rate"}
	return cfg
}

func TestProcessedLabEventsShiftsCleansAndReshapes(t *testing.T) {
	b := NewBuilder(testSource(), nil, testPipelineConfig())
	ctx := context.Background()

	table, err := b.ProcessedLabEvents(ctx, false)
	if err != nil {
		t.Fatalf("processed lab events: %v", err)
	}
	if len(table.Labels) != 2 || table.Labels[0] != "sodium" || table.Labels[1] != "sodium_diff" {
		t.Fatalf("labels = %v", table.Labels)
	}
	// hadm 10 spans three days, hadm 20 one (its single observation shifted
	// back from 3130 to 2070)
	if len(table.Rows) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(table.Rows))
	}

	// the unparsable 03-02 value is dropped, so the day forward-fills
	if got := table.Rows[1].Values["sodium"]; got != 138 {
		t.Fatalf("day 2 sodium = %v, want forward-filled 138", got)
	}
	if got := table.Rows[2].Values["sodium"]; got != 142 {
		t.Fatalf("day 3 sodium = %v, want inequality-stripped 142", got)
	}
	if got := table.Rows[2].Values["sodium_diff"]; got != 4 {
		t.Fatalf("day 3 sodium_diff = %v, want 4", got)
	}

	shifted := table.Rows[3]
	if shifted.EntityID != 20 || !shifted.Day.Equal(at(2070, 3, 1, 0)) {
		t.Fatalf("shifted row = %+v", shifted)
	}
	if shifted.Values["sodium"] != 150 {
		t.Fatalf("shifted sodium = %v", shifted.Values["sodium"])
	}
}

func TestPatientInfoAndOutcomes(t *testing.T) {
	b := NewBuilder(testSource(), nil, testPipelineConfig())
	ctx := context.Background()

	info, err := b.PatientInfo(ctx)
	if err != nil {
		t.Fatalf("patient info: %v", err)
	}
	if len(info) != 2 {
		t.Fatalf("info = %+v", info)
	}
	if info[10].Sex != "F" || info[10].Age != 1 {
		t.Fatalf("hadm 10 info = %+v", info[10])
	}
	if info[10].MaritalStatus != "MARRIED" {
		t.Fatalf("hadm 10 demographics = %+v", info[10])
	}
	// shifted DOB 2002-03-01, shifted admit 2070-03-01
	if info[20].Sex != "M" || info[20].Age != 68 {
		t.Fatalf("hadm 20 info = %+v", info[20])
	}

	outcomes, err := b.AdmissionOutcomes(ctx)
	if err != nil {
		t.Fatalf("outcomes: %v", err)
	}
	if outcomes[10] {
		t.Fatal("hadm 10 has no date of death")
	}
	if !outcomes[20] {
		t.Fatal("hadm 20 has a date of death")
	}
}

func TestExpandedTreatments(t *testing.T) {
	b := NewBuilder(testSource(), nil, testPipelineConfig())
	ctx := context.Background()

	expanded, err := b.ExpandedTreatments(ctx)
	if err != nil {
		t.Fatalf("expanded treatments: %v", err)
	}
	// hadm 10 has three days, hadm 20 (untreated but longer than the
	// minimum stay) has two
	if len(expanded) != 5 {
		t.Fatalf("expected 5 day assignments, got %d", len(expanded))
	}

	byKey := make(map[int]map[time.Time]string)
	for _, day := range expanded {
		if byKey[day.EntityID] == nil {
			byKey[day.EntityID] = make(map[time.Time]string)
		}
		byKey[day.EntityID][day.Day] = day.Treatment
	}
	if got := byKey[10][at(2000, 3, 1, 0)]; got != treatment.NoTreatment {
		t.Fatalf("hadm 10 day 1 = %q", got)
	}
	// the order with a missing stop date is dropped; the 40 mg order covers
	// days 2 and 3
	if got := byKey[10][at(2000, 3, 2, 0)]; got != "40 mg iv" {
		t.Fatalf("hadm 10 day 2 = %q", got)
	}
	if got := byKey[10][at(2000, 3, 3, 0)]; got != "40 mg iv" {
		t.Fatalf("hadm 10 day 3 = %q", got)
	}
	if got := byKey[20][at(2070, 3, 1, 0)]; got != treatment.NoTreatment {
		t.Fatalf("hadm 20 day 1 = %q", got)
	}
}

func TestTrainingDataJoinsAllStages(t *testing.T) {
	b := NewBuilder(testSource(), nil, testPipelineConfig())
	ctx := context.Background()

	records, err := b.TrainingData(ctx, false)
	if err != nil {
		t.Fatalf("training data: %v", err)
	}
	// hadm 20's second treatment day has no feature row and drops out of
	// the inner join
	if len(records) != 4 {
		t.Fatalf("expected 4 records, got %d", len(records))
	}

	r := records[0]
	if r.HadmID != 10 || !r.Day.Equal(at(2000, 3, 1, 0)) {
		t.Fatalf("record 0 = %+v", r)
	}
	if r.Treatment != treatment.NoTreatment || r.Sex != "F" || r.Died {
		t.Fatalf("record 0 = %+v", r)
	}
	if r.Features["sodium"] != 138 || r.Features["heart_rate"] != 80 {
		t.Fatalf("record 0 features = %v", r.Features)
	}

	if records[1].Treatment != "40 mg iv" {
		t.Fatalf("record 1 = %+v", records[1])
	}
	if _, ok := records[1].Features["heart_rate"]; ok {
		t.Fatalf("record 1 should have no heart rate, got %v", records[1].Features)
	}

	last := records[3]
	if last.HadmID != 20 || !last.Died || last.Sex != "M" {
		t.Fatalf("record 3 = %+v", last)
	}
	if last.Features["sodium"] != 150 {
		t.Fatalf("record 3 features = %v", last.Features)
	}
}

func TestTrainingDataUsesStageCache(t *testing.T) {
	store := cache.NewFileStore(t.TempDir())
	source := testSource()
	b := NewBuilder(source, store, testPipelineConfig())
	ctx := context.Background()

	first, err := b.TrainingData(ctx, true)
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}

	// a source change must be invisible while the cache is honored
	source.labs = nil
	second, err := b.TrainingData(ctx, true)
	if err != nil {
		t.Fatalf("cached pass: %v", err)
	}
	if len(second) != len(first) {
		t.Fatalf("cached pass returned %d records, want %d", len(second), len(first))
	}
	for i := range first {
		if second[i].HadmID != first[i].HadmID || second[i].Treatment != first[i].Treatment ||
			second[i].Features["sodium"] != first[i].Features["sodium"] {
			t.Fatalf("record %d differs: %+v vs %+v", i, second[i], first[i])
		}
	}

	// bypassing the cache sees the change
	b.InvalidateShifter()
	third, err := b.TrainingData(ctx, false)
	if err != nil {
		t.Fatalf("uncached pass: %v", err)
	}
	if len(third) >= len(first) {
		t.Fatalf("uncached pass should lose the lab-driven records, got %d", len(third))
	}
}

func TestTrainingDataRecomputeRefreshesCache(t *testing.T) {
	store := cache.NewFileStore(t.TempDir())
	source := testSource()
	b := NewBuilder(source, store, testPipelineConfig())
	ctx := context.Background()

	first, err := b.TrainingData(ctx, true)
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}

	// recomputation must rebuild from the source and overwrite the stale
	// cache entry
	source.labs = nil
	b.InvalidateShifter()
	fresh, err := b.TrainingData(ctx, false)
	if err != nil {
		t.Fatalf("recompute pass: %v", err)
	}
	if len(fresh) >= len(first) {
		t.Fatalf("recompute pass kept stale records, got %d want < %d", len(fresh), len(first))
	}

	cached, err := b.TrainingData(ctx, true)
	if err != nil {
		t.Fatalf("cached pass after recompute: %v", err)
	}
	if len(cached) != len(fresh) {
		t.Fatalf("cache still holds the stale table: %d records, want %d", len(cached), len(fresh))
	}
	for i := range fresh {
		if cached[i].HadmID != fresh[i].HadmID || cached[i].Treatment != fresh[i].Treatment {
			t.Fatalf("record %d differs: %+v vs %+v", i, cached[i], fresh[i])
		}
	}
}
