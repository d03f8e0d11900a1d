package features

import (
	"testing"
	"time"

	"github.com/clinalytics/chf-pipeline/pkg/events"
)

func TestWideTableCodecPreservesMissingCells(t *testing.T) {
	day := time.Date(2000, 3, 1, 0, 0, 0, 0, time.UTC)
	table := &events.WideTable{
		Labels: []string{"heart_rate", "sodium"},
		Rows: []events.WideRow{
			{EntityID: 10, Day: day, Values: map[string]float64{"sodium": 138.5}},
			{EntityID: 10, Day: day.AddDate(0, 0, 1), Values: map[string]float64{
				"sodium": 140, "heart_rate": 82,
			}},
		},
	}

	data, err := EncodeWideTable(table)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeWideTable(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if len(decoded.Labels) != 2 || decoded.Labels[0] != "heart_rate" {
		t.Fatalf("labels = %v", decoded.Labels)
	}
	if len(decoded.Rows) != 2 {
		t.Fatalf("rows = %d", len(decoded.Rows))
	}
	if _, ok := decoded.Rows[0].Values["heart_rate"]; ok {
		t.Fatal("missing cell came back as a value")
	}
	if decoded.Rows[0].Values["sodium"] != 138.5 {
		t.Fatalf("sodium = %v", decoded.Rows[0].Values["sodium"])
	}
	if !decoded.Rows[1].Day.Equal(day.AddDate(0, 0, 1)) {
		t.Fatalf("day = %v", decoded.Rows[1].Day)
	}
}

func TestTrainingRecordCodecRoundTrip(t *testing.T) {
	day := time.Date(2000, 3, 2, 0, 0, 0, 0, time.UTC)
	records := []TrainingRecord{
		{HadmID: 10, SubjectID: 1, Day: day, Treatment: "40 mg iv", Sex: "F", Age: 71, Died: false,
			Features: map[string]float64{"sodium": 140, "sodium_diff": 2}},
		{HadmID: 20, SubjectID: 2, Day: day, Treatment: "No treatment", Sex: "M", Age: 68, Died: true,
			Features: map[string]float64{"sodium": 150}},
	}

	data, err := EncodeTrainingRecords(records, []string{"sodium", "sodium_diff"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeTrainingRecords(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if len(decoded) != 2 {
		t.Fatalf("decoded %d records", len(decoded))
	}
	first := decoded[0]
	if first.HadmID != 10 || first.SubjectID != 1 || !first.Day.Equal(day) {
		t.Fatalf("first = %+v", first)
	}
	if first.Treatment != "40 mg iv" || first.Sex != "F" || first.Age != 71 || first.Died {
		t.Fatalf("first = %+v", first)
	}
	if first.Features["sodium_diff"] != 2 {
		t.Fatalf("first features = %v", first.Features)
	}

	second := decoded[1]
	if !second.Died || second.Treatment != "No treatment" {
		t.Fatalf("second = %+v", second)
	}
	if _, ok := second.Features["sodium_diff"]; ok {
		t.Fatal("missing feature came back as a value")
	}

	if _, err := DecodeTrainingRecords([]byte("bogus_header\n1\n")); err == nil {
		t.Fatal("expected error for foreign header")
	}
}
