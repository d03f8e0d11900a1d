package treatment

import (
	"testing"
	"time"
)

func dt(day, hour int) time.Time {
	return time.Date(2000, time.June, day, hour, 0, 0, 0, time.UTC)
}

func TestCategoryNormalizesUnits(t *testing.T) {
	if got := Category("40", "MG", "IV"); got != "40 mg iv" {
		t.Fatalf("got %q", got)
	}
	if got := Category("40", "ml", "IV"); got != "40 mg iv" {
		t.Fatalf("ml should fold into mg, got %q", got)
	}
	if got := Category(" 80 ", " mg ", " PO "); got != "80 mg po" {
		t.Fatalf("got %q", got)
	}
}

func TestExpandLaterStartingIntervalWins(t *testing.T) {
	intervals := []Interval{
		{Start: dt(1, 8), Stop: dt(5, 8), Category: "40 mg iv"},
		{Start: dt(3, 8), Stop: dt(5, 8), Category: "80 mg iv"},
	}

	days := Expand(7, dt(1, 6), dt(6, 18), intervals, 12*time.Hour)
	if len(days) != 6 {
		t.Fatalf("expected 6 days, got %d", len(days))
	}

	want := []string{"40 mg iv", "40 mg iv", "80 mg iv", "80 mg iv", "80 mg iv", NoTreatment}
	for i, d := range days {
		if d.EntityID != 7 {
			t.Fatalf("day %d entity = %d", i, d.EntityID)
		}
		if d.Treatment != want[i] {
			t.Fatalf("day %d treatment = %q, want %q", i, d.Treatment, want[i])
		}
	}
}

func TestExpandExcludesShortUntreatedStays(t *testing.T) {
	days := Expand(1, dt(1, 8), dt(1, 14), nil, 12*time.Hour)
	if days != nil {
		t.Fatalf("6-hour untreated stay should be excluded, got %d days", len(days))
	}
}

func TestExpandKeepsLongUntreatedStays(t *testing.T) {
	days := Expand(1, dt(1, 8), dt(2, 8), nil, 12*time.Hour)
	if len(days) != 2 {
		t.Fatalf("expected 2 days, got %d", len(days))
	}
	for _, d := range days {
		if d.Treatment != NoTreatment {
			t.Fatalf("expected %q, got %q", NoTreatment, d.Treatment)
		}
	}
}

func TestExpandKeepsShortTreatedStays(t *testing.T) {
	intervals := []Interval{{Start: dt(1, 9), Stop: dt(1, 10), Category: "40 mg iv"}}
	days := Expand(1, dt(1, 8), dt(1, 14), intervals, 12*time.Hour)
	if len(days) != 1 {
		t.Fatalf("expected 1 day, got %d", len(days))
	}
	if days[0].Treatment != "40 mg iv" {
		t.Fatalf("got %q", days[0].Treatment)
	}
}
