package dateshift

import (
	"testing"
	"time"

	"github.com/clinalytics/chf-pipeline/pkg/cohort"
)

func TestBuildRoundsOffsetsToMultiplesOfFour(t *testing.T) {
	patients := []cohort.Patient{
		{SubjectID: 1, DOB: time.Date(3142, 5, 10, 0, 0, 0, 0, time.UTC)},
		{SubjectID: 2, DOB: time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)},
		{SubjectID: 3, DOB: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	s := Build(patients, 2000)

	cases := map[int]int{
		1: 1140, // (3142-2000)/4 = 285, *4 = 1140
		2: 0,    // (1)/4 = 0
		3: 0,
	}
	for subject, want := range cases {
		got, ok := s.Offset(subject)
		if !ok {
			t.Fatalf("subject %d missing", subject)
		}
		if got != want {
			t.Fatalf("subject %d offset = %d, want %d", subject, got, want)
		}
	}
	if s.Len() != 3 {
		t.Fatalf("len = %d", s.Len())
	}
}

func TestShiftPreservesLeapDays(t *testing.T) {
	patients := []cohort.Patient{
		{SubjectID: 9, DOB: time.Date(3144, 2, 29, 0, 0, 0, 0, time.UTC)},
	}
	s := Build(patients, 2000)

	shifted := s.Shift(9, time.Date(3196, 2, 29, 12, 30, 0, 0, time.UTC))
	want := time.Date(2052, 2, 29, 12, 30, 0, 0, time.UTC)
	if !shifted.Equal(want) {
		t.Fatalf("shifted = %v, want %v", shifted, want)
	}
}

func TestShiftUnknownSubjectIsIdentity(t *testing.T) {
	s := Build(nil, 2000)
	in := time.Date(3000, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := s.Shift(42, in); !got.Equal(in) {
		t.Fatalf("got %v", got)
	}
}
