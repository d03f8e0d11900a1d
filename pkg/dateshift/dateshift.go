// Package dateshift normalizes the obfuscated MIMIC-II dates. Each patient's
// dates are shifted by a fixed per-subject year offset so every record lands
// near the target year while day-of-year alignment (including leap days) is
// preserved. All temporal processing assumes this shift has already been
// applied.
package dateshift

import (
	"time"

	"github.com/clinalytics/chf-pipeline/pkg/cohort"
)

// Shifter holds the per-subject year offsets. Build it once per run from the
// cohort's patient rows; the owning component rebuilds it explicitly when the
// cohort changes.
type Shifter struct {
	offsetBySubject map[int]int
}

// Build computes the offset table. Offsets are multiples of 4 so shifted
// dates keep their validity across leap years (Feb 29 stays Feb 29).
func Build(patients []cohort.Patient, targetYear int) *Shifter {
	offsets := make(map[int]int, len(patients))
	for _, p := range patients {
		offsets[p.SubjectID] = ((p.DOB.Year() - targetYear) / 4) * 4
	}
	return &Shifter{offsetBySubject: offsets}
}

// Shift moves t by the subject's year offset. Subjects without an offset
// entry are returned unchanged.
func (s *Shifter) Shift(subjectID int, t time.Time) time.Time {
	offset, ok := s.offsetBySubject[subjectID]
	if !ok || offset == 0 {
		return t
	}
	return t.AddDate(-offset, 0, 0)
}

// Offset reports the year offset for a subject.
func (s *Shifter) Offset(subjectID int) (int, bool) {
	offset, ok := s.offsetBySubject[subjectID]
	return offset, ok
}

func (s *Shifter) Len() int {
	return len(s.offsetBySubject)
}
