package treatment

import (
	"sort"
	"time"

	"github.com/clinalytics/chf-pipeline/pkg/events"
)

// Interval is one diuretic order with a resolved date range. Orders with a
// missing start or stop are dropped before intervals are built.
type Interval struct {
	Start    time.Time
	Stop     time.Time
	Category string
}

// DayTreatment assigns one treatment category to one day of a stay.
type DayTreatment struct {
	EntityID  int
	Day       time.Time
	Treatment string
}

// Expand walks every calendar day of the entity's [admit, discharge] range
// and assigns the covering interval with the latest start date: a newer
// order supersedes an older one still nominally in effect. Days with no
// covering interval get the explicit NoTreatment category.
//
// Entities with no intervals at all are handled by stay length: a stay of at
// least minStay yields an all-NoTreatment sequence (the patient could have
// been treated and wasn't), while a shorter stay is excluded entirely.
// Counting it would bias the no-treatment class with stays too short for a
// treatment decision to be observable.
func Expand(entityID int, admit, discharge time.Time, intervals []Interval, minStay time.Duration) []DayTreatment {
	if len(intervals) == 0 && discharge.Sub(admit) < minStay {
		return nil
	}

	ordered := make([]Interval, len(intervals))
	copy(ordered, intervals)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Start.Before(ordered[j].Start)
	})

	var days []DayTreatment
	first := events.Day(admit)
	last := events.Day(discharge)
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		category := NoTreatment
		for _, interval := range ordered {
			if !day.Before(events.Day(interval.Start)) && !day.After(events.Day(interval.Stop)) {
				category = interval.Category
			}
		}
		days = append(days, DayTreatment{EntityID: entityID, Day: day, Treatment: category})
	}
	return days
}
