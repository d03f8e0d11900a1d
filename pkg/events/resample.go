package events

import (
	"errors"
	"sort"
	"time"
)

// ErrZeroTimestamp marks an event that reached resampling without a valid
// charttime. Timestamp cleanup belongs upstream, so this is a broken
// contract rather than a data-quality drop.
var ErrZeroTimestamp = errors.New("event with zero charttime")

// ResampledPoint is one resolved value for an (entity, label, day) key. The
// day is the key itself; the origin timestamp of a forward-filled value is
// deliberately not retained.
type ResampledPoint struct {
	EntityID int
	Label    string
	Day      time.Time
	Value    float64
}

// Resample reduces each (entity, label) series to one value per calendar
// day: the chronologically first observation of a day wins, and days without
// an observation inherit the previous day's resolved value. The output spans
// every day between a series' first and last observation inclusive; a series
// with no raw observations contributes nothing.
func Resample(evts []Event) ([]ResampledPoint, error) {
	type seriesKey struct {
		entityID int
		label    string
	}
	series := make(map[seriesKey][]Event)
	for _, e := range evts {
		if e.Charttime.IsZero() {
			return nil, ErrZeroTimestamp
		}
		key := seriesKey{entityID: e.EntityID, label: e.Label}
		series[key] = append(series[key], e)
	}

	keys := make([]seriesKey, 0, len(series))
	for key := range series {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].entityID != keys[j].entityID {
			return keys[i].entityID < keys[j].entityID
		}
		return keys[i].label < keys[j].label
	})

	var points []ResampledPoint
	for _, key := range keys {
		observations := series[key]
		sort.SliceStable(observations, func(i, j int) bool {
			return observations[i].Charttime.Before(observations[j].Charttime)
		})

		firstOfDay := make(map[time.Time]float64)
		for _, obs := range observations {
			day := Day(obs.Charttime)
			if _, seen := firstOfDay[day]; !seen {
				firstOfDay[day] = obs.Value
			}
		}

		first := Day(observations[0].Charttime)
		last := Day(observations[len(observations)-1].Charttime)
		current := firstOfDay[first]
		for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
			if value, seen := firstOfDay[day]; seen {
				current = value
			}
			points = append(points, ResampledPoint{
				EntityID: key.entityID,
				Label:    key.label,
				Day:      day,
				Value:    current,
			})
		}
	}
	return points, nil
}
