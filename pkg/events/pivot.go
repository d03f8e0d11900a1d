package events

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrDuplicateCell is returned when two resampled values land on the same
// (entity, day, label) cell. Resampling guarantees uniqueness within one
// stream, but merged streams are not structurally prevented from colliding;
// averaging silently would corrupt the table, so the pivot fails instead.
var ErrDuplicateCell = errors.New("duplicate value for entity/day/label")

// WideRow holds all measurement values for one entity on one day. A label
// missing from Values means the entity never had that measurement resolved
// for that day.
type WideRow struct {
	EntityID int
	Day      time.Time
	Values   map[string]float64
}

// WideTable is a set of WideRows plus the ordered set of value columns.
type WideTable struct {
	Labels []string
	Rows   []WideRow
}

// Pivot reshapes resampled points into one row per (entity, day) with one
// column per measurement label. Rows are ordered by entity then day.
func Pivot(points []ResampledPoint) (*WideTable, error) {
	type rowKey struct {
		entityID int
		day      time.Time
	}
	rowsByKey := make(map[rowKey]map[string]float64)
	labelSet := make(map[string]struct{})

	for _, p := range points {
		key := rowKey{entityID: p.EntityID, day: p.Day}
		row, ok := rowsByKey[key]
		if !ok {
			row = make(map[string]float64)
			rowsByKey[key] = row
		}
		if _, exists := row[p.Label]; exists {
			return nil, fmt.Errorf("%w: entity %d day %s label %q",
				ErrDuplicateCell, p.EntityID, p.Day.Format("2006-01-02"), p.Label)
		}
		row[p.Label] = p.Value
		labelSet[p.Label] = struct{}{}
	}

	keys := make([]rowKey, 0, len(rowsByKey))
	for key := range rowsByKey {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].entityID != keys[j].entityID {
			return keys[i].entityID < keys[j].entityID
		}
		return keys[i].day.Before(keys[j].day)
	})

	labels := make([]string, 0, len(labelSet))
	for label := range labelSet {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	table := &WideTable{Labels: labels, Rows: make([]WideRow, 0, len(keys))}
	for _, key := range keys {
		table.Rows = append(table.Rows, WideRow{
			EntityID: key.entityID,
			Day:      key.day,
			Values:   rowsByKey[key],
		})
	}
	return table, nil
}
