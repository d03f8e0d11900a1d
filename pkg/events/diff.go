package events

import "time"

// DiffSuffix is appended to a measurement label to name its day-over-day
// delta column.
const DiffSuffix = "_diff"

// AddDiffs returns a new table with one <label>_diff column per value
// column: the current day's value minus the previous calendar day's value
// for the same entity. When either side is unresolved the diff is 0: the
// first day of a series and any day after a gap report "no change", not
// "unknown change". Downstream models are trained against this convention.
func AddDiffs(table *WideTable) *WideTable {
	type rowKey struct {
		entityID int
		day      time.Time
	}
	rowByKey := make(map[rowKey]WideRow, len(table.Rows))
	for _, row := range table.Rows {
		rowByKey[rowKey{entityID: row.EntityID, day: row.Day}] = row
	}

	labels := make([]string, 0, 2*len(table.Labels))
	labels = append(labels, table.Labels...)
	for _, label := range table.Labels {
		labels = append(labels, label+DiffSuffix)
	}

	out := &WideTable{Labels: labels, Rows: make([]WideRow, 0, len(table.Rows))}
	for _, row := range table.Rows {
		values := make(map[string]float64, 2*len(row.Values))
		for label, value := range row.Values {
			values[label] = value
		}
		previous, hasPrevious := rowByKey[rowKey{
			entityID: row.EntityID,
			day:      row.Day.AddDate(0, 0, -1),
		}]
		for _, label := range table.Labels {
			diff := 0.0
			current, hasCurrent := row.Values[label]
			if hasCurrent && hasPrevious {
				if prev, ok := previous.Values[label]; ok {
					diff = current - prev
				}
			}
			values[label+DiffSuffix] = diff
		}
		out.Rows = append(out.Rows, WideRow{EntityID: row.EntityID, Day: row.Day, Values: values})
	}
	return out
}
