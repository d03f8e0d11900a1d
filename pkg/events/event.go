// Package events turns irregular streams of timestamped clinical
// measurements into a regular per-entity, per-day feature table. The
// reshaping runs in three steps: resample to one observation per day with
// forward-fill, pivot to one column per measurement label, then append
// day-over-day diff columns.
package events

import (
	"strconv"
	"strings"
	"time"
)

// Event is a single timestamped measurement for an entity (a hospital
// admission or an ICU stay, depending on the pipeline variant).
type Event struct {
	EntityID  int
	Label     string
	Value     float64
	Charttime time.Time
}

// Inequality markers seen in raw lab values. They are stripped before
// numeric coercion; rows that still fail to parse are dropped.
var valuePrefixes = []string{"<", ">", "LESS THAN ", "GREATER THAN"}

// CleanNumeric strips inequality prefixes and parses the remainder as a
// float. ok is false when the value cannot be coerced.
func CleanNumeric(raw string) (float64, bool) {
	cleaned := strings.TrimSpace(raw)
	for _, prefix := range valuePrefixes {
		cleaned = strings.ReplaceAll(cleaned, prefix, "")
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(cleaned), 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

// NormalizeLabel converts a measurement label to its column form:
// lower-cased with whitespace replaced by underscores.
func NormalizeLabel(label string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(label), " ", "_"))
}

// Day truncates a timestamp to its calendar day in UTC. Day values are the
// keys for all per-day tables.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
