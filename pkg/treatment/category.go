// Package treatment builds the per-day treatment assignment for each stay
// from the diuretic order intervals.
package treatment

import (
	"strings"
)

// NoTreatment is the explicit category for a day with no covering order.
const NoTreatment = "No treatment"

// unit synonyms folded into a canonical form before categorization
var unitSynonyms = map[string]string{
	"ml": "mg",
}

// Category derives the treatment category from an order's dose value, dose
// unit and route, normalized lowercase. Unit synonyms are folded so that
// "40 ML IV" and "40 mg IV" land in the same category.
func Category(doseVal, doseUnit, route string) string {
	unit := strings.ToLower(strings.TrimSpace(doseUnit))
	if canonical, ok := unitSynonyms[unit]; ok {
		unit = canonical
	}
	parts := []string{
		strings.ToLower(strings.TrimSpace(doseVal)),
		unit,
		strings.ToLower(strings.TrimSpace(route)),
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}
