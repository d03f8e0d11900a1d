package engine

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/clinalytics/chf-pipeline/pkg/features"
)

// Analyzer compares a fitted engine's recommendations against the
// treatments actually given. It is a read-only consumer: suggestions and
// actual survival probabilities are computed once at construction and
// neither the engine nor the records are mutated.
type Analyzer struct {
	engine      *DecisionEngine
	records     []features.TrainingRecord
	suggestions []Suggestion
	actualProbs []float64
}

func NewAnalyzer(e *DecisionEngine, records []features.TrainingRecord) (*Analyzer, error) {
	suggestions, err := e.TreatmentSuggestions(records)
	if err != nil {
		return nil, fmt.Errorf("score recommendations: %w", err)
	}
	actualProbs, err := e.SurvivalProbabilities(records)
	if err != nil {
		return nil, fmt.Errorf("score actual treatments: %w", err)
	}
	return &Analyzer{
		engine:      e,
		records:     records,
		suggestions: suggestions,
		actualProbs: actualProbs,
	}, nil
}

// PercentMatching is the fraction of records whose actual treatment equals
// the top recommendation.
func (a *Analyzer) PercentMatching() float64 {
	if len(a.records) == 0 {
		return 0
	}
	matches := 0
	for i, r := range a.records {
		if r.Treatment == a.suggestions[i].Treatment {
			matches++
		}
	}
	return float64(matches) / float64(len(a.records))
}

// TreatmentCount compares how often a treatment was actually given with how
// often it was recommended.
type TreatmentCount struct {
	Treatment      string
	ActualCount    int
	SuggestedCount int
}

func (a *Analyzer) TreatmentCounts() []TreatmentCount {
	actual := make(map[string]int)
	suggested := make(map[string]int)
	for i, r := range a.records {
		actual[r.Treatment]++
		suggested[a.suggestions[i].Treatment]++
	}
	names := make(map[string]struct{})
	for name := range actual {
		names[name] = struct{}{}
	}
	for name := range suggested {
		names[name] = struct{}{}
	}
	result := make([]TreatmentCount, 0, len(names))
	for name := range names {
		result = append(result, TreatmentCount{
			Treatment:      name,
			ActualCount:    actual[name],
			SuggestedCount: suggested[name],
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Treatment < result[j].Treatment })
	return result
}

// OverviewRow summarizes all records that share a recommended treatment.
type OverviewRow struct {
	Treatment                    string
	ActualCount                  int
	SuggestedCount               int
	PercentSame                  float64
	ActualSurvivalRate           float64
	ActualPredictedSurvival      float64
	SuggestedPredictedSurvival   float64
	PredictedSurvivalImprovement float64
}

// Overview groups records by recommended treatment and reports actual and
// predicted survival rates side by side. Predicted survival uses the 0.5
// probability cutoff.
func (a *Analyzer) Overview() []OverviewRow {
	counts := a.TreatmentCounts()
	countByName := make(map[string]TreatmentCount, len(counts))
	for _, c := range counts {
		countByName[c.Treatment] = c
	}

	type accumulator struct {
		n                  int
		same               int
		actualSurvived     int
		actualPredicted    int
		suggestedPredicted int
	}
	groups := make(map[string]*accumulator)
	for i, r := range a.records {
		name := a.suggestions[i].Treatment
		acc, ok := groups[name]
		if !ok {
			acc = &accumulator{}
			groups[name] = acc
		}
		acc.n++
		if r.Treatment == name {
			acc.same++
		}
		if !r.Died {
			acc.actualSurvived++
		}
		if a.actualProbs[i] >= 0.5 {
			acc.actualPredicted++
		}
		if a.suggestions[i].ProbabilityOfLiving >= 0.5 {
			acc.suggestedPredicted++
		}
	}

	result := make([]OverviewRow, 0, len(groups))
	for name, acc := range groups {
		n := float64(acc.n)
		row := OverviewRow{
			Treatment:                  name,
			ActualCount:                countByName[name].ActualCount,
			SuggestedCount:             countByName[name].SuggestedCount,
			PercentSame:                float64(acc.same) / n,
			ActualSurvivalRate:         float64(acc.actualSurvived) / n,
			ActualPredictedSurvival:    float64(acc.actualPredicted) / n,
			SuggestedPredictedSurvival: float64(acc.suggestedPredicted) / n,
		}
		row.PredictedSurvivalImprovement = row.SuggestedPredictedSurvival - row.ActualPredictedSurvival
		result = append(result, row)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Treatment < result[j].Treatment })
	return result
}

// CrossTabRow describes one (recommended, actual) treatment pair.
type CrossTabRow struct {
	Recommended           string
	Actual                string
	Count                 int
	PercentOfActual       float64
	ActualSurvivalRate    float64
	PredictedSurvivalRate float64
	SurvivalImprovement   float64
}

// CrossTab tabulates every (recommended, actual) pair with its actual
// survival rate, the predicted survival rate under the actual treatment,
// and the mean predicted improvement from switching to the recommendation.
func (a *Analyzer) CrossTab() []CrossTabRow {
	actualTotals := make(map[string]int)
	for _, r := range a.records {
		actualTotals[r.Treatment]++
	}

	type pair struct {
		recommended string
		actual      string
	}
	type accumulator struct {
		n               int
		actualSurvived  int
		actualPredicted int
		improvement     int
	}
	groups := make(map[pair]*accumulator)
	for i, r := range a.records {
		key := pair{recommended: a.suggestions[i].Treatment, actual: r.Treatment}
		acc, ok := groups[key]
		if !ok {
			acc = &accumulator{}
			groups[key] = acc
		}
		acc.n++
		if !r.Died {
			acc.actualSurvived++
		}
		actualPredicted := 0
		if a.actualProbs[i] >= 0.5 {
			actualPredicted = 1
			acc.actualPredicted++
		}
		suggestedPredicted := 0
		if a.suggestions[i].ProbabilityOfLiving >= 0.5 {
			suggestedPredicted = 1
		}
		acc.improvement += suggestedPredicted - actualPredicted
	}

	result := make([]CrossTabRow, 0, len(groups))
	for key, acc := range groups {
		n := float64(acc.n)
		result = append(result, CrossTabRow{
			Recommended:           key.recommended,
			Actual:                key.actual,
			Count:                 acc.n,
			PercentOfActual:       n / float64(actualTotals[key.actual]),
			ActualSurvivalRate:    float64(acc.actualSurvived) / n,
			PredictedSurvivalRate: float64(acc.actualPredicted) / n,
			SurvivalImprovement:   float64(acc.improvement) / n,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Recommended != result[j].Recommended {
			return result[i].Recommended < result[j].Recommended
		}
		return result[i].Actual < result[j].Actual
	})
	return result
}

// TopImprovements filters the cross-tab to pairs with enough volume and a
// meaningful predicted gain.
func (a *Analyzer) TopImprovements(minCount int, minImprovement float64) []CrossTabRow {
	var result []CrossTabRow
	for _, row := range a.CrossTab() {
		if row.Count > minCount && row.SurvivalImprovement > minImprovement {
			result = append(result, row)
		}
	}
	return result
}

var doseDigits = regexp.MustCompile(`\d+`)

// DosageDifferences returns recommended minus actual numeric dose per
// record. Categories without a leading dose number count as 0, and route
// differences are not accounted for.
func (a *Analyzer) DosageDifferences() []float64 {
	result := make([]float64, len(a.records))
	for i, r := range a.records {
		result[i] = doseFrom(a.suggestions[i].Treatment) - doseFrom(r.Treatment)
	}
	return result
}

func doseFrom(category string) float64 {
	match := doseDigits.FindString(category)
	if match == "" {
		return 0
	}
	dose, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0
	}
	return dose
}
