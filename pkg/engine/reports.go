package engine

import (
	"sort"
	"strconv"

	"github.com/clinalytics/chf-pipeline/pkg/ml/preprocess"
	"github.com/clinalytics/chf-pipeline/pkg/reports"
)

// Report file names written into the results directory.
const (
	ReportOutcomeImportance   = "outcome_feature_importance.csv"
	ReportTreatmentImportance = "viable_treatment_feature_importance.csv"
	ReportOverview            = "recommended_treatment_overview.csv"
	ReportCrossTab            = "recommended_vs_actual_treatment.csv"
	ReportTopImprovements     = "top_treatment_improvements.csv"
)

// Filters for the top-improvements report.
const (
	topImprovementMinCount = 20
	topImprovementMinGain  = 0.025
)

// WriteReports produces the full report set for one analysis run.
func (a *Analyzer) WriteReports(dir string) error {
	outcomeImportance, err := a.engine.OutcomeFeatureImportance()
	if err != nil {
		return err
	}
	if err := writeImportance(dir, ReportOutcomeImportance, outcomeImportance); err != nil {
		return err
	}

	treatmentImportance, err := a.engine.TreatmentFeatureImportance()
	if err != nil {
		return err
	}
	if err := writeImportance(dir, ReportTreatmentImportance, treatmentImportance); err != nil {
		return err
	}

	overviewRows := make([][]string, 0)
	for _, row := range a.Overview() {
		overviewRows = append(overviewRows, []string{
			row.Treatment,
			strconv.Itoa(row.ActualCount),
			strconv.Itoa(row.SuggestedCount),
			formatRate(row.PercentSame),
			formatRate(row.ActualSurvivalRate),
			formatRate(row.ActualPredictedSurvival),
			formatRate(row.SuggestedPredictedSurvival),
			formatRate(row.PredictedSurvivalImprovement),
		})
	}
	if err := reports.WriteCSV(dir, ReportOverview, []string{
		"treatment", "actual_count", "suggested_count", "percent_of_treatment_same",
		"actual_survival_rate", "actual_treatment_predicted_survival_rate",
		"recommended_treatment_predicted_survival_rate", "predicted_survival_rate_improvement",
	}, overviewRows); err != nil {
		return err
	}

	if err := reports.WriteCSV(dir, ReportCrossTab, crossTabHeader, crossTabRows(a.CrossTab())); err != nil {
		return err
	}
	return reports.WriteCSV(dir, ReportTopImprovements, crossTabHeader,
		crossTabRows(a.TopImprovements(topImprovementMinCount, topImprovementMinGain)))
}

var crossTabHeader = []string{
	"recommended_treatment", "actual_treatment", "counts", "percent_actual_treatment",
	"actual_survived", "actual_treatment_survived_prediction", "survival_rate_improvement",
}

func crossTabRows(rows []CrossTabRow) [][]string {
	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, []string{
			row.Recommended,
			row.Actual,
			strconv.Itoa(row.Count),
			formatRate(row.PercentOfActual),
			formatRate(row.ActualSurvivalRate),
			formatRate(row.PredictedSurvivalRate),
			formatRate(row.SurvivalImprovement),
		})
	}
	return out
}

func writeImportance(dir, name string, importance []preprocess.Importance) error {
	sorted := append([]preprocess.Importance(nil), importance...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Importance > sorted[j].Importance
	})
	rows := make([][]string, 0, len(sorted))
	for _, entry := range sorted {
		rows = append(rows, []string{entry.Feature, formatRate(entry.Importance)})
	}
	return reports.WriteCSV(dir, name, []string{"feature", "importance"}, rows)
}

func formatRate(value float64) string {
	return strconv.FormatFloat(value, 'g', -1, 64)
}
