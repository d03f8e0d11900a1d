// Package engine trains the outcome and treatment predictors and combines
// them into the treatment recommender: every plausible treatment for a
// patient-day is scored for survival probability and the best one wins.
package engine

import (
	"errors"
	"fmt"

	"github.com/clinalytics/chf-pipeline/pkg/common/config"
	"github.com/clinalytics/chf-pipeline/pkg/features"
	"github.com/clinalytics/chf-pipeline/pkg/ml/forest"
	"github.com/clinalytics/chf-pipeline/pkg/ml/preprocess"
)

// Suggestion is the winning treatment for one input record. SampleID is the
// record's position in the input batch.
type Suggestion struct {
	SampleID            int
	Treatment           string
	ProbabilityOfLiving float64
}

// DecisionEngine owns both predictor pipelines. It moves from unfitted to
// fitted exactly once; retraining means constructing a new instance. Fields
// are exported so a fitted engine can be persisted with encoding/gob.
type DecisionEngine struct {
	Outcome     *OutcomePredictor
	Treatment   *TreatmentPredictor
	Threshold   float64
	Fitted      bool
	LastFit     map[string]Diagnostics
	ScalarCount int
}

// New builds an unfitted engine from the pipeline configuration, wiring two
// independent random forests behind the Classifier capability.
func New(cfg *config.Pipeline) *DecisionEngine {
	scalars := make([]string, 0, 2*len(cfg.ScalarFields)+1)
	scalars = append(scalars, cfg.ScalarFields...)
	for _, field := range cfg.ScalarFields {
		scalars = append(scalars, field+"_diff")
	}
	scalars = append(scalars, "age")

	outcomeCategorical := append([]string{treatmentField}, cfg.CategoricalFields...)
	forestOpts := forest.Options{
		Trees:    cfg.Forest.Trees,
		MaxDepth: cfg.Forest.MaxDepth,
		Seed:     cfg.Forest.Seed,
	}

	return &DecisionEngine{
		Outcome: NewOutcomePredictor(
			forest.New(forestOpts),
			preprocess.New(outcomeCategorical, scalars),
			cfg.TestFraction, cfg.Forest.Seed),
		Treatment: NewTreatmentPredictor(
			forest.New(forestOpts),
			preprocess.New(cfg.CategoricalFields, scalars),
			cfg.TestFraction, cfg.Forest.Seed),
		Threshold:   cfg.CandidateThreshold,
		ScalarCount: len(scalars),
	}
}

// Fit trains both predictors on the historical records. Accuracy against a
// held-out split is logged as a diagnostic and recorded in LastFit.
func (e *DecisionEngine) Fit(records []features.TrainingRecord) error {
	if e.Fitted {
		return errors.New("engine already trained; construct a new instance to retrain")
	}
	if len(records) == 0 {
		return errors.New("no training records")
	}
	if e.ScalarCount == 0 {
		return errors.New("no numeric feature columns configured")
	}

	treatmentDiag, err := e.Treatment.Fit(records)
	if err != nil {
		return fmt.Errorf("fit treatment predictor: %w", err)
	}
	outcomeDiag, err := e.Outcome.Fit(records)
	if err != nil {
		return fmt.Errorf("fit outcome predictor: %w", err)
	}
	e.LastFit = map[string]Diagnostics{
		"treatment": treatmentDiag,
		"outcome":   outcomeDiag,
	}
	e.Fitted = true
	return nil
}

// TreatmentSuggestions recommends one treatment per input record. Each
// record's candidate treatments (per the threshold/fallback policy) are
// cross-joined with its feature vector, scored for survival probability,
// and the highest-scoring expansion row wins. Candidates are scored in
// descending treatment-probability order and ties keep the earlier row, so
// results are deterministic for a fixed input order. The output always has
// exactly one suggestion per input record.
func (e *DecisionEngine) TreatmentSuggestions(records []features.TrainingRecord) ([]Suggestion, error) {
	if !e.Fitted {
		return nil, ErrNotTrained
	}
	candidates, err := e.Treatment.Candidates(records, e.Threshold)
	if err != nil {
		return nil, err
	}

	// flat cross join of samples × their candidates
	type expansion struct {
		sampleID  int
		treatment string
	}
	var expansions []expansion
	var samples []preprocess.Sample
	for i, record := range records {
		for _, candidate := range candidates[i] {
			expansions = append(expansions, expansion{sampleID: i, treatment: candidate})
			samples = append(samples, toSample(record, candidate, true))
		}
	}

	probabilities, err := e.Outcome.scoreSamples(samples)
	if err != nil {
		return nil, err
	}

	best := make([]Suggestion, len(records))
	seen := make([]bool, len(records))
	for i, exp := range expansions {
		p := probabilities[i]
		if !seen[exp.sampleID] || p > best[exp.sampleID].ProbabilityOfLiving {
			best[exp.sampleID] = Suggestion{
				SampleID:            exp.sampleID,
				Treatment:           exp.treatment,
				ProbabilityOfLiving: p,
			}
			seen[exp.sampleID] = true
		}
	}
	return best, nil
}

// SurvivalProbabilities scores each record under its actual treatment.
func (e *DecisionEngine) SurvivalProbabilities(records []features.TrainingRecord) ([]float64, error) {
	if !e.Fitted {
		return nil, ErrNotTrained
	}
	return e.Outcome.SurvivalProbabilities(records)
}

// OutcomeFeatureImportance returns per-semantic-feature importances for the
// outcome predictor, summing to 1.
func (e *DecisionEngine) OutcomeFeatureImportance() ([]preprocess.Importance, error) {
	if !e.Fitted {
		return nil, ErrNotTrained
	}
	return e.Outcome.FeatureImportance()
}

// TreatmentFeatureImportance is the same for the treatment predictor.
func (e *DecisionEngine) TreatmentFeatureImportance() ([]preprocess.Importance, error) {
	if !e.Fitted {
		return nil, ErrNotTrained
	}
	return e.Treatment.FeatureImportance()
}

// Treatments reports the label space fixed at fit time.
func (e *DecisionEngine) Treatments() []string {
	return append([]string(nil), e.Treatment.Treatments...)
}
