package engine

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"github.com/clinalytics/chf-pipeline/pkg/common/logger"
	"github.com/clinalytics/chf-pipeline/pkg/features"
	"github.com/clinalytics/chf-pipeline/pkg/ml/preprocess"
	"github.com/sirupsen/logrus"
)

// ErrNotTrained is returned by any inference call made before Fit.
var ErrNotTrained = errors.New("not trained")

const treatmentField = "treatment"

// Classifier is the capability the engine requires from its underlying
// model. The random forest in pkg/ml/forest satisfies it; the engine never
// depends on a concrete model type.
type Classifier interface {
	Fit(x [][]float64, y []int, numClasses int) error
	Predict(x [][]float64) []int
	PredictProba(x [][]float64) [][]float64
	FeatureImportances() []float64
}

// Diagnostics summarizes one predictor's fit. Accuracy numbers are
// informational only; a poor fit is logged, never an error.
type Diagnostics struct {
	TrainAccuracy float64
	TestAccuracy  float64
	TrainSamples  int
	TestSamples   int
}

// OutcomePredictor predicts the probability a patient survives, treating
// the assigned treatment as one of the input features so a recommendation
// can ask "what if only this column changed".
type OutcomePredictor struct {
	Pipeline     *preprocess.Pipeline
	Model        Classifier
	Trained      bool
	TestFraction float64
	Seed         int64
}

const (
	outcomeSurvived = 0
	outcomeDied     = 1
)

func NewOutcomePredictor(model Classifier, pipeline *preprocess.Pipeline, testFraction float64, seed int64) *OutcomePredictor {
	return &OutcomePredictor{Pipeline: pipeline, Model: model, TestFraction: testFraction, Seed: seed}
}

func (p *OutcomePredictor) Fit(records []features.TrainingRecord) (Diagnostics, error) {
	samples := make([]preprocess.Sample, len(records))
	labels := make([]int, len(records))
	for i, r := range records {
		samples[i] = toSample(r, r.Treatment, true)
		if r.Died {
			labels[i] = outcomeDied
		}
	}
	diag, err := fitWithDiagnostics("outcome", p.Pipeline, p.Model, samples, labels, 2, p.TestFraction, p.Seed)
	if err != nil {
		return Diagnostics{}, err
	}
	p.Trained = true
	return diag, nil
}

// SurvivalProbabilities scores each record with its actual treatment.
func (p *OutcomePredictor) SurvivalProbabilities(records []features.TrainingRecord) ([]float64, error) {
	samples := make([]preprocess.Sample, len(records))
	for i, r := range records {
		samples[i] = toSample(r, r.Treatment, true)
	}
	return p.scoreSamples(samples)
}

func (p *OutcomePredictor) scoreSamples(samples []preprocess.Sample) ([]float64, error) {
	if !p.Trained {
		return nil, ErrNotTrained
	}
	matrix, err := p.Pipeline.Transform(samples)
	if err != nil {
		return nil, err
	}
	probs := p.Model.PredictProba(matrix)
	result := make([]float64, len(probs))
	for i, rowProbs := range probs {
		result[i] = rowProbs[outcomeSurvived]
	}
	return result, nil
}

func (p *OutcomePredictor) FeatureImportance() ([]preprocess.Importance, error) {
	if !p.Trained {
		return nil, ErrNotTrained
	}
	return p.Pipeline.FeatureImportance(p.Model.FeatureImportances())
}

// TreatmentPredictor predicts which treatments are plausible for a patient.
// The label space is fixed at fit time.
type TreatmentPredictor struct {
	Pipeline     *preprocess.Pipeline
	Model        Classifier
	Treatments   []string
	Trained      bool
	TestFraction float64
	Seed         int64
}

func NewTreatmentPredictor(model Classifier, pipeline *preprocess.Pipeline, testFraction float64, seed int64) *TreatmentPredictor {
	return &TreatmentPredictor{Pipeline: pipeline, Model: model, TestFraction: testFraction, Seed: seed}
}

func (p *TreatmentPredictor) Fit(records []features.TrainingRecord) (Diagnostics, error) {
	classSet := make(map[string]struct{})
	for _, r := range records {
		if r.Treatment != "" {
			classSet[r.Treatment] = struct{}{}
		}
	}
	if len(classSet) == 0 {
		return Diagnostics{}, errors.New("no treatment categories in training data")
	}
	p.Treatments = make([]string, 0, len(classSet))
	for class := range classSet {
		p.Treatments = append(p.Treatments, class)
	}
	sort.Strings(p.Treatments)

	classIndex := make(map[string]int, len(p.Treatments))
	for i, class := range p.Treatments {
		classIndex[class] = i
	}

	samples := make([]preprocess.Sample, len(records))
	labels := make([]int, len(records))
	for i, r := range records {
		samples[i] = toSample(r, "", false)
		labels[i] = classIndex[r.Treatment]
	}
	diag, err := fitWithDiagnostics("treatment", p.Pipeline, p.Model, samples, labels,
		len(p.Treatments), p.TestFraction, p.Seed)
	if err != nil {
		return Diagnostics{}, err
	}
	p.Trained = true
	return diag, nil
}

// Candidates returns, per record, the treatment categories whose predicted
// probability exceeds threshold, ordered by descending probability. When no
// category clears the threshold the single most probable one is kept, so
// every record has at least one candidate.
func (p *TreatmentPredictor) Candidates(records []features.TrainingRecord, threshold float64) ([][]string, error) {
	if !p.Trained {
		return nil, ErrNotTrained
	}
	samples := make([]preprocess.Sample, len(records))
	for i, r := range records {
		samples[i] = toSample(r, "", false)
	}
	matrix, err := p.Pipeline.Transform(samples)
	if err != nil {
		return nil, err
	}
	probs := p.Model.PredictProba(matrix)

	result := make([][]string, len(records))
	for i, rowProbs := range probs {
		order := make([]int, len(rowProbs))
		for class := range order {
			order[class] = class
		}
		// descending probability; class order breaks ties so expansion
		// order is deterministic
		sort.SliceStable(order, func(a, b int) bool {
			return rowProbs[order[a]] > rowProbs[order[b]]
		})

		var candidates []string
		for _, class := range order {
			if rowProbs[class] > threshold {
				candidates = append(candidates, p.Treatments[class])
			}
		}
		if len(candidates) == 0 {
			candidates = []string{p.Treatments[order[0]]}
		}
		result[i] = candidates
	}
	return result, nil
}

func (p *TreatmentPredictor) FeatureImportance() ([]preprocess.Importance, error) {
	if !p.Trained {
		return nil, ErrNotTrained
	}
	return p.Pipeline.FeatureImportance(p.Model.FeatureImportances())
}

// fitWithDiagnostics fits the preprocessor and classifier on a shuffled
// train split, then logs train/test accuracy against the held-out fraction.
func fitWithDiagnostics(name string, pipeline *preprocess.Pipeline, model Classifier,
	samples []preprocess.Sample, labels []int, numClasses int, testFraction float64, seed int64) (Diagnostics, error) {

	if len(samples) == 0 {
		return Diagnostics{}, errors.New("no training samples")
	}

	indices := rand.New(rand.NewSource(seed)).Perm(len(samples))
	testSize := int(float64(len(samples)) * testFraction)
	if testSize >= len(samples) {
		testSize = len(samples) - 1
	}
	trainIdx := indices[testSize:]
	testIdx := indices[:testSize]

	trainSamples := make([]preprocess.Sample, len(trainIdx))
	trainLabels := make([]int, len(trainIdx))
	for i, idx := range trainIdx {
		trainSamples[i] = samples[idx]
		trainLabels[i] = labels[idx]
	}

	if err := pipeline.Fit(trainSamples); err != nil {
		return Diagnostics{}, fmt.Errorf("fit %s preprocessor: %w", name, err)
	}
	trainMatrix, err := pipeline.Transform(trainSamples)
	if err != nil {
		return Diagnostics{}, err
	}
	if err := model.Fit(trainMatrix, trainLabels, numClasses); err != nil {
		return Diagnostics{}, fmt.Errorf("fit %s model: %w", name, err)
	}

	diag := Diagnostics{
		TrainAccuracy: accuracy(model.Predict(trainMatrix), trainLabels),
		TrainSamples:  len(trainIdx),
		TestSamples:   len(testIdx),
	}
	if len(testIdx) > 0 {
		testSamples := make([]preprocess.Sample, len(testIdx))
		testLabels := make([]int, len(testIdx))
		for i, idx := range testIdx {
			testSamples[i] = samples[idx]
			testLabels[i] = labels[idx]
		}
		testMatrix, err := pipeline.Transform(testSamples)
		if err != nil {
			return Diagnostics{}, err
		}
		diag.TestAccuracy = accuracy(model.Predict(testMatrix), testLabels)
	}

	logger.WithFields(logrus.Fields{
		"predictor":      name,
		"train_accuracy": diag.TrainAccuracy,
		"test_accuracy":  diag.TestAccuracy,
		"train_samples":  diag.TrainSamples,
		"test_samples":   diag.TestSamples,
	}).Info("predictor fitted")
	return diag, nil
}

func accuracy(predicted, actual []int) float64 {
	if len(actual) == 0 {
		return 0
	}
	correct := 0
	for i, p := range predicted {
		if p == actual[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(actual))
}

// toSample flattens a training record into the neutral form the
// preprocessor consumes. treatmentValue replaces the record's own treatment,
// which is how the engine scores counterfactual candidates.
func toSample(r features.TrainingRecord, treatmentValue string, includeTreatment bool) preprocess.Sample {
	categories := map[string]string{"sex": r.Sex}
	if includeTreatment {
		categories[treatmentField] = treatmentValue
	}
	scalars := make(map[string]float64, len(r.Features)+1)
	for label, value := range r.Features {
		scalars[label] = value
	}
	scalars["age"] = r.Age
	return preprocess.Sample{Categories: categories, Scalars: scalars}
}
