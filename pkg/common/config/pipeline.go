package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Pipeline describes the cohort and model constants for a run. The defaults
// reproduce the MIMIC-II congestive-heart-failure cohort; a YAML file can
// override any of them.
type Pipeline struct {
	// ICD-9 code defining the cohort.
	DiagnosisCode string `yaml:"diagnosis_code"`

	// Year the obfuscated patient dates are shifted toward.
	TargetYear int `yaml:"target_year"`

	// Item IDs to extract, mapped to their measurement labels.
	LabItems   map[int]string `yaml:"lab_items"`
	ChartItems map[int]string `yaml:"chart_items"`

	// Feature fields fed to the predictors. Diff columns for each scalar
	// field and the age column are appended automatically.
	CategoricalFields []string `yaml:"categorical_fields"`
	ScalarFields      []string `yaml:"scalar_fields"`

	// Minimum probability for a treatment to be considered a candidate.
	CandidateThreshold float64 `yaml:"candidate_threshold"`

	// Held-out fraction used for fit diagnostics.
	TestFraction float64 `yaml:"test_fraction"`

	// Stays shorter than this with no treatment order at all are excluded
	// from treatment expansion.
	MinStayHours int `yaml:"min_stay_hours"`

	Forest ForestParams `yaml:"forest"`
}

type ForestParams struct {
	Trees    int   `yaml:"trees"`
	MaxDepth int   `yaml:"max_depth"`
	Seed     int64 `yaml:"seed"`
}

func DefaultPipeline() *Pipeline {
	return &Pipeline{
		DiagnosisCode: "428.0",
		TargetYear:    2000,
		LabItems: map[int]string{
			50159: "Sodium",
			50090: "Creat",
			50177: "Urea N",
			50195: "ProBNP",
			50073: "AST(SGOT)",
			50062: "ALT(SGPT)",
			50188: "CTropnI",
			50189: "CTropnT",
			50384: "HCT",
			50386: "HGB",
			50277: "Sodium, Urine",
			50178: "Uric Acid",
			50149: "Potassium",
			50383: "HCT",
		},
		ChartItems: map[int]string{
			211: "Heart Rate",
			813: "Hematocrit",
			814: "Hemoglobin",
			821: "Magnesium (1.6-2.6)",
			827: "Phosphorous(2.7-4.5)",
			829: "Potassium (3.5-5.3)",
			618: "Respiratory Rate",
			646: "SpO2",
			677: "Temperature C (calc)",
			811: "Glucose (70-105)",
			762: "Admit Wt",
		},
		CategoricalFields: []string{"sex"},
		ScalarFields: []string{
			"creat",
			"hct",
			"hgb",
			"potassium",
			"sodium",
			"urea_n",
			"glucose_(70-105)",
			"heart_rate",
			"hematocrit",
			"hemoglobin",
			"magnesium_(1.6-2.6)",
			"potassium_(3.5-5.3)",
			"respiratory_rate",
			"spo2",
			"temperature_c_(calc)",
		},
		CandidateThreshold: 0.05,
		TestFraction:       0.3,
		MinStayHours:       12,
		Forest: ForestParams{
			Trees:    40,
			MaxDepth: 12,
			Seed:     1,
		},
	}
}

// LoadPipeline reads a YAML pipeline definition, falling back to the
// defaults when path is empty.
func LoadPipeline(path string) (*Pipeline, error) {
	pipeline := DefaultPipeline()
	if path == "" {
		return pipeline, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline config: %w", err)
	}
	if err := yaml.Unmarshal(content, pipeline); err != nil {
		return nil, fmt.Errorf("parse pipeline config: %w", err)
	}
	return pipeline, nil
}
