// Package preprocess converts labeled clinical samples into the numeric
// matrix consumed by a classifier: categorical fields are one-hot encoded
// with most-frequent imputation, scalar fields are mean-imputed and
// standardized. The pipeline also records which semantic field owns each
// expanded column so classifier importances can be re-aggregated per field
// instead of per dummy column.
package preprocess

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Sample is one row of model input. A key absent from either map is a
// missing value.
type Sample struct {
	Categories map[string]string
	Scalars    map[string]float64
}

type Importance struct {
	Feature    string  `json:"feature"`
	Importance float64 `json:"importance"`
}

var ErrNotFitted = errors.New("preprocessor not fitted")

// LabelBinarizer one-hot encodes a single categorical field. Unknown values
// at transform time produce an all-zero block; missing values are imputed
// with the most frequent class seen at fit time.
type LabelBinarizer struct {
	Classes      []string
	MostFrequent string
	ClassIndex   map[string]int
}

// StandardScaler standardizes one scalar field to zero mean and unit
// variance, imputing missing values with the fit-time mean.
type StandardScaler struct {
	Mean float64
	Std  float64
}

// Pipeline is the ordered set of per-field transforms. Fields are exported
// so a fitted pipeline can be persisted with encoding/gob.
type Pipeline struct {
	CategoricalFields []string
	ScalarFields      []string
	Binarizers        map[string]*LabelBinarizer
	Scalers           map[string]*StandardScaler

	// Owners maps each expanded column index to the semantic field it was
	// derived from. Built once at fit time; importance re-aggregation is a
	// lookup, never a column-order contract.
	Owners []string

	Fitted bool
}

func New(categorical, scalar []string) *Pipeline {
	return &Pipeline{
		CategoricalFields: append([]string(nil), categorical...),
		ScalarFields:      append([]string(nil), scalar...),
		Binarizers:        make(map[string]*LabelBinarizer),
		Scalers:           make(map[string]*StandardScaler),
	}
}

func (p *Pipeline) Fit(samples []Sample) error {
	if len(samples) == 0 {
		return errors.New("no samples to fit preprocessor")
	}

	p.Owners = p.Owners[:0]
	for _, field := range p.CategoricalFields {
		counts := make(map[string]int)
		for _, sample := range samples {
			if value, ok := sample.Categories[field]; ok && value != "" {
				counts[value]++
			}
		}
		if len(counts) == 0 {
			return fmt.Errorf("categorical field %q has no observed values", field)
		}

		classes := make([]string, 0, len(counts))
		for class := range counts {
			classes = append(classes, class)
		}
		sort.Strings(classes)

		mostFrequent := classes[0]
		for _, class := range classes[1:] {
			if counts[class] > counts[mostFrequent] {
				mostFrequent = class
			}
		}

		index := make(map[string]int, len(classes))
		for i, class := range classes {
			index[class] = i
		}
		p.Binarizers[field] = &LabelBinarizer{
			Classes:      classes,
			MostFrequent: mostFrequent,
			ClassIndex:   index,
		}
		for range classes {
			p.Owners = append(p.Owners, field)
		}
	}

	for _, field := range p.ScalarFields {
		var sum float64
		var count int
		for _, sample := range samples {
			if value, ok := sample.Scalars[field]; ok {
				sum += value
				count++
			}
		}
		mean := 0.0
		if count > 0 {
			mean = sum / float64(count)
		}
		var variance float64
		for _, sample := range samples {
			if value, ok := sample.Scalars[field]; ok {
				variance += (value - mean) * (value - mean)
			}
		}
		std := 1.0
		if count > 0 && variance > 0 {
			std = math.Sqrt(variance / float64(count))
		}
		p.Scalers[field] = &StandardScaler{Mean: mean, Std: std}
		p.Owners = append(p.Owners, field)
	}

	p.Fitted = true
	return nil
}

// Width is the number of expanded columns a transformed row has.
func (p *Pipeline) Width() int {
	return len(p.Owners)
}

func (p *Pipeline) Transform(samples []Sample) ([][]float64, error) {
	if !p.Fitted {
		return nil, ErrNotFitted
	}
	matrix := make([][]float64, len(samples))
	for i, sample := range samples {
		row := make([]float64, 0, p.Width())
		for _, field := range p.CategoricalFields {
			binarizer := p.Binarizers[field]
			value, ok := sample.Categories[field]
			if !ok || value == "" {
				value = binarizer.MostFrequent
			}
			block := make([]float64, len(binarizer.Classes))
			if idx, known := binarizer.ClassIndex[value]; known {
				block[idx] = 1
			}
			row = append(row, block...)
		}
		for _, field := range p.ScalarFields {
			scaler := p.Scalers[field]
			value, ok := sample.Scalars[field]
			if !ok {
				value = scaler.Mean
			}
			row = append(row, (value-scaler.Mean)/scaler.Std)
		}
		matrix[i] = row
	}
	return matrix, nil
}

// FeatureImportance aggregates per-column classifier importances back into
// per-field importances via the owner table. The result keeps the pipeline's
// field order: categorical fields first, then scalar fields.
func (p *Pipeline) FeatureImportance(raw []float64) ([]Importance, error) {
	if !p.Fitted {
		return nil, ErrNotFitted
	}
	if len(raw) != p.Width() {
		return nil, fmt.Errorf("importance length %d does not match %d expanded columns",
			len(raw), p.Width())
	}
	byField := make(map[string]float64, len(p.CategoricalFields)+len(p.ScalarFields))
	for i, owner := range p.Owners {
		byField[owner] += raw[i]
	}
	result := make([]Importance, 0, len(byField))
	for _, field := range p.CategoricalFields {
		result = append(result, Importance{Feature: field, Importance: byField[field]})
	}
	for _, field := range p.ScalarFields {
		result = append(result, Importance{Feature: field, Importance: byField[field]})
	}
	return result, nil
}
