package features

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/clinalytics/chf-pipeline/pkg/events"
)

// CSV codecs for the stage cache. Layouts are flat tables with a header
// row; empty cells are missing values.

const dayFormat = "2006-01-02"

func EncodeWideTable(table *events.WideTable) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := append([]string{"entity_id", "date"}, table.Labels...)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, row := range table.Rows {
		record := make([]string, 0, len(header))
		record = append(record, strconv.Itoa(row.EntityID), row.Day.Format(dayFormat))
		for _, label := range table.Labels {
			if value, ok := row.Values[label]; ok {
				record = append(record, strconv.FormatFloat(value, 'g', -1, 64))
			} else {
				record = append(record, "")
			}
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func DecodeWideTable(data []byte) (*events.WideTable, error) {
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse cached table: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("cached table has no header")
	}
	header := rows[0]
	if len(header) < 2 || header[0] != "entity_id" || header[1] != "date" {
		return nil, fmt.Errorf("unexpected cached table header %v", header)
	}
	labels := header[2:]

	table := &events.WideTable{Labels: append([]string(nil), labels...)}
	for _, record := range rows[1:] {
		entityID, err := strconv.Atoi(record[0])
		if err != nil {
			return nil, fmt.Errorf("parse entity id %q: %w", record[0], err)
		}
		day, err := time.ParseInLocation(dayFormat, record[1], time.UTC)
		if err != nil {
			return nil, fmt.Errorf("parse date %q: %w", record[1], err)
		}
		values := make(map[string]float64, len(labels))
		for i, label := range labels {
			cell := record[i+2]
			if cell == "" {
				continue
			}
			value, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("parse %s=%q: %w", label, cell, err)
			}
			values[label] = value
		}
		table.Rows = append(table.Rows, events.WideRow{EntityID: entityID, Day: day, Values: values})
	}
	return table, nil
}

func EncodeTrainingRecords(records []TrainingRecord, featureColumns []string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := append([]string{"hadm_id", "subject_id", "date", "treatment", "sex", "age", "died"},
		featureColumns...)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, r := range records {
		record := []string{
			strconv.Itoa(r.HadmID),
			strconv.Itoa(r.SubjectID),
			r.Day.Format(dayFormat),
			r.Treatment,
			r.Sex,
			strconv.FormatFloat(r.Age, 'g', -1, 64),
			strconv.FormatBool(r.Died),
		}
		for _, column := range featureColumns {
			if value, ok := r.Features[column]; ok {
				record = append(record, strconv.FormatFloat(value, 'g', -1, 64))
			} else {
				record = append(record, "")
			}
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func DecodeTrainingRecords(data []byte) ([]TrainingRecord, error) {
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse cached training data: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("cached training data has no header")
	}
	header := rows[0]
	const fixedColumns = 7
	if len(header) < fixedColumns || header[0] != "hadm_id" {
		return nil, fmt.Errorf("unexpected training data header %v", header)
	}
	featureColumns := header[fixedColumns:]

	records := make([]TrainingRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		hadmID, err := strconv.Atoi(row[0])
		if err != nil {
			return nil, fmt.Errorf("parse hadm_id %q: %w", row[0], err)
		}
		subjectID, err := strconv.Atoi(row[1])
		if err != nil {
			return nil, fmt.Errorf("parse subject_id %q: %w", row[1], err)
		}
		day, err := time.ParseInLocation(dayFormat, row[2], time.UTC)
		if err != nil {
			return nil, fmt.Errorf("parse date %q: %w", row[2], err)
		}
		age, err := strconv.ParseFloat(row[5], 64)
		if err != nil {
			return nil, fmt.Errorf("parse age %q: %w", row[5], err)
		}
		died, err := strconv.ParseBool(row[6])
		if err != nil {
			return nil, fmt.Errorf("parse died %q: %w", row[6], err)
		}
		values := make(map[string]float64, len(featureColumns))
		for i, column := range featureColumns {
			cell := row[i+fixedColumns]
			if cell == "" {
				continue
			}
			value, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("parse %s=%q: %w", column, cell, err)
			}
			values[column] = value
		}
		records = append(records, TrainingRecord{
			HadmID:    hadmID,
			SubjectID: subjectID,
			Day:       day,
			Treatment: row[3],
			Sex:       row[4],
			Age:       age,
			Died:      died,
			Features:  values,
		})
	}
	return records, nil
}
