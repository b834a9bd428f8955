// Package dictionary loads data dictionaries from CSV and serializes
// crossmap results back to CSV.
package dictionary

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/curatelab/crossmap/internal/domain"
)

// Loader reads a tabular data dictionary into DictionaryRecords.
type Loader struct {
	idColumn     string
	embedColumns []string
	metaColumns  []string
	logger       *zap.Logger
}

// NewLoader creates a loader. idColumn names the unique record id;
// embedColumns are the fields later embedded; metaColumns are copied into
// entry metadata.
func NewLoader(idColumn string, embedColumns, metaColumns []string, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		idColumn:     idColumn,
		embedColumns: embedColumns,
		metaColumns:  metaColumns,
		logger:       logger,
	}
}

// LoadFile reads records from a CSV file.
func (l *Loader) LoadFile(path string) ([]domain.DictionaryRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dictionary %s: %w", path, err)
	}
	defer f.Close()
	return l.Load(f)
}

// Load reads records from CSV data. The first row is the header. Rows
// missing the id column or any embedded column are dropped (logged, not
// fatal); duplicate ids are an error because id uniqueness is a collection
// invariant.
func (l *Loader) Load(r io.Reader) ([]domain.DictionaryRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // ragged rows handled below

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read dictionary header: %w", err)
	}
	colIdx := make(map[string]int, len(header))
	for i, name := range header {
		colIdx[name] = i
	}

	if _, ok := colIdx[l.idColumn]; !ok {
		return nil, fmt.Errorf("dictionary has no id column %q: %w", l.idColumn, domain.ErrConfig)
	}
	for _, col := range l.embedColumns {
		if _, ok := colIdx[col]; !ok {
			return nil, fmt.Errorf("dictionary has no embed column %q: %w", col, domain.ErrConfig)
		}
	}
	for _, col := range l.metaColumns {
		if _, ok := colIdx[col]; !ok {
			return nil, fmt.Errorf("dictionary has no metadata column %q: %w", col, domain.ErrConfig)
		}
	}

	cell := func(row []string, col string) string {
		i := colIdx[col]
		if i >= len(row) {
			return ""
		}
		return row[i]
	}

	var records []domain.DictionaryRecord
	seen := make(map[string]struct{})
	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read dictionary row %d: %w", line, err)
		}

		id := cell(row, l.idColumn)
		if id == "" {
			l.logger.Warn("dropping row without id", zap.Int("line", line))
			continue
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("duplicate record id %q at row %d", id, line)
		}

		fields := make(map[string]string, len(l.embedColumns))
		complete := true
		for _, col := range l.embedColumns {
			v := cell(row, col)
			if v == "" {
				l.logger.Warn("dropping row with empty embed column",
					zap.String("id", id), zap.String("column", col))
				complete = false
				break
			}
			fields[col] = v
		}
		if !complete {
			continue
		}

		meta := make(map[string]string, len(l.metaColumns))
		for _, col := range l.metaColumns {
			meta[col] = cell(row, col)
		}

		seen[id] = struct{}{}
		records = append(records, domain.DictionaryRecord{
			ID:       id,
			Fields:   fields,
			Metadata: meta,
		})
	}

	l.logger.Info("dictionary loaded",
		zap.Int("records", len(records)),
		zap.String("id_column", l.idColumn))
	return records, nil
}
