package dictionary

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/curatelab/crossmap/internal/domain"
)

// ResultWriter serializes crossmap results to CSV, one row per ranked match.
// Records whose QuerySpec produced no matches still emit one empty-match row
// per spec so the source record never disappears from the output.
type ResultWriter struct {
	w           *csv.Writer
	specs       []domain.QuerySpec
	metaColumns []string
	include     domain.Include
	wroteHeader bool
}

// NewResultWriter creates a writer for the given QuerySpec order.
func NewResultWriter(w io.Writer, specs []domain.QuerySpec, metaColumns []string, include domain.Include) *ResultWriter {
	return &ResultWriter{
		w:           csv.NewWriter(w),
		specs:       specs,
		metaColumns: metaColumns,
		include:     include,
	}
}

// header returns the CSV header row.
func (rw *ResultWriter) header() []string {
	cols := []string{"id", "query", "query_text", "rank"}
	if rw.include.IDs {
		cols = append(cols, "match_id")
	}
	cols = append(cols, "rerank_score", "similarity_score")
	if rw.include.Documents {
		cols = append(cols, "match_document")
	}
	if rw.include.Metadatas {
		for _, m := range rw.metaColumns {
			cols = append(cols, "match_"+m)
		}
	}
	return cols
}

// Write emits all rows for one record's CrossmapResult, in QuerySpec order.
func (rw *ResultWriter) Write(rec domain.DictionaryRecord, res domain.CrossmapResult) error {
	if !rw.wroteHeader {
		if err := rw.w.Write(rw.header()); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		rw.wroteHeader = true
	}

	for _, spec := range rw.specs {
		queryText := rec.Fields[spec.SourceField]
		matches := res.Matches[spec.Name]
		if len(matches) == 0 {
			if err := rw.writeRow(res.RecordID, spec.Name, queryText, domain.RankedMatch{}, true); err != nil {
				return err
			}
			continue
		}
		for _, m := range matches {
			if err := rw.writeRow(res.RecordID, spec.Name, queryText, m, false); err != nil {
				return err
			}
		}
	}
	rw.w.Flush()
	return rw.w.Error()
}

func (rw *ResultWriter) writeRow(recordID, query, queryText string, m domain.RankedMatch, empty bool) error {
	var row []string
	if empty {
		row = []string{recordID, query, queryText, ""}
		if rw.include.IDs {
			row = append(row, "")
		}
		row = append(row, "", "")
	} else {
		row = []string{recordID, query, queryText, strconv.Itoa(m.Rank)}
		if rw.include.IDs {
			row = append(row, m.ID)
		}
		row = append(row,
			strconv.FormatFloat(m.RerankScore, 'f', 6, 64),
			strconv.FormatFloat(m.Similarity, 'f', 6, 64),
		)
	}
	if rw.include.Documents {
		row = append(row, m.Document)
	}
	if rw.include.Metadatas {
		for _, col := range rw.metaColumns {
			row = append(row, m.Metadata[col])
		}
	}
	if err := rw.w.Write(row); err != nil {
		return fmt.Errorf("write result row for %s: %w", recordID, err)
	}
	return nil
}

// Flush flushes any buffered rows.
func (rw *ResultWriter) Flush() error {
	rw.w.Flush()
	return rw.w.Error()
}

// WriteResultsFile writes all results to a CSV file in one call.
func WriteResultsFile(
	path string,
	specs []domain.QuerySpec,
	metaColumns []string,
	include domain.Include,
	records []domain.DictionaryRecord,
	results map[string]domain.CrossmapResult,
) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output %s: %w", path, err)
	}
	defer f.Close()

	rw := NewResultWriter(f, specs, metaColumns, include)
	for _, rec := range records {
		res, ok := results[rec.ID]
		if !ok {
			continue
		}
		if err := rw.Write(rec, res); err != nil {
			return err
		}
	}
	return rw.Flush()
}
