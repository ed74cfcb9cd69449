// Package export writes the cells of a run as CSV or XLSX tables.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/jszwec/csvutil"

	worker "permitcheck.dev/worker"
	"permitcheck.dev/worker/park"
)

// Record is one (lodge, date) cell of a run.
type Record struct {
	RunID      string      `csv:"run_id"`
	Position   int         `csv:"position"`
	Lodge      string      `csv:"lodge"`
	Date       string      `csv:"date"`
	ROCDate    string      `csv:"roc_date"`
	Status     string      `csv:"status"`
	Percentage string      `csv:"percentage"`
	Summary    string      `csv:"summary"`
	Note       string      `csv:"note,omitempty"`
	Error      string      `csv:"error,omitempty"`
	Detail     *park.Table `csv:"-"`
}

// Records flattens the matrix of a report in row then date order.
func Records(r *worker.Report) []Record {
	var records []Record
	for pos, row := range r.Matrix.Rows {
		for i, res := range row.Results {
			date := r.Matrix.Dates[i]
			rec := Record{
				RunID:    r.RunID,
				Position: pos,
				Lodge:    row.LodgeName,
				Date:     date.Format(time.DateOnly),
				ROCDate:  park.FormatROC(date),
				Status:   res.Status.String(),
				Summary:  res.Line(),
				Note:     res.Note,
			}
			if res.Percentage.Kind != park.PercentageNone {
				rec.Percentage = res.Percentage.String()
			}
			if res.Err != nil {
				rec.Error = res.Err.Error()
			}
			if res.Fields != nil {
				rec.Detail = res.Fields.Meta().Detail
			}
			records = append(records, rec)
		}
	}
	return records
}

// Sink writes records followed by the summary line.
type Sink interface {
	Write(records []Record, summary string) error
}

// CSVSink writes a header row, one row per record and the summary as the
// last row.
type CSVSink struct {
	W io.Writer
}

func (s *CSVSink) Write(records []Record, summary string) error {
	w := csv.NewWriter(s.W)
	enc := csvutil.NewEncoder(w)
	var err error
	if len(records) == 0 {
		err = enc.EncodeHeader(Record{})
	} else {
		err = enc.Encode(records)
	}
	if err != nil {
		return fmt.Errorf("encode records: %w", err)
	}
	if summary != "" {
		if err := w.Write([]string{summary}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// ForPath picks a sink from the file extension of path.
func ForPath(path string, w io.Writer) (Sink, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return &CSVSink{W: w}, nil
	case ".xlsx":
		return &XLSXSink{W: w}, nil
	default:
		return nil, fmt.Errorf("unsupported export format %q, use .csv or .xlsx", filepath.Ext(path))
	}
}
