package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const (
	cellsSheet  = "cells"
	detailSheet = "detail"
)

var cellColumns = []interface{}{"run_id", "position", "lodge", "date", "roc_date", "status", "percentage", "summary", "note", "error"}

// XLSXSink writes the records to a "cells" sheet with the summary one row
// below the last record. Detail tables go to a "detail" sheet.
type XLSXSink struct {
	W io.Writer
}

func (s *XLSXSink) Write(records []Record, summary string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", cellsSheet); err != nil {
		return err
	}
	if err := f.SetSheetRow(cellsSheet, "A1", &cellColumns); err != nil {
		return err
	}
	for i, r := range records {
		row := []interface{}{r.RunID, r.Position, r.Lodge, r.Date, r.ROCDate, r.Status, r.Percentage, r.Summary, r.Note, r.Error}
		if err := f.SetSheetRow(cellsSheet, cell(1, i+2), &row); err != nil {
			return fmt.Errorf("write record %d: %w", i, err)
		}
	}
	if summary != "" {
		if err := f.SetCellStr(cellsSheet, cell(1, len(records)+3), summary); err != nil {
			return err
		}
	}
	f.SetColWidth(cellsSheet, "H", "H", 80)

	if err := writeDetail(f, records); err != nil {
		return err
	}
	if err := f.Write(s.W); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

// writeDetail lists the application table of every record that has one,
// prefixed by lodge and date.
func writeDetail(f *excelize.File, records []Record) error {
	line := 1
	for _, r := range records {
		if r.Detail == nil {
			continue
		}
		if line == 1 {
			if _, err := f.NewSheet(detailSheet); err != nil {
				return err
			}
		}
		header := []interface{}{"lodge", "date"}
		for _, c := range r.Detail.Columns {
			header = append(header, c)
		}
		if err := f.SetSheetRow(detailSheet, cell(1, line), &header); err != nil {
			return err
		}
		line++
		for _, dr := range r.Detail.Rows {
			row := []interface{}{r.Lodge, r.Date}
			for _, v := range dr {
				row = append(row, v)
			}
			if err := f.SetSheetRow(detailSheet, cell(1, line), &row); err != nil {
				return err
			}
			line++
		}
		line++
	}
	return nil
}

func cell(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}
