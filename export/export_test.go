package export

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	worker "permitcheck.dev/worker"
	"permitcheck.dev/worker/park"
)

func sampleReport() *worker.Report {
	d1 := time.Date(2019, time.June, 14, 0, 0, 0, 0, park.Taipei)
	d2 := d1.AddDate(0, 0, 1)
	fields := &park.TarokoFields{
		Header: park.Header{
			SearchDate: "108-06-14", ParkName: "太魯閣國家公園", LodgeName: "成功堡",
			Detail: &park.Table{Columns: []string{"序號", "人數"}, Rows: [][]string{{"1", "4"}, {"2", "3"}}},
		},
		Pool: 20, Current: 5,
	}
	return &worker.Report{
		RunID:    "run-1",
		Park:     park.Taroko,
		TeamSize: 2,
		Matrix: worker.Matrix{
			Dates: []time.Time{d1, d2},
			Rows: []worker.Row{{
				LodgeID:   "201",
				LodgeName: "成功堡",
				Results: []park.Result{
					{Status: park.Available, Fields: fields},
					{Status: park.NotOpen, Err: park.ErrNotOpen, Query: park.Query{LodgeName: "成功堡", Date: d2}},
				},
			}},
		},
	}
}

func TestRecords(t *testing.T) {
	records := Records(sampleReport())
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	first := records[0]
	if first.Date != "2019-06-14" || first.ROCDate != "108-06-14" || first.Status != "available" {
		t.Errorf("unexpected first record: %+v", first)
	}
	if first.Detail == nil || len(first.Detail.Rows) != 2 {
		t.Errorf("expected the detail table on the first record")
	}
	if records[1].Error == "" || records[1].Status != "not_open" {
		t.Errorf("unexpected second record: %+v", records[1])
	}
	if !strings.Contains(records[1].Summary, "未開放查詢") {
		t.Errorf("unexpected summary %q", records[1].Summary)
	}
}

func TestCSVSink(t *testing.T) {
	var buf bytes.Buffer
	if err := (&CSVSink{W: &buf}).Write(Records(sampleReport()), "隊伍2人，共1個時段可申請入園"); err != nil {
		t.Fatalf("Write: %v", err)
	}

	r := csv.NewReader(&buf)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected header, 2 records and summary, got %d rows", len(rows))
	}
	if rows[0][0] != "run_id" || rows[0][3] != "date" {
		t.Errorf("unexpected header %v", rows[0])
	}
	if rows[1][2] != "成功堡" || rows[1][5] != "available" {
		t.Errorf("unexpected record %v", rows[1])
	}
	if len(rows[3]) != 1 || rows[3][0] != "隊伍2人，共1個時段可申請入園" {
		t.Errorf("unexpected summary row %v", rows[3])
	}

	t.Run("empty run writes the header", func(t *testing.T) {
		var buf bytes.Buffer
		if err := (&CSVSink{W: &buf}).Write(nil, ""); err != nil {
			t.Fatalf("Write: %v", err)
		}
		if !strings.HasPrefix(buf.String(), "run_id,position,lodge") {
			t.Errorf("unexpected output %q", buf.String())
		}
	})
}

func TestXLSXSink(t *testing.T) {
	var buf bytes.Buffer
	if err := (&XLSXSink{W: &buf}).Write(Records(sampleReport()), "沒有任何可申請入園的時段"); err != nil {
		t.Fatalf("Write: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open xlsx: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(cellsSheet)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("expected 5 rows, got %d", len(rows))
	}
	if rows[1][4] != "108-06-14" {
		t.Errorf("unexpected roc date %q", rows[1][4])
	}
	if rows[4][0] != "沒有任何可申請入園的時段" {
		t.Errorf("unexpected summary row %v", rows[4])
	}

	detail, err := f.GetRows(detailSheet)
	if err != nil {
		t.Fatalf("GetRows detail: %v", err)
	}
	if len(detail) != 3 || detail[0][2] != "序號" || detail[2][3] != "3" {
		t.Errorf("unexpected detail rows %v", detail)
	}
}

func TestForPath(t *testing.T) {
	var buf bytes.Buffer
	if s, err := ForPath("out.CSV", &buf); err != nil {
		t.Errorf("unexpected error: %v", err)
	} else if _, ok := s.(*CSVSink); !ok {
		t.Errorf("expected CSVSink, got %T", s)
	}
	if s, _ := ForPath("out.xlsx", &buf); s == nil {
		t.Error("expected XLSXSink")
	}
	if _, err := ForPath("out.json", &buf); err == nil {
		t.Error("expected an error")
	}
}
