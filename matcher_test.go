package worker

import (
	"errors"
	"testing"
	"time"

	"permitcheck.dev/worker/park"
)

// matrix builds a matrix from rows written as "1" for Available and "0" for
// Unavailable, one character per date.
func matrix(start time.Time, checkout time.Time, rows ...string) Matrix {
	m := Matrix{Checkout: checkout}
	if len(rows) > 0 {
		for i := range rows[0] {
			m.Dates = append(m.Dates, start.AddDate(0, 0, i))
		}
	}
	for r, s := range rows {
		row := Row{LodgeID: string(rune('a' + r)), LodgeName: string(rune('A' + r))}
		for _, c := range s {
			status := park.Unavailable
			if c == '1' {
				status = park.Available
			}
			row.Results = append(row.Results, park.Result{Status: status})
		}
		m.Rows = append(m.Rows, row)
	}
	return m
}

func windowIndexes(ws []Window) []int {
	out := make([]int, len(ws))
	for i, w := range ws {
		out[i] = w.Index
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestComputeWindows(t *testing.T) {
	start := day(2019, time.June, 10)

	t.Run("two lodge diagonal", func(t *testing.T) {
		m := matrix(start, day(2019, time.June, 16), "110110", "101101")
		ws, err := ComputeWindows(m, false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := windowIndexes(ws); !equalInts(got, []int{1, 4}) {
			t.Fatalf("windows = %v, want [1 4]", got)
		}
		if !ws[0].Start.Equal(day(2019, time.June, 11)) || !ws[0].Checkout.Equal(day(2019, time.June, 13)) {
			t.Errorf("window 1 = %s..%s", ws[0].Start.Format(time.DateOnly), ws[0].Checkout.Format(time.DateOnly))
		}
		if !ws[1].Checkout.Equal(day(2019, time.June, 16)) {
			t.Errorf("last window checkout = %s", ws[1].Checkout.Format(time.DateOnly))
		}
		if len(ws[1].Lodges) != 2 || ws[1].Lodges[0] != "A" || ws[1].Lodges[1] != "B" {
			t.Errorf("lodges = %v", ws[1].Lodges)
		}
	})

	t.Run("single lodge returns available dates", func(t *testing.T) {
		ws, err := ComputeWindows(matrix(start, time.Time{}, "10110"), false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := windowIndexes(ws); !equalInts(got, []int{0, 2, 3}) {
			t.Errorf("windows = %v", got)
		}
	})

	t.Run("as many dates as lodges has one candidate", func(t *testing.T) {
		ws, _ := ComputeWindows(matrix(start, time.Time{}, "11", "11"), false)
		if got := windowIndexes(ws); !equalInts(got, []int{0}) {
			t.Errorf("windows = %v", got)
		}
	})

	t.Run("fewer dates than lodges has none", func(t *testing.T) {
		ws, err := ComputeWindows(matrix(start, time.Time{}, "1", "1"), false)
		if err != nil || len(ws) != 0 {
			t.Errorf("expected no windows, got %v (%v)", ws, err)
		}
	})

	t.Run("non available statuses never match", func(t *testing.T) {
		m := matrix(start, time.Time{}, "11")
		m.Rows[0].Results[0].Status = park.NotOpen
		m.Rows[0].Results[1].Status = park.Undecided
		ws, _ := ComputeWindows(m, false)
		if len(ws) != 0 {
			t.Errorf("expected no windows, got %v", windowIndexes(ws))
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		m := matrix(start, time.Time{}, "110110", "101101")
		a, _ := ComputeWindows(m, false)
		b, _ := ComputeWindows(m, false)
		if !equalInts(windowIndexes(a), windowIndexes(b)) {
			t.Error("results differ between calls")
		}
	})

	t.Run("misaligned rows", func(t *testing.T) {
		m := matrix(start, time.Time{}, "111", "11")
		if _, err := ComputeWindows(m, false); !errors.Is(err, ErrMatrixMisaligned) {
			t.Errorf("expected ErrMatrixMisaligned, got %v", err)
		}
	})

	t.Run("retained drops windows spanning skipped days", func(t *testing.T) {
		// Thu 2019-07-11, Sun 14, Mon 15, Tue 16 with Fri and Sat skipped.
		m := matrix(start, day(2019, time.July, 17), "1111", "1111")
		m.Dates = []time.Time{day(2019, time.July, 11), day(2019, time.July, 14), day(2019, time.July, 15), day(2019, time.July, 16)}
		ws, err := ComputeWindows(m, true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := windowIndexes(ws); !equalInts(got, []int{1, 2}) {
			t.Errorf("windows = %v, want [1 2]", got)
		}

		all, _ := ComputeWindows(m, false)
		if len(all) != 3 {
			t.Errorf("without retained expected 3 windows, got %d", len(all))
		}
	})

	t.Run("retained gap across the year boundary", func(t *testing.T) {
		m := matrix(start, day(2020, time.January, 2), "111", "111")
		m.Dates = []time.Time{day(2019, time.December, 30), day(2019, time.December, 31), day(2020, time.January, 1)}
		ws, _ := ComputeWindows(m, true)
		if got := windowIndexes(ws); !equalInts(got, []int{0, 1}) {
			t.Errorf("windows = %v, want [0 1]", got)
		}
	})

	t.Run("retained single lodge is not filtered", func(t *testing.T) {
		m := matrix(start, day(2019, time.July, 15), "11")
		m.Dates = []time.Time{day(2019, time.July, 11), day(2019, time.July, 14)}
		ws, _ := ComputeWindows(m, true)
		if len(ws) != 2 {
			t.Errorf("expected 2 windows, got %d", len(ws))
		}
	})
}

func TestSummary(t *testing.T) {
	if got := Summary(3, nil); got != "沒有任何可申請入園的時段" {
		t.Errorf("Summary(nil) = %q", got)
	}
	if got := Summary(3, make([]Window, 2)); got != "隊伍3人，共2個時段可申請入園" {
		t.Errorf("Summary = %q", got)
	}
	w := Window{Start: day(2019, time.June, 14)}
	if got := w.Line(); got != "2019-06-14 尚可申請入園" {
		t.Errorf("Line = %q", got)
	}
}
