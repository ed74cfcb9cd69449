package worker

import (
	"errors"
	"fmt"
	"time"

	"permitcheck.dev/worker/park"
)

// ErrMatrixMisaligned is returned when a row does not hold one result per
// date.
var ErrMatrixMisaligned = errors.New("availability matrix misaligned")

// Row is one itinerary position: the lodge slept in on night k of the trip
// is row k.
type Row struct {
	LodgeID   string
	LodgeName string
	Results   []park.Result
}

// Matrix holds the results of a run. Results[i] of every row belongs to
// Dates[i].
type Matrix struct {
	Dates []time.Time
	// Checkout is the day after the last date, zero if unknown.
	Checkout time.Time
	Rows     []Row
}

// Validate checks that every row is aligned with Dates.
func (m Matrix) Validate() error {
	for i, row := range m.Rows {
		if len(row.Results) != len(m.Dates) {
			return fmt.Errorf("%w: row %d (%s) has %d results for %d dates",
				ErrMatrixMisaligned, i, row.LodgeName, len(row.Results), len(m.Dates))
		}
	}
	return nil
}

// Window is one feasible start date of the itinerary.
type Window struct {
	Index    int
	Start    time.Time
	Checkout time.Time
	Nights   []time.Time
	Lodges   []string
}

func (w Window) Line() string {
	return fmt.Sprintf("%s 尚可申請入園", w.Start.Format(time.DateOnly))
}

// ComputeWindows returns every start index n for which row a is available on
// date n+a for all rows. With checkRetained and more than one lodge, windows
// whose nights span more real days than there are lodges are dropped, which
// happens when Fridays and Saturdays were skipped.
func ComputeWindows(m Matrix, checkRetained bool) ([]Window, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	L, D := len(m.Rows), len(m.Dates)
	if L == 0 {
		return nil, nil
	}

	var windows []Window
	for n := 0; n+L <= D; n++ {
		feasible := true
		for a := 0; a < L; a++ {
			if m.Rows[a].Results[n+a].Status != park.Available {
				feasible = false
				break
			}
		}
		if !feasible {
			continue
		}

		checkout := m.checkout(n + L)
		if checkRetained && L > 1 && DaysBetween(m.Dates[n], checkout) > L {
			continue
		}

		w := Window{
			Index:    n,
			Start:    m.Dates[n],
			Checkout: checkout,
			Nights:   append([]time.Time(nil), m.Dates[n:n+L]...),
			Lodges:   make([]string, L),
		}
		for a, row := range m.Rows {
			w.Lodges[a] = row.LodgeName
		}
		windows = append(windows, w)
	}
	return windows, nil
}

// checkout returns the date at index i, or the day after the last night.
func (m Matrix) checkout(i int) time.Time {
	if i < len(m.Dates) {
		return m.Dates[i]
	}
	if !m.Checkout.IsZero() {
		return m.Checkout
	}
	return m.Dates[len(m.Dates)-1].AddDate(0, 0, 1)
}

// Summary is the final line of a run.
func Summary(teamSize int, windows []Window) string {
	if len(windows) == 0 {
		return "沒有任何可申請入園的時段"
	}
	return fmt.Sprintf("隊伍%d人，共%d個時段可申請入園", teamSize, len(windows))
}
