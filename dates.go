package worker

import (
	"errors"
	"fmt"
	"time"

	"permitcheck.dev/worker/park"
)

// ErrMalformedDateRange is returned for a date range the sites cannot be
// queried with. The run stops before any fetch.
var ErrMalformedDateRange = errors.New("malformed date range")

// RangeRequest is the user supplied part of a date range.
type RangeRequest struct {
	Start         time.Time // zero when not given
	End           time.Time // zero when not given
	Lodges        int       // itinerary length
	TeamSize      int
	CheckRetained bool
}

// DateRange is the resolved set of dates to query.
type DateRange struct {
	Start time.Time
	End   time.Time
	// Dates are all days from Start through End, minus skipped weekdays.
	Dates []time.Time
	// Nights are the dates to check. With a team size the last date is the
	// checkout day and not a night.
	Nights []time.Time
	// Checkout follows the last night. Zero when no team size was given.
	Checkout time.Time
	// Defaulted is set when the range was chosen because none was given.
	Defaulted bool
}

// Today returns the current date in Taipei.
func Today() time.Time {
	return Midnight(time.Now())
}

// Midnight truncates t to the start of its day in Taipei.
func Midnight(t time.Time) time.Time {
	t = t.In(park.Taipei)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, park.Taipei)
}

// ParseDate reads a YYYY-MM-DD date as a Taipei date. A ROC date as the
// park pages print it, such as 108-06-14, is accepted too.
func ParseDate(s string) (time.Time, error) {
	if t, err := time.ParseInLocation(time.DateOnly, s, park.Taipei); err == nil {
		return t, nil
	}
	if t, err := park.ParseROC(s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: incorrect date %q, should be YYYY-MM-DD", ErrMalformedDateRange, s)
}

// DaysBetween counts calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	ua := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	ub := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}

// Enumerate lists the days from start through end inclusive, leaving out the
// days skip reports.
func Enumerate(start, end time.Time, skip func(time.Time) bool) []time.Time {
	var dates []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if skip != nil && skip(d) {
			continue
		}
		dates = append(dates, d)
	}
	return dates
}

// FridayOrSaturday reports the weekdays that carry no retained foreign quota.
func FridayOrSaturday(t time.Time) bool {
	return t.Weekday() == time.Friday || t.Weekday() == time.Saturday
}

// RetainedWindow returns the dates the retained foreign quota can be applied
// for.
func RetainedWindow(today time.Time) (from, through time.Time) {
	today = Midnight(today)
	return today.AddDate(0, 0, RetainedWindowFrom), today.AddDate(0, 0, RetainedWindowThrough)
}

// BuildRange resolves a RangeRequest against today.
func BuildRange(req RangeRequest, today time.Time) (DateRange, error) {
	today = Midnight(today)
	start, end := req.Start, req.End
	if !start.IsZero() {
		start = Midnight(start)
	}
	if !end.IsZero() {
		end = Midnight(end)
	}

	r := DateRange{}
	if req.CheckRetained {
		from, through := RetainedWindow(today)
		if (!start.IsZero() && start.Before(from)) || (!end.IsZero() && end.After(through)) {
			return r, fmt.Errorf("%w: 外籍保留名額可申請日期為：%s 到 %s",
				ErrMalformedDateRange, from.Format(time.DateOnly), through.Format(time.DateOnly))
		}
	}

	switch {
	case !start.IsZero() && !end.IsZero():
		if DaysBetween(start, end) < req.Lodges {
			return r, fmt.Errorf("%w: 您輸入了%d個山屋/營地名稱，請至少以%d天行程來查詢床位",
				ErrMalformedDateRange, req.Lodges, req.Lodges+1)
		}
	case start.IsZero() && end.IsZero():
		if req.CheckRetained {
			start, end = RetainedWindow(today)
		} else {
			start = today.AddDate(0, 0, EarliestQueryDays)
			end = today.AddDate(0, 0, DefaultRangeEndDays)
		}
		r.Defaulted = true
	case !start.IsZero():
		if req.TeamSize > 0 {
			end = start.AddDate(0, 0, req.Lodges)
		}
	default:
		return r, fmt.Errorf("%w: 請選擇入園日期、下山日期、隊伍人數來查詢可申請時段", ErrMalformedDateRange)
	}

	if start.Before(today.AddDate(0, 0, EarliestQueryDays)) {
		return r, fmt.Errorf("%w: 僅提供%d日以後申請案之進度查詢", ErrMalformedDateRange, EarliestQueryDays)
	}

	r.Start, r.End = start, end
	if end.IsZero() {
		r.Dates = []time.Time{start}
		r.Nights = r.Dates
		return r, nil
	}
	if !end.After(start) {
		return r, fmt.Errorf("%w: 欲查詢的結束日期必須在開始日期之後", ErrMalformedDateRange)
	}

	var skip func(time.Time) bool
	if req.TeamSize > 0 && req.CheckRetained {
		skip = FridayOrSaturday
	}
	r.Dates = Enumerate(start, end, skip)
	if len(r.Dates) == 0 {
		return r, fmt.Errorf("%w: no queryable dates between %s and %s",
			ErrMalformedDateRange, start.Format(time.DateOnly), end.Format(time.DateOnly))
	}

	r.Nights = r.Dates
	if req.TeamSize > 0 {
		last := len(r.Dates) - 1
		r.Nights = r.Dates[:last]
		r.Checkout = r.Dates[last]
	}
	return r, nil
}
