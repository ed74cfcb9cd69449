package park

import (
	"fmt"
	"time"
)

// ROCOffset is the difference between the Gregorian and the Republic of
// China (Minguo) year.
const ROCOffset = 1911

// Taipei is the fixed +08:00 zone the reservation sites run in.
var Taipei = time.FixedZone("CST", 8*60*60)

// FormatROC renders a date as the Minguo token the reservation pages expect,
// e.g. 2019-06-14 becomes "108-06-14".
func FormatROC(t time.Time) string {
	return fmt.Sprintf("%d-%02d-%02d", t.Year()-ROCOffset, int(t.Month()), t.Day())
}

// ParseROC is the inverse of FormatROC. The result is midnight in Taipei.
func ParseROC(s string) (time.Time, error) {
	var y, m, d int
	if _, err := fmt.Sscanf(s, "%d-%d-%d", &y, &m, &d); err != nil {
		return time.Time{}, fmt.Errorf("parse roc date %q: %w", s, err)
	}
	if y < 1 || m < 1 || m > 12 || d < 1 || d > 31 {
		return time.Time{}, fmt.Errorf("parse roc date %q: out of range", s)
	}
	t := time.Date(y+ROCOffset, time.Month(m), d, 0, 0, 0, 0, Taipei)
	if t.Day() != d {
		return time.Time{}, fmt.Errorf("parse roc date %q: no such day", s)
	}
	return t, nil
}
