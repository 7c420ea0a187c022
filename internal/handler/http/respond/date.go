package respond

import "time"

// Date renders calendar dates as YYYY-MM-DD and anything with a clock
// component as RFC 3339. The zero time renders as "".
func Date(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	utc := t.UTC()
	if utc.Equal(utc.Truncate(24 * time.Hour)) {
		return utc.Format(time.DateOnly)
	}
	return t.Format(time.RFC3339)
}
