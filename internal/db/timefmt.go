package db

import "time"

// TimeLayout is the stored timestamp format. It is fixed width and always UTC,
// so comparing stored values as text orders them chronologically.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func ParseTime(s string) (time.Time, error) {
	return time.Parse(TimeLayout, s)
}
