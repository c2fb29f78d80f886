package extract

import (
	"strings"
	"time"
)

type layout struct {
	format   string
	withYear bool
}

// Tried in order.
var captureLayouts = []layout{
	{format: "January 2, 2006 3:04 PM", withYear: true},
	{format: "January 2, 3:04 PM 2006", withYear: true},
	{format: "January 2, 3:04 PM", withYear: false},
	{format: "Jan 2, 2006 3:04 PM", withYear: true},
	{format: "01/02/2006 3:04 PM", withYear: true},
}

// ParseCaptureTime parses the upstream timestamp text in now's location.
//
// Layouts without a year take now's year, or the previous year when that
// would place the capture in the future. When nothing matches it returns now
// and false.
func ParseCaptureTime(raw string, now time.Time) (time.Time, bool) {
	normalized := strings.Join(strings.Fields(raw), " ")
	if normalized == "" {
		return now, false
	}
	loc := now.Location()
	for _, l := range captureLayouts {
		parsed, err := time.ParseInLocation(l.format, normalized, loc)
		if err != nil {
			continue
		}
		if l.withYear {
			return parsed, true
		}
		return anchorYear(parsed, now), true
	}
	return now, false
}

func anchorYear(parsed, now time.Time) time.Time {
	at := func(year int) time.Time {
		return time.Date(year, parsed.Month(), parsed.Day(), parsed.Hour(), parsed.Minute(), 0, 0, now.Location())
	}
	t := at(now.Year())
	if t.After(now) {
		t = at(now.Year() - 1)
	}
	return t
}
