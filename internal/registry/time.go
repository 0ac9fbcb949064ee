package registry

import (
	"time"

	"github.com/araddon/dateparse"
)

var sqlTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// parseSQLTime reads the textual timestamp forms produced by the supported
// drivers. Values are returned in UTC.
func parseSQLTime(s string) (time.Time, error) {
	for _, l := range sqlTimeLayouts {
		if ts, err := time.Parse(l, s); err == nil {
			return ts.UTC(), nil
		}
	}
	ts, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}
