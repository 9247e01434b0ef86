package timequery

import (
	"fmt"
	"time"
)

// naiveLayouts are ISO 8601 datetimes without a zone, read as UTC.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseInstant reads a query instant. RFC 3339 timestamps keep their offset;
// datetimes without one are taken as UTC. The result is always in UTC.
func ParseInstant(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid instant %q: want RFC 3339 or YYYY-MM-DDTHH:MM:SS", s)
}
