package fhir

import (
	"fmt"
	"strings"
	"time"
)

// DatePrecision records how much of a timestamp a FHIR date literal pinned
// down. Everything below the stated precision is an implicit range.
type DatePrecision int

const (
	PrecisionYear DatePrecision = iota
	PrecisionMonth
	PrecisionDay
	PrecisionMinute
	PrecisionSecond
	PrecisionSubsecond
)

// DateInterval is the closed range a FHIR date/dateTime/instant literal
// denotes under its precision. Lo is what scalar date columns store.
type DateInterval struct {
	Lo        time.Time
	Hi        time.Time
	Precision DatePrecision
}

// columnStep is one microsecond, the resolution of a TIMESTAMPTZ column.
const columnStep = time.Microsecond

// ParseDateInterval parses the FHIR date family (date, dateTime, instant,
// time) into its implied interval. Zoneless values are taken as UTC. Bare
// times are anchored on the epoch date so they remain comparable.
func ParseDateInterval(s string) (DateInterval, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DateInterval{}, fmt.Errorf("empty date")
	}

	if !strings.Contains(s, "-") && strings.Contains(s, ":") {
		// Bare time literal.
		for _, layout := range []string{"15:04:05.999999999", "15:04:05", "15:04"} {
			if t, err := time.Parse(layout, s); err == nil {
				anchored := time.Date(1970, 1, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
				prec := PrecisionSecond
				if !strings.Contains(s, ".") && strings.Count(s, ":") == 1 {
					prec = PrecisionMinute
				} else if strings.Contains(s, ".") {
					prec = PrecisionSubsecond
				}
				return intervalAt(anchored, prec), nil
			}
		}
		return DateInterval{}, fmt.Errorf("cannot parse time %q", s)
	}

	type layoutPrec struct {
		layout string
		prec   DatePrecision
	}
	layouts := []layoutPrec{
		{time.RFC3339Nano, PrecisionSubsecond},
		{"2006-01-02T15:04:05Z07:00", PrecisionSecond},
		{"2006-01-02T15:04:05", PrecisionSecond},
		{"2006-01-02T15:04Z07:00", PrecisionMinute},
		{"2006-01-02T15:04", PrecisionMinute},
		{"2006-01-02", PrecisionDay},
		{"2006-01", PrecisionMonth},
		{"2006", PrecisionYear},
	}
	for _, lp := range layouts {
		t, err := time.Parse(lp.layout, s)
		if err != nil {
			continue
		}
		prec := lp.prec
		if lp.layout == time.RFC3339Nano && !strings.Contains(s, ".") {
			prec = PrecisionSecond
		}
		return intervalAt(t.UTC(), prec), nil
	}
	return DateInterval{}, fmt.Errorf("cannot parse date %q", s)
}

func intervalAt(lo time.Time, prec DatePrecision) DateInterval {
	var hi time.Time
	switch prec {
	case PrecisionYear:
		hi = lo.AddDate(1, 0, 0).Add(-columnStep)
	case PrecisionMonth:
		hi = lo.AddDate(0, 1, 0).Add(-columnStep)
	case PrecisionDay:
		hi = lo.AddDate(0, 0, 1).Add(-columnStep)
	case PrecisionMinute:
		hi = lo.Add(time.Minute - columnStep)
	case PrecisionSecond:
		hi = lo.Add(time.Second - columnStep)
	default:
		hi = lo
	}
	return DateInterval{Lo: lo, Hi: hi, Precision: prec}
}

// FormatInstant renders a timestamp the way meta.lastUpdated is stored.
func FormatInstant(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseInstant parses a stored instant back into a timestamp.
func ParseInstant(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("cannot parse instant %q: %w", s, err)
	}
	return t, nil
}
