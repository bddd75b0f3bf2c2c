package catalog

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EntryWindow restricts when a strategy may enter: allowed weekdays plus an
// intraday window in exchange-local time. Open and Close are minutes since
// midnight; Close is inclusive. An empty Days list means any weekday,
// never a weekend. Windows deliberately start after the open so no strategy
// trades into the opening gap.
type EntryWindow struct {
	Days  []time.Weekday `json:"days"`
	Open  int            `json:"open"`
	Close int            `json:"close"`
}

// Contains reports whether t (converted to loc) falls on an allowed weekday
// inside the intraday window.
func (w EntryWindow) Contains(t time.Time, loc *time.Location) bool {
	local := t.In(loc)
	if !w.dayAllowed(local.Weekday()) {
		return false
	}
	minute := local.Hour()*60 + local.Minute()
	return minute >= w.Open && minute <= w.Close
}

func (w EntryWindow) dayAllowed(day time.Weekday) bool {
	if day == time.Saturday || day == time.Sunday {
		return false
	}
	if len(w.Days) == 0 {
		return true
	}
	for _, d := range w.Days {
		if d == day {
			return true
		}
	}
	return false
}

// String renders the window in config notation, e.g. "Fri 10:30-14:30".
func (w EntryWindow) String() string {
	days := "Mon-Fri"
	if len(w.Days) > 0 {
		names := make([]string, len(w.Days))
		for i, d := range w.Days {
			names[i] = d.String()[:3]
		}
		days = strings.Join(names, ",")
	}
	return fmt.Sprintf("%s %02d:%02d-%02d:%02d", days, w.Open/60, w.Open%60, w.Close/60, w.Close%60)
}

// ParseWindow parses "10:30-14:30" into open/close minutes.
func ParseWindow(s string) (open, close int, err error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("window %q must be HH:MM-HH:MM", s)
	}
	open, err = ParseClock(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("window %q: %w", s, err)
	}
	close, err = ParseClock(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("window %q: %w", s, err)
	}
	if close <= open {
		return 0, 0, fmt.Errorf("window %q closes before it opens", s)
	}
	return open, close, nil
}

// ParseClock parses "HH:MM" into minutes since midnight.
func ParseClock(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("clock %q must be HH:MM", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("bad hour in %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("bad minute in %q", s)
	}
	return hour*60 + minute, nil
}

// ParseDays parses short weekday names ("Mon", "Tue", ...). An empty list
// is allowed and means any weekday.
func ParseDays(names []string) ([]time.Weekday, error) {
	lookup := map[string]time.Weekday{
		"mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
		"thu": time.Thursday, "fri": time.Friday,
	}
	out := make([]time.Weekday, 0, len(names))
	for _, n := range names {
		d, ok := lookup[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return nil, fmt.Errorf("unknown entry day %q (weekends are never entry days)", n)
		}
		out = append(out, d)
	}
	return out, nil
}
