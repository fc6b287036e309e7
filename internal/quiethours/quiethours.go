// Package quiethours decides whether a recipient's local wall-clock time
// falls inside a configured quiet window.
package quiethours

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Guard holds a parsed quiet window. Windows with start > end wrap past
// midnight. Equal boundaries describe an empty window.
type Guard struct {
	start int // minutes since midnight
	end   int
	loc   *time.Location
}

// New parses "HH:MM" boundaries. A nil loc means time.Local.
func New(startLocal, endLocal string, loc *time.Location) (*Guard, error) {
	start, err := parseMinutes(startLocal)
	if err != nil {
		return nil, fmt.Errorf("quiet hours start: %w", err)
	}
	end, err := parseMinutes(endLocal)
	if err != nil {
		return nil, fmt.Errorf("quiet hours end: %w", err)
	}
	if loc == nil {
		loc = time.Local
	}
	return &Guard{start: start, end: end, loc: loc}, nil
}

// IsQuiet reports whether localTime ("HH:MM", seconds ignored) is inside
// the window. Empty or unparsable input is never quiet.
func (g *Guard) IsQuiet(localTime string) bool {
	if localTime == "" {
		return false
	}
	m, err := parseMinutes(localTime)
	if err != nil {
		return false
	}
	if g.start <= g.end {
		return m >= g.start && m < g.end
	}
	return m >= g.start || m < g.end
}

// NextWindow returns the next occurrence of the window end, in the guard's
// location, strictly after now.
func (g *Guard) NextWindow(now time.Time) time.Time {
	local := now.In(g.loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), g.end/60, g.end%60, 0, 0, g.loc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func parseMinutes(value string) (int, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time %q: want HH:MM", value)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", value)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", value)
	}
	return h*60 + m, nil
}
