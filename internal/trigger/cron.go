package trigger

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// cronSpec is a parsed standard 5-field UNIX cron expression:
// minute hour day-of-month month day-of-week. Each field is a bitset of
// the legal values for that position. This is the adopted dialect per
// SPEC_FULL.md §7.2.
type cronSpec struct {
	minute  [60]bool
	hour    [24]bool
	dom     [32]bool
	month   [13]bool
	dow     [7]bool
}

func parseCron(expr string) (*cronSpec, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("trigger: cron expression must have 5 fields, got %d", len(fields))
	}
	spec := &cronSpec{}
	if err := parseField(fields[0], 0, 59, spec.minute[:]); err != nil {
		return nil, fmt.Errorf("trigger: cron minute field: %w", err)
	}
	if err := parseField(fields[1], 0, 23, spec.hour[:]); err != nil {
		return nil, fmt.Errorf("trigger: cron hour field: %w", err)
	}
	if err := parseField(fields[2], 1, 31, spec.dom[:]); err != nil {
		return nil, fmt.Errorf("trigger: cron day-of-month field: %w", err)
	}
	if err := parseField(fields[3], 1, 12, spec.month[:]); err != nil {
		return nil, fmt.Errorf("trigger: cron month field: %w", err)
	}
	if err := parseField(fields[4], 0, 6, spec.dow[:]); err != nil {
		return nil, fmt.Errorf("trigger: cron day-of-week field: %w", err)
	}
	return spec, nil
}

// parseField sets bits[v] = true for every v in [lo, hi] matched by field.
// Supports "*", "a-b", "a,b,c", "*/n", and "a-b/n".
func parseField(field string, lo, hi int, bits []bool) error {
	for _, part := range strings.Split(field, ",") {
		if err := parseRangePart(part, lo, hi, bits); err != nil {
			return err
		}
	}
	return nil
}

func parseRangePart(part string, lo, hi int, bits []bool) error {
	step := 1
	rangeExpr := part
	if idx := strings.IndexByte(part, '/'); idx >= 0 {
		rangeExpr = part[:idx]
		s, err := strconv.Atoi(part[idx+1:])
		if err != nil || s <= 0 {
			return fmt.Errorf("invalid step in %q", part)
		}
		step = s
	}

	start, end := lo, hi
	if rangeExpr != "*" {
		if dash := strings.IndexByte(rangeExpr, '-'); dash >= 0 {
			a, err1 := strconv.Atoi(rangeExpr[:dash])
			b, err2 := strconv.Atoi(rangeExpr[dash+1:])
			if err1 != nil || err2 != nil || a < lo || b > hi || a > b {
				return fmt.Errorf("invalid range %q", rangeExpr)
			}
			start, end = a, b
		} else {
			v, err := strconv.Atoi(rangeExpr)
			if err != nil || v < lo || v > hi {
				return fmt.Errorf("invalid value %q", rangeExpr)
			}
			start, end = v, v
		}
	}
	for v := start; v <= end; v += step {
		bits[v] = true
	}
	return nil
}

// Matches reports whether t (already converted to the trigger's
// timezone, truncated to the minute boundary) satisfies spec.
func (s *cronSpec) Matches(t time.Time) bool {
	return s.minute[t.Minute()] &&
		s.hour[t.Hour()] &&
		s.dom[t.Day()] &&
		s.month[int(t.Month())] &&
		s.dow[int(t.Weekday())]
}
