package appointment

import (
	"fmt"
	"time"
)

const (
	DateLayout = "2006-01-02"

	instantLayout        = "2006-01-02T15:04:05"
	instantLayoutMinutes = "2006-01-02T15:04"
)

var (
	instantLayouts   = []string{instantLayout, instantLayoutMinutes}
	timeOfDayLayouts = []string{"15:04:05", "15:04"}
)

// TimeOfDay is the wall clock offset from midnight.
type TimeOfDay time.Duration

// endOfDay closes a window that runs until midnight.
const endOfDay = TimeOfDay(24 * time.Hour)

// ParseTimeOfDay accepts HH:MM or HH:MM:SS and nothing else.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	for _, layout := range timeOfDayLayouts {
		if len(s) != len(layout) {
			continue
		}
		t, err := time.Parse(layout, s)
		if err != nil {
			break
		}
		return ClockOf(t), nil
	}
	return 0, fmt.Errorf("%w: time of day %q must be HH:MM or HH:MM:SS", ErrInvalidInput, s)
}

// ParseInstant parses the canonical date-time profile YYYY-MM-DDTHH:MM[:SS].
// Space separators, zones and fractional seconds are rejected rather than
// reinterpreted.
func ParseInstant(s string) (time.Time, error) {
	for _, layout := range instantLayouts {
		if len(s) != len(layout) {
			continue
		}
		t, err := time.Parse(layout, s)
		if err != nil {
			break
		}
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: start %q must be YYYY-MM-DDTHH:MM[:SS]", ErrInvalidInput, s)
}

// ParseDate validates a YYYY-MM-DD date key.
func ParseDate(s string) (string, error) {
	if len(s) != len(DateLayout) {
		return "", fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrInvalidInput, s)
	}
	if _, err := time.Parse(DateLayout, s); err != nil {
		return "", fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrInvalidInput, s)
	}
	return s, nil
}

// DateKey is the first ten characters of the canonical profile.
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}

// FormatInstant renders t in the canonical profile with seconds.
func FormatInstant(t time.Time) string {
	return t.Format(instantLayout)
}

func ClockOf(t time.Time) TimeOfDay {
	h, m, s := t.Clock()
	return TimeOfDay(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second)
}

func (t TimeOfDay) String() string {
	d := time.Duration(t)
	return fmt.Sprintf("%02d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

// Short renders HH:MM.
func (t TimeOfDay) Short() string {
	return t.String()[:5]
}

func (w Window) validate() error {
	if w.Start < 0 || w.End > endOfDay || w.Start >= w.End {
		return fmt.Errorf("%w: window %s-%s must start before it ends", ErrInvalidInput, w.Start, w.End)
	}
	return nil
}
