package appointment

import (
	"context"
	"fmt"
)

// WithinWindows reports whether t falls inside any window. Windows may be
// unsorted or overlapping, so each one is checked on its own.
func WithinWindows(windows []Window, t TimeOfDay) bool {
	for _, w := range windows {
		if w.Contains(t) {
			return true
		}
	}
	return false
}

// ValidateAvailability checks that the doctor opened a window on date that
// contains at. It returns ErrDateUnavailable, ErrTimeUnavailable or an error
// wrapping ErrUpstreamUnavailable when the availability store failed.
func (s *Service) ValidateAvailability(ctx context.Context, doctorID, date string, at TimeOfDay) error {
	var windows []Window
	err := s.retryRead(ctx, "availability", func(callCtx context.Context) error {
		var err error
		windows, err = s.availability.Windows(callCtx, doctorID, date)
		return err
	})
	if err != nil {
		return fmt.Errorf("fetch availability: %w: %w", ErrUpstreamUnavailable, err)
	}

	if len(windows) == 0 {
		return ErrDateUnavailable
	}
	if !WithinWindows(windows, at) {
		return ErrTimeUnavailable
	}
	return nil
}
