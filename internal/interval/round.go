package interval

import (
	"math"
	"time"
)

// RoundToNearest snaps t to the nearest multiple of step counted from the
// Unix epoch, at millisecond resolution. Halves round away from zero. The
// step must be a positive whole number of milliseconds.
func RoundToNearest(t time.Time, step time.Duration) (time.Time, error) {
	if step < time.Millisecond || step%time.Millisecond != 0 {
		return time.Time{}, ErrInvalidStep
	}
	stepMs := step.Milliseconds()
	ms, err := RoundValue(float64(t.UnixMilli()), float64(stepMs))
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(int64(ms)).In(t.Location()), nil
}

// RoundValue returns round(x/step)*step with halves rounded away from zero.
func RoundValue(x, step float64) (float64, error) {
	if !(step > 0) {
		return 0, ErrInvalidStep
	}
	return math.Round(x/step) * step, nil
}
