package dedupe

import "time"

// Option applies a configuration option to the Detector.
type Option func(*Detector)

// WithWindow sets the maximum start-time gap between duplicates.
// Non-positive values keep the default.
func WithWindow(window time.Duration) Option {
	return func(d *Detector) {
		if window > 0 {
			d.window = window
		}
	}
}

// WithThreshold sets the minimum similarity for a duplicate.
// Values outside (0, 1] keep the default.
func WithThreshold(threshold float64) Option {
	return func(d *Detector) {
		if threshold > 0 && threshold <= 1 {
			d.threshold = threshold
		}
	}
}
