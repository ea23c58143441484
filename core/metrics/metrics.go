// Package metrics defines the instrument interfaces the notification core
// reports through. Backends such as adapters/prometheus implement them; the
// Nop variants keep instrumentation optional.
package metrics

import "time"

// Histogram samples observations (e.g., latencies) and counts them in
// configurable buckets.
type Histogram interface {
	// Observe adds a single observation to the histogram.
	Observe(value float64)
}

// Timer measures the duration of an operation. Call ObserveDuration when
// the operation completes to record the elapsed time.
type Timer interface {
	// ObserveDuration records the elapsed time since the timer was created.
	ObserveDuration()
}

// Since returns a Timer that observes the seconds elapsed from start into h.
func Since(h Histogram, start time.Time) Timer {
	return histogramTimer{h: h, start: start}
}

type histogramTimer struct {
	h     Histogram
	start time.Time
}

func (t histogramTimer) ObserveDuration() { t.h.Observe(time.Since(t.start).Seconds()) }
