package progress

import "sync"

// Throttle forwards percent updates to OnProgress at most once per Step
// percentage points. The first update and 100% are always forwarded.
type Throttle struct {
	Step       float64
	OnProgress func(percent float64)

	mu       sync.Mutex
	last     float64
	reported bool
}

func NewThrottle(step float64, cb func(percent float64)) *Throttle {
	return &Throttle{Step: step, OnProgress: cb}
}

// Update records percent and reports it when it moved far enough since the last report.
func (t *Throttle) Update(percent float64) {
	t.mu.Lock()

	report := !t.reported ||
		percent-t.last >= t.Step ||
		(percent >= 100 && t.last < 100)

	if report {
		t.last = percent
		t.reported = true
	}

	t.mu.Unlock()

	if report && t.OnProgress != nil {
		t.OnProgress(percent)
	}
}
