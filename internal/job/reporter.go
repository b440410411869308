package job

import (
	"fmt"
	"math"
	"time"
)

const unknownError = "Unknown download error"

// Reporter is the only writer of a job's progress, status and outcome. It is
// bound to one job id and looks the job up through the registry on every call.
type Reporter struct {
	id       string
	registry *Registry
	now      func() time.Time
}

// Reporter returns the reporter bound to id.
func (r *Registry) Reporter(id string) *Reporter {
	return &Reporter{id: id, registry: r, now: r.now}
}

// JobID returns the id the reporter is bound to.
func (p *Reporter) JobID() string {
	return p.id
}

// ReportProgress records a progress update and marks the job running. percent is
// clamped into [0,100] and never decreases while the job is active. Terminal jobs
// are left untouched and ErrTerminal is returned.
func (p *Reporter) ReportProgress(percent float64, eta, rate, message string) error {
	return p.registry.Mutate(p.id, func(j *Job) error {
		if j.Status.IsTerminal() {
			return ErrTerminal
		}

		percent = clampPercent(percent)
		if j.Status.IsActive() && percent < j.Progress.Percent {
			percent = j.Progress.Percent
		}

		j.Status = StatusRunning
		j.Progress = Progress{
			Percent: percent,
			ETA:     eta,
			Rate:    rate,
			Message: message,
		}

		return nil
	})
}

// ReportPhase moves the job into a non-terminal phase without touching the
// numeric progress.
func (p *Reporter) ReportPhase(phase Status) error {
	if phase.IsTerminal() || !phase.Valid() {
		return fmt.Errorf("%w: %q is not a reportable phase", ErrInvalidTransition, phase)
	}

	return p.registry.Mutate(p.id, func(j *Job) error {
		if j.Status.IsTerminal() {
			return ErrTerminal
		}

		if !CanTransition(j.Status, phase) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, phase)
		}

		j.Status = phase

		switch phase {
		case StatusRunning:
			if j.Progress.Message == "" || j.Progress.Message == "Queued" {
				j.Progress.Message = "Starting"
			}
		case StatusPostProcessing:
			j.Progress.Message = "Post-processing"
		}

		return nil
	})
}

// ReportTerminal completes or fails the job exactly once. Later calls return
// ErrTerminal and leave the first outcome in place.
func (p *Reporter) ReportTerminal(o Outcome) error {
	return p.registry.Mutate(p.id, func(j *Job) error {
		if j.Status.IsTerminal() {
			return ErrTerminal
		}

		ended := p.now().UTC()
		j.EndedAt = &ended
		j.Progress.ETA = ""
		j.Progress.Rate = ""

		if o.Result != nil && o.Err == "" {
			info := *o.Result
			info.FileName = BaseName(info.FileName)

			if info.FileName != "" {
				j.Status = StatusCompleted
				j.Result = &info
				j.Error = ""
				j.Progress.Percent = 100
				j.Progress.Message = "Completed"

				return nil
			}

			o.Err = (&UnresolvedPathError{Tried: []string{"result"}}).Error()
		}

		if o.Err == "" {
			o.Err = unknownError
		}

		j.Status = StatusFailed
		j.Result = nil
		j.Error = o.Err
		j.Progress.Message = "Failed"

		return nil
	})
}

func clampPercent(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
