package job

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued         Status = "queued"
	StatusRunning        Status = "running"
	StatusPostProcessing Status = "post_processing"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
)

// running and post_processing share a rank: a multi-file download may go back
// and forth between them, but never below running once it has started.
var statusRank = map[Status]int{
	StatusQueued:         0,
	StatusRunning:        1,
	StatusPostProcessing: 1,
	StatusCompleted:      2,
	StatusFailed:         2,
}

var allowedTransitions = map[Status]map[Status]bool{
	StatusQueued: {
		StatusRunning:        true,
		StatusPostProcessing: true,
		StatusFailed:         true,
	},
	StatusRunning: {
		StatusRunning:        true,
		StatusPostProcessing: true,
		StatusCompleted:      true,
		StatusFailed:         true,
	},
	StatusPostProcessing: {
		StatusPostProcessing: true,
		StatusRunning:        true,
		StatusCompleted:      true,
		StatusFailed:         true,
	},
	StatusCompleted: {},
	StatusFailed:    {},
}

func (s Status) String() string {
	return string(s)
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// IsTerminal returns true for completed and failed jobs. Terminal jobs are never mutated again.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsActive returns true while a work unit is driving the job.
func (s Status) IsActive() bool {
	return s == StatusRunning || s == StatusPostProcessing
}

// Rank orders statuses as queued < running = post_processing < completed = failed.
func (s Status) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}

	return -1
}

// CanTransition reports whether a job in status from may move to status to.
func CanTransition(from, to Status) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}

	return next[to]
}
