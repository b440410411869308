package job

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Observer is notified with a snapshot after every committed change. Observers run
// in the goroutine that made the change, after all locks are released.
type Observer interface {
	JobChanged(j Job)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(j Job)

func (f ObserverFunc) JobChanged(j Job) { f(j) }

// Registry is the concurrent store of all jobs, keyed by id. Mutations of the same
// job are serialized by a per-job lock; different jobs never contend beyond the
// brief map lookup.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry

	newID     func() string
	now       func() time.Time
	observers []Observer
}

type entry struct {
	mu  sync.Mutex
	job Job
}

// Option configures a Registry.
type Option func(*Registry)

// WithIDGenerator overrides the uuid based id generator.
func WithIDGenerator(fn func() string) Option {
	return func(r *Registry) { r.newID = fn }
}

// WithClock overrides time.Now.
func WithClock(fn func() time.Time) Option {
	return func(r *Registry) { r.now = fn }
}

// WithObserver registers an observer for committed changes.
func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observers = append(r.observers, o) }
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
		newID:   func() string { return uuid.New().String() },
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Create inserts a queued job for req and returns its id. Ids are never reused.
func (r *Registry) Create(req Request) string {
	r.mu.Lock()

	id := r.newID()
	for _, exists := r.entries[id]; exists; _, exists = r.entries[id] {
		id = r.newID()
	}

	e := &entry{job: Job{
		ID:        id,
		Request:   req,
		Status:    StatusQueued,
		Progress:  Progress{Message: "Queued"},
		StartedAt: r.now().UTC(),
	}}
	r.entries[id] = e
	snapshot := e.job.Clone()

	r.mu.Unlock()

	r.notify(snapshot)

	return id
}

// Get returns a consistent snapshot of the job, or false for an unknown id.
func (r *Registry) Get(id string) (Job, bool) {
	e, ok := r.lookup(id)
	if !ok {
		return Job{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.job.Clone(), true
}

// Mutate applies fn to a copy of the job and commits the copy only when fn
// returns nil, so readers never observe a half-applied change. It returns
// ErrNotFound for unknown ids and fn's error otherwise.
func (r *Registry) Mutate(id string, fn func(j *Job) error) error {
	e, ok := r.lookup(id)
	if !ok {
		return ErrNotFound
	}

	e.mu.Lock()

	next := e.job.Clone()
	if err := fn(&next); err != nil {
		e.mu.Unlock()

		return err
	}

	e.job = next
	snapshot := next.Clone()

	e.mu.Unlock()

	r.notify(snapshot)

	return nil
}

// Len returns the number of jobs ever created.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}

// CountActive returns how many jobs are queued or running.
func (r *Registry) CountActive() int {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	active := 0

	for _, e := range entries {
		e.mu.Lock()
		if !e.job.Status.IsTerminal() {
			active++
		}
		e.mu.Unlock()
	}

	return active
}

func (r *Registry) lookup(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]

	return e, ok
}

func (r *Registry) notify(j Job) {
	for _, o := range r.observers {
		o.JobChanged(j.Clone())
	}
}
