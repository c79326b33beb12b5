package seats

import (
	"sync"
	"sync/atomic"
	"time"
)

// JobHandle tracks progress of a long-running batch job. Counters are
// atomic so readers never block the job.
type JobHandle struct {
	running   atomic.Bool
	total     atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64

	mu         sync.RWMutex
	name       string
	current    string
	startedAt  time.Time
	finishedAt time.Time
	lastErr    string
}

// JobStatus is a point-in-time snapshot of a JobHandle.
type JobStatus struct {
	Name       string     `json:"name"`
	Running    bool       `json:"running"`
	Total      int64      `json:"total"`
	Completed  int64      `json:"completed"`
	Failed     int64      `json:"failed"`
	Current    string     `json:"current,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

// NewJobHandle creates an idle handle.
func NewJobHandle(name string) *JobHandle {
	return &JobHandle{name: name}
}

// Begin marks the job running. It returns false if it already is.
func (j *JobHandle) Begin(total int, now time.Time) bool {
	if !j.running.CompareAndSwap(false, true) {
		return false
	}
	j.total.Store(int64(total))
	j.completed.Store(0)
	j.failed.Store(0)

	j.mu.Lock()
	j.current = ""
	j.startedAt = now
	j.finishedAt = time.Time{}
	j.lastErr = ""
	j.mu.Unlock()
	return true
}

// SetTotal updates the expected item count once it is known.
func (j *JobHandle) SetTotal(total int) {
	j.total.Store(int64(total))
}

// Start records the item being worked on.
func (j *JobHandle) Start(item string) {
	j.mu.Lock()
	j.current = item
	j.mu.Unlock()
}

// Done records a finished item.
func (j *JobHandle) Done(err error) {
	j.completed.Add(1)
	if err != nil {
		j.failed.Add(1)
		j.mu.Lock()
		j.lastErr = err.Error()
		j.mu.Unlock()
	}
}

// Finish marks the job idle.
func (j *JobHandle) Finish(now time.Time) {
	j.mu.Lock()
	j.current = ""
	j.finishedAt = now
	j.mu.Unlock()
	j.running.Store(false)
}

// Running reports whether the job is in progress.
func (j *JobHandle) Running() bool {
	return j.running.Load()
}

// Status returns a snapshot.
func (j *JobHandle) Status() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()

	st := JobStatus{
		Name:      j.name,
		Running:   j.running.Load(),
		Total:     j.total.Load(),
		Completed: j.completed.Load(),
		Failed:    j.failed.Load(),
		Current:   j.current,
		LastError: j.lastErr,
	}
	if !j.startedAt.IsZero() {
		t := j.startedAt
		st.StartedAt = &t
	}
	if !j.finishedAt.IsZero() {
		t := j.finishedAt
		st.FinishedAt = &t
	}
	return st
}
