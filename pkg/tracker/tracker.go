// Package tracker keeps the in-memory progress record of every deployment.
package tracker

import (
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/davidthor/vmprov/pkg/iac"
)

// Status is a deployment's position in its lifecycle.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusGenerating   Status = "generating"
	StatusDeploying    Status = "deploying"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// Progress reported for each status.
var defaultProgress = map[Status]int{
	StatusInitializing: 0,
	StatusGenerating:   20,
	StatusDeploying:    40,
	StatusCompleted:    100,
	StatusFailed:       0,
}

// rank orders the non-failed statuses; failed may follow any of them.
var rank = map[Status]int{
	StatusInitializing: 0,
	StatusGenerating:   1,
	StatusDeploying:    2,
	StatusCompleted:    3,
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// DefaultProgress returns the progress value associated with a status.
func (s Status) DefaultProgress() int {
	return defaultProgress[s]
}

// ErrNotFound is returned for unknown deployment ids.
var ErrNotFound = stderrors.New("deployment not found")

// ErrInvalidTransition is returned when a transition would move a record
// backwards or out of a terminal state.
var ErrInvalidTransition = stderrors.New("invalid status transition")

// ErrorDetail describes why a deployment failed.
type ErrorDetail struct {
	Stage   string              `json:"stage,omitempty"`
	Reason  string              `json:"reason"`
	Outcome *iac.CommandOutcome `json:"outcome,omitempty"`
}

// Record is the full progress record of one deployment.
type Record struct {
	ID        string                     `json:"deployment_id"`
	Status    Status                     `json:"status"`
	Progress  int                        `json:"progress"`
	Message   string                     `json:"message"`
	StartTime time.Time                  `json:"start_time"`
	EndTime   *time.Time                 `json:"end_time,omitempty"`
	Outputs   map[string]iac.OutputValue `json:"outputs,omitempty"`
	Error     *ErrorDetail               `json:"error_details,omitempty"`
}

// Summary returns the list view of the record.
func (r Record) Summary() Summary {
	return Summary{
		ID:        r.ID,
		Status:    r.Status,
		Progress:  r.Progress,
		Message:   r.Message,
		StartTime: r.StartTime,
		EndTime:   r.EndTime,
	}
}

// Summary is the list view of a record.
type Summary struct {
	ID        string     `json:"deployment_id"`
	Status    Status     `json:"status"`
	Progress  int        `json:"progress"`
	Message   string     `json:"message"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}

// Transition is a requested status change. Progress defaults to the status
// progress when nil.
type Transition struct {
	Status   Status
	Progress *int
	Message  string
	Outputs  map[string]iac.OutputValue
	Error    *ErrorDetail
}

// Observer is told about every accepted transition, after it is visible to
// readers. Observers must not call back into the tracker synchronously.
type Observer func(prev Status, rec Record)

// Tracker maps deployment ids to records. Records are replaced, never
// mutated in place, so a reader always sees a whole transition.
type Tracker struct {
	mu        sync.RWMutex
	records   map[string]*Record
	observers []Observer
	now       func() time.Time
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

// Observe registers an observer. Register observers before use.
func (t *Tracker) Observe(o Observer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, o)
}

// Register creates an initializing record.
func (t *Tracker) Register(id, message string) (Record, error) {
	rec := &Record{
		ID:        id,
		Status:    StatusInitializing,
		Progress:  0,
		Message:   message,
		StartTime: t.now(),
	}

	t.mu.Lock()
	if _, exists := t.records[id]; exists {
		t.mu.Unlock()
		return Record{}, fmt.Errorf("deployment %s already registered", id)
	}
	t.records[id] = rec
	observers := t.observers
	t.mu.Unlock()

	out := rec.clone()
	for _, o := range observers {
		o("", out)
	}
	return out, nil
}

// Advance applies a forward transition. Completed and failed records are
// final; failed may be entered from any other status.
func (t *Tracker) Advance(id string, tr Transition) (Record, error) {
	t.mu.Lock()
	cur, ok := t.records[id]
	if !ok {
		t.mu.Unlock()
		return Record{}, ErrNotFound
	}
	if err := checkTransition(cur, tr); err != nil {
		t.mu.Unlock()
		return Record{}, err
	}

	next := cur.clone()
	next.Status = tr.Status
	next.Progress = tr.Status.DefaultProgress()
	if tr.Progress != nil {
		next.Progress = *tr.Progress
	}
	if tr.Message != "" {
		next.Message = tr.Message
	}
	switch tr.Status {
	case StatusCompleted:
		next.Outputs = copyOutputs(tr.Outputs)
		if next.Outputs == nil {
			next.Outputs = map[string]iac.OutputValue{}
		}
	case StatusFailed:
		next.Error = tr.Error
	}
	if tr.Status.Terminal() {
		end := t.now()
		next.EndTime = &end
	}

	prev := cur.Status
	t.records[id] = &next
	observers := t.observers
	t.mu.Unlock()

	out := next.clone()
	for _, o := range observers {
		o(prev, out)
	}
	return out, nil
}

func checkTransition(cur *Record, tr Transition) error {
	if cur.Status.Terminal() {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, cur.Status)
	}
	if tr.Status == StatusFailed {
		return nil
	}
	to, known := rank[tr.Status]
	if !known {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, tr.Status)
	}
	// Statuses are entered one at a time, in order.
	if from := rank[cur.Status]; to != from && to != from+1 {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, tr.Status)
	}
	if tr.Progress != nil && tr.Status == cur.Status && *tr.Progress < cur.Progress {
		return fmt.Errorf("%w: progress may not decrease", ErrInvalidTransition)
	}
	return nil
}

// Get returns a copy of the record for id, or ErrNotFound.
func (t *Tracker) Get(id string) (Record, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec.clone(), nil
}

// List returns a summary of every record, in no particular order.
func (t *Tracker) List() []Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Summary, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, rec.Summary())
	}
	return out
}

// Count returns the number of records per status.
func (t *Tracker) Count() map[Status]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[Status]int)
	for _, rec := range t.records {
		out[rec.Status]++
	}
	return out
}

func (r *Record) clone() Record {
	out := *r
	if r.EndTime != nil {
		end := *r.EndTime
		out.EndTime = &end
	}
	out.Outputs = copyOutputs(r.Outputs)
	if r.Error != nil {
		detail := *r.Error
		if r.Error.Outcome != nil {
			outcome := *r.Error.Outcome
			detail.Outcome = &outcome
		}
		out.Error = &detail
	}
	return out
}

func copyOutputs(in map[string]iac.OutputValue) map[string]iac.OutputValue {
	if in == nil {
		return nil
	}
	out := make(map[string]iac.OutputValue, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
