package events

import (
	"sort"
	"sync"
	"time"
)

// WorkerView is the last known state of one worker slot.
type WorkerView struct {
	Worker   int    `json:"worker"`
	Name     string `json:"name"`
	JobType  int    `json:"job_type"`
	PID      int    `json:"pid"`
	State    string `json:"state"`
	JobID    string `json:"job_id,omitempty"`
	Duration int32  `json:"duration,omitempty"`
	Jobs     int    `json:"jobs"`
	Fault    string `json:"fault,omitempty"`
	Exited   bool   `json:"exited"`
}

// Snapshot is a point-in-time view of a run reconstructed from events.
type Snapshot struct {
	RunID      string       `json:"run_id"`
	Phase      string       `json:"phase"`
	Queued     int          `json:"queued"`
	Dispatched int          `json:"dispatched"`
	Completed  int          `json:"completed"`
	Busy       int          `json:"busy"`
	LastEvent  int64        `json:"last_event_id"`
	UpdatedAt  time.Time    `json:"updated_at"`
	Workers    []WorkerView `json:"workers"`
}

// Run phases.
const (
	PhaseStarting = "starting"
	PhaseRunning  = "running"
	PhaseDrained  = "drained"
	PhaseStopped  = "stopped"
)

// Tracker folds events into a Snapshot. The dispatch loop owns the real worker table; readers
// in other goroutines (status API, terminal views) see it only through this copy.
type Tracker struct {
	mu      sync.RWMutex
	snap    Snapshot
	workers map[int]*WorkerView
}

// NewTracker returns an empty tracker in the starting phase.
func NewTracker() *Tracker {
	return &Tracker{
		snap:    Snapshot{Phase: PhaseStarting},
		workers: make(map[int]*WorkerView),
	}
}

// Apply folds one event into the snapshot. Undecodable events are ignored.
func (t *Tracker) Apply(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ev.ID > t.snap.LastEvent {
		t.snap.LastEvent = ev.ID
	}
	t.snap.UpdatedAt = ev.At

	switch ev.Type {
	case PoolStarted, PoolDrained, PoolStopped:
		var p PoolPayload
		if ev.Decode(&p) != nil {
			return
		}
		if p.RunID != "" {
			t.snap.RunID = p.RunID
		}
		switch ev.Type {
		case PoolStarted:
			t.snap.Phase = PhaseRunning
		case PoolDrained:
			t.snap.Phase = PhaseDrained
			t.snap.Queued = p.Queued
		case PoolStopped:
			t.snap.Phase = PhaseStopped
			t.snap.Queued = p.Queued
		}

	case WorkerSpawned, WorkerHangup, WorkerTransportError, WorkerExited:
		var p WorkerPayload
		if ev.Decode(&p) != nil {
			return
		}
		w := t.worker(p.Worker, p.Name, p.JobType)
		if p.PID != 0 {
			w.PID = p.PID
		}
		switch ev.Type {
		case WorkerSpawned:
			w.State = "idle"
		case WorkerHangup, WorkerTransportError:
			w.Fault = p.Error
		case WorkerExited:
			w.Exited = true
		}

	case JobDispatched, JobCompleted, JobSendFailed:
		var p JobPayload
		if ev.Decode(&p) != nil {
			return
		}
		w := t.worker(p.Worker, p.Name, p.JobType)
		switch ev.Type {
		case JobDispatched:
			w.State = "busy"
			w.JobID = p.JobID
			w.Duration = p.Duration
			t.snap.Dispatched++
			t.snap.Queued = p.Queued
		case JobCompleted:
			w.State = "idle"
			w.JobID = ""
			w.Duration = 0
			w.Jobs++
			t.snap.Completed++
		case JobSendFailed:
			w.Fault = p.Error
			t.snap.Queued = p.Queued
		}
	}

	busy := 0
	for _, w := range t.workers {
		if w.State == "busy" {
			busy++
		}
	}
	t.snap.Busy = busy
}

func (t *Tracker) worker(id int, name string, jobType int) *WorkerView {
	w, ok := t.workers[id]
	if !ok {
		w = &WorkerView{Worker: id, Name: name, JobType: jobType}
		t.workers[id] = w
	}
	return w
}

// Snapshot returns a copy of the current view, workers in dispatch order.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := t.snap
	out.Workers = make([]WorkerView, 0, len(t.workers))
	for _, w := range t.workers {
		out.Workers = append(out.Workers, *w)
	}
	sort.Slice(out.Workers, func(i, j int) bool { return out.Workers[i].Worker < out.Workers[j].Worker })
	return out
}

// Follow applies events from ch until it closes or done is closed.
func (t *Tracker) Follow(ch <-chan Event, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			t.Apply(ev)
		}
	}
}
