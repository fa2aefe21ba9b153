package pool

import (
	"context"
	"fmt"

	"github.com/mattjoyce/typepool/internal/protocol"
	"github.com/mattjoyce/typepool/internal/queue"
)

//go:generate mockgen -destination=mocks/mock_spawner.go -package=mocks github.com/mattjoyce/typepool/internal/pool Spawner

// State is a worker's availability.
type State int

const (
	Idle State = iota
	Busy
)

func (s State) String() string {
	if s == Busy {
		return "busy"
	}
	return "idle"
}

// Conn is the manager side of a worker's duplex channel.
type Conn interface {
	Send(msg protocol.Message) error
	Available() (int, error)
	Receive() (protocol.Message, error)
	Close() error
}

// Process is a running worker subprocess.
type Process interface {
	Pid() int
	Wait() error
	Kill() error
}

// Spawner starts one worker for jobType wired to a fresh channel.
type Spawner interface {
	Spawn(ctx context.Context, jobType protocol.JobType) (Conn, Process, error)
}

// Descriptor is one worker slot. It exclusively owns its channel and process.
type Descriptor struct {
	ID    int
	Name  string
	Type  protocol.JobType
	State State

	conn Conn
	proc Process

	inflight *queue.Job
	hungUp   bool   // last readiness wait saw the response pipe close
	wedged   string // reason the worker is no longer polled or dispatched to
}

// WorkerInfo is a read-only copy of a Descriptor.
type WorkerInfo struct {
	ID       int
	Name     string
	Type     protocol.JobType
	State    State
	PID      int
	InFlight *queue.Job
	Wedged   string
}

// StartupError reports a channel or process creation failure. It is fatal to the run.
type StartupError struct {
	JobType  protocol.JobType
	Instance int
	Err      error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("start worker %d of type %d: %v", e.Instance, e.JobType, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

// TransportError is a failed or partial read/write on one worker's channel.
// It never escalates beyond that worker.
type TransportError struct {
	Worker string
	Op     string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("worker %s: %s: %v", e.Worker, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
