package events

// Event types published by the pool manager.
const (
	PoolStarted          = "pool.started"
	PoolDrained          = "pool.drained"
	PoolStopped          = "pool.stopped"
	WorkerSpawned        = "worker.spawned"
	WorkerHangup         = "worker.hangup"
	WorkerTransportError = "worker.transport_error"
	WorkerExited         = "worker.exited"
	JobDispatched        = "job.dispatched"
	JobCompleted         = "job.completed"
	JobSendFailed        = "job.send_failed"
)

// WorkerPayload describes one worker slot.
type WorkerPayload struct {
	Worker  int    `json:"worker"`
	Name    string `json:"name"`
	JobType int    `json:"job_type"`
	PID     int    `json:"pid,omitempty"`
	State   string `json:"state,omitempty"`
	Error   string `json:"error,omitempty"`
}

// JobPayload describes a job moving through a worker.
type JobPayload struct {
	JobID    string `json:"job_id"`
	JobType  int    `json:"job_type"`
	Duration int32  `json:"duration"`
	Worker   int    `json:"worker"`
	Name     string `json:"name"`
	PID      int    `json:"pid,omitempty"`
	Queued   int    `json:"queued"`
	Error    string `json:"error,omitempty"`
}

// PoolPayload summarizes the pool at a lifecycle edge.
type PoolPayload struct {
	RunID     string `json:"run_id"`
	Workers   int    `json:"workers"`
	Queued    int    `json:"queued"`
	Completed int    `json:"completed"`
	Busy      int    `json:"busy"`
	Reason    string `json:"reason,omitempty"`
}
