// Package pool implements the worker pool manager: it spawns one long-lived subprocess per
// configured worker slot, routes jobs to the first idle worker of matching type, detects
// completions by polling each busy worker's channel, and shuts the pool down with the sentinel.
//
// Dispatch loop, per iteration:
//   - drain streamed jobs into the queue (never blocks)
//   - poll every busy worker; a full response record marks it idle
//   - look only at the queue front and hand it to the first idle worker of its type
//   - stop once the queue is exhausted and every worker is idle
//   - otherwise wait for any busy channel to become readable, at most PollInterval
//
// The queue is strictly FIFO: a front job with no idle worker of its type blocks everything
// behind it, and a job type with zero workers blocks the queue forever.
//
// Failure handling:
//   - any spawn failure aborts Start and tears down workers already spawned
//   - transport failures on one worker are logged; that worker is left in its last known
//     state (a busy worker stays busy for the rest of the run). No timeout, no requeue.
//
// The worker table and the queue are touched only by the goroutine running Run, Start and
// Shutdown; none of them are safe for concurrent use. Observers use the event hub.
package pool
