package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/mattjoyce/typepool/internal/channel"
	"github.com/mattjoyce/typepool/internal/events"
	"github.com/mattjoyce/typepool/internal/log"
	"github.com/mattjoyce/typepool/internal/protocol"
	"github.com/mattjoyce/typepool/internal/queue"
)

// DefaultPollInterval caps how long one loop iteration waits for a completion.
const DefaultPollInterval = 10 * time.Millisecond

var (
	errNotStarted = errors.New("pool not started")
	errStopped    = errors.New("pool already shut down")
)

// Options configures a Pool.
type Options struct {
	// Workers maps each job type to its instance count. Types with count < 1 get no workers.
	Workers      map[protocol.JobType]int
	Spawner      Spawner
	PollInterval time.Duration
	Events       *events.Hub
	Logger       *slog.Logger
	RunID        string
}

// Pool owns the worker table and the dispatch loop.
type Pool struct {
	opts   Options
	logger *slog.Logger

	workers []*Descriptor

	started    bool
	stopped    bool
	dispatched int
	completed  int
	leftQueued int // jobs still queued when Run last returned

	stalledJobID string
}

// New creates a Pool. Nothing is spawned until Start.
func New(opts Options) *Pool {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithComponent("pool")
	}
	if opts.RunID != "" {
		logger = logger.With("run_id", opts.RunID)
	}
	return &Pool{opts: opts, logger: logger}
}

// Start spawns every configured worker, ascending by job type. Any failure tears down the
// workers spawned so far and returns a *StartupError.
func (p *Pool) Start(ctx context.Context) error {
	if p.started {
		return fmt.Errorf("start: pool already started")
	}
	if p.opts.Spawner == nil {
		return &StartupError{Err: fmt.Errorf("no spawner configured")}
	}

	for _, t := range sortedTypes(p.opts.Workers) {
		for i := 0; i < p.opts.Workers[t]; i++ {
			conn, proc, err := p.opts.Spawner.Spawn(ctx, t)
			if err != nil {
				p.logger.Error("worker spawn failed, aborting startup", "job_type", int(t), "instance", i, "error", err)
				_ = p.teardown(true)
				p.stopped = true
				return &StartupError{JobType: t, Instance: i, Err: err}
			}
			d := &Descriptor{
				ID:    len(p.workers),
				Name:  fmt.Sprintf("type%d#%d", t, i),
				Type:  t,
				State: Idle,
				conn:  conn,
				proc:  proc,
			}
			p.workers = append(p.workers, d)
			p.logger.Info("worker spawned", "worker", d.Name, "job_type", int(t), "pid", proc.Pid())
			p.emit(events.WorkerSpawned, p.workerPayload(d, ""))
		}
	}

	p.started = true
	p.emit(events.PoolStarted, p.poolPayload(0, ""))
	return nil
}

// Run dispatches q until it is exhausted and every worker is idle, or ctx is done.
// Cancelling ctx stops dispatching; it does not interrupt jobs already running.
func (p *Pool) Run(ctx context.Context, q *queue.Queue) error {
	if !p.started {
		return errNotStarted
	}
	if p.stopped {
		return errStopped
	}

	for {
		q.Drain()
		p.poll()
		p.dispatch(q)

		if q.Exhausted() && p.busyCount() == 0 {
			p.leftQueued = 0
			p.logger.Info("queue drained", "dispatched", p.dispatched, "completed", p.completed)
			p.emit(events.PoolDrained, p.poolPayload(q.Len(), ""))
			return nil
		}
		if err := ctx.Err(); err != nil {
			p.leftQueued = q.Len()
			p.logger.Warn("dispatch loop interrupted", "queued", q.Len(), "busy", p.busyCount(), "reason", err)
			return err
		}

		p.pause(ctx)
	}
}

// poll consumes one response from every busy worker that has a full record buffered.
func (p *Pool) poll() {
	for _, d := range p.workers {
		if d.State != Busy || d.wedged != "" {
			continue
		}

		n, err := d.conn.Available()
		if err != nil {
			p.transportFailure(d, "available", err)
			continue
		}
		if n < protocol.RecordSize {
			if d.hungUp {
				p.hangup(d, n)
			}
			continue
		}

		msg, err := d.conn.Receive()
		if err != nil {
			p.transportFailure(d, "receive", err)
			continue
		}
		job := d.inflight
		if job != nil && msg.Duration != job.Duration {
			p.transportFailure(d, "receive", fmt.Errorf("echoed duration %d for job of duration %d: %w",
				msg.Duration, job.Duration, protocol.ErrProtocolViolation))
			continue
		}

		d.State = Idle
		d.inflight = nil
		p.completed++

		payload := p.jobPayload(d, job, 0, "")
		payload.Duration = msg.Duration
		p.logger.Info("job completed", "worker", d.Name, "job_type", int(d.Type), "duration", msg.Duration)
		p.emit(events.JobCompleted, payload)
	}
}

// dispatch hands the front job to the first idle worker of its type, if any.
func (p *Pool) dispatch(q *queue.Queue) {
	job, ok := q.Front()
	if !ok {
		return
	}

	for _, d := range p.workers {
		if d.Type != job.Type || d.State != Idle || d.wedged != "" {
			continue
		}

		if err := d.conn.Send(protocol.Job(job.Duration)); err != nil {
			terr := &TransportError{Worker: d.Name, Op: "send", Err: err}
			p.logger.Error("send to worker failed", "job_id", job.ID, "error", terr)
			d.wedged = "send failed"
			p.emit(events.JobSendFailed, p.jobPayload(d, &job, q.Len(), err.Error()))
			continue
		}

		q.Pop()
		j := job
		d.State = Busy
		d.inflight = &j
		p.dispatched++
		p.stalledJobID = ""

		p.logger.Info("job dispatched", "job_id", job.ID, "worker", d.Name, "job_type", int(job.Type), "duration", job.Duration)
		p.emit(events.JobDispatched, p.jobPayload(d, &j, q.Len(), ""))
		return
	}

	if p.stalledJobID != job.ID {
		p.stalledJobID = job.ID
		p.logger.Debug("no idle worker for front job", "job_id", job.ID, "job_type", int(job.Type), "queued", q.Len())
	}
}

// pause waits until a busy worker's channel is readable, at most one poll interval.
func (p *Pool) pause(ctx context.Context) {
	var (
		links  []*channel.Duplex
		owners []*Descriptor
	)
	for _, d := range p.workers {
		if d.State != Busy || d.wedged != "" {
			continue
		}
		if link, ok := d.conn.(*channel.Duplex); ok {
			links = append(links, link)
			owners = append(owners, d)
		}
	}

	if len(links) == 0 {
		t := time.NewTimer(p.opts.PollInterval)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
		}
		return
	}

	res, err := channel.WaitReadable(links, p.opts.PollInterval)
	if err != nil {
		p.logger.Warn("readiness wait failed", "error", err)
		time.Sleep(p.opts.PollInterval)
		return
	}
	for i, d := range owners {
		if res.HungUp[i] {
			d.hungUp = true
		}
	}
}

func (p *Pool) transportFailure(d *Descriptor, op string, err error) {
	terr := &TransportError{Worker: d.Name, Op: op, Err: err}
	d.wedged = op + " failed"
	p.logger.Error("worker transport failure, leaving worker busy", "error", terr)
	p.emit(events.WorkerTransportError, p.workerPayload(d, terr.Error()))
}

func (p *Pool) hangup(d *Descriptor, pending int) {
	d.wedged = "hangup"
	p.logger.Error("worker channel closed mid-job, leaving worker busy", "worker", d.Name, "pending_bytes", pending)
	p.emit(events.WorkerHangup, p.workerPayload(d, "channel closed"))
}

// Shutdown sends the sentinel to every worker, then waits for each process and releases its
// channel. Send failures are tolerated. Response bytes still pending are not drained.
func (p *Pool) Shutdown() error {
	if p.stopped {
		return nil
	}
	p.stopped = true
	err := p.teardown(false)
	p.emit(events.PoolStopped, p.poolPayload(p.leftQueued, ""))
	return err
}

func (p *Pool) teardown(kill bool) error {
	for _, d := range p.workers {
		if err := d.conn.Send(protocol.Shutdown()); err != nil {
			p.logger.Warn("shutdown send failed", "worker", d.Name, "error", err)
		}
	}
	if kill {
		for _, d := range p.workers {
			_ = d.proc.Kill()
		}
	}

	var errs []error
	for _, d := range p.workers {
		if err := d.proc.Wait(); err != nil {
			p.logger.Warn("worker exited abnormally", "worker", d.Name, "pid", d.proc.Pid(), "error", err)
		} else {
			p.logger.Info("worker exited", "worker", d.Name, "pid", d.proc.Pid())
		}
		if n, err := d.conn.Available(); err == nil && n > 0 {
			p.logger.Warn("discarding undrained response bytes", "worker", d.Name, "bytes", n)
		}
		if err := d.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close channel of %s: %w", d.Name, err))
		}
		p.emit(events.WorkerExited, p.workerPayload(d, ""))
	}
	return errors.Join(errs...)
}

// Workers returns a snapshot of the worker table in dispatch order.
func (p *Pool) Workers() []WorkerInfo {
	out := make([]WorkerInfo, 0, len(p.workers))
	for _, d := range p.workers {
		info := WorkerInfo{
			ID:     d.ID,
			Name:   d.Name,
			Type:   d.Type,
			State:  d.State,
			PID:    d.proc.Pid(),
			Wedged: d.wedged,
		}
		if d.inflight != nil {
			j := *d.inflight
			info.InFlight = &j
		}
		out = append(out, info)
	}
	return out
}

// Stats returns how many jobs were dispatched and completed so far.
func (p *Pool) Stats() (dispatched, completed int) {
	return p.dispatched, p.completed
}

func (p *Pool) busyCount() int {
	n := 0
	for _, d := range p.workers {
		if d.State == Busy {
			n++
		}
	}
	return n
}

func (p *Pool) emit(eventType string, data any) {
	if p.opts.Events != nil {
		p.opts.Events.Publish(eventType, data)
	}
}

func (p *Pool) workerPayload(d *Descriptor, errMsg string) events.WorkerPayload {
	return events.WorkerPayload{
		Worker:  d.ID,
		Name:    d.Name,
		JobType: int(d.Type),
		PID:     d.proc.Pid(),
		State:   d.State.String(),
		Error:   errMsg,
	}
}

func (p *Pool) jobPayload(d *Descriptor, job *queue.Job, queued int, errMsg string) events.JobPayload {
	payload := events.JobPayload{
		JobType: int(d.Type),
		Worker:  d.ID,
		Name:    d.Name,
		PID:     d.proc.Pid(),
		Queued:  queued,
		Error:   errMsg,
	}
	if job != nil {
		payload.JobID = job.ID
		payload.Duration = job.Duration
	}
	return payload
}

func (p *Pool) poolPayload(queued int, reason string) events.PoolPayload {
	return events.PoolPayload{
		RunID:     p.opts.RunID,
		Workers:   len(p.workers),
		Queued:    queued,
		Completed: p.completed,
		Busy:      p.busyCount(),
		Reason:    reason,
	}
}

func sortedTypes(m map[protocol.JobType]int) []protocol.JobType {
	types := make([]protocol.JobType, 0, len(m))
	for t := range m {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
