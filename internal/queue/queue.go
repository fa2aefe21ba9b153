package queue

// Queue is the strictly FIFO job queue. It is owned by the dispatch loop and is not safe for
// concurrent use; producers that run concurrently hand jobs in through an intake channel.
type Queue struct {
	jobs   []Job
	intake <-chan Job
}

// New returns a closed queue holding jobs in order.
func New(jobs ...Job) *Queue {
	q := &Queue{jobs: make([]Job, 0, len(jobs))}
	q.jobs = append(q.jobs, jobs...)
	return q
}

// NewStream returns a queue that keeps accepting jobs from intake until it is closed.
func NewStream(intake <-chan Job, initial ...Job) *Queue {
	q := New(initial...)
	q.intake = intake
	return q
}

// Drain moves every job already waiting on the intake into the queue without blocking.
// It returns the number of jobs moved.
func (q *Queue) Drain() int {
	moved := 0
	for q.intake != nil {
		select {
		case j, ok := <-q.intake:
			if !ok {
				q.intake = nil
				return moved
			}
			q.jobs = append(q.jobs, j)
			moved++
		default:
			return moved
		}
	}
	return moved
}

// Front returns the oldest job without removing it.
func (q *Queue) Front() (Job, bool) {
	if len(q.jobs) == 0 {
		return Job{}, false
	}
	return q.jobs[0], true
}

// Pop removes and returns the oldest job.
func (q *Queue) Pop() (Job, bool) {
	if len(q.jobs) == 0 {
		return Job{}, false
	}
	j := q.jobs[0]
	q.jobs[0] = Job{}
	q.jobs = q.jobs[1:]
	return j, true
}

// Len is the number of jobs currently queued.
func (q *Queue) Len() int {
	return len(q.jobs)
}

// Open reports whether more jobs may still arrive on the intake.
func (q *Queue) Open() bool {
	return q.intake != nil
}

// Exhausted reports whether the queue is empty and no more jobs can arrive.
func (q *Queue) Exhausted() bool {
	return len(q.jobs) == 0 && q.intake == nil
}

// Snapshot returns a copy of the queued jobs in order.
func (q *Queue) Snapshot() []Job {
	out := make([]Job, len(q.jobs))
	copy(out, q.jobs)
	return out
}
