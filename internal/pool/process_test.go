//go:build linux || darwin

package pool_test

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/typepool/internal/events"
	"github.com/mattjoyce/typepool/internal/pool"
	"github.com/mattjoyce/typepool/internal/protocol"
	"github.com/mattjoyce/typepool/internal/queue"
	"github.com/mattjoyce/typepool/internal/worker"
)

const testUnit = 5 * time.Millisecond

// TestMain doubles as the worker binary: the pool re-executes the test binary in the worker role.
func TestMain(m *testing.M) {
	if len(os.Args) > 2 && os.Args[1] == "worker" {
		os.Exit(workerMain(os.Args[2:]))
	}
	os.Exit(m.Run())
}

func workerMain(args []string) int {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	unit := fs.Duration("unit", time.Second, "")
	_ = fs.String("log-level", "info", "")
	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}
	if _, err := strconv.Atoi(args[0]); err != nil {
		return 1
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := worker.Run(context.Background(), os.Stdin, os.Stdout, worker.SleepExecutor{Unit: *unit}, logger); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	return 0
}

// recordingProcess keeps the exit status seen by the pool's teardown.
type recordingProcess struct {
	pool.Process
	waitErr chan error
}

func (p *recordingProcess) Wait() error {
	err := p.Process.Wait()
	p.waitErr <- err
	return err
}

type recordingSpawner struct {
	inner *pool.ExecSpawner
	procs []*recordingProcess
}

func (s *recordingSpawner) Spawn(ctx context.Context, jobType protocol.JobType) (pool.Conn, pool.Process, error) {
	conn, proc, err := s.inner.Spawn(ctx, jobType)
	if err != nil {
		return nil, nil, err
	}
	rp := &recordingProcess{Process: proc, waitErr: make(chan error, 1)}
	s.procs = append(s.procs, rp)
	return conn, rp, nil
}

func startProcessPool(t *testing.T, workers map[protocol.JobType]int) (*pool.Pool, *recordingSpawner, *events.Hub) {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)

	spawner := &recordingSpawner{inner: &pool.ExecSpawner{Path: exe, Unit: testUnit, Stderr: io.Discard}}
	hub := events.NewHub(1024)
	logger, _ := testLogger()
	p := pool.New(pool.Options{
		Workers: workers,
		Spawner: spawner,
		Events:  hub,
		Logger:  logger,
		RunID:   t.Name(),
	})
	require.NoError(t, p.Start(context.Background()))
	return p, spawner, hub
}

func TestProcessPoolSingleJob(t *testing.T) {
	p, spawner, hub := startProcessPool(t, map[protocol.JobType]int{1: 1})

	q := queue.New(jobs(t, queue.Spec{Type: 1, Duration: 2})...)
	require.NoError(t, p.Run(context.Background(), q))

	completed := jobEvents(t, hub, events.JobCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, int32(2), completed[0].Duration)

	require.NoError(t, p.Shutdown())
	assert.NoError(t, <-spawner.procs[0].waitErr, "worker exits 0 after the sentinel")
}

func TestProcessPoolFourthJobReusesFreedWorker(t *testing.T) {
	p, _, hub := startProcessPool(t, map[protocol.JobType]int{2: 3})
	defer func() { require.NoError(t, p.Shutdown()) }()

	q := queue.New(jobs(t,
		queue.Spec{Type: 2, Duration: 4},
		queue.Spec{Type: 2, Duration: 4},
		queue.Spec{Type: 2, Duration: 4},
		queue.Spec{Type: 2, Duration: 4},
	)...)
	require.NoError(t, p.Run(context.Background(), q))

	dispatchIDs := eventIDs(hub, events.JobDispatched)
	completeIDs := eventIDs(hub, events.JobCompleted)
	require.Len(t, dispatchIDs, 4)
	require.Len(t, completeIDs, 4)
	assert.Less(t, dispatchIDs[2], completeIDs[0])
	assert.Greater(t, dispatchIDs[3], completeIDs[0])

	dispatched := jobEvents(t, hub, events.JobDispatched)
	names := map[string]bool{}
	for _, d := range dispatched[:3] {
		names[d.Name] = true
	}
	assert.Len(t, names, 3, "first three jobs go to distinct workers")
}

func TestProcessPoolReferenceRun(t *testing.T) {
	p, spawner, hub := startProcessPool(t, map[protocol.JobType]int{1: 1, 2: 3, 3: 1, 4: 1, 5: 1})

	require.NoError(t, p.Run(context.Background(), queue.New(queue.Reference()...)))

	completed := jobEvents(t, hub, events.JobCompleted)
	require.Len(t, completed, 7)
	var total int32
	for _, c := range completed {
		total += c.Duration
	}
	assert.Equal(t, int32(3+5+2+7+1+1+5), total)

	require.NoError(t, p.Shutdown())
	for _, rp := range spawner.procs {
		assert.NoError(t, <-rp.waitErr)
	}
}

func TestProcessPoolIdleSentinel(t *testing.T) {
	p, spawner, _ := startProcessPool(t, map[protocol.JobType]int{3: 2})

	require.NoError(t, p.Run(context.Background(), queue.New()))
	require.NoError(t, p.Shutdown())
	for _, rp := range spawner.procs {
		assert.NoError(t, <-rp.waitErr)
	}
}

func TestProcessPoolKilledWorkerStaysBusy(t *testing.T) {
	p, spawner, hub := startProcessPool(t, map[protocol.JobType]int{1: 1, 2: 2})

	sub, unsubscribe := hub.Subscribe(64)
	defer unsubscribe()
	go func() {
		for ev := range sub {
			if ev.Type != events.JobDispatched {
				continue
			}
			var payload events.JobPayload
			if ev.Decode(&payload) == nil && payload.JobType == 1 {
				_ = syscall.Kill(payload.PID, syscall.SIGKILL)
				return
			}
		}
	}()

	q := queue.New(jobs(t,
		queue.Spec{Type: 1, Duration: 200},
		queue.Spec{Type: 2, Duration: 1},
		queue.Spec{Type: 2, Duration: 1},
		queue.Spec{Type: 2, Duration: 1},
	)...)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	err := p.Run(ctx, q)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "the killed worker keeps the run from draining")

	completed := jobEvents(t, hub, events.JobCompleted)
	require.Len(t, completed, 3)
	for _, c := range completed {
		assert.Equal(t, 2, c.JobType)
	}

	ws := p.Workers()
	assert.Equal(t, pool.Busy, ws[0].State)
	assert.Equal(t, "hangup", ws[0].Wedged)
	assert.Len(t, eventIDs(hub, events.WorkerHangup), 1)

	require.NoError(t, p.Shutdown())
	assert.Error(t, <-spawner.procs[0].waitErr, "killed worker reports its signal")
	for _, rp := range spawner.procs[1:] {
		assert.NoError(t, <-rp.waitErr)
	}
}

func TestProcessPoolStallsWithoutMatchingWorker(t *testing.T) {
	p, _, hub := startProcessPool(t, map[protocol.JobType]int{1: 1})
	defer func() { require.NoError(t, p.Shutdown()) }()

	q := queue.New(jobs(t, queue.Spec{Type: 4, Duration: 1}, queue.Spec{Type: 1, Duration: 1})...)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, p.Run(ctx, q), context.DeadlineExceeded)
	assert.Equal(t, 2, q.Len())
	assert.Empty(t, eventIDs(hub, events.JobDispatched))
}
