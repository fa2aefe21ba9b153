package tui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/typepool/internal/events"
)

func TestPrinterLines(t *testing.T) {
	hub := events.NewHub(32)
	p := NewPrinter(&bytes.Buffer{}, true)

	tests := []struct {
		name string
		typ  string
		data any
		want string
	}{
		{"spawn", events.WorkerSpawned, events.WorkerPayload{Name: "type2#1", JobType: 2, PID: 44}, "spawned   type2#1 (type 2, pid 44)"},
		{"dispatch", events.JobDispatched, events.JobPayload{JobID: "0123abcd-ffff", JobType: 4, Duration: 7, Name: "type4#0", Queued: 3},
			"dispatch  job 0123abcd type 4 duration 7 -> type4#0 (3 queued)"},
		{"complete", events.JobCompleted, events.JobPayload{JobID: "ab", JobType: 1, Duration: 3, Name: "type1#0"}, "complete  job ab type 1 duration 3 on type1#0"},
		{"send failure", events.JobSendFailed, events.JobPayload{JobID: "ab", Name: "type1#0", Error: "broken pipe"}, "send fail job ab to type1#0: broken pipe"},
		{"hangup", events.WorkerHangup, events.WorkerPayload{Name: "type1#0", State: "busy"}, "hangup    type1#0 hung up while busy"},
		{"started", events.PoolStarted, events.PoolPayload{RunID: "r1", Workers: 7}, "started   7 workers ready (run r1)"},
		{"drained", events.PoolDrained, events.PoolPayload{Completed: 7}, "drained   7 jobs completed"},
		{"stopped", events.PoolStopped, events.PoolPayload{Workers: 7, Completed: 7}, "shutdown  sentinel sent to 7 workers, 7 completed"},
		{"unknown", "something.else", map[string]int{"x": 1}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := p.Line(hub.Publish(tt.typ, tt.data))
			if tt.want == "" {
				assert.Empty(t, line)
				return
			}
			assert.True(t, strings.HasPrefix(line, tt.want), "got %q", line)
		})
	}
}

func TestPrinterFollow(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, true)
	hub := events.NewHub(8)
	ch, cancel := hub.Subscribe(8)

	hub.Publish(events.WorkerSpawned, events.WorkerPayload{Name: "type1#0", JobType: 1, PID: 9})
	hub.Publish("ignored", nil)
	hub.Publish(events.PoolStopped, events.PoolPayload{Workers: 1})
	cancel()
	p.Follow(ch)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "spawned   type1#0")
	assert.Contains(t, lines[1], "shutdown  sentinel sent to 1 workers")
}

func TestPrinterTimestampFallback(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, true)
	p.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 6e6, time.UTC) }
	p.Print(events.Event{Type: events.PoolStarted, Data: []byte(`{"run_id":"r","workers":1}`)})
	assert.True(t, strings.HasPrefix(buf.String(), "03:04:05.006 started"), buf.String())
}
