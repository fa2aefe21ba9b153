package pool_test

import (
	"bytes"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/mattjoyce/typepool/internal/events"
	"github.com/mattjoyce/typepool/internal/protocol"
)

// fakeConn is an in-memory worker: every job it receives is echoed back after latency polls.
type fakeConn struct {
	t *testing.T

	mu        sync.Mutex
	sent      []protocol.Message
	pending   []protocol.Message
	countdown int
	latency   int
	sendErr   error
	availErr  error
	recvErr   error
	echoSkew  int32 // added to every echoed duration
	closed    bool
}

func newFakeConn(t *testing.T, latency int) *fakeConn {
	return &fakeConn{t: t, latency: latency}
}

func (c *fakeConn) Send(msg protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	if msg.Kind == protocol.KindJob && len(c.pending) > 0 {
		c.t.Errorf("job %v sent while a response is still outstanding", msg)
	}
	c.sent = append(c.sent, msg)
	if msg.Kind == protocol.KindJob {
		c.pending = append(c.pending, protocol.Completion(msg.Duration))
		c.countdown = c.latency
	}
	return nil
}

func (c *fakeConn) Available() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.availErr != nil {
		return 0, c.availErr
	}
	if len(c.pending) > 0 && c.countdown > 0 {
		c.countdown--
		return 0, nil
	}
	return len(c.pending) * protocol.RecordSize, nil
}

func (c *fakeConn) Receive() (protocol.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recvErr != nil {
		return protocol.Message{}, c.recvErr
	}
	if len(c.pending) == 0 {
		return protocol.Message{}, errors.New("nothing to receive")
	}
	m := c.pending[0]
	c.pending = c.pending[1:]
	m.Duration += c.echoSkew
	return m, nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) messages() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Message, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *fakeConn) jobsSent() int {
	n := 0
	for _, m := range c.messages() {
		if m.Kind == protocol.KindJob {
			n++
		}
	}
	return n
}

func (c *fakeConn) setAvailErr(err error) {
	c.mu.Lock()
	c.availErr = err
	c.mu.Unlock()
}

type fakeProc struct {
	pid     int
	mu      sync.Mutex
	waited  bool
	killed  bool
	waitErr error
}

func (p *fakeProc) Pid() int { return p.pid }

func (p *fakeProc) Wait() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waited = true
	return p.waitErr
}

func (p *fakeProc) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killed = true
	return nil
}

func testLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

// jobEvents returns the payloads of every buffered event of the given type.
func jobEvents(t *testing.T, hub *events.Hub, eventType string) []events.JobPayload {
	t.Helper()
	var out []events.JobPayload
	for _, ev := range hub.SnapshotSince(0) {
		if ev.Type != eventType {
			continue
		}
		var p events.JobPayload
		if err := ev.Decode(&p); err != nil {
			t.Fatalf("decode: %v", err)
		}
		out = append(out, p)
	}
	return out
}

// workerEvents returns the payloads of every buffered worker event of the given type.
func workerEvents(t *testing.T, hub *events.Hub, eventType string) []events.WorkerPayload {
	t.Helper()
	var out []events.WorkerPayload
	for _, ev := range hub.SnapshotSince(0) {
		if ev.Type != eventType {
			continue
		}
		var p events.WorkerPayload
		if err := ev.Decode(&p); err != nil {
			t.Fatalf("decode: %v", err)
		}
		out = append(out, p)
	}
	return out
}

func eventIDs(hub *events.Hub, eventType string) []int64 {
	var out []int64
	for _, ev := range hub.SnapshotSince(0) {
		if ev.Type == eventType {
			out = append(out, ev.ID)
		}
	}
	return out
}
