package channel

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/mattjoyce/typepool/internal/protocol"
)

// ErrUnsupported is returned on platforms without a bytes-available query for pipes.
var ErrUnsupported = errors.New("pipe availability query not supported on this platform")

// Duplex is the manager-side end of a worker link.
type Duplex struct {
	toWorker   *os.File // write end of the request pipe
	fromWorker *os.File // read end of the response pipe

	closeOnce sync.Once
	closeErr  error
}

// Endpoint is the worker-side end of a link, destined for the child's stdin and stdout.
type Endpoint struct {
	Stdin  *os.File
	Stdout *os.File
}

// Open creates both pipes of a new link.
func Open() (*Duplex, *Endpoint, error) {
	reqR, reqW, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("create request pipe: %w", err)
	}
	respR, respW, err := os.Pipe()
	if err != nil {
		_ = reqR.Close()
		_ = reqW.Close()
		return nil, nil, fmt.Errorf("create response pipe: %w", err)
	}
	return &Duplex{toWorker: reqW, fromWorker: respR}, &Endpoint{Stdin: reqR, Stdout: respW}, nil
}

// Send writes one request record. It blocks only if the pipe buffer is full, which cannot
// happen while requests and responses alternate.
func (d *Duplex) Send(msg protocol.Message) error {
	return protocol.EncodeRequest(d.toWorker, msg)
}

// Available reports how many response bytes can be read without blocking.
func (d *Duplex) Available() (int, error) {
	return available(d.fromWorker)
}

// Receive reads exactly one response record. Callers check Available first.
func (d *Duplex) Receive() (protocol.Message, error) {
	return protocol.DecodeResponse(d.fromWorker)
}

// Close releases both manager-side pipe ends. Safe to call more than once.
func (d *Duplex) Close() error {
	d.closeOnce.Do(func() {
		d.closeErr = errors.Join(d.toWorker.Close(), d.fromWorker.Close())
	})
	return d.closeErr
}

// Close releases the worker-side files. The parent calls it once the child holds its copies.
func (e *Endpoint) Close() error {
	return errors.Join(e.Stdin.Close(), e.Stdout.Close())
}

// Readiness is the outcome of WaitReadable, indexed like its input.
type Readiness struct {
	Readable []bool
	HungUp   []bool
}

// Any reports whether at least one link became readable or hung up.
func (r Readiness) Any() bool {
	for i := range r.Readable {
		if r.Readable[i] || r.HungUp[i] {
			return true
		}
	}
	return false
}
