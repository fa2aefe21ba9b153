//go:build !linux && !darwin

package channel

import (
	"os"
	"time"
)

func available(*os.File) (int, error) {
	return 0, ErrUnsupported
}

// WaitReadable degrades to a plain sleep where poll(2) is not available.
func WaitReadable(links []*Duplex, timeout time.Duration) (Readiness, error) {
	time.Sleep(timeout)
	return Readiness{
		Readable: make([]bool, len(links)),
		HungUp:   make([]bool, len(links)),
	}, nil
}
