// Package worker implements the worker side of the pool: read one request, do the work,
// echo the duration back, repeat until the shutdown sentinel or a broken channel.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/mattjoyce/typepool/internal/protocol"
)

// Executor performs one unit of work. It is the replaceable "do work for duration D" step.
type Executor interface {
	Execute(ctx context.Context, duration int32) error
}

// SleepExecutor simulates work by sleeping Duration*Unit.
type SleepExecutor struct {
	Unit time.Duration
}

// Execute blocks for duration units or until ctx is done.
func (e SleepExecutor) Execute(ctx context.Context, duration int32) error {
	unit := e.Unit
	if unit <= 0 {
		unit = time.Second
	}
	t := time.NewTimer(time.Duration(duration) * unit)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run serves requests from in until the sentinel arrives (nil) or the channel breaks (error).
// A clean end of stream before a record starts means the manager went away and is not an error.
func Run(ctx context.Context, in io.Reader, out io.Writer, exec Executor, logger *slog.Logger) error {
	for {
		msg, err := protocol.DecodeRequest(in)
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Info("request channel closed, exiting")
				return nil
			}
			return fmt.Errorf("read request: %w", err)
		}

		if msg.Kind == protocol.KindShutdown {
			logger.Info("shutdown requested")
			return nil
		}

		logger.Debug("job received", "duration", msg.Duration)
		if err := exec.Execute(ctx, msg.Duration); err != nil {
			return fmt.Errorf("execute job %d: %w", msg.Duration, err)
		}

		if err := protocol.EncodeResponse(out, protocol.Completion(msg.Duration)); err != nil {
			return fmt.Errorf("write completion: %w", err)
		}
		logger.Debug("job completed", "duration", msg.Duration)
	}
}
