package pool

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/mattjoyce/typepool/internal/channel"
	"github.com/mattjoyce/typepool/internal/protocol"
)

// ExecSpawner starts workers by re-running Path in the worker role.
type ExecSpawner struct {
	Path     string
	Unit     time.Duration
	LogLevel string
	Stderr   io.Writer
	Env      []string
}

// WorkerArgs is the command line that selects the worker role for jobType.
func WorkerArgs(jobType protocol.JobType, unit time.Duration, logLevel string) []string {
	args := []string{"worker", strconv.Itoa(int(jobType))}
	if unit > 0 {
		args = append(args, "--unit", unit.String())
	}
	if logLevel != "" {
		args = append(args, "--log-level", logLevel)
	}
	return args
}

// Spawn opens a channel and starts the worker with the channel's worker ends as stdin/stdout.
func (s *ExecSpawner) Spawn(ctx context.Context, jobType protocol.JobType) (Conn, Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	link, ep, err := channel.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}

	// Not CommandContext: cancelling a run must not kill workers mid-job.
	cmd := exec.Command(s.Path, WorkerArgs(jobType, s.Unit, s.LogLevel)...)
	cmd.Stdin = ep.Stdin
	cmd.Stdout = ep.Stdout
	cmd.Stderr = s.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	if len(s.Env) > 0 {
		cmd.Env = append(os.Environ(), s.Env...)
	}

	if err := cmd.Start(); err != nil {
		_ = link.Close()
		_ = ep.Close()
		return nil, nil, fmt.Errorf("start process: %w", err)
	}

	// The child holds its own copies now.
	if err := ep.Close(); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		_ = link.Close()
		return nil, nil, fmt.Errorf("close worker ends: %w", err)
	}

	return link, &execProcess{cmd: cmd}, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Pid() int    { return p.cmd.Process.Pid }
func (p *execProcess) Wait() error { return p.cmd.Wait() }
func (p *execProcess) Kill() error { return p.cmd.Process.Kill() }
