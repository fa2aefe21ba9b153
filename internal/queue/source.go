package queue

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/typepool/internal/protocol"
)

// ReferenceSpecs is the fixed example job sequence the dispatcher runs when nothing else is
// configured. Durations are in worker duration units (seconds by default).
func ReferenceSpecs() []Spec {
	return []Spec{
		{Type: 1, Duration: 3},
		{Type: 2, Duration: 5},
		{Type: 1, Duration: 2},
		{Type: 4, Duration: 7},
		{Type: 3, Duration: 1},
		{Type: 5, Duration: 1},
		{Type: 1, Duration: 5},
	}
}

// Reference returns ReferenceSpecs as jobs.
func Reference() []Job {
	jobs, _ := FromSpecs(ReferenceSpecs())
	return jobs
}

// FromSpecs converts descriptors to jobs, rejecting the first invalid one.
func FromSpecs(specs []Spec) ([]Job, error) {
	jobs := make([]Job, 0, len(specs))
	for i, s := range specs {
		j, err := NewJob(protocol.JobType(s.Type), s.Duration)
		if err != nil {
			return nil, fmt.Errorf("jobs[%d]: %w", i, err)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// LoadFile reads a YAML list of {type, duration} descriptors.
func LoadFile(path string) ([]Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read jobs file: %w", err)
	}
	var specs []Spec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("parse jobs file %s: %w", path, err)
	}
	return FromSpecs(specs)
}

// ParseLine parses one "<type> <duration>" request line.
func ParseLine(line string) (Job, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return Job{}, fmt.Errorf("expected \"<type> <duration>\", got %q: %w", line, ErrInvalidJob)
	}
	t, err := strconv.Atoi(fields[0])
	if err != nil {
		return Job{}, fmt.Errorf("job type %q: %w", fields[0], ErrInvalidJob)
	}
	d, err := strconv.ParseInt(fields[1], 10, 32)
	if err != nil {
		return Job{}, fmt.Errorf("job duration %q: %w", fields[1], ErrInvalidJob)
	}
	return NewJob(protocol.JobType(t), int32(d))
}

// ReadStream parses request lines from r in a goroutine and delivers them in order on the
// returned channel, which is closed at end of input or when ctx is done. Blank lines and
// lines starting with '#' are skipped; malformed lines are logged and dropped.
func ReadStream(ctx context.Context, r io.Reader, logger *slog.Logger) <-chan Job {
	out := make(chan Job)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(r)
		lineNo := 0
		for sc.Scan() {
			lineNo++
			line := strings.TrimSpace(sc.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			j, err := ParseLine(line)
			if err != nil {
				logger.Warn("skipping malformed job line", "line", lineNo, "error", err)
				continue
			}
			select {
			case out <- j:
			case <-ctx.Done():
				return
			}
		}
		if err := sc.Err(); err != nil {
			logger.Error("job stream read failed", "error", err)
		}
	}()
	return out
}
