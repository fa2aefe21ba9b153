package queue

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mattjoyce/typepool/internal/protocol"
)

// ErrInvalidJob is returned for descriptors that can never be dispatched.
var ErrInvalidJob = errors.New("invalid job")

// Job is one unit of typed work waiting for a worker.
type Job struct {
	ID       string
	Type     protocol.JobType
	Duration int32
}

// Spec is the on-disk and on-stream form of a job descriptor.
type Spec struct {
	Type     int   `yaml:"type" json:"type"`
	Duration int32 `yaml:"duration" json:"duration"`
}

// NewJob validates a descriptor and assigns it an ID.
// Duration 0 is the shutdown sentinel and never a real job.
func NewJob(jobType protocol.JobType, duration int32) (Job, error) {
	j := Job{ID: uuid.NewString(), Type: jobType, Duration: duration}
	if err := j.Validate(); err != nil {
		return Job{}, err
	}
	return j, nil
}

// Validate checks the descriptor invariants.
func (j Job) Validate() error {
	if j.Type < 1 {
		return fmt.Errorf("job type %d: %w", j.Type, ErrInvalidJob)
	}
	if j.Duration <= 0 {
		return fmt.Errorf("job duration %d must be positive: %w", j.Duration, ErrInvalidJob)
	}
	return nil
}
