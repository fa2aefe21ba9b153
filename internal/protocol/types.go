package protocol

import "fmt"

// RecordSize is the fixed width of every record on a worker channel.
const RecordSize = 4

// JobType identifies which worker species may service a job.
type JobType int

// Kind tags a Message so that job durations and control instructions never share a meaning.
type Kind uint8

const (
	// KindJob asks a worker to perform work for Duration units.
	KindJob Kind = iota + 1
	// KindShutdown tells a worker to exit. It travels as the reserved wire value 0.
	KindShutdown
	// KindCompletion is the worker's echo of a finished job's Duration.
	KindCompletion
)

func (k Kind) String() string {
	switch k {
	case KindJob:
		return "job"
	case KindShutdown:
		return "shutdown"
	case KindCompletion:
		return "completion"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Message is one record exchanged between the manager and a worker.
type Message struct {
	Kind     Kind
	Duration int32
}

// Job builds a work request.
func Job(duration int32) Message {
	return Message{Kind: KindJob, Duration: duration}
}

// Shutdown builds the termination instruction.
func Shutdown() Message {
	return Message{Kind: KindShutdown}
}

// Completion builds a worker's completion record.
func Completion(duration int32) Message {
	return Message{Kind: KindCompletion, Duration: duration}
}

func (m Message) String() string {
	if m.Kind == KindShutdown {
		return "shutdown"
	}
	return fmt.Sprintf("%s(%d)", m.Kind, m.Duration)
}
