package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const sentinel int32 = 0

var (
	// ErrShortRecord is returned when a stream ends inside a record.
	ErrShortRecord = errors.New("short record")
	// ErrReservedValue is returned when a job or completion would carry the sentinel value.
	ErrReservedValue = errors.New("duration collides with reserved sentinel")
	// ErrProtocolViolation is returned for records that are well-sized but meaningless.
	ErrProtocolViolation = errors.New("protocol violation")
)

// EncodeRequest writes a manager-to-worker record (a job or the shutdown sentinel) to w.
func EncodeRequest(w io.Writer, msg Message) error {
	switch msg.Kind {
	case KindJob:
		if msg.Duration <= 0 {
			return fmt.Errorf("encode job %d: %w", msg.Duration, ErrReservedValue)
		}
		return writeRecord(w, msg.Duration)
	case KindShutdown:
		return writeRecord(w, sentinel)
	default:
		return fmt.Errorf("encode request: unexpected kind %s: %w", msg.Kind, ErrProtocolViolation)
	}
}

// EncodeResponse writes a worker-to-manager completion record to w.
func EncodeResponse(w io.Writer, msg Message) error {
	if msg.Kind != KindCompletion {
		return fmt.Errorf("encode response: unexpected kind %s: %w", msg.Kind, ErrProtocolViolation)
	}
	if msg.Duration <= 0 {
		return fmt.Errorf("encode completion %d: %w", msg.Duration, ErrReservedValue)
	}
	return writeRecord(w, msg.Duration)
}

// DecodeRequest reads one manager-to-worker record from r.
// A clean end of stream before the first byte is reported as io.EOF.
func DecodeRequest(r io.Reader) (Message, error) {
	v, err := readRecord(r)
	if err != nil {
		return Message{}, err
	}
	switch {
	case v == sentinel:
		return Shutdown(), nil
	case v < 0:
		return Message{}, fmt.Errorf("decode request: negative duration %d: %w", v, ErrProtocolViolation)
	default:
		return Job(v), nil
	}
}

// DecodeResponse reads one worker-to-manager record from r.
func DecodeResponse(r io.Reader) (Message, error) {
	v, err := readRecord(r)
	if err != nil {
		return Message{}, err
	}
	if v <= 0 {
		return Message{}, fmt.Errorf("decode response: invalid completion %d: %w", v, ErrProtocolViolation)
	}
	return Completion(v), nil
}

func writeRecord(w io.Writer, v int32) error {
	var buf [RecordSize]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	n, err := w.Write(buf[:])
	if err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	if n != RecordSize {
		return fmt.Errorf("write record: wrote %d of %d bytes: %w", n, RecordSize, ErrShortRecord)
	}
	return nil
}

func readRecord(r io.Reader) (int32, error) {
	var buf [RecordSize]byte
	n, err := io.ReadFull(r, buf[:])
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, fmt.Errorf("read record: got %d of %d bytes: %w", n, RecordSize, ErrShortRecord)
		}
		return 0, fmt.Errorf("read record: %w", err)
	}
	return int32(binary.LittleEndian.Uint32(buf[:])), nil
}
