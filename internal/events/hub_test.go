package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishAssignsIncreasingIDs(t *testing.T) {
	h := NewHub(8)
	a := h.Publish(JobDispatched, JobPayload{JobID: "a"})
	b := h.Publish(JobCompleted, JobPayload{JobID: "a", Duration: 2})

	assert.Equal(t, int64(1), a.ID)
	assert.Equal(t, int64(2), b.ID)
	assert.Equal(t, int64(2), h.LastID())

	var p JobPayload
	require.NoError(t, b.Decode(&p))
	assert.Equal(t, int32(2), p.Duration)
}

func TestSubscribeReceivesAndCancelCloses(t *testing.T) {
	h := NewHub(8)
	ch, cancel := h.Subscribe(4)

	h.Publish(WorkerSpawned, WorkerPayload{Name: "type1#0"})
	h.Publish(PoolStopped, nil)
	cancel()

	var got []string
	for ev := range ch {
		got = append(got, ev.Type)
	}
	assert.Equal(t, []string{WorkerSpawned, PoolStopped}, got, "buffered events survive cancel")

	// Cancelled subscribers are not written to.
	h.Publish(PoolStarted, nil)
	cancel()
}

func TestSlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	h := NewHub(16)
	_, cancel := h.Subscribe(1)
	defer cancel()

	for i := 0; i < 10; i++ {
		h.Publish(JobDispatched, nil)
	}
	assert.Equal(t, int64(10), h.LastID())
}

func TestSnapshotSinceWrapsRing(t *testing.T) {
	h := NewHub(3)
	for i := 0; i < 5; i++ {
		h.Publish(JobCompleted, nil)
	}

	all := h.SnapshotSince(0)
	require.Len(t, all, 3)
	assert.Equal(t, int64(3), all[0].ID)
	assert.Equal(t, int64(5), all[2].ID)

	recent := h.SnapshotSince(4)
	require.Len(t, recent, 1)
	assert.Equal(t, int64(5), recent[0].ID)
}
