//go:build linux || darwin

package ptystream

import (
	"io"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestStreamer_PayloadsReachConsumer(t *testing.T) {
	// GOAL: Bytes queued by a producer are readable from the slave device
	// by an independent consumer.
	s, err := New(4096, quietLogger())
	require.NoError(t, err)
	defer s.Close()

	require.NotEmpty(t, s.TTYName())
	consumer, err := os.OpenFile(s.TTYName(), os.O_RDONLY, 0)
	require.NoError(t, err)
	defer consumer.Close()

	payload := []byte("48 65 6c 6c 6f\n")
	assert.Equal(t, len(payload), s.Queue(payload))

	buf := make([]byte, 64)
	require.NoError(t, consumer.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := consumer.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, payload, buf[:n])

	stats := s.Stats()
	assert.Equal(t, uint64(len(payload)), stats.QueuedBytes)
	assert.Zero(t, stats.DroppedBytes)
}

func TestStreamer_QueueNeverBlocks(t *testing.T) {
	// With no consumer the ring fills; producers still return immediately
	// and overflow is counted.
	s, err := New(16, quietLogger())
	require.NoError(t, err)
	defer s.Close()

	// A single payload larger than the ring can never be fully accepted.
	payload := make([]byte, 64)
	accepted := s.Queue(payload)
	assert.Less(t, accepted, len(payload))

	stats := s.Stats()
	assert.Positive(t, stats.QueuedBytes)
	assert.Positive(t, stats.DroppedBytes, "overflow MUST be counted, not block the producer")
}

func TestStreamer_CloseIsIdempotent(t *testing.T) {
	s, err := New(64, quietLogger())
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.Zero(t, s.Queue([]byte("late")), "queue after close MUST accept nothing")
}
