package diag

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestSink_RecordsReachFile(t *testing.T) {
	// GOAL: Records enqueued from producers are flushed to the append-only
	// file with timestamp and context tag.
	path := filepath.Join(t.TempDir(), "errors.log")
	sink, err := New(path, 16, quietLogger())
	require.NoError(t, err)
	require.NoError(t, sink.Start())

	sink.Record("scan", "ATT timeout while discovering")
	sink.Record("connect", "dial failed")
	sink.Stop()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "scan\nATT timeout while discovering")
	assert.Contains(t, content, "connect\ndial failed")

	m := sink.GetMetrics()
	assert.Equal(t, int64(2), m.Recorded)
	assert.Equal(t, int64(2), m.Written)
}

func TestSink_StopFlushesPendingRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "errors.log")
	sink, err := New(path, 64, quietLogger())
	require.NoError(t, err)
	require.NoError(t, sink.Start())

	// Enqueue and stop immediately: Stop's final flush must not lose records
	// even if no ticker fired.
	for i := 0; i < 10; i++ {
		sink.Record("write", "failed")
	}
	sink.Stop()

	assert.Equal(t, int64(10), sink.GetMetrics().Written)
}

func TestSink_ConcurrentProducersNeverBlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "errors.log")
	sink, err := New(path, 8, quietLogger())
	require.NoError(t, err)
	require.NoError(t, sink.Start())

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				sink.Record("notify", "late delivery")
			}
		}()
	}
	wg.Wait()
	sink.Stop()

	m := sink.GetMetrics()
	assert.Equal(t, int64(400), m.Recorded, "every producer call is accepted")
	assert.Equal(t, m.Recorded, m.Written+m.Overwritten,
		"accepted records are either written or overwritten, never lost silently")
}

func TestSink_DegradesWithoutFile(t *testing.T) {
	// A path whose parent cannot be created degrades to logger-only
	// operation instead of failing the session.
	blocked := filepath.Join(t.TempDir(), "occupied")
	require.NoError(t, os.WriteFile(blocked, []byte("x"), 0o644))

	sink, err := New(filepath.Join(blocked, "sub", "errors.log"), 8, quietLogger())
	require.NoError(t, err)
	require.NoError(t, sink.Start(), "unopenable sink file MUST NOT fail startup")

	sink.Record("scan", "boom")
	sink.Stop()
}

func TestSink_RecordError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "errors.log")
	sink, err := New(path, 8, quietLogger())
	require.NoError(t, err)
	require.NoError(t, sink.Start())

	sink.RecordError("read", nil) // ignored
	sink.RecordError("read", assert.AnError)
	sink.Stop()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), assert.AnError.Error())
	assert.Equal(t, int64(1), sink.GetMetrics().Recorded)
}

func TestSink_Validation(t *testing.T) {
	_, err := New("", 8, nil)
	assert.Error(t, err)

	_, err = New("/tmp/x.log", MaxBufferSize+1, nil)
	assert.Error(t, err)
}

func TestSink_StartTwiceFails(t *testing.T) {
	sink, err := New(filepath.Join(t.TempDir(), "e.log"), 8, quietLogger())
	require.NoError(t, err)
	require.NoError(t, sink.Start())
	defer sink.Stop()

	assert.Error(t, sink.Start())
}
