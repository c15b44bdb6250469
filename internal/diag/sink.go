// Package diag implements the append-only diagnostic sink: every caught
// transport failure is recorded as a (timestamp, context tag, detail) tuple
// in a text file referenced by user-facing error summaries.
//
// Producers may record from any goroutine and never block: records land in
// an overwrite-oldest ring and a single collector goroutine performs the
// file writes. Under sustained failure bursts the oldest unwritten records
// are dropped rather than stalling a session operation.
package diag

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"

	"github.com/srg/gattscope/internal/groutine"
)

// Record is one diagnostic entry.
type Record struct {
	TS      time.Time
	Context string
	Detail  string
}

// Metrics provides lock-free counters for sink activity.
type Metrics struct {
	Recorded    int64 // records accepted from producers
	Written     int64 // records flushed to the file
	Overwritten int64 // records lost to ring overwrite
	Errors      int64 // write failures
}

// Sink lifecycle states.
const (
	stateIdle uint32 = iota
	stateRunning
	stateStopping
)

const (
	// flushInterval bounds how long an accepted record may sit in the ring
	// before reaching the file.
	flushInterval = 100 * time.Millisecond

	// MaxBufferSize guards against accidental misconfiguration.
	MaxBufferSize uint32 = 64 * 1024
)

// Sink buffers diagnostic records and appends them to a text file.
type Sink struct {
	path    string
	buffer  mpmc.RichOverlappedRingBuffer[Record]
	stop    chan struct{}
	done    chan struct{}
	logger  *logrus.Logger
	file    *os.File // nil when the file could not be opened; records go to the logger only
	metrics Metrics
	state   uint32
}

// New creates a sink writing to path with the given ring capacity.
func New(path string, capacity uint32, logger *logrus.Logger) (*Sink, error) {
	if path == "" {
		return nil, fmt.Errorf("diag sink path cannot be empty")
	}
	if capacity == 0 {
		capacity = 256
	}
	if capacity > MaxBufferSize {
		return nil, fmt.Errorf("diag buffer size %d exceeds maximum %d", capacity, MaxBufferSize)
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Sink{
		path:   path,
		buffer: mpmc.NewOverlappedRingBuffer[Record](capacity),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}, nil
}

// Path returns the sink file location for user-facing messages.
func (s *Sink) Path() string {
	return s.path
}

// Start opens the sink file and launches the collector goroutine. A file
// that cannot be opened degrades the sink to logger-only operation; the
// session must stay usable even when diagnostics cannot persist.
func (s *Sink) Start() error {
	if !atomic.CompareAndSwapUint32(&s.state, stateIdle, stateRunning) {
		return fmt.Errorf("diag sink already started")
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		s.logger.WithError(err).Warn("Diagnostic sink directory unavailable, records will not persist")
	} else if f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err != nil {
		s.logger.WithError(err).Warn("Diagnostic sink file unavailable, records will not persist")
	} else {
		s.file = f
	}

	groutine.Go(context.Background(), "diag-collector", func(context.Context) {
		s.run()
	})
	return nil
}

// Record accepts a diagnostic entry from any goroutine. Never blocks.
func (s *Sink) Record(contextTag string, detail string) {
	rec := Record{TS: time.Now(), Context: contextTag, Detail: detail}

	overwrites, err := s.buffer.EnqueueM(rec)
	if err != nil {
		atomic.AddInt64(&s.metrics.Errors, 1)
		s.logger.WithError(err).Warn("Failed to enqueue diagnostic record")
		return
	}
	atomic.AddInt64(&s.metrics.Recorded, 1)
	if overwrites > 0 {
		atomic.AddInt64(&s.metrics.Overwritten, int64(overwrites))
	}
}

// RecordError is Record for error values.
func (s *Sink) RecordError(contextTag string, err error) {
	if err == nil {
		return
	}
	s.Record(contextTag, err.Error())
}

// Stop drains remaining records to the file and releases it. Idempotent
// after the first call completes.
func (s *Sink) Stop() {
	if !atomic.CompareAndSwapUint32(&s.state, stateRunning, stateStopping) {
		return
	}
	close(s.stop)
	<-s.done

	s.flush()
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			s.logger.WithError(err).Warn("Failed to close diagnostic sink file")
		}
		s.file = nil
	}
	atomic.StoreUint32(&s.state, stateIdle)
}

// run is the collector loop: it periodically flushes the ring to the file
// until stopped.
func (s *Sink) run() {
	defer close(s.done)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.flush()
		}
	}
}

// flush drains every buffered record to the file.
func (s *Sink) flush() {
	for !s.buffer.IsEmpty() {
		rec, err := s.buffer.Dequeue()
		if err != nil {
			// Raced with a concurrent consumer; nothing left to do.
			return
		}
		s.write(rec)
	}
}

func (s *Sink) write(rec Record) {
	line := fmt.Sprintf("[%s] %s\n%s\n", rec.TS.Format(time.RFC3339), rec.Context, rec.Detail)

	if s.file == nil {
		s.logger.WithFields(logrus.Fields{
			"context": rec.Context,
			"detail":  rec.Detail,
		}).Debug("Diagnostic record (sink file unavailable)")
		return
	}

	if _, err := s.file.WriteString(line); err != nil {
		atomic.AddInt64(&s.metrics.Errors, 1)
		s.logger.WithError(err).Warn("Failed to write diagnostic record")
		return
	}
	atomic.AddInt64(&s.metrics.Written, 1)
}

// GetMetrics returns a snapshot of the sink counters.
func (s *Sink) GetMetrics() Metrics {
	return Metrics{
		Recorded:    atomic.LoadInt64(&s.metrics.Recorded),
		Written:     atomic.LoadInt64(&s.metrics.Written),
		Overwritten: atomic.LoadInt64(&s.metrics.Overwritten),
		Errors:      atomic.LoadInt64(&s.metrics.Errors),
	}
}
