// Package ptystream exposes a pseudo-terminal whose slave side replays
// characteristic notification payloads, so serial-oriented tools (screen,
// minicom, logging pipelines) can consume a BLE stream as if it were a tty.
//
// Producers queue payloads without blocking: bytes land in a ring buffer and
// a single writer goroutine drains them to the PTY master. When no consumer
// keeps up, the oldest queued bytes are dropped and counted.
package ptystream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"syscall"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"golang.org/x/term"

	"github.com/srg/gattscope/internal/groutine"
)

// Stats carries the streamer's counters for monitoring.
type Stats struct {
	QueueLen     int
	QueueCap     int
	QueuedBytes  uint64
	DroppedBytes uint64
	WrittenBytes uint64
}

// Streamer owns a PTY pair and the writer goroutine feeding it.
type Streamer struct {
	logger  *logrus.Logger
	master  *os.File
	slave   *os.File
	ttyName string

	buf    *ringbuffer.RingBuffer
	notify chan struct{}

	cancel context.CancelFunc
	done   chan struct{}
	closed atomic.Bool

	queued  atomic.Uint64
	dropped atomic.Uint64
	written atomic.Uint64
}

// New creates the PTY pair and starts the writer. queueCap bounds the number
// of bytes that may sit between a notification arriving and a consumer
// reading the tty.
func New(queueCap int, logger *logrus.Logger) (*Streamer, error) {
	if queueCap <= 0 {
		queueCap = 64 * 1024
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}

	master, slave, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to create PTY (check permissions and available PTY devices): %w", err)
	}

	// Raw mode: payloads pass through without line discipline edits.
	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		_ = master.Close()
		_ = slave.Close()
		return nil, fmt.Errorf("failed to set PTY %s to raw mode: %w", slave.Name(), err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Streamer{
		logger:  logger,
		master:  master,
		slave:   slave, // kept open so the slave node outlives consumer churn
		ttyName: slave.Name(),
		buf:     ringbuffer.New(queueCap),
		notify:  make(chan struct{}, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	groutine.Go(ctx, "pty-stream-writer", s.writeLoop)
	return s, nil
}

// TTYName returns the slave device path (e.g. "/dev/pts/5") for consumers.
func (s *Streamer) TTYName() string {
	return s.ttyName
}

// Queue enqueues a payload without blocking. Returns the number of bytes
// accepted; the remainder was dropped because the buffer is full.
func (s *Streamer) Queue(data []byte) int {
	if s.closed.Load() || len(data) == 0 {
		return 0
	}

	n, err := s.buf.Write(data)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
		s.logger.WithError(err).Warn("Failed to queue PTY payload")
		return 0
	}
	s.queued.Add(uint64(n))
	if n < len(data) {
		dropped := len(data) - n
		s.dropped.Add(uint64(dropped))
		s.logger.WithField("dropped", dropped).Warn("PTY stream buffer overflow")
	}

	if n > 0 {
		select {
		case s.notify <- struct{}{}:
		default:
		}
	}
	return n
}

// writeLoop drains the ring to the PTY master until the streamer closes.
func (s *Streamer) writeLoop(ctx context.Context) {
	defer close(s.done)

	chunk := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.notify:
		}

		for {
			n, err := s.buf.TryRead(chunk)
			if n == 0 || errors.Is(err, ringbuffer.ErrIsEmpty) {
				break
			}
			if err != nil {
				s.logger.WithError(err).Warn("PTY stream ring read failed")
				break
			}

			offset := 0
			for offset < n {
				written, werr := s.master.Write(chunk[offset:n])
				if written > 0 {
					offset += written
					s.written.Add(uint64(written))
				}
				if werr != nil {
					if errors.Is(werr, syscall.EINTR) {
						continue
					}
					// EBADF and EIO are the expected shutdown paths once
					// Close releases the master.
					s.logger.WithError(werr).Debug("PTY stream writer exiting")
					return
				}
			}
		}
	}
}

// Stats returns a snapshot of the streamer counters.
func (s *Streamer) Stats() Stats {
	return Stats{
		QueueLen:     s.buf.Length(),
		QueueCap:     s.buf.Capacity(),
		QueuedBytes:  s.queued.Load(),
		DroppedBytes: s.dropped.Load(),
		WrittenBytes: s.written.Load(),
	}
}

// Close stops the writer and releases both PTY ends. Idempotent.
func (s *Streamer) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.cancel()
	// Closing the master unblocks an in-flight Write with EBADF/EIO.
	if err := s.master.Close(); err != nil {
		s.logger.WithError(err).Warn("Failed to close PTY master")
	}
	if err := s.slave.Close(); err != nil {
		s.logger.WithError(err).Warn("Failed to close PTY slave")
	}
	<-s.done
	return nil
}
