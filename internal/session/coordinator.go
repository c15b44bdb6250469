// Package session implements the session coordination layer: it serializes
// all device operations against the single active connection, owns the
// authoritative session model, and merges unsolicited transport events
// (disconnects, value notifications) into that model on a single-writer
// session loop.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/srg/gattscope/internal/config"
	"github.com/srg/gattscope/internal/diag"
	"github.com/srg/gattscope/internal/gatt"
	"github.com/srg/gattscope/internal/platform"
)

// Coordinator orchestrates gateway calls against the session model.
//
// Serialization: every state-changing operation takes the op mutex with
// TryLock and fails fast with ErrBusy while another operation is in flight.
// Scans are additionally rejected idempotently via the scanning flag, so a
// second scan never queues behind the first. Gateway I/O runs on the
// caller's goroutine; the resulting state mutation is marshaled onto the
// session loop.
//
// The connection handle is guarded by connMu, separate from the op mutex,
// so the unsolicited-disconnect path can discard it without waiting behind
// a long-running operation.
type Coordinator struct {
	gateway gatt.Gateway
	state   *State
	loop    *Loop
	sink    *diag.Sink
	logger  *logrus.Logger
	cfg     *config.Config

	mu       sync.Mutex
	scanning atomic.Bool

	connMu sync.RWMutex
	conn   gatt.Connection

	// connGen numbers connect attempts; written under mu. activeGen and
	// lostGen are owned by the session loop: activeGen is the generation of
	// the installed connection, lostGen records a drop that arrived before
	// its connection was installed.
	connGen   uint64
	activeGen uint64
	lostGen   uint64
}

// NewCoordinator wires a coordinator over the given gateway. sink may be nil
// when diagnostics persistence is not configured.
func NewCoordinator(gateway gatt.Gateway, cfg *config.Config, sink *diag.Sink, logger *logrus.Logger) *Coordinator {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Coordinator{
		gateway: gateway,
		state:   NewState(cfg.LogRingCapacity),
		loop:    NewLoop(cfg.HandoffBuffer, logger, sink),
		sink:    sink,
		logger:  logger,
		cfg:     cfg,
	}
}

// Start launches the session loop. The coordinator is unusable before Start
// and after Stop.
func (c *Coordinator) Start() error {
	return c.loop.Start()
}

// Stop disconnects best-effort and shuts the session loop down.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.disconnectLocked("")
	c.mu.Unlock()
	c.loop.Stop()
}

// Scan discovers nearby advertisers and replaces the device list wholesale,
// strongest signal first. Rejected with ErrBusy while any operation,
// including another scan, is in flight.
func (c *Coordinator) Scan(ctx context.Context) ([]gatt.DeviceRecord, error) {
	if !c.scanning.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer c.scanning.Store(false)

	if !c.mu.TryLock() {
		return nil, ErrBusy
	}
	defer c.mu.Unlock()

	records, err := c.gateway.Scan(ctx, c.cfg.ScanTimeout.Std())
	if err != nil {
		return nil, c.fail("Scan", "scan", err)
	}

	// Stable: advertisers with equal signal keep their discovery order.
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].RSSI > records[j].RSSI
	})

	if err := c.loop.Invoke(func() {
		c.state.ReplaceDevices(records)
		c.state.SetStatus(fmt.Sprintf("Scan complete: %d device(s).", len(records)))
	}); err != nil {
		return nil, err
	}

	out := make([]gatt.DeviceRecord, len(records))
	copy(out, records)
	return out, nil
}

// Connect establishes the single active connection to address and runs
// discovery. Any existing connection is torn down first; a failure at any
// step leaves the session disconnected.
func (c *Coordinator) Connect(ctx context.Context, address string) error {
	if !c.mu.TryLock() {
		return ErrBusy
	}
	defer c.mu.Unlock()

	c.disconnectLocked("")

	c.connGen++
	gen := c.connGen

	conn, err := c.gateway.Connect(ctx, address, c.cfg.ConnectTimeout.Std(), func() {
		c.onUnsolicitedDisconnect(gen, address)
	})
	if err != nil {
		return c.fail("Connect", "connect", err)
	}

	result, err := conn.Discover()
	if err != nil {
		if cerr := conn.Close(); cerr != nil {
			c.logger.WithError(cerr).Warn("Failed to close connection after discovery failure")
		}
		return c.fail("Connect", "discover", err)
	}

	// Installation happens on the loop so it is ordered against a drop event
	// that fired during dial or discovery. Such a drop lands before this
	// closure and marks lostGen; the installation is then abandoned.
	var lost bool
	if err := c.loop.Invoke(func() {
		if c.lostGen == gen {
			lost = true
			return
		}
		c.activeGen = gen
		c.connMu.Lock()
		c.conn = conn
		c.connMu.Unlock()
		c.state.SetDiscovery(address, result)
		c.state.SetStatus(fmt.Sprintf("Connected to %s. %d service(s), %d characteristic(s).",
			address, result.ServiceCount, result.CharacteristicCount))
	}); err != nil {
		if cerr := conn.Close(); cerr != nil {
			c.logger.WithError(cerr).Debug("Close after failed installation")
		}
		return err
	}
	if lost {
		if cerr := conn.Close(); cerr != nil {
			c.logger.WithError(cerr).Debug("Close after setup-time disconnect")
		}
		return c.fail("Connect", "connect", fmt.Errorf("device %s disconnected during setup", address))
	}
	return nil
}

// Disconnect closes the active connection if any and resets all
// connection-scoped state. The close itself is best-effort; the state reset
// is unconditional.
func (c *Coordinator) Disconnect() error {
	if !c.mu.TryLock() {
		return ErrBusy
	}
	defer c.mu.Unlock()

	c.disconnectLocked("Disconnected.")
	return nil
}

// disconnectLocked discards the connection handle, closes it best-effort,
// and resets connection-scoped state atomically. Caller holds the op mutex.
func (c *Coordinator) disconnectLocked(status string) {
	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			c.logger.WithError(err).Warn("Failed to close connection")
			if c.sink != nil {
				c.sink.RecordError("disconnect", err)
			}
		}
	}

	_ = c.loop.Invoke(func() {
		c.state.ClearConnection()
		if status != "" {
			c.state.SetStatus(status)
		}
	})
}

// onUnsolicitedDisconnect handles a transport-initiated drop. It fires on a
// goroutine the coordinator does not control and must not take the op mutex;
// the state reset is marshaled onto the session loop instead. Drops carry
// the generation of the connect attempt that registered them: a drop for a
// superseded connection is ignored, a drop outrunning its own installation
// is recorded so Connect abandons the install.
func (c *Coordinator) onUnsolicitedDisconnect(gen uint64, address string) {
	c.loop.Post("unsolicited-disconnect", func() {
		if gen > c.activeGen {
			c.lostGen = gen
			return
		}
		if gen < c.activeGen {
			return
		}

		c.connMu.Lock()
		conn := c.conn
		c.conn = nil
		c.connMu.Unlock()
		if conn == nil {
			return
		}

		if err := conn.Close(); err != nil {
			c.logger.WithError(err).Debug("Close after unsolicited disconnect")
		}

		c.logger.WithField("address", address).Warn("Device disconnected unexpectedly")
		c.state.ClearConnection()
		c.state.SetStatus("Device disconnected unexpectedly")
	})
}

// Read fetches the current value of the attribute and appends it to the
// key's log.
func (c *Coordinator) Read(key string) (ValueEntry, error) {
	if !c.mu.TryLock() {
		return ValueEntry{}, ErrBusy
	}
	defer c.mu.Unlock()

	conn := c.connection()
	if conn == nil {
		return ValueEntry{}, ErrNotConnected
	}

	info, err := c.resolve(key)
	if err != nil {
		return ValueEntry{}, err
	}
	if !info.Capabilities.Has(gatt.CapRead) {
		return ValueEntry{}, fmt.Errorf("%w: %q is not readable", ErrCapabilityMismatch, key)
	}

	data, err := conn.Read(gatt.TargetFor(info), c.cfg.ReadTimeout.Std())
	if err != nil {
		return ValueEntry{}, c.fail("Read", "read", err)
	}

	var entry ValueEntry
	if err := c.loop.Invoke(func() {
		entry = c.state.AppendValue(info.Key, data)
		c.state.SetStatus(fmt.Sprintf("Read %d byte(s) from %s.", len(data), key))
	}); err != nil {
		return ValueEntry{}, err
	}
	return entry, nil
}

// Write sends data to the attribute. When preferResponse is set and the
// with-response write fails, exactly one without-response fallback is
// attempted; a fallback success is reported distinctly. No further retries.
func (c *Coordinator) Write(key string, data []byte, preferResponse bool) (WriteResult, error) {
	if !c.mu.TryLock() {
		return WriteResult{}, ErrBusy
	}
	defer c.mu.Unlock()

	conn := c.connection()
	if conn == nil {
		return WriteResult{}, ErrNotConnected
	}

	info, err := c.resolve(key)
	if err != nil {
		return WriteResult{}, err
	}
	if preferResponse && !info.Capabilities.Has(gatt.CapWrite) {
		return WriteResult{}, fmt.Errorf("%w: %q is not writable", ErrCapabilityMismatch, key)
	}
	if !preferResponse && !info.Capabilities.Has(gatt.CapWriteNoResponse) {
		return WriteResult{}, fmt.Errorf("%w: %q does not accept writes without response", ErrCapabilityMismatch, key)
	}

	target := gatt.TargetFor(info)
	timeout := c.cfg.WriteTimeout.Std()

	if !preferResponse {
		if err := conn.Write(target, data, false, timeout); err != nil {
			return WriteResult{}, c.fail("Write", "write", err)
		}
		return c.writeDone(key, len(data), false)
	}

	err = conn.Write(target, data, true, timeout)
	if err == nil {
		return c.writeDone(key, len(data), false)
	}

	if c.sink != nil {
		c.sink.RecordError("write", err)
	}
	c.logger.WithError(err).WithField("key", key).Warn("Write with response failed, retrying without response")

	if ferr := conn.Write(target, data, false, timeout); ferr != nil {
		return WriteResult{}, c.fail("Write", "write", ferr)
	}
	return c.writeDone(key, len(data), true)
}

func (c *Coordinator) writeDone(key string, size int, fallback bool) (WriteResult, error) {
	status := fmt.Sprintf("Wrote %d byte(s) to %s.", size, key)
	if fallback {
		status = fmt.Sprintf("Wrote %d byte(s) to %s without response (fallback).", size, key)
	}
	if err := c.loop.Invoke(func() { c.state.SetStatus(status) }); err != nil {
		return WriteResult{}, err
	}
	return WriteResult{Fallback: fallback}, nil
}

// ToggleNotify flips the subscription for key and returns the resulting
// membership. A failed stop leaves the key subscribed; a failed start never
// adds it. Capability mismatches are rejected before any gateway call.
func (c *Coordinator) ToggleNotify(key string) (bool, error) {
	if !c.mu.TryLock() {
		return false, ErrBusy
	}
	defer c.mu.Unlock()

	conn := c.connection()
	if conn == nil {
		return false, ErrNotConnected
	}

	info, err := c.resolve(key)
	if err != nil {
		return false, err
	}
	if !info.Capabilities.Notifiable() {
		return false, fmt.Errorf("%w: %q does not support notifications", ErrCapabilityMismatch, key)
	}

	var active bool
	if err := c.loop.Invoke(func() { active = c.state.IsSubscribed(info.Key) }); err != nil {
		return false, err
	}

	target := gatt.TargetFor(info)
	if active {
		if err := conn.StopNotify(target); err != nil {
			// Still subscribed; membership changes only on success.
			return true, c.fail("Notify stop", "notify", err)
		}
		if err := c.loop.Invoke(func() {
			c.state.RemoveSubscription(info.Key)
			c.state.SetStatus(fmt.Sprintf("Notifications stopped for %s.", key))
		}); err != nil {
			return false, err
		}
		return false, nil
	}

	subscribeKey := info.Key
	if err := conn.StartNotify(target, func(n gatt.Notification) {
		c.onNotification(subscribeKey, n)
	}); err != nil {
		return false, c.fail("Notify start", "notify", err)
	}
	if err := c.loop.Invoke(func() {
		c.state.AddSubscription(info.Key)
		c.state.SetStatus(fmt.Sprintf("Notifications started for %s.", key))
	}); err != nil {
		return true, err
	}
	return true, nil
}

// onNotification merges an unsolicited delivery into the session model. It
// fires on the transport's goroutine; the payload is copied before hand-off
// because the transport may reuse the buffer. A delivery carrying a handle
// re-resolves its key through the handle index, which survives reconnects
// where the transport renumbers; deliveries arriving after disconnect are
// dropped with the rest of the connection-scoped state.
func (c *Coordinator) onNotification(subscribeKey string, n gatt.Notification) {
	data := append([]byte(nil), n.Data...)
	var handle *uint16
	if n.Handle != nil {
		h := *n.Handle
		handle = &h
	}

	c.loop.Post("notification", func() {
		if !c.state.Connected() {
			return
		}
		key := subscribeKey
		if handle != nil {
			if k, ok := c.state.KeyForHandle(*handle); ok {
				key = k
			}
		}
		c.state.AppendValue(key, data)
	})
}

// ClearHistory empties key's value log and last value without touching
// subscription state or other keys.
func (c *Coordinator) ClearHistory(key string) error {
	return c.loop.Invoke(func() { c.state.ClearHistory(key) })
}

// Read-only snapshots for the presentation layer. Each marshals through the
// session loop and returns copies.

func (c *Coordinator) Devices() []gatt.DeviceRecord {
	var out []gatt.DeviceRecord
	_ = c.loop.Invoke(func() { out = c.state.Devices() })
	return out
}

func (c *Coordinator) Services() []gatt.ServiceGroup {
	var out []gatt.ServiceGroup
	_ = c.loop.Invoke(func() { out = c.state.Services() })
	return out
}

func (c *Coordinator) Log(key string) []ValueEntry {
	var out []ValueEntry
	_ = c.loop.Invoke(func() { out = c.state.Log(key) })
	return out
}

func (c *Coordinator) LastRaw(key string) ([]byte, bool) {
	var raw []byte
	var ok bool
	_ = c.loop.Invoke(func() { raw, ok = c.state.LastRaw(key) })
	return raw, ok
}

func (c *Coordinator) SubscribedKeys() []string {
	var out []string
	_ = c.loop.Invoke(func() { out = c.state.SubscribedKeys() })
	return out
}

func (c *Coordinator) Resolve(key string) (gatt.AttributeInfo, error) {
	return c.resolve(key)
}

func (c *Coordinator) Status() string {
	var out string
	_ = c.loop.Invoke(func() { out = c.state.Status() })
	return out
}

func (c *Coordinator) Connected() bool {
	var out bool
	_ = c.loop.Invoke(func() { out = c.state.Connected() })
	return out
}

func (c *Coordinator) ConnectedAddress() string {
	var out string
	_ = c.loop.Invoke(func() { out = c.state.ConnectedAddress() })
	return out
}

// connection returns the current handle without taking the op mutex.
func (c *Coordinator) connection() gatt.Connection {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn
}

func (c *Coordinator) resolve(key string) (gatt.AttributeInfo, error) {
	var info gatt.AttributeInfo
	var rerr error
	if err := c.loop.Invoke(func() { info, rerr = c.state.Resolve(key) }); err != nil {
		return gatt.AttributeInfo{}, err
	}
	return info, rerr
}

// fail records a caught gateway failure to the diagnostic sink and turns it
// into a user-facing summary with a platform remediation hint. Raw transport
// errors never cross the coordinator boundary.
func (c *Coordinator) fail(action, tag string, err error) error {
	sinkPath := ""
	if c.sink != nil {
		c.sink.RecordError(tag, err)
		sinkPath = c.sink.Path()
	}

	summary := platform.FormatFailure(action, err.Error(), sinkPath)
	c.logger.WithError(err).WithField("op", tag).Error(action + " failed")

	_ = c.loop.Invoke(func() { c.state.SetStatus(summary) })
	return &OpError{Op: tag, Summary: summary, Err: err}
}
