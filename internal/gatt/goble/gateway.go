// Package goble implements the gatt.Gateway contract on top of go-ble.
package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/gattscope/internal/bledb"
	"github.com/srg/gattscope/internal/gatt"
	"github.com/srg/gattscope/internal/groutine"
)

// normalizeUUID converts a UUID string to the internal BLE library format
// (lowercase, no dashes).
func normalizeUUID(uuid string) string {
	return strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
}

// Gateway drives a go-ble device. It holds no state across calls; the
// connection handle it returns owns everything connection-scoped.
type Gateway struct {
	logger *logrus.Logger
}

// New creates a go-ble backed gateway.
func New(logger *logrus.Logger) *Gateway {
	if logger == nil {
		logger = logrus.New()
	}
	return &Gateway{logger: logger}
}

// Scan discovers advertisers until timeout elapses. Duplicate advertisements
// update the previously seen record (freshest RSSI, best-known name).
func (g *Gateway) Scan(ctx context.Context, timeout time.Duration) ([]gatt.DeviceRecord, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, gatt.NormalizeError(err)
	}

	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	g.logger.WithField("timeout", timeout).Info("Starting BLE scan")

	seen := hashmap.New[string, gatt.DeviceRecord]()
	order := make([]string, 0, 16)
	var orderMu sync.Mutex

	err = dev.Scan(scanCtx, true, func(adv ble.Advertisement) {
		addr := adv.Addr().String()

		rec, existing := seen.Get(addr)
		if !existing {
			orderMu.Lock()
			order = append(order, addr)
			orderMu.Unlock()
		}

		name := adv.LocalName()
		if name == "" {
			name = rec.Name // keep a name learned from an earlier advertisement
		}
		seen.Set(addr, gatt.DeviceRecord{Name: name, Address: addr, RSSI: adv.RSSI()})
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, gatt.NormalizeError(err)
	}

	// First-seen order; the session layer sorts by signal strength.
	orderMu.Lock()
	defer orderMu.Unlock()
	records := make([]gatt.DeviceRecord, 0, len(order))
	for _, addr := range order {
		if rec, ok := seen.Get(addr); ok {
			records = append(records, rec)
		}
	}

	g.logger.WithField("device_count", len(records)).Info("BLE scan completed")
	return records, nil
}

// Connect dials address within timeout and arms the unsolicited-disconnect
// watcher. The returned Connection is the session's opaque handle.
func (g *Gateway) Connect(ctx context.Context, address string, timeout time.Duration, onDisconnect func()) (gatt.Connection, error) {
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("device address is not set")
	}

	dev, err := DeviceFactory()
	if err != nil {
		return nil, gatt.NormalizeError(err)
	}
	ble.SetDefaultDevice(dev)

	connCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	g.logger.WithField("address", address).Info("Connecting to BLE device")

	client, err := ble.Dial(connCtx, ble.NewAddr(address))
	if err != nil {
		if connCtx.Err() != nil {
			return nil, fmt.Errorf("%w: connect to %q exceeded %v", gatt.ErrTimeout, address, timeout)
		}
		return nil, gatt.NormalizeError(fmt.Errorf("failed to connect to %q: %w", address, err))
	}

	conn := &connection{
		client:  client,
		address: address,
		logger:  g.logger,
	}

	// Watch for transport-initiated drops. A solicited Close marks the
	// connection first so the watcher stays silent.
	groutine.Go(context.Background(), "disconnect-watcher", func(context.Context) {
		<-client.Disconnected()
		if conn.closed.Load() {
			return
		}
		g.logger.WithField("address", address).Warn("BLE connection dropped by transport")
		if onDisconnect != nil {
			onDisconnect()
		}
	})

	return conn, nil
}

// connection implements gatt.Connection over a live ble.Client.
type connection struct {
	client  ble.Client
	address string
	logger  *logrus.Logger
	closed  atomic.Bool

	mu       sync.RWMutex
	byHandle map[uint16]*ble.Characteristic
	byUUID   map[string]*ble.Characteristic
}

func (c *connection) Address() string {
	return c.address
}

// Discover walks the GATT profile and builds the session's attribute view:
// service groups in profile order, attribute keys, and the handle index.
func (c *connection) Discover() (*gatt.DiscoveryResult, error) {
	profile, err := c.client.DiscoverProfile(true)
	if err != nil {
		return nil, gatt.NormalizeError(fmt.Errorf("failed to discover profile: %w", err))
	}

	result, byHandle, byUUID := mapProfile(profile)

	c.mu.Lock()
	c.byHandle = byHandle
	c.byUUID = byUUID
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"services":        result.ServiceCount,
		"characteristics": result.CharacteristicCount,
	}).Info("GATT discovery completed")
	return result, nil
}

// mapProfile converts a ble.Profile into a DiscoveryResult plus the lookup
// maps the connection needs for target resolution. Split out for tests.
func mapProfile(profile *ble.Profile) (*gatt.DiscoveryResult, map[uint16]*ble.Characteristic, map[string]*ble.Characteristic) {
	result := &gatt.DiscoveryResult{KeyByHandle: make(map[uint16]string)}
	byHandle := make(map[uint16]*ble.Characteristic)
	byUUID := make(map[string]*ble.Characteristic)

	for _, svc := range profile.Services {
		svcUUID := normalizeUUID(svc.UUID.String())
		group := gatt.ServiceGroup{
			UUID:      svcUUID,
			KnownName: bledb.LookupService(svcUUID),
		}

		for _, char := range svc.Characteristics {
			charUUID := normalizeUUID(char.UUID.String())

			var handle *uint16
			if char.ValueHandle != 0 {
				h := char.ValueHandle
				handle = &h
				byHandle[h] = char
			}
			if _, dup := byUUID[charUUID]; !dup {
				byUUID[charUUID] = char
			}

			key := gatt.MakeKey(svcUUID, charUUID, handle)
			if handle != nil {
				result.KeyByHandle[*handle] = key
			}

			group.Characteristics = append(group.Characteristics, gatt.AttributeInfo{
				Key:          key,
				UUID:         charUUID,
				KnownName:    bledb.LookupCharacteristic(charUUID),
				ServiceUUID:  svcUUID,
				Capabilities: propsToCapability(char.Property),
				Handle:       handle,
			})
			result.CharacteristicCount++
		}

		result.Services = append(result.Services, group)
		result.ServiceCount++
	}

	return result, byHandle, byUUID
}

// propsToCapability maps go-ble property bits onto the session model.
func propsToCapability(p ble.Property) gatt.Capability {
	var caps gatt.Capability
	if p&ble.CharBroadcast != 0 {
		caps |= gatt.CapBroadcast
	}
	if p&ble.CharRead != 0 {
		caps |= gatt.CapRead
	}
	if p&ble.CharWriteNR != 0 {
		caps |= gatt.CapWriteNoResponse
	}
	if p&ble.CharWrite != 0 {
		caps |= gatt.CapWrite
	}
	if p&ble.CharNotify != 0 {
		caps |= gatt.CapNotify
	}
	if p&ble.CharIndicate != 0 {
		caps |= gatt.CapIndicate
	}
	return caps
}

// resolve finds the live characteristic for a target, preferring the handle.
func (c *connection) resolve(target gatt.Target) (*ble.Characteristic, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if target.Handle != nil {
		if char, ok := c.byHandle[*target.Handle]; ok {
			return char, nil
		}
		return nil, fmt.Errorf("%w: characteristic handle %d", gatt.ErrNotFound, *target.Handle)
	}
	if char, ok := c.byUUID[normalizeUUID(target.UUID)]; ok {
		return char, nil
	}
	return nil, fmt.Errorf("%w: characteristic %q", gatt.ErrNotFound, target.UUID)
}

// callWithTimeout runs a blocking client call with a deadline. The client
// API itself has no per-call timeouts; the spare goroutine parks until the
// call returns and then exits.
func callWithTimeout[T any](timeout time.Duration, what string, fn func() (T, error)) (T, error) {
	type outcome struct {
		v   T
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		v, err := fn()
		ch <- outcome{v, err}
	}()

	select {
	case out := <-ch:
		return out.v, out.err
	case <-time.After(timeout):
		var zero T
		return zero, fmt.Errorf("%w: %s exceeded %v", gatt.ErrTimeout, what, timeout)
	}
}

func (c *connection) Read(target gatt.Target, timeout time.Duration) ([]byte, error) {
	char, err := c.resolve(target)
	if err != nil {
		return nil, err
	}

	data, err := callWithTimeout(timeout, "read", func() ([]byte, error) {
		return c.client.ReadCharacteristic(char)
	})
	if err != nil {
		return nil, gatt.NormalizeError(fmt.Errorf("failed to read characteristic %s: %w", target, err))
	}
	return data, nil
}

func (c *connection) Write(target gatt.Target, data []byte, withResponse bool, timeout time.Duration) error {
	char, err := c.resolve(target)
	if err != nil {
		return err
	}

	_, err = callWithTimeout(timeout, "write", func() (struct{}, error) {
		return struct{}{}, c.client.WriteCharacteristic(char, data, !withResponse)
	})
	if err != nil {
		return gatt.NormalizeError(fmt.Errorf("failed to write characteristic %s: %w", target, err))
	}
	return nil
}

// StartNotify subscribes to the characteristic, using indications only when
// the characteristic does not support notifications. Every delivery carries
// the characteristic's value handle so the session can re-resolve the key.
func (c *connection) StartNotify(target gatt.Target, handler gatt.NotifyHandler) error {
	char, err := c.resolve(target)
	if err != nil {
		return err
	}

	indicate := char.Property&ble.CharNotify == 0 && char.Property&ble.CharIndicate != 0

	var handle *uint16
	if char.ValueHandle != 0 {
		h := char.ValueHandle
		handle = &h
	}

	err = c.client.Subscribe(char, indicate, func(data []byte) {
		handler(gatt.Notification{Handle: handle, Data: data})
	})
	if err != nil {
		return gatt.NormalizeError(fmt.Errorf("failed to subscribe to %s: %w", target, err))
	}
	return nil
}

// StopNotify unsubscribes both flavors; it fails only when notify and
// indicate both fail, mirroring the lenient teardown semantics peripherals
// tend to need.
func (c *connection) StopNotify(target gatt.Target) error {
	char, err := c.resolve(target)
	if err != nil {
		return err
	}

	notifyErr := c.client.Unsubscribe(char, false)
	indicateErr := c.client.Unsubscribe(char, true)
	if notifyErr != nil && indicateErr != nil {
		return gatt.NormalizeError(fmt.Errorf("failed to unsubscribe from %s: notify=%v, indicate=%v", target, notifyErr, indicateErr))
	}
	return nil
}

// Close tears the connection down. Idempotent; the disconnect watcher is
// silenced before the transport call so a solicited close never surfaces as
// an unsolicited disconnect.
func (c *connection) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := c.client.CancelConnection(); err != nil {
		return gatt.NormalizeError(fmt.Errorf("failed to cancel connection: %w", err))
	}
	return nil
}
