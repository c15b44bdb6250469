// Package gatt defines the data model of a discovered attribute hierarchy
// and the Gateway contract the session layer drives. The go-ble backed
// implementation lives in gatt/goble; tests substitute mocks.
package gatt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DeviceRecord is one advertiser seen during a scan. Immutable once built;
// each scan produces a fresh collection.
type DeviceRecord struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	RSSI    int    `json:"rssi"`
}

// Capability is the set of operations a characteristic supports.
type Capability uint8

const (
	CapBroadcast Capability = 1 << iota
	CapRead
	CapWriteNoResponse
	CapWrite
	CapNotify
	CapIndicate
)

// Has reports whether all capabilities in mask are present.
func (c Capability) Has(mask Capability) bool {
	return c&mask == mask
}

// Notifiable reports whether the peripheral can push values unsolicited.
// Notify and indicate are modeled identically by the session layer.
func (c Capability) Notifiable() bool {
	return c&(CapNotify|CapIndicate) != 0
}

// String renders the capability set in the conventional property order.
func (c Capability) String() string {
	names := []struct {
		cap  Capability
		name string
	}{
		{CapBroadcast, "broadcast"},
		{CapRead, "read"},
		{CapWriteNoResponse, "write-without-response"},
		{CapWrite, "write"},
		{CapNotify, "notify"},
		{CapIndicate, "indicate"},
	}
	parts := make([]string, 0, len(names))
	for _, n := range names {
		if c&n.cap != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, ", ")
}

// AttributeInfo describes one characteristic within the current connection.
// Immutable per discovery cycle; the whole set is replaced atomically on
// each (re)discovery.
type AttributeInfo struct {
	// Key uniquely identifies the characteristic within this connection:
	// "<service-uuid>:<char-uuid>[:<handle>]". The handle suffix is present
	// only when the transport exposes a stable numeric handle, which keeps
	// keys unique when a peripheral repeats a characteristic UUID.
	Key          string
	UUID         string
	KnownName    string
	ServiceUUID  string
	Capabilities Capability

	// Handle is the transport-assigned numeric identifier, nil when the
	// transport does not expose one.
	Handle *uint16
}

// MakeKey builds the attribute key for a service/characteristic pair.
func MakeKey(serviceUUID, charUUID string, handle *uint16) string {
	if handle != nil {
		return fmt.Sprintf("%s:%s:%d", serviceUUID, charUUID, *handle)
	}
	return serviceUUID + ":" + charUUID
}

// Target addresses a characteristic for a transport operation, preferring
// the numeric handle when one exists.
type Target struct {
	Handle *uint16
	UUID   string
}

// TargetFor derives the transport target for an attribute.
func TargetFor(info AttributeInfo) Target {
	return Target{Handle: info.Handle, UUID: info.UUID}
}

func (t Target) String() string {
	if t.Handle != nil {
		return fmt.Sprintf("handle=%d", *t.Handle)
	}
	return t.UUID
}

// ServiceGroup is one service and its characteristics in discovery order.
type ServiceGroup struct {
	UUID            string
	KnownName       string
	Characteristics []AttributeInfo
}

// DiscoveryResult is the outcome of one discovery cycle.
type DiscoveryResult struct {
	Services            []ServiceGroup
	KeyByHandle         map[uint16]string
	ServiceCount        int
	CharacteristicCount int
}

// Notification is one unsolicited value delivery. Handle is non-nil when
// the transport identified the delivering characteristic numerically; it
// takes precedence over any key captured at subscribe time.
type Notification struct {
	Handle *uint16
	Data   []byte
}

// NotifyHandler receives unsolicited deliveries. It is invoked on a
// goroutine the caller does not control and must not retain Data.
type NotifyHandler func(n Notification)

// Connection is the opaque capability for one live connection. It is owned
// by the session coordinator and discarded atomically on disconnect; the
// gateway holds no other cross-call state.
type Connection interface {
	Address() string
	Discover() (*DiscoveryResult, error)
	Read(target Target, timeout time.Duration) ([]byte, error)
	Write(target Target, data []byte, withResponse bool, timeout time.Duration) error
	StartNotify(target Target, handler NotifyHandler) error
	StopNotify(target Target) error
	// Close tears the connection down. Best-effort and idempotent.
	Close() error
}

// Gateway is the session layer's view of the wireless transport.
type Gateway interface {
	// Scan discovers advertisers for the given duration. The returned order
	// is unspecified; the session layer sorts.
	Scan(ctx context.Context, timeout time.Duration) ([]DeviceRecord, error)

	// Connect dials address within timeout. onDisconnect fires at most once
	// if the transport drops the connection without a Close call; it is
	// invoked on a goroutine the caller does not control.
	Connect(ctx context.Context, address string, timeout time.Duration, onDisconnect func()) (Connection, error)
}

// Sentinel errors at the gateway boundary.
var (
	ErrTimeout      = errors.New("timeout")
	ErrBluetoothOff = errors.New("bluetooth is turned off")
	ErrNotFound     = errors.New("not found")
)

// NormalizeError maps known transport error strings onto structured
// sentinels so callers can match with errors.Is even if the upstream
// library rewords slightly.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case strings.Contains(msg, "central manager has invalid state"),
		strings.Contains(msg, "bluetooth is turned off"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	default:
		return err
	}
}
