package testutils

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/srg/gattscope/internal/gatt"
)

// MockGateway is a testify mock of gatt.Gateway. The disconnect callback
// passed to Connect is captured so tests can simulate a transport-initiated
// drop with TriggerDisconnect.
type MockGateway struct {
	mock.Mock

	mu           sync.Mutex
	onDisconnect func()
}

func (m *MockGateway) Scan(ctx context.Context, timeout time.Duration) ([]gatt.DeviceRecord, error) {
	args := m.Called(ctx, timeout)
	var records []gatt.DeviceRecord
	if v := args.Get(0); v != nil {
		records = v.([]gatt.DeviceRecord)
	}
	return records, args.Error(1)
}

func (m *MockGateway) Connect(ctx context.Context, address string, timeout time.Duration, onDisconnect func()) (gatt.Connection, error) {
	m.mu.Lock()
	m.onDisconnect = onDisconnect
	m.mu.Unlock()

	args := m.Called(ctx, address, timeout)
	var conn gatt.Connection
	if v := args.Get(0); v != nil {
		conn = v.(gatt.Connection)
	}
	return conn, args.Error(1)
}

// TriggerDisconnect fires the disconnect callback captured by the most
// recent Connect, simulating an unsolicited transport drop.
func (m *MockGateway) TriggerDisconnect() {
	m.mu.Lock()
	fn := m.onDisconnect
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// MockConnection is a testify mock of gatt.Connection. Notify handlers
// registered through StartNotify are captured per target so tests can
// deliver unsolicited values with Notify.
type MockConnection struct {
	mock.Mock

	mu       sync.Mutex
	handlers map[string]gatt.NotifyHandler
}

func (m *MockConnection) Address() string {
	return m.Called().String(0)
}

func (m *MockConnection) Discover() (*gatt.DiscoveryResult, error) {
	args := m.Called()
	var result *gatt.DiscoveryResult
	if v := args.Get(0); v != nil {
		result = v.(*gatt.DiscoveryResult)
	}
	return result, args.Error(1)
}

func (m *MockConnection) Read(target gatt.Target, timeout time.Duration) ([]byte, error) {
	args := m.Called(target, timeout)
	var data []byte
	if v := args.Get(0); v != nil {
		data = v.([]byte)
	}
	return data, args.Error(1)
}

func (m *MockConnection) Write(target gatt.Target, data []byte, withResponse bool, timeout time.Duration) error {
	return m.Called(target, data, withResponse, timeout).Error(0)
}

func (m *MockConnection) StartNotify(target gatt.Target, handler gatt.NotifyHandler) error {
	err := m.Called(target).Error(0)
	if err == nil {
		m.mu.Lock()
		if m.handlers == nil {
			m.handlers = make(map[string]gatt.NotifyHandler)
		}
		m.handlers[target.String()] = handler
		m.mu.Unlock()
	}
	return err
}

func (m *MockConnection) StopNotify(target gatt.Target) error {
	return m.Called(target).Error(0)
}

func (m *MockConnection) Close() error {
	return m.Called().Error(0)
}

// Notify delivers an unsolicited value through the handler registered for
// target. Returns false when no subscription is active for it.
func (m *MockConnection) Notify(target gatt.Target, n gatt.Notification) bool {
	m.mu.Lock()
	handler, ok := m.handlers[target.String()]
	m.mu.Unlock()
	if !ok {
		return false
	}
	handler(n)
	return true
}
