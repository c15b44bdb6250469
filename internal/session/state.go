package session

import (
	"fmt"
	"sort"

	"github.com/cornelk/hashmap"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/gattscope/internal/gatt"
	"github.com/srg/gattscope/internal/logring"
)

// State is the authoritative session model: scan results, the discovered
// attribute hierarchy, the subscription set, and per-attribute value logs.
//
// All mutations happen on the session loop goroutine; the coordinator
// marshals every access through Loop.Invoke. The handle index uses a
// lock-free map so notification resolution stays cheap even when snapshots
// are taken concurrently.
type State struct {
	devices []gatt.DeviceRecord

	connected     bool
	connectedAddr string

	services    *orderedmap.OrderedMap[string, gatt.ServiceGroup]
	keyByHandle *hashmap.Map[uint16, string]
	subscribed  map[string]struct{}
	logs        map[string]*logring.Ring[ValueEntry]
	lastRaw     map[string][]byte

	logCapacity int
	status      string

	// seq numbers every appended ValueEntry. Never reset, so entries stay
	// strictly ordered across reconnects and history clears.
	seq uint64
}

// NewState creates an empty session model whose per-key log rings hold at
// most logCapacity entries.
func NewState(logCapacity int) *State {
	if logCapacity <= 0 {
		logCapacity = 100
	}
	s := &State{logCapacity: logCapacity}
	s.resetConnectionScoped()
	return s
}

func (s *State) resetConnectionScoped() {
	s.connected = false
	s.connectedAddr = ""
	s.services = orderedmap.New[string, gatt.ServiceGroup]()
	s.keyByHandle = hashmap.New[uint16, string]()
	s.subscribed = make(map[string]struct{})
	s.logs = make(map[string]*logring.Ring[ValueEntry])
	s.lastRaw = make(map[string][]byte)
}

// ReplaceDevices swaps the scan result list wholesale. Attribute and
// subscription state are untouched; scan results and the live connection
// are independent.
func (s *State) ReplaceDevices(devices []gatt.DeviceRecord) {
	s.devices = devices
}

// Devices returns a copy of the last scan's results, strongest signal first.
func (s *State) Devices() []gatt.DeviceRecord {
	out := make([]gatt.DeviceRecord, len(s.devices))
	copy(out, s.devices)
	return out
}

// SetDiscovery installs a fresh discovery result for the given address,
// replacing every connection-scoped map in one step. Nothing ever observes
// a partially populated hierarchy.
func (s *State) SetDiscovery(address string, result *gatt.DiscoveryResult) {
	services := orderedmap.New[string, gatt.ServiceGroup]()
	byHandle := hashmap.New[uint16, string]()
	for _, svc := range result.Services {
		services.Set(svc.UUID, svc)
	}
	for handle, key := range result.KeyByHandle {
		byHandle.Set(handle, key)
	}

	s.connected = true
	s.connectedAddr = address
	s.services = services
	s.keyByHandle = byHandle
	s.subscribed = make(map[string]struct{})
	s.logs = make(map[string]*logring.Ring[ValueEntry])
	s.lastRaw = make(map[string][]byte)
}

// ClearConnection resets every connection-scoped field together. The scan
// result list survives.
func (s *State) ClearConnection() {
	s.resetConnectionScoped()
}

// Connected reports whether a discovery-backed connection is active.
func (s *State) Connected() bool {
	return s.connected
}

// ConnectedAddress returns the active peer address, empty when disconnected.
func (s *State) ConnectedAddress() string {
	return s.connectedAddr
}

// Resolve finds the attribute whose key matches exactly. A linear walk is
// fine; attribute counts are tens, not millions.
func (s *State) Resolve(key string) (gatt.AttributeInfo, error) {
	for pair := s.services.Oldest(); pair != nil; pair = pair.Next() {
		for _, info := range pair.Value.Characteristics {
			if info.Key == key {
				return info, nil
			}
		}
	}
	return gatt.AttributeInfo{}, fmt.Errorf("%w: characteristic %q", ErrNotFound, key)
}

// KeyForHandle resolves a transport handle to its attribute key.
func (s *State) KeyForHandle(handle uint16) (string, bool) {
	return s.keyByHandle.Get(handle)
}

// Services returns the discovered hierarchy in discovery order.
func (s *State) Services() []gatt.ServiceGroup {
	out := make([]gatt.ServiceGroup, 0, s.services.Len())
	for pair := s.services.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// AddSubscription records a successful notify start for key.
func (s *State) AddSubscription(key string) {
	s.subscribed[key] = struct{}{}
}

// RemoveSubscription records a successful notify stop for key.
func (s *State) RemoveSubscription(key string) {
	delete(s.subscribed, key)
}

// IsSubscribed reports whether notifications are active for key.
func (s *State) IsSubscribed(key string) bool {
	_, ok := s.subscribed[key]
	return ok
}

// SubscribedKeys returns the subscription set, sorted for stable rendering.
func (s *State) SubscribedKeys() []string {
	keys := make([]string, 0, len(s.subscribed))
	for k := range s.subscribed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AppendValue decodes raw and appends the entry to key's log ring, creating
// the ring on first use. The raw payload is retained as the key's last value.
func (s *State) AppendValue(key string, raw []byte) ValueEntry {
	entry := NewValueEntry(raw)
	s.seq++
	entry.Seq = s.seq

	ring, ok := s.logs[key]
	if !ok {
		ring = logring.New[ValueEntry](s.logCapacity)
		s.logs[key] = ring
	}
	ring.Append(entry)

	s.lastRaw[key] = append([]byte(nil), raw...)
	return entry
}

// Log returns key's value history, oldest first.
func (s *State) Log(key string) []ValueEntry {
	ring, ok := s.logs[key]
	if !ok {
		return nil
	}
	return ring.Snapshot()
}

// LastRaw returns a copy of the most recent raw payload seen for key.
func (s *State) LastRaw(key string) ([]byte, bool) {
	raw, ok := s.lastRaw[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), raw...), true
}

// ClearHistory empties key's log ring and last value. Subscription state and
// other keys' logs are untouched.
func (s *State) ClearHistory(key string) {
	delete(s.logs, key)
	delete(s.lastRaw, key)
}

// SetStatus records the human-readable session status line.
func (s *State) SetStatus(status string) {
	s.status = status
}

// Status returns the current status line.
func (s *State) Status() string {
	return s.status
}
