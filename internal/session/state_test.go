package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/gattscope/internal/codec"
	"github.com/srg/gattscope/internal/gatt"
)

func testDiscovery() *gatt.DiscoveryResult {
	h7 := uint16(7)
	h9 := uint16(9)
	h20 := uint16(20)

	return &gatt.DiscoveryResult{
		Services: []gatt.ServiceGroup{
			{
				UUID:      "180d",
				KnownName: "Heart Rate",
				Characteristics: []gatt.AttributeInfo{
					{Key: "180d:2a37:7", UUID: "2a37", ServiceUUID: "180d", Capabilities: gatt.CapNotify, Handle: &h7},
					{Key: "180d:2a38:9", UUID: "2a38", ServiceUUID: "180d", Capabilities: gatt.CapRead, Handle: &h9},
				},
			},
			{
				UUID: "fff0",
				Characteristics: []gatt.AttributeInfo{
					{Key: "fff0:fff1:20", UUID: "fff1", ServiceUUID: "fff0", Capabilities: gatt.CapWrite | gatt.CapWriteNoResponse, Handle: &h20},
				},
			},
		},
		KeyByHandle: map[uint16]string{
			7:  "180d:2a37:7",
			9:  "180d:2a38:9",
			20: "fff0:fff1:20",
		},
		ServiceCount:        2,
		CharacteristicCount: 3,
	}
}

// twoHandleDiscovery exposes the same characteristic id under two handles.
func twoHandleDiscovery() *gatt.DiscoveryResult {
	h5 := uint16(5)
	h8 := uint16(8)

	return &gatt.DiscoveryResult{
		Services: []gatt.ServiceGroup{
			{
				UUID: "fff0",
				Characteristics: []gatt.AttributeInfo{
					{Key: "fff0:fff1:5", UUID: "fff1", ServiceUUID: "fff0", Capabilities: gatt.CapRead, Handle: &h5},
					{Key: "fff0:fff1:8", UUID: "fff1", ServiceUUID: "fff0", Capabilities: gatt.CapNotify, Handle: &h8},
				},
			},
		},
		KeyByHandle:         map[uint16]string{5: "fff0:fff1:5", 8: "fff0:fff1:8"},
		ServiceCount:        1,
		CharacteristicCount: 2,
	}
}

func TestState_Resolve(t *testing.T) {
	s := NewState(10)
	s.SetDiscovery("AA:BB", testDiscovery())

	info, err := s.Resolve("180d:2a38:9")
	require.NoError(t, err)
	assert.Equal(t, "2a38", info.UUID)
	assert.True(t, info.Capabilities.Has(gatt.CapRead))

	_, err = s.Resolve("180d:ffff:1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestState_ResolveDistinguishesHandles(t *testing.T) {
	// GOAL: Two attributes sharing a characteristic id but different handles
	// resolve to distinct entries.
	s := NewState(10)
	s.SetDiscovery("AA:BB", twoHandleDiscovery())

	a, err := s.Resolve("fff0:fff1:5")
	require.NoError(t, err)
	b, err := s.Resolve("fff0:fff1:8")
	require.NoError(t, err)

	assert.Equal(t, a.UUID, b.UUID)
	assert.NotEqual(t, *a.Handle, *b.Handle)
	assert.True(t, a.Capabilities.Has(gatt.CapRead))
	assert.True(t, b.Capabilities.Has(gatt.CapNotify))
}

func TestState_AppendValueRoundTrip(t *testing.T) {
	// GOAL: A JSON payload yields an entry whose hex decodes back to the
	// original bytes and whose JSON rendering matches the payload; a
	// non-UTF-8 payload yields no JSON rendering.
	s := NewState(10)
	s.SetDiscovery("AA:BB", testDiscovery())

	raw := []byte(`{"a":1}`)
	entry := s.AppendValue("180d:2a38:9", raw)

	assert.Equal(t, len(raw), entry.Size)
	decoded, err := codec.ParseHexGroups(entry.Hex)
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)
	require.True(t, entry.HasJSON)
	assert.JSONEq(t, `{"a":1}`, entry.JSON)

	binary := s.AppendValue("180d:2a38:9", []byte{0xff, 0xfe})
	assert.False(t, binary.HasJSON)
	assert.Equal(t, "ff fe", binary.Hex)

	last, ok := s.LastRaw("180d:2a38:9")
	require.True(t, ok)
	assert.Equal(t, []byte{0xff, 0xfe}, last)
}

func TestState_AppendValueSequenceIsStrictlyIncreasing(t *testing.T) {
	// GOAL: Every appended entry gets a strictly larger sequence number,
	// even across keys, history clears, and bursts sharing one timestamp,
	// so pollers can track progress without losing same-timestamp entries.
	s := NewState(10)
	s.SetDiscovery("AA:BB", testDiscovery())

	first := s.AppendValue("180d:2a37:7", []byte{0x01})
	second := s.AppendValue("180d:2a37:7", []byte{0x02})
	other := s.AppendValue("180d:2a38:9", []byte{0x03})

	assert.Greater(t, second.Seq, first.Seq, "sequence MUST increase within a key")
	assert.Greater(t, other.Seq, second.Seq, "sequence MUST increase across keys")

	s.ClearHistory("180d:2a37:7")
	after := s.AppendValue("180d:2a37:7", []byte{0x04})
	assert.Greater(t, after.Seq, other.Seq, "sequence MUST NOT restart after a clear")
}

func TestState_LogRingEviction(t *testing.T) {
	s := NewState(3)
	s.SetDiscovery("AA:BB", testDiscovery())

	for i := byte(0); i < 5; i++ {
		s.AppendValue("180d:2a37:7", []byte{i})
	}

	log := s.Log("180d:2a37:7")
	require.Len(t, log, 3, "ring MUST NOT exceed its capacity")
	assert.Equal(t, "02", log[0].Hex)
	assert.Equal(t, "04", log[2].Hex)
}

func TestState_ClearHistoryIsolation(t *testing.T) {
	// GOAL: Clearing one key's history removes its entries and last value
	// while other keys and the subscription set stay untouched.
	s := NewState(10)
	s.SetDiscovery("AA:BB", testDiscovery())
	s.AddSubscription("180d:2a37:7")

	for i := byte(0); i < 5; i++ {
		s.AppendValue("180d:2a37:7", []byte{i})
	}
	for i := byte(0); i < 3; i++ {
		s.AppendValue("180d:2a38:9", []byte{i})
	}

	s.ClearHistory("180d:2a37:7")

	assert.Empty(t, s.Log("180d:2a37:7"))
	_, ok := s.LastRaw("180d:2a37:7")
	assert.False(t, ok)

	assert.Len(t, s.Log("180d:2a38:9"), 3, "unrelated key's entries MUST remain")
	assert.True(t, s.IsSubscribed("180d:2a37:7"), "subscription state MUST survive a history clear")
}

func TestState_ClearConnectionResetsEverythingTogether(t *testing.T) {
	s := NewState(10)
	s.ReplaceDevices([]gatt.DeviceRecord{{Name: "hr", Address: "AA:BB", RSSI: -40}})
	s.SetDiscovery("AA:BB", testDiscovery())
	s.AddSubscription("180d:2a37:7")
	s.AppendValue("180d:2a37:7", []byte{1})

	s.ClearConnection()

	assert.False(t, s.Connected())
	assert.Empty(t, s.ConnectedAddress())
	assert.Empty(t, s.Services())
	assert.Empty(t, s.SubscribedKeys())
	assert.Empty(t, s.Log("180d:2a37:7"))
	_, ok := s.LastRaw("180d:2a37:7")
	assert.False(t, ok)
	_, ok = s.KeyForHandle(7)
	assert.False(t, ok)

	assert.Len(t, s.Devices(), 1, "scan results MUST survive a disconnect")
}

func TestState_ScanNeverTouchesConnectionState(t *testing.T) {
	s := NewState(10)
	s.SetDiscovery("AA:BB", testDiscovery())
	s.AddSubscription("180d:2a37:7")
	s.AppendValue("180d:2a37:7", []byte{1})

	s.ReplaceDevices([]gatt.DeviceRecord{{Address: "CC:DD", RSSI: -50}})

	assert.True(t, s.Connected())
	assert.Len(t, s.Services(), 2)
	assert.Equal(t, []string{"180d:2a37:7"}, s.SubscribedKeys())
	assert.Len(t, s.Log("180d:2a37:7"), 1)
}

func TestState_DiscoveryReplacementIsWholesale(t *testing.T) {
	s := NewState(10)
	s.SetDiscovery("AA:BB", testDiscovery())
	s.AddSubscription("180d:2a37:7")
	s.AppendValue("180d:2a37:7", []byte{1})

	s.SetDiscovery("AA:BB", twoHandleDiscovery())

	assert.Len(t, s.Services(), 1)
	assert.Empty(t, s.SubscribedKeys(), "rediscovery replaces the subscription set")
	assert.Empty(t, s.Log("180d:2a37:7"))

	key, ok := s.KeyForHandle(5)
	require.True(t, ok)
	assert.Equal(t, "fff0:fff1:5", key)
	_, ok = s.KeyForHandle(7)
	assert.False(t, ok, "old handle index MUST be gone")
}
