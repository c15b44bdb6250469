package goble

import (
	"testing"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/gattscope/internal/gatt"
)

func heartRateProfile() *ble.Profile {
	return &ble.Profile{
		Services: []*ble.Service{
			{
				UUID: ble.MustParse("180d"),
				Characteristics: []*ble.Characteristic{
					{
						UUID:        ble.MustParse("2a37"),
						Property:    ble.CharNotify,
						ValueHandle: 7,
					},
					{
						UUID:        ble.MustParse("2a38"),
						Property:    ble.CharRead,
						ValueHandle: 9,
					},
				},
			},
			{
				UUID: ble.MustParse("180f"),
				Characteristics: []*ble.Characteristic{
					{
						UUID:        ble.MustParse("2a19"),
						Property:    ble.CharRead | ble.CharNotify,
						ValueHandle: 12,
					},
				},
			},
		},
	}
}

func TestMapProfile(t *testing.T) {
	// GOAL: Discovery output preserves profile order, derives stable keys
	// with handle suffixes, and indexes every handle back to its key.
	result, byHandle, byUUID := mapProfile(heartRateProfile())

	require.Equal(t, 2, result.ServiceCount)
	require.Equal(t, 3, result.CharacteristicCount)

	hr := result.Services[0]
	assert.Equal(t, "180d", hr.UUID)
	assert.Equal(t, "Heart Rate", hr.KnownName)
	require.Len(t, hr.Characteristics, 2)

	meas := hr.Characteristics[0]
	assert.Equal(t, "180d:2a37:7", meas.Key)
	assert.Equal(t, "Heart Rate Measurement", meas.KnownName)
	assert.True(t, meas.Capabilities.Notifiable())
	assert.False(t, meas.Capabilities.Has(gatt.CapRead))
	require.NotNil(t, meas.Handle)
	assert.Equal(t, uint16(7), *meas.Handle)

	battery := result.Services[1].Characteristics[0]
	assert.Equal(t, "180f:2a19:12", battery.Key)
	assert.True(t, battery.Capabilities.Has(gatt.CapRead|gatt.CapNotify))

	assert.Equal(t, "180d:2a37:7", result.KeyByHandle[7])
	assert.Equal(t, "180f:2a19:12", result.KeyByHandle[12])

	assert.Contains(t, byHandle, uint16(9))
	assert.Contains(t, byUUID, "2a19")
}

func TestMapProfile_NoValueHandle(t *testing.T) {
	// Transports that expose no numeric handle still produce usable keys.
	profile := &ble.Profile{
		Services: []*ble.Service{
			{
				UUID: ble.MustParse("180f"),
				Characteristics: []*ble.Characteristic{
					{UUID: ble.MustParse("2a19"), Property: ble.CharRead},
				},
			},
		},
	}

	result, byHandle, byUUID := mapProfile(profile)

	require.Len(t, result.Services, 1)
	char := result.Services[0].Characteristics[0]
	assert.Equal(t, "180f:2a19", char.Key)
	assert.Nil(t, char.Handle)
	assert.Empty(t, result.KeyByHandle)
	assert.Empty(t, byHandle)
	assert.Contains(t, byUUID, "2a19")
}

func TestPropsToCapability(t *testing.T) {
	caps := propsToCapability(ble.CharRead | ble.CharWriteNR | ble.CharIndicate)

	assert.True(t, caps.Has(gatt.CapRead))
	assert.True(t, caps.Has(gatt.CapWriteNoResponse))
	assert.True(t, caps.Has(gatt.CapIndicate))
	assert.False(t, caps.Has(gatt.CapWrite))
	assert.False(t, caps.Has(gatt.CapNotify))
}

func TestNormalizeUUIDForms(t *testing.T) {
	assert.Equal(t, "2a37", normalizeUUID("2A37"))
	assert.Equal(t,
		"0000180d00001000800000805f9b34fb",
		normalizeUUID("0000180D-0000-1000-8000-00805F9B34FB"))
}
