package bledb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookupAcceptsAllUUIDForms(t *testing.T) {
	tests := []struct {
		name string
		uuid string
		want string
	}{
		{"short form", "2a19", "Battery Level"},
		{"short form uppercase", "2A19", "Battery Level"},
		{"dashed 128-bit on SIG base", "00002a19-0000-1000-8000-00805f9b34fb", "Battery Level"},
		{"normalized 128-bit on SIG base", "00002a1900001000800000805f9b34fb", "Battery Level"},
		{"wrong base tail does not resolve", "00002a1900001000800000805f9b34fc", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LookupCharacteristic(tt.uuid))
		})
	}
}

func TestLookupService(t *testing.T) {
	assert.Equal(t, "Heart Rate", LookupService("180d"))
	assert.Equal(t, "Battery", LookupService("0000180f-0000-1000-8000-00805f9b34fb"))
	assert.Equal(t, "", LookupService("ff30"), "vendor services are unassigned")
}

func TestLookupDescriptor(t *testing.T) {
	assert.Equal(t, "Client Characteristic Configuration", LookupDescriptor("2902"))
	assert.Equal(t, "", LookupDescriptor("abcd"))
}

func TestVendorUUIDPassesThroughUnresolved(t *testing.T) {
	// A 128-bit UUID off the SIG base must never collide with a short name.
	assert.Equal(t, "", LookupCharacteristic("6e400002-b5a3-f393-e0a9-e50e24dcca9e"))
}
