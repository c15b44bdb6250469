// Package bledb resolves Bluetooth SIG assigned UUIDs to their registered
// names. Lookups accept 16-bit short form ("2a19"), dashed 128-bit form, or
// normalized 128-bit form; unassigned UUIDs resolve to "".
package bledb

import "strings"

// sigBaseSuffix is the tail of the Bluetooth base UUID
// 0000xxxx-0000-1000-8000-00805f9b34fb in normalized (no-dash) form.
const sigBaseSuffix = "00001000800000805f9b34fb"

// shortForm reduces a UUID to its 16-bit assigned-number form when it sits
// on the Bluetooth base UUID; otherwise returns the normalized input.
func shortForm(uuid string) string {
	u := strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
	if len(u) == 32 && strings.HasPrefix(u, "0000") && strings.HasSuffix(u, sigBaseSuffix) {
		return u[4:8]
	}
	return u
}

// LookupService returns the assigned name of a SIG service UUID, or "".
func LookupService(uuid string) string {
	return services[shortForm(uuid)]
}

// LookupCharacteristic returns the assigned name of a SIG characteristic
// UUID, or "".
func LookupCharacteristic(uuid string) string {
	return characteristics[shortForm(uuid)]
}

// LookupDescriptor returns the assigned name of a SIG descriptor UUID, or "".
func LookupDescriptor(uuid string) string {
	return descriptors[shortForm(uuid)]
}

// Assigned-number tables for the services, characteristics and descriptors
// commonly seen on consumer peripherals. Not exhaustive: unknown UUIDs are
// rendered bare by callers.
var services = map[string]string{
	"1800": "Generic Access",
	"1801": "Generic Attribute",
	"1802": "Immediate Alert",
	"1803": "Link Loss",
	"1804": "Tx Power",
	"1805": "Current Time",
	"180a": "Device Information",
	"180d": "Heart Rate",
	"180f": "Battery",
	"1810": "Blood Pressure",
	"1812": "Human Interface Device",
	"1816": "Cycling Speed and Cadence",
	"1818": "Cycling Power",
	"1819": "Location and Navigation",
	"181a": "Environmental Sensing",
	"181c": "User Data",
	"1826": "Fitness Machine",
	"fe59": "Nordic DFU",
}

var characteristics = map[string]string{
	"2a00": "Device Name",
	"2a01": "Appearance",
	"2a04": "Peripheral Preferred Connection Parameters",
	"2a05": "Service Changed",
	"2a19": "Battery Level",
	"2a23": "System ID",
	"2a24": "Model Number String",
	"2a25": "Serial Number String",
	"2a26": "Firmware Revision String",
	"2a27": "Hardware Revision String",
	"2a28": "Software Revision String",
	"2a29": "Manufacturer Name String",
	"2a37": "Heart Rate Measurement",
	"2a38": "Body Sensor Location",
	"2a39": "Heart Rate Control Point",
	"2a6d": "Pressure",
	"2a6e": "Temperature",
	"2a6f": "Humidity",
	"2a90": "Last Name",
	"2acc": "Fitness Machine Feature",
	"2ad2": "Indoor Bike Data",
}

var descriptors = map[string]string{
	"2900": "Characteristic Extended Properties",
	"2901": "Characteristic User Description",
	"2902": "Client Characteristic Configuration",
	"2903": "Server Characteristic Configuration",
	"2904": "Characteristic Presentation Format",
	"2905": "Characteristic Aggregate Format",
}
