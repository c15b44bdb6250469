// Package platform maps transport failures to platform-appropriate
// remediation hints for user-facing messages.
package platform

import (
	"runtime"
	"strings"
)

// Name identifies the running platform for hint selection.
type Name string

const (
	Linux   Name = "linux"
	MacOS   Name = "macos"
	Windows Name = "windows"
	Unknown Name = "unknown"
)

// Current returns the platform the process is running on.
func Current() Name {
	return FromGOOS(runtime.GOOS)
}

// FromGOOS converts a GOOS value to a platform Name. Split out so tests can
// exercise every branch without cross-compiling.
func FromGOOS(goos string) Name {
	switch goos {
	case "linux":
		return Linux
	case "darwin":
		return MacOS
	case "windows":
		return Windows
	default:
		return Unknown
	}
}

// Failure-signature token sets. Classification is over lowercased error
// text; the transport does not expose structured causes for these.
var (
	adapterUnavailableTokens = []string{
		"bluetooth is turned off",
		"bluetooth is unsupported",
		"bluetooth is not ready",
		"central manager has invalid state",
		"no bluetooth adapter",
		"can't init device",
	}
	linuxStackTokens = []string{
		"org.bluez",
		"bluez",
		"dbus",
		"permission denied",
		"operation not permitted",
		"hci",
	}
)

func containsAny(text string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}

// Hint classifies a failure's textual detail and returns the remediation
// string for the given platform.
func Hint(detail string, plat Name) string {
	text := strings.ToLower(detail)

	if containsAny(text, adapterUnavailableTokens) {
		switch plat {
		case Windows:
			return "Check that Bluetooth is enabled and a BLE adapter is available."
		case Linux:
			return "Check the Bluetooth adapter, ensure bluetoothd is running, and verify BlueZ permissions."
		case MacOS:
			return "Check Bluetooth is enabled and grant the terminal Bluetooth permission in System Settings."
		default:
			return "Check Bluetooth is enabled and an adapter is available."
		}
	}

	if plat == Linux && containsAny(text, linuxStackTokens) {
		return "Ensure BlueZ/dbus are installed and running, then retry with sufficient permissions."
	}

	if plat == Windows && strings.Contains(text, "access is denied") {
		return "Run with an account that has Bluetooth access and confirm adapter permissions."
	}

	return "Check Bluetooth availability and platform BLE prerequisites."
}

// FormatFailure composes the user-facing summary for a failed operation.
// The sink path tells the user where the full detail was recorded; an empty
// path omits the reference.
func FormatFailure(action, detail, sinkPath string) string {
	msg := action + " failed: " + Hint(detail, Current())
	if sinkPath != "" {
		msg += " (details in " + sinkPath + ")"
	}
	return msg
}
