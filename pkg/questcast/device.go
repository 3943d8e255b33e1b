package questcast

import (
	"fmt"
	"strings"

	"github.com/thoas/go-funk"
)

// Transport is the channel over which the headset is currently reachable
type Transport string

const (
	TransportUSB     Transport = "usb"
	TransportWifi    Transport = "wifi"
	TransportUnknown Transport = "unknown"
)

// DeviceState is the authorization state adb reports for a device row. An
// empty state means nothing usable was detected
type DeviceState string

const (
	StateAuthorized   DeviceState = "device"
	StateUnauthorized DeviceState = "unauthorized"
	StateOffline      DeviceState = "offline"
	StateUnknown      DeviceState = ""
)

// knownDeviceStates is the vocabulary adb is known to emit. Anything else
// collapses to StateUnknown so newer adb versions can't break parsing
var knownDeviceStates = []string{
	string(StateAuthorized),
	string(StateUnauthorized),
	string(StateOffline),
}

// Device is an immutable snapshot of the detected headset, built fresh on
// every poll and replaced wholesale by the next one
type Device struct {
	Transport Transport
	State     DeviceState
	Serial    string
}

// noDevice is the canonical "nothing attached" record
var noDevice = Device{Transport: TransportUnknown, State: StateUnknown}

// IsWifi reports whether the device is reachable over TCP/IP
func (d Device) IsWifi() bool {
	return d.Transport == TransportWifi
}

// IsUSB reports whether the device is reachable over a cable
func (d Device) IsUSB() bool {
	return d.Transport == TransportUSB
}

// IsAuthorized reports whether the device granted debugging access
func (d Device) IsAuthorized() bool {
	return d.State == StateAuthorized
}

// IsConnected reports whether the device is present in any usable state
func (d Device) IsConnected() bool {
	return d.State != StateUnknown && d.State != StateOffline
}

func (d Device) String() string {
	if d.Serial == "" {
		return "<no device>"
	}

	state := string(d.State)
	if state == "" {
		state = "unknown"
	}

	return fmt.Sprintf("<%s %s: %s>", d.Transport, state, d.Serial)
}

func parseDeviceState(raw string) DeviceState {
	if funk.ContainsString(knownDeviceStates, raw) {
		return DeviceState(raw)
	}

	return StateUnknown
}

// parseDeviceList classifies the raw output of "adb devices -l" into a single
// canonical device record.
//
// The first line is the header adb always prints. Each remaining row is
// whitespace-delimited with the serial (an ip:port pair for TCP/IP rows) and
// the state as its first two tokens. Only the first row of each transport
// counts, and when both transports are present the Wi-Fi row wins: a user who
// went wireless keeps seeing wireless status while the cable is still plugged
// in.
func parseDeviceList(raw string) Device {
	var wifi, usb *Device

	lines := strings.Split(raw, "\n")
	if len(lines) > 0 {
		lines = lines[1:]
	}

	for _, line := range lines {

		// adb restarting its own server leaves banner lines between rows
		// ("* daemon not running; starting now at tcp:5037")
		if strings.HasPrefix(strings.TrimSpace(line), "*") {
			continue
		}

		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}

		serial, state := parts[0], parseDeviceState(parts[1])

		if strings.Contains(serial, ":") {
			if wifi == nil {
				wifi = &Device{Transport: TransportWifi, State: state, Serial: serial}
			}
		} else if usb == nil {
			usb = &Device{Transport: TransportUSB, State: state, Serial: serial}
		}
	}

	if wifi != nil {
		return *wifi
	}

	if usb != nil {
		return *usb
	}

	return noDevice
}

// parseWifiSerial returns the first ip:port serial in a raw device listing,
// or "" when none is present. Unlike parseDeviceList it sees the Wi-Fi row in
// whatever state it's in, even single-token rows
func parseWifiSerial(raw string) string {
	lines := strings.Split(raw, "\n")
	if len(lines) > 0 {
		lines = lines[1:]
	}

	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "*") {
			continue
		}

		parts := strings.Fields(line)
		if len(parts) > 0 && strings.Contains(parts[0], ":") {
			return parts[0]
		}
	}

	return ""
}
