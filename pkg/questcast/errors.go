package questcast

import "errors"

// Failure kinds surfaced by the adb bridge, the wireless sequencer and the
// cast launcher. Callers match these with errors.Is; wrapped variants carry
// the raw tool output as detail.
var (
	ErrExecutableNotFound = errors.New("executable could not be found or started")
	ErrCommandTimeout     = errors.New("command timed out")

	ErrIPDiscovery      = errors.New("no Wi-Fi IP found on device")
	ErrWirelessEnable   = errors.New("failed to enable wireless mode")
	ErrWirelessConnect  = errors.New("wireless connect failed")
	ErrAuthorizeTimeout = errors.New("timed out waiting for device authorization")

	ErrNotAuthorized  = errors.New("device detected but not authorized")
	ErrNotConnected   = errors.New("no usable device connected")
	ErrMirrorNotFound = errors.New("mirroring executable not found")
	ErrLaunch         = errors.New("failed to start mirroring process")
)
