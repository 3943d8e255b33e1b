package questcast

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/loginvr/questcast/pkg/questcast/util"
)

// cmdResult is the outcome of a single external command invocation. A nonzero
// exit code is a normal outcome here (adb reports plenty of conditions that
// way); output carries merged stdout and stderr
type cmdResult struct {
	exitCode int
	output   string
}

// commandRunner abstracts process spawning so device logic can be exercised
// without an adb binary present
type commandRunner interface {
	run(args []string, timeout time.Duration) (cmdResult, error)
}

// execRunner runs a fixed executable with the platform's hidden-window
// attributes and a per-call deadline
type execRunner struct {
	path   string
	logger *zap.SugaredLogger
}

func (er *execRunner) run(args []string, timeout time.Duration) (cmdResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	command := exec.CommandContext(ctx, er.path, args...)
	command.SysProcAttr = util.HiddenWindowAttr()

	output, err := command.CombinedOutput()

	if ctx.Err() == context.DeadlineExceeded {
		er.logger.Warnw("Command timed out",
			"args", args,
			"timeout", timeout)

		return cmdResult{}, fmt.Errorf("%w after %s: %s %s",
			ErrCommandTimeout, timeout, er.path, strings.Join(args, " "))
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {

			// nonzero exit isn't an error at this layer, callers read the output
			return cmdResult{exitCode: exitErr.ExitCode(), output: string(output)}, nil
		}

		return cmdResult{}, fmt.Errorf("%w: %s: %v", ErrExecutableNotFound, er.path, err)
	}

	return cmdResult{output: string(output)}, nil
}

var wifiIPPattern = regexp.MustCompile(`inet\s+(\d+\.\d+\.\d+\.\d+)`)

const (
	// switching to tcpip mode restarts the device-side daemon, so that call
	// gets extra slack over the configured timeout
	wirelessCmdTimeoutFactor = 3

	adbServerWarmupTimeout = 10 * time.Second
)

// ADBBridge drives the external adb executable: device listing, Wi-Fi IP
// discovery and connection mode management. Calls block for up to their
// timeout; the connection session serializes them
type ADBBridge struct {
	qc     *QuestCast
	logger *zap.SugaredLogger

	lock   sync.RWMutex
	path   string
	runner commandRunner
}

// NewADBBridge creates an ADBBridge instance. The adb executable itself is
// resolved later, during initialization and on config reloads
func NewADBBridge(qc *QuestCast, logger *zap.SugaredLogger) (*ADBBridge, error) {
	logger = logger.Named("adb")

	ab := &ADBBridge{
		qc:     qc,
		logger: logger,
	}

	logger.Debug("Created ADB bridge instance")

	ab.setupOnConfigReload()

	return ab, nil
}

// initialize resolves the adb executable and makes sure the local adb server
// is up so the first poll doesn't pay its cold-start latency
func (ab *ADBBridge) initialize() {
	ab.resolvePath()
	ab.warmUpServer()
}

func (ab *ADBBridge) resolvePath() {
	path, err := util.FindExecutable("adb", ab.qc.config.ADBPath)
	if err != nil {
		ab.logger.Warnw("adb executable not found, device detection will stay unknown", "error", err)

		// keep a spawnable name around so an install that happens while we're
		// running is picked up without a restart
		path = "adb"
	}

	ab.lock.Lock()
	ab.path = path
	ab.runner = &execRunner{path: path, logger: ab.logger}
	ab.lock.Unlock()

	ab.logger.Debugw("Resolved adb executable", "path", path)
}

// available reports whether the adb executable was actually found
func (ab *ADBBridge) available() bool {
	_, err := util.FindExecutable("adb", ab.qc.config.ADBPath)
	return err == nil
}

func (ab *ADBBridge) setupOnConfigReload() {
	configReloadedChannel := ab.qc.config.SubscribeToChanges()

	go func() {
		for range configReloadedChannel {
			ab.resolvePath()
		}
	}()
}

func (ab *ADBBridge) run(args []string, timeout time.Duration) (cmdResult, error) {
	ab.lock.RLock()
	runner := ab.runner
	ab.lock.RUnlock()

	result, err := runner.run(args, timeout)

	if ab.qc.Verbose() {
		ab.logger.Debugw("Ran adb command",
			"args", args,
			"exitCode", result.exitCode,
			"output", result.output,
			"error", err)
	}

	return result, err
}

func (ab *ADBBridge) timeout() time.Duration {
	return time.Duration(ab.qc.config.ADBTimeoutMs) * time.Millisecond
}

// DetectDevice lists attached devices and classifies them into the canonical
// record. Listing failures degrade to the "nothing attached" record so the
// polling loop never has to care
func (ab *ADBBridge) DetectDevice() Device {
	result, err := ab.run([]string{"devices", "-l"}, ab.timeout())
	if err != nil {
		ab.logger.Warnw("Failed to list devices", "error", err)
		return noDevice
	}

	return parseDeviceList(result.output)
}

// FindWifiSerial re-lists devices and returns the first TCP/IP serial, or ""
// when none shows up
func (ab *ADBBridge) FindWifiSerial() string {
	result, err := ab.run([]string{"devices", "-l"}, ab.timeout())
	if err != nil {
		ab.logger.Warnw("Failed to list devices", "error", err)
		return ""
	}

	return parseWifiSerial(result.output)
}

// WifiIP queries the headset's wlan0 interface for its IPv4 address. The
// device must be reachable (normally over USB) for the shell call to answer
func (ab *ADBBridge) WifiIP() (string, error) {
	result, err := ab.run([]string{"shell", "ip", "-f", "inet", "addr", "show", "wlan0"}, ab.timeout())
	if err != nil {
		return "", err
	}

	if result.exitCode != 0 {
		return "", fmt.Errorf("%w: %s", ErrIPDiscovery, strings.TrimSpace(result.output))
	}

	match := wifiIPPattern.FindStringSubmatch(result.output)
	if match == nil {
		return "", fmt.Errorf("%w: no inet address in %q", ErrIPDiscovery, strings.TrimSpace(result.output))
	}

	return match[1], nil
}

// EnableWireless switches the device-side adb daemon to listen on the given
// TCP port
func (ab *ADBBridge) EnableWireless(port string) error {
	result, err := ab.run([]string{"tcpip", port}, ab.timeout()*wirelessCmdTimeoutFactor)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWirelessEnable, err)
	}

	if result.exitCode != 0 {
		return fmt.Errorf("%w: %s", ErrWirelessEnable, strings.TrimSpace(result.output))
	}

	return nil
}

// Connect asks the local adb server to connect to the device at addr
// (ip:port). The raw output is returned for the caller's outcome classifier,
// since adb signals success only through its wording
func (ab *ADBBridge) Connect(addr string) (string, error) {
	result, err := ab.run([]string{"connect", addr}, ab.timeout())
	if err != nil {
		return "", err
	}

	return result.output, nil
}

// Disconnect drops the TCP/IP connection to addr. Best effort
func (ab *ADBBridge) Disconnect(addr string) {
	if _, err := ab.run([]string{"disconnect", addr}, ab.timeout()); err != nil {
		ab.logger.Warnw("Failed to disconnect",
			"addr", addr,
			"error", err)
	}
}

// USBMode switches the device-side adb daemon back to USB. Best effort
func (ab *ADBBridge) USBMode() {
	if _, err := ab.run([]string{"usb"}, ab.timeout()); err != nil {
		ab.logger.Warnw("Failed to switch device back to USB mode", "error", err)
	}
}

func (ab *ADBBridge) warmUpServer() {
	running, err := util.ProcessRunning(adbProcessName())
	if err != nil {
		ab.logger.Debugw("Could not inspect process list", "error", err)
		return
	}

	if running {
		ab.logger.Debug("adb server already running")
		return
	}

	ab.logger.Info("adb server not running, starting it")

	if _, err := ab.run([]string{"start-server"}, adbServerWarmupTimeout); err != nil {
		ab.logger.Warnw("Failed to start adb server", "error", err)
	}
}

func adbProcessName() string {
	if util.Windows() {
		return "adb.exe"
	}

	return "adb"
}
