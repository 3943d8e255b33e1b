package util

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/mitchellh/go-ps"
	"go.uber.org/zap"
)

// OpenExternal opens a file using the default associated program
func OpenExternal(logger *zap.SugaredLogger, filename string) error {
	command := getOpenExternalCommand(filename)

	if err := command.Run(); err != nil {
		logger.Warnw("Failed to open file",
			"filename", filename,
			"error", err)
		return fmt.Errorf("open file proc: %w", err)
	}

	return nil
}

// EnsureDirExists creates the given directory path if it doesn't already exist
func EnsureDirExists(path string) error {
	if err := os.MkdirAll(path, os.ModePerm); err != nil {
		return fmt.Errorf("ensure directory exists (%s): %w", path, err)
	}

	return nil
}

// FileExists checks if a file exists and is not a directory before we
// try using it to prevent further errors.
func FileExists(filename string) bool {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return !info.IsDir()
}

// Linux returns true if we're running on Linux
func Linux() bool {
	return runtime.GOOS == "linux"
}

// Windows returns true if we're running on Windows
func Windows() bool {
	return runtime.GOOS == "windows"
}

// SetupCloseHandler creates a 'listener' on a new goroutine which will notify the
// program if it receives an interrupt from the OS
func SetupCloseHandler() chan os.Signal {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	return c
}

// FindExecutable resolves the path of an external tool. An explicit configured
// path wins; "auto" (or empty) falls back to the system PATH and then to a
// bundled copy sitting next to the helper binary.
func FindExecutable(name string, configured string) (string, error) {
	if configured != "" && configured != "auto" {
		if FileExists(configured) {
			return configured, nil
		}

		return "", fmt.Errorf("configured path for %s doesn't exist: %s", name, configured)
	}

	if Windows() {
		name += ".exe"
	}

	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	self, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate own executable: %w", err)
	}

	bundled := filepath.Join(filepath.Dir(self), name)
	if FileExists(bundled) {
		return bundled, nil
	}

	return "", fmt.Errorf("%s not found in PATH or in %s", name, filepath.Dir(self))
}

// ProcessRunning reports whether a process with the given executable name is
// currently alive
func ProcessRunning(name string) (bool, error) {
	processes, err := ps.Processes()
	if err != nil {
		return false, fmt.Errorf("list processes: %w", err)
	}

	name = strings.ToLower(name)
	for _, process := range processes {
		if strings.ToLower(process.Executable()) == name {
			return true, nil
		}
	}

	return false, nil
}

// InstallHint returns a short, platform-appropriate pointer for installing the
// external tools this helper drives
func InstallHint() string {
	switch runtime.GOOS {
	case "darwin":
		return "Install with Homebrew: brew install scrcpy android-platform-tools"
	case "linux":
		return "Install with your package manager, e.g. sudo apt install scrcpy adb"
	default:
		return "Place adb.exe and scrcpy.exe next to the helper, or install them into PATH"
	}
}
