//go:build !windows

package util

import (
	"os/exec"
	"runtime"
	"syscall"
)

// HiddenWindowAttr is a no-op outside of Windows, where console children don't
// spawn windows in the first place
func HiddenWindowAttr() *syscall.SysProcAttr {
	return nil
}

// DetachedProcAttr returns process attributes placing the child in its own
// process group so it survives the helper exiting
func DetachedProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func getOpenExternalCommand(filename string) *exec.Cmd {
	if runtime.GOOS == "darwin" {
		return exec.Command("open", filename)
	}

	return exec.Command("xdg-open", filename)
}
