package util

import (
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/windows"
)

// HiddenWindowAttr returns process attributes that keep a spawned console
// child from flashing a terminal window
func HiddenWindowAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: windows.CREATE_NO_WINDOW,
	}
}

// DetachedProcAttr returns process attributes for a fire-and-forget child that
// shouldn't die with us and must not pop a console window either
func DetachedProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: windows.CREATE_NO_WINDOW | windows.CREATE_NEW_PROCESS_GROUP,
	}
}

func getOpenExternalCommand(filename string) *exec.Cmd {
	command := exec.Command(filepath.Join(os.Getenv("SYSTEMROOT"), "System32", "rundll32.exe"),
		"url.dll,FileProtocolHandler",
		filename)

	command.SysProcAttr = HiddenWindowAttr()

	return command
}
