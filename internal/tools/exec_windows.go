//go:build windows

package tools

import (
	"os/exec"
	"syscall"
)

func setWindowsHide(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
}
