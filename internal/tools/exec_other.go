//go:build !windows

package tools

import "os/exec"

func setWindowsHide(cmd *exec.Cmd) {}
