//go:build !windows

package main

import (
	"os"
	"os/exec"
	"syscall"

	"github.com/tessacoin/tessanode/errors"
)

// detach starts a copy of this process in its own session with its output
// appended to logFile, and returns its pid.
func detach(logFile string) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, errors.NewProcessingError("cannot locate executable", err)
	}

	out, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return 0, errors.NewStorageError("cannot open %s", logFile, err)
	}
	defer out.Close()

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Env = append(os.Environ(), detachedEnv+"=1")
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err = cmd.Start(); err != nil {
		return 0, errors.NewProcessingError("cannot start background process", err)
	}

	pid := cmd.Process.Pid

	return pid, cmd.Process.Release()
}
