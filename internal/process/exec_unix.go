//go:build !windows

package process

import (
	"os"
	"os/exec"
	"syscall"
)

func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// killProcessGroup sends SIGKILL to the process group, falling back to the
// process alone if the group is already gone.
func killProcessGroup(cmd *exec.Cmd) error {
	if pgid, err := syscall.Getpgid(cmd.Process.Pid); err == nil {
		return syscall.Kill(-pgid, syscall.SIGKILL)
	}
	return cmd.Process.Kill()
}

// termination decodes the wait status into a tagged termination.
func termination(state *os.ProcessState) (Termination, int, int) {
	if status, ok := state.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return Signaled, -1, int(status.Signal())
	}
	return Exited, state.ExitCode(), 0
}

// ClassifySignal maps a POSIX signal number to its class.
func ClassifySignal(sig int) SignalClass {
	switch syscall.Signal(sig) {
	case syscall.SIGSEGV:
		return SignalSegv
	case syscall.SIGABRT:
		return SignalAbort
	case syscall.SIGFPE:
		return SignalFPE
	default:
		return SignalOther
	}
}

// SignalName returns a human-readable signal name.
func SignalName(sig int) string {
	return syscall.Signal(sig).String()
}
