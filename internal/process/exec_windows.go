//go:build windows

package process

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// NTSTATUS codes reported as the exit code of a process killed by an
// unhandled structured exception.
const (
	statusAccessViolation       = 0xC0000005
	statusIntegerDivideByZero   = 0xC0000094
	statusFloatDivideByZero     = 0xC000008E
	statusStackBufferOverrun    = 0xC0000409 // __fastfail, abort()
	statusFatalAppExit          = 0x40000015 // abort() in the MSVC runtime
	statusIllegalInstruction    = 0xC000001D
	statusStackOverflow         = 0xC00000FD
	statusIntegerOverflow       = 0xC0000095
	statusFloatInvalidOperation = 0xC0000090
)

func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

func killProcessGroup(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}

// termination treats NTSTATUS exception codes as signals; the code itself
// is stored as the signal number.
func termination(state *os.ProcessState) (Termination, int, int) {
	code := uint32(state.ExitCode())
	switch code {
	case statusAccessViolation, statusIntegerDivideByZero, statusFloatDivideByZero,
		statusStackBufferOverrun, statusFatalAppExit, statusIllegalInstruction,
		statusStackOverflow, statusIntegerOverflow, statusFloatInvalidOperation:
		return Signaled, -1, int(code)
	}
	return Exited, state.ExitCode(), 0
}

// ClassifySignal maps an NTSTATUS exception code to the closest POSIX class.
func ClassifySignal(sig int) SignalClass {
	switch uint32(sig) {
	case statusAccessViolation, statusStackOverflow:
		return SignalSegv
	case statusStackBufferOverrun, statusFatalAppExit:
		return SignalAbort
	case statusIntegerDivideByZero, statusFloatDivideByZero,
		statusIntegerOverflow, statusFloatInvalidOperation:
		return SignalFPE
	default:
		return SignalOther
	}
}

// SignalName returns the NTSTATUS code in hex.
func SignalName(sig int) string {
	return fmt.Sprintf("0x%08X", uint32(sig))
}
