package procexec

import (
	"errors"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"

	"livestreamdvr/internal/metrics"
)

func setProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// signalGroup delivers sig to the whole process group led by pid. A group
// that is already gone is not an error.
func signalGroup(pid int, sig unix.Signal) error {
	if pid <= 0 {
		return nil
	}
	name := unix.SignalName(sig)
	err := unix.Kill(-pid, sig)
	if err == nil {
		metrics.IncProcessSignal(name, "sent")
		return nil
	}
	if errors.Is(err, unix.ESRCH) {
		metrics.IncProcessSignal(name, "esrch")
		return nil
	}
	// Fall back to the leader alone when the group cannot be signalled.
	if leaderErr := unix.Kill(pid, sig); leaderErr == nil || errors.Is(leaderErr, unix.ESRCH) {
		metrics.IncProcessSignal(name, "leader")
		return nil
	}
	metrics.IncProcessSignal(name, "error")
	return err
}
