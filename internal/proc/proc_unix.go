//go:build !windows

package proc

import (
	"os/exec"
	"syscall"
)

func shellCommand(script string) *exec.Cmd {
	return exec.Command("sh", "-c", script)
}

// EchoLine returns a shell command printing s verbatim. Single quotes keep
// sh from treating a leading # as a comment.
func EchoLine(s string) string {
	return "echo '" + s + "'"
}

// configureProcAttr puts the shell into its own process group so the whole
// tree can be signaled at once.
func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killTree signals the entire process group of the session.
func killTree(cmd *exec.Cmd) error {
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		// Process already reaped; nothing left to kill.
		return nil
	}
	if err := syscall.Kill(-pgid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		return err
	}
	return nil
}
