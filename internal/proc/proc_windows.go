//go:build windows

package proc

import (
	"os/exec"
	"strconv"
	"syscall"
)

func shellCommand(script string) *exec.Cmd {
	return exec.Command("cmd", "/C", script)
}

// EchoLine returns a shell command printing s verbatim. cmd.exe would echo
// surrounding quotes, so the text is passed bare.
func EchoLine(s string) string {
	return "echo " + s
}

func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

// killTree uses taskkill to terminate the session and every descendant.
func killTree(cmd *exec.Cmd) error {
	kill := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(cmd.Process.Pid))
	return kill.Run()
}
