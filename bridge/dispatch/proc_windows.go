//go:build windows

package dispatch

import (
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"github.com/guseggert/execbridge/bridge/quote"
	"golang.org/x/sys/windows"
)

// shellCommand runs line through cmd.exe. The command line is set verbatim because cmd.exe does not follow the
// C runtime quoting rules that exec would apply to a separate argument.
func shellCommand(line string) *exec.Cmd {
	comspec := os.Getenv("COMSPEC")
	if comspec == "" {
		comspec = "cmd.exe"
	}
	cmd := exec.Command(comspec)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CmdLine: quote.Windows([]string{comspec}) + ` /d /s /c "` + line + `"`,
	}
	return cmd
}

func setProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.CreationFlags |= windows.CREATE_NEW_PROCESS_GROUP
}

// killProcessTree uses taskkill because Windows has no process group kill; descendants are found by parent PID.
func killProcessTree(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	err := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(cmd.Process.Pid)).Run()
	if err != nil {
		return cmd.Process.Kill()
	}
	return nil
}

func exitCode(ps *os.ProcessState) int {
	return ps.ExitCode()
}
