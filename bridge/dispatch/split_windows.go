//go:build windows

package dispatch

import "golang.org/x/sys/windows"

// splitLine splits a command line with the CommandLineToArgvW rules CreateProcess callers expect,
// so backslashes in paths are kept.
func splitLine(line string) ([]string, error) {
	return windows.DecomposeCommandLine(line)
}
