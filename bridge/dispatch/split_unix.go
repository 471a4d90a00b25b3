//go:build !windows

package dispatch

import "github.com/mattn/go-shellwords"

// splitLine splits a command line into words the way a POSIX shell would, without expansion.
func splitLine(line string) ([]string, error) {
	return shellwords.Parse(line)
}
