// Package quote joins argument vectors into single command lines for a target shell.
package quote

import (
	"fmt"
	"strings"

	"github.com/kballard/go-shellquote"
)

// Syntax is a command-line quoting convention.
type Syntax string

const (
	// SyntaxCmd follows the Microsoft C runtime argument parsing rules used by cmd.exe launched programs.
	SyntaxCmd Syntax = "cmd"
	// SyntaxPOSIX follows POSIX sh quoting.
	SyntaxPOSIX Syntax = "posix"
)

func ParseSyntax(s string) (Syntax, error) {
	switch Syntax(strings.ToLower(s)) {
	case SyntaxCmd:
		return SyntaxCmd, nil
	case SyntaxPOSIX:
		return SyntaxPOSIX, nil
	}
	return "", fmt.Errorf("unsupported shell syntax %q, must be one of [cmd,posix]", s)
}

func (s Syntax) Join(args []string) string {
	if s == SyntaxPOSIX {
		return POSIX(args)
	}
	return Windows(args)
}

// Windows joins args so that CommandLineToArgvW splits them back into the same vector.
// Arguments without spaces, tabs, or quotes are left untouched.
func Windows(args []string) string {
	var b strings.Builder
	for i, arg := range args {
		if i > 0 {
			b.WriteByte(' ')
		}
		needQuote := arg == "" || strings.ContainsAny(arg, " \t")
		if needQuote {
			b.WriteByte('"')
		}
		backslashes := 0
		for j := 0; j < len(arg); j++ {
			c := arg[j]
			switch c {
			case '\\':
				backslashes++
				continue
			case '"':
				b.WriteString(strings.Repeat(`\`, backslashes*2+1))
				b.WriteByte('"')
			default:
				b.WriteString(strings.Repeat(`\`, backslashes))
				b.WriteByte(c)
			}
			backslashes = 0
		}
		if needQuote {
			b.WriteString(strings.Repeat(`\`, backslashes*2))
			b.WriteByte('"')
		} else {
			b.WriteString(strings.Repeat(`\`, backslashes))
		}
	}
	return b.String()
}

// POSIX joins args for sh -c so that the shell splits them back into the same words.
func POSIX(args []string) string {
	return shellquote.Join(args...)
}
