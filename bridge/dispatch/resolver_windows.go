//go:build windows

package dispatch

import "github.com/guseggert/execbridge/bridge/quote"

// DefaultResolver returns the resolver for the host. CreateProcess cannot start batch files, so they go through cmd.exe.
func DefaultResolver() Resolver {
	return &ScriptResolver{
		Extensions: []string{".bat", ".cmd"},
		Quote:      quote.Windows,
	}
}
