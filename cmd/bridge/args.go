package main

import (
	"fmt"
	"strings"

	"github.com/guseggert/execbridge/bridge/protocol"
	"github.com/guseggert/execbridge/bridge/quote"
)

// parseEnv parses repeated KEY=VALUE overrides. Later entries win.
func parseEnv(items []string) (map[string]string, error) {
	if len(items) == 0 {
		return nil, nil
	}
	env := map[string]string{}
	for _, item := range items {
		key, value, ok := strings.Cut(item, "=")
		if !ok {
			return nil, fmt.Errorf("environment override '%s' is missing '='", item)
		}
		if key == "" {
			return nil, fmt.Errorf("environment override key cannot be empty")
		}
		env[key] = value
	}
	return env, nil
}

// commandFor builds the command to send from the arguments after "--".
// In shell mode a single argument is sent verbatim, since it is already a command line.
func commandFor(args []string, shell bool, syntax string) (protocol.Command, error) {
	if len(args) > 0 && args[0] == "--" {
		args = args[1:]
	}
	if len(args) == 0 {
		return protocol.Command{}, fmt.Errorf("missing command to execute; pass it after '--'")
	}
	if !shell {
		return protocol.Vector(args...), nil
	}
	s, err := quote.ParseSyntax(syntax)
	if err != nil {
		return protocol.Command{}, err
	}
	if len(args) == 1 {
		return protocol.Line(args[0]), nil
	}
	return protocol.Line(s.Join(args)), nil
}
