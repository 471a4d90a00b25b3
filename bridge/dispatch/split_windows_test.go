//go:build windows

package dispatch

import (
	"testing"

	"github.com/guseggert/execbridge/bridge/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvocationForKeepsWindowsPaths(t *testing.T) {
	no := false
	cases := []struct {
		line string
		exp  []string
	}{
		{line: `C:\Windows\System32\where.exe notepad`, exp: []string{`C:\Windows\System32\where.exe`, "notepad"}},
		{line: `"C:\Program Files\tool.exe" -x "a b"`, exp: []string{`C:\Program Files\tool.exe`, "-x", "a b"}},
		{line: `tool C:\dir\ trailing`, exp: []string{"tool", `C:\dir\`, "trailing"}},
	}
	for _, c := range cases {
		t.Run(c.line, func(t *testing.T) {
			inv, err := InvocationFor(&protocol.ExecutionRequest{Command: protocol.Line(c.line), Shell: &no})
			require.NoError(t, err)
			assert.Equal(t, c.exp, inv.Argv)
			assert.False(t, inv.Shell)
		})
	}
}
