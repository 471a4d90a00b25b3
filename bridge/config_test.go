package bridge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/guseggert/execbridge/bridge/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	cases := []struct {
		name     string
		contents string
		exp      Config
		expErr   string
	}{
		{
			name: "empty file keeps defaults",
			exp:  DefaultConfig(),
		},
		{
			name:     "partial overlay",
			contents: "port = 9000\ntoken = \"abc\"\n",
			exp:      Config{Host: protocol.DefaultHost, Port: 9000, Token: "abc"},
		},
		{
			name:     "full file",
			contents: "host = \"0.0.0.0\"\nport = 1234\ntoken = \"t\"\nverbose = true\n",
			exp:      Config{Host: "0.0.0.0", Port: 1234, Token: "t", Verbose: true},
		},
		{
			name:     "unknown key",
			contents: "listen = \"x\"\n",
			expErr:   "unknown keys",
		},
		{
			name:     "port out of range",
			contents: "port = 70000\n",
			expErr:   "out of range",
		},
		{
			name:     "blank host",
			contents: "host = \"  \"\n",
			expErr:   "missing host",
		},
		{
			name:     "malformed",
			contents: "port = \n",
			expErr:   "load bridge config",
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg, err := LoadConfig(writeConfig(t, c.contents))
			if c.expErr != "" {
				assert.ErrorContains(t, err, c.expErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.exp, cfg)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestConfigListenAddr(t *testing.T) {
	assert.Equal(t, "127.0.0.1:8765", DefaultConfig().ListenAddr())
	assert.Equal(t, "[::1]:80", Config{Host: "::1", Port: 80}.ListenAddr())
}
