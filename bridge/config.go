package bridge

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/guseggert/execbridge/bridge/protocol"
)

// Config is the startup configuration of a server. It can be loaded from a TOML file:
//
//	host = "127.0.0.1"
//	port = 8765
//	token = "secret"
//	verbose = true
type Config struct {
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	Token   string `toml:"token"`
	Verbose bool   `toml:"verbose"`
}

func DefaultConfig() Config {
	return Config{
		Host: protocol.DefaultHost,
		Port: protocol.DefaultPort,
	}
}

// LoadConfig reads a TOML file on top of DefaultConfig. Keys missing from the file keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	var raw Config
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load bridge config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load bridge config: unknown keys %v", undecoded)
	}

	if meta.IsDefined("host") {
		cfg.Host = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("port") {
		cfg.Port = raw.Port
	}
	if meta.IsDefined("token") {
		cfg.Token = raw.Token
	}
	if meta.IsDefined("verbose") {
		cfg.Verbose = raw.Verbose
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("bridge config missing host")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("bridge config port %d out of range", c.Port)
	}
	return nil
}

func (c Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Options converts the config into server options.
func (c Config) Options() []Option {
	return []Option{
		WithListenAddr(c.ListenAddr()),
		WithToken(c.Token),
		WithVerbose(c.Verbose),
	}
}
