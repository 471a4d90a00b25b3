package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/guseggert/execbridge/bridge"
	"github.com/guseggert/execbridge/bridge/protocol"
	"github.com/guseggert/execbridge/internal/files"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const configFileName = "bridge.toml"

// configPath returns the explicit config path, or the nearest config file found from the working directory.
func configPath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting working directory: %w", err)
	}
	return files.FindUp(configFileName, wd)
}

func main() {
	app := &cli.App{
		Name:  "bridge-server",
		Usage: "runs commands on this host on behalf of bridge clients",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "The interface to listen on.",
				Value: protocol.DefaultHost,
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "The port to listen on.",
				Value: protocol.DefaultPort,
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "Shared secret clients must send. Empty disables authentication.",
				EnvVars: []string{"BRIDGE_TOKEN"},
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Log every request and the invocation it runs.",
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to a TOML config file. Flags override values from the file. Defaults to the nearest " + configFileName + " in the working directory or its parents.",
			},
		},
		Action: func(ctx *cli.Context) error {
			cfg := bridge.DefaultConfig()
			path, err := configPath(ctx.String("config"))
			if err != nil {
				return err
			}
			if path != "" {
				cfg, err = bridge.LoadConfig(path)
				if err != nil {
					return err
				}
			}
			if ctx.IsSet("host") {
				cfg.Host = ctx.String("host")
			}
			if ctx.IsSet("port") {
				cfg.Port = ctx.Int("port")
			}
			if ctx.IsSet("token") {
				cfg.Token = ctx.String("token")
			}
			if ctx.IsSet("verbose") {
				cfg.Verbose = ctx.Bool("verbose")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger, err := zap.NewDevelopment()
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}
			defer logger.Sync()

			opts := append(cfg.Options(), bridge.WithLogger(logger))
			if !cfg.Verbose {
				opts = append(opts, bridge.WithLogLevel(zapcore.InfoLevel))
			}
			server, err := bridge.NewServer(opts...)
			if err != nil {
				return fmt.Errorf("building server: %w", err)
			}

			sigCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- server.Run() }()

			select {
			case err := <-errCh:
				return err
			case <-sigCtx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutting down: %w", err)
			}
			return <-errCh
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
