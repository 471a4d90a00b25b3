package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/guseggert/execbridge/bridge"
	"github.com/guseggert/execbridge/bridge/protocol"
	"github.com/guseggert/execbridge/bridge/quote"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	var exitCode int
	app := &cli.App{
		Name:      "bridge",
		Usage:     "run a command on a bridge server as if it ran locally",
		ArgsUsage: "-- COMMAND [ARGS...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Command bridge server host.",
				Value: protocol.DefaultHost,
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Command bridge server port.",
				Value: protocol.DefaultPort,
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "Shared secret that must match the server configuration.",
				EnvVars: []string{"BRIDGE_TOKEN"},
			},
			&cli.StringFlag{
				Name:  "cwd",
				Usage: "Working directory for the remote command.",
			},
			&cli.BoolFlag{
				Name:  "shell",
				Usage: "Run the command through the remote shell.",
			},
			&cli.StringFlag{
				Name:  "shell-syntax",
				Usage: "Quoting used to join a multi-argument shell command. One of [cmd,posix].",
				Value: string(quote.SyntaxCmd),
			},
			&cli.Float64Flag{
				Name:  "timeout",
				Usage: "Kill the remote command after N seconds.",
			},
			&cli.Float64Flag{
				Name:  "request-timeout",
				Usage: "HTTP timeout in seconds. 0 disables it.",
				Value: 30,
			},
			&cli.StringSliceFlag{
				Name:  "env",
				Usage: "Environment override KEY=VALUE for the remote command. Repeatable.",
			},
			&cli.BoolFlag{
				Name:  "show-meta",
				Usage: "Print the exit code and duration on stderr.",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Log HTTP exchanges on stderr.",
			},
		},
		Action: func(ctx *cli.Context) error {
			code, err := run(ctx)
			exitCode = code
			return err
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", app.Name, err)
		os.Exit(2)
	}
	os.Exit(exitCode)
}

// run sends one execution and replays it, returning the exit code of the remote command.
func run(ctx *cli.Context) (int, error) {
	shell := ctx.Bool("shell")
	command, err := commandFor(ctx.Args().Slice(), shell, ctx.String("shell-syntax"))
	if err != nil {
		return 0, err
	}
	env, err := parseEnv(ctx.StringSlice("env"))
	if err != nil {
		return 0, err
	}

	req := &protocol.ExecutionRequest{
		Command: command,
		Cwd:     ctx.String("cwd"),
		Env:     env,
	}
	if shell {
		req.Shell = &shell
	}
	if ctx.IsSet("timeout") {
		timeout := ctx.Float64("timeout")
		if timeout <= 0 {
			return 0, fmt.Errorf("--timeout must be greater than zero")
		}
		req.Timeout = timeout
	}
	requestTimeout := ctx.Float64("request-timeout")
	if requestTimeout < 0 {
		return 0, fmt.Errorf("--request-timeout must not be negative")
	}
	if !isTerminal(os.Stdin) {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return 0, fmt.Errorf("reading stdin: %w", err)
		}
		stdin := string(b)
		req.Stdin = &stdin
	}

	logger, err := newLogger(ctx.Bool("debug"))
	if err != nil {
		return 0, err
	}
	defer logger.Sync()

	client, err := bridge.NewClient(
		logger.Sugar(),
		ctx.String("host"),
		ctx.Int("port"),
		bridge.WithClientToken(ctx.String("token")),
		bridge.WithRequestTimeout(time.Duration(requestTimeout*float64(time.Second))),
	)
	if err != nil {
		return 0, err
	}

	res, err := client.Execute(ctx.Context, req)
	return bridge.Replay(res, err, os.Stdout, os.Stderr, ctx.Bool("show-meta")), nil
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func newLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}
