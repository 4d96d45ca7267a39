package main

import (
	"fmt"
	"log"
	"os"

	"github.com/google/shlex"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/erkyrath/remote-if-demo/relay"
)

func main() {
	app := &cli.App{
		Name:  "remote-if",
		Usage: "web server that lets clients play a RemGlk game via GlkOte",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "port",
				Usage: "port number to listen on",
				Value: 4000,
			},
			&cli.StringFlag{
				Name:     "command",
				Usage:    "shell command to run a RemGlk game",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "connect",
				Usage: `connection method: "ajax" or "ws"`,
				Value: relay.ConnectAJAX,
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "enable debug logging",
			},
		},
		Action: func(ctx *cli.Context) error {
			logger, err := newLogger(ctx.Bool("verbose"))
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}
			defer logger.Sync()

			command, err := shlex.Split(ctx.String("command"))
			if err != nil {
				return fmt.Errorf("parsing --command: %w", err)
			}
			if len(command) == 0 {
				return fmt.Errorf("must supply --command argument")
			}

			server, err := relay.NewServer(
				command,
				relay.WithLogger(logger.Named("relay").Sugar()),
				relay.WithListenAddr(fmt.Sprintf("0.0.0.0:%d", ctx.Int("port"))),
				relay.WithConnectMode(ctx.String("connect")),
			)
			if err != nil {
				return fmt.Errorf("building server: %w", err)
			}
			return server.Run()
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
