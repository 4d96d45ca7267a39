package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/erkyrath/remote-if-demo/transcript"
)

func main() {
	app := &cli.App{
		Name:  "transcript-if",
		Usage: "web server that records GlkOte transcripts and rebroadcasts them to viewers",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "port",
				Usage: "port number to listen on",
				Value: 4000,
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

			server := transcript.NewServer(
				transcript.WithLogger(logger.Named("transcript").Sugar()),
				transcript.WithListenAddr(fmt.Sprintf("0.0.0.0:%d", ctx.Int("port"))),
			)
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
