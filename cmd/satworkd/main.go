package main

import (
	"fmt"
	"os"

	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"

	"github.com/satwork/satwork/build"
	"github.com/satwork/satwork/lib/satlog"
	"github.com/satwork/satwork/node/config"
)

var log = logging.Logger("main")

func main() {
	satlog.SetupLogLevels()

	app := &cli.App{
		Name:    "satworkd",
		Usage:   "Event-sourced paid-work coordinator for relay networks",
		Version: build.UserVersion(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to the TOML config file",
				Value:   "satwork.toml",
				EnvVars: []string{"SATWORK_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			runCmd,
			configCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Errorf("%+v", err)
		os.Exit(1)
	}
}

var configCmd = &cli.Command{
	Name:  "config",
	Usage: "Print the default configuration",
	Action: func(cctx *cli.Context) error {
		var w = os.Stdout
		cfg := config.DefaultFull()
		if err := config.WriteTo(w, cfg); err != nil {
			return err
		}
		fmt.Fprintln(w)
		return nil
	},
}
