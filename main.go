package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/Ananth-NQI/orderbot-backend/cmd"
)

const version = "1.0.0"

func main() {
	app := &cli.App{
		Name:    "orderbot",
		Usage:   "WhatsApp ordering bot for restaurants",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				Value:   "orderbot.toml",
				EnvVars: []string{"ORDERBOT_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			cmd.ServeCommand(version),
			cmd.MigrateCommand(),
			cmd.SimulateCommand(),
			cmd.InitCommand(),
		},
		DefaultCommand: "serve",
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
