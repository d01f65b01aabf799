package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/Ananth-NQI/orderbot-backend/internal/config"
)

// InitCommand writes a sample configuration file
func InitCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Write a sample configuration file",
		Action: func(c *cli.Context) error {
			path := c.String("config")
			if err := config.InitConfig(path); err != nil {
				return err
			}
			fmt.Printf("Configuration written to %s\n", path)
			return nil
		},
	}
}
