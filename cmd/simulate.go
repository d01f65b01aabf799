package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/Ananth-NQI/orderbot-backend/internal/models"
	"github.com/Ananth-NQI/orderbot-backend/internal/services"
)

// SimulateCommand chats with the bot from the terminal
func SimulateCommand() *cli.Command {
	return &cli.Command{
		Name:  "simulate",
		Usage: "Chat with the bot in the terminal",
		Description: "Each line is sent as a customer message. Prefix a line with ! to send a\n" +
			"button or list reply id (e.g. !order_type:pickup), or with @ to share a\n" +
			"location (e.g. @40.7128,-74.0060 12 Main St). An empty line exits.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "tenant",
				Aliases: []string{"t"},
				Usage:   "Tenant id, defaults to server.default_tenant",
			},
			&cli.StringFlag{
				Name:  "from",
				Usage: "Customer phone number",
				Value: "+15550000001",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			tenant := c.String("tenant")
			if tenant == "" {
				tenant = cfg.Server.DefaultTenant
			}
			if tenant == "" {
				return errors.New("no tenant: pass --tenant or set server.default_tenant")
			}

			a, err := build(c.Context, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			return simulate(c.Context, a.flow, tenant, c.String("from"), c.App.Reader, c.App.Writer)
		},
	}
}

// simulate runs the read-reply loop until EOF or an empty line
func simulate(ctx context.Context, flow *services.OrderFlowService, tenant, from string, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprintf(out, "Chatting with %s as %s. Empty line to quit.\n> ", tenant, from)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			return nil
		}

		msg, err := parseSimulatedLine(line)
		if err != nil {
			fmt.Fprintf(out, "%v\n> ", err)
			continue
		}
		msg.TenantID = tenant
		msg.From = from

		replies, err := flow.HandleInboundMessage(ctx, msg)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n> ", err)
			continue
		}
		for _, r := range replies {
			fmt.Fprintf(out, "\n%s\n", services.RenderText(r))
		}
		fmt.Fprint(out, "\n> ")
	}
	return scanner.Err()
}

// parseSimulatedLine turns "!id", "@lat,lng address" or text into a message
func parseSimulatedLine(line string) (models.InboundMessage, error) {
	var msg models.InboundMessage
	switch {
	case strings.HasPrefix(line, "!"):
		msg.ReplyID = strings.TrimPrefix(line, "!")
	case strings.HasPrefix(line, "@"):
		coords, address, _ := strings.Cut(strings.TrimPrefix(line, "@"), " ")
		latS, lngS, ok := strings.Cut(coords, ",")
		if !ok {
			return msg, errors.New("location must look like @lat,lng")
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(latS), 64)
		if err != nil {
			return msg, fmt.Errorf("invalid latitude %q", latS)
		}
		lng, err := strconv.ParseFloat(strings.TrimSpace(lngS), 64)
		if err != nil {
			return msg, fmt.Errorf("invalid longitude %q", lngS)
		}
		msg.Coordinate = &models.Coordinate{Lat: lat, Lng: lng}
		msg.Address = strings.TrimSpace(address)
	default:
		msg.Body = line
	}
	return msg, nil
}
