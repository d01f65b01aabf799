package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/urfave/cli/v2"

	"github.com/Ananth-NQI/orderbot-backend/internal/handlers"
	"github.com/Ananth-NQI/orderbot-backend/internal/logger"
	"github.com/Ananth-NQI/orderbot-backend/internal/routes"
)

// ServeCommand starts the webhook server
func ServeCommand(version string) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the WhatsApp webhook server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to listen on, overrides server.port",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if p := c.String("port"); p != "" {
				cfg.Server.Port = p
			}

			a, err := build(c.Context, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			server := fiber.New(fiber.Config{
				AppName: "OrderBot Backend v" + version,
				ErrorHandler: func(c *fiber.Ctx, err error) error {
					code := fiber.StatusInternalServerError
					if e, ok := err.(*fiber.Error); ok {
						code = e.Code
					}
					return c.Status(code).JSON(fiber.Map{
						"error": err.Error(),
					})
				},
			})

			// Middleware
			server.Use(fiberlogger.New(fiberlogger.Config{
				Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
			}))
			server.Use(recover.New())
			server.Use(cors.New(cors.Config{
				AllowOrigins: "*",
				AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Admin-Key",
				AllowMethods: "GET, POST, PATCH, OPTIONS",
			}))

			wa := handlers.NewWhatsAppHandler(a.flow, a.sender, a.store, cfg.Server.DefaultTenant)
			health := handlers.NewHealthHandler(version, handlers.HealthStatus{
				SessionBackend:   cfg.Sessions.Backend,
				TwilioConfigured: a.twilio,
				Ping:             a.ping,
				ActiveSessions:   a.manager.ActiveLocks,
			})
			admin := handlers.NewAdminHandler(a.store, a.store, a.catalog)

			routes.SetupRoutes(server, wa, health, admin, routes.Options{
				Version:           version,
				ValidateSignature: cfg.Server.ValidateSignature,
				TwilioAuthToken:   cfg.Twilio.AuthToken,
				PublicURL:         cfg.Server.PublicURL,
				AdminKey:          cfg.Server.AdminKey,
				EnableTestRoutes:  cfg.IsDevelopment(),
			})

			if cfg.Jobs.IdleResetAfter > 0 && cfg.Jobs.SweepInterval > 0 {
				a.sweeper.Start()
				defer a.sweeper.Stop()
			}

			// Handle graceful shutdown
			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sig
				logger.Info().Msg("🛑 Gracefully shutting down...")
				a.sweeper.Stop()
				if err := server.ShutdownWithTimeout(10 * time.Second); err != nil {
					logger.Error().Err(err).Msg("Server shutdown failed")
				}
			}()

			logger.Info().
				Str("port", cfg.Server.Port).
				Str("environment", cfg.Server.Environment).
				Str("sessions", cfg.Sessions.Backend).
				Bool("whatsapp", a.twilio).
				Bool("signature_validation", cfg.Server.ValidateSignature).
				Msg("🚀 OrderBot Backend starting")

			return server.Listen(":" + cfg.Server.Port)
		},
	}
}
