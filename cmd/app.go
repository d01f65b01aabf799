package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/Ananth-NQI/orderbot-backend/database"
	"github.com/Ananth-NQI/orderbot-backend/internal/config"
	"github.com/Ananth-NQI/orderbot-backend/internal/jobs"
	"github.com/Ananth-NQI/orderbot-backend/internal/logger"
	"github.com/Ananth-NQI/orderbot-backend/internal/services"
	"github.com/Ananth-NQI/orderbot-backend/internal/storage"
)

// dataStore holds tenants and menus, and can hold sessions too
type dataStore interface {
	storage.Store
	storage.TenantAdmin
}

type pinger interface {
	Ping(ctx context.Context) error
}

// app is the wired bot shared by serve and simulate
type app struct {
	cfg      *config.Config
	store    dataStore
	sessions storage.SessionStore
	catalog  *services.CachedCatalog
	manager  *services.SessionManager
	flow     *services.OrderFlowService
	sender   services.Sender
	sweeper  *jobs.SessionSweeper
	twilio   bool
	closers  []func() error
}

// loadConfig reads the file named by --config and initializes logging
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if err := logger.InitLogger(cfg.Log); err != nil {
		return nil, err
	}
	return cfg, nil
}

// usesDatabase reports whether tenants and menus live in PostgreSQL
func usesDatabase(cfg *config.Config) bool {
	return cfg.Sessions.Backend == config.SessionBackendPostgres ||
		cfg.Database.DSN != "" ||
		cfg.Database.InstanceConnectionName != ""
}

// openStore opens the tenant and menu store, seeding the in-memory store from
// the seed file
func openStore(cfg *config.Config) (dataStore, error) {
	if !usesDatabase(cfg) {
		logger.Warn().Msg("⚠️  Using in-memory storage (not for production!)")
		store := storage.NewMemoryStore()
		if cfg.Seed.File != "" {
			seed, err := storage.LoadSeed(cfg.Seed.File)
			if err != nil {
				return nil, err
			}
			store.Apply(seed)
			logger.Info().
				Str("file", cfg.Seed.File).
				Int("tenants", len(seed.Tenants)).
				Int("items", len(seed.Items)).
				Msg("📦 Seed data loaded")
		}
		return store, nil
	}

	logger.Info().Msg("📦 Connecting to PostgreSQL database...")
	db, err := database.Connect(cfg.PostgresDSN())
	if err != nil {
		return nil, err
	}
	if err := database.AutoMigrate(db); err != nil {
		return nil, err
	}
	return storage.NewDatabaseStore(db), nil
}

// build wires every component from cfg
func build(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	a.store = store

	switch cfg.Sessions.Backend {
	case config.SessionBackendRedis:
		rs, err := storage.NewRedisSessionStore(ctx, cfg.Redis.URL, cfg.Sessions.TTL)
		if err != nil {
			return nil, err
		}
		a.sessions = rs
		a.closers = append(a.closers, rs.Close)
	case config.SessionBackendPostgres:
		a.sessions = store
	default:
		if _, ok := store.(*storage.MemoryStore); ok {
			a.sessions = store
		} else {
			a.sessions = storage.NewMemoryStore()
		}
	}
	logger.Info().Str("backend", cfg.Sessions.Backend).Msg("✅ Session store ready")

	a.catalog = services.NewCachedCatalog(store, cfg.Catalog.CacheSize, cfg.Catalog.CacheTTL)

	tw := cfg.Twilio
	sender, err := services.NewTwilioSender(tw.AccountSID, tw.AuthToken, tw.WhatsAppFrom, store, tw.RatePerSecond, tw.Burst)
	if err != nil {
		logger.Warn().Err(err).Msg("⚠️  Twilio not configured, replies will only be logged")
		a.sender = services.LogSender{}
	} else {
		a.sender = sender
		a.twilio = true
		logger.Info().Msg("✅ Twilio sender initialized")
	}

	a.manager = services.NewSessionManager(a.sessions, cfg.Engine.LockWait)
	a.flow = services.NewOrderFlowService(
		a.manager,
		services.NewTenantResolver(store, a.catalog, a.catalog),
		services.NewRadiusGeocoder(a.catalog),
		newSubmitter(cfg, store, a.sender),
		services.FlowConfig{
			MaxQuantity:        cfg.Engine.MaxQuantity,
			PageSize:           cfg.Engine.PageSize,
			IOTimeout:          cfg.Engine.IOTimeout,
			MaxConflictRetries: cfg.Engine.MaxConflict,
			SubmitStaleAfter:   submitStaleAfter(cfg.Submission),
		},
	)
	a.sweeper = jobs.NewSessionSweeper(a.sessions, a.flow, cfg.Jobs.IdleResetAfter, cfg.Jobs.SweepInterval)
	return a, nil
}

// newSubmitter picks the ordering API, falling back to the merchant's WhatsApp
func newSubmitter(cfg *config.Config, tenants storage.TenantRegistry, sender services.Sender) *services.SubmissionCoordinator {
	sub := cfg.Submission
	retry := services.DefaultRetryConfig()
	retry.MaxRetries = sub.MaxRetries
	retry.BaseDelay = sub.BaseDelay
	retry.MaxDelay = sub.MaxDelay

	merchant := services.NewMerchantNotifier(tenants, sender)
	if sub.BaseURL == "" {
		logger.Warn().Msg("⚠️  No ordering API configured, orders go to the merchant's WhatsApp")
		return services.NewSubmissionCoordinator(merchant, nil, sub.Timeout, retry)
	}

	var fallback services.SubmissionBackend
	if sub.FallbackMerchant {
		fallback = merchant
	}
	backend := services.NewHTTPSubmissionBackend(sub.BaseURL, sub.APIKey, sub.Timeout)
	return services.NewSubmissionCoordinator(backend, fallback, sub.Timeout, retry)
}

// submitStaleAfter outlasts every attempt and backoff of one submission
func submitStaleAfter(sub config.SubmissionConfig) time.Duration {
	return (sub.Timeout + sub.MaxDelay) * time.Duration(sub.MaxRetries+1)
}

// ping checks the session store when it supports it
func (a *app) ping() error {
	p, ok := a.sessions.(pinger)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	return nil
}

func (a *app) close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			logger.Warn().Err(err).Msg("Error closing resource")
		}
	}
}
