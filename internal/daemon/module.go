package daemon

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/matheus3301/rentchat/internal/auth"
	"github.com/matheus3301/rentchat/internal/bus"
	"github.com/matheus3301/rentchat/internal/config"
	"github.com/matheus3301/rentchat/internal/control"
	"github.com/matheus3301/rentchat/internal/gateway"
	"github.com/matheus3301/rentchat/internal/instance"
	"github.com/matheus3301/rentchat/internal/lock"
	"github.com/matheus3301/rentchat/internal/logging"
	"github.com/matheus3301/rentchat/internal/presence"
	"github.com/matheus3301/rentchat/internal/relay"
	"github.com/matheus3301/rentchat/internal/router"
	"github.com/matheus3301/rentchat/internal/status"
	"github.com/matheus3301/rentchat/internal/store"
	"github.com/matheus3301/rentchat/internal/upload"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Params holds the resolved instance configuration passed to the fx module.
type Params struct {
	InstanceName string
	SocketPath   string         // optional override for testing; empty = use default
	Config       *config.Config // optional; nil = load ~/.rentchat/config.toml
	LogLevel     zapcore.Level
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideVerifier,
			provideUploads,
			providePresence,
			provideRelay,
			provideRouter,
			provideGateway,
			provideControlService,
			NewHTTPServer,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	cfg := p.Config
	if cfg == nil {
		loaded, err := config.LoadOrDefault(instance.ConfigPath())
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	if err := instance.EnsureDir(p.InstanceName); err != nil {
		return nil, err
	}
	return logging.New(instance.LogPath(p.InstanceName), p.InstanceName, p.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus, logger *zap.Logger) *status.Machine {
	return status.NewMachine(status.Booting, status.DaemonTable, func(c status.Change) {
		logger.Info("daemon state changed", zap.String("from", string(c.From)), zap.String("to", string(c.To)))
		b.Publish(bus.Event{Kind: bus.KindStatusChanged, Payload: c})
	})
}

func provideLock(p Params, cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring instance lock", zap.String("instance", p.InstanceName))
	l, err := lock.Acquire(instance.Dir(p.InstanceName), cfg.HTTP.Addr)
	if err != nil {
		return nil, err
	}
	logger.Info("instance lock acquired")
	return l, nil
}

// provideStore takes the lock so the database is never opened by a second daemon.
func provideStore(p Params, cfg *config.Config, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := cfg.Store.Path
	if dbPath == "" {
		dbPath = instance.DBPath(p.InstanceName)
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("store initialized",
		zap.String("path", dbPath),
		zap.Uint("schema_from", result.From),
		zap.Uint("schema", result.Version),
		zap.Bool("migrated", result.Changed),
	)
	return db, nil
}

func provideVerifier(cfg *config.Config) (*auth.Verifier, error) {
	if cfg.Auth.Secret == "" {
		return nil, errors.New("auth secret not configured: set [auth] secret in " + instance.ConfigPath())
	}
	return auth.NewVerifier(cfg.Auth.Secret, cfg.Auth.TTL.Duration)
}

func provideUploads(p Params, cfg *config.Config) (*upload.Store, error) {
	dir := cfg.Upload.Dir
	if dir == "" {
		dir = instance.UploadDir(p.InstanceName)
	}
	return upload.NewStore(dir, cfg.Upload.MaxBytes)
}

func providePresence(cfg *config.Config, logger *zap.Logger) (presence.Tracker, error) {
	if cfg.Redis.Addr == "" {
		return presence.Nop{}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisDialTimeout)
	defer cancel()
	r, err := presence.NewRedis(ctx, presence.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		TTL:      cfg.Redis.TTL.Duration,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("presence enabled", zap.String("redis", cfg.Redis.Addr))
	return r, nil
}

func provideRelay(cfg *config.Config, logger *zap.Logger) (relay.Relay, error) {
	if cfg.NATS.URL == "" {
		return relay.Nop{}, nil
	}
	n, err := relay.NewNATS(relay.Config{
		URL:     cfg.NATS.URL,
		Subject: cfg.NATS.Subject,
		NodeID:  uuid.NewString(),
	}, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("relay enabled", zap.String("nats", cfg.NATS.URL), zap.String("subject", cfg.NATS.Subject))
	return n, nil
}

func provideRouter(db *store.DB, b *bus.Bus, rel relay.Relay, pres presence.Tracker, logger *zap.Logger) *router.Router {
	return router.New(db, router.Options{Bus: b, Relay: rel, Presence: pres, Logger: logger})
}

func provideGateway(r *router.Router, v *auth.Verifier, cfg *config.Config, logger *zap.Logger) *gateway.Server {
	return gateway.New(r, v, gateway.Options{
		SendQueue:      cfg.Chat.SendQueue,
		PingInterval:   cfg.Chat.PingInterval.Duration,
		WriteTimeout:   cfg.Chat.WriteTimeout.Duration,
		MaxFrameSize:   cfg.Chat.MaxFrameSize,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	}, logger)
}

func provideControlService(p Params, cfg *config.Config, m *status.Machine, r *router.Router, db *store.DB, b *bus.Bus, pres presence.Tracker) *control.Service {
	return control.NewService(p.InstanceName, cfg.HTTP.Addr, m, r, db, b, pres)
}

func registerLifecycle(
	lc fx.Lifecycle,
	srv *Server,
	httpSrv *HTTPServer,
	lk *lock.Lock,
	db *store.DB,
	r *router.Router,
	rel relay.Relay,
	pres presence.Tracker,
	machine *status.Machine,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := rel.Subscribe(func(env relay.Envelope) {
				r.Remote(context.Background(), env)
			}); err != nil {
				_ = machine.Transition(status.Failed)
				return fmt.Errorf("relay subscribe: %w", err)
			}

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if err := httpSrv.Start(); err != nil {
				_ = machine.Transition(status.Failed)
				return err
			}
			return machine.Transition(status.Serving)
		},
		OnStop: func(ctx context.Context) error {
			_ = machine.Transition(status.Draining)
			if err := httpSrv.Stop(ctx); err != nil {
				logger.Warn("http shutdown", zap.Error(err))
			}
			r.Shutdown(ctx)
			srv.Stop(ctx)
			if err := rel.Close(); err != nil {
				logger.Warn("relay close", zap.Error(err))
			}
			if err := pres.Close(); err != nil {
				logger.Warn("presence close", zap.Error(err))
			}
			if err := db.Close(); err != nil {
				logger.Warn("store close", zap.Error(err))
			}
			_ = machine.Transition(status.Stopped)
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
