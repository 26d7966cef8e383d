// Package bootstrap wires all dependencies and starts the application.
// Configuration comes from a YAML file or APIFORGE_* environment variables;
// the served API comes from the schema document it points at.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/artpar/apiforge/adapters/auth"
	apihttp "github.com/artpar/apiforge/adapters/http"
	"github.com/artpar/apiforge/adapters/metrics"
	"github.com/artpar/apiforge/config"
	channelhttp "github.com/artpar/apiforge/core/channel/http"
	"github.com/artpar/apiforge/core/manifest"
	"github.com/artpar/apiforge/core/openapi"
	"github.com/artpar/apiforge/core/registry"
	"github.com/artpar/apiforge/core/reload"
	"github.com/artpar/apiforge/core/storage"
	"github.com/artpar/apiforge/core/synth"
	"github.com/artpar/apiforge/core/validation"
)

// App represents the running application.
type App struct {
	Config     *config.Config
	Logger     zerolog.Logger
	Store      *storage.Mapper
	Registry   *registry.Registry
	Channel    *channelhttp.Channel
	Metrics    *metrics.Collector
	HTTPServer *http.Server

	// Reload triggers (nil when disabled)
	watcher *reload.Watcher
	redis   redis.UniversalClient
	trigger *reload.RedisTrigger

	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

// Options provides optional settings for application initialization.
type Options struct {
	// Version is reported by /version.
	Version string
	// LogOutput overrides stdout as the log destination.
	LogOutput io.Writer
}

// New creates the application and publishes the schema at
// cfg.Schema.Path. A schema that fails to load fails startup.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	out := opts.LogOutput
	if out == nil {
		out = os.Stdout
	}
	logger := NewLogger(cfg.Logging, out)
	logger.Info().Str("schema", cfg.Schema.Path).Msg("initializing apiforge")

	a := &App{Config: cfg, Logger: logger}

	if err := a.initStorage(ctx); err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.Metrics = metrics.NewWithRegistry(reg, reg)
		logger.Info().Str("path", cfg.Metrics.Path).Msg("prometheus metrics enabled")
	}

	if err := a.initRegistry(); err != nil {
		a.Store.Close()
		return nil, err
	}

	if err := a.initReload(); err != nil {
		a.Store.Close()
		return nil, fmt.Errorf("init reload: %w", err)
	}

	// The first schema must load; later failures keep the active one.
	if err := a.Reload(ctx, reload.SourceStartup); err != nil {
		a.closeBackends()
		return nil, fmt.Errorf("load schema: %w", err)
	}

	a.initHTTPServer(opts.Version)
	return a, nil
}

func (a *App) initStorage(ctx context.Context) error {
	cfg := a.Config.Database
	db, dialect, err := storage.Open(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		return err
	}
	a.Store = storage.New(db, dialect, storage.WithQueryTimeout(cfg.QueryTimeout))
	a.Logger.Info().Str("driver", dialect.Name()).Msg("database connected")
	return nil
}

func (a *App) initRegistry() error {
	cfg := a.Config

	v := validation.Validator{
		Mode:           validation.Mode(cfg.API.ValidationMode),
		DefaultPerPage: cfg.API.DefaultPerPage,
		MaxPerPage:     cfg.API.MaxPerPage,
		MaxExpandDepth: cfg.API.MaxExpandDepth,
	}

	regOpts := []registry.Option{
		registry.WithLogger(a.Logger.With().Str("component", "registry").Logger()),
		registry.WithInfo(openapi.Info{Title: cfg.Docs.Title, Version: cfg.Docs.Version}),
		registry.WithPrefix(cfg.API.Prefix),
	}
	if a.Metrics != nil {
		regOpts = append(regOpts, registry.WithRecorder(a.Metrics))
	}
	a.Registry = registry.New(synth.New(a.Store, v), a.Store, regOpts...)

	identity, err := a.identity()
	if err != nil {
		return err
	}

	chOpts := []channelhttp.Option{
		channelhttp.WithPrefix(cfg.API.Prefix),
		channelhttp.WithDocs(cfg.Docs.Enabled),
		channelhttp.WithIdentity(identity),
		channelhttp.WithLogger(a.Logger.With().Str("component", "http").Logger()),
		channelhttp.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
	}
	if a.Metrics != nil {
		chOpts = append(chOpts, channelhttp.WithRecorder(a.Metrics))
	}
	a.Channel = channelhttp.New(chOpts...)

	a.Registry.OnChange(func(snap *registry.Snapshot) {
		if err := a.Channel.Publish(snap); err != nil {
			a.Logger.Error().Err(err).Int("version", snap.Version).Msg("failed to publish routes")
		}
	})
	return nil
}

// identity builds the caller resolver of the configured auth mode.
func (a *App) identity() (*channelhttp.Identity, error) {
	cfg := a.Config.Auth
	switch cfg.Mode {
	case channelhttp.IdentityJWT:
		if cfg.JWTSecret == "" {
			return nil, fmt.Errorf("init auth: %w", auth.ErrMissingSecret)
		}
		tokens := auth.NewTokenService(cfg.JWTSecret, cfg.Issuer, cfg.RolesClaim, 0)
		return channelhttp.NewIdentity(channelhttp.IdentityJWT, tokens), nil
	case channelhttp.IdentityHeader:
		a.Logger.Warn().Msg("trusting identity headers; run behind an authenticating proxy")
		return channelhttp.NewIdentity(channelhttp.IdentityHeader, nil), nil
	default:
		return channelhttp.NewIdentity(channelhttp.IdentityNone, nil), nil
	}
}

func (a *App) initReload() error {
	cfg := a.Config

	if cfg.Schema.Watch {
		w, err := reload.NewWatcher(cfg.Schema.Path, a.Reload, a.Logger.With().Str("component", "reload").Logger())
		if err != nil {
			return err
		}
		a.watcher = w
	}

	if cfg.Reload.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.Reload.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		a.redis = redis.NewClient(opt)
		a.trigger = reload.NewRedisTrigger(a.redis, cfg.Reload.Channel, cfg.Reload.FingerprintKey, a.Reload,
			a.Logger.With().Str("component", "reload").Logger())

		a.Registry.OnChange(func(snap *registry.Snapshot) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := a.trigger.Record(ctx, snap.Fingerprint); err != nil {
				a.Logger.Warn().Err(err).Msg("failed to record schema fingerprint")
			}
		})
	}
	return nil
}

func (a *App) initHTTPServer(version string) {
	cfg := a.Config

	router := apihttp.NewRouter(a.Channel, cfg.API.Prefix, apihttp.NewHealthHandler(a.Store, a.Registry), a.Logger, apihttp.RouterConfig{
		Metrics:     a.Metrics,
		MetricsPath: cfg.Metrics.Path,
		Version:     version,
		Timeout:     cfg.Server.WriteTimeout,
		Snapshot:    a.Registry,
	})

	a.HTTPServer = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler {
	return a.HTTPServer.Handler
}

// Reload loads the schema file and registers it. A failed reload leaves the
// active schema serving.
func (a *App) Reload(ctx context.Context, source string) error {
	doc, err := manifest.LoadFile(a.Config.Schema.Path)
	if err != nil {
		return err
	}
	snap, err := a.Registry.Register(ctx, doc)
	if err != nil {
		return err
	}
	a.Logger.Debug().
		Str("source", source).
		Int("version", snap.Version).
		Msg("schema reload handled")
	return nil
}

// Start launches the reload triggers. Run calls it; tests that drive the
// handler directly may call it on its own.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	if a.watcher != nil {
		if err := a.watcher.WatchFile(ctx); err != nil {
			return fmt.Errorf("watch schema: %w", err)
		}
		a.watcher.WatchSignals(ctx)
	}

	if a.trigger != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.trigger.Run(ctx, nil); err != nil {
				a.Logger.Error().Err(err).Msg("redis reload trigger stopped")
			}
		}()
	}
	return nil
}

// Run starts the HTTP server and blocks until shutdown.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Str("prefix", a.Config.API.Prefix).
			Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt or error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		a.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-ctx.Done():
		a.Logger.Info().Msg("context cancelled, shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application. It is safe to call more than
// once.
func (a *App) Shutdown() error {
	var err error
	a.shutdownOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
		defer cancel()

		// Shutdown HTTP server
		if a.HTTPServer != nil {
			if serr := a.HTTPServer.Shutdown(ctx); serr != nil {
				a.Logger.Error().Err(serr).Msg("http server shutdown error")
				err = serr
			}
		}

		a.closeBackends()
		a.Logger.Info().Msg("shutdown complete")
	})
	return err
}

// closeBackends stops the reload triggers and closes the connections.
func (a *App) closeBackends() {
	if a.watcher != nil {
		a.watcher.Stop()
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("redis close error")
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("database close error")
		}
	}
}

// NewLogger builds the process logger from the logging configuration.
func NewLogger(cfg config.LoggingConfig, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
