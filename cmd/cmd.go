package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/anicoll/gasmeter/internal/pkg/config"
	"github.com/anicoll/gasmeter/internal/pkg/controller"
	"github.com/anicoll/gasmeter/internal/pkg/link"
	"github.com/anicoll/gasmeter/internal/pkg/metrics"
	"github.com/anicoll/gasmeter/internal/pkg/mqtt"
	"github.com/anicoll/gasmeter/internal/pkg/panel"
	"github.com/anicoll/gasmeter/internal/pkg/persistence"
	"github.com/anicoll/gasmeter/internal/pkg/publisher"
	"github.com/anicoll/gasmeter/internal/pkg/sensor"
	"github.com/anicoll/gasmeter/internal/pkg/server"
	"github.com/anicoll/gasmeter/internal/pkg/storage"
	"github.com/anicoll/gasmeter/internal/pkg/storage/migration"
	"github.com/anicoll/gasmeter/pkg/hasher"
)

var errUnknownStore = errors.New("unknown store")

func GasmeterCommand(ctx *cli.Context) error {
	timing, err := config.LoadTiming()
	if err != nil {
		return err
	}
	clientID := ctx.String("client-id")
	if clientID == "" {
		clientID = config.DefaultClientID()
	}
	defaults, err := config.LoadDefaults(ctx.String("defaults-file"), clientID)
	if err != nil {
		return err
	}
	cfg := &config.Config{
		LogLevel:         ctx.String("log-level"),
		Version:          ctx.App.Version,
		Store:            ctx.String("store"),
		DataDir:          ctx.String("data-dir"),
		DatabaseURL:      ctx.String("database-url"),
		HTTPAddr:         ctx.String("http-addr"),
		HTTPPasswordHash: ctx.String("http-password-hash"),
		SensorPath:       ctx.String("sensor-path"),
		LinkInterface:    ctx.String("link-interface"),
		LinkReconnectCmd: strings.Fields(ctx.String("link-reconnect-cmd")),
		LinkResetCmd:     strings.Fields(ctx.String("link-reset-cmd")),
		Button1Path:      ctx.String("button1-path"),
		Button2Path:      ctx.String("button2-path"),
		Defaults:         defaults,
		Timing:           timing,
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync() // flushes buffer, if any.
	}()
	zap.ReplaceGlobals(logger)

	store, closeStore, err := openStore(ctx.Context, cfg, clientID)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Error("failed to close store", zap.Error(err))
		}
	}()

	deps := dependencies{
		Store:   store,
		Sampler: sensor.IIOSampler{Path: cfg.SensorPath},
		Monitor: link.NewInterfaceMonitor(cfg.LinkInterface, cfg.LinkReconnectCmd, cfg.LinkResetCmd),
	}
	for i, path := range []string{cfg.Button1Path, cfg.Button2Path} {
		if path != "" {
			deps.Buttons = append(deps.Buttons, panel.NewGPIOButton(path, panel.Button(i+1), timing.LongPress))
		}
	}
	return run(ctx.Context, cfg, deps)
}

// HashPasswordCommand prints the bcrypt hash to use for --http-password-hash.
func HashPasswordCommand(ctx *cli.Context) error {
	pw := ctx.Args().First()
	if pw == "" {
		return errors.New("usage: hash-password <password>")
	}
	hash, err := hasher.HashPassword([]byte(pw))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(ctx.App.Writer, hash)
	return err
}

func newLogger(level string) (*zap.Logger, error) {
	var err error
	logCfg := zap.NewProductionConfig()

	logCfg.Level, err = zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	logCfg.OutputPaths = []string{"stdout"}
	logCfg.ErrorOutputPaths = []string{"stdout"}
	logCfg.Sampling = nil
	return logCfg.Build(zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel))
}

func openStore(ctx context.Context, cfg *config.Config, deviceID string) (storage.Store, func() error, error) {
	switch cfg.Store {
	case config.StoreFile, "":
		return storage.NewFileStore(cfg.DataDir), func() error { return nil }, nil
	case config.StoreSQLite:
		s, err := storage.NewSQLiteStore(ctx, filepath.Join(cfg.DataDir, "gasmeter.db"))
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.StorePostgres:
		if err := migration.Migrate(cfg.DatabaseURL); err != nil {
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		s := storage.NewPostgresStore(pool, deviceID)
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", errUnknownStore, cfg.Store)
	}
}

func run(ctx context.Context, cfg *config.Config, deps dependencies) error {
	logger := zap.L()
	timing := cfg.Timing
	eg, ctx := errgroup.WithContext(ctx)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	sens := sensor.New(deps.Sampler, sensor.Hysteresis{Low: timing.HysteresisLow, High: timing.HysteresisHigh}, timing.SensorTick)
	session := mqtt.New(cfg.Defaults, mqtt.Options{
		ReconnectInterval: timing.MQTTRetryInterval,
		ProbeTimeout:      timing.MQTTProbeTimeout,
		ConnectTimeout:    timing.MQTTConnTimeout,
		PublishTimeout:    timing.MQTTPubTimeout,
		KeepAlive:         timing.MQTTKeepAlive,
		Version:           cfg.Version,
	})
	ctrl := controller.New(session, deps.Store, link.NewManager(deps.Monitor, timing.LinkRetryInterval), sens, m, controller.Options{
		LoopTick: timing.LoopTick,
		Version:  cfg.Version,
		Defaults: persistence.Snapshot{Conn: cfg.Defaults},
	})
	pnl := panel.New(ctrl)

	logger.Info("starting gasmeter",
		zap.String("version", cfg.Version),
		zap.String("store", deps.Store.Name()),
		zap.String("client_id", cfg.Defaults.ClientID),
	)

	eg.Go(func() error {
		return ctrl.Run(ctx)
	})

	eg.Go(func() error {
		return sens.Run(ctx)
	})

	eg.Go(func() error {
		return schedulePeriodic(ctx, ctrl, timing)
	})

	presses := make(chan panel.Press, 8)
	eg.Go(func() error {
		return pnl.Run(ctx, presses)
	})
	for _, b := range deps.Buttons {
		b := b
		eg.Go(func() error {
			return b.Run(ctx, presses)
		})
	}

	srv := &http.Server{
		Handler:      server.New(ctrl, pnl, reg, cfg.HTTPPasswordHash).Routes(),
		Addr:         cfg.HTTPAddr,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}
	eg.Go(func() error {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

type periodic interface {
	Publish(ctx context.Context) error
	Save(ctx context.Context) error
}

// schedulePeriodic publishes and saves on fixed intervals until ctx is done.
func schedulePeriodic(ctx context.Context, p periodic, timing config.Timing) error {
	c := cron.New()
	if _, err := c.AddFunc("@every "+timing.PublishInterval.String(), func() {
		err := p.Publish(ctx)
		switch {
		case err == nil:
		case errors.Is(err, publisher.ErrNotConnected), errors.Is(err, controller.ErrStopped), errors.Is(err, context.Canceled):
			zap.L().Debug("periodic publish skipped", zap.Error(err))
		default:
			zap.L().Error("periodic publish failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}
	if _, err := c.AddFunc("@every "+timing.SaveInterval.String(), func() {
		if err := p.Save(ctx); err != nil && !errors.Is(err, context.Canceled) {
			zap.L().Error("periodic save failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}
