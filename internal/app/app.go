// Package app wires configuration, logging, the candle feed, event sinks, the
// engine and the API server into a running process.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"go-signal/internal/api"
	"go-signal/internal/config"
	"go-signal/internal/engine"
	"go-signal/internal/feed"
	"go-signal/internal/logging"
	"go-signal/internal/sink"
)

// Version is reported at startup.
const Version = "0.3.0"

const statusPushInterval = 30 * time.Second

// App is the application lifecycle manager.
type App struct {
	cfg     *config.Config
	out     io.Writer
	log     *zap.Logger
	eng     *engine.Engine
	hub     *api.Hub
	journal *sink.Journal
}

// New creates a new App. Human readable event lines go to out; a nil out
// keeps them off the console.
func New(cfg *config.Config, out io.Writer) *App {
	return &App{cfg: cfg, out: out}
}

// Engine returns the engine once the app is set up.
func (a *App) Engine() *engine.Engine {
	return a.eng
}

// Setup builds every component. Run and EvaluateOnce call it themselves.
func (a *App) Setup() error {
	if a.eng != nil {
		return nil
	}

	log, err := logging.Build(a.cfg.App)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	a.log = log

	source, err := feed.NewSource(a.cfg.Exchange)
	if err != nil {
		return err
	}
	provider := feed.NewProvider(source, a.cfg, log.Named("feed"))

	sinks := sink.Multi{sink.NewConsole(a.out, log.Named("events"))}
	if a.cfg.Journal.Enabled {
		j, err := sink.NewJournal(a.cfg.Journal)
		if err != nil {
			return err
		}
		a.journal = j
		sinks = append(sinks, j)
	}
	if a.cfg.Notify.DiscordWebhookURL != "" {
		sinks = append(sinks, sink.NewDiscord(a.cfg.Notify.DiscordWebhookURL, a.cfg.Notify.Timeout, a.cfg.Notify.Kinds))
	}
	if a.cfg.API.Enabled {
		a.hub = api.NewHub(log.Named("ws"))
		sinks = append(sinks, a.hub)
	}

	a.eng = engine.New(a.cfg, provider, sinks)
	a.eng.SetLogger(log.Named("engine"))
	return nil
}

// Close releases files held by the app.
func (a *App) Close() error {
	var err error
	if a.journal != nil {
		err = multierr.Append(err, a.journal.Close())
	}
	if a.log != nil {
		// Sync on a console fd fails on some platforms; it is not actionable.
		_ = a.log.Sync()
	}
	return err
}

// Run starts the daemon: engine loop, optional API server and signal
// handling. It returns after SIGINT/SIGTERM or a fatal component error.
func (a *App) Run() error {
	if err := a.Setup(); err != nil {
		return err
	}
	defer a.Close()
	log := a.log

	log.Info("starting go-signal",
		zap.String("version", Version),
		zap.String("env", a.cfg.App.Env),
		zap.String("source", a.cfg.Exchange.Source),
		zap.Strings("symbols", a.cfg.Engine.Symbols),
		zap.Duration("interval", a.cfg.Engine.Interval),
		zap.Bool("journal", a.cfg.Journal.Enabled),
		zap.Bool("discord", a.cfg.Notify.DiscordWebhookURL != ""),
		zap.Bool("api", a.cfg.API.Enabled),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 2)
	running := 1
	go func() {
		errCh <- a.eng.Run(ctx)
	}()

	if a.cfg.API.Enabled {
		srv := api.NewServer(a.cfg.API.ListenAddress, a.eng, a.hub, log.Named("api"))
		running++
		go func() {
			errCh <- srv.Run(ctx)
		}()
		go a.pushStatus(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var fatal error
	select {
	case sig := <-sigCh:
		log.Info("shutdown_signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		running--
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("fatal_error", zap.Error(err))
			fatal = err
		}
	}

	cancel()
	for ; running > 0; running-- {
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("shutdown_error", zap.Error(err))
		}
	}

	st := a.eng.Status()
	log.Info("go-signal stopped",
		zap.String("balance", st.Account.Balance.String()),
		zap.String("realized_pnl", st.Account.RealizedPnL.String()),
		zap.Int("open_positions", st.OpenPositions),
		zap.Int64("cycles", st.Metrics.CycleCount),
	)
	return fatal
}

// EvaluateOnce runs one on-demand cycle per symbol, in order. An empty list
// evaluates every configured symbol. Failures are combined; results are
// returned for every symbol attempted.
func (a *App) EvaluateOnce(ctx context.Context, symbols []string) ([]engine.CycleResult, error) {
	if err := a.Setup(); err != nil {
		return nil, err
	}
	if len(symbols) == 0 {
		symbols = a.eng.Symbols()
	}

	var errs error
	results := make([]engine.CycleResult, 0, len(symbols))
	for _, sym := range symbols {
		res, err := a.eng.EvaluateNow(ctx, sym)
		results = append(results, res)
		errs = multierr.Append(errs, err)
	}
	return results, errs
}

// pushStatus streams a status snapshot to WebSocket clients.
func (a *App) pushStatus(ctx context.Context) {
	ticker := time.NewTicker(statusPushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if a.hub.ClientCount() > 0 {
				a.hub.Broadcast("status", a.eng.Status())
			}
		}
	}
}
