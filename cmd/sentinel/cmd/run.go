package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/sentinel/config"
	"github.com/rustyeddy/sentinel/exchange"
	"github.com/rustyeddy/sentinel/exchange/binance"
	"github.com/rustyeddy/sentinel/exchange/sim"
	"github.com/rustyeddy/sentinel/guard"
	"github.com/rustyeddy/sentinel/ledger"
	"github.com/rustyeddy/sentinel/metrics"
	"github.com/rustyeddy/sentinel/notify"
	"github.com/rustyeddy/sentinel/reconcile"
	"github.com/rustyeddy/sentinel/rules"
	"github.com/rustyeddy/sentinel/state"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the reconciliation engine",
	Long: `Run the reconciliation loop against the configured exchange.

On startup the engine loads the last snapshot (or rebuilds one from
exchange state), then reconciles on a fixed interval until interrupted.

Example:
  sentinel run --config sentinel.yaml`,
	RunE: runRun,
}

var runConfigPath string

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runConfigPath, "config", "f", "", "path to config file (YAML or JSON) (required)")
	runCmd.MarkFlagRequired("config")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(runConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	window, err := cfg.KillSwitchWindow()
	if err != nil {
		return fmt.Errorf("kill_switch.window: %w", err)
	}
	ks := guard.New(cfg.KillSwitch.MaxFailures, window,
		guard.WithMarkerFile(cfg.KillSwitch.MarkerFile),
		guard.WithLogger(log))
	if ks.Tripped() {
		log.Warn("starting with tripped kill switch, observation only",
			"reason", ks.State().Reason)
	}

	led, err := openLedger(cfg)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer led.Close()

	var sinks notify.Multi
	sinks = append(sinks, notify.Slog{Log: log})
	if cfg.Notify.Telegram.Enabled {
		sinks = append(sinks, notify.NewTelegram(cfg.Notify.Telegram.BotToken, cfg.Notify.Telegram.ChatID))
	}
	async := notify.NewAsync(sinks, 64)
	defer async.Close()

	gw, src, err := openGateway(cfg)
	if err != nil {
		return fmt.Errorf("open exchange: %w", err)
	}
	ruleCache := rules.NewCache(src, log)
	if bgw, ok := gw.(*binance.Gateway); ok {
		bgw.AttachRules(ruleCache)
	}

	retry, err := retryFromConfig(cfg)
	if err != nil {
		return err
	}

	engine := reconcile.New(reconcile.Params{
		Gateway:      gw,
		Store:        state.NewFileStore(cfg.Store.Path),
		KillSwitch:   ks,
		Ledger:       led,
		Notifier:     async,
		Retry:        retry,
		Log:          log,
		Symbols:      cfg.Engine.Symbols,
		SizeEpsilon:  cfg.Engine.SizeEpsilon,
		SafetyMargin: cfg.Engine.SafetyMargin,
	})

	if err := engine.Recover(ctx); err != nil {
		return fmt.Errorf("recover: %w", err)
	}

	interval, err := cfg.EngineInterval()
	if err != nil {
		return fmt.Errorf("engine.interval: %w", err)
	}
	refreshInterval, err := cfg.RulesRefreshInterval()
	if err != nil {
		return fmt.Errorf("rules.refresh_interval: %w", err)
	}

	log.Info("sentinel started",
		"mode", cfg.Exchange.Mode,
		"symbols", cfg.Engine.Symbols,
		"interval", interval.String())

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sched := reconcile.Scheduler{
			Interval: interval,
			Log:      log,
			OnSkip:   func() { metrics.Cycles.WithLabelValues("skipped").Inc() },
		}
		return sched.Run(ctx, func(ctx context.Context) {
			_ = engine.Cycle(ctx) // failures feed the kill switch, never the process
		})
	})

	g.Go(func() error {
		return ruleCache.Run(ctx, refreshInterval)
	})

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metrics.Handler()}
		g.Go(func() error {
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		log.Info("sentinel stopped")
		return nil
	}
	return err
}

func openLedger(cfg *config.Config) (ledger.Ledger, error) {
	switch cfg.Ledger.Type {
	case "csv":
		return ledger.NewCSV(cfg.Ledger.Path)
	case "sqlite":
		return ledger.NewSQLite(cfg.Ledger.Path)
	default:
		return ledger.Nop{}, nil
	}
}

func openGateway(cfg *config.Config) (exchange.Gateway, rules.Source, error) {
	switch cfg.Exchange.Mode {
	case "binance":
		gw := binance.New(cfg.Exchange.APIKey, cfg.Exchange.APISecret, cfg.Exchange.Testnet)
		return gw, gw, nil
	case "paper":
		eng := sim.NewEngine()
		return eng, eng, nil
	default:
		return nil, nil, fmt.Errorf("unknown exchange mode %q", cfg.Exchange.Mode)
	}
}

func retryFromConfig(cfg *config.Config) (reconcile.Retry, error) {
	base, err := cfg.RetryBaseBackoff()
	if err != nil {
		return reconcile.Retry{}, fmt.Errorf("retry.base_backoff: %w", err)
	}
	max, err := cfg.RetryMaxBackoff()
	if err != nil {
		return reconcile.Retry{}, fmt.Errorf("retry.max_backoff: %w", err)
	}
	timeout, err := cfg.RetryCallTimeout()
	if err != nil {
		return reconcile.Retry{}, fmt.Errorf("retry.call_timeout: %w", err)
	}
	return reconcile.Retry{
		Attempts:    cfg.Retry.Attempts,
		BaseBackoff: base,
		MaxBackoff:  max,
		CallTimeout: timeout,
	}, nil
}
