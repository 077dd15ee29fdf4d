package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"moneyman/internal/cache"
	"moneyman/internal/command"
	"moneyman/internal/config"
	"moneyman/internal/convert"
	"moneyman/internal/discord"
	"moneyman/internal/mention"
	"moneyman/internal/metrics"
	"moneyman/internal/model"
	"moneyman/internal/rates"
	"moneyman/internal/reply"
	"moneyman/internal/scheduler"
	"moneyman/internal/storage"
	"moneyman/internal/targets"
	"moneyman/internal/telegram"
)

const sourceCacheTTL = 24 * time.Hour

func main() {
	configPath := flag.String("config", "config.json", "path to JSON config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("bot failed", "error", err)
		os.Exit(1)
	}
	log.Info("bot stopped")
}

// transport is one chat gateway with its event source.
type transport struct {
	name    string
	gateway reply.Gateway
	setSink func(d *reply.Dispatcher)
	run     func(ctx context.Context) error
}

func run(cfg *config.Config, log *slog.Logger) error {
	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create data directory %s: %w", dir, err)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database %s: %w", cfg.DatabasePath, err)
	}
	defer func() { _ = store.Close() }()

	symbols, err := config.LoadSymbols(cfg.SymbolsPath)
	if err != nil {
		return err
	}
	flags, err := config.LoadFlags(cfg.FlagsPath)
	if err != nil {
		return err
	}

	recorder := metrics.New(cfg.MetricsAddr != "")

	provider := rates.NewProvider(http.DefaultClient, cfg.RatesURL, cfg.OXRAppID)
	rateStore := rates.NewStore(provider, rates.NewSnapshotFile(cfg.RatesCachePath), cfg.RatesTTL, log)
	rateStore.SetMetrics(recorder)

	conv := convert.New(rateStore, log)
	resolver := targets.NewResolver(cfg.SelectedCurrencies, flags, store, log)
	scanner := mention.NewScanner(symbols)
	sources := cache.NewMessages(cfg.SourceCacheMB, sourceCacheTTL, log)
	recorder.GaugeFunc("moneyman_source_cache_entries", "Source messages held in memory", func() float64 {
		return float64(sources.Len())
	})

	commands := command.New(command.Deps{
		Rates:   rateStore,
		Conv:    conv,
		Targets: resolver,
		Store:   store,
		Allowed: cfg.IsUserAllowed,
		Metrics: recorder,
		Log:     log,
	})

	transports, err := newTransports(cfg, commands, resolver, recorder, log)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	for _, t := range transports {
		tlog := log.With("transport", t.name)
		history, err := reply.NewHistory(cfg.HistorySize, func(rec model.ReplyRecord) {
			recorder.IncReply("evicted")
			tlog.Debug("correlation evicted", "channel_id", rec.SourceChannelID, "message_id", rec.SourceMessageID)
		})
		if err != nil {
			return err
		}
		recorder.GaugeFunc("moneyman_"+t.name+"_reply_history_size", "Reply correlations tracked for "+t.name, func() float64 {
			return float64(history.Len())
		})

		coord := reply.New(reply.Deps{
			Gateway: t.gateway,
			Rates:   rateStore,
			Scanner: scanner,
			Builder: conv,
			Targets: resolver,
			History: history,
			Sources: sources,
			Metrics: recorder,
			Log:     tlog,
			Ignored: cfg.IgnoredCurrencies,
			Options: reply.Options{EditWindow: cfg.EditWindow},
		})
		dispatcher := reply.NewDispatcher(coord, cfg.Workers, 64)
		t.setSink(dispatcher)

		g.Go(func() error { return dispatcher.Run(ctx) })
		g.Go(func() error { return t.run(ctx) })
		tlog.Info("transport ready")
	}

	sched := scheduler.New(rateStore, cfg.RefreshInterval, log)
	g.Go(func() error {
		sched.Run(ctx)
		return nil
	})

	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux(recorder), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Info("serving metrics", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}

	log.Info("starting bot", "transports", len(transports))
	return g.Wait()
}

func newTransports(cfg *config.Config, commands *command.Handler, resolver *targets.Resolver, recorder metrics.Recorder, log *slog.Logger) ([]transport, error) {
	var out []transport

	if cfg.TelegramBotToken != "" {
		tg, err := telegram.New(cfg.TelegramBotToken, nil, commands, recorder, log.With("transport", telegram.Transport))
		if err != nil {
			return nil, fmt.Errorf("create telegram gateway: %w", err)
		}
		out = append(out, transport{
			name:    telegram.Transport,
			gateway: tg,
			setSink: func(d *reply.Dispatcher) { tg.SetSink(d) },
			run: func(ctx context.Context) error {
				tg.Run(ctx)
				return nil
			},
		})
	}

	if cfg.DiscordToken != "" {
		dc, err := discord.New(cfg.DiscordToken, cfg.DiscordPrefix, nil, commands, recorder, log.With("transport", discord.Transport))
		if err != nil {
			return nil, fmt.Errorf("create discord gateway: %w", err)
		}
		dc.SetReactionFilter(resolver.IsFlag)
		out = append(out, transport{
			name:    discord.Transport,
			gateway: dc,
			setSink: func(d *reply.Dispatcher) { dc.SetSink(d) },
			run:     dc.Run,
		})
	}

	return out, nil
}

func metricsMux(recorder metrics.Recorder) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", recorder.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
