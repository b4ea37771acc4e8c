package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/fraudguard/fraud-filter/pkg/api"
	"github.com/fraudguard/fraud-filter/pkg/artifacts"
	"github.com/fraudguard/fraud-filter/pkg/dns"
	"github.com/fraudguard/fraud-filter/pkg/filter"
	"github.com/fraudguard/fraud-filter/pkg/metrics"
	"github.com/fraudguard/fraud-filter/pkg/recorder"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the validation HTTP server",
	Long: `Starts the fraud filter HTTP server. Artifacts (models, heuristics,
whitelist, domain lists) are loaded from the Redis artifact store and
refreshed in the background; validation outcomes are persisted to
Postgres when persistence is enabled.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	if err := store.Ping(cmd.Context()); err != nil {
		return fmt.Errorf("artifact store unreachable: %w", err)
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	cache := buildCache(cfg, store)
	cache.OnFetchError = func(kind artifacts.Kind, err error) {
		m.KVFetchFailed.WithLabelValues(string(kind)).Inc()
		if errors.Is(err, artifacts.ErrChecksumMismatch) {
			m.ChecksumRejected.WithLabelValues(string(kind)).Inc()
		}
		log.Printf("artifact fetch failed (%s): %v", kind, err)
	}
	cache.OnRefresh = func(kind artifacts.Kind, ok bool) {
		result := "ok"
		if !ok {
			result = "error"
		}
		m.CacheRefresh.WithLabelValues(string(kind), result).Inc()
	}

	resolver := dns.NewResolver(dns.Config{
		Endpoint:  cfg.MX.Endpoint,
		Timeout:   cfg.MX.Timeout,
		CacheSize: cfg.MX.CacheSize,
		CacheTTL:  cfg.MX.CacheTTL,
	})
	resolver.OnLookup = func(outcome string) {
		m.MXLookups.WithLabelValues(outcome).Inc()
	}

	opts := []filter.Option{
		filter.WithResolver(resolver),
		filter.WithMetrics(m),
	}

	var rec *recorder.Recorder
	if cfg.Persistence.Enabled {
		pgStore, err := recorder.NewStore(cfg.Persistence.PostgresURL)
		if err != nil {
			return fmt.Errorf("validation store: %w", err)
		}
		defer pgStore.Close()

		if err := pgStore.InitSchema(cmd.Context()); err != nil {
			return fmt.Errorf("validation schema: %w", err)
		}

		rec = recorder.New(pgStore, cfg.Persistence.QueueSize)
		rec.OnError = func(err error) {
			m.PersistFailed.Inc()
			log.Printf("validation insert failed: %v", err)
		}
		rec.OnDrop = func() {
			m.PersistFailed.Inc()
		}
		opts = append(opts, filter.WithRecorder(rec))
	}

	if cfg.Alerting.WebhookURL != "" {
		alerter := recorder.NewAlerter(cfg.Alerting.WebhookURL, cfg.Alerting.Timeout)
		alerter.OnError = func(err error) {
			m.WebhookFailed.Inc()
			log.Printf("alert webhook failed: %v", err)
		}
		opts = append(opts, filter.WithAlerter(alerter))
	}

	f := filter.New(cache, opts...)
	router := api.SetupRouter(f, cache, cfg.Server.RequestTimeout)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("fraudguard listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Printf("received %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
	if rec != nil {
		if err := rec.Close(ctx); err != nil {
			log.Printf("recorder drain: %v", err)
		}
	}
	return nil
}
