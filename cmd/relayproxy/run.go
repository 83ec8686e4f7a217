package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"
	"go.opentelemetry.io/otel/trace"

	"github.com/kjellberg/relayproxy/internal/aggregator"
	"github.com/kjellberg/relayproxy/internal/config"
	"github.com/kjellberg/relayproxy/internal/forwarder"
	"github.com/kjellberg/relayproxy/internal/recorder"
	"github.com/kjellberg/relayproxy/internal/server"
	"github.com/kjellberg/relayproxy/internal/storage/sqlite"
	"github.com/kjellberg/relayproxy/internal/telemetry"
	"github.com/kjellberg/relayproxy/internal/worker"
)

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	slog.Info("starting relayproxy", "version", version, "addr", cfg.Server.Addr)

	store, err := sqlite.New(cfg.Storage.ConnectionString)
	if err != nil {
		return err
	}
	defer store.Close()
	slog.Info("database opened", "path", cfg.Storage.ConnectionString)

	// Shared DNS cache for the upstream HTTP client, refreshed by a
	// supervised background worker.
	dnsResolver := &dnscache.Resolver{}
	dnsCtx, dnsCancel := context.WithCancel(context.Background())
	workerRunner := worker.NewRunner(worker.NewDNSRefresher(dnsResolver, 5*time.Minute))
	go func() {
		if err := workerRunner.Run(dnsCtx); err != nil {
			slog.Error("background worker exited with error", "error", err)
		}
	}()

	transport := newTransport(dnsResolver)
	upstreamClient := &http.Client{
		Transport: transport,
		Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		// The proxy is transparent: redirects and encoding are the
		// upstream's business, not ours.
		CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	rec := recorder.New(store)
	fwd := forwarder.New(upstreamClient, cfg.Upstream.BaseURL, cfg.Upstream.StoredBodyCap(), rec)
	agg := aggregator.New(store)

	var metrics *telemetry.Metrics
	var metricsHandler http.Handler
	if cfg.Telemetry.Metrics.Enabled {
		promRegistry := prometheus.NewRegistry()
		promRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		promRegistry.MustRegister(collectors.NewGoCollector())
		metrics = telemetry.NewMetrics(promRegistry)
		metricsHandler = promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})
		slog.Info("prometheus metrics enabled")
	}
	fwd.SetMetrics(metrics)
	rec.SetMetrics(metrics)

	var tracer trace.Tracer
	var tracingShutdown func(context.Context) error
	if cfg.Telemetry.Tracing.Enabled {
		endpoint := cfg.Telemetry.Tracing.Endpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		sampleRate := cfg.Telemetry.Tracing.SampleRate
		if sampleRate == 0 {
			sampleRate = 0.1
		}
		shutdown, err := telemetry.SetupTracing(context.Background(), endpoint, sampleRate)
		if err != nil {
			slog.Warn("tracing setup failed, continuing without tracing", "error", err)
		} else {
			tracingShutdown = shutdown
			tracer = telemetry.Tracer("relayproxy/server")
			slog.Info("opentelemetry tracing enabled", "endpoint", endpoint, "sample_rate", sampleRate)
		}
	}

	handler := server.New(server.Deps{
		Forwarder:      fwd,
		Aggregator:     agg,
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
		Tracer:         tracer,
		ReadyCheck:     store.Ping,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("relayproxy ready", "addr", cfg.Server.Addr, "upstream", cfg.Upstream.BaseURL)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		dnsCancel()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		dnsCancel()
		return err
	}

	// Drain in-flight recorder writes only after the HTTP server has
	// stopped accepting new connections.
	rec.Wait()
	dnsCancel()

	if tracingShutdown != nil {
		if err := tracingShutdown(shutdownCtx); err != nil {
			slog.Error("tracing shutdown error", "error", err)
		}
	}

	slog.Info("relayproxy stopped")
	return nil
}

// newTransport returns a tuned *http.Transport with DNS caching, used for
// the single upstream client.
func newTransport(resolver *dnscache.Resolver) *http.Transport {
	t := &http.Transport{
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     200,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
		TLSHandshakeTimeout: 5 * time.Second,
		// Response auto-decompression is disabled: the proxy must
		// deliver Content-Encoding: gzip bytes unmodified to the client.
		DisableCompression: true,
	}
	t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		ips, err := resolver.LookupHost(ctx, host)
		if err != nil {
			return nil, err
		}
		var d net.Dialer
		return d.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
	}
	return t
}
