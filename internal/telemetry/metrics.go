package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ktail/internal/logging"
)

// Registry holds every ktail collector plus the Go runtime and process
// collectors.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	RecordsConsumed = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ktail",
		Name:      "records_consumed_total",
		Help:      "Records consumed from Kafka.",
	}, []string{"topic", "partition"})

	BytesEmitted = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ktail",
		Name:      "bytes_emitted_total",
		Help:      "Decoded bytes delivered on fetch data streams.",
	}, []string{"topic"})

	Fetches = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ktail",
		Name:      "fetches_total",
		Help:      "Fetch requests by outcome (completed, cancelled, failed, rejected).",
	}, []string{"topic", "outcome"})

	TokensEmitted = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ktail",
		Name:      "resumption_tokens_emitted_total",
		Help:      "Resumption tokens emitted after a completed fetch.",
	}, []string{"topic"})

	TunnelEstablishments = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ktail",
		Subsystem: "tunnel",
		Name:      "establishments_total",
		Help:      "SSH tunnel establishment attempts by result.",
	}, []string{"result"})

	ForwardsActive = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "ktail",
		Subsystem: "tunnel",
		Name:      "forwards_active",
		Help:      "Local port forwards currently listening.",
	})

	ForwardedConnections = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "ktail",
		Subsystem: "tunnel",
		Name:      "forwarded_connections_total",
		Help:      "Connections accepted on local forwards.",
	})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logging.Component("telemetry").Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
