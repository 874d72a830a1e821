// Package metrics exposes bridge counters in the Prometheus format.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bridge"

// Metrics holds the bridge collectors. A nil *Metrics discards every observation.
type Metrics struct {
	Registry *prometheus.Registry

	framesReceived *prometheus.CounterVec
	framesSent     *prometheus.CounterVec
	converted      *prometheus.CounterVec
	dispatched     *prometheus.CounterVec
	connected      prometheus.Gauge
}

// New registers the bridge collectors, plus the Go runtime and process collectors,
// on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Frames received from the backend by envelope type.",
		}, []string{"type"}),
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Frames sent to the backend by envelope type.",
		}, []string{"type"}),
		converted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_converted_total",
			Help:      "Platform messages converted by canonical type and result.",
		}, []string{"type", "result"}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dispatched_total",
			Help:      "Backend messages dispatched by canonical type and result.",
		}, []string{"type", "result"}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_connected",
			Help:      "1 while the backend websocket is open.",
		}),
	}
	m.Registry.MustRegister(
		m.framesReceived,
		m.framesSent,
		m.converted,
		m.dispatched,
		m.connected,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// FrameReceived counts one backend frame; malformed frames use the type "malformed".
func (m *Metrics) FrameReceived(typ string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(typ).Inc()
}

// FrameSent counts one frame written to the backend.
func (m *Metrics) FrameSent(typ string) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(typ).Inc()
}

// Converted counts one inbound conversion.
func (m *Metrics) Converted(typ string, err error) {
	if m == nil {
		return
	}
	m.converted.WithLabelValues(typ, result(err)).Inc()
}

// Dispatched counts one outbound dispatch.
func (m *Metrics) Dispatched(typ string, err error) {
	if m == nil {
		return
	}
	m.dispatched.WithLabelValues(typ, result(err)).Inc()
}

// SetConnected records whether the backend connection is open.
func (m *Metrics) SetConnected(open bool) {
	if m == nil {
		return
	}
	if open {
		m.connected.Set(1)
		return
	}
	m.connected.Set(0)
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Metrics server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	logger.Info("Metrics server stopped")
	return nil
}
