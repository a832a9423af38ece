package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/tphakala/heapbridge/internal/conf"
	metricspkg "github.com/tphakala/heapbridge/internal/observability/metrics"
)

// Endpoint serves Prometheus metrics over HTTP.
type Endpoint struct {
	server        *http.Server
	listenAddress string
	metrics       *Metrics
	addr          net.Addr
}

// NewEndpoint creates a new metrics Endpoint.
//
// It returns an error if telemetry is not enabled in the settings. The
// function does not create new metrics but serves the provided Metrics instance.
func NewEndpoint(settings *conf.Settings, metrics *Metrics) (*Endpoint, error) {
	if !settings.Telemetry.Enabled {
		return nil, fmt.Errorf("telemetry not enabled in settings")
	}

	return &Endpoint{
		listenAddress: settings.Telemetry.Listen,
		metrics:       metrics,
	}, nil
}

// Start binds the listen address and serves metrics until quitChan is closed.
// Listen errors are returned synchronously; serve errors are logged.
func (e *Endpoint) Start(wg *sync.WaitGroup, quitChan <-chan struct{}) error {
	mux := http.NewServeMux()
	e.metrics.RegisterHandlers(mux)

	listener, err := net.Listen("tcp", e.listenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", e.listenAddress, err)
	}
	e.addr = listener.Addr()

	e.server = &http.Server{
		Addr:              e.listenAddress,
		Handler:           mux,
		ReadHeaderTimeout: metricspkg.ShutdownTimeout,
	}

	wg.Go(func() {
		telemetryLogger().Info("Telemetry endpoint starting", "address", e.addr.String())
		if err := e.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			telemetryLogger().Error("Telemetry HTTP server error", "error", err)
		}
	})

	wg.Go(func() {
		e.gracefulShutdown(quitChan)
	})

	return nil
}

// gracefulShutdown waits for the quit signal and shuts down the server gracefully.
func (e *Endpoint) gracefulShutdown(quitChan <-chan struct{}) {
	<-quitChan
	telemetryLogger().Info("Stopping telemetry server")
	ctx, cancel := context.WithTimeout(context.Background(), metricspkg.ShutdownTimeout)
	defer cancel()
	if err := e.server.Shutdown(ctx); err != nil {
		telemetryLogger().Error("Telemetry server shutdown error", "error", err)
	}
}

// Addr returns the bound address, or nil before Start succeeds
func (e *Endpoint) Addr() net.Addr {
	return e.addr
}

// GetMetrics returns the Metrics instance associated with this Endpoint.
func (e *Endpoint) GetMetrics() *Metrics {
	return e.metrics
}
