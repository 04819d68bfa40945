package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/mikaelmello/ringo/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// serveMetrics exposes the metrics of s on addr until the returned stop
// function is called.
func serveMetrics(addr string, s *core.Session, logger *log.Logger) (func(), error) {
	reg := prometheus.NewRegistry()
	metrics, err := core.NewMetrics(reg)
	if err != nil {
		return nil, err
	}
	s.AddObserver(metrics)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.WithField("addr", ln.Addr().String()).Info("Serving metrics")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Metrics server stopped")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.WithError(err).Warn("Could not shut the metrics server down")
		}
	}, nil
}
