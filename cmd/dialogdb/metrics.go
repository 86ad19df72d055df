package main

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"dialogdb/internal/config"
	"dialogdb/internal/metrics"
	"dialogdb/internal/metrics/datadog"
)

// metricsBackend is what initMetrics needs from a concrete backend.
type metricsBackend interface {
	metrics.Backend
	Close() error
}

// Seams for tests.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		return datadog.NewBackend(ctx, opts)
	}
	setMetricsBackend = metrics.SetBackend
)

// initMetrics installs the configured metrics backend. The returned cleanup
// is never nil; for datadog it stops the flush loop and submits once more.
func initMetrics(ctx context.Context, m config.Metrics, log *zap.Logger) (func(), error) {
	noop := func() {}
	switch strings.ToLower(strings.TrimSpace(m.Backend)) {
	case "", "none", "noop":
		log.Debug("metrics disabled")
		return noop, nil

	case "datadog", "dd":
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    m.JobName,
			Tags:       datadog.ParseTagsCSV(m.Tags),
			FlushEvery: m.FlushEvery,
		})
		if err != nil {
			return noop, datadog.WrapInitErr(err)
		}
		setMetricsBackend(b)
		log.Info("metrics enabled",
			zap.String("backend", "datadog"),
			zap.String("job_name", m.JobName),
			zap.Duration("flush_every", m.FlushEvery))
		return func() {
			if err := b.Close(); err != nil {
				log.Warn("metrics: datadog close error", zap.Error(err))
			}
			setMetricsBackend(nil)
		}, nil

	default:
		log.Warn("metrics: unknown backend; metrics disabled", zap.String("backend", m.Backend))
		return noop, nil
	}
}
