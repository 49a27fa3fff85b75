package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"catalogcore/internal/changelog"
	"catalogcore/internal/core"
	"catalogcore/internal/entitymodel"
	"catalogcore/internal/platform/config"
	"catalogcore/internal/platform/logger"
	"catalogcore/internal/platform/otel"
	"catalogcore/pkg/domain"
	"catalogcore/plugins/builtin"
)

const serviceName = "catalogcore"

// runtime holds everything a command needs to talk to the catalog.
type runtime struct {
	cfg      config.Config
	log      *logger.Logger
	registry *entitymodel.Registry
	store    core.RecordStore
	archive  *changelog.Archive
	metrics  *prometheus.Registry
	service  *core.Service
	shutdown func(context.Context) error
}

func openRuntime(ctx context.Context, cfg config.Config) (*runtime, error) {
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	rt := &runtime{cfg: cfg, log: log, metrics: prometheus.NewRegistry(), shutdown: func(context.Context) error { return nil }}
	if err := rt.open(ctx); err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) open(ctx context.Context) error {
	cfg := rt.cfg
	registry, err := loadRegistry(cfg.EntityRegistryPath)
	if err != nil {
		return err
	}
	rt.registry = registry

	rt.store, err = core.OpenRecordStore(ctx, core.StorageConfig{
		Driver:      core.StorageDriver(cfg.Storage.Driver),
		SQLitePath:  cfg.Storage.SQLitePath,
		PostgresDSN: cfg.Storage.PostgresDSN,
	})
	if err != nil {
		return fmt.Errorf("open record store: %w", err)
	}

	rt.archive, err = changelog.Open(ctx, changelog.Config{Driver: cfg.ChangeLog.Driver, Prefix: cfg.ChangeLog.Prefix, S3: cfg.ChangeLog.S3})
	if err != nil {
		return err
	}

	metrics, err := core.NewPrometheusMetricsRecorder(rt.metrics)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	opts := []core.ServiceOption{
		core.WithLogger(rt.log),
		core.WithMetricsRecorder(metrics),
		core.WithAuditRecorder(auditLog{log: rt.log}),
		core.WithMaxSideEffectDepth(cfg.Pipeline.MaxSideEffectDepth),
		core.WithMaxConcurrentBatches(cfg.Pipeline.MaxConcurrentBatches),
		core.WithDuplicateCheck(cfg.Pipeline.DuplicateCheck),
	}
	if cfg.OTel.TracingEnabled() {
		shutdown, err := otel.Setup(ctx, serviceName, cfg.OTel.Endpoint)
		if err != nil {
			return fmt.Errorf("setup tracing: %w", err)
		}
		rt.shutdown = shutdown
		opts = append(opts, core.WithTracer(core.NewOTelTracer(serviceName)))
	}
	// A nil *Archive must not reach the service as a non-nil sink.
	if rt.archive != nil {
		opts = append(opts, core.WithChangeLogSink(rt.archive))
	}
	rt.service = core.NewService(registry, rt.store, opts...)

	redactions, err := loadRedactions(cfg.RedactionsPath)
	if err != nil {
		return err
	}
	var bundleOpts []builtin.Option
	for _, r := range redactions {
		bundleOpts = append(bundleOpts, builtin.WithRedaction(r))
	}
	if _, err := rt.service.InstallPlugin(builtin.New(bundleOpts...)); err != nil {
		return fmt.Errorf("install builtin plugins: %w", err)
	}
	return applyPluginConfigs(rt.service.Registry(), cfg.PluginConfigPath)
}

// Close releases the store and flushes traces and logs.
func (rt *runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.store != nil {
		errs = append(errs, rt.store.Close())
	}
	errs = append(errs, rt.shutdown(ctx))
	rt.log.Sync()
	return errors.Join(errs...)
}

func loadRegistry(path string) (*entitymodel.Registry, error) {
	if path == "" {
		return entitymodel.Default(), nil
	}
	return entitymodel.LoadFile(path)
}

func loadRedactions(path string) ([]builtin.Redaction, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open redactions: %w", err)
	}
	defer func() { _ = f.Close() }()
	return builtin.LoadRedactions(f)
}

func applyPluginConfigs(registry *core.PluginRegistry, path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open plugin config: %w", err)
	}
	defer func() { _ = f.Close() }()
	configs, err := core.LoadPluginConfigs(f)
	if err != nil {
		return err
	}
	return registry.ApplyPluginConfigs(configs)
}

type auditLog struct {
	log *logger.Logger
}

func (a auditLog) Record(_ context.Context, e core.AuditEntry) {
	kv := []any{
		"operation", e.Operation,
		"status", e.Status,
		"items", e.Items,
		"committed", e.Committed,
		"rejected", e.Rejected,
		"duration", e.Duration,
	}
	if e.Error != "" {
		a.log.Warn("batch audit", append(kv, "error", e.Error)...)
		return
	}
	a.log.Debug("batch audit", kv...)
}

// historian is implemented by every store that keeps prior versions.
type historian interface {
	History(ctx context.Context, urn domain.Urn, aspectName string) ([]domain.SystemAspect, error)
}
