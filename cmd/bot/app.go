package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ex-warden/internal/actions"
	"ex-warden/internal/driver"
	"ex-warden/internal/entities"
	"ex-warden/internal/kernel"
	"ex-warden/internal/metrics"
	"ex-warden/internal/store/memory"
	"ex-warden/internal/store/postgres"
	"ex-warden/internal/store/sqldoc"
	"ex-warden/internal/store/sqlite"
	"ex-warden/modules/scheduler"
	"ex-warden/pkg/warden"

	"github.com/caarlos0/env/v11"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	envConfigFile            = "WARDEN_CONFIG_FILE"
	envPrefix                = "WARDEN_"
	defaultConfigFilePath    = "config/bot.json"
	alternateConfigFilePath  = "bin/config/bot.json"
	defaultModuleHookTimeout = 5 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultPollInterval      = 10 * time.Second
	defaultResubInterval     = 96 * time.Hour
	defaultMonitorInterval   = 30 * time.Second
)

const (
	storeDriverMemory   = "memory"
	storeDriverSQLite   = "sqlite"
	storeDriverPostgres = "postgres"
)

type appConfig struct {
	logLevel slog.Level

	moduleHookTimeout time.Duration
	shutdownTimeout   time.Duration

	storeDriver     string
	storeDSN        string
	monitorInterval time.Duration

	pollInterval  time.Duration
	resubInterval time.Duration

	metricsAddr string
	drivers     []driver.Definition
}

type fileConfig struct {
	LogLevel    string              `json:"log_level"`
	Kernel      fileKernelConfig    `json:"kernel"`
	Store       fileStoreConfig     `json:"store"`
	Scheduler   fileSchedulerConfig `json:"scheduler"`
	MetricsAddr string              `json:"metrics_addr"`
	Drivers     []fileDriverEntry   `json:"drivers"`
}

type fileKernelConfig struct {
	ModuleHookTimeout string `json:"module_hook_timeout"`
	ShutdownTimeout   string `json:"shutdown_timeout"`
}

type fileStoreConfig struct {
	Driver          string `json:"driver"`
	DSN             string `json:"dsn"`
	MonitorInterval string `json:"monitor_interval"`
}

type fileSchedulerConfig struct {
	PollInterval  string `json:"poll_interval"`
	ResubInterval string `json:"resub_interval"`
}

type fileDriverEntry struct {
	Name    string          `json:"name"`
	Type    string          `json:"type"`
	Enabled *bool           `json:"enabled"`
	Config  json.RawMessage `json:"config"`
}

// envOverrides are read after the config file; set fields win.
type envOverrides struct {
	LogLevel      string        `env:"LOG_LEVEL"`
	StoreDriver   string        `env:"STORE_DRIVER"`
	StoreDSN      string        `env:"STORE_DSN"`
	PollInterval  time.Duration `env:"SCHEDULER_POLL_INTERVAL"`
	ResubInterval time.Duration `env:"SCHEDULER_RESUB_INTERVAL"`
	MetricsAddr   string        `env:"METRICS_ADDR"`
}

func run() error {
	registry, err := driver.NewBuiltinRegistry()
	if err != nil {
		return fmt.Errorf("new builtin driver registry: %w", err)
	}

	cfg, err := loadConfig(registry)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.logLevel}))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, monitor, err := openStore(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Error("close document store", "error", closeErr)
		}
	}()

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metricSet, err := metrics.New(promRegistry)
	if err != nil {
		return fmt.Errorf("new metrics: %w", err)
	}

	runtimes, err := registry.BuildEnabled(ctx, cfg.drivers, logger)
	if err != nil {
		return fmt.Errorf("build drivers: %w", err)
	}
	assembly, err := driver.Assemble(runtimes)
	if err != nil {
		return err
	}
	if monitor != nil {
		assembly.Drivers = append([]warden.Driver{monitor}, assembly.Drivers...)
	}

	kernelRuntime := buildKernelRuntime(logger, cfg)
	if err := registerRuntimeServices(kernelRuntime, logger, store, metricSet, assembly); err != nil {
		return err
	}
	if err := registerRuntimeDrivers(kernelRuntime, assembly.Drivers); err != nil {
		return err
	}
	if err := registerRuntimeModules(ctx, kernelRuntime, cfg); err != nil {
		return err
	}

	metricsServer := startMetricsServer(logger, cfg.metricsAddr, promRegistry)
	defer shutdownMetricsServer(logger, metricsServer)

	if err := kernelRuntime.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run kernel: %w", err)
	}

	return nil
}

func loadConfig(registry *driver.Registry) (appConfig, error) {
	cfg := defaultAppConfig()
	configFile, err := resolveConfigFilePath()
	if err != nil {
		return appConfig{}, err
	}

	if err := applyConfigFile(&cfg, configFile); err != nil {
		return appConfig{}, err
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return appConfig{}, err
	}
	if err := validateAppConfig(&cfg, registry); err != nil {
		return appConfig{}, fmt.Errorf("validate config file %s: %w", configFile, err)
	}

	return cfg, nil
}

func resolveConfigFilePath() (string, error) {
	if configFile := strings.TrimSpace(os.Getenv(envConfigFile)); configFile != "" {
		return configFile, nil
	}

	candidates := []string{defaultConfigFilePath, alternateConfigFilePath}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return "", fmt.Errorf("config file %s is a directory", candidate)
			}
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat config file %s: %w", candidate, err)
		}
	}

	return "", fmt.Errorf(
		"config file not found; create %s or %s, or set %s",
		defaultConfigFilePath,
		alternateConfigFilePath,
		envConfigFile,
	)
}

func defaultAppConfig() appConfig {
	return appConfig{
		logLevel: slog.LevelInfo,

		moduleHookTimeout: defaultModuleHookTimeout,
		shutdownTimeout:   defaultShutdownTimeout,

		storeDriver:     storeDriverSQLite,
		monitorInterval: defaultMonitorInterval,

		pollInterval:  defaultPollInterval,
		resubInterval: defaultResubInterval,

		drivers: make([]driver.Definition, 0),
	}
}

func applyConfigFile(cfg *appConfig, path string) error {
	if cfg == nil {
		return fmt.Errorf("apply config file: nil config")
	}
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("config file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var parsed fileConfig
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if rawLevel := strings.TrimSpace(parsed.LogLevel); rawLevel != "" {
		level, err := parseLogLevel(rawLevel)
		if err != nil {
			return fmt.Errorf("parse log_level: %w", err)
		}
		cfg.logLevel = level
	}

	durations := []struct {
		name   string
		raw    string
		target *time.Duration
	}{
		{name: "kernel.module_hook_timeout", raw: parsed.Kernel.ModuleHookTimeout, target: &cfg.moduleHookTimeout},
		{name: "kernel.shutdown_timeout", raw: parsed.Kernel.ShutdownTimeout, target: &cfg.shutdownTimeout},
		{name: "store.monitor_interval", raw: parsed.Store.MonitorInterval, target: &cfg.monitorInterval},
		{name: "scheduler.poll_interval", raw: parsed.Scheduler.PollInterval, target: &cfg.pollInterval},
		{name: "scheduler.resub_interval", raw: parsed.Scheduler.ResubInterval, target: &cfg.resubInterval},
	}
	for _, duration := range durations {
		rawDuration := strings.TrimSpace(duration.raw)
		if rawDuration == "" {
			continue
		}
		value, err := time.ParseDuration(rawDuration)
		if err != nil {
			return fmt.Errorf("parse %s: %w", duration.name, err)
		}
		if value <= 0 {
			return fmt.Errorf("parse %s: must be > 0", duration.name)
		}
		*duration.target = value
	}

	if storeDriver := strings.TrimSpace(parsed.Store.Driver); storeDriver != "" {
		cfg.storeDriver = strings.ToLower(storeDriver)
	}
	cfg.storeDSN = strings.TrimSpace(parsed.Store.DSN)
	cfg.metricsAddr = strings.TrimSpace(parsed.MetricsAddr)

	cfg.drivers = make([]driver.Definition, 0, len(parsed.Drivers))
	for index, entry := range parsed.Drivers {
		if len(entry.Config) == 0 {
			return fmt.Errorf("parse drivers[%d].config: required", index)
		}
		enabled := true
		if entry.Enabled != nil {
			enabled = *entry.Enabled
		}
		cfg.drivers = append(cfg.drivers, driver.Definition{
			Name:    strings.TrimSpace(entry.Name),
			Type:    strings.TrimSpace(entry.Type),
			Enabled: enabled,
			Config:  append([]byte(nil), entry.Config...),
		})
	}

	return nil
}

func applyEnvOverrides(cfg *appConfig) error {
	var overrides envOverrides
	if err := env.ParseWithOptions(&overrides, env.Options{Prefix: envPrefix}); err != nil {
		return fmt.Errorf("parse env overrides: %w", err)
	}

	if rawLevel := strings.TrimSpace(overrides.LogLevel); rawLevel != "" {
		level, err := parseLogLevel(rawLevel)
		if err != nil {
			return fmt.Errorf("parse %sLOG_LEVEL: %w", envPrefix, err)
		}
		cfg.logLevel = level
	}
	if storeDriver := strings.TrimSpace(overrides.StoreDriver); storeDriver != "" {
		cfg.storeDriver = strings.ToLower(storeDriver)
	}
	if dsn := strings.TrimSpace(overrides.StoreDSN); dsn != "" {
		cfg.storeDSN = dsn
	}
	if overrides.PollInterval != 0 {
		if overrides.PollInterval < 0 {
			return fmt.Errorf("parse %sSCHEDULER_POLL_INTERVAL: must be > 0", envPrefix)
		}
		cfg.pollInterval = overrides.PollInterval
	}
	if overrides.ResubInterval != 0 {
		if overrides.ResubInterval < 0 {
			return fmt.Errorf("parse %sSCHEDULER_RESUB_INTERVAL: must be > 0", envPrefix)
		}
		cfg.resubInterval = overrides.ResubInterval
	}
	if addr := strings.TrimSpace(overrides.MetricsAddr); addr != "" {
		cfg.metricsAddr = addr
	}

	return nil
}

func validateAppConfig(cfg *appConfig, registry *driver.Registry) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if registry == nil {
		return fmt.Errorf("nil driver registry")
	}

	switch cfg.storeDriver {
	case storeDriverMemory, storeDriverSQLite:
	case storeDriverPostgres:
		if cfg.storeDSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("store.driver: unsupported driver %q", cfg.storeDriver)
	}

	seen := make(map[string]struct{}, len(cfg.drivers))
	enabled := 0
	for _, definition := range cfg.drivers {
		if definition.Name == "" {
			return fmt.Errorf("drivers[].name is required")
		}
		if definition.Type == "" {
			return fmt.Errorf("drivers[%s].type is required", definition.Name)
		}
		if _, exists := seen[definition.Name]; exists {
			return fmt.Errorf("drivers[%s]: duplicate name", definition.Name)
		}
		seen[definition.Name] = struct{}{}
		if !definition.Enabled {
			continue
		}
		if !registry.Supports(definition.Type) {
			return fmt.Errorf("drivers[%s].type: unsupported type %s", definition.Name, definition.Type)
		}
		enabled++
	}
	if enabled == 0 {
		return fmt.Errorf("at least one enabled driver is required")
	}

	return nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported level %q", raw)
	}
}

// openStore returns the configured store and, for SQL backends, its connection monitor.
func openStore(ctx context.Context, logger *slog.Logger, cfg appConfig) (warden.DocumentStore, warden.Driver, error) {
	var (
		sqlStore *sqldoc.Store
		err      error
	)
	switch cfg.storeDriver {
	case storeDriverMemory:
		logger.Warn("using in-memory document store; state is lost on exit")
		return memory.NewStore(), nil, nil
	case storeDriverSQLite:
		sqlStore, err = sqlite.Open(ctx, cfg.storeDSN)
	case storeDriverPostgres:
		sqlStore, err = postgres.Open(ctx, cfg.storeDSN)
	default:
		return nil, nil, fmt.Errorf("open store: unsupported driver %q", cfg.storeDriver)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open %s store: %w", cfg.storeDriver, err)
	}

	return sqlStore, sqldoc.NewMonitor(sqlStore, logger, cfg.monitorInterval), nil
}

func buildKernelRuntime(logger *slog.Logger, cfg appConfig) *kernel.Kernel {
	return kernel.New(
		kernel.WithLogger(logger),
		kernel.WithModuleHookTimeout(cfg.moduleHookTimeout),
		kernel.WithShutdownTimeout(cfg.shutdownTimeout),
	)
}

func registerRuntimeServices(
	kernelRuntime *kernel.Kernel,
	logger *slog.Logger,
	store warden.DocumentStore,
	metricSet *metrics.Set,
	assembly driver.Assembly,
) error {
	entityRegistry, err := entities.NewRegistry(
		store,
		assembly.Live,
		entities.WithLogger(logger),
		entities.WithMetrics(metricSet),
	)
	if err != nil {
		return fmt.Errorf("new entity registry: %w", err)
	}
	queue, err := actions.NewQueue(store, actions.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("new action queue: %w", err)
	}

	services := []struct {
		name    string
		service any
	}{
		{name: warden.ServiceLogger, service: logger},
		{name: warden.ServiceDocumentStore, service: store},
		{name: warden.ServiceMetrics, service: metricSet},
		{name: warden.ServiceLiveSystem, service: assembly.Live},
		{name: warden.ServiceEntities, service: entityRegistry},
		{name: warden.ServiceActionQueue, service: queue},
	}
	if assembly.Feeds != nil {
		services = append(services, struct {
			name    string
			service any
		}{name: warden.ServiceFeedResubscriber, service: assembly.Feeds})
	}

	for _, entry := range services {
		if err := kernelRuntime.RegisterService(entry.name, entry.service); err != nil {
			return fmt.Errorf("register %s service: %w", entry.name, err)
		}
	}

	return nil
}

func registerRuntimeDrivers(kernelRuntime *kernel.Kernel, drivers []warden.Driver) error {
	for _, runtimeDriver := range drivers {
		if err := kernelRuntime.RegisterDriver(runtimeDriver); err != nil {
			return fmt.Errorf("register driver %s: %w", runtimeDriver.Name(), err)
		}
	}

	return nil
}

func registerRuntimeModules(ctx context.Context, kernelRuntime *kernel.Kernel, cfg appConfig) error {
	schedulerModule := scheduler.New(
		scheduler.WithPollInterval(cfg.pollInterval),
		scheduler.WithResubInterval(cfg.resubInterval),
	)
	if err := kernelRuntime.RegisterModule(ctx, schedulerModule); err != nil {
		return fmt.Errorf("register scheduler module: %w", err)
	}

	return nil
}

func startMetricsServer(logger *slog.Logger, addr string, gatherer prometheus.Gatherer) *http.Server {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "addr", addr, "error", err)
		}
	}()
	logger.Info("metrics server listening", "addr", addr)

	return server
}

func shutdownMetricsServer(logger *slog.Logger, server *http.Server) {
	if server == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown metrics server", "error", err)
	}
}
