// Package app wires the agent components together and runs the dispatch loop.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/geekxflood/common/config"
	"github.com/geekxflood/common/logging"

	"github.com/geekxflood/proteus/internal/agent"
	"github.com/geekxflood/proteus/internal/discovery"
	"github.com/geekxflood/proteus/internal/listener"
	"github.com/geekxflood/proteus/internal/loader"
	"github.com/geekxflood/proteus/internal/metrics"
	"github.com/geekxflood/proteus/internal/mib"
	"github.com/geekxflood/proteus/internal/registry"
	"github.com/geekxflood/proteus/internal/reload"
	"github.com/geekxflood/proteus/internal/retry"
	"github.com/geekxflood/proteus/internal/storage"
)

// maxBatch bounds the datagrams handled between two housekeeping passes.
const maxBatch = 64

// AppConfig holds configuration for the main application
type AppConfig struct {
	Name            string        `json:"name"`
	Version         string        `json:"version"`
	ConfigFile      string        `json:"-"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// DefaultAppConfig returns a default application configuration
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		Name:            "proteus",
		Version:         "dev",
		ShutdownTimeout: 10 * time.Second,
	}
}

// reloader is implemented by config managers able to re-read their file.
type reloader interface {
	Reload() error
}

// Application owns every component of a running agent.
type Application struct {
	config         *AppConfig
	configProvider config.Provider
	logger         logging.Logger

	agentConfig  *agent.Config
	loaderConfig *loader.LoaderConfig
	retryConfig  *retry.RetryConfig
	registry     *registry.Registry
	system       *mib.System
	loader       *loader.Loader
	objects      *loader.ObjectSet
	storage      *storage.Storage
	persist      *retry.Retryer
	persistAfter time.Time
	persistFails int
	transport    *listener.UDP
	agent        *agent.Agent
	metrics      *metrics.MetricsManager
	reload       *reload.ReloadManager
	advertiser   *discovery.Advertiser

	started time.Time
}

// NewApplication creates an application reading its settings from provider.
func NewApplication(provider config.Provider, appConfig *AppConfig, logger logging.Logger) (*Application, error) {
	if provider == nil {
		return nil, fmt.Errorf("configuration provider cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if appConfig == nil {
		appConfig = DefaultAppConfig()
	}

	var err error
	if appConfig.ShutdownTimeout, err = provider.GetDuration("app.shutdown_timeout", appConfig.ShutdownTimeout); err != nil {
		return nil, fmt.Errorf("failed to get shutdown timeout: %w", err)
	}

	return &Application{
		config:         appConfig,
		configProvider: provider,
		logger:         logger.With("component", "app"),
	}, nil
}

// Initialize builds every component. Nothing listens until Start.
func (a *Application) Initialize() error {
	a.logger.Info("Initializing application components", "version", a.config.Version)

	var err error
	if a.agentConfig, err = agent.LoadConfig(a.configProvider); err != nil {
		return fmt.Errorf("failed to load agent configuration: %w", err)
	}
	if a.loaderConfig, err = loader.LoadLoaderConfig(a.configProvider); err != nil {
		return fmt.Errorf("failed to load objects configuration: %w", err)
	}
	if a.retryConfig, err = retry.LoadRetryConfig(a.configProvider); err != nil {
		return fmt.Errorf("failed to load retry configuration: %w", err)
	}
	if a.registry, err = registry.New(a.agentConfig.OIDPrefix); err != nil {
		return fmt.Errorf("failed to create registry: %w", err)
	}

	if err := a.initializeMetrics(); err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	if err := a.initializeSystem(); err != nil {
		return fmt.Errorf("failed to initialize system group: %w", err)
	}
	if err := a.initializeObjects(); err != nil {
		return fmt.Errorf("failed to initialize objects: %w", err)
	}
	if err := a.initializeStorage(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	if err := a.initializeAgent(); err != nil {
		return fmt.Errorf("failed to initialize agent: %w", err)
	}
	if err := a.initializeReload(); err != nil {
		return fmt.Errorf("failed to initialize reload: %w", err)
	}
	if err := a.initializeDiscovery(); err != nil {
		return fmt.Errorf("failed to initialize discovery: %w", err)
	}

	a.metrics.GetObjectMetrics().Registered.Set(float64(a.registry.Len()))
	a.logger.Info("Application components initialized", "objects", a.registry.Len())
	return nil
}

func (a *Application) initializeSystem() error {
	cfg, err := mib.LoadSystemConfig(a.configProvider)
	if err != nil {
		return err
	}
	a.system = mib.NewSystem(cfg)
	return a.system.Register(a.registry)
}

func (a *Application) initializeObjects() error {
	var err error
	if a.loader, err = loader.NewLoader(a.loaderConfig, a.logger); err != nil {
		return err
	}

	set, err := a.loader.LoadAll()
	if err != nil {
		return err
	}
	if err := set.Install(a.registry, nil); err != nil {
		return err
	}
	a.objects = set
	return nil
}

func (a *Application) initializeStorage() error {
	var err error
	// one attempt per dispatch cycle; backoff is applied between cycles
	persistConfig := *a.retryConfig
	persistConfig.MaxAttempts = 1
	if a.persist, err = retry.NewRetryer(&persistConfig); err != nil {
		return err
	}

	cfg, err := storage.LoadStorageConfig(a.configProvider)
	if err != nil {
		return err
	}
	if !cfg.Enabled {
		a.logger.Info("Value persistence is disabled")
		return nil
	}

	if a.storage, err = storage.NewStorage(cfg, a.logger); err != nil {
		return err
	}

	restored, err := a.storage.Restore(context.Background(), a.registry.All())
	if err != nil {
		return fmt.Errorf("failed to restore values: %w", err)
	}
	a.metrics.GetStorageMetrics().ValuesRestored.Add(float64(restored))
	a.logger.Info("Restored persisted values", "path", cfg.Path, "count", restored)

	a.metrics.Sample("stored_values", "Number of values held in storage", func(ctx context.Context) (float64, error) {
		n, err := a.storage.Count(ctx)
		return float64(n), err
	})
	return nil
}

func (a *Application) initializeMetrics() error {
	var err error
	a.metrics, err = metrics.NewMetricsManager(a.configProvider, a.logger)
	return err
}

func (a *Application) initializeAgent() error {
	cfg, err := listener.LoadConfig(a.configProvider)
	if err != nil {
		return err
	}
	if a.transport, err = listener.New(cfg, a.logger); err != nil {
		return err
	}

	a.agent, err = agent.New(a.agentConfig, a.registry, a.transport, a.logger,
		agent.WithObserver(a.metrics.GetAgentMetrics()))
	return err
}

func (a *Application) initializeReload() error {
	cfg, err := reload.LoadReloadConfig(a.configProvider)
	if err != nil {
		return err
	}
	if _, ok := a.configProvider.(reloader); ok {
		cfg.ConfigFile = a.config.ConfigFile
	}
	cfg.Directory = a.loader.Directory()
	cfg.Extensions = a.loaderConfig.FileExtensions

	a.reload, err = reload.NewReloadManager(cfg, a.logger)
	return err
}

func (a *Application) initializeDiscovery() error {
	cfg, err := discovery.LoadDiscoveryConfig(a.configProvider)
	if err != nil {
		return err
	}
	retryer, err := retry.NewRetryer(a.retryConfig)
	if err != nil {
		return err
	}
	a.advertiser, err = discovery.NewAdvertiser(cfg, retryer, a.logger)
	return err
}

// Start binds the agent socket and starts the background services.
func (a *Application) Start(ctx context.Context) error {
	if err := a.agent.Start(); err != nil {
		return err
	}
	a.started = time.Now()
	a.metrics.SetComponentHealth("agent", true)
	a.metrics.SetComponentHealth("storage", true)

	if err := a.metrics.Start(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	if err := a.reload.Start(); err != nil {
		return fmt.Errorf("failed to start reload manager: %w", err)
	}

	if err := a.advertiser.Advertise(ctx, a.discoveryInfo()); err != nil {
		a.logger.Warn("Agent will not be discoverable", "error", err.Error())
	}

	a.metrics.SetReady(true)
	return nil
}

// Addr returns the address the agent answers on.
func (a *Application) Addr() net.Addr {
	return a.transport.LocalAddr()
}

func (a *Application) discoveryInfo() discovery.Info {
	info := discovery.Info{
		Version:   a.config.Version,
		Port:      a.agentConfig.Port,
		OIDPrefix: a.agentConfig.OIDPrefix,
		Versions:  "v1,v2c",
	}
	if addr, ok := a.Addr().(*net.UDPAddr); ok {
		info.Port = addr.Port
	}
	return info
}

// Run drives the dispatch loop until ctx ends. SIGHUP reloads the
// configuration and the object definitions.
func (a *Application) Run(ctx context.Context) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	a.logger.Info("Agent running", "address", a.Addr().String())

	idle := time.NewTimer(a.agentConfig.PollInterval)
	defer idle.Stop()

	for {
		busy, err := a.cycle(ctx)
		if err != nil {
			return err
		}
		if busy {
			continue
		}

		idle.Reset(a.agentConfig.PollInterval)
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			a.logger.Info("Received SIGHUP, reloading")
			a.reload.Trigger(reload.ReloadTypeConfig)
		case event := <-a.reload.Events():
			a.applyReload(ctx, event)
		case <-idle.C:
		}
	}
}

// cycle runs one housekeeping pass followed by up to maxBatch dispatches.
// It reports whether the batch was cut short with datagrams still pending.
func (a *Application) cycle(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, nil
	}

	select {
	case event := <-a.reload.Events():
		a.applyReload(ctx, event)
	default:
	}

	for i := 0; i < maxBatch; i++ {
		a.system.Tick()
		outcome, err := a.agent.Poll()
		if err != nil {
			if errors.Is(err, listener.ErrNotListening) {
				return false, fmt.Errorf("agent socket closed: %w", err)
			}
			a.logger.Warn("Dispatch cycle failed", "error", err.Error())
		}
		a.persistWrites(ctx)
		if outcome == agent.OutcomeIdle {
			return false, nil
		}
	}
	return true, nil
}

// persistWrites saves settable values after a Set. When saving fails the
// flag stays raised and later cycles skip the save until the backoff delay
// has passed, so a failing store never holds up dispatch.
func (a *Application) persistWrites(ctx context.Context) {
	if !a.agent.SetOccurred() {
		return
	}
	if a.storage == nil {
		a.agent.ResetSetOccurred()
		return
	}
	if time.Now().Before(a.persistAfter) {
		return
	}
	a.saveValues(ctx)
}

// saveValues makes one save attempt and schedules the next on failure.
func (a *Application) saveValues(ctx context.Context) {
	var saved int
	res := a.persist.Do(ctx, func(ctx context.Context, _ int) error {
		var err error
		saved, err = a.storage.SaveSettable(ctx, a.registry.All())
		return err
	})
	storageMetrics := a.metrics.GetStorageMetrics()
	if res.Err != nil {
		a.persistFails++
		delay := a.persist.Delay(a.persistFails)
		a.persistAfter = time.Now().Add(delay)
		if !errors.Is(res.Err, retry.ErrCircuitOpen) {
			storageMetrics.StorageErrors.Inc()
			a.metrics.SetComponentHealth("storage", false)
			a.logger.Error("Failed to persist values", "failures", a.persistFails,
				"retry_in", delay.String(), "error", res.Err.Error())
		}
		return
	}

	a.persistFails = 0
	a.persistAfter = time.Time{}

	storageMetrics.ValuesSaved.Add(float64(saved))
	a.metrics.SetComponentHealth("storage", true)
	a.agent.ResetSetOccurred()
}

func (a *Application) applyReload(ctx context.Context, event reload.ReloadEvent) {
	start := time.Now()
	var err error
	switch event.Type {
	case reload.ReloadTypeConfig:
		err = a.reloadConfig()
		if err == nil {
			err = a.reloadObjects(ctx)
		}
	case reload.ReloadTypeObjects:
		err = a.reloadObjects(ctx)
	default:
		err = fmt.Errorf("unknown reload type %q", event.Type)
	}

	objectMetrics := a.metrics.GetObjectMetrics()
	objectMetrics.Reloads.Inc()
	if err != nil {
		objectMetrics.ReloadErrors.Inc()
	}
	objectMetrics.Registered.Set(float64(a.registry.Len()))
	a.reload.Complete(event, time.Since(start), err)
}

// reloadConfig re-reads the settings that can change without rebinding:
// communities and the source policy.
func (a *Application) reloadConfig() error {
	if r, ok := a.configProvider.(reloader); ok {
		if err := r.Reload(); err != nil {
			return fmt.Errorf("failed to reload configuration: %w", err)
		}
	}

	cfg, err := agent.LoadConfig(a.configProvider)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	listenerConfig, err := listener.LoadConfig(a.configProvider)
	if err != nil {
		return err
	}
	if err := a.transport.SetSourcePolicy(listenerConfig.AllowedSources, listenerConfig.BlockedSources); err != nil {
		return err
	}

	if cfg.Port != a.agentConfig.Port || cfg.OIDPrefix != a.agentConfig.OIDPrefix {
		a.logger.Warn("Port and OID prefix changes need a restart")
	}
	a.agent.SetCommunities(cfg.ReadCommunity, cfg.WriteCommunity)
	a.agentConfig.ReadCommunity = cfg.ReadCommunity
	a.agentConfig.WriteCommunity = cfg.WriteCommunity
	return nil
}

// reloadObjects swaps in a freshly loaded object set. On any failure the
// previous set stays installed.
func (a *Application) reloadObjects(ctx context.Context) error {
	set, err := a.loader.LoadAll()
	if err != nil {
		return err
	}
	if err := set.Install(a.registry, a.objects); err != nil {
		return err
	}
	a.objects = set

	if a.storage != nil {
		regs := make([]*registry.Registration, 0, set.Len())
		for _, o := range set.Objects {
			regs = append(regs, o.Registration())
		}
		restored, err := a.storage.Restore(ctx, regs)
		if err != nil {
			a.logger.Warn("Failed to restore values of reloaded objects", "error", err.Error())
		}
		a.metrics.GetStorageMetrics().ValuesRestored.Add(float64(restored))
	}

	a.logger.Info("Objects reloaded", "objects", set.Len(), "files", len(set.Files))
	return nil
}

// Shutdown stops the services, saves pending writes and closes storage.
func (a *Application) Shutdown() error {
	a.logger.Info("Shutting down application")
	if a.metrics != nil {
		a.metrics.SetReady(false)
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.config.ShutdownTimeout)
	defer cancel()

	var errs []error
	if a.advertiser != nil {
		a.advertiser.Stop()
	}
	if a.reload != nil {
		if err := a.reload.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("reload shutdown error: %w", err))
		}
	}
	if a.agent != nil {
		if err := a.agent.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("agent shutdown error: %w", err))
		}
		if a.storage != nil && a.agent.SetOccurred() {
			a.saveValues(ctx)
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage shutdown error: %w", err))
		}
	}
	if a.metrics != nil {
		if err := a.metrics.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("metrics shutdown error: %w", err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	a.logger.Info("Application stopped", "uptime", time.Since(a.started).String())
	return nil
}

// GetStats returns a snapshot of component statistics.
func (a *Application) GetStats() map[string]any {
	stats := map[string]any{
		"objects": a.registry.Len(),
		"uptime":  a.system.Uptime(),
	}
	if a.transport != nil {
		stats["transport"] = a.transport.GetStats()
	}
	if a.loader != nil {
		stats["loader"] = a.loader.GetStats()
	}
	if a.reload != nil {
		stats["reload"] = a.reload.GetStats()
	}
	if a.persist != nil {
		stats["persistence"] = a.persist.GetStats()
	}
	return stats
}
