// Package metrics provides Prometheus metrics for the agent and the health and
// readiness endpoints served next to them.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/geekxflood/common/config"
	"github.com/geekxflood/common/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/model"

	"github.com/geekxflood/proteus/internal/agent"
	"github.com/geekxflood/proteus/internal/types"
)

// MetricsConfig defines the configuration for the metrics system
type MetricsConfig struct {
	Enabled        bool          `json:"enabled"`
	ListenAddress  string        `json:"listen_address"`
	MetricsPath    string        `json:"metrics_path"`
	HealthPath     string        `json:"health_path"`
	ReadyPath      string        `json:"ready_path"`
	UpdateInterval time.Duration `json:"update_interval"`
	Namespace      string        `json:"namespace"`
}

// DefaultMetricsConfig returns the default metrics configuration
func DefaultMetricsConfig() *MetricsConfig {
	return &MetricsConfig{
		Enabled:        true,
		ListenAddress:  ":9090",
		MetricsPath:    "/metrics",
		HealthPath:     "/health",
		ReadyPath:      "/ready",
		UpdateInterval: 30 * time.Second,
		Namespace:      "proteus",
	}
}

// LoadMetricsConfig loads metrics configuration from the config provider
func LoadMetricsConfig(cfg config.Provider) (*MetricsConfig, error) {
	c := DefaultMetricsConfig()
	if cfg == nil {
		return c, nil
	}

	var err error
	if c.Enabled, err = cfg.GetBool("metrics.enabled", c.Enabled); err != nil {
		return nil, fmt.Errorf("failed to get metrics enabled: %w", err)
	}
	if c.ListenAddress, err = cfg.GetString("metrics.listen_address", c.ListenAddress); err != nil {
		return nil, fmt.Errorf("failed to get metrics listen address: %w", err)
	}
	if c.MetricsPath, err = cfg.GetString("metrics.metrics_path", c.MetricsPath); err != nil {
		return nil, fmt.Errorf("failed to get metrics path: %w", err)
	}
	if c.HealthPath, err = cfg.GetString("metrics.health_path", c.HealthPath); err != nil {
		return nil, fmt.Errorf("failed to get health path: %w", err)
	}
	if c.ReadyPath, err = cfg.GetString("metrics.ready_path", c.ReadyPath); err != nil {
		return nil, fmt.Errorf("failed to get ready path: %w", err)
	}
	if c.UpdateInterval, err = cfg.GetDuration("metrics.update_interval", c.UpdateInterval); err != nil {
		return nil, fmt.Errorf("failed to get metrics update interval: %w", err)
	}
	if c.Namespace, err = cfg.GetString("metrics.namespace", c.Namespace); err != nil {
		return nil, fmt.Errorf("failed to get metrics namespace: %w", err)
	}

	if c.UpdateInterval <= 0 {
		return nil, fmt.Errorf("metrics update interval must be positive")
	}
	if !model.MetricNameRE.MatchString(c.Namespace) {
		return nil, fmt.Errorf("metrics namespace %q is not a valid metric name prefix", c.Namespace)
	}
	return c, nil
}

// AgentMetrics counts dispatch events. It implements agent.Observer.
type AgentMetrics struct {
	PacketsReceived  prometheus.Counter
	PacketSize       prometheus.Histogram
	PacketsDropped   *prometheus.CounterVec
	RequestsHandled  *prometheus.CounterVec
	BindingsHandled  *prometheus.CounterVec
	BindingErrors    *prometheus.CounterVec
	ResponsesSent    prometheus.Counter
	ResponseSize     prometheus.Histogram
	HandlingDuration prometheus.Histogram
	SetsApplied      prometheus.Counter
}

var _ agent.Observer = (*AgentMetrics)(nil)

var sizeBuckets = []float64{64, 128, 256, 484, 512, 1024, 1500, 4096, 8192}

func newAgentMetrics(f promauto.Factory) *AgentMetrics {
	return &AgentMetrics{
		PacketsReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "packets_received_total",
			Help: "Total number of datagrams received",
		}),
		PacketSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "packet_size_bytes",
			Help:    "Size of received datagrams",
			Buckets: sizeBuckets,
		}),
		PacketsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "packets_dropped_total",
			Help: "Total number of datagrams dropped without a response",
		}, []string{"reason"}),
		RequestsHandled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "requests_total",
			Help: "Total number of requests answered by PDU type and access level",
		}, []string{"pdu", "permission"}),
		BindingsHandled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bindings_total",
			Help: "Total number of variable bindings processed by PDU type",
		}, []string{"pdu"}),
		BindingErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "binding_errors_total",
			Help: "Total number of variable bindings answered with an error status",
		}, []string{"pdu", "status"}),
		ResponsesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "responses_sent_total",
			Help: "Total number of responses sent",
		}),
		ResponseSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "response_size_bytes",
			Help:    "Size of encoded responses",
			Buckets: sizeBuckets,
		}),
		HandlingDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "request_duration_seconds",
			Help:    "Time spent decoding, resolving and encoding a request",
			Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01},
		}),
		SetsApplied: f.NewCounter(prometheus.CounterOpts{
			Name: "sets_applied_total",
			Help: "Total number of values written by SetRequests",
		}),
	}
}

// PacketReceived implements agent.Observer.
func (a *AgentMetrics) PacketReceived(size int) {
	a.PacketsReceived.Inc()
	a.PacketSize.Observe(float64(size))
}

// PacketDropped implements agent.Observer.
func (a *AgentMetrics) PacketDropped(reason agent.DropReason) {
	a.PacketsDropped.WithLabelValues(string(reason)).Inc()
}

// RequestHandled implements agent.Observer.
func (a *AgentMetrics) RequestHandled(kind types.PDUKind, permission types.Permission, bindings int, elapsed time.Duration) {
	a.RequestsHandled.WithLabelValues(kind.String(), permission.String()).Inc()
	a.BindingsHandled.WithLabelValues(kind.String()).Add(float64(bindings))
	a.HandlingDuration.Observe(elapsed.Seconds())
}

// BindingFailed implements agent.Observer.
func (a *AgentMetrics) BindingFailed(kind types.PDUKind, status types.ErrorStatus) {
	a.BindingErrors.WithLabelValues(kind.String(), status.String()).Inc()
}

// ResponseSent implements agent.Observer.
func (a *AgentMetrics) ResponseSent(size int) {
	a.ResponsesSent.Inc()
	a.ResponseSize.Observe(float64(size))
}

// SetApplied implements agent.Observer.
func (a *AgentMetrics) SetApplied(string) {
	a.SetsApplied.Inc()
}

// ObjectMetrics tracks the served object set.
type ObjectMetrics struct {
	Registered   prometheus.Gauge
	Reloads      prometheus.Counter
	ReloadErrors prometheus.Counter
}

func newObjectMetrics(f promauto.Factory) *ObjectMetrics {
	return &ObjectMetrics{
		Registered: f.NewGauge(prometheus.GaugeOpts{
			Name: "objects_registered",
			Help: "Number of objects in the registry",
		}),
		Reloads: f.NewCounter(prometheus.CounterOpts{
			Name: "object_reloads_total",
			Help: "Total number of successful object definition reloads",
		}),
		ReloadErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "object_reload_errors_total",
			Help: "Total number of failed object definition reloads",
		}),
	}
}

// StorageMetrics tracks persisted values.
type StorageMetrics struct {
	ValuesSaved    prometheus.Counter
	ValuesRestored prometheus.Counter
	StorageErrors  prometheus.Counter
}

func newStorageMetrics(f promauto.Factory) *StorageMetrics {
	return &StorageMetrics{
		ValuesSaved: f.NewCounter(prometheus.CounterOpts{
			Name: "values_saved_total",
			Help: "Total number of values written to storage",
		}),
		ValuesRestored: f.NewCounter(prometheus.CounterOpts{
			Name: "values_restored_total",
			Help: "Total number of values restored from storage",
		}),
		StorageErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "storage_errors_total",
			Help: "Total number of storage errors",
		}),
	}
}

// SampleFunc reads the current value of a sampled gauge.
type SampleFunc func(ctx context.Context) (float64, error)

type sampler struct {
	name  string
	gauge prometheus.Gauge
	fn    SampleFunc
}

// HealthReport is the body served on the health path.
type HealthReport struct {
	Status     string          `json:"status"`
	Components map[string]bool `json:"components,omitempty"`
	Unhealthy  []string        `json:"unhealthy,omitempty"`
}

// MetricsManager owns the Prometheus registry and the HTTP server exposing it.
type MetricsManager struct {
	config   *MetricsConfig
	logger   logging.Logger
	registry *prometheus.Registry
	factory  promauto.Factory
	started  time.Time

	agentMetrics   *AgentMetrics
	objectMetrics  *ObjectMetrics
	storageMetrics *StorageMetrics

	mu       sync.RWMutex
	health   map[string]bool
	ready    bool
	samplers []sampler

	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewMetricsManager builds the registry. Process and Go runtime collectors
// are registered unprefixed; everything else lives under the namespace.
func NewMetricsManager(cfg config.Provider, logger logging.Logger) (*MetricsManager, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	metricsConfig, err := LoadMetricsConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load metrics configuration: %w", err)
	}

	registry := prometheus.NewRegistry()
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("failed to register go collector: %w", err)
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("failed to register process collector: %w", err)
	}

	factory := promauto.With(prometheus.WrapRegistererWithPrefix(metricsConfig.Namespace+"_", registry))
	m := &MetricsManager{
		config:         metricsConfig,
		logger:         logger.With("component", "metrics"),
		registry:       registry,
		factory:        factory,
		started:        time.Now(),
		agentMetrics:   newAgentMetrics(factory),
		objectMetrics:  newObjectMetrics(factory),
		storageMetrics: newStorageMetrics(factory),
		health:         make(map[string]bool),
	}

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "uptime_seconds",
		Help: "Seconds since the metrics manager was created",
	}, func() float64 { return time.Since(m.started).Seconds() })

	return m, nil
}

// Sample registers a gauge refreshed from fn every update interval while
// the server runs. Register samplers before Start.
func (m *MetricsManager) Sample(name, help string, fn SampleFunc) {
	gauge := m.factory.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})

	m.mu.Lock()
	m.samplers = append(m.samplers, sampler{name: name, gauge: gauge, fn: fn})
	m.mu.Unlock()
}

// Handler returns the HTTP handler serving metrics, health and readiness.
func (m *MetricsManager) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(m.config.MetricsPath, promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc(m.config.HealthPath, m.serveHealth)
	mux.HandleFunc(m.config.ReadyPath, m.serveReady)
	return mux
}

// Start binds the listen address and serves in the background. A bind
// failure is returned here rather than logged later.
func (m *MetricsManager) Start() error {
	if !m.config.Enabled {
		m.logger.Info("Metrics collection is disabled")
		return nil
	}

	ln, err := net.Listen("tcp", m.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.config.ListenAddress, err)
	}
	m.listener = ln
	m.server = &http.Server{
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		if err := m.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("Metrics server failed", "error", err.Error())
		}
	}()
	go m.sampleLoop(ctx)

	m.logger.Info("Serving metrics", "address", ln.Addr().String(), "path", m.config.MetricsPath)
	return nil
}

// Addr returns the bound address, or nil when not serving.
func (m *MetricsManager) Addr() net.Addr {
	if m.listener == nil {
		return nil
	}
	return m.listener.Addr()
}

// Stop shuts the server down and waits for the background goroutines.
func (m *MetricsManager) Stop() error {
	if m.server == nil {
		return nil
	}

	m.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := m.server.Shutdown(ctx)

	m.wg.Wait()
	m.server = nil
	m.listener = nil
	if err != nil {
		return fmt.Errorf("failed to shut down metrics server: %w", err)
	}
	return nil
}

func (m *MetricsManager) sampleLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.UpdateInterval)
	defer ticker.Stop()

	for {
		m.refresh(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// refresh runs every sampler once. A failing sampler keeps its last value.
func (m *MetricsManager) refresh(ctx context.Context) {
	m.mu.RLock()
	samplers := append([]sampler(nil), m.samplers...)
	m.mu.RUnlock()

	for _, s := range samplers {
		sctx, cancel := context.WithTimeout(ctx, m.config.UpdateInterval)
		v, err := s.fn(sctx)
		cancel()
		if err != nil {
			m.logger.Debug("sample failed", "metric", s.name, "error", err.Error())
			continue
		}
		s.gauge.Set(v)
	}
}

// Health returns the current health report.
func (m *MetricsManager) Health() HealthReport {
	m.mu.RLock()
	defer m.mu.RUnlock()

	report := HealthReport{Status: "healthy", Components: make(map[string]bool, len(m.health))}
	for component, ok := range m.health {
		report.Components[component] = ok
		if !ok {
			report.Unhealthy = append(report.Unhealthy, component)
		}
	}
	if len(report.Unhealthy) > 0 {
		sort.Strings(report.Unhealthy)
		report.Status = "unhealthy"
	}
	return report
}

func (m *MetricsManager) serveHealth(w http.ResponseWriter, r *http.Request) {
	report := m.Health()
	status := http.StatusOK
	if report.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (m *MetricsManager) serveReady(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	ready := m.ready
	m.mu.RUnlock()

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]bool{"ready": ready})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// SetComponentHealth records the health of one component.
func (m *MetricsManager) SetComponentHealth(component string, healthy bool) {
	m.mu.Lock()
	prev, known := m.health[component]
	m.health[component] = healthy
	m.mu.Unlock()

	if !known || prev != healthy {
		m.logger.Debug("component health changed", "component", component, "healthy", healthy)
	}
}

// SetReady sets the overall readiness status
func (m *MetricsManager) SetReady(ready bool) {
	m.mu.Lock()
	m.ready = ready
	m.mu.Unlock()
	m.logger.Info("Readiness status updated", "ready", ready)
}

// GetAgentMetrics returns the dispatcher observer.
func (m *MetricsManager) GetAgentMetrics() *AgentMetrics {
	return m.agentMetrics
}

// GetObjectMetrics returns the object set metrics.
func (m *MetricsManager) GetObjectMetrics() *ObjectMetrics {
	return m.objectMetrics
}

// GetStorageMetrics returns the storage metrics.
func (m *MetricsManager) GetStorageMetrics() *StorageMetrics {
	return m.storageMetrics
}
