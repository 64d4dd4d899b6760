// Package discovery advertises the agent on the local network over mDNS.
package discovery

import (
	"context"
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
	"github.com/geekxflood/common/config"
	"github.com/geekxflood/common/logging"

	"github.com/geekxflood/proteus/internal/retry"
)

// TXT record keys.
const (
	TXTKeyVersion = "version"
	TXTKeyPort    = "port"
	TXTKeyPrefix  = "prefix"
	TXTKeySNMP    = "snmp"
)

// DiscoveryConfig holds configuration for mDNS advertisement
type DiscoveryConfig struct {
	Enabled   bool          `json:"enabled"`
	Instance  string        `json:"instance"`
	Service   string        `json:"service"`
	Domain    string        `json:"domain"`
	Interface string        `json:"interface"`
	TTL       time.Duration `json:"ttl"`
}

// DefaultDiscoveryConfig returns a default discovery configuration. The
// instance name defaults to the host name.
func DefaultDiscoveryConfig() *DiscoveryConfig {
	instance, err := os.Hostname()
	if err != nil || instance == "" {
		instance = "proteus"
	}
	return &DiscoveryConfig{
		Enabled:  false,
		Instance: instance,
		Service:  "_snmp._udp",
		Domain:   "local.",
		TTL:      120 * time.Second,
	}
}

// LoadDiscoveryConfig reads the discovery section from the configuration provider.
func LoadDiscoveryConfig(cfg config.Provider) (*DiscoveryConfig, error) {
	c := DefaultDiscoveryConfig()
	if cfg == nil {
		return c, nil
	}

	var err error
	if c.Enabled, err = cfg.GetBool("discovery.enabled", c.Enabled); err != nil {
		return nil, fmt.Errorf("failed to get discovery enabled: %w", err)
	}
	if c.Instance, err = cfg.GetString("discovery.instance", c.Instance); err != nil {
		return nil, fmt.Errorf("failed to get discovery instance: %w", err)
	}
	if c.Service, err = cfg.GetString("discovery.service", c.Service); err != nil {
		return nil, fmt.Errorf("failed to get discovery service: %w", err)
	}
	if c.Domain, err = cfg.GetString("discovery.domain", c.Domain); err != nil {
		return nil, fmt.Errorf("failed to get discovery domain: %w", err)
	}
	if c.Interface, err = cfg.GetString("discovery.interface", c.Interface); err != nil {
		return nil, fmt.Errorf("failed to get discovery interface: %w", err)
	}
	if c.TTL, err = cfg.GetDuration("discovery.ttl", c.TTL); err != nil {
		return nil, fmt.Errorf("failed to get discovery ttl: %w", err)
	}

	if c.Enabled {
		if c.Instance == "" || c.Service == "" || c.Domain == "" {
			return nil, fmt.Errorf("discovery instance, service and domain must be set")
		}
		if c.TTL < time.Second {
			return nil, fmt.Errorf("discovery ttl must be at least 1s, got %s", c.TTL)
		}
	}
	return c, nil
}

// Info is what gets published about the agent.
type Info struct {
	Version   string
	Port      int
	OIDPrefix string
	// Versions lists the SNMP versions answered, e.g. "v1,v2c".
	Versions string
}

// TXTRecords renders info as sorted key=value strings.
func TXTRecords(info Info) []string {
	txt := map[string]string{
		TXTKeyVersion: info.Version,
		TXTKeyPort:    strconv.Itoa(info.Port),
	}
	if info.OIDPrefix != "" {
		txt[TXTKeyPrefix] = info.OIDPrefix
	}
	if info.Versions != "" {
		txt[TXTKeySNMP] = info.Versions
	}

	records := make([]string, 0, len(txt))
	for k, v := range txt {
		records = append(records, k+"="+v)
	}
	sort.Strings(records)
	return records
}

type server interface {
	Shutdown()
}

type registerFunc func(instance, service, domain string, port int, txt []string, ifaces []net.Interface, ttl time.Duration) (server, error)

func zeroconfRegister(instance, service, domain string, port int, txt []string, ifaces []net.Interface, ttl time.Duration) (server, error) {
	var opts []zeroconf.ServerOption
	if ttl > 0 {
		opts = append(opts, zeroconf.TTL(uint32(ttl.Seconds())))
	}
	s, err := zeroconf.Register(instance, service, domain, port, txt, ifaces, opts...)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Advertiser publishes one service record for the agent.
type Advertiser struct {
	config   *DiscoveryConfig
	logger   logging.Logger
	retryer  *retry.Retryer
	register registerFunc

	mu     sync.Mutex
	server server
	info   Info
}

// NewAdvertiser creates an advertiser. Registration failures are retried
// with retryer; a nil retryer makes a single attempt.
func NewAdvertiser(cfg *DiscoveryConfig, retryer *retry.Retryer, logger logging.Logger) (*Advertiser, error) {
	if cfg == nil {
		cfg = DefaultDiscoveryConfig()
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if retryer == nil {
		rc := retry.DefaultRetryConfig()
		rc.MaxAttempts = 1
		var err error
		if retryer, err = retry.NewRetryer(rc); err != nil {
			return nil, err
		}
	}

	return &Advertiser{
		config:   cfg,
		logger:   logger.With("component", "discovery"),
		retryer:  retryer,
		register: zeroconfRegister,
	}, nil
}

// Advertise registers the service, replacing a previous registration.
func (a *Advertiser) Advertise(ctx context.Context, info Info) error {
	if !a.config.Enabled {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.shutdownLocked()

	txt := TXTRecords(info)
	ifaces := a.interfaces()

	var srv server
	res := a.retryer.Do(ctx, func(_ context.Context, attempt int) error {
		var err error
		srv, err = a.register(a.config.Instance, a.config.Service, a.config.Domain, info.Port, txt, ifaces, a.config.TTL)
		if err != nil {
			a.logger.Warn("mDNS registration failed", "attempt", attempt, "error", err.Error())
		}
		return err
	})
	if res.Err != nil {
		return fmt.Errorf("failed to register %s service: %w", a.config.Service, res.Err)
	}

	a.server = srv
	a.info = info
	a.logger.Info("Advertising agent",
		"instance", a.config.Instance,
		"service", a.config.Service,
		"domain", a.config.Domain,
		"port", info.Port)
	return nil
}

// Advertising reports whether a registration is active.
func (a *Advertiser) Advertising() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

// Stop withdraws the registration.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.shutdownLocked()
}

func (a *Advertiser) shutdownLocked() {
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
		a.logger.Debug("mDNS registration withdrawn", "instance", a.config.Instance)
	}
}

// interfaces returns nil, meaning all interfaces, unless one is configured.
func (a *Advertiser) interfaces() []net.Interface {
	if a.config.Interface == "" {
		return nil
	}

	iface, err := net.InterfaceByName(a.config.Interface)
	if err != nil {
		a.logger.Warn("Unknown interface, advertising on all", "interface", a.config.Interface)
		return nil
	}
	return []net.Interface{*iface}
}
