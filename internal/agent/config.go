package agent

import (
	"fmt"
	"time"

	"github.com/geekxflood/common/config"

	"github.com/geekxflood/proteus/internal/validator"
)

// maxUDPPayload is the largest payload an IPv4 UDP datagram can carry.
const maxUDPPayload = 65507

// Config holds the dispatcher configuration. Socket settings live in the
// listener package.
type Config struct {
	Port           int           `json:"port"`
	OIDPrefix      string        `json:"oid_prefix"`
	ReadCommunity  string        `json:"read_community"`
	WriteCommunity string        `json:"write_community"`
	MaxPacketSize  int           `json:"max_packet_size"`
	BufferSize     int           `json:"buffer_size"`
	PollInterval   time.Duration `json:"poll_interval"`
}

// DefaultConfig returns the default agent configuration.
func DefaultConfig() *Config {
	return &Config{
		Port:          161,
		ReadCommunity: "public",
		MaxPacketSize: 1500,
		PollInterval:  10 * time.Millisecond,
	}
}

// LoadConfig reads the agent section from the configuration provider.
func LoadConfig(cfg config.Provider) (*Config, error) {
	c := DefaultConfig()
	if cfg == nil {
		return c, nil
	}

	var err error
	if c.Port, err = cfg.GetInt("agent.port", c.Port); err != nil {
		return nil, fmt.Errorf("failed to get agent port: %w", err)
	}
	if c.OIDPrefix, err = cfg.GetString("agent.oid_prefix", c.OIDPrefix); err != nil {
		return nil, fmt.Errorf("failed to get OID prefix: %w", err)
	}
	if c.ReadCommunity, err = cfg.GetString("agent.read_community", c.ReadCommunity); err != nil {
		return nil, fmt.Errorf("failed to get read community: %w", err)
	}
	if c.WriteCommunity, err = cfg.GetString("agent.write_community", c.WriteCommunity); err != nil {
		return nil, fmt.Errorf("failed to get write community: %w", err)
	}
	if c.MaxPacketSize, err = cfg.GetInt("agent.max_packet_size", c.MaxPacketSize); err != nil {
		return nil, fmt.Errorf("failed to get max packet size: %w", err)
	}
	if c.BufferSize, err = cfg.GetInt("agent.buffer_size", c.BufferSize); err != nil {
		return nil, fmt.Errorf("failed to get buffer size: %w", err)
	}
	if c.PollInterval, err = cfg.GetDuration("agent.poll_interval", c.PollInterval); err != nil {
		return nil, fmt.Errorf("failed to get poll interval: %w", err)
	}

	return c, nil
}

// Validate checks the configuration for values the dispatcher cannot run with.
func (c *Config) Validate() error {
	if c.MaxPacketSize <= 0 || c.MaxPacketSize > maxUDPPayload {
		return fmt.Errorf("max packet size must be between 1 and %d, got %d", maxUDPPayload, c.MaxPacketSize)
	}
	if c.BufferSize != 0 && c.BufferSize < c.MaxPacketSize {
		return fmt.Errorf("buffer size %d is smaller than max packet size %d", c.BufferSize, c.MaxPacketSize)
	}
	if err := validator.ValidateCommunities(c.ReadCommunity, c.WriteCommunity); err != nil {
		return err
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	return nil
}

// bufferSize returns the packet buffer capacity. Responses may outgrow the
// request, so the default leaves twice the datagram limit.
func (c *Config) bufferSize() int {
	if c.BufferSize > 0 {
		return c.BufferSize
	}
	return 2 * c.MaxPacketSize
}
