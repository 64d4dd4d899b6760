// Package listener provides the UDP transport the SNMP agent answers on.
package listener

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/geekxflood/common/config"
	"github.com/geekxflood/common/logging"

	"github.com/geekxflood/proteus/internal/validator"
)

// MaxDatagramSize is the largest UDP payload over IPv4.
const MaxDatagramSize = 65507

var (
	// ErrNotListening is returned when the socket has not been opened.
	ErrNotListening = errors.New("listener is not listening")

	// ErrNoDatagram is returned by Read when nothing is pending.
	ErrNoDatagram = errors.New("no datagram pending")
)

// Config holds UDP transport settings.
type Config struct {
	Host           string        `json:"host"`
	ReadBuffer     int           `json:"read_buffer"`
	PollWait       time.Duration `json:"poll_wait"`
	AllowedSources []string      `json:"allowed_sources"`
	BlockedSources []string      `json:"blocked_sources"`
}

// DefaultConfig returns the default transport configuration.
func DefaultConfig() *Config {
	return &Config{
		Host:       "0.0.0.0",
		ReadBuffer: 256 * 1024,
		PollWait:   time.Millisecond,
	}
}

// LoadConfig reads transport settings from the agent section.
func LoadConfig(cfg config.Provider) (*Config, error) {
	c := DefaultConfig()
	if cfg == nil {
		return c, nil
	}

	var err error
	if c.Host, err = cfg.GetString("agent.host", c.Host); err != nil {
		return nil, fmt.Errorf("failed to get agent host: %w", err)
	}
	if c.ReadBuffer, err = cfg.GetInt("agent.read_buffer", c.ReadBuffer); err != nil {
		return nil, fmt.Errorf("failed to get read buffer size: %w", err)
	}
	if c.PollWait, err = cfg.GetDuration("agent.poll_wait", c.PollWait); err != nil {
		return nil, fmt.Errorf("failed to get poll wait: %w", err)
	}
	if c.PollWait < 0 {
		return nil, fmt.Errorf("poll wait must not be negative, got %s", c.PollWait)
	}
	if c.AllowedSources, err = cfg.GetStringSlice("agent.allowed_sources", c.AllowedSources); err != nil {
		return nil, fmt.Errorf("failed to get allowed sources: %w", err)
	}
	if c.BlockedSources, err = cfg.GetStringSlice("agent.blocked_sources", c.BlockedSources); err != nil {
		return nil, fmt.Errorf("failed to get blocked sources: %w", err)
	}
	return c, nil
}

// UDP is a datagram transport. One datagram is staged at a time: Pending
// receives it, Read hands it out, and the reply goes back to its sender.
type UDP struct {
	config *Config
	logger logging.Logger
	policy *validator.SourcePolicy

	mu   sync.Mutex
	conn *net.UDPConn

	staging []byte
	pending int
	remote  *net.UDPAddr

	reply   []byte
	replyTo *net.UDPAddr

	received atomic.Uint64
	rejected atomic.Uint64
}

// New creates a UDP transport. The socket is opened by Listen.
func New(cfg *Config, logger logging.Logger) (*UDP, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	policy, err := validator.NewSourcePolicy(cfg.AllowedSources, cfg.BlockedSources)
	if err != nil {
		return nil, fmt.Errorf("invalid source policy: %w", err)
	}

	return &UDP{
		config:  cfg,
		logger:  logger.With("component", "listener"),
		policy:  policy,
		staging: make([]byte, MaxDatagramSize),
	}, nil
}

// Listen binds the socket to the configured host and port. Port 0 picks an
// ephemeral port, see LocalAddr.
func (u *UDP) Listen(port int) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.conn != nil {
		return fmt.Errorf("listener is already running")
	}

	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(u.config.Host, fmt.Sprint(port)))
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind to UDP socket: %w", err)
	}

	if u.config.ReadBuffer > 0 {
		if err := conn.SetReadBuffer(u.config.ReadBuffer); err != nil {
			conn.Close()
			return fmt.Errorf("failed to set read buffer size: %w", err)
		}
	}

	u.conn = conn
	u.pending = 0
	u.logger.Debug("socket bound", "address", conn.LocalAddr().String())
	return nil
}

// SetSourcePolicy replaces the source filter. Call it from the goroutine
// that polls.
func (u *UDP) SetSourcePolicy(allowed, blocked []string) error {
	policy, err := validator.NewSourcePolicy(allowed, blocked)
	if err != nil {
		return fmt.Errorf("invalid source policy: %w", err)
	}
	u.policy = policy
	return nil
}

// LocalAddr returns the bound address, or nil before Listen.
func (u *UDP) LocalAddr() net.Addr {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn == nil {
		return nil
	}
	return u.conn.LocalAddr()
}

// Pending waits at most PollWait for a datagram and returns its length. A
// PollWait of zero checks the socket without waiting. Datagrams from refused
// sources are discarded and reported as nothing pending.
func (u *UDP) Pending() (int, error) {
	if u.pending > 0 {
		return u.pending, nil
	}

	conn := u.socket()
	if conn == nil {
		return 0, ErrNotListening
	}

	var (
		n    int
		addr *net.UDPAddr
		err  error
	)
	if u.config.PollWait > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(u.config.PollWait)); err != nil {
			return 0, fmt.Errorf("failed to set read deadline: %w", err)
		}
		n, addr, err = conn.ReadFromUDP(u.staging)
	} else {
		n, addr, err = receiveNow(conn, u.staging)
	}
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return 0, nil
		}
		if errors.Is(err, net.ErrClosed) {
			return 0, ErrNotListening
		}
		return 0, fmt.Errorf("failed to receive datagram: %w", err)
	}
	if n == 0 || addr == nil {
		return 0, nil
	}

	u.received.Add(1)
	if err := u.policy.Check(addr.IP); err != nil {
		u.rejected.Add(1)
		u.logger.Debug("datagram refused", "remote", addr.String(), "error", err.Error())
		return 0, nil
	}

	u.pending = n
	u.remote = addr
	return n, nil
}

// Read copies the pending datagram into p, truncating it to len(p).
func (u *UDP) Read(p []byte) (int, error) {
	if u.pending == 0 {
		return 0, ErrNoDatagram
	}
	n := copy(p, u.staging[:u.pending])
	u.pending = 0
	return n, nil
}

// RemoteAddr returns the sender of the datagram last received.
func (u *UDP) RemoteAddr() net.Addr {
	if u.remote == nil {
		return nil
	}
	return u.remote
}

// BeginReply starts a reply to the last sender.
func (u *UDP) BeginReply() error {
	if u.remote == nil {
		return fmt.Errorf("no datagram to reply to")
	}
	u.replyTo = u.remote
	u.reply = u.reply[:0]
	return nil
}

// Write appends p to the reply.
func (u *UDP) Write(p []byte) (int, error) {
	if u.replyTo == nil {
		return 0, fmt.Errorf("reply not started")
	}
	u.reply = append(u.reply, p...)
	return len(p), nil
}

// EndReply sends the reply as a single datagram.
func (u *UDP) EndReply() error {
	to := u.replyTo
	u.replyTo = nil
	if to == nil {
		return fmt.Errorf("reply not started")
	}

	conn := u.socket()
	if conn == nil {
		return ErrNotListening
	}
	if _, err := conn.WriteToUDP(u.reply, to); err != nil {
		return fmt.Errorf("failed to send datagram to %s: %w", to, err)
	}
	return nil
}

// Close releases the socket. It is safe to call from another goroutine and
// more than once.
func (u *UDP) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.conn == nil {
		return nil
	}
	err := u.conn.Close()
	u.conn = nil
	return err
}

// GetStats returns transport counters.
func (u *UDP) GetStats() map[string]any {
	stats := map[string]any{
		"received": u.received.Load(),
		"rejected": u.rejected.Load(),
	}
	if addr := u.LocalAddr(); addr != nil {
		stats["local_addr"] = addr.String()
	}
	return stats
}

func (u *UDP) socket() *net.UDPConn {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.conn
}
