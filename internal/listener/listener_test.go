package listener

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/geekxflood/common/logging"
	"github.com/gosnmp/gosnmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geekxflood/proteus/internal/agent"
	"github.com/geekxflood/proteus/internal/registry"
)

// mockConfigProvider implements the config.Provider interface for testing.
type mockConfigProvider struct {
	values map[string]any
}

func (m *mockConfigProvider) GetString(path string, defaultValue ...string) (string, error) {
	if val, exists := m.values[path]; exists {
		if str, ok := val.(string); ok {
			return str, nil
		}
	}
	if len(defaultValue) > 0 {
		return defaultValue[0], nil
	}
	return "", fmt.Errorf("path not found: %s", path)
}

func (m *mockConfigProvider) GetInt(path string, defaultValue ...int) (int, error) {
	if val, exists := m.values[path]; exists {
		if i, ok := val.(int); ok {
			return i, nil
		}
	}
	if len(defaultValue) > 0 {
		return defaultValue[0], nil
	}
	return 0, fmt.Errorf("path not found: %s", path)
}

func (m *mockConfigProvider) GetFloat(path string, defaultValue ...float64) (float64, error) {
	if len(defaultValue) > 0 {
		return defaultValue[0], nil
	}
	return 0, fmt.Errorf("path not found: %s", path)
}

func (m *mockConfigProvider) GetBool(path string, defaultValue ...bool) (bool, error) {
	if len(defaultValue) > 0 {
		return defaultValue[0], nil
	}
	return false, fmt.Errorf("path not found: %s", path)
}

func (m *mockConfigProvider) GetDuration(path string, defaultValue ...time.Duration) (time.Duration, error) {
	if val, exists := m.values[path]; exists {
		if str, ok := val.(string); ok {
			return time.ParseDuration(str)
		}
	}
	if len(defaultValue) > 0 {
		return defaultValue[0], nil
	}
	return 0, fmt.Errorf("path not found: %s", path)
}

func (m *mockConfigProvider) GetStringSlice(path string, defaultValue ...[]string) ([]string, error) {
	if val, exists := m.values[path]; exists {
		if slice, ok := val.([]string); ok {
			return slice, nil
		}
	}
	if len(defaultValue) > 0 {
		return defaultValue[0], nil
	}
	return nil, fmt.Errorf("path not found: %s", path)
}

func (m *mockConfigProvider) GetMap(path string) (map[string]any, error) {
	return nil, fmt.Errorf("path not found: %s", path)
}

func (m *mockConfigProvider) Exists(path string) bool {
	_, exists := m.values[path]
	return exists
}

func (m *mockConfigProvider) Validate() error {
	return nil
}

func createTestLogger(t *testing.T) logging.Logger {
	t.Helper()
	logger, _, err := logging.NewLogger(logging.Config{Level: "debug", Format: "json"})
	require.NoError(t, err)
	return logger
}

func newTransport(t *testing.T, cfg *Config) *UDP {
	t.Helper()
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.Host = "127.0.0.1"
	cfg.PollWait = 20 * time.Millisecond

	u, err := New(cfg, createTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { u.Close() })
	return u
}

func newLoopback(t *testing.T, cfg *Config) *UDP {
	t.Helper()
	u := newTransport(t, cfg)
	require.NoError(t, u.Listen(0))
	return u
}

func dial(t *testing.T, u *UDP) *net.UDPConn {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, u.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// waitPending polls until a datagram is staged.
func waitPending(t *testing.T, u *UDP) int {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n, err := u.Pending()
		require.NoError(t, err)
		if n > 0 {
			return n
		}
	}
	t.Fatal("no datagram arrived")
	return 0
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(&mockConfigProvider{values: map[string]any{
		"agent.host":            "127.0.0.1",
		"agent.poll_wait":       "5ms",
		"agent.allowed_sources": []string{"10.0.0.0/8"},
	}})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 5*time.Millisecond, cfg.PollWait)
	assert.Equal(t, []string{"10.0.0.0/8"}, cfg.AllowedSources)
	assert.Equal(t, DefaultConfig().ReadBuffer, cfg.ReadBuffer)
}

func TestNewRejectsBadPolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowedSources = []string{"10.0.0.0/99"}
	_, err := New(cfg, createTestLogger(t))
	assert.Error(t, err)
}

func TestPendingBeforeListen(t *testing.T) {
	u, err := New(DefaultConfig(), createTestLogger(t))
	require.NoError(t, err)

	_, err = u.Pending()
	assert.ErrorIs(t, err, ErrNotListening)

	_, err = u.Read(make([]byte, 10))
	assert.ErrorIs(t, err, ErrNoDatagram)
	assert.Nil(t, u.RemoteAddr())
}

func TestPendingIdle(t *testing.T) {
	u := newLoopback(t, nil)

	n, err := u.Pending()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestReceiveAndReply(t *testing.T) {
	u := newLoopback(t, nil)
	conn := dial(t, u)

	_, err := conn.Write([]byte("ping"))
	require.NoError(t, err)

	n := waitPending(t, u)
	assert.Equal(t, 4, n)

	again, err := u.Pending()
	require.NoError(t, err)
	assert.Equal(t, 4, again, "staged datagram stays pending until read")

	buf := make([]byte, 16)
	n, err = u.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))
	assert.Equal(t, conn.LocalAddr().String(), u.RemoteAddr().String())

	require.NoError(t, u.BeginReply())
	_, err = u.Write([]byte("po"))
	require.NoError(t, err)
	_, err = u.Write([]byte("ng"))
	require.NoError(t, err)
	require.NoError(t, u.EndReply())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err = conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(buf[:n]))
}

func TestZeroPollWaitDoesNotBlock(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.PollWait = 0
	u, err := New(cfg, createTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { u.Close() })
	require.NoError(t, u.Listen(0))

	start := time.Now()
	for i := 0; i < 100; i++ {
		n, err := u.Pending()
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	conn := dial(t, u)
	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, 4, waitPending(t, u))

	buf := make([]byte, 16)
	n, err := u.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))
	assert.Equal(t, conn.LocalAddr().String(), u.RemoteAddr().String())

	require.NoError(t, u.BeginReply())
	_, err = u.Write([]byte("pong"))
	require.NoError(t, err)
	require.NoError(t, u.EndReply())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err = conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(buf[:n]))

	require.NoError(t, u.Close())
	_, err = u.Pending()
	assert.ErrorIs(t, err, ErrNotListening)
}

func TestLoadConfigRejectsNegativePollWait(t *testing.T) {
	_, err := LoadConfig(&mockConfigProvider{values: map[string]any{"agent.poll_wait": "-1ms"}})
	assert.Error(t, err)
}

func TestReadTruncates(t *testing.T) {
	u := newLoopback(t, nil)
	conn := dial(t, u)

	_, err := conn.Write([]byte("0123456789"))
	require.NoError(t, err)
	assert.Equal(t, 10, waitPending(t, u))

	buf := make([]byte, 4)
	n, err := u.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "0123", string(buf))
}

func TestRefusedSourceIsDiscarded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowedSources = []string{"192.0.2.0/24"}
	u := newLoopback(t, cfg)
	conn := dial(t, u)

	_, err := conn.Write([]byte("ping"))
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for u.rejected.Load() == 0 && time.Now().Before(deadline) {
		n, err := u.Pending()
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	}
	assert.Equal(t, uint64(1), u.GetStats()["rejected"])
}

func TestReplyWithoutRequest(t *testing.T) {
	u := newLoopback(t, nil)
	assert.Error(t, u.BeginReply())
	_, err := u.Write([]byte("x"))
	assert.Error(t, err)
	assert.Error(t, u.EndReply())
}

func TestCloseTwice(t *testing.T) {
	u := newLoopback(t, nil)
	require.NoError(t, u.Close())
	require.NoError(t, u.Close())
	assert.Nil(t, u.LocalAddr())
}

// TestAgentOverUDP drives the dispatcher with gosnmp as the manager.
func TestAgentOverUDP(t *testing.T) {
	uptime := int32(12345)
	name := append(make([]byte, 0, 32), "router1"...)

	reg, err := registry.New("")
	require.NoError(t, err)
	require.NoError(t, reg.Add(&registry.Registration{OID: ".1.3.6.1.2.1.1.3.0", Accessor: registry.Integer{Ptr: &uptime}}))
	require.NoError(t, reg.Add(&registry.Registration{OID: ".1.3.6.1.2.1.1.5.0", Settable: true, Accessor: registry.OctetString{Ptr: &name}}))
	reg.Sort()

	transport := newTransport(t, nil)

	acfg := agent.DefaultConfig()
	acfg.Port = 0
	acfg.WriteCommunity = "private"
	a, err := agent.New(acfg, reg, transport, createTestLogger(t))
	require.NoError(t, err)
	require.NoError(t, a.Start())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ctx.Err() == nil {
			a.Poll()
		}
	}()
	defer func() {
		cancel()
		<-done
		a.Stop()
	}()

	port := transport.LocalAddr().(*net.UDPAddr).Port
	manager := &gosnmp.GoSNMP{
		Target:    "127.0.0.1",
		Port:      uint16(port),
		Community: "public",
		Version:   gosnmp.Version2c,
		Timeout:   2 * time.Second,
		Retries:   1,
	}
	require.NoError(t, manager.Connect())
	defer manager.Conn.Close()

	result, err := manager.Get([]string{".1.3.6.1.2.1.1.3.0", ".1.3.6.1.2.1.1.5.0"})
	require.NoError(t, err)
	require.Len(t, result.Variables, 2)
	assert.Equal(t, 12345, result.Variables[0].Value)
	assert.Equal(t, []byte("router1"), result.Variables[1].Value)

	var walked []string
	err = manager.Walk(".1.3.6.1.2.1.1", func(pdu gosnmp.SnmpPDU) error {
		walked = append(walked, pdu.Name)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{".1.3.6.1.2.1.1.3.0", ".1.3.6.1.2.1.1.5.0"}, walked)

	manager.Community = "private"
	setResult, err := manager.Set([]gosnmp.SnmpPDU{{Name: ".1.3.6.1.2.1.1.5.0", Type: gosnmp.OctetString, Value: "edge-7"}})
	require.NoError(t, err)
	assert.Equal(t, gosnmp.NoError, setResult.Error)

	result, err = manager.Get([]string{".1.3.6.1.2.1.1.5.0"})
	require.NoError(t, err)
	assert.Equal(t, []byte("edge-7"), result.Variables[0].Value)
}
