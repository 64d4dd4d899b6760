// Package agent implements the SNMP request dispatcher: one receive, authorize,
// resolve, serialize and send cycle per datagram.
package agent

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/geekxflood/common/logging"

	"github.com/geekxflood/proteus/internal/pdu"
	"github.com/geekxflood/proteus/internal/registry"
	"github.com/geekxflood/proteus/internal/types"
)

// ErrSendFailed wraps transport errors raised while sending a response.
var ErrSendFailed = errors.New("failed to send response")

// Transport is the datagram endpoint the agent answers on.
type Transport interface {
	// Listen starts receiving on port.
	Listen(port int) error
	// Pending returns the length of the next datagram without blocking, or zero.
	Pending() (int, error)
	// Read copies the pending datagram into p, truncating it to len(p).
	Read(p []byte) (int, error)
	// RemoteAddr returns the sender of the datagram last read.
	RemoteAddr() net.Addr
	// BeginReply starts a reply to RemoteAddr.
	BeginReply() error
	Write(p []byte) (int, error)
	// EndReply sends the reply.
	EndReply() error
	Close() error
}

// Outcome is the terminal state of one Poll.
type Outcome int

// Poll outcomes.
const (
	OutcomeIdle Outcome = iota
	OutcomeSent
	OutcomeDropped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIdle:
		return "idle"
	case OutcomeSent:
		return "sent"
	case OutcomeDropped:
		return "dropped"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// DropReason says why a datagram got no response.
type DropReason string

// Drop reasons.
const (
	DropLength     DropReason = "length"
	DropRead       DropReason = "read"
	DropMalformed  DropReason = "malformed"
	DropNotRequest DropReason = "not_request"
	DropCommunity  DropReason = "community"
	DropEncode     DropReason = "encode"
	DropSend       DropReason = "send"
)

// Observer is notified of dispatch events. Implementations must not block.
type Observer interface {
	PacketReceived(size int)
	PacketDropped(reason DropReason)
	RequestHandled(kind types.PDUKind, permission types.Permission, bindings int, elapsed time.Duration)
	BindingFailed(kind types.PDUKind, status types.ErrorStatus)
	ResponseSent(size int)
	SetApplied(oid string)
}

// Option configures an Agent.
type Option func(*Agent)

// WithObserver registers an observer for dispatch events.
func WithObserver(o Observer) Option {
	return func(a *Agent) {
		if o != nil {
			a.observer = o
		}
	}
}

// Agent answers SNMP requests from a registry. It is single-threaded: Poll,
// Handle and every registry mutation must happen on the same goroutine.
type Agent struct {
	config    Config
	registry  *registry.Registry
	transport Transport
	logger    logging.Logger
	observer  Observer
	buffer    *pdu.PacketBuffer

	setOccurred bool
}

// New creates an agent serving reg over transport. transport may be nil when
// only Handle is used.
func New(cfg *Config, reg *registry.Registry, transport Transport, logger logging.Logger, opts ...Option) (*Agent, error) {
	if cfg == nil {
		return nil, fmt.Errorf("agent configuration cannot be nil")
	}
	if reg == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid agent configuration: %w", err)
	}

	a := &Agent{
		config:    *cfg,
		registry:  reg,
		transport: transport,
		logger:    logger.With("component", "agent"),
		observer:  nopObserver{},
		buffer:    pdu.NewPacketBuffer(cfg.bufferSize()),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Start makes the transport listen on the configured port.
func (a *Agent) Start() error {
	if a.transport == nil {
		return fmt.Errorf("agent has no transport")
	}
	if err := a.transport.Listen(a.config.Port); err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", a.config.Port, err)
	}
	a.logger.Info("SNMP agent listening", "port", a.config.Port, "objects", a.registry.Len())
	return nil
}

// Stop closes the transport.
func (a *Agent) Stop() error {
	if a.transport == nil {
		return nil
	}
	return a.transport.Close()
}

// Registry returns the registry the agent serves.
func (a *Agent) Registry() *registry.Registry {
	return a.registry
}

// SetCommunities replaces the community strings. An empty string disables that level.
func (a *Agent) SetCommunities(read, write string) {
	a.config.ReadCommunity = read
	a.config.WriteCommunity = write
}

// SetOccurred reports whether a Set has modified a value since the last reset.
func (a *Agent) SetOccurred() bool {
	return a.setOccurred
}

// ResetSetOccurred clears the write flag.
func (a *Agent) ResetSetOccurred() {
	a.setOccurred = false
}

// Poll processes at most one pending datagram to completion. It returns
// OutcomeIdle immediately when nothing is pending. A non-nil error reports a
// transport failure; the cycle is never retried.
func (a *Agent) Poll() (Outcome, error) {
	if a.transport == nil {
		return OutcomeIdle, fmt.Errorf("agent has no transport")
	}

	size, err := a.transport.Pending()
	if err != nil {
		return OutcomeIdle, fmt.Errorf("failed to check for pending datagram: %w", err)
	}
	if size == 0 {
		return OutcomeIdle, nil
	}

	if _, err := a.buffer.Load(a.transport.Read); err != nil {
		a.drop(DropRead, "datagram could not be read", "error", err.Error())
		return OutcomeDropped, fmt.Errorf("failed to read datagram: %w", err)
	}

	out, ok := a.dispatch(size)
	if !ok {
		return OutcomeDropped, nil
	}

	if err := a.send(out); err != nil {
		a.drop(DropSend, "response not sent", "error", err.Error())
		return OutcomeDropped, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	a.observer.ResponseSent(len(out))
	return OutcomeSent, nil
}

// Handle runs one dispatch cycle on datagram and returns the encoded
// response, or nil when the datagram is dropped. The response is a copy.
func (a *Agent) Handle(datagram []byte) ([]byte, Outcome) {
	if len(datagram) == 0 || len(datagram) > a.config.MaxPacketSize {
		a.observer.PacketReceived(len(datagram))
		a.drop(DropLength, "datagram length out of range", "size", len(datagram))
		return nil, OutcomeDropped
	}
	if err := a.buffer.Set(datagram); err != nil {
		a.observer.PacketReceived(len(datagram))
		a.drop(DropLength, "datagram does not fit the packet buffer", "size", len(datagram))
		return nil, OutcomeDropped
	}

	out, ok := a.dispatch(len(datagram))
	if !ok {
		return nil, OutcomeDropped
	}
	a.observer.ResponseSent(len(out))
	return append([]byte(nil), out...), OutcomeSent
}

// dispatch handles the loaded datagram whose announced length is size.
func (a *Agent) dispatch(size int) ([]byte, bool) {
	start := time.Now()
	a.observer.PacketReceived(size)

	if size <= 0 || size > a.config.MaxPacketSize {
		a.buffer.Reset()
		a.drop(DropLength, "datagram length out of range", "size", size, "max", a.config.MaxPacketSize)
		return nil, false
	}

	req, err := a.buffer.Decode()
	if err != nil {
		a.drop(DropMalformed, "malformed datagram", "error", err.Error())
		return nil, false
	}
	if !req.Kind.IsRequest() {
		a.buffer.Reset()
		a.drop(DropNotRequest, "PDU is not a request", "kind", req.Kind.String())
		return nil, false
	}

	permission := a.permission(req.Community)
	if permission == types.PermissionNone {
		a.buffer.Reset()
		a.drop(DropCommunity, "community not accepted", "version", types.GetVersionName(req.Version))
		return nil, false
	}

	resp := pdu.NewResponse(req)
	for _, b := range req.Bindings {
		a.resolve(req.Kind, permission, b, resp)
	}

	out, err := a.buffer.Encode(resp)
	if err != nil {
		a.drop(DropEncode, "response could not be encoded", "error", err.Error(), "bindings", len(resp.Bindings))
		return nil, false
	}

	elapsed := time.Since(start)
	a.observer.RequestHandled(req.Kind, permission, len(req.Bindings), elapsed)
	a.logger.Debug("request handled",
		"kind", req.Kind.String(),
		"version", types.GetVersionName(req.Version),
		"request_id", req.RequestID,
		"bindings", len(req.Bindings),
		"permission", permission.String(),
		"duration", elapsed.String())
	return out, true
}

// permission maps a community string to an access level. The write community
// wins when both are configured to the same string.
func (a *Agent) permission(community string) types.Permission {
	switch {
	case a.config.WriteCommunity != "" && community == a.config.WriteCommunity:
		return types.PermissionReadWrite
	case a.config.ReadCommunity != "" && community == a.config.ReadCommunity:
		return types.PermissionReadOnly
	default:
		return types.PermissionNone
	}
}

func (a *Agent) resolve(kind types.PDUKind, permission types.Permission, b pdu.Binding, resp *pdu.Response) {
	reg, err := a.registry.Find(b.OID, kind == types.PDUGetNextRequest)
	if err != nil {
		a.fail(kind, b.OID, types.ErrorStatusNoSuchName, resp)
		return
	}

	switch kind {
	case types.PDUGetRequest, types.PDUGetNextRequest:
		resp.Append(reg.Resolved(), reg.Accessor.Load())

	case types.PDUSetRequest:
		switch {
		case !reg.Settable:
			a.fail(kind, b.OID, types.ErrorStatusReadOnly, resp)
			return
		case permission != types.PermissionReadWrite:
			a.fail(kind, b.OID, types.ErrorStatusNoAccess, resp)
			return
		case b.Value.Tag() != reg.Type():
			a.fail(kind, b.OID, types.ErrorStatusBadValue, resp)
			return
		}

		if err := reg.Accessor.Store(b.Value); err != nil {
			status := types.ErrorStatusGenErr
			if errors.Is(err, registry.ErrTypeMismatch) {
				status = types.ErrorStatusBadValue
			}
			a.logger.Debug("set rejected", "oid", b.OID, "error", err.Error())
			a.fail(kind, b.OID, status, resp)
			return
		}

		a.setOccurred = true
		a.observer.SetApplied(reg.Resolved())
		resp.Append(reg.Resolved(), reg.Accessor.Load())
	}
}

func (a *Agent) fail(kind types.PDUKind, oid string, status types.ErrorStatus, resp *pdu.Response) {
	a.observer.BindingFailed(kind, status)
	a.logger.Debug("binding failed", "kind", kind.String(), "oid", oid, "status", status.String())
	resp.AppendError(oid, status)
}

func (a *Agent) send(out []byte) error {
	if err := a.transport.BeginReply(); err != nil {
		return err
	}
	if _, err := a.transport.Write(out); err != nil {
		return err
	}
	return a.transport.EndReply()
}

func (a *Agent) drop(reason DropReason, msg string, args ...any) {
	a.observer.PacketDropped(reason)
	if a.transport != nil {
		if addr := a.transport.RemoteAddr(); addr != nil {
			args = append(args, "remote", addr.String())
		}
	}
	args = append(args, "reason", string(reason))
	if reason == DropSend {
		a.logger.Warn(msg, args...)
		return
	}
	a.logger.Debug(msg, args...)
}

type nopObserver struct{}

func (nopObserver) PacketReceived(int)                                                 {}
func (nopObserver) PacketDropped(DropReason)                                           {}
func (nopObserver) RequestHandled(types.PDUKind, types.Permission, int, time.Duration) {}
func (nopObserver) BindingFailed(types.PDUKind, types.ErrorStatus)                     {}
func (nopObserver) ResponseSent(int)                                                   {}
func (nopObserver) SetApplied(string)                                                  {}
