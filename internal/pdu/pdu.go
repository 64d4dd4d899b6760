// Package pdu provides the SNMP message model: parsing of community-based
// v1/v2c messages and serialization of GetResponse messages.
package pdu

import (
	"errors"

	"github.com/geekxflood/proteus/internal/ber"
	"github.com/geekxflood/proteus/internal/types"
)

var (
	// ErrCorruptPacket is returned when a datagram is not a well-formed SNMP message.
	ErrCorruptPacket = errors.New("corrupt SNMP packet")

	// ErrPhase is returned when a PacketBuffer is used out of order.
	ErrPhase = errors.New("packet buffer used out of phase")
)

// Binding is one variable binding of a request.
type Binding struct {
	OID   string
	Value ber.Value
}

// Request is a parsed SNMP message. It never aliases the buffer it was parsed from.
type Request struct {
	Version     int
	Community   string
	Kind        types.PDUKind
	RequestID   int32
	ErrorStatus types.ErrorStatus
	ErrorIndex  int
	Bindings    []Binding
}

// ResponseBinding is one entry of a response: either a value or an error
// status for the requested OID.
type ResponseBinding struct {
	OID    string
	Value  ber.Value
	Status types.ErrorStatus
}

// Failed reports whether the binding carries an error.
func (b ResponseBinding) Failed() bool {
	return b.Status != types.ErrorStatusNoError
}

// Response accumulates the answer to a Request.
type Response struct {
	Version   int
	Community string
	RequestID int32
	// Kind is the kind of the request being answered.
	Kind     types.PDUKind
	Bindings []ResponseBinding
}

// NewResponse returns an empty response mirroring req.
func NewResponse(req *Request) *Response {
	return &Response{
		Version:   req.Version,
		Community: req.Community,
		RequestID: req.RequestID,
		Kind:      req.Kind,
		Bindings:  make([]ResponseBinding, 0, len(req.Bindings)),
	}
}

// Append adds a successful binding.
func (r *Response) Append(oid string, value ber.Value) {
	r.Bindings = append(r.Bindings, ResponseBinding{OID: oid, Value: value})
}

// AppendError adds a failed binding for the requested OID.
func (r *Response) AppendError(oid string, status types.ErrorStatus) {
	r.Bindings = append(r.Bindings, ResponseBinding{OID: oid, Value: ber.Null{}, Status: status})
}

// ErrorStatus returns the error-status and 1-based error-index that go on
// the wire: those of the first binding that is rendered as an error.
func (r *Response) ErrorStatus() (types.ErrorStatus, int) {
	for i, b := range r.Bindings {
		if _, status := r.render(b); status != types.ErrorStatusNoError {
			return status, i + 1
		}
	}
	return types.ErrorStatusNoError, 0
}

// render returns the value and error status used on the wire for b. SNMPv2c
// reports missing objects with exception values instead of noSuchName.
func (r *Response) render(b ResponseBinding) (ber.Value, types.ErrorStatus) {
	if !b.Failed() {
		return b.Value, types.ErrorStatusNoError
	}
	if r.Version == types.VersionSNMPv2c && b.Status == types.ErrorStatusNoSuchName {
		switch r.Kind {
		case types.PDUGetRequest:
			return ber.NoSuchObject{}, types.ErrorStatusNoError
		case types.PDUGetNextRequest:
			return ber.EndOfMibView{}, types.ErrorStatusNoError
		}
	}
	return ber.Null{}, b.Status
}

func kindForTag(tag ber.Tag) (types.PDUKind, bool) {
	switch tag {
	case ber.TagGetRequest:
		return types.PDUGetRequest, true
	case ber.TagGetNextRequest:
		return types.PDUGetNextRequest, true
	case ber.TagGetResponse:
		return types.PDUGetResponse, true
	case ber.TagSetRequest:
		return types.PDUSetRequest, true
	}
	return 0, false
}
