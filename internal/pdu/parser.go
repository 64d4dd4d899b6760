package pdu

import (
	"fmt"

	"github.com/geekxflood/proteus/internal/ber"
	"github.com/geekxflood/proteus/internal/types"
)

// Parse decodes a complete community-based SNMP message. Any structural
// problem fails the whole parse and no Request is returned.
func Parse(data []byte) (*Request, error) {
	msg, end, err := ber.Expect(data, 0, ber.TagSequence)
	if err != nil {
		return nil, fmt.Errorf("%w: expected SNMP sequence: %w", ErrCorruptPacket, err)
	}
	if end != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes after message", ErrCorruptPacket, len(data)-end)
	}

	p := parser{data: msg.Value}

	version, err := p.integer(32)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse SNMP version: %w", ErrCorruptPacket, err)
	}
	if !types.IsSupportedVersion(int(version)) {
		return nil, fmt.Errorf("%w: unsupported SNMP version: %d", ErrCorruptPacket, version)
	}

	community, err := p.expect(ber.TagOctetString)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse community string: %w", ErrCorruptPacket, err)
	}

	pduEl, err := p.next()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse PDU: %w", ErrCorruptPacket, err)
	}
	kind, ok := kindForTag(pduEl.Tag)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported PDU type %s", ErrCorruptPacket, pduEl.Tag)
	}
	if !p.done() {
		return nil, fmt.Errorf("%w: trailing data after PDU", ErrCorruptPacket)
	}

	req := &Request{
		Version:   int(version),
		Community: string(community.Value),
		Kind:      kind,
	}
	if err := parsePDU(pduEl.Value, req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptPacket, err)
	}
	return req, nil
}

func parsePDU(data []byte, req *Request) error {
	p := parser{data: data}

	requestID, err := p.integer(32)
	if err != nil {
		return fmt.Errorf("failed to parse request ID: %w", err)
	}

	errorStatus, err := p.integer(32)
	if err != nil {
		return fmt.Errorf("failed to parse error status: %w", err)
	}

	errorIndex, err := p.integer(32)
	if err != nil {
		return fmt.Errorf("failed to parse error index: %w", err)
	}

	list, err := p.expect(ber.TagSequence)
	if err != nil {
		return fmt.Errorf("failed to parse varbind list: %w", err)
	}
	if !p.done() {
		return fmt.Errorf("trailing data after varbind list")
	}

	bindings, err := parseVarbinds(list.Value)
	if err != nil {
		return err
	}

	req.RequestID = int32(requestID)
	req.ErrorStatus = types.ErrorStatus(errorStatus)
	req.ErrorIndex = int(errorIndex)
	req.Bindings = bindings
	return nil
}

func parseVarbinds(data []byte) ([]Binding, error) {
	var bindings []Binding
	p := parser{data: data}

	for !p.done() {
		seq, err := p.expect(ber.TagSequence)
		if err != nil {
			return nil, fmt.Errorf("failed to parse varbind %d: %w", len(bindings)+1, err)
		}

		vb := parser{data: seq.Value}
		nameEl, err := vb.expect(ber.TagObjectIdentifier)
		if err != nil {
			return nil, fmt.Errorf("failed to parse varbind %d name: %w", len(bindings)+1, err)
		}
		name, err := ber.DecodeValue(nameEl)
		if err != nil {
			return nil, fmt.Errorf("failed to parse varbind %d name: %w", len(bindings)+1, err)
		}

		valueEl, err := vb.next()
		if err != nil {
			return nil, fmt.Errorf("failed to parse varbind %d value: %w", len(bindings)+1, err)
		}
		value, err := ber.DecodeValue(valueEl)
		if err != nil {
			return nil, fmt.Errorf("failed to parse varbind %d value: %w", len(bindings)+1, err)
		}
		if !vb.done() {
			return nil, fmt.Errorf("trailing data in varbind %d", len(bindings)+1)
		}

		bindings = append(bindings, Binding{OID: name.String(), Value: value})
	}
	return bindings, nil
}

// parser walks the TLVs of one constructed value.
type parser struct {
	data   []byte
	offset int
}

func (p *parser) done() bool {
	return p.offset >= len(p.data)
}

func (p *parser) next() (ber.Element, error) {
	el, next, err := ber.Decode(p.data, p.offset)
	if err != nil {
		return el, err
	}
	p.offset = next
	return el, nil
}

func (p *parser) expect(tag ber.Tag) (ber.Element, error) {
	el, next, err := ber.Expect(p.data, p.offset, tag)
	if err != nil {
		return el, err
	}
	p.offset = next
	return el, nil
}

func (p *parser) integer(bits int) (int64, error) {
	el, err := p.expect(ber.TagInteger)
	if err != nil {
		return 0, err
	}
	return ber.ParseInt(el.Value, bits)
}
