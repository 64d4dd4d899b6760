package pdu

import (
	"fmt"

	"github.com/geekxflood/proteus/internal/ber"
)

// Serialize encodes resp as a GetResponse message into dst and returns the
// number of bytes written, starting at dst[0]. It fails with ber.ErrBufferFull
// rather than truncating when the message does not fit.
func Serialize(resp *Response, dst []byte) (int, error) {
	enc := ber.NewEncoder(dst)

	errorStatus, errorIndex := resp.ErrorStatus()

	message := enc.Len()
	pdu := enc.Len()

	list := enc.Len()
	for i := len(resp.Bindings) - 1; i >= 0; i-- {
		b := resp.Bindings[i]
		value, _ := resp.render(b)

		vb := enc.Len()
		if err := enc.PrependValue(value); err != nil {
			return 0, fmt.Errorf("failed to encode value of varbind %d: %w", i+1, err)
		}
		if err := enc.PrependObjectIdentifier(b.OID); err != nil {
			return 0, fmt.Errorf("failed to encode name of varbind %d: %w", i+1, err)
		}
		if err := enc.Wrap(ber.TagSequence, vb); err != nil {
			return 0, err
		}
	}
	if err := enc.Wrap(ber.TagSequence, list); err != nil {
		return 0, err
	}

	if err := enc.PrependInt(ber.TagInteger, int64(errorIndex)); err != nil {
		return 0, err
	}
	if err := enc.PrependInt(ber.TagInteger, int64(errorStatus)); err != nil {
		return 0, err
	}
	if err := enc.PrependInt(ber.TagInteger, int64(resp.RequestID)); err != nil {
		return 0, err
	}
	if err := enc.Wrap(ber.TagGetResponse, pdu); err != nil {
		return 0, err
	}

	if err := enc.PrependOctetString([]byte(resp.Community)); err != nil {
		return 0, err
	}
	if err := enc.PrependInt(ber.TagInteger, int64(resp.Version)); err != nil {
		return 0, err
	}
	if err := enc.Wrap(ber.TagSequence, message); err != nil {
		return 0, err
	}

	return copy(dst, enc.Bytes()), nil
}
