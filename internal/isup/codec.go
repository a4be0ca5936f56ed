package isup

import (
	"fmt"

	"firestige.xyz/isup/internal/core"
)

// HeaderLength is CIC (2 octets) plus message type (1 octet).
const HeaderLength = 3

const maxPointer = 0xFF

// Codec encodes and decodes ISUP payloads (the bytes after the routing label).
// It holds no mutable state and is safe for concurrent use.
type Codec struct {
	factory Factory
}

// NewCodec returns a codec resolving grammars through f.
func NewCodec(f Factory) *Codec {
	return &Codec{factory: f}
}

// Factory returns the message catalog used by the codec.
func (c *Codec) Factory() Factory { return c.factory }

// Encode is shorthand for Encode(m, c.Factory()).
func (c *Codec) Encode(m *Message) ([]byte, error) { return Encode(m, c.factory) }

// Decode is shorthand for Decode(b, c.Factory()).
func (c *Codec) Decode(b []byte) (*Message, error) { return Decode(b, c.factory) }

// Encode serializes m using the grammar registered for m.Type.
func Encode(m *Message, f Factory) ([]byte, error) {
	format, ok := f.Lookup(m.Type)
	if !ok {
		return nil, fmt.Errorf("%w: 0x%02x", core.ErrUnknownMessageType, uint8(m.Type))
	}

	cic := m.CIC & cicMask
	out := make([]byte, 0, 32)
	out = append(out, byte(cic), byte(cic>>8), byte(m.Type))

	for _, fp := range format.Fixed {
		v, ok := m.Get(fp.Code)
		if !ok {
			return nil, fmt.Errorf("%w: %s fixed parameter 0x%02x",
				core.ErrMissingMandatoryParameter, format.Name, uint8(fp.Code))
		}
		if len(v) != fp.Length {
			return nil, fmt.Errorf("%w: %s parameter 0x%02x has %d octets, want %d",
				core.ErrMalformedParameter, format.Name, uint8(fp.Code), len(v), fp.Length)
		}
		out = append(out, v...)
	}

	ptrBase := len(out)
	out = append(out, make([]byte, format.pointerCount())...)

	for i, code := range format.Variable {
		v, ok := m.Get(code)
		if !ok {
			return nil, fmt.Errorf("%w: %s variable parameter 0x%02x",
				core.ErrMissingMandatoryParameter, format.Name, uint8(code))
		}
		if len(v) > maxPointer {
			return nil, fmt.Errorf("%w: %s parameter 0x%02x too long (%d)",
				core.ErrMalformedParameter, format.Name, uint8(code), len(v))
		}
		if err := setPointer(out, ptrBase+i, len(out)); err != nil {
			return nil, err
		}
		out = append(out, byte(len(v)))
		out = append(out, v...)
	}

	var optional []Parameter
	for _, p := range m.params {
		if !format.isMandatory(p.Code) {
			optional = append(optional, p)
		}
	}

	if !format.Optional {
		if len(optional) > 0 {
			return nil, fmt.Errorf("%w: %s has no optional part, got parameter 0x%02x",
				core.ErrMalformedParameter, format.Name, uint8(optional[0].Code))
		}
		return out, nil
	}

	if len(optional) == 0 {
		return out, nil
	}

	if err := setPointer(out, ptrBase+format.pointerCount()-1, len(out)); err != nil {
		return nil, err
	}
	for _, p := range optional {
		if p.Code == EndOfOptionalParameters {
			return nil, fmt.Errorf("%w: parameter code 0x00 is reserved", core.ErrMalformedParameter)
		}
		if len(p.Value) > maxPointer {
			return nil, fmt.Errorf("%w: %s parameter 0x%02x too long (%d)",
				core.ErrMalformedParameter, format.Name, uint8(p.Code), len(p.Value))
		}
		out = append(out, byte(p.Code), byte(len(p.Value)))
		out = append(out, p.Value...)
	}
	out = append(out, byte(EndOfOptionalParameters))

	return out, nil
}

func setPointer(out []byte, at, target int) error {
	off := target - at
	if off <= 0 || off > maxPointer {
		return fmt.Errorf("%w: pointer offset %d out of range", core.ErrMalformedParameter, off)
	}
	out[at] = byte(off)
	return nil
}

// Decode parses an ISUP payload. The type code is resolved through f and the
// resulting message shell consumes the parameter section.
func Decode(b []byte, f Factory) (*Message, error) {
	if len(b) < HeaderLength {
		return nil, fmt.Errorf("%w: header needs %d octets, have %d",
			core.ErrMalformedParameter, HeaderLength, len(b))
	}

	t := MessageType(b[2])
	format, ok := f.Lookup(t)
	if !ok {
		return nil, fmt.Errorf("%w: 0x%02x", core.ErrUnknownMessageType, uint8(t))
	}

	m := NewMessage(t, (uint16(b[0])|uint16(b[1])<<8)&cicMask)
	pos := HeaderLength

	for _, fp := range format.Fixed {
		if pos+fp.Length > len(b) {
			return nil, fmt.Errorf("%w: %s fixed parameter 0x%02x truncated",
				core.ErrMalformedParameter, format.Name, uint8(fp.Code))
		}
		m.Set(fp.Code, b[pos:pos+fp.Length])
		pos += fp.Length
	}

	nptr := format.pointerCount()
	if pos+nptr > len(b) {
		return nil, fmt.Errorf("%w: %s pointers truncated", core.ErrMalformedParameter, format.Name)
	}

	for i, code := range format.Variable {
		at := pos + i
		if b[at] == 0 {
			return nil, fmt.Errorf("%w: %s variable parameter 0x%02x has null pointer",
				core.ErrMalformedParameter, format.Name, uint8(code))
		}
		start := at + int(b[at])
		if start >= len(b) {
			return nil, fmt.Errorf("%w: %s pointer to 0x%02x beyond end of message",
				core.ErrMalformedParameter, format.Name, uint8(code))
		}
		n := int(b[start])
		if start+1+n > len(b) {
			return nil, fmt.Errorf("%w: %s parameter 0x%02x length %d exceeds remaining %d",
				core.ErrMalformedParameter, format.Name, uint8(code), n, len(b)-start-1)
		}
		m.Set(code, b[start+1:start+1+n])
	}

	if !format.Optional {
		return m, nil
	}

	at := pos + nptr - 1
	if b[at] == 0 {
		return m, nil
	}

	for i := at + int(b[at]); ; {
		if i >= len(b) {
			return nil, fmt.Errorf("%w: %s optional part not terminated", core.ErrMalformedParameter, format.Name)
		}
		code := ParameterCode(b[i])
		if code == EndOfOptionalParameters {
			break
		}
		if i+1 >= len(b) {
			return nil, fmt.Errorf("%w: %s optional parameter 0x%02x truncated",
				core.ErrMalformedParameter, format.Name, uint8(code))
		}
		n := int(b[i+1])
		if i+2+n > len(b) {
			return nil, fmt.Errorf("%w: %s optional parameter 0x%02x length %d exceeds remaining %d",
				core.ErrMalformedParameter, format.Name, uint8(code), n, len(b)-i-2)
		}
		m.Set(code, b[i+2:i+2+n])
		i += 2 + n
	}

	return m, nil
}
