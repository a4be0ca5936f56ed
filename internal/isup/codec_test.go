package isup

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/isup/internal/core"
)

func sampleIAM(cic uint16) *Message {
	return NewMessage(IAM, cic).
		Set(NatureOfConnectionIndicators, []byte{0x00}).
		Set(ForwardCallIndicators, []byte{0x20, 0x01}).
		Set(CallingPartysCategory, []byte{0x0A}).
		Set(TransmissionMediumRequirement, []byte{0x00}).
		Set(CalledPartyNumber, []byte{0x81, 0x10, 0x21, 0x43})
}

// fill populates every mandatory parameter of f with deterministic values.
func fill(f Format, cic uint16) *Message {
	m := NewMessage(f.Type, cic)
	for i, fp := range f.Fixed {
		v := make([]byte, fp.Length)
		for j := range v {
			v[j] = byte(i + j + 1)
		}
		m.Set(fp.Code, v)
	}
	for i, code := range f.Variable {
		m.Set(code, []byte{byte(0x10 + i), 0x55})
	}
	return m
}

func TestEncodeIAMLayout(t *testing.T) {
	b, err := Encode(sampleIAM(1), StandardFactory())
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0x01, 0x00, 0x01, // cic, type
		0x00,       // nature of connection
		0x20, 0x01, // forward call
		0x0A,       // calling party category
		0x00,       // transmission medium
		0x02, 0x00, // called party pointer, no optional part
		0x04, 0x81, 0x10, 0x21, 0x43,
	}, b)
}

func TestEncodeIAMWithOptional(t *testing.T) {
	m := sampleIAM(0x1234).Set(CallingPartyNumber, []byte{0x03, 0x13, 0x21, 0x43})
	b, err := Encode(m, StandardFactory())
	require.NoError(t, err)

	assert.Equal(t, byte(0x34), b[0])
	assert.Equal(t, byte(0x12), b[1])
	assert.Equal(t, byte(0x06), b[9], "optional pointer")
	assert.Equal(t, []byte{0x0A, 0x04, 0x03, 0x13, 0x21, 0x43, 0x00}, b[15:])

	got, err := Decode(b, StandardFactory())
	require.NoError(t, err)
	assert.True(t, m.Equal(got), "got %s", got)
}

func TestRoundTripStandardCatalog(t *testing.T) {
	f := StandardFactory()
	for _, format := range StandardFormats() {
		format := format
		t.Run(format.Name, func(t *testing.T) {
			m := fill(format, 77)
			if format.Optional {
				m.Set(UserToUserInformation, []byte{0xDE, 0xAD})
			}
			b, err := Encode(m, f)
			require.NoError(t, err)
			assert.Equal(t, byte(format.Type), b[2])

			got, err := Decode(b, f)
			require.NoError(t, err)
			assert.True(t, m.Equal(got), "want %s got %s", m, got)
		})
	}
}

func TestRoundTripEmptyVariable(t *testing.T) {
	m := NewMessage(REL, 9).Set(CauseIndicators, nil)
	b, err := Encode(m, StandardFactory())
	require.NoError(t, err)
	got, err := Decode(b, StandardFactory())
	require.NoError(t, err)
	assert.True(t, m.Equal(got))
}

func TestEncodeCICMasked(t *testing.T) {
	b, err := Encode(NewMessage(RLC, 0xFFFF), StandardFactory())
	require.NoError(t, err)
	assert.Equal(t, byte(0xFF), b[0])
	assert.Equal(t, byte(0x3F), b[1])
}

func TestEncodeErrors(t *testing.T) {
	f := StandardFactory()
	tests := []struct {
		name string
		msg  *Message
		want error
	}{
		{"unknown type", NewMessage(MessageType(0xEE), 1), core.ErrUnknownMessageType},
		{"missing fixed", NewMessage(ACM, 1), core.ErrMissingMandatoryParameter},
		{"missing variable", NewMessage(REL, 1), core.ErrMissingMandatoryParameter},
		{"wrong fixed length", NewMessage(ACM, 1).Set(BackwardCallIndicators, []byte{1}), core.ErrMalformedParameter},
		{"variable too long", NewMessage(REL, 1).Set(CauseIndicators, make([]byte, 256)), core.ErrMalformedParameter},
		{"optional not allowed", NewMessage(BLO, 1).Set(CauseIndicators, []byte{1}), core.ErrMalformedParameter},
		{"optional too long", NewMessage(ANM, 1).Set(UserToUserInformation, make([]byte, 300)), core.ErrMalformedParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.msg, f)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	f := StandardFactory()
	good, err := Encode(sampleIAM(1).Set(CallingPartyNumber, []byte{1, 2}), f)
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, core.ErrMalformedParameter},
		{"short header", []byte{0x01, 0x00}, core.ErrMalformedParameter},
		{"unknown type", []byte{0x01, 0x00, 0xEE}, core.ErrUnknownMessageType},
		{"fixed truncated", []byte{0x01, 0x00, byte(ACM), 0x01}, core.ErrMalformedParameter},
		{"pointers truncated", good[:9], core.ErrMalformedParameter},
		{"null variable pointer", []byte{0x01, 0x00, byte(REL), 0x00, 0x00}, core.ErrMalformedParameter},
		{"pointer beyond end", []byte{0x01, 0x00, byte(REL), 0x09, 0x00}, core.ErrMalformedParameter},
		{"length beyond end", []byte{0x01, 0x00, byte(REL), 0x02, 0x00, 0x05, 0x01}, core.ErrMalformedParameter},
		{"missing end marker", good[:len(good)-1], core.ErrMalformedParameter},
		{"optional truncated", append(append([]byte{}, good[:15]...), 0x0A), core.ErrMalformedParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data, f)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDecodeIgnoresCICSpareBits(t *testing.T) {
	m, err := Decode([]byte{0x05, 0xC0, byte(RLC), 0x00}, StandardFactory())
	require.NoError(t, err)
	assert.Equal(t, uint16(5), m.CIC)
}

func TestCodecConcurrentUse(t *testing.T) {
	c := NewCodec(StandardFactory())
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(cic uint16) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				m := sampleIAM(cic)
				b, err := c.Encode(m)
				if !assert.NoError(t, err) {
					return
				}
				got, err := c.Decode(b)
				if !assert.NoError(t, err) {
					return
				}
				assert.True(t, m.Equal(got))
			}
		}(uint16(i))
	}
	wg.Wait()
}

func TestCustomFactory(t *testing.T) {
	const vendor MessageType = 0xF0
	f, err := NewFactory(Format{Type: vendor, Fixed: []FixedParameter{{ParameterCode(0x80), 3}}})
	require.NoError(t, err)

	m, err := f.NewMessage(vendor, 3)
	require.NoError(t, err)
	m.Set(ParameterCode(0x80), []byte{1, 2, 3})

	b, err := NewCodec(f).Encode(m)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x03, 0x00, 0xF0, 1, 2, 3}, b)

	_, err = f.NewMessage(IAM, 1)
	assert.ErrorIs(t, err, core.ErrUnknownMessageType)
}

func TestRegisterRejectsBadFormat(t *testing.T) {
	f := StandardFactory()
	assert.Error(t, f.Register(Format{Type: 0xF1, Fixed: []FixedParameter{{ParameterCode(0x80), 0}}}))
	assert.Error(t, f.Register(Format{Type: 0xF1, Variable: []ParameterCode{0x80, 0x80}}))
	assert.Error(t, f.Register(Format{Type: 0xF1, Variable: []ParameterCode{EndOfOptionalParameters}}))
	assert.Len(t, f.Types(), len(StandardFormats()))
}
