// Package m2pa implements RFC 4165 M2PA message framing as a gopacket layer.
package m2pa

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/isup/internal/core"
	"firestige.xyz/isup/internal/mtp3"
)

const (
	Version = 1
	// ClassM2PA is the SIGTRAN message class assigned to M2PA.
	ClassM2PA = 11

	// HeaderLength is the common header plus BSN and FSN.
	HeaderLength = 16
	// MaxMessageLength bounds what ReadMessage accepts.
	MaxMessageLength = 8192

	seqMask = 0xFFFFFF
)

// MessageType of an M2PA message.
type MessageType uint8

const (
	TypeUserData   MessageType = 1
	TypeLinkStatus MessageType = 2
)

func (t MessageType) String() string {
	switch t {
	case TypeUserData:
		return "UserData"
	case TypeLinkStatus:
		return "LinkStatus"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// LinkState is carried by Link Status messages.
type LinkState uint32

const (
	StateAlignment          LinkState = 1
	StateProvingNormal      LinkState = 2
	StateProvingEmergency   LinkState = 3
	StateReady              LinkState = 4
	StateProcessorOutage    LinkState = 5
	StateProcessorRecovered LinkState = 6
	StateBusy               LinkState = 7
	StateBusyEnded          LinkState = 8
	StateOutOfService       LinkState = 9
)

func (s LinkState) String() string {
	switch s {
	case StateAlignment:
		return "Alignment"
	case StateProvingNormal:
		return "ProvingNormal"
	case StateProvingEmergency:
		return "ProvingEmergency"
	case StateReady:
		return "Ready"
	case StateProcessorOutage:
		return "ProcessorOutage"
	case StateProcessorRecovered:
		return "ProcessorRecovered"
	case StateBusy:
		return "Busy"
	case StateBusyEnded:
		return "BusyEnded"
	case StateOutOfService:
		return "OutOfService"
	default:
		return fmt.Sprintf("State(%d)", uint32(s))
	}
}

// LayerTypeM2PA is the gopacket layer type for M2PA.
var LayerTypeM2PA = gopacket.RegisterLayerType(2211, gopacket.LayerTypeMetadata{
	Name:    "M2PA",
	Decoder: gopacket.DecodeFunc(decodeM2PA),
})

// M2PA is one M2PA message. User Data messages carry an MTP3 frame as
// payload; Link Status messages carry State.
type M2PA struct {
	layers.BaseLayer
	Version  uint8
	Class    uint8
	Type     MessageType
	Length   uint32
	BSN      uint32
	FSN      uint32
	Priority uint8
	State    LinkState
}

func (m *M2PA) LayerType() gopacket.LayerType { return LayerTypeM2PA }

func (m *M2PA) CanDecode() gopacket.LayerClass { return LayerTypeM2PA }

func (m *M2PA) NextLayerType() gopacket.LayerType {
	if m.Type == TypeUserData && len(m.Payload) > 0 {
		return mtp3.LayerTypeMTP3
	}
	return gopacket.LayerTypeZero
}

// DecodeFromBytes implements gopacket.DecodingLayer.
func (m *M2PA) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < HeaderLength {
		df.SetTruncated()
		return fmt.Errorf("%w: m2pa header needs %d octets, have %d", core.ErrFrameTooShort, HeaderLength, len(data))
	}
	m.Version = data[0]
	m.Class = data[2]
	m.Type = MessageType(data[3])
	m.Length = binary.BigEndian.Uint32(data[4:8])
	m.BSN = binary.BigEndian.Uint32(data[8:12]) & seqMask
	m.FSN = binary.BigEndian.Uint32(data[12:16]) & seqMask
	m.Priority = 0
	m.State = 0

	if m.Version != Version || m.Class != ClassM2PA {
		return fmt.Errorf("%w: m2pa version %d class %d", core.ErrMalformedParameter, m.Version, m.Class)
	}
	if m.Length < HeaderLength || int(m.Length) > len(data) {
		df.SetTruncated()
		return fmt.Errorf("%w: m2pa length %d with %d octets available", core.ErrFrameTooShort, m.Length, len(data))
	}

	msg := data[:m.Length]
	switch m.Type {
	case TypeUserData:
		if len(msg) == HeaderLength {
			m.BaseLayer = layers.BaseLayer{Contents: msg}
			return nil
		}
		m.Priority = msg[HeaderLength] & 0x0F
		m.BaseLayer = layers.BaseLayer{Contents: msg[:HeaderLength+1], Payload: msg[HeaderLength+1:]}
	case TypeLinkStatus:
		if len(msg) < HeaderLength+4 {
			df.SetTruncated()
			return fmt.Errorf("%w: m2pa link status truncated", core.ErrFrameTooShort)
		}
		m.State = LinkState(binary.BigEndian.Uint32(msg[HeaderLength : HeaderLength+4]))
		m.BaseLayer = layers.BaseLayer{Contents: msg}
	default:
		m.BaseLayer = layers.BaseLayer{Contents: msg}
	}
	return nil
}

// SerializeTo implements gopacket.SerializableLayer. For User Data the bytes
// already in b are the MTP3 frame.
func (m *M2PA) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	payload := len(b.Bytes())
	hdr := HeaderLength
	switch {
	case m.Type == TypeLinkStatus:
		hdr += 4
	case m.Type == TypeUserData && payload > 0:
		hdr++
	}

	bytes, err := b.PrependBytes(hdr)
	if err != nil {
		return err
	}
	if opts.FixLengths {
		m.Length = uint32(hdr + payload)
	}
	if m.Version == 0 {
		m.Version = Version
	}
	if m.Class == 0 {
		m.Class = ClassM2PA
	}

	bytes[0] = m.Version
	bytes[1] = 0
	bytes[2] = m.Class
	bytes[3] = uint8(m.Type)
	binary.BigEndian.PutUint32(bytes[4:8], m.Length)
	binary.BigEndian.PutUint32(bytes[8:12], m.BSN&seqMask)
	binary.BigEndian.PutUint32(bytes[12:16], m.FSN&seqMask)
	switch {
	case m.Type == TypeLinkStatus:
		binary.BigEndian.PutUint32(bytes[16:20], uint32(m.State))
	case hdr > HeaderLength:
		bytes[16] = m.Priority & 0x0F
	}
	return nil
}

func decodeM2PA(data []byte, p gopacket.PacketBuilder) error {
	m := &M2PA{}
	if err := m.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(m)
	return p.NextDecoder(m.NextLayerType())
}

var serializeOpts = gopacket.SerializeOptions{FixLengths: true}

// UserData builds a User Data message carrying frame.
func UserData(bsn, fsn uint32, frame []byte) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf, serializeOpts,
		&M2PA{Type: TypeUserData, BSN: bsn, FSN: fsn}, gopacket.Payload(frame))
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// LinkStatus builds a Link Status message.
func LinkStatus(bsn, fsn uint32, state LinkState) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf, serializeOpts,
		&M2PA{Type: TypeLinkStatus, BSN: bsn, FSN: fsn, State: state})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Parse decodes one complete M2PA message.
func Parse(msg []byte) (*M2PA, error) {
	pkt := gopacket.NewPacket(msg, LayerTypeM2PA, gopacket.NoCopy)
	l, ok := pkt.Layer(LayerTypeM2PA).(*M2PA)
	if !ok {
		if el := pkt.ErrorLayer(); el != nil {
			return nil, el.Error()
		}
		return nil, fmt.Errorf("%w: not an m2pa message", core.ErrMalformedParameter)
	}
	return l, nil
}

// ReadMessage reads one length-delimited M2PA message from r.
func ReadMessage(r io.Reader) ([]byte, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[4:8])
	if n < HeaderLength || n > MaxMessageLength {
		return nil, fmt.Errorf("%w: m2pa length %d", core.ErrMalformedParameter, n)
	}
	msg := make([]byte, n)
	copy(msg, hdr[:])
	if _, err := io.ReadFull(r, msg[8:]); err != nil {
		return nil, err
	}
	return msg, nil
}
