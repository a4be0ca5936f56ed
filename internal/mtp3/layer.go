package mtp3

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// LayerTypeMTP3 is the gopacket layer type for an MSU routing label.
var LayerTypeMTP3 = gopacket.RegisterLayerType(2210, gopacket.LayerTypeMetadata{
	Name:    "MTP3",
	Decoder: gopacket.DecodeFunc(decodeMTP3),
})

// MTP3 is a gopacket layer wrapping the routing label. Its payload is the
// user part message (ISUP for SI 5).
type MTP3 struct {
	layers.BaseLayer
	RoutingLabel
}

func (m *MTP3) LayerType() gopacket.LayerType { return LayerTypeMTP3 }

func (m *MTP3) CanDecode() gopacket.LayerClass { return LayerTypeMTP3 }

func (m *MTP3) NextLayerType() gopacket.LayerType { return gopacket.LayerTypePayload }

// DecodeFromBytes implements gopacket.DecodingLayer.
func (m *MTP3) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	label, err := DecodeLabel(data)
	if err != nil {
		df.SetTruncated()
		return err
	}
	m.RoutingLabel = label
	m.BaseLayer = layers.BaseLayer{Contents: data[:LabelLength], Payload: data[LabelLength:]}
	return nil
}

// SerializeTo implements gopacket.SerializableLayer.
func (m *MTP3) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	bytes, err := b.PrependBytes(LabelLength)
	if err != nil {
		return err
	}
	m.RoutingLabel.put(bytes)
	return nil
}

func decodeMTP3(data []byte, p gopacket.PacketBuilder) error {
	m := &MTP3{}
	if err := m.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(m)
	return p.NextDecoder(m.NextLayerType())
}

// Frame prepends label to payload, producing a complete MSU.
func Frame(label RoutingLabel, payload []byte) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{},
		&MTP3{RoutingLabel: label}, gopacket.Payload(payload)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Split strips the routing label from an MSU. The returned payload aliases frame.
func Split(frame []byte) (RoutingLabel, []byte, error) {
	var m MTP3
	if err := m.DecodeFromBytes(frame, gopacket.NilDecodeFeedback); err != nil {
		return RoutingLabel{}, nil, err
	}
	return m.RoutingLabel, m.Payload, nil
}
