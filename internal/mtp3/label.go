// Package mtp3 implements the MTP3 service information octet and routing label.
package mtp3

import (
	"fmt"

	"firestige.xyz/isup/internal/core"
)

// LabelLength is the size of SIO plus the ITU routing label.
const LabelLength = 5

// ServiceIndicator selects the MTP3 user part.
type ServiceIndicator uint8

const (
	SIManagement ServiceIndicator = 0
	SITest       ServiceIndicator = 1
	SISCCP       ServiceIndicator = 3
	SITUP        ServiceIndicator = 4
	SIISUP       ServiceIndicator = 5
)

// NetworkIndicator selects the numbering plan for point codes.
type NetworkIndicator uint8

const (
	NIInternational      NetworkIndicator = 0
	NIInternationalSpare NetworkIndicator = 1
	NINational           NetworkIndicator = 2
	NINationalSpare      NetworkIndicator = 3
)

// RoutingLabel is the addressing prefix of every MSU.
//
// Encoding is lossy: fields wider than their wire width (14-bit point codes,
// 4-bit SI and SLS, 2-bit NI) are truncated rather than rejected.
type RoutingLabel struct {
	OPC PointCode
	DPC PointCode
	SI  ServiceIndicator
	NI  NetworkIndicator
	SLS uint8
}

// Masked returns the label as it survives an encode/decode cycle.
func (l RoutingLabel) Masked() RoutingLabel {
	return RoutingLabel{
		OPC: l.OPC & pointCodeMask,
		DPC: l.DPC & pointCodeMask,
		SI:  l.SI & 0x0F,
		NI:  l.NI & 0x03,
		SLS: l.SLS & 0x0F,
	}
}

// Reverse swaps originating and destination point codes.
func (l RoutingLabel) Reverse() RoutingLabel {
	l.OPC, l.DPC = l.DPC, l.OPC
	return l
}

// Encode returns the 5-byte wire form of the label.
func (l RoutingLabel) Encode() []byte {
	b := make([]byte, LabelLength)
	l.put(b)
	return b
}

func (l RoutingLabel) put(b []byte) {
	ssi := uint8(l.NI) << 2
	opc := uint32(l.OPC)
	dpc := uint32(l.DPC)

	b[0] = (ssi&0x0F)<<4 | uint8(l.SI)&0x0F
	b[1] = byte(dpc)
	b[2] = byte((dpc>>8)&0x3F) | byte(opc&0x03)<<6
	b[3] = byte(opc >> 2)
	b[4] = byte((opc>>10)&0x0F) | (l.SLS&0x0F)<<4
}

// DecodeLabel parses the first LabelLength bytes of b.
func DecodeLabel(b []byte) (RoutingLabel, error) {
	if len(b) < LabelLength {
		return RoutingLabel{}, fmt.Errorf("%w: routing label needs %d bytes, have %d",
			core.ErrFrameTooShort, LabelLength, len(b))
	}

	return RoutingLabel{
		SI:  ServiceIndicator(b[0] & 0x0F),
		NI:  NetworkIndicator((b[0] >> 6) & 0x03),
		DPC: PointCode(b[1]) | PointCode(b[2]&0x3F)<<8,
		OPC: PointCode(b[2]>>6) | PointCode(b[3])<<2 | PointCode(b[4]&0x0F)<<10,
		SLS: b[4] >> 4,
	}, nil
}
