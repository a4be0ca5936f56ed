// Package isup implements the ISUP message model and its wire codec.
//
// Parameters are carried as opaque octet strings; message grammars (which
// parameters are fixed, variable or optional) come from a Factory.
package isup

import (
	"bytes"
	"fmt"
	"strings"
)

// cicMask keeps the 14 bits of CIC carried on the wire.
const cicMask = 0x3FFF

// ParameterCode identifies an ISUP parameter.
type ParameterCode uint8

// Parameter is a single coded parameter.
type Parameter struct {
	Code  ParameterCode
	Value []byte
}

// Message is an ISUP message bound to a circuit.
type Message struct {
	CIC  uint16
	Type MessageType

	params []Parameter
}

// NewMessage returns an empty message of type t for circuit cic.
func NewMessage(t MessageType, cic uint16) *Message {
	return &Message{CIC: cic, Type: t}
}

// Set stores a copy of value under code, replacing any previous value.
func (m *Message) Set(code ParameterCode, value []byte) *Message {
	v := append([]byte(nil), value...)
	for i := range m.params {
		if m.params[i].Code == code {
			m.params[i].Value = v
			return m
		}
	}
	m.params = append(m.params, Parameter{Code: code, Value: v})
	return m
}

// Get returns the value stored under code.
func (m *Message) Get(code ParameterCode) ([]byte, bool) {
	for _, p := range m.params {
		if p.Code == code {
			return p.Value, true
		}
	}
	return nil, false
}

// Has reports whether code has been set.
func (m *Message) Has(code ParameterCode) bool {
	_, ok := m.Get(code)
	return ok
}

// Delete removes code from the message.
func (m *Message) Delete(code ParameterCode) {
	for i := range m.params {
		if m.params[i].Code == code {
			m.params = append(m.params[:i], m.params[i+1:]...)
			return
		}
	}
}

// Parameters returns the parameters in insertion order.
func (m *Message) Parameters() []Parameter {
	out := make([]Parameter, len(m.params))
	copy(out, m.params)
	return out
}

// Len returns the number of parameters set.
func (m *Message) Len() int { return len(m.params) }

// Equal compares CIC, type and the parameter set. Parameter order is ignored.
func (m *Message) Equal(o *Message) bool {
	if m == nil || o == nil {
		return m == o
	}
	if m.CIC&cicMask != o.CIC&cicMask || m.Type != o.Type || len(m.params) != len(o.params) {
		return false
	}
	for _, p := range m.params {
		v, ok := o.Get(p.Code)
		if !ok || !bytes.Equal(v, p.Value) {
			return false
		}
	}
	return true
}

func (m *Message) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s cic=%d", m.Type, m.CIC)
	for _, p := range m.params {
		fmt.Fprintf(&sb, " 0x%02x=%x", uint8(p.Code), p.Value)
	}
	return sb.String()
}
