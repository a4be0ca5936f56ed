package isup

import (
	"fmt"
	"sync"

	"firestige.xyz/isup/internal/core"
)

// Factory resolves a message type code to its grammar. It is the pluggable
// message catalog consulted by the codec.
type Factory interface {
	Lookup(t MessageType) (*Format, bool)
}

// Registry is a concurrency-safe Factory backed by a map of formats.
type Registry struct {
	mu      sync.RWMutex
	formats map[MessageType]*Format
}

// NewFactory returns a Registry holding formats.
func NewFactory(formats ...Format) (*Registry, error) {
	r := &Registry{formats: make(map[MessageType]*Format, len(formats))}
	for _, f := range formats {
		if err := r.Register(f); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// StandardFactory returns a Registry with the built-in message catalog.
func StandardFactory() *Registry {
	r, err := NewFactory(StandardFormats()...)
	if err != nil {
		panic(err)
	}
	return r
}

// Register adds or replaces the grammar for f.Type.
func (r *Registry) Register(f Format) error {
	if err := f.validate(); err != nil {
		return fmt.Errorf("register %s: %w", f.Type, err)
	}
	if f.Name == "" {
		f.Name = f.Type.String()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.formats[f.Type] = &f
	return nil
}

// Lookup implements Factory.
func (r *Registry) Lookup(t MessageType) (*Format, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.formats[t]
	return f, ok
}

// NewMessage returns an empty message shell for t.
func (r *Registry) NewMessage(t MessageType, cic uint16) (*Message, error) {
	if _, ok := r.Lookup(t); !ok {
		return nil, fmt.Errorf("%w: 0x%02x", core.ErrUnknownMessageType, uint8(t))
	}
	return NewMessage(t, cic), nil
}

// Types returns the registered message types.
func (r *Registry) Types() []MessageType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MessageType, 0, len(r.formats))
	for t := range r.formats {
		out = append(out, t)
	}
	return out
}
