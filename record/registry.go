package record

import (
	"fmt"
	"sort"
	"sync"
)

// Type tags the codec stored in archive headers.
type Type int32

// Factory builds a codec for the given identifier kind.
type Factory func(idType IDType) (Codec, error)

type registration struct {
	name    string
	factory Factory
}

var (
	registryMu sync.RWMutex
	registry   = make(map[Type]registration)
)

// Register makes a codec available under t. It panics if t is already taken,
// mirroring database/sql.Register.
func Register(t Type, name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if f == nil {
		panic("record: Register factory is nil")
	}
	if prev, dup := registry[t]; dup {
		panic(fmt.Sprintf("record: Register called twice for type %d (%s, %s)", t, prev.name, name))
	}
	registry[t] = registration{name: name, factory: f}
}

// Lookup resolves the codec registered under t for the given identifier kind.
func Lookup(t Type, idType IDType) (Codec, error) {
	registryMu.RLock()
	reg, ok := registry[t]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, t)
	}
	if !idType.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIDType, idType)
	}
	return reg.factory(idType)
}

// String returns the registered name of t, or a placeholder when unknown.
func (t Type) String() string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if reg, ok := registry[t]; ok {
		return reg.name
	}
	return fmt.Sprintf("Type(%d)", int32(t))
}

// TypeByName returns the type registered under name.
func TypeByName(name string) (Type, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	for t, reg := range registry {
		if reg.name == name {
			return t, true
		}
	}
	return 0, false
}

// Types lists the registered codec types in ascending order.
func Types() []Type {
	registryMu.RLock()
	defer registryMu.RUnlock()

	out := make([]Type, 0, len(registry))
	for t := range registry {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
