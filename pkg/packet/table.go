package packet

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// Table maps discriminator values to payload definitions. Protocol packages
// fill tables from init; the first lookup seals the table, after which it is
// read without locking.
type Table struct {
	name    string
	mu      sync.Mutex
	entries map[uint64]*Definition
	sealed  atomic.Bool
}

var (
	registryMu  sync.RWMutex
	tables      = make(map[string]*Table)
	definitions = make(map[string]*Definition)
)

// NewTable creates an empty table and registers it under name.
func NewTable(name string) *Table {
	t := &Table{name: name, entries: make(map[uint64]*Definition)}
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := tables[name]; exists {
		panic(fmt.Sprintf("packet: table %q already registered", name))
	}
	tables[name] = t
	return t
}

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// Register binds key to def. Registering a key twice, or after the table has
// been used for decoding, is a programming error and panics.
func (t *Table) Register(key uint64, def *Definition) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sealed.Load() {
		panic(fmt.Errorf("%w: %s: register %#x after first lookup", ErrTableSealed, t.name, key))
	}
	if prev, exists := t.entries[key]; exists {
		panic(fmt.Errorf("%w: %s: %#x already bound to %s", ErrDuplicateKey, t.name, key, prev.name))
	}
	t.entries[key] = def
}

// Lookup returns the definition bound to key.
func (t *Table) Lookup(key uint64) (*Definition, bool) {
	if !t.sealed.Load() {
		t.seal()
	}
	def, ok := t.entries[key]
	return def, ok
}

func (t *Table) seal() {
	t.mu.Lock()
	t.sealed.Store(true)
	t.mu.Unlock()
}

// Keys returns the bound keys in ascending order.
func (t *Table) Keys() []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := make([]uint64, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Register adds def to the process-wide registry of named definitions.
func Register(def *Definition) error {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := definitions[def.name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateDef, def.name)
	}
	definitions[def.name] = def
	return nil
}

// MustRegister is Register for init functions.
func MustRegister(defs ...*Definition) {
	for _, def := range defs {
		if err := Register(def); err != nil {
			panic(err)
		}
	}
}

// Lookup returns a registered definition by name.
func Lookup(name string) (*Definition, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	def, ok := definitions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDefinitionMissing, name)
	}
	return def, nil
}

// Definitions lists registered definitions sorted by name.
func Definitions() []*Definition {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]*Definition, 0, len(definitions))
	for _, def := range definitions {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Tables lists registered tables sorted by name.
func Tables() []*Table {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]*Table, 0, len(tables))
	for _, t := range tables {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}
