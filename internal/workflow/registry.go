package workflow

// Registry is the append-only, order-preserving container of step outputs
// for one run. Entries are addressable three ways — positional index, step
// name, and field access on the value — and all three resolve to the
// identical value.
//
// A registry is owned exclusively by one run. The orchestrator is its sole
// writer; callers receive it read-only as the result of Run.
type Registry struct {
	entries []RegistryEntry
	byName  map[string]int
}

// RegistryEntry is one step output.
type RegistryEntry struct {
	Index int
	Name  string
	Value any
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]int)}
}

// Append records a step output. Returns the assigned index.
func (r *Registry) Append(name string, value any) int {
	idx := len(r.entries)
	r.entries = append(r.entries, RegistryEntry{Index: idx, Name: name, Value: value})
	r.byName[name] = idx
	return idx
}

// Len returns the number of recorded outputs.
func (r *Registry) Len() int {
	return len(r.entries)
}

// At returns the value at a positional index.
func (r *Registry) At(i int) (any, bool) {
	if i < 0 || i >= len(r.entries) {
		return nil, false
	}
	return r.entries[i].Value, true
}

// Named returns the value recorded under a step name.
func (r *Registry) Named(name string) (any, bool) {
	idx, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return r.entries[idx].Value, true
}

// NameAt returns the step name at a positional index.
func (r *Registry) NameAt(i int) (string, bool) {
	if i < 0 || i >= len(r.entries) {
		return "", false
	}
	return r.entries[i].Name, true
}

// Entries returns all recorded outputs in append order.
func (r *Registry) Entries() []RegistryEntry {
	out := make([]RegistryEntry, len(r.entries))
	copy(out, r.entries)
	return out
}
