package workflow

// Kind identifies a step descriptor variant.
type Kind string

const (
	KindExec    Kind = "exec"    // storage write statement
	KindQuery   Kind = "query"   // storage read statement
	KindMessage Kind = "message" // pure navigation text
	KindCall    Kind = "call"    // opaque external target
	KindMeta    Kind = "meta"    // meta-configuration value
)

// Descriptor is the tagged union of step payloads. Each variant carries a
// strongly typed payload; the orchestrator dispatches on the interface and
// stays ignorant of step semantics beyond interpolation and storage-alias
// bookkeeping.
type Descriptor interface {
	Kind() Kind

	// resolve returns a copy of the descriptor with every interpolatable
	// string field passed through render. Non-string payloads are untouched.
	resolve(render func(string) string) Descriptor
}

// StorageDescriptor is implemented by descriptor variants that reference a
// storage alias. Shared handles participate in the run's transaction via
// the connection cache tier; non-shared ones are ephemeral to the step.
type StorageDescriptor interface {
	Descriptor
	Storage() (alias string, shared bool)
}

// ExecDescriptor runs a write statement against a storage alias.
type ExecDescriptor struct {
	Alias     string
	Share     bool
	Statement string
	Args      []string
}

func (d ExecDescriptor) Kind() Kind { return KindExec }

// Storage implements StorageDescriptor.
func (d ExecDescriptor) Storage() (string, bool) { return d.Alias, d.Share }

func (d ExecDescriptor) resolve(render func(string) string) Descriptor {
	d.Statement = render(d.Statement)
	d.Args = renderAll(d.Args, render)
	return d
}

// QueryDescriptor runs a read statement against a storage alias. The step's
// registered value is the result rows as []map[string]any.
type QueryDescriptor struct {
	Alias     string
	Share     bool
	Statement string
	Args      []string
}

func (d QueryDescriptor) Kind() Kind { return KindQuery }

// Storage implements StorageDescriptor.
func (d QueryDescriptor) Storage() (string, bool) { return d.Alias, d.Share }

func (d QueryDescriptor) resolve(render func(string) string) Descriptor {
	d.Statement = render(d.Statement)
	d.Args = renderAll(d.Args, render)
	return d
}

// MessageDescriptor is a pure navigation step; its registered value is the
// rendered text. Workflows of only message/call steps never touch storage.
type MessageDescriptor struct {
	Text string
}

func (d MessageDescriptor) Kind() Kind { return KindMessage }

func (d MessageDescriptor) resolve(render func(string) string) Descriptor {
	d.Text = render(d.Text)
	return d
}

// CallDescriptor delegates to a named target registered with the dispatcher.
// The orchestrator knows nothing about the target's semantics.
type CallDescriptor struct {
	Target string
	Args   map[string]string
}

func (d CallDescriptor) Kind() Kind { return KindCall }

func (d CallDescriptor) resolve(render func(string) string) Descriptor {
	if len(d.Args) > 0 {
		args := make(map[string]string, len(d.Args))
		for k, v := range d.Args {
			args[k] = render(v)
		}
		d.Args = args
	}
	return d
}

// MetaDescriptor carries a meta-configuration value under a reserved "_"
// name. Never dispatched.
type MetaDescriptor struct {
	Value string
}

func (d MetaDescriptor) Kind() Kind { return KindMeta }

func (d MetaDescriptor) resolve(func(string) string) Descriptor { return d }

func renderAll(in []string, render func(string) string) []string {
	if len(in) == 0 {
		return in
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = render(s)
	}
	return out
}
