// Package dispatch provides the production step dispatcher.
//
// The orchestrator is deliberately ignorant of step semantics; this package
// is where descriptor variants acquire behavior. Exec and query steps run
// SQL against storage handles, message steps return their rendered text,
// and call steps delegate to registered functions.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loomhq/loom/internal/storage"
	"github.com/loomhq/loom/internal/workflow"
)

// CallFunc is a registered target for call steps.
type CallFunc func(ctx context.Context, args map[string]string, rc *workflow.RunContext) (any, error)

// SQLDispatcher executes steps against SQLite storage.
//
// Shared storage steps use the handle the orchestrator opened in the run's
// connection tier; non-shared ones get an ephemeral handle opened and
// closed within the step. Call targets are looked up in Calls.
type SQLDispatcher struct {
	adapter *storage.Adapter
	configs map[string]storage.Config
	calls   map[string]CallFunc
	logger  *slog.Logger
}

// New creates a dispatcher. configs maps storage aliases to their open
// configuration for ephemeral (non-shared) steps.
func New(adapter *storage.Adapter, configs map[string]storage.Config, logger *slog.Logger) *SQLDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLDispatcher{
		adapter: adapter,
		configs: configs,
		calls:   make(map[string]CallFunc),
		logger:  logger,
	}
}

// RegisterCall makes a call target available to call steps.
func (d *SQLDispatcher) RegisterCall(target string, fn CallFunc) {
	d.calls[target] = fn
}

// Dispatch executes one resolved step and returns its value.
func (d *SQLDispatcher) Dispatch(ctx context.Context, step workflow.Step, rc *workflow.RunContext) (any, error) {
	switch desc := step.Descriptor.(type) {
	case workflow.ExecDescriptor:
		return d.exec(ctx, step.Name, desc, rc)
	case workflow.QueryDescriptor:
		return d.query(ctx, step.Name, desc, rc)
	case workflow.MessageDescriptor:
		return desc.Text, nil
	case workflow.CallDescriptor:
		fn, ok := d.calls[desc.Target]
		if !ok {
			return nil, fmt.Errorf("dispatch %q: no call target %q registered", step.Name, desc.Target)
		}
		return fn(ctx, desc.Args, rc)
	default:
		return nil, fmt.Errorf("dispatch %q: unknown step kind %q", step.Name, step.Descriptor.Kind())
	}
}

func (d *SQLDispatcher) exec(ctx context.Context, name string, desc workflow.ExecDescriptor, rc *workflow.RunContext) (any, error) {
	handle, release, err := d.handleFor(desc.Alias, desc.Share, rc)
	if err != nil {
		return nil, fmt.Errorf("dispatch %q: %w", name, err)
	}
	defer release()

	res, err := handle.Exec(ctx, desc.Statement, anyArgs(desc.Args)...)
	if err != nil {
		return nil, fmt.Errorf("dispatch %q: %w", name, err)
	}
	return res, nil
}

func (d *SQLDispatcher) query(ctx context.Context, name string, desc workflow.QueryDescriptor, rc *workflow.RunContext) (any, error) {
	handle, release, err := d.handleFor(desc.Alias, desc.Share, rc)
	if err != nil {
		return nil, fmt.Errorf("dispatch %q: %w", name, err)
	}
	defer release()

	rows, err := handle.Query(ctx, desc.Statement, anyArgs(desc.Args)...)
	if err != nil {
		return nil, fmt.Errorf("dispatch %q: %w", name, err)
	}
	return rows, nil
}

// handleFor returns the handle a storage step should use and a release func.
// Shared handles belong to the run's connection tier and are released by
// the orchestrator, so release is a no-op; ephemeral handles are closed
// when the step finishes.
func (d *SQLDispatcher) handleFor(alias string, shared bool, rc *workflow.RunContext) (*storage.Handle, func(), error) {
	if h, ok := rc.Handle(alias); ok {
		return h, func() {}, nil
	}
	if shared {
		// Shared marker outside a transactional run: the connection tier is
		// deliberately skipped, so fall through to an ephemeral handle.
		d.logger.Debug("shared alias outside transaction, opening ephemeral handle", "alias", alias)
	}
	cfg, ok := d.configs[alias]
	if !ok {
		return nil, nil, fmt.Errorf("no storage configured for alias %q", alias)
	}
	h, err := d.adapter.Open(alias, cfg)
	if err != nil {
		return nil, nil, err
	}
	release := func() {
		if err := h.Close(); err != nil {
			d.logger.Error("closing ephemeral handle", "alias", alias, "error", err)
		}
	}
	return h, release, nil
}

func anyArgs(args []string) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = a
	}
	return out
}

var _ workflow.Dispatcher = (*SQLDispatcher)(nil)
