package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/loomhq/loom/internal/cache"
	"github.com/loomhq/loom/internal/storage"
)

// Dispatcher executes one step. The orchestrator resolves references and
// manages connection lifetime; everything else about a step's semantics
// lives behind this interface.
type Dispatcher interface {
	Dispatch(ctx context.Context, step Step, rc *RunContext) (any, error)
}

// Directive is an error callback's instruction to the orchestrator.
type Directive int

const (
	// DirectiveAbort propagates the step error and rolls back the run.
	DirectiveAbort Directive = iota
	// DirectiveContinue absorbs the step error; the step registers a nil
	// value and the run proceeds.
	DirectiveContinue
)

// StepCallback observes each successful step.
type StepCallback func(step Step, value any)

// ErrorCallback observes a failed step and decides whether the run
// continues.
type ErrorCallback func(step Step, err error) Directive

// RunContext is the explicit per-run state threaded through every dispatch.
// It replaces any ambient session singleton: constructors receive it by
// reference and nothing global exists.
type RunContext struct {
	// Token identifies this run; connection-tier entries opened by the run
	// carry it as their owner.
	Token string

	// Values carries caller-supplied context for dispatchers.
	Values map[string]any

	// Logger is scoped to the run.
	Logger *slog.Logger

	conns map[string]*storage.Handle
}

// Handle returns the shared storage handle the orchestrator opened for an
// alias earlier in this run, if any.
func (rc *RunContext) Handle(alias string) (*storage.Handle, bool) {
	h, ok := rc.conns[alias]
	return h, ok
}

// State is the orchestrator's run lifecycle phase.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateCommitting
	StateRollingBack
	StateClosed
)

// String returns the state's name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCommitting:
		return "committing"
	case StateRollingBack:
		return "rolling_back"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Runner executes workflows. One runner may serve many concurrent runs;
// each run owns its own registry and connection-tier entries.
type Runner struct {
	cache      *cache.Cache
	adapter    *storage.Adapter
	dispatcher Dispatcher
	configs    map[string]storage.Config
	tokens     TokenGenerator
	logger     *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithTokenGenerator overrides the run token generator (for tests).
func WithTokenGenerator(g TokenGenerator) RunnerOption {
	return func(r *Runner) { r.tokens = g }
}

// WithLogger sets the runner's logger.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger }
}

// NewRunner creates a runner. configs maps storage aliases to their open
// configuration; aliases referenced by shared steps must appear in it.
func NewRunner(c *cache.Cache, adapter *storage.Adapter, dispatcher Dispatcher, configs map[string]storage.Config, opts ...RunnerOption) *Runner {
	r := &Runner{
		cache:      c,
		adapter:    adapter,
		dispatcher: dispatcher,
		configs:    configs,
		tokens:     UUIDv7Generator{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// runConfig is the per-run option set.
type runConfig struct {
	transaction    bool
	transactionSet bool
	startAt        string
	values         map[string]any
	onStep         StepCallback
	onError        ErrorCallback
}

// RunOption configures one run.
type RunOption func(*runConfig)

// WithTransaction arms or disarms transactional mode, overriding the
// workflow's _transaction meta entry.
func WithTransaction(on bool) RunOption {
	return func(c *runConfig) { c.transaction = on; c.transactionSet = true }
}

// WithStartAt resumes execution at the named step, skipping (without
// executing or registering) everything before it. Resumption supports an
// interrupted navigation only — a failed transaction is always rolled back
// in full and never partially resumed.
func WithStartAt(name string) RunOption {
	return func(c *runConfig) { c.startAt = name }
}

// WithValues supplies caller context values visible to dispatchers.
func WithValues(values map[string]any) RunOption {
	return func(c *runConfig) { c.values = values }
}

// WithOnStep registers a callback invoked after each successful step.
func WithOnStep(cb StepCallback) RunOption {
	return func(c *runConfig) { c.onStep = cb }
}

// WithOnError registers a callback invoked when a step fails. Returning
// DirectiveContinue absorbs the error and the run proceeds non-fatally.
func WithOnError(cb ErrorCallback) RunOption {
	return func(c *runConfig) { c.onError = cb }
}

// Run executes the workflow's steps in declared order and returns the run's
// result registry.
//
// When transactional mode is armed (via option or the _transaction meta
// entry), the first step referencing each shared storage alias opens a
// handle and issues BEGIN; later steps reuse the identical handle with no
// second BEGIN. A run that completes commits every alias it opened; an
// unhandled error rolls all of them back. Either way the run's
// connection-tier entries are released before Run returns, so an abandoned
// open connection cannot outlive its run — including when ctx expires
// mid-transaction.
func (r *Runner) Run(ctx context.Context, wf *Workflow, opts ...RunOption) (*Registry, error) {
	if r.dispatcher == nil {
		return nil, &RunError{Code: ErrCodeInit, Message: "no dispatcher configured"}
	}
	if wf == nil || wf.Len() == 0 {
		return nil, &RunError{Code: ErrCodeInvalidWorkflow, Message: "empty workflow"}
	}

	cfg := runConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	meta, steps := wf.partition()
	if err := applyMeta(meta, &cfg); err != nil {
		return nil, err
	}
	if cfg.startAt != "" && !hasStep(steps, cfg.startAt) {
		return nil, &RunError{
			Code:    ErrCodeInvalidWorkflow,
			Message: fmt.Sprintf("start-at step %q not in workflow", cfg.startAt),
		}
	}

	token := r.tokens.Generate()
	logger := r.logger.With("run", token)
	rc := &RunContext{
		Token:  token,
		Values: cfg.values,
		Logger: logger,
		conns:  make(map[string]*storage.Handle),
	}

	run := &activeRun{
		runner:      r,
		cfg:         cfg,
		token:       token,
		logger:      logger,
		registry:    NewRegistry(),
		connections: r.cache.Connections(),
	}
	run.transition(StateIdle, StateRunning)

	skipping := cfg.startAt != ""
	for _, step := range steps {
		if skipping {
			if step.Name != cfg.startAt {
				logger.Debug("skipping step before resume point", "step", step.Name)
				continue
			}
			skipping = false
		}

		if err := ctx.Err(); err != nil {
			return nil, run.fail(&RunError{
				Code:     ErrCodeCancelled,
				Message:  "run cancelled between steps",
				Step:     step.Name,
				RunToken: token,
				Err:      err,
			})
		}

		resolved := Step{
			Name:       step.Name,
			Descriptor: resolveDescriptor(step.Descriptor, run.registry),
		}

		if sd, ok := resolved.Descriptor.(StorageDescriptor); ok {
			alias, shared := sd.Storage()
			if shared && cfg.transaction {
				entry, err := run.ensureConn(ctx, alias)
				if err != nil {
					return nil, run.fail(err)
				}
				rc.conns[alias] = entry.Handle
			}
		}

		value, err := r.dispatcher.Dispatch(ctx, resolved, rc)
		if err != nil {
			if cfg.onError != nil && cfg.onError(resolved, err) == DirectiveContinue {
				logger.Warn("step error absorbed by callback", "step", step.Name, "error", err)
				run.registry.Append(step.Name, nil)
				continue
			}
			return nil, run.fail(&RunError{
				Code:     ErrCodeStepFailed,
				Message:  "dispatch failed",
				Step:     step.Name,
				RunToken: token,
				Err:      err,
			})
		}

		run.registry.Append(step.Name, value)
		logger.Debug("step complete", "step", step.Name, "index", run.registry.Len()-1)
		if cfg.onStep != nil {
			cfg.onStep(resolved, value)
		}
	}

	if err := run.commit(); err != nil {
		return nil, err
	}
	return run.registry, nil
}

// applyMeta folds the workflow's meta-configuration into the run config.
// Run options win over meta entries. Unknown meta keys are rejected rather
// than ignored; a typo in "_transaction" must not silently disarm the run.
func applyMeta(meta map[string]Descriptor, cfg *runConfig) error {
	for name := range meta {
		switch name {
		case MetaTransaction, MetaStartAt:
		default:
			return &RunError{Code: ErrCodeInvalidWorkflow, Message: fmt.Sprintf("unknown meta entry %q", name)}
		}
	}
	if desc, ok := meta[MetaTransaction]; ok && !cfg.transactionSet {
		md, ok := desc.(MetaDescriptor)
		if !ok {
			return &RunError{Code: ErrCodeInvalidWorkflow, Message: "_transaction must be a meta value"}
		}
		on, err := strconv.ParseBool(md.Value)
		if err != nil {
			return &RunError{Code: ErrCodeInvalidWorkflow, Message: fmt.Sprintf("invalid _transaction value %q", md.Value)}
		}
		cfg.transaction = on
	}
	if desc, ok := meta[MetaStartAt]; ok && cfg.startAt == "" {
		md, ok := desc.(MetaDescriptor)
		if !ok {
			return &RunError{Code: ErrCodeInvalidWorkflow, Message: "_start_at must be a meta value"}
		}
		cfg.startAt = md.Value
	}
	return nil
}

func hasStep(steps []Step, name string) bool {
	for _, s := range steps {
		if s.Name == name {
			return true
		}
	}
	return false
}

// resolveDescriptor renders every string field of the descriptor against
// the registry. Fields without references come back untouched.
func resolveDescriptor(desc Descriptor, reg *Registry) Descriptor {
	return desc.resolve(func(s string) string {
		tpl := ParseTemplate(s)
		if !tpl.HasRefs() {
			return s
		}
		return tpl.Render(reg)
	})
}

// activeRun tracks one run's mutable state: its phase, its registry, and
// the connection-tier entries it opened.
type activeRun struct {
	runner      *Runner
	cfg         runConfig
	token       string
	logger      *slog.Logger
	registry    *Registry
	connections *cache.ConnTier
	state       State
	opened      []*cache.ConnEntry
}

func (a *activeRun) transition(from, to State) {
	a.state = to
	a.logger.Debug("run state", "from", from.String(), "to", to.String())
}

// ensureConn fetches the existing connection-tier entry for alias or opens
// one (issuing BEGIN) if absent. Reuse never issues a second BEGIN.
func (a *activeRun) ensureConn(ctx context.Context, alias string) (*cache.ConnEntry, error) {
	entry, err := a.connections.Acquire(alias, a.token)
	if err != nil {
		return nil, &RunError{
			Code:     ErrCodeConnOpen,
			Message:  "alias unavailable",
			RunToken: a.token,
			Err:      err,
		}
	}
	if entry != nil {
		return entry, nil
	}

	cfg, ok := a.runner.configs[alias]
	if !ok {
		return nil, &RunError{
			Code:     ErrCodeInit,
			Message:  fmt.Sprintf("no storage configured for alias %q", alias),
			RunToken: a.token,
		}
	}

	handle, err := a.runner.adapter.Open(alias, cfg)
	if err != nil {
		return nil, &RunError{Code: ErrCodeConnOpen, Message: "open failed", RunToken: a.token, Err: err}
	}
	if err := handle.Begin(ctx); err != nil {
		if closeErr := handle.Close(); closeErr != nil {
			a.logger.Error("closing handle after failed begin", "alias", alias, "error", closeErr)
		}
		return nil, &RunError{Code: ErrCodeConnOpen, Message: "begin failed", RunToken: a.token, Err: err}
	}

	entry = &cache.ConnEntry{
		Alias:    alias,
		Handle:   handle,
		TxActive: true,
		OpenedAt: time.Now(),
		Owner:    a.token,
	}
	if err := a.connections.Register(entry); err != nil {
		if closeErr := handle.Close(); closeErr != nil {
			a.logger.Error("closing handle after lost registration", "alias", alias, "error", closeErr)
		}
		return nil, &RunError{Code: ErrCodeConnOpen, Message: "register failed", RunToken: a.token, Err: err}
	}

	a.opened = append(a.opened, entry)
	a.logger.Debug("connection opened", "alias", alias)
	return entry, nil
}

// commit commits every alias opened this run, then unconditionally releases
// the run's connection-tier entries. Individual commit failures are logged
// and do not block cleanup of the other aliases; if any occurred the run
// still ends in error.
func (a *activeRun) commit() error {
	var failed []string
	if a.cfg.transaction && len(a.opened) > 0 {
		a.transition(StateRunning, StateCommitting)
		for _, entry := range a.opened {
			if err := entry.Handle.Commit(); err != nil {
				a.logger.Error("commit failed", "alias", entry.Alias, "error", err)
				failed = append(failed, entry.Alias)
				continue
			}
			entry.TxActive = false
		}
	}

	a.connections.ReleaseOwned(a.token)
	a.transition(a.state, StateClosed)

	if len(failed) > 0 {
		return &RunError{
			Code:     ErrCodeCommitFailed,
			Message:  fmt.Sprintf("commit failed for aliases %v", failed),
			RunToken: a.token,
		}
	}
	return nil
}

// fail rolls back every alias opened this run, releases the run's
// connection-tier entries, and returns err as the run's terminal error.
// Rollback failures are logged, never raised, so cleanup always completes.
func (a *activeRun) fail(err error) error {
	if a.cfg.transaction && len(a.opened) > 0 {
		a.transition(a.state, StateRollingBack)
		for _, entry := range a.opened {
			if rbErr := entry.Handle.Rollback(); rbErr != nil {
				a.logger.Error("rollback failed", "alias", entry.Alias, "error", rbErr)
				continue
			}
			entry.TxActive = false
		}
	}

	a.connections.ReleaseOwned(a.token)
	a.transition(a.state, StateClosed)
	return err
}
