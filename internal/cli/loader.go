package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/loomhq/loom/internal/artifact"
	"github.com/loomhq/loom/internal/cache"
	"github.com/loomhq/loom/internal/storage"
	"github.com/loomhq/loom/internal/workflow"
)

// Error codes for workflow file loading.
const (
	ErrCodeNotFound = "E_NOT_FOUND"
	ErrCodeParse    = "E_PARSE"
	ErrCodeInvalid  = "E_INVALID"
)

// LoadError represents an error that occurred during workflow loading.
type LoadError struct {
	Code    string
	Path    string
	Message string
}

func (e *LoadError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %s", e.Path, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WorkflowFile is the on-disk yaml shape of a workflow. The file format
// belongs to this CLI layer; the core only ever sees workflow.Workflow
// values and storage configs.
type WorkflowFile struct {
	// Transaction arms transactional mode for the run.
	Transaction bool `yaml:"transaction,omitempty"`

	// StartAt resumes execution at the named step.
	StartAt string `yaml:"start_at,omitempty"`

	// Roots are artifact search roots for statement_from steps. Relative
	// roots resolve against the workflow file's directory, which is also the
	// default when none are given.
	Roots []string `yaml:"roots,omitempty"`

	// Storage maps logical aliases to their open configuration.
	Storage map[string]storage.Config `yaml:"storage,omitempty"`

	// Steps execute in file order.
	Steps []StepEntry `yaml:"steps"`

	path string // source file, recorded by ParseWorkflowFile
}

// StepEntry is one yaml step. Kind selects the descriptor variant; the
// remaining fields are variant-specific. Exec/query steps carry their SQL
// either inline (statement) or as a logical artifact path (statement_from).
type StepEntry struct {
	Name          string            `yaml:"name"`
	Kind          string            `yaml:"kind"`
	Alias         string            `yaml:"alias,omitempty"`
	Share         bool              `yaml:"share,omitempty"`
	Statement     string            `yaml:"statement,omitempty"`
	StatementFrom string            `yaml:"statement_from,omitempty"`
	Args          []string          `yaml:"args,omitempty"`
	Text          string            `yaml:"text,omitempty"`
	Target        string            `yaml:"target,omitempty"`
	CallArgs      map[string]string `yaml:"call_args,omitempty"`
}

// ParseWorkflowFile reads and statically validates a yaml workflow file.
// Statement bodies referenced via statement_from are not read here; that
// happens in BuildWorkflow through the run's artifact loader.
func ParseWorkflowFile(path string) (*WorkflowFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &LoadError{Code: ErrCodeNotFound, Path: path, Message: "no such file"}
		}
		return nil, &LoadError{Code: ErrCodeParse, Path: path, Message: err.Error()}
	}

	var file WorkflowFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, &LoadError{Code: ErrCodeParse, Path: path, Message: err.Error()}
	}
	if len(file.Steps) == 0 {
		return nil, &LoadError{Code: ErrCodeInvalid, Path: path, Message: "workflow has no steps"}
	}

	for i, entry := range file.Steps {
		if err := validateStep(entry); err != nil {
			return nil, &LoadError{
				Code:    ErrCodeInvalid,
				Path:    path,
				Message: fmt.Sprintf("step %d (%q): %v", i, entry.Name, err),
			}
		}
	}

	// Every storage step's alias must be configured up front; a missing
	// alias is an initialization error, better caught before the run starts.
	for _, entry := range file.Steps {
		switch workflow.Kind(entry.Kind) {
		case workflow.KindExec, workflow.KindQuery:
			if _, ok := file.Storage[entry.Alias]; !ok {
				return nil, &LoadError{
					Code:    ErrCodeInvalid,
					Path:    path,
					Message: fmt.Sprintf("step %q references unconfigured alias %q", entry.Name, entry.Alias),
				}
			}
		}
	}

	file.path = path
	return &file, nil
}

func validateStep(entry StepEntry) error {
	if entry.Name == "" {
		return fmt.Errorf("step name is required")
	}
	switch workflow.Kind(entry.Kind) {
	case workflow.KindExec, workflow.KindQuery:
		if entry.Alias == "" || (entry.Statement == "" && entry.StatementFrom == "") {
			return fmt.Errorf("%s steps require alias and statement or statement_from", entry.Kind)
		}
		if entry.Statement != "" && entry.StatementFrom != "" {
			return fmt.Errorf("statement and statement_from are mutually exclusive")
		}
	case workflow.KindMessage:
	case workflow.KindCall:
		if entry.Target == "" {
			return fmt.Errorf("call steps require a target")
		}
	default:
		return fmt.Errorf("unknown step kind %q", entry.Kind)
	}
	return nil
}

// ArtifactLoader builds the cache-backed artifact loader for a parsed file,
// so statement_from reads land in the same system tier the run reports on.
func ArtifactLoader(file *WorkflowFile, c *cache.Cache, logger *slog.Logger) (*artifact.Loader, error) {
	dir := filepath.Dir(file.path)
	roots := file.Roots
	if len(roots) == 0 {
		roots = []string{dir}
	}
	abs := make([]string, len(roots))
	for i, r := range roots {
		if filepath.IsAbs(r) {
			abs[i] = r
		} else {
			abs[i] = filepath.Join(dir, r)
		}
	}
	resolver, err := artifact.NewResolver(abs...)
	if err != nil {
		return nil, err
	}
	return artifact.NewLoader(resolver, c, logger), nil
}

// BuildWorkflow materializes the ordered workflow from a parsed file, reading
// statement_from bodies through the loader.
func BuildWorkflow(file *WorkflowFile, loader *artifact.Loader) (*workflow.Workflow, error) {
	wf := workflow.NewWorkflow()
	for i, entry := range file.Steps {
		desc, err := descriptorFor(entry, loader)
		if err != nil {
			return nil, &LoadError{
				Code:    ErrCodeInvalid,
				Path:    file.path,
				Message: fmt.Sprintf("step %d (%q): %v", i, entry.Name, err),
			}
		}
		if err := wf.Add(entry.Name, desc); err != nil {
			return nil, &LoadError{
				Code:    ErrCodeInvalid,
				Path:    file.path,
				Message: fmt.Sprintf("step %d: %v", i, err),
			}
		}
	}
	return wf, nil
}

// LoadWorkflow parses a workflow file and builds it with a loader over the
// file's own roots. Commands that share a cache with the run (run, stats) use
// ParseWorkflowFile and BuildWorkflow directly instead.
func LoadWorkflow(path string) (*workflow.Workflow, *WorkflowFile, error) {
	file, err := ParseWorkflowFile(path)
	if err != nil {
		return nil, nil, err
	}
	loader, err := ArtifactLoader(file, cache.New(cache.DefaultCapacity, nil), nil)
	if err != nil {
		return nil, nil, err
	}
	wf, err := BuildWorkflow(file, loader)
	if err != nil {
		return nil, nil, err
	}
	return wf, file, nil
}

// descriptorFor builds the typed descriptor for one yaml step entry.
func descriptorFor(entry StepEntry, loader *artifact.Loader) (workflow.Descriptor, error) {
	stmt := entry.Statement
	if entry.StatementFrom != "" {
		blob, err := loader.Load(entry.StatementFrom)
		if err != nil {
			return nil, err
		}
		stmt = strings.TrimSpace(string(blob.Data))
	}

	switch workflow.Kind(entry.Kind) {
	case workflow.KindExec:
		return workflow.ExecDescriptor{
			Alias:     entry.Alias,
			Share:     entry.Share,
			Statement: stmt,
			Args:      entry.Args,
		}, nil
	case workflow.KindQuery:
		return workflow.QueryDescriptor{
			Alias:     entry.Alias,
			Share:     entry.Share,
			Statement: stmt,
			Args:      entry.Args,
		}, nil
	case workflow.KindMessage:
		return workflow.MessageDescriptor{Text: entry.Text}, nil
	case workflow.KindCall:
		return workflow.CallDescriptor{Target: entry.Target, Args: entry.CallArgs}, nil
	default:
		return nil, fmt.Errorf("unknown step kind %q", entry.Kind)
	}
}
