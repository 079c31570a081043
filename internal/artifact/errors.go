package artifact

import "fmt"

// Error codes for artifact loading.
const (
	ErrCodeNotFound = "ARTIFACT_NOT_FOUND"
	ErrCodeNoRoots  = "NO_SEARCH_ROOTS"
	ErrCodeBadRoot  = "BAD_SEARCH_ROOT"
	ErrCodeIO       = "ARTIFACT_IO"
)

// LoadError describes a failure to resolve or read an artifact.
type LoadError struct {
	Code    string
	Path    string
	Message string
}

func (e *LoadError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Path, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
