// Package artifact loads raw resource bytes from disk.
//
// The resolver maps a logical path (as referenced by definitions) to an
// absolute path under configured search roots; the store reads the bytes
// together with the modification time the system cache tier uses as its
// freshness hint. Both are stateless leaves — caching happens above them.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Kind classifies a resolved artifact by what the runtime will parse it as.
type Kind string

const (
	KindConfig  Kind = "config"  // .yaml / .yml
	KindSchema  Kind = "schema"  // .sql
	KindData    Kind = "data"    // .json
	KindUnknown Kind = "unknown" // anything else
)

// kindOf infers the artifact kind from a path's extension.
func kindOf(path string) Kind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return KindConfig
	case ".sql":
		return KindSchema
	case ".json":
		return KindData
	default:
		return KindUnknown
	}
}

// Blob is one artifact read from disk.
//
// ModTime is the freshness hint recorded by the system cache tier at set
// time and compared on get. Digest is an xxhash64 of the content for callers
// that need validation stronger than mtime equality; the cache contract
// itself stays mtime-based.
type Blob struct {
	Path    string
	Kind    Kind
	Data    []byte
	ModTime time.Time
	Digest  uint64
}

// Resolver maps logical paths to absolute paths under ordered search roots.
type Resolver struct {
	roots []string
}

// NewResolver creates a resolver over the given search roots, consulted in
// order. At least one root is required.
func NewResolver(roots ...string) (*Resolver, error) {
	if len(roots) == 0 {
		return nil, &LoadError{Code: ErrCodeNoRoots, Message: "at least one search root is required"}
	}
	abs := make([]string, len(roots))
	for i, r := range roots {
		a, err := filepath.Abs(r)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeBadRoot, Path: r, Message: err.Error()}
		}
		abs[i] = a
	}
	return &Resolver{roots: abs}, nil
}

// Resolve returns the absolute path and kind for a logical path.
//
// The logical path may carry its own extension; otherwise each root is
// probed with the known extensions in kind order. The first root containing
// the artifact wins.
func (r *Resolver) Resolve(logical string) (string, Kind, error) {
	candidates := []string{logical}
	if filepath.Ext(logical) == "" {
		candidates = []string{logical + ".yaml", logical + ".yml", logical + ".sql", logical + ".json"}
	}
	for _, root := range r.roots {
		for _, c := range candidates {
			abs := filepath.Join(root, c)
			if info, err := os.Stat(abs); err == nil && !info.IsDir() {
				return abs, kindOf(abs), nil
			}
		}
	}
	return "", KindUnknown, &LoadError{
		Code:    ErrCodeNotFound,
		Path:    logical,
		Message: fmt.Sprintf("not found under %d root(s)", len(r.roots)),
	}
}

// Store reads artifact bytes. Stateless; safe for concurrent use.
type Store struct{}

// NewStore creates an artifact store.
func NewStore() *Store {
	return &Store{}
}

// Read loads the artifact at an absolute path.
//
// The returned ModTime has whatever resolution the host filesystem reports;
// freshness comparison upstream is exact equality at that resolution.
func (s *Store) Read(abs string) (*Blob, error) {
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &LoadError{Code: ErrCodeNotFound, Path: abs, Message: "no such file"}
		}
		return nil, &LoadError{Code: ErrCodeIO, Path: abs, Message: err.Error()}
	}
	if info.IsDir() {
		return nil, &LoadError{Code: ErrCodeIO, Path: abs, Message: "is a directory"}
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeIO, Path: abs, Message: err.Error()}
	}

	return &Blob{
		Path:    abs,
		Kind:    kindOf(abs),
		Data:    data,
		ModTime: info.ModTime(),
		Digest:  xxhash.Sum64(data),
	}, nil
}

// Stat returns just the current modification time for an absolute path.
// The system cache tier uses this as the freshness hint on get.
func (s *Store) Stat(abs string) (time.Time, error) {
	info, err := os.Stat(abs)
	if err != nil {
		return time.Time{}, &LoadError{Code: ErrCodeNotFound, Path: abs, Message: err.Error()}
	}
	return info.ModTime(), nil
}
