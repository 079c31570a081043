package artifact

import (
	"log/slog"

	"github.com/loomhq/loom/internal/cache"
)

// Loader reads artifacts through the system cache tier.
//
// Load stats the source first and passes the current mtime as the freshness
// hint, so an artifact edited on disk misses, drops the stale entry, and is
// re-read. Pin additionally promotes an artifact into the pinned tier under a
// logical alias.
type Loader struct {
	resolver *Resolver
	store    *Store
	cache    *cache.Cache
	logger   *slog.Logger
}

// NewLoader creates a loader over the given resolver and cache. A nil logger
// falls back to slog.Default().
func NewLoader(resolver *Resolver, c *cache.Cache, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{resolver: resolver, store: NewStore(), cache: c, logger: logger}
}

// Load returns the artifact at a logical path, served from the system cache
// tier while the on-disk mtime still matches the cached entry.
func (l *Loader) Load(logical string) (*Blob, error) {
	abs, _, err := l.resolver.Resolve(logical)
	if err != nil {
		return nil, err
	}
	mtime, err := l.store.Stat(abs)
	if err != nil {
		return nil, err
	}

	v, ok, err := l.cache.Get(cache.TierSystem, abs, mtime)
	if err != nil {
		return nil, err
	}
	if ok {
		if blob, isBlob := v.(*Blob); isBlob {
			return blob, nil
		}
	}

	blob, err := l.store.Read(abs)
	if err != nil {
		return nil, err
	}
	if err := l.cache.Set(cache.TierSystem, abs, blob, blob.ModTime); err != nil {
		return nil, err
	}
	l.logger.Debug("artifact loaded", "path", abs, "kind", blob.Kind, "bytes", len(blob.Data))
	return blob, nil
}

// Pin loads an artifact and pins it under alias with its origin metadata.
func (l *Loader) Pin(alias, logical string) (*Blob, error) {
	blob, err := l.Load(logical)
	if err != nil {
		return nil, err
	}
	l.cache.Pin(alias, blob, blob.Path, string(blob.Kind))
	return blob, nil
}
