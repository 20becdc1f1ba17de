package hgbridge

import (
	"errors"
	"fmt"
	"log/slog"
)

// DefaultMetadataRef is the ref whose commit ties the mapping notes trees
// together.
const DefaultMetadataRef = "refs/cinnabar/metadata"

const (
	defaultObjectCacheSize = 1 << 14
	defaultMaxDeltaDepth   = 50
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config describes how a Bridge opens its repository.
type Config struct {
	// GitDir is the path to the .git directory (or a bare repository).
	GitDir string

	// MetadataRef names the metadata commit. Defaults to DefaultMetadataRef.
	MetadataRef string

	// VerifyChangesets rehashes every reconstructed changeset that was not
	// confirmed while stripping padding and logs a warning on mismatch.
	VerifyChangesets bool

	// ObjectCacheSize bounds the number of inflated pack objects kept in
	// memory.
	ObjectCacheSize int

	// MaxDeltaDepth bounds delta chains followed in a pack.
	MaxDeltaDepth int

	// VerifyCRC checks the idx CRC-32 of every pack entry read.
	VerifyCRC bool
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		MetadataRef:     DefaultMetadataRef,
		ObjectCacheSize: defaultObjectCacheSize,
		MaxDeltaDepth:   defaultMaxDeltaDepth,
	}
}

// Validate reports the first problem with c.
func (c Config) Validate() error {
	switch {
	case c.GitDir == "":
		return fmt.Errorf("%w: git dir is empty", ErrInvalidConfig)
	case c.MetadataRef == "":
		return fmt.Errorf("%w: metadata ref is empty", ErrInvalidConfig)
	case c.ObjectCacheSize <= 0:
		return fmt.Errorf("%w: object cache size %d", ErrInvalidConfig, c.ObjectCacheSize)
	case c.MaxDeltaDepth <= 0:
		return fmt.Errorf("%w: max delta depth %d", ErrInvalidConfig, c.MaxDeltaDepth)
	}
	return nil
}

// Option configures the components built by Open and the constructors that
// accept options.
type Option func(*options)

type options struct {
	logger           *slog.Logger
	metrics          *Metrics
	verifyChangesets bool
}

// WithLogger routes component logs to l. Without it logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics records counters into m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithChangesetVerification toggles the final rehash of unconfirmed
// changesets.
func WithChangesetVerification(on bool) Option {
	return func(o *options) { o.verifyChangesets = on }
}

func applyOptions(opts []Option) options {
	o := options{logger: discardLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
