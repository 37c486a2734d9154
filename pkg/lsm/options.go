package lsm

import "github.com/coldfront/lsmkv/pkg/logging"

// Options configures an LSM tree, grounded on the teacher's
// Options/DefaultOptions(dir) pattern (pkg/lsm.DefaultLSMOptions).
type Options struct {
	// Dir is the LSM's directory (holds one subdirectory per unit).
	Dir string
	// Logger receives unit-skip, compaction, and SI-creation progress
	// messages. Defaults to logging.NopLogger if nil.
	Logger logging.Logger
}

// DefaultOptions returns zero-value-safe defaults for an LSM rooted at dir.
func DefaultOptions(dir string) Options {
	return Options{
		Dir:    dir,
		Logger: logging.NewNopLogger(),
	}
}
