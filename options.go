package sevenz

import "log/slog"

// DefaultMaxFolderSize is the default limit on the declared size of a
// single folder's decoded output.
const DefaultMaxFolderSize = 1 << 30

// Option configures an Archive.
type Option func(*Archive)

// WithLogger sets the logger for archive operations.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Archive) {
		a.logger = logger
	}
}

// WithWorkers sets the number of folders decoded concurrently by All,
// Records and Extract.
// Values < 0 force serial decoding. Zero uses automatic heuristics.
// Values > 0 force a specific worker count.
func WithWorkers(n int) Option {
	return func(a *Archive) {
		a.workers = n
	}
}

// WithMemoryBudget caps the decoded bytes held by folders that are in
// flight during parallel decoding. A folder larger than the budget is
// decoded alone. Zero disables the cap.
func WithMemoryBudget(limit uint64) Option {
	return func(a *Archive) {
		a.memoryBudget = limit
	}
}

// WithFolderCache keeps the decoded output of up to n folders in an LRU
// cache used by ReadFile and Open. Zero or negative disables the cache.
func WithFolderCache(n int) Option {
	return func(a *Archive) {
		a.cacheFolders = n
	}
}

// WithMaxFolderSize limits the declared decoded size of any folder,
// including an encoded header. Folders declaring more fail with
// ErrSizeOverflow before decoding starts.
// Set limit to 0 to disable the limit. Default: DefaultMaxFolderSize.
func WithMaxFolderSize(limit uint64) Option {
	return func(a *Archive) {
		a.maxFolderSize = limit
	}
}

// WithMaxDecoderMemory limits the memory used by each zstd decoder.
// Set limit to 0 to disable the limit.
func WithMaxDecoderMemory(limit uint64) Option {
	return func(a *Archive) {
		a.maxDecoderMemory = limit
	}
}

// ExtractOption configures Extract.
type ExtractOption func(*extractConfig)

type extractConfig struct {
	overwrite     bool
	preserveMode  bool
	preserveTimes bool
	directWrites  bool
}

// ExtractWithOverwrite allows overwriting existing files.
// By default, existing files are skipped.
func ExtractWithOverwrite(overwrite bool) ExtractOption {
	return func(c *extractConfig) {
		c.overwrite = overwrite
	}
}

// ExtractWithPreserveMode applies the permission bits recorded in the
// archive. By default, files use the sink's defaults.
func ExtractWithPreserveMode(preserve bool) ExtractOption {
	return func(c *extractConfig) {
		c.preserveMode = preserve
	}
}

// ExtractWithPreserveTimes applies the modification times recorded in the
// archive. By default, files use the current time.
func ExtractWithPreserveTimes(preserve bool) ExtractOption {
	return func(c *extractConfig) {
		c.preserveTimes = preserve
	}
}

// ExtractWithDirectWrites writes files in place instead of through a
// temporary file renamed on completion. Faster, but a failed write can
// leave a partial file behind.
func ExtractWithDirectWrites(enabled bool) ExtractOption {
	return func(c *extractConfig) {
		c.directWrites = enabled
	}
}
