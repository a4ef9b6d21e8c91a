// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package evtx

// OutputFormat selects the encoder used for each record's payload.
type OutputFormat int

const (
	FormatXML OutputFormat = iota
	FormatJSON
)

// ProgressFunc receives progress reports; recordsSoFar is the running
// total across the whole parse. At each chunk completion
// fractionComplete is the fraction of chunks done; at an in-chunk
// report (sequential mode, every BatchSize records of a chunk) it is
// the fraction of the current chunk's records done. Both are clamped
// to [0,1].
type ProgressFunc func(recordsSoFar uint64, fractionComplete float64)

// Config carries the decoder's configuration options.
type Config struct {
	// OutputFormat selects xml or json encoding.
	OutputFormat OutputFormat

	// WorkerCount is the number of chunks decoded concurrently;
	// 1 means strictly sequential, file-order chunk processing.
	WorkerCount int

	// BatchSize is how many records are decoded between
	// ProgressCallback invocations. Default 500.
	BatchSize int

	// ProgressCallback, if non-nil, is invoked from the decoding
	// goroutine(s); in WorkerCount==1 mode it is the only
	// suspension point.
	ProgressCallback ProgressFunc

	// VerifyChecksums runs the advisory file/chunk header CRC32
	// checks.
	VerifyChecksums bool

	// StopOnError ends the parse after the first record error,
	// missing template, or unreadable chunk header: the error is
	// still recorded in Diagnostics, the chunk being decoded stops
	// at that record, and no further chunks are started.
	StopOnError bool

	// RecursionLimit bounds how deeply template instances and
	// embedded BinXml values may nest inside one another; element
	// nesting within a single body is not counted against it.
	// Zero means DefaultRecursionLimit.
	RecursionLimit int

	// TemplateCacheSize bounds the number of rendered template
	// instances (keyed by template GUID plus a checksum of the
	// instance's substitution bytes) the process-wide LRU keeps; it
	// does not bound correctness (a miss just renders again, and the
	// typedsync-backed compiled-template cache behind it is unbounded
	// and keyed by GUID). The LRU is sized by the first Config that
	// reaches it in a process; later values are ignored.
	// Zero means DefaultTemplateCacheSize.
	TemplateCacheSize int
}

// DefaultRecursionLimit is the default BinXml nesting bound.
const DefaultRecursionLimit = 64

// DefaultBatchSize is the default progress-callback interval.
const DefaultBatchSize = 500

// DefaultTemplateCacheSize bounds the fragment-memoization LRU
// fronting the compiled-template cache (see Config.TemplateCacheSize).
const DefaultTemplateCacheSize = 4096

// DefaultConfig returns the configuration used when a caller
// specifies nothing: sequential single-worker decoding to XML,
// default batch size, no checksum verification, diagnostics-only
// error handling.
func DefaultConfig() Config {
	return Config{
		OutputFormat:      FormatXML,
		WorkerCount:       1,
		BatchSize:         DefaultBatchSize,
		VerifyChecksums:   false,
		StopOnError:       false,
		RecursionLimit:    DefaultRecursionLimit,
		TemplateCacheSize: DefaultTemplateCacheSize,
	}
}

// effectiveRecursionLimit is RecursionLimit with the zero-value
// default applied, for callers holding a Config that was never
// normalized() (e.g. constructed ad hoc in tests).
func (c Config) effectiveRecursionLimit() int {
	if c.RecursionLimit < 1 {
		return DefaultRecursionLimit
	}
	return c.RecursionLimit
}

// effectiveTemplateCacheSize is TemplateCacheSize with the zero-value
// default applied, mirroring effectiveRecursionLimit.
func (c Config) effectiveTemplateCacheSize() int {
	if c.TemplateCacheSize < 1 {
		return DefaultTemplateCacheSize
	}
	return c.TemplateCacheSize
}

func (c Config) normalized() Config {
	if c.WorkerCount < 1 {
		c.WorkerCount = 1
	}
	if c.BatchSize < 1 {
		c.BatchSize = DefaultBatchSize
	}
	if c.RecursionLimit < 1 {
		c.RecursionLimit = DefaultRecursionLimit
	}
	if c.TemplateCacheSize < 1 {
		c.TemplateCacheSize = DefaultTemplateCacheSize
	}
	return c
}
