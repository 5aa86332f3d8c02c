package vmdk

/**
 * SPDX-License-Identifier: Apache-2.0
 */

import (
	"math/rand"
	"time"
)

// defaultToolsVersion mirrors the open-vm-tools version string the original
// CLI fills in from its own build; a library has no build-time tools
// version to report, so it ships a placeholder callers can override.
const defaultToolsVersion = "0"

// writerConfig holds the options a WriterOption can set. The defaults set by
// newWriterConfig use a time-seeded RNG and let Close
// generate both the CID and the long content ID randomly, matching the
// original CLI's one-time srand48(gettimeofday()) seeding -- except the seed
// lives on the Writer instance instead of process-global state, so tests
// can run with distinct deterministic seeds concurrently.
type writerConfig struct {
	rng          *rand.Rand
	cidOverride  *uint32
	toolsVersion string
	logger       Logger
}

func newWriterConfig() *writerConfig {
	return &writerConfig{
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		toolsVersion: defaultToolsVersion,
		logger:       nopLogger{},
	}
}

// WriterOption configures CreateStreamOptimized.
type WriterOption func(*writerConfig)

// WithRandSource seeds the writer's CID / long-content-ID generator
// deterministically, per the rng_seed configuration option called for by the
// codec's determinism design note.
func WithRandSource(seed uint64) WriterOption {
	return func(c *writerConfig) {
		c.rng = rand.New(rand.NewSource(int64(seed)))
	}
}

// WithCIDOverride forces the descriptor's CID to a fixed value instead of
// drawing one from the RNG, per the cid_override configuration option.
func WithCIDOverride(cid uint32) WriterOption {
	return func(c *writerConfig) {
		c.cidOverride = &cid
	}
}

// WithToolsVersion sets the ddb.toolsVersion descriptor field.
func WithToolsVersion(v string) WriterOption {
	return func(c *writerConfig) {
		c.toolsVersion = v
	}
}

// WithLogger attaches a Logger that receives lifecycle events (create,
// finalize, abort). The default is a no-op logger.
func WithLogger(l Logger) WriterOption {
	return func(c *writerConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// readerConfig holds the options a ReaderOption can set.
type readerConfig struct {
	logger Logger
}

func newReaderConfig() *readerConfig {
	return &readerConfig{logger: nopLogger{}}
}

// ReaderOption configures OpenSparse.
type ReaderOption func(*readerConfig)

// WithReaderLogger attaches a Logger to a Reader.
func WithReaderLogger(l Logger) ReaderOption {
	return func(c *readerConfig) {
		if l != nil {
			c.logger = l
		}
	}
}
