package core

import (
	"fmt"
	"io"
	"io/fs"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pierrec/lz4/v4"
	"github.com/sirupsen/logrus"

	"larz/pkg/progress"
)

// Defaults applied when no option overrides them.
const (
	DefaultBlockSize = lz4.Block4Mb
	DefaultLevel     = lz4.Fast
	DefaultFileMode  = fs.FileMode(0o644)
)

// config holds the settings shared by all operations.
type config struct {
	progress  progress.Func
	logger    logrus.FieldLogger
	level     lz4.CompressionLevel
	blockSize lz4.BlockSize
	fileMode  fs.FileMode
}

// Option configures a compress or extract call.
type Option func(*config)

// newConfig applies opts over the defaults.
func newConfig(opts []Option) config {
	cfg := config{
		level:     DefaultLevel,
		blockSize: DefaultBlockSize,
		fileMode:  DefaultFileMode,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = discardLogger()
	}
	return cfg
}

// discardLogger returns a logger that drops every record.
func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// WithProgress sets the sink receiving progress events.
func WithProgress(fn progress.Func) Option {
	return func(cfg *config) {
		cfg.progress = fn
	}
}

// WithLogger sets the logger used for debug and summary records.
// Records are discarded when no logger is set.
func WithLogger(l logrus.FieldLogger) Option {
	return func(cfg *config) {
		cfg.logger = l
	}
}

// WithCompressionLevel sets the LZ4 compression level for both container
// formats. lz4.Fast selects the fast compressor; higher levels use the
// high-compression variant.
func WithCompressionLevel(l lz4.CompressionLevel) Option {
	return func(cfg *config) {
		cfg.level = l
	}
}

// WithBlockSize sets the LZ4 frame block size of streaming containers.
// It bounds the encoder and decoder working buffers.
func WithBlockSize(b lz4.BlockSize) Option {
	return func(cfg *config) {
		cfg.blockSize = b
	}
}

// WithFileMode sets the permission bits of created container files.
func WithFileMode(m fs.FileMode) Option {
	return func(cfg *config) {
		cfg.fileMode = m.Perm()
	}
}

var compressionLevels = []lz4.CompressionLevel{
	lz4.Fast,
	lz4.Level1, lz4.Level2, lz4.Level3,
	lz4.Level4, lz4.Level5, lz4.Level6,
	lz4.Level7, lz4.Level8, lz4.Level9,
}

// ParseCompressionLevel parses "fast" or a level from 0 to 9, where 0 is
// the same as "fast".
func ParseCompressionLevel(s string) (lz4.CompressionLevel, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "fast" || s == "" {
		return lz4.Fast, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n >= len(compressionLevels) {
		return 0, fmt.Errorf("invalid compression level %q: must be fast or 0-9", s)
	}
	return compressionLevels[n], nil
}

var blockSizes = []struct {
	size lz4.BlockSize
	si   uint64 // decimal spelling, e.g. "64KB"
}{
	{lz4.Block64Kb, 64_000},
	{lz4.Block256Kb, 256_000},
	{lz4.Block1Mb, 1_000_000},
	{lz4.Block4Mb, 4_000_000},
}

// ParseBlockSize parses a frame block size such as "64KB" or "4MiB".
// Only the four sizes defined by the LZ4 frame format are accepted.
func ParseBlockSize(s string) (lz4.BlockSize, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("parse block size %q: %w", s, err)
	}
	for _, b := range blockSizes {
		if n == uint64(b.size) || n == b.si {
			return b.size, nil
		}
	}
	return 0, fmt.Errorf("unsupported block size %q: must be one of 64KB, 256KB, 1MB, 4MB", s)
}
