package core

import (
	"fmt"
	"strings"
	"time"
)

// Format is one of the two container sub-formats. The sub-formats are not
// interchangeable: a container must be extracted with the Format that
// produced it, and nothing in the container identifies which one that was.
type Format interface {
	// Name returns the canonical name of the format.
	Name() string

	// Compress archives paths, in order, into a single container at output.
	// The output's parent directories are created, and output only appears
	// once the container is complete.
	Compress(paths []string, output string, opts ...Option) (*Stats, error)

	// Extract unpacks each archive in turn into outputDir, creating it if
	// needed. Later entries overwrite earlier ones at colliding paths.
	Extract(archives []string, outputDir string, opts ...Option) (*Stats, error)

	sealed()
}

var (
	// Streaming writes LZ4 frame containers. Memory use is bounded by the
	// frame block size regardless of archive size.
	Streaming Format = streamingFormat{}

	// InMemory writes a little-endian uint32 uncompressed length followed by
	// one LZ4 block. The whole tar stream is held in memory, and archives
	// are limited to 4 GiB.
	InMemory Format = memoryFormat{}
)

// FormatByName returns the format for a name such as "streaming" or
// "memory".
func FormatByName(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "streaming", "stream", "frame":
		return Streaming, nil
	case "memory", "in-memory", "inmemory", "block":
		return InMemory, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
}

type streamingFormat struct{}

func (streamingFormat) Name() string { return "streaming" }

func (f streamingFormat) Compress(paths []string, output string, opts ...Option) (*Stats, error) {
	return runCompress(f, paths, output, opts, compressStreaming)
}

func (f streamingFormat) Extract(archives []string, outputDir string, opts ...Option) (*Stats, error) {
	return runExtract(f, archives, outputDir, opts, extractStreaming)
}

func (streamingFormat) sealed() {}

type memoryFormat struct{}

func (memoryFormat) Name() string { return "memory" }

func (f memoryFormat) Compress(paths []string, output string, opts ...Option) (*Stats, error) {
	return runCompress(f, paths, output, opts, compressMemory)
}

func (f memoryFormat) Extract(archives []string, outputDir string, opts ...Option) (*Stats, error) {
	return runExtract(f, archives, outputDir, opts, extractMemory)
}

func (memoryFormat) sealed() {}

// runCompress applies opts and times one compress call
func runCompress(f Format, paths []string, output string, opts []Option,
	compress func([]string, string, config) (*Stats, error)) (*Stats, error) {
	cfg := newConfig(opts)
	start := time.Now()
	stats, err := compress(paths, output, cfg)
	if err != nil {
		return nil, err
	}
	stats.Format = f.Name()
	finish(opCompress, stats, start, cfg)
	return stats, nil
}

// runExtract applies opts and times one extract call
func runExtract(f Format, archives []string, outputDir string, opts []Option, extract extractFunc) (*Stats, error) {
	cfg := newConfig(opts)
	start := time.Now()
	stats, err := extractAll(archives, outputDir, cfg, extract)
	if err != nil {
		return nil, err
	}
	stats.Format = f.Name()
	finish(opExtract, stats, start, cfg)
	return stats, nil
}
