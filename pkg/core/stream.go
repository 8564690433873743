package core

import (
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// NewFrameWriter returns a writer that LZ4 frame-encodes everything written
// to it into w. Memory use is bounded by the configured block size.
//
// Close must be called to emit the end mark and content checksum; without
// it the frame is truncated and cannot be decoded. Close does not close w.
func NewFrameWriter(w io.Writer, opts ...Option) (*lz4.Writer, error) {
	return newFrameWriter(w, newConfig(opts))
}

// newFrameWriter configures an LZ4 frame encoder from cfg.
func newFrameWriter(w io.Writer, cfg config) (*lz4.Writer, error) {
	zw := lz4.NewWriter(w)
	err := zw.Apply(
		lz4.BlockSizeOption(cfg.blockSize),
		lz4.CompressionLevelOption(cfg.level),
		lz4.ChecksumOption(true),
		lz4.BlockChecksumOption(true),
		lz4.ConcurrencyOption(1),
	)
	if err != nil {
		return nil, fmt.Errorf("configure lz4 writer: %w", err)
	}
	return zw, nil
}

// NewFrameReader returns a reader decoding the LZ4 frames read from r.
// Block checksums are verified as the data is read. The content checksum is
// only checked once the reader reaches EOF.
func NewFrameReader(r io.Reader) *lz4.Reader {
	return lz4.NewReader(r)
}
