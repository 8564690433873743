package core

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/pierrec/lz4/v4"
)

// sizePrefixLen is the width of the little-endian uncompressed length that
// precedes the block in an in-memory container.
const sizePrefixLen = 4

// maxBlockRatio bounds how much an LZ4 block can expand on decompression.
const maxBlockRatio = 255

// BlockContainer is an in-memory container: a little-endian uint32 holding
// the uncompressed length followed by a single LZ4 block. It is not an LZ4
// frame and cannot be read by NewFrameReader.
type BlockContainer []byte

// Len returns the uncompressed length declared by the prefix, or false if
// the container is too short to hold one.
func (c BlockContainer) Len() (uint32, bool) {
	if len(c) < sizePrefixLen {
		return 0, false
	}
	return binary.LittleEndian.Uint32(c), true
}

// EncodeBlock compresses data as one LZ4 block and prepends its length.
func EncodeBlock(data []byte, opts ...Option) (BlockContainer, error) {
	return encodeBlock(data, newConfig(opts).level)
}

// encodeBlock compresses data at the given level.
func encodeBlock(data []byte, level lz4.CompressionLevel) (BlockContainer, error) {
	if uint64(len(data)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}

	out := make([]byte, sizePrefixLen+lz4.CompressBlockBound(len(data)))
	binary.LittleEndian.PutUint32(out, uint32(len(data)))

	var n int
	var err error
	if level == lz4.Fast {
		n, err = lz4.CompressBlock(data, out[sizePrefixLen:], nil)
	} else {
		n, err = lz4.CompressBlockHC(data, out[sizePrefixLen:], level, nil, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("compress block: %w", err)
	}
	return BlockContainer(out[:sizePrefixLen+n]), nil
}

// DecodeBlock decompresses an in-memory container. It fails with
// ErrCorrupt when the payload is damaged and ErrLengthMismatch when it
// decodes to a different length than the prefix declares.
func DecodeBlock(c BlockContainer) ([]byte, error) {
	size, ok := c.Len()
	if !ok {
		return nil, fmt.Errorf("%w: missing length prefix", ErrCorrupt)
	}
	payload := c[sizePrefixLen:]

	// Refuse to allocate more than the payload could possibly expand to
	if uint64(size) > uint64(len(payload))*maxBlockRatio+16 {
		return nil, fmt.Errorf("%w: length prefix %d exceeds what %d payload bytes can hold",
			ErrCorrupt, size, len(payload))
	}

	out := make([]byte, size)
	n, err := lz4.UncompressBlock(payload, out)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if n != len(out) {
		return nil, fmt.Errorf("%w: prefix declares %d bytes, block holds %d", ErrLengthMismatch, size, n)
	}
	return out, nil
}
