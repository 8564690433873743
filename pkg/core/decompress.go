package core

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/opencontainers/go-digest"
	"github.com/sirupsen/logrus"

	"larz/pkg/progress"
)

// extractFunc unpacks a single container into outputDir
type extractFunc func(archive, outputDir string, cfg config) (*Stats, error)

// extractAll runs extract over each archive in order, into the same
// output directory, and aggregates the results.
func extractAll(archives []string, outputDir string, cfg config, extract extractFunc) (*Stats, error) {
	start := time.Now()
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, wrapOp(opExtract, StageWrite, outputDir, err)
	}
	total := &Stats{}
	for _, archive := range archives {
		cfg.progress.Emit(progress.Event{
			Op:      opExtract,
			Stage:   progress.StageStarted,
			Path:    archive,
			Bytes:   total.TarBytes,
			Entries: total.Entries,
			Elapsed: time.Since(start),
		})
		stats, err := extract(archive, outputDir, cfg)
		if err != nil {
			return nil, err
		}
		total.add(stats)
	}
	return total, nil
}

// extractStreaming unpacks one LZ4 frame container. The container is read
// through the frame decoder to its last byte, so checksum failures and
// trailing data fail the call.
func extractStreaming(archive, outputDir string, cfg config) (*Stats, error) {
	f, err := os.Open(archive)
	if err != nil {
		return nil, wrapOp(opExtract, StageRead, archive, err)
	}
	defer f.Close()

	digester := digest.Canonical.Digester()
	counter := &progress.Reader{R: bufio.NewReaderSize(f, 64*1024)}
	src := io.TeeReader(counter, digester.Hash())

	stats, err := unpack(NewFrameReader(src), outputDir, cfg)
	if err != nil {
		return nil, wrapOp(opExtract, StageDecode, archive, err)
	}

	// Anything the decoder left unread follows the last frame
	n, err := io.Copy(io.Discard, src)
	if err != nil {
		return nil, wrapOp(opExtract, StageRead, archive, err)
	}
	if n > 0 {
		return nil, wrapOp(opExtract, StageDecode, archive,
			fmt.Errorf("%w: %d bytes of trailing data", ErrCorrupt, n))
	}

	stats.Containers = []ContainerInfo{{Path: archive, Size: counter.N, Digest: digester.Digest()}}
	return stats, nil
}

// extractMemory unpacks one length-prefixed LZ4 block container. The whole
// container and the decoded tar stream are held in memory.
func extractMemory(archive, outputDir string, cfg config) (*Stats, error) {
	data, err := os.ReadFile(archive)
	if err != nil {
		return nil, wrapOp(opExtract, StageRead, archive, err)
	}

	c := BlockContainer(data)
	// A tar stream is a whole number of records. This also rejects an LZ4
	// frame handed to the block decoder, since its magic is not a multiple.
	if size, ok := c.Len(); ok && size%blockSize != 0 {
		return nil, wrapOp(opExtract, StageDecode, archive,
			fmt.Errorf("%w: length prefix %d is not a whole number of tar records", ErrCorrupt, size))
	}

	tarStream, err := DecodeBlock(c)
	if err != nil {
		return nil, wrapOp(opExtract, StageDecode, archive, err)
	}
	cfg.logger.WithFields(logrus.Fields{
		"archive": archive,
		"tar":     humanize.IBytes(uint64(len(tarStream))),
	}).Debug("decoded block")

	stats, err := unpack(bytes.NewReader(tarStream), outputDir, cfg)
	if err != nil {
		return nil, wrapOp(opExtract, StageDecode, archive, err)
	}
	stats.Containers = []ContainerInfo{{Path: archive, Size: uint64(len(data)), Digest: digest.FromBytes(data)}}
	return stats, nil
}
