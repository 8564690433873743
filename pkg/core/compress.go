package core

import (
	"bufio"
	"bytes"
	_ "crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/opencontainers/go-digest"
	"github.com/sirupsen/logrus"

	"larz/pkg/progress"
)

// compressStreaming archives paths into an LZ4 frame container at output.
// Tar bytes flow straight into the frame encoder and are never buffered
// beyond one frame block.
func compressStreaming(paths []string, output string, cfg config) (*Stats, error) {
	var stats *Stats
	info, err := writeContainer(output, cfg, func(w io.Writer) error {
		zw, err := newFrameWriter(w, cfg)
		if err != nil {
			return wrapOp(opCompress, StageEncode, output, err)
		}
		stats, err = pack(zw, paths, cfg)
		if err != nil {
			zw.Close()
			return err
		}
		// Close emits the end mark and content checksum
		if err := zw.Close(); err != nil {
			return wrapOp(opCompress, StageEncode, output, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	stats.Containers = []ContainerInfo{info}
	return stats, nil
}

// compressMemory archives paths into a buffer, compresses it as a single
// LZ4 block and writes the length-prefixed container to output.
func compressMemory(paths []string, output string, cfg config) (*Stats, error) {
	var buf bytes.Buffer
	stats, err := pack(&buf, paths, cfg)
	if err != nil {
		return nil, err
	}

	block, err := encodeBlock(buf.Bytes(), cfg.level)
	if err != nil {
		return nil, wrapOp(opCompress, StageEncode, output, err)
	}
	cfg.logger.WithFields(logrus.Fields{
		"tar":   humanize.IBytes(stats.TarBytes),
		"block": humanize.IBytes(uint64(len(block))),
	}).Debug("encoded block")

	info, err := writeContainer(output, cfg, func(w io.Writer) error {
		if _, err := w.Write(block); err != nil {
			return wrapOp(opCompress, StageWrite, output, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	stats.Containers = []ContainerInfo{info}
	return stats, nil
}

// writeContainer creates output atomically: write receives a buffered
// writer onto a temporary file in the same directory, which is renamed onto
// output only after write and the final flush succeed. The temporary file is
// removed on any failure.
func writeContainer(output string, cfg config, write func(io.Writer) error) (ContainerInfo, error) {
	dir := filepath.Dir(output)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ContainerInfo{}, wrapOp(opCompress, StageWrite, dir, fmt.Errorf("create output directory: %w", err))
	}

	tmp, err := os.CreateTemp(dir, ".larz-*")
	if err != nil {
		return ContainerInfo{}, wrapOp(opCompress, StageWrite, output, fmt.Errorf("create temp file: %w", err))
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	digester := digest.Canonical.Digester()
	counter := &progress.Writer{W: io.MultiWriter(tmp, digester.Hash())}
	bw := bufio.NewWriterSize(counter, 64*1024)

	if err := write(bw); err != nil {
		return ContainerInfo{}, err
	}
	if err := bw.Flush(); err != nil {
		return ContainerInfo{}, wrapOp(opCompress, StageWrite, output, err)
	}
	if err := tmp.Sync(); err != nil {
		return ContainerInfo{}, wrapOp(opCompress, StageWrite, output, fmt.Errorf("sync: %w", err))
	}
	if err := tmp.Chmod(cfg.fileMode); err != nil {
		return ContainerInfo{}, wrapOp(opCompress, StageFinalize, output, fmt.Errorf("chmod: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return ContainerInfo{}, wrapOp(opCompress, StageWrite, output, fmt.Errorf("close: %w", err))
	}
	if err := os.Rename(tmpPath, output); err != nil {
		return ContainerInfo{}, wrapOp(opCompress, StageFinalize, output, fmt.Errorf("rename: %w", err))
	}
	success = true

	return ContainerInfo{Path: output, Size: counter.N, Digest: digester.Digest()}, nil
}

// finish stamps the elapsed time and reports completion.
func finish(op string, stats *Stats, start time.Time, cfg config) {
	stats.Elapsed = time.Since(start)
	cfg.progress.Emit(progress.Event{
		Op:      op,
		Stage:   progress.StageFinished,
		Bytes:   stats.TarBytes,
		Entries: stats.Entries,
		Elapsed: stats.Elapsed,
	})

	var size uint64
	for _, c := range stats.Containers {
		size += c.Size
	}
	entry := cfg.logger.WithFields(logrus.Fields{
		"format":    stats.Format,
		"entries":   stats.Entries,
		"tar":       humanize.IBytes(stats.TarBytes),
		"container": humanize.IBytes(size),
		"elapsed":   stats.Elapsed.Round(time.Millisecond),
	})
	if len(stats.Containers) == 1 {
		entry = entry.WithField("digest", stats.Containers[0].Digest)
	}
	entry.Infof("%s completed", op)
}
