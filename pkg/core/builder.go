package core

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"larz/pkg/progress"
)

// Pack writes paths to w as a tar stream and finalizes it with the
// end-of-archive marker. It does not close w.
//
// A directory contributes its contents, named relative to the directory,
// so they land at the archive root. A file contributes one entry named by
// its base name. Symlinks are followed.
func Pack(w io.Writer, paths []string, opts ...Option) (*Stats, error) {
	cfg := newConfig(opts)
	start := time.Now()
	stats, err := pack(w, paths, cfg)
	if err != nil {
		return nil, err
	}
	finish(opCompress, stats, start, cfg)
	return stats, nil
}

// pack appends every path to a tar stream written to w.
func pack(w io.Writer, paths []string, cfg config) (*Stats, error) {
	start := time.Now()
	counter := &progress.Writer{W: w}
	b := &builder{tw: tar.NewWriter(counter), cfg: cfg}

	for _, p := range paths {
		cfg.progress.Emit(progress.Event{
			Op:      opCompress,
			Stage:   progress.StageStarted,
			Path:    p,
			Bytes:   counter.N,
			Entries: b.entries,
			Elapsed: time.Since(start),
		})
		if err := b.addPath(p); err != nil {
			return nil, err
		}
	}

	// Close writes the end-of-archive marker and flushes padding
	if err := b.tw.Close(); err != nil {
		return nil, &OpError{Op: opCompress, Stage: StageFinalize, Err: err}
	}
	return &Stats{Entries: b.entries, TarBytes: counter.N}, nil
}

// builder appends filesystem objects to a tar stream.
type builder struct {
	tw      *tar.Writer
	cfg     config
	entries int
}

// addPath appends one top-level input path
func (b *builder) addPath(p string) error {
	info, err := os.Stat(p)
	if err != nil {
		return b.fail(StageStat, p, err)
	}
	switch {
	case info.IsDir():
		return b.addDir(p, "", []fs.FileInfo{info})
	case info.Mode().IsRegular():
		return b.addFile(p, filepath.Base(p), info)
	default:
		return b.fail(StageStat, p, fmt.Errorf("%w: %s", ErrUnsupportedFileType, info.Mode().Type()))
	}
}

// addDir appends the contents of dir beneath the archive prefix. ancestors
// holds the directories on the current walk path for cycle detection.
func (b *builder) addDir(dir, prefix string, ancestors []fs.FileInfo) error {
	// ReadDir sorts by name, which keeps the output deterministic
	children, err := os.ReadDir(dir)
	if err != nil {
		return b.fail(StageWalk, dir, err)
	}

	for _, child := range children {
		fsPath := filepath.Join(dir, child.Name())
		name := path.Join(prefix, child.Name())

		info, err := os.Stat(fsPath)
		if err != nil {
			return b.fail(StageStat, fsPath, err)
		}

		switch {
		case info.IsDir():
			for _, a := range ancestors {
				if os.SameFile(a, info) {
					return b.fail(StageWalk, fsPath, ErrSymlinkLoop)
				}
			}
			if err := b.writeHeader(fsPath, name+"/", info); err != nil {
				return err
			}
			if err := b.addDir(fsPath, name, append(ancestors, info)); err != nil {
				return err
			}
		case info.Mode().IsRegular():
			if err := b.addFile(fsPath, name, info); err != nil {
				return err
			}
		default:
			return b.fail(StageStat, fsPath, fmt.Errorf("%w: %s", ErrUnsupportedFileType, info.Mode().Type()))
		}
	}
	return nil
}

// addFile appends a regular file and its contents
func (b *builder) addFile(fsPath, name string, info fs.FileInfo) error {
	f, err := os.Open(fsPath)
	if err != nil {
		return b.fail(StageRead, fsPath, err)
	}
	defer f.Close()

	if err := b.writeHeader(fsPath, name, info); err != nil {
		return err
	}

	// Copy exactly the size recorded in the header; a file that shrank
	// since stat surfaces as io.EOF
	if _, err := io.CopyN(b.tw, f, info.Size()); err != nil {
		if err == io.EOF {
			err = fmt.Errorf("file changed during archiving: %w", io.ErrUnexpectedEOF)
		}
		return b.fail(StageRead, fsPath, err)
	}
	return nil
}

// writeHeader writes the tar header for one entry
func (b *builder) writeHeader(fsPath, name string, info fs.FileInfo) error {
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return b.fail(StageStat, fsPath, err)
	}
	hdr.Name = name
	hdr.ModTime = info.ModTime().Truncate(time.Second)
	hdr.AccessTime = time.Time{}
	hdr.ChangeTime = time.Time{}

	if err := b.tw.WriteHeader(hdr); err != nil {
		return b.fail(StageWrite, fsPath, err)
	}
	b.entries++
	b.cfg.logger.WithField("entry", name).Debug("archived")
	return nil
}

// fail wraps err with the path and stage it occurred at
func (b *builder) fail(stage Stage, p string, err error) error {
	return wrapOp(opCompress, stage, p, err)
}
