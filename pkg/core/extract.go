package core

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"larz/pkg/progress"
)

// Unpack reads a tar stream from r and recreates its entries under
// outputDir, creating the directory if needed. The source is read to EOF so
// trailing checksums in the envelope are verified.
//
// Entries that already exist are overwritten. Nothing is rolled back when an
// entry fails.
func Unpack(r io.Reader, outputDir string, opts ...Option) (*Stats, error) {
	cfg := newConfig(opts)
	start := time.Now()
	stats, err := unpack(r, outputDir, cfg)
	if err != nil {
		return nil, err
	}
	finish(opExtract, stats, start, cfg)
	return stats, nil
}

// unpack extracts one tar stream into outputDir.
func unpack(r io.Reader, outputDir string, cfg config) (*Stats, error) {
	root, err := filepath.Abs(outputDir)
	if err != nil {
		return nil, wrapOp(opExtract, StageWrite, outputDir, err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, wrapOp(opExtract, StageWrite, root, err)
	}

	counter := &progress.Reader{R: r}
	e := &extractor{root: root, cfg: cfg, buf: make([]byte, 32*1024)}

	// entryEnd is the stream offset where the last entry's data and padding
	// end; only the end marker may follow it
	var entryEnd uint64
	tr := tar.NewReader(counter)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, e.fail(StageDecode, "", corrupt(err))
		}
		entryEnd = counter.N
		if hdr.Typeflag == tar.TypeReg {
			entryEnd += recordAlign(hdr.Size)
		}
		if err := e.extractEntry(tr, hdr); err != nil {
			return nil, err
		}
	}

	// The tar reader treats a clean EOF at a header boundary as the end of
	// the archive, so a stream cut between entries is caught here
	if counter.N-entryEnd < endMarkerSize {
		return nil, e.fail(StageDecode, "", fmt.Errorf("%w: missing end-of-archive marker", ErrCorrupt))
	}
	tarBytes := counter.N

	// Drain record padding and let the envelope verify its trailer
	if _, err := io.Copy(io.Discard, r); err != nil {
		return nil, e.fail(StageDecode, "", corrupt(err))
	}

	if err := e.finishDirs(); err != nil {
		return nil, err
	}
	return &Stats{Entries: e.entries, TarBytes: tarBytes}, nil
}

// dirMeta is directory metadata applied once all entries are written.
type dirMeta struct {
	path  string
	mode  fs.FileMode
	mtime time.Time
}

// extractor materializes tar entries beneath root.
type extractor struct {
	root    string
	cfg     config
	buf     []byte
	dirs    []dirMeta
	entries int
}

// extractEntry dispatches one tar entry by type
func (e *extractor) extractEntry(tr *tar.Reader, hdr *tar.Header) error {
	if hdr.Typeflag == tar.TypeXGlobalHeader {
		return nil
	}

	target, err := e.resolve(hdr.Name)
	if err != nil {
		return e.fail(StageUnpack, hdr.Name, err)
	}

	switch hdr.Typeflag {
	case tar.TypeDir:
		err = e.mkdir(hdr, target)
	case tar.TypeReg:
		err = e.writeFile(tr, hdr, target)
	case tar.TypeSymlink:
		err = e.symlink(hdr, target)
	case tar.TypeLink:
		err = e.hardlink(hdr, target)
	default:
		return e.fail(StageUnpack, hdr.Name, fmt.Errorf("%w: type %q", ErrUnsupportedEntry, hdr.Typeflag))
	}
	if err != nil {
		return err
	}

	e.entries++
	e.cfg.logger.WithField("entry", hdr.Name).Debug("extracted")
	return nil
}

// resolve maps an entry name to a path beneath root, rejecting names that
// are absolute or climb out of it
func (e *extractor) resolve(name string) (string, error) {
	rel := filepath.FromSlash(strings.TrimSuffix(name, "/"))
	if rel == "" || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	return filepath.Join(e.root, rel), nil
}

// mkdir creates a directory entry and defers its metadata
func (e *extractor) mkdir(hdr *tar.Header, target string) error {
	if target == e.root {
		return nil
	}
	if err := e.checkParents(target); err != nil {
		return e.fail(StageUnpack, hdr.Name, err)
	}
	if info, err := os.Lstat(target); err == nil {
		switch {
		case info.Mode()&fs.ModeSymlink != 0:
			return e.fail(StageUnpack, hdr.Name, fmt.Errorf("%w: %q is a symlink", ErrUnsafePath, hdr.Name))
		case !info.IsDir():
			if err := os.Remove(target); err != nil {
				return e.fail(StageWrite, target, err)
			}
		}
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return e.fail(StageWrite, target, err)
	}
	e.dirs = append(e.dirs, dirMeta{path: target, mode: hdr.FileInfo().Mode().Perm(), mtime: hdr.ModTime})
	return nil
}

// writeFile creates a regular file from the current entry's data
func (e *extractor) writeFile(r io.Reader, hdr *tar.Header, target string) error {
	if err := e.prepare(target); err != nil {
		return err
	}

	f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return e.fail(StageWrite, target, err)
	}
	if err := e.copy(f, r, target); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return e.fail(StageWrite, target, err)
	}

	if err := os.Chmod(target, hdr.FileInfo().Mode().Perm()); err != nil {
		return e.fail(StageWrite, target, err)
	}
	if err := os.Chtimes(target, hdr.ModTime, hdr.ModTime); err != nil {
		return e.fail(StageWrite, target, err)
	}
	return nil
}

// copy moves entry data to dst, telling decode failures from write failures
func (e *extractor) copy(dst io.Writer, src io.Reader, target string) error {
	for {
		n, rerr := src.Read(e.buf)
		if n > 0 {
			if _, werr := dst.Write(e.buf[:n]); werr != nil {
				return e.fail(StageWrite, target, werr)
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return e.fail(StageDecode, target, corrupt(rerr))
		}
	}
}

// symlink creates a symbolic link whose target stays beneath root
func (e *extractor) symlink(hdr *tar.Header, target string) error {
	link := filepath.FromSlash(hdr.Linkname)
	if filepath.IsAbs(link) || !e.within(filepath.Join(filepath.Dir(target), link)) {
		return e.fail(StageUnpack, hdr.Name, fmt.Errorf("%w: link target %q", ErrUnsafePath, hdr.Linkname))
	}
	if err := e.prepare(target); err != nil {
		return err
	}
	if err := os.Symlink(link, target); err != nil {
		return e.fail(StageWrite, target, err)
	}
	return nil
}

// hardlink links target to an entry extracted earlier
func (e *extractor) hardlink(hdr *tar.Header, target string) error {
	existing, err := e.resolve(hdr.Linkname)
	if err == nil {
		err = e.checkParents(existing)
	}
	if err != nil {
		return e.fail(StageUnpack, hdr.Name, err)
	}
	if err := e.prepare(target); err != nil {
		return err
	}
	if err := os.Link(existing, target); err != nil {
		return e.fail(StageWrite, target, err)
	}
	return nil
}

// prepare creates the parent of target and removes any non-directory
// already there, so links are replaced rather than written through
func (e *extractor) prepare(target string) error {
	if err := e.checkParents(target); err != nil {
		return e.fail(StageUnpack, target, err)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return e.fail(StageWrite, filepath.Dir(target), err)
	}
	info, err := os.Lstat(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return e.fail(StageWrite, target, err)
	}
	if info.IsDir() {
		return nil
	}
	if err := os.Remove(target); err != nil {
		return e.fail(StageWrite, target, err)
	}
	return nil
}

// checkParents rejects target when an existing directory between root and
// target is a symlink. Entries are never written through links.
func (e *extractor) checkParents(target string) error {
	rel, err := filepath.Rel(e.root, filepath.Dir(target))
	if err != nil || rel == "." {
		return err
	}
	cur := e.root
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		cur = filepath.Join(cur, part)
		info, err := os.Lstat(cur)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			return fmt.Errorf("%w: %s is a symlink", ErrUnsafePath, cur)
		}
	}
	return nil
}

// within reports whether p is root or lies beneath it
func (e *extractor) within(p string) bool {
	rel, err := filepath.Rel(e.root, p)
	return err == nil && filepath.IsLocal(rel)
}

// finishDirs applies directory modes and times deepest first, so a
// read-only directory does not block writes into it and child updates do
// not bump parent mtimes
func (e *extractor) finishDirs() error {
	for i := len(e.dirs) - 1; i >= 0; i-- {
		d := e.dirs[i]
		if err := os.Chmod(d.path, d.mode); err != nil {
			return e.fail(StageFinalize, d.path, err)
		}
		if err := os.Chtimes(d.path, d.mtime, d.mtime); err != nil {
			return e.fail(StageFinalize, d.path, err)
		}
	}
	return nil
}

// fail wraps err with the path and stage it occurred at
func (e *extractor) fail(stage Stage, p string, err error) error {
	return wrapOp(opExtract, stage, p, err)
}

// recordAlign rounds n up to a whole number of tar records.
func recordAlign(n int64) uint64 {
	if n <= 0 {
		return 0
	}
	return uint64((n + blockSize - 1) / blockSize * blockSize)
}
