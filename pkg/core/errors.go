package core

import (
	"errors"
	"fmt"
	"io/fs"
)

// Sentinel errors for archive operations.
var (
	// ErrCorrupt is returned when a container or the tar stream inside it is
	// malformed or fails a checksum.
	ErrCorrupt = errors.New("larz: corrupt archive")

	// ErrLengthMismatch is returned when an in-memory container decodes to a
	// different length than its prefix declares.
	ErrLengthMismatch = errors.New("larz: decoded length does not match length prefix")

	// ErrTooLarge is returned when a tar stream does not fit the 32-bit
	// length prefix of an in-memory container.
	ErrTooLarge = errors.New("larz: archive too large for in-memory container")

	// ErrUnsafePath is returned when an entry name or link target is absolute
	// or escapes the output directory.
	ErrUnsafePath = errors.New("larz: entry path escapes output directory")

	// ErrUnsupportedEntry is returned for tar entry types that cannot be
	// extracted, such as devices and fifos.
	ErrUnsupportedEntry = errors.New("larz: unsupported entry type")

	// ErrUnsupportedFileType is returned when an input is neither a regular
	// file nor a directory.
	ErrUnsupportedFileType = errors.New("larz: unsupported file type")

	// ErrSymlinkLoop is returned when following symlinks leads back into a
	// directory that is already being archived.
	ErrSymlinkLoop = errors.New("larz: symlink loop")

	// ErrUnknownFormat is returned when a format name is not recognised.
	ErrUnknownFormat = errors.New("larz: unknown container format")
)

// Stage names the step of an operation that failed.
type Stage string

const (
	StageStat     Stage = "stat"
	StageWalk     Stage = "walk"
	StageRead     Stage = "read"
	StageWrite    Stage = "write"
	StageEncode   Stage = "encode"
	StageDecode   Stage = "decode"
	StageUnpack   Stage = "unpack"
	StageFinalize Stage = "finalize"
)

// OpError records where an operation failed.
type OpError struct {
	Op    string
	Stage Stage
	Path  string
	Err   error
}

func (e *OpError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Stage, e.Err)
	}
	return fmt.Sprintf("%s: %s %s: %v", e.Op, e.Stage, e.Path, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// wrapOp returns err as an *OpError, keeping the innermost one if err
// already carries operation context. An inner error without a path takes
// path.
func wrapOp(op string, stage Stage, path string, err error) error {
	var opErr *OpError
	if errors.As(err, &opErr) {
		if opErr.Path == "" {
			opErr.Path = path
		}
		return err
	}
	return &OpError{Op: op, Stage: stage, Path: path, Err: err}
}

// corrupt marks a decode failure as ErrCorrupt. Filesystem errors pass
// through unchanged since they are not format errors.
func corrupt(err error) error {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) || errors.Is(err, ErrCorrupt) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrCorrupt, err)
}
