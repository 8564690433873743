// Package lib provides compression and extraction of larz containers.
// This package re-exports the functionality from the core package.
package lib

import (
	"larz/pkg/core"
)

// Format re-exported from core
type Format = core.Format

// Container formats re-exported from core
var (
	Streaming = core.Streaming
	InMemory  = core.InMemory
)

// Types re-exported from core
type (
	Option         = core.Option
	Stats          = core.Stats
	ContainerInfo  = core.ContainerInfo
	BlockContainer = core.BlockContainer
	OpError        = core.OpError
)

// Errors re-exported from core
var (
	ErrCorrupt             = core.ErrCorrupt
	ErrLengthMismatch      = core.ErrLengthMismatch
	ErrTooLarge            = core.ErrTooLarge
	ErrUnsafePath          = core.ErrUnsafePath
	ErrUnsupportedEntry    = core.ErrUnsupportedEntry
	ErrUnsupportedFileType = core.ErrUnsupportedFileType
	ErrSymlinkLoop         = core.ErrSymlinkLoop
	ErrUnknownFormat       = core.ErrUnknownFormat
)

// Defaults re-exported from core
const (
	DefaultBlockSize = core.DefaultBlockSize
	DefaultLevel     = core.DefaultLevel
	DefaultFileMode  = core.DefaultFileMode
)

// Functions re-exported from core
var (
	FormatByName          = core.FormatByName
	Pack                  = core.Pack
	Unpack                = core.Unpack
	NewFrameWriter        = core.NewFrameWriter
	NewFrameReader        = core.NewFrameReader
	EncodeBlock           = core.EncodeBlock
	DecodeBlock           = core.DecodeBlock
	WithProgress          = core.WithProgress
	WithLogger            = core.WithLogger
	WithCompressionLevel  = core.WithCompressionLevel
	WithBlockSize         = core.WithBlockSize
	WithFileMode          = core.WithFileMode
	ParseCompressionLevel = core.ParseCompressionLevel
	ParseBlockSize        = core.ParseBlockSize
)

// CompressStreaming is a wrapper around Streaming.Compress
func CompressStreaming(paths []string, output string, opts ...Option) (*Stats, error) {
	return core.Streaming.Compress(paths, output, opts...)
}

// ExtractStreaming is a wrapper around Streaming.Extract
func ExtractStreaming(archives []string, outputDir string, opts ...Option) (*Stats, error) {
	return core.Streaming.Extract(archives, outputDir, opts...)
}

// CompressMemory is a wrapper around InMemory.Compress
func CompressMemory(paths []string, output string, opts ...Option) (*Stats, error) {
	return core.InMemory.Compress(paths, output, opts...)
}

// ExtractMemory is a wrapper around InMemory.Extract
func ExtractMemory(archives []string, outputDir string, opts ...Option) (*Stats, error) {
	return core.InMemory.Extract(archives, outputDir, opts...)
}
