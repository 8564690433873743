package core

import (
	"time"

	"github.com/opencontainers/go-digest"
)

// Operation names reported in errors and progress events
const (
	opCompress = "compress"
	opExtract  = "extract"
)

// blockSize is the tar record size; every tar stream is a multiple of it
const blockSize = 512

// endMarkerSize is the length of the zero blocks terminating a tar stream
const endMarkerSize = 2 * blockSize

// ContainerInfo describes one container file written or read
type ContainerInfo struct {
	Path   string        // Path of the container on disk
	Size   uint64        // Size of the container in bytes
	Digest digest.Digest // SHA-256 digest of the container bytes
}

// Stats summarises a compress or extract call
type Stats struct {
	Format     string          // Name of the container format used
	Entries    int             // Number of tar entries written or unpacked
	TarBytes   uint64          // Uncompressed tar stream size
	Containers []ContainerInfo // Containers written (compress) or read (extract)
	Elapsed    time.Duration   // Wall time of the whole call
}

// add folds the counters of other into s
func (s *Stats) add(other *Stats) {
	s.Entries += other.Entries
	s.TarBytes += other.TarBytes
	s.Containers = append(s.Containers, other.Containers...)
}
