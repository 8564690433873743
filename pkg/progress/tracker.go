// Package progress reports what compress and extract calls are doing.
//
// Operations emit an Event when they start on each input path and once
// when they finish. A nil Func discards events, so callers that do not care
// about progress pass nothing.
package progress

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// Stage identifies the point in an operation an Event reports.
type Stage uint8

const (
	// StageStarted is emitted before an input path or archive is processed.
	StageStarted Stage = iota

	// StageFinished is emitted once when the whole operation completes.
	StageFinished
)

// String returns the string representation of the stage.
func (s Stage) String() string {
	switch s {
	case StageStarted:
		return "started"
	case StageFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Event is a progress update from a compress or extract operation.
type Event struct {
	// Op is the operation name, "compress" or "extract".
	Op string

	// Stage identifies the point in the operation.
	Stage Stage

	// Path is the input path or archive being processed. Empty for
	// StageFinished.
	Path string

	// Bytes is the number of uncompressed tar bytes processed so far.
	Bytes uint64

	// Entries is the number of archive entries processed so far.
	Entries int

	// Elapsed is the time since the operation started.
	Elapsed time.Duration
}

// Func receives progress events.
type Func func(Event)

// Emit delivers e to f. It is a no-op on a nil Func.
func (f Func) Emit(e Event) {
	if f != nil {
		f(e)
	}
}

// NewPrinter returns a Func writing one human-readable line per input path
// and a summary line when the operation finishes.
func NewPrinter(w io.Writer) Func {
	return func(e Event) {
		switch e.Stage {
		case StageStarted:
			fmt.Fprintf(w, "%s '%s' … \n", presentVerb(e.Op), e.Path)
		case StageFinished:
			fmt.Fprintf(w, "%s %d entries (%s) in %.2f seconds (avg rate: %s)\n",
				pastVerb(e.Op), e.Entries, humanize.IBytes(e.Bytes),
				e.Elapsed.Seconds(), formatRate(e.Bytes, e.Elapsed))
		}
	}
}

// NewLogger returns a Func reporting events as log records.
func NewLogger(logger logrus.FieldLogger) Func {
	return func(e Event) {
		entry := logger.WithField("op", e.Op)
		switch e.Stage {
		case StageStarted:
			entry.WithField("path", e.Path).Infof("%s", presentVerb(e.Op))
		case StageFinished:
			entry.WithFields(logrus.Fields{
				"entries": e.Entries,
				"size":    humanize.IBytes(e.Bytes),
				"elapsed": e.Elapsed.Round(time.Millisecond),
				"rate":    formatRate(e.Bytes, e.Elapsed),
			}).Info("completed")
		}
	}
}

// presentVerb returns the progressive form of an operation name
func presentVerb(op string) string {
	switch op {
	case "compress":
		return "Compressing"
	case "extract":
		return "Extracting"
	default:
		return "Processing"
	}
}

// pastVerb returns the past tense of an operation name
func pastVerb(op string) string {
	switch op {
	case "compress":
		return "Compressed"
	case "extract":
		return "Extracted"
	default:
		return "Processed"
	}
}

// formatRate returns a human-readable rate string
func formatRate(bytes uint64, elapsed time.Duration) string {
	secs := elapsed.Seconds()
	if secs < 0.001 {
		secs = 0.001 // Avoid division by zero
	}
	return humanize.IBytes(uint64(float64(bytes)/secs)) + "/s"
}

// Writer is a writer that counts the bytes written through it
type Writer struct {
	W io.Writer
	N uint64
}

// Write implements io.Writer and tracks bytes written
func (pw *Writer) Write(p []byte) (n int, err error) {
	n, err = pw.W.Write(p)
	if n > 0 {
		pw.N += uint64(n)
	}
	return
}

// Reader is a reader that counts the bytes read through it
type Reader struct {
	R io.Reader
	N uint64
}

// Read implements io.Reader and tracks bytes read
func (pr *Reader) Read(p []byte) (n int, err error) {
	n, err = pr.R.Read(p)
	if n > 0 {
		pr.N += uint64(n)
	}
	return
}
