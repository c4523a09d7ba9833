package rawls

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultBatchSize is the size of the buffer handed to each bulk directory
// read. Large enough that most directories are read in a single call.
const DefaultBatchSize = 8 << 20

// minBatchSize keeps the buffer large enough for any single dirent.
const minBatchSize = 32 << 10

// ErrBatchUnsupported is returned when the bulk reader is requested on a
// platform that has no getdents-style interface.
var ErrBatchUnsupported = errors.New("batch directory reads are not supported on this platform")

// ReaderKind selects the directory enumeration backend.
type ReaderKind int

const (
	ReaderAuto     ReaderKind = iota // bulk reads where supported, portable otherwise
	ReaderBatch                      // getdents64
	ReaderPortable                   // godirwalk scanner
)

func (k ReaderKind) String() string {
	switch k {
	case ReaderBatch:
		return "batch"
	case ReaderPortable:
		return "portable"
	default:
		return "auto"
	}
}

// ParseReaderKind parses the configuration spelling of a ReaderKind.
func ParseReaderKind(s string) (ReaderKind, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return ReaderAuto, nil
	case "batch", "getdents":
		return ReaderBatch, nil
	case "portable":
		return ReaderPortable, nil
	default:
		return ReaderAuto, fmt.Errorf("unknown reader %q", s)
	}
}

// BatchReader yields the entries of one open directory.
//
// Next returns io.EOF once the directory is exhausted and a
// *FatalReadError if a bulk read fails. The returned slice, and the names
// in it, are only valid until the following call to Next or Close.
type BatchReader interface {
	Next() ([]DirEntry, error)
	Close() error
}

// Opener opens directories for enumeration. Open failures are reported as
// *AccessError.
type Opener interface {
	Open(path string) (BatchReader, error)
}

// AccessError reports a directory that could not be opened.
type AccessError struct {
	Path string
	Err  error
}

func (e *AccessError) Error() string { return fmt.Sprintf("open %s: %v", e.Path, e.Err) }

func (e *AccessError) Unwrap() error { return e.Err }

// FatalReadError reports a failed bulk read. The state of the directory
// stream is unknown afterwards, so the traversal cannot continue.
type FatalReadError struct {
	Path string
	Err  error
}

func (e *FatalReadError) Error() string { return fmt.Sprintf("getdents %s: %v", e.Path, e.Err) }

func (e *FatalReadError) Unwrap() error { return e.Err }

// NewOpener returns the Opener for kind with batch buffers of batchSize
// bytes.
func NewOpener(kind ReaderKind, batchSize int) (Opener, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if batchSize < minBatchSize {
		batchSize = minBatchSize
	}
	pool := &batchPool{size: batchSize}

	switch kind {
	case ReaderPortable:
		return &scannerOpener{pool: pool, limit: entriesPerBatch(batchSize)}, nil
	case ReaderBatch:
		return newBatchOpener(pool)
	default:
		if batchSupported {
			return newBatchOpener(pool)
		}
		return &scannerOpener{pool: pool, limit: entriesPerBatch(batchSize)}, nil
	}
}

// entriesPerBatch approximates how many entries fit in size bytes of raw
// dirents so the portable reader batches on the same scale.
func entriesPerBatch(size int) int {
	n := size / 64
	if n < 1 {
		n = 1
	}
	return n
}

// batchState is the per-frame scratch space of a reader.
type batchState struct {
	buf     []byte
	entries []DirEntry
}

// batchPool recycles batch buffers. Directories are opened and closed in
// stack order, so a run holds one buffer per active frame and reuses them
// as the walk moves between subtrees.
type batchPool struct {
	size int
	free []*batchState
}

func (p *batchPool) get() *batchState {
	if n := len(p.free); n > 0 {
		s := p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		return s
	}
	return &batchState{buf: make([]byte, p.size)}
}

func (p *batchPool) put(s *batchState) {
	if s == nil {
		return
	}
	clear(s.entries)
	s.entries = s.entries[:0]
	p.free = append(p.free, s)
}
