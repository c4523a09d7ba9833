package rawls

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// DefaultOutputBufferSize is the size of the buffer in front of the output.
const DefaultOutputBufferSize = 1 << 20

// Emitter writes output records:
//
//	<inode>;<type-name>;<size>;<record-length>;<next-offset>;'<path>'
//
// Records are built in a scratch buffer and written through a bufio.Writer;
// nothing reaches the underlying writer until the buffer fills or Flush is
// called.
type Emitter struct {
	w       *bufio.Writer
	scratch []byte
	digest  *xxhash.Digest
	stats   *Stats
}

// NewEmitter returns an Emitter writing to w through a buffer of bufSize
// bytes.
func NewEmitter(w io.Writer, bufSize int, stats *Stats) *Emitter {
	if bufSize <= 0 {
		bufSize = DefaultOutputBufferSize
	}
	if stats == nil {
		stats = &Stats{}
	}
	return &Emitter{
		w:       bufio.NewWriterSize(w, bufSize),
		scratch: make([]byte, 0, 512),
		digest:  xxhash.New(),
		stats:   stats,
	}
}

// Record writes one record.
func (e *Emitter) Record(ino uint64, t EntryType, size int64, reclen uint16, off int64, path []byte) error {
	b := e.scratch[:0]
	b = strconv.AppendUint(b, ino, 10)
	b = append(b, ';')
	b = append(b, t.String()...)
	b = append(b, ';')
	b = strconv.AppendInt(b, size, 10)
	b = append(b, ';')
	b = strconv.AppendUint(b, uint64(reclen), 10)
	b = append(b, ';')
	b = strconv.AppendInt(b, off, 10)
	b = append(b, ';', '\'')
	b = append(b, path...)
	b = append(b, '\'', '\n')
	e.scratch = b

	if _, err := e.w.Write(b); err != nil {
		return fmt.Errorf("write record: %w", err)
	}

	e.stats.Records++
	e.stats.Types[int(t)%numEntryTypes]++
	e.stats.BytesReported += size
	if t == TypeDirectory {
		e.stats.LeafDirs++
	}
	e.stats.Digest += e.entryHash(ino, t, size, path)
	return nil
}

// entryHash hashes the fields of a record that do not depend on
// enumeration order. Summing these hashes gives a digest of the listing
// that is stable across runs over the same tree.
func (e *Emitter) entryHash(ino uint64, t EntryType, size int64, path []byte) uint64 {
	var hdr [17]byte
	for i := 0; i < 8; i++ {
		hdr[i] = byte(ino >> (8 * i))
		hdr[8+i] = byte(uint64(size) >> (8 * i))
	}
	hdr[16] = byte(t)
	e.digest.Reset()
	_, _ = e.digest.Write(hdr[:])
	_, _ = e.digest.Write(path)
	return e.digest.Sum64()
}

// Flush writes any buffered records to the underlying writer.
func (e *Emitter) Flush() error {
	if err := e.w.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return nil
}
