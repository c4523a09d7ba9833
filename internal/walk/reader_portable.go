package rawls

import (
	"errors"
	"io"
	"os"

	"github.com/karrick/godirwalk"
)

// scannerOpener enumerates directories one entry at a time with
// godirwalk's Scanner and groups the results into batches. It is the
// fallback for platforms without getdents64.
//
// godirwalk does not expose inode numbers, so each entry costs one lstat.
// RecLen is always 0 and Off counts entries from the start of the
// directory.
type scannerOpener struct {
	pool  *batchPool
	limit int

	// observe is told about every per-entry lookup. A failed lookup leaves
	// the entry with inode 0.
	observe func(path string, err error)
	lstat   func(path string) (Metadata, error) // lstat unless set
}

func (o *scannerOpener) Open(path string) (BatchReader, error) {
	state := o.pool.get()
	scanner, err := godirwalk.NewScannerWithScratchBuffer(path, state.buf)
	if err != nil {
		o.pool.put(state)
		var pathErr *os.PathError
		if errors.As(err, &pathErr) {
			err = pathErr.Err
		}
		return nil, &AccessError{Path: path, Err: err}
	}
	lookup := o.lstat
	if lookup == nil {
		lookup = lstat
	}
	return &scannerReader{
		path:    path,
		scanner: scanner,
		pool:    o.pool,
		state:   state,
		limit:   o.limit,
		lstat:   lookup,
		observe: o.observe,
	}, nil
}

type scannerReader struct {
	path    string
	scanner *godirwalk.Scanner
	pool    *batchPool
	state   *batchState
	limit   int
	pos     int64
	done    bool
	lstat   func(path string) (Metadata, error)
	observe func(path string, err error)
}

func (r *scannerReader) Next() ([]DirEntry, error) {
	if r.done {
		return nil, io.EOF
	}
	entries := r.state.entries[:0]
	for len(entries) < r.limit {
		if !r.scanner.Scan() {
			r.done = true
			if err := r.scanner.Err(); err != nil {
				r.state.entries = entries
				return nil, &FatalReadError{Path: r.path, Err: err}
			}
			break
		}
		name := r.scanner.Name()
		r.pos++
		entry := DirEntry{Off: r.pos, Name: name}
		if de, err := r.scanner.Dirent(); err == nil {
			entry.Type = typeFromFileMode(de.ModeType())
		}
		full := r.path + string(os.PathSeparator) + name
		md, err := r.lstat(full)
		if r.observe != nil {
			r.observe(full, err)
		}
		if err == nil {
			entry.Ino = md.Ino
			if entry.Type == TypeUnknown {
				entry.Type = TypeFromMode(md.Mode)
			}
		}
		entries = append(entries, entry)
	}
	r.state.entries = entries
	if len(entries) == 0 {
		return nil, io.EOF
	}
	return entries, nil
}

func (r *scannerReader) Close() error {
	if r.state == nil {
		return nil
	}
	var err error
	if !r.done {
		err = r.scanner.Close()
		r.done = true
	}
	r.pool.put(r.state)
	r.state = nil
	return err
}

// typeFromFileMode maps the type bits of an os.FileMode to an EntryType.
func typeFromFileMode(m os.FileMode) EntryType {
	switch {
	case m.IsRegular():
		return TypeRegular
	case m&os.ModeDir != 0:
		return TypeDirectory
	case m&os.ModeSymlink != 0:
		return TypeSymlink
	case m&os.ModeNamedPipe != 0:
		return TypeFIFO
	case m&os.ModeSocket != 0:
		return TypeSocket
	case m&os.ModeCharDevice != 0:
		return TypeCharDevice
	case m&os.ModeDevice != 0:
		return TypeBlockDevice
	default:
		return TypeUnknown
	}
}
