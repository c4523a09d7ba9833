//go:build linux

package rawls

// Bulk directory reads for Linux.
//
// Each call to Next issues one getdents64 into the frame's batch buffer and
// decodes the raw linux_dirent64 records in place:
//
//	struct linux_dirent64 {
//	    ino64_t        d_ino;    // offset 0
//	    off64_t        d_off;    // offset 8
//	    unsigned short d_reclen; // offset 16
//	    unsigned char  d_type;   // offset 18
//	    char           d_name[]; // offset 19, NUL terminated
//	};

import (
	"encoding/binary"
	"errors"
	"io"

	"golang.org/x/sys/unix"
)

const (
	direntInoOffset    = 0
	direntOffOffset    = 8
	direntReclenOffset = 16
	direntTypeOffset   = 18
	direntNameOffset   = 19
)

const batchSupported = true

var errInvalidDirent = errors.New("invalid dirent record")

type getdentsOpener struct {
	pool *batchPool
}

func newBatchOpener(pool *batchPool) (Opener, error) {
	return &getdentsOpener{pool: pool}, nil
}

func (o *getdentsOpener) Open(path string) (BatchReader, error) {
	fd, err := openDirFd(path)
	if err != nil {
		return nil, &AccessError{Path: path, Err: err}
	}
	// The listing is read once; keep it out of the page cache.
	_ = unix.Fadvise(fd, 0, 0, unix.FADV_NOREUSE)
	return &getdentsReader{path: path, fd: fd, pool: o.pool, state: o.pool.get()}, nil
}

// openDirFd opens path with O_NOATIME where permitted. The kernel refuses
// O_NOATIME with EPERM unless the caller owns the directory, in which case
// the open is retried without it.
func openDirFd(path string) (int, error) {
	flags := unix.O_RDONLY | unix.O_DIRECTORY | unix.O_CLOEXEC | unix.O_NOATIME
	for {
		fd, err := unix.Open(path, flags, 0)
		if err == nil {
			return fd, nil
		}
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EPERM) && flags&unix.O_NOATIME != 0:
			flags &^= unix.O_NOATIME
			continue
		}
		return -1, err
	}
}

type getdentsReader struct {
	path  string
	fd    int
	pool  *batchPool
	state *batchState
}

func (r *getdentsReader) Next() ([]DirEntry, error) {
	for {
		n, err := unix.Getdents(r.fd, r.state.buf)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return nil, &FatalReadError{Path: r.path, Err: err}
		}
		if n <= 0 {
			return nil, io.EOF
		}

		entries, err := parseDirents(r.state.buf[:n], r.state.entries[:0])
		r.state.entries = entries
		if err != nil {
			return nil, &FatalReadError{Path: r.path, Err: err}
		}
		if len(entries) == 0 {
			// Only "." and ".." in this batch.
			continue
		}
		return entries, nil
	}
}

func (r *getdentsReader) Close() error {
	if r.fd < 0 {
		return nil
	}
	_ = unix.Fadvise(r.fd, 0, 0, unix.FADV_DONTNEED)
	err := unix.Close(r.fd)
	r.fd = -1
	r.pool.put(r.state)
	r.state = nil
	return err
}

// parseDirents decodes the linux_dirent64 records in data and appends them
// to entries, dropping "." and ".." and records with a zero inode.
func parseDirents(data []byte, entries []DirEntry) ([]DirEntry, error) {
	for len(data) > 0 {
		if len(data) < direntNameOffset {
			return entries, errInvalidDirent
		}
		reclen := binary.NativeEndian.Uint16(data[direntReclenOffset:])
		if int(reclen) < direntNameOffset || int(reclen) > len(data) {
			return entries, errInvalidDirent
		}
		rec := data[:reclen]
		data = data[reclen:]

		name := rec[direntNameOffset:]
		for i, c := range name {
			if c == 0 {
				name = name[:i]
				break
			}
		}
		ino := binary.NativeEndian.Uint64(rec[direntInoOffset:])
		if len(name) == 0 || ino == 0 || isDotName(name) {
			continue
		}

		entries = append(entries, DirEntry{
			Ino:    ino,
			Off:    int64(binary.NativeEndian.Uint64(rec[direntOffOffset:])),
			RecLen: reclen,
			Type:   typeFromDT(rec[direntTypeOffset]),
			Name:   string(name),
		})
	}
	return entries, nil
}
