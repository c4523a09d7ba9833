// Package rawls lists every entry below a root directory without crossing
// device boundaries, one machine-parsable record per entry.
//
// Directory contents are read in large batches (getdents64 on Linux) and
// entry metadata is only fetched when the batch cannot answer a question
// itself: an unknown entry type, the size of a regular file or symlink, or
// the device id of a directory about to be entered.
package rawls

import "golang.org/x/sys/unix"

// EntryType classifies a directory entry.
type EntryType uint8

const (
	TypeUnknown EntryType = iota
	TypeRegular
	TypeDirectory
	TypeFIFO
	TypeSocket
	TypeSymlink
	TypeBlockDevice
	TypeCharDevice

	numEntryTypes = int(TypeCharDevice) + 1
)

// String returns the name used in output records.
func (t EntryType) String() string {
	switch t {
	case TypeRegular:
		return "regular"
	case TypeDirectory:
		return "directory"
	case TypeFIFO:
		return "FIFO"
	case TypeSocket:
		return "socket"
	case TypeSymlink:
		return "symlink"
	case TypeBlockDevice:
		return "blockdev"
	case TypeCharDevice:
		return "chardev"
	default:
		return "???"
	}
}

// Sized reports whether records of this type carry a non-zero size.
func (t EntryType) Sized() bool {
	return t == TypeRegular || t == TypeSymlink
}

// DirEntry is one raw directory entry as returned by a BatchReader.
//
// Entries are only valid while the batch they came from is being
// processed; readers reuse their storage on the next call to Next.
type DirEntry struct {
	Ino    uint64
	Off    int64 // opaque cookie of the next entry
	RecLen uint16
	Type   EntryType
	Name   string
}

// Metadata is the subset of stat(2) results rawls needs.
type Metadata struct {
	Size int64
	Dev  uint64
	Mode uint32
	Ino  uint64
}

// TypeFromMode maps stat(2) mode bits to an EntryType.
func TypeFromMode(mode uint32) EntryType {
	switch mode & unix.S_IFMT {
	case unix.S_IFREG:
		return TypeRegular
	case unix.S_IFDIR:
		return TypeDirectory
	case unix.S_IFIFO:
		return TypeFIFO
	case unix.S_IFSOCK:
		return TypeSocket
	case unix.S_IFLNK:
		return TypeSymlink
	case unix.S_IFBLK:
		return TypeBlockDevice
	case unix.S_IFCHR:
		return TypeCharDevice
	default:
		return TypeUnknown
	}
}

// typeFromDT maps a d_type value to an EntryType.
func typeFromDT(dt uint8) EntryType {
	switch dt {
	case unix.DT_REG:
		return TypeRegular
	case unix.DT_DIR:
		return TypeDirectory
	case unix.DT_FIFO:
		return TypeFIFO
	case unix.DT_SOCK:
		return TypeSocket
	case unix.DT_LNK:
		return TypeSymlink
	case unix.DT_BLK:
		return TypeBlockDevice
	case unix.DT_CHR:
		return TypeCharDevice
	default:
		return TypeUnknown
	}
}

func isDotName(name []byte) bool {
	if len(name) == 1 && name[0] == '.' {
		return true
	}
	return len(name) == 2 && name[0] == '.' && name[1] == '.'
}
