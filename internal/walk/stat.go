package rawls

import (
	"errors"

	"golang.org/x/sys/unix"
)

// lstat returns metadata for path without following a final symlink.
func lstat(path string) (Metadata, error) {
	var st unix.Stat_t
	for {
		err := unix.Lstat(path, &st)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return Metadata{}, err
		}
		return metadataFromStat(&st), nil
	}
}

// stat returns metadata for path, following symlinks.
func stat(path string) (Metadata, error) {
	var st unix.Stat_t
	for {
		err := unix.Stat(path, &st)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return Metadata{}, err
		}
		return metadataFromStat(&st), nil
	}
}

func metadataFromStat(st *unix.Stat_t) Metadata {
	return Metadata{
		Size: st.Size,
		Dev:  uint64(st.Dev), // int32 on darwin
		Mode: uint32(st.Mode),
		Ino:  st.Ino,
	}
}
