package rawls

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// DefaultMaxPathLen is the path length limit used when none is configured.
const DefaultMaxPathLen = 4096

// ErrPathOverflow is returned when a push would grow a path past its limit.
var ErrPathOverflow = errors.New("path exceeds maximum length")

// PathBuffer is the single path shared by every frame of a traversal.
//
// Frames append one segment with Push before descending and restore the
// previous length with Truncate when the child is done, so siblings never
// observe each other's suffix. The buffer never grows past max bytes; the
// backing array is allocated once.
type PathBuffer struct {
	buf []byte
	max int
}

// NewPathBuffer returns a buffer holding root with trailing separators
// removed (a root of "/" is kept as is).
func NewPathBuffer(root string, max int) (*PathBuffer, error) {
	if max <= 0 {
		max = DefaultMaxPathLen
	}
	root = normalizeRoot(root)
	if len(root) > max {
		return nil, fmt.Errorf("root %q: %w", root, ErrPathOverflow)
	}
	b := &PathBuffer{buf: make([]byte, 0, max), max: max}
	b.buf = append(b.buf, root...)
	return b, nil
}

func normalizeRoot(root string) string {
	if root == "" {
		return "."
	}
	trimmed := strings.TrimRight(root, string(os.PathSeparator))
	if trimmed == "" {
		return string(os.PathSeparator)
	}
	return trimmed
}

// Push appends a separator (unless the path already ends with one) and
// segment. It returns the length before the push, to be handed back to
// Truncate. On overflow the buffer is left unchanged.
func (b *PathBuffer) Push(segment string) (int, error) {
	mark := len(b.buf)
	need := len(segment)
	sep := mark == 0 || b.buf[mark-1] != os.PathSeparator
	if sep {
		need++
	}
	if mark+need > b.max {
		return mark, ErrPathOverflow
	}
	if sep {
		b.buf = append(b.buf, os.PathSeparator)
	}
	b.buf = append(b.buf, segment...)
	return mark, nil
}

// Reset replaces the whole path, e.g. to start a walk at a different
// directory. The buffer is unchanged on overflow.
func (b *PathBuffer) Reset(path string) error {
	path = normalizeRoot(path)
	if len(path) > b.max {
		return ErrPathOverflow
	}
	b.buf = append(b.buf[:0], path...)
	return nil
}

// Truncate restores the buffer to a length previously returned by Push or
// Len.
func (b *PathBuffer) Truncate(mark int) {
	if mark < 0 || mark > len(b.buf) {
		panic(fmt.Sprintf("rawls: truncate mark %d out of range [0,%d]", mark, len(b.buf)))
	}
	b.buf = b.buf[:mark]
}

// Len returns the current length in bytes.
func (b *PathBuffer) Len() int { return len(b.buf) }

// Max returns the configured limit.
func (b *PathBuffer) Max() int { return b.max }

// String returns a copy of the current path.
func (b *PathBuffer) String() string { return string(b.buf) }

// Bytes returns the current path without copying. The slice is only valid
// until the next Push or Truncate.
func (b *PathBuffer) Bytes() []byte { return b.buf }

// WithSuffix returns the current path followed by suffix without modifying
// the buffer. Used for probes such as "dir/.".
func (b *PathBuffer) WithSuffix(suffix string) string {
	if len(b.buf) > 0 && b.buf[len(b.buf)-1] == os.PathSeparator && len(suffix) > 0 && suffix[0] == os.PathSeparator {
		suffix = suffix[1:]
	}
	return string(b.buf) + suffix
}
