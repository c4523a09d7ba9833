package rawls

import (
	"bytes"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

var readerKinds = []ReaderKind{ReaderAuto, ReaderPortable}

// A file and an empty directory produce two records.
func TestRunFileAndEmptyDir(t *testing.T) {
	for _, kind := range readerKinds {
		t.Run(kind.String(), func(t *testing.T) {
			root := t.TempDir()
			writeFile(t, filepath.Join(root, "a.txt"), "hello")
			mkdir(t, filepath.Join(root, "b"))

			res := list(t, root, Options{Reader: kind})
			require.NoError(t, res.err)
			require.Len(t, res.records, 2)
			assert.Empty(t, res.diag)

			recs := byPath(res.records)
			a := recs[filepath.Join(root, "a.txt")]
			assert.Equal(t, "regular", a.Type)
			assert.EqualValues(t, 5, a.Size)
			assert.Equal(t, lstatT(t, filepath.Join(root, "a.txt")).Ino, a.Ino)

			b := recs[filepath.Join(root, "b")]
			bst := lstatT(t, filepath.Join(root, "b"))
			assert.Equal(t, "directory", b.Type)
			assert.EqualValues(t, bst.Size, b.Size)
			assert.Equal(t, bst.Ino, b.Ino)

			assert.EqualValues(t, 1, res.stats.LeafDirs)
			assert.EqualValues(t, 2, res.stats.Records)
		})
	}
}

// An unreadable directory becomes a leaf with one error diagnostic.
func TestRunInaccessibleDir(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}
	tests := []struct {
		name string
		mode os.FileMode
		op   string
	}{
		// Searchable but not readable: the probe succeeds, the open fails.
		{"unreadable", 0o300, "open"},
		// Not even searchable: the probe through "c/." fails.
		{"unsearchable", 0, "stat"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			c := filepath.Join(root, "c")
			writeFile(t, filepath.Join(c, "secret.txt"), "s")
			require.NoError(t, os.Chmod(c, tt.mode))
			t.Cleanup(func() { os.Chmod(c, 0o755) })

			res := list(t, root, Options{})
			require.NoError(t, res.err)
			require.Len(t, res.records, 1)
			assert.Equal(t, "directory", res.records[0].Type)
			assert.Equal(t, c, res.records[0].Path)
			// The leaf carries the directory's own metadata even when it
			// cannot be entered.
			assert.EqualValues(t, lstatT(t, c).Size, res.records[0].Size)
			assert.Equal(t, lstatT(t, c).Ino, res.records[0].Ino)
			assert.Equal(t, "error: "+c+" "+tt.op+": permission denied\n", res.diag)
			assert.EqualValues(t, 1, res.stats.Inaccessible)
			assert.EqualValues(t, 1, res.stats.ErrorCount)
		})
	}
}

// Only the innermost empty directory of a chain is reported; its parent
// is non-empty because it produced that record.
func TestRunNestedEmptyDirs(t *testing.T) {
	root := t.TempDir()
	mkdir(t, filepath.Join(root, "d", "e"))

	res := list(t, root, Options{})
	require.NoError(t, res.err)
	require.Len(t, res.records, 1)
	assert.Equal(t, filepath.Join(root, "d", "e"), res.records[0].Path)
	assert.Equal(t, "directory", res.records[0].Type)
}

func TestRunEmptyRoot(t *testing.T) {
	res := list(t, t.TempDir(), Options{})
	require.NoError(t, res.err)
	assert.Empty(t, res.records)
	assert.EqualValues(t, 1, res.stats.DirsVisited)
}

func TestRunMissingRoot(t *testing.T) {
	res := list(t, filepath.Join(t.TempDir(), "nope"), Options{})
	var rootErr *RootError
	require.ErrorAs(t, res.err, &rootErr)
	assert.ErrorIs(t, res.err, os.ErrNotExist)
	assert.Empty(t, res.records)
}

func TestRunRecordCounts(t *testing.T) {
	root := t.TempDir()
	want := createTestTree(t, root, 4, 5)

	res := list(t, root, Options{})
	require.NoError(t, res.err)
	assert.Len(t, res.records, want)

	// Every path is below the root, and each appears once.
	seen := mapset.NewThreadUnsafeSet[string]()
	for _, r := range res.records {
		assert.True(t, strings.HasPrefix(r.Path, root+"/"), "path %q outside root", r.Path)
		assert.True(t, seen.Add(r.Path), "duplicate record for %q", r.Path)
		assert.NotContains(t, []string{".", ".."}, filepath.Base(r.Path))
	}
}

func TestRunSizeFidelity(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "data.bin"), strings.Repeat("z", 1234))
	writeFile(t, filepath.Join(root, "empty"), "")
	require.NoError(t, os.Symlink("data.bin", filepath.Join(root, "link")))
	require.NoError(t, unix.Mkfifo(filepath.Join(root, "fifo"), 0o644))
	mkdir(t, filepath.Join(root, "sub"))
	writeFile(t, filepath.Join(root, "sub", "inner"), "abc")

	sock := filepath.Join(root, "sock")
	if l, err := net.Listen("unix", sock); err == nil {
		t.Cleanup(func() { l.Close() })
	} else {
		sock = ""
	}

	res := list(t, root, Options{})
	require.NoError(t, res.err)
	recs := byPath(res.records)

	assert.Equal(t, record{Type: "regular", Size: 1234}, stripBookkeeping(recs[filepath.Join(root, "data.bin")]))
	assert.Equal(t, record{Type: "regular", Size: 0}, stripBookkeeping(recs[filepath.Join(root, "empty")]))
	// Symlinks report the length of their target, never the target's size.
	assert.Equal(t, record{Type: "symlink", Size: int64(len("data.bin"))}, stripBookkeeping(recs[filepath.Join(root, "link")]))
	assert.Equal(t, record{Type: "FIFO", Size: 0}, stripBookkeeping(recs[filepath.Join(root, "fifo")]))
	assert.Equal(t, record{Type: "regular", Size: 3}, stripBookkeeping(recs[filepath.Join(root, "sub", "inner")]))
	if sock != "" {
		assert.Equal(t, record{Type: "socket", Size: 0}, stripBookkeeping(recs[sock]))
	}
	_, listed := recs[filepath.Join(root, "sub")]
	assert.False(t, listed, "non-empty directory must not get a record")
}

func stripBookkeeping(r record) record {
	return record{Type: r.Type, Size: r.Size}
}

func TestRunDeterministic(t *testing.T) {
	root := t.TempDir()
	createTestTree(t, root, 3, 4)
	mkdir(t, filepath.Join(root, "dir0", "empty"))

	collect := func(kind ReaderKind) (mapset.Set[key], uint64) {
		res := list(t, root, Options{Reader: kind})
		require.NoError(t, res.err)
		s := mapset.NewSet[key]()
		for _, r := range res.records {
			s.Add(r.key())
		}
		return s, res.stats.Digest
	}

	first, d1 := collect(ReaderAuto)
	second, d2 := collect(ReaderAuto)
	portable, d3 := collect(ReaderPortable)

	assert.True(t, first.Equal(second), "repeated runs differ: %v", first.SymmetricDifference(second))
	assert.True(t, first.Equal(portable), "readers differ: %v", first.SymmetricDifference(portable))
	assert.Equal(t, d1, d2)
	assert.Equal(t, d1, d3)
	assert.NotZero(t, d1)
}

// A directory on another device is skipped with one notice and reported
// as a single leaf.
func TestRunDeviceBoundary(t *testing.T) {
	root := t.TempDir()
	mnt := filepath.Join(root, "mnt")
	writeFile(t, filepath.Join(mnt, "inner.txt"), "inner")
	writeFile(t, filepath.Join(mnt, "deeper", "x"), "x")
	writeFile(t, filepath.Join(root, "f.txt"), "f")

	otherDevice := func(tr *Traverser) {
		tr.guard.probe = func(path string) (Metadata, error) {
			md, err := stat(path)
			if err == nil && path == mnt+selfProbe {
				md.Dev++
			}
			return md, err
		}
	}

	res := list(t, root, Options{}, otherDevice)
	require.NoError(t, res.err)
	assert.Equal(t, "skipping: "+mnt+"\n", res.diag)
	require.Len(t, res.records, 2)

	recs := byPath(res.records)
	assert.Equal(t, "directory", recs[mnt].Type)
	assert.Equal(t, lstatT(t, mnt).Ino, recs[mnt].Ino)
	assert.Contains(t, recs, filepath.Join(root, "f.txt"))
	assert.EqualValues(t, 1, res.stats.Skipped)
}

func TestRunDeviceCheckFailureIsLeaf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		msg  string
	}{
		{"io error", syscall.EIO, "input/output error"},
		{"not searchable", syscall.EACCES, "permission denied"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			dir := filepath.Join(root, "flaky")
			writeFile(t, filepath.Join(dir, "x"), "x")

			failing := func(tr *Traverser) {
				tr.guard.probe = func(path string) (Metadata, error) {
					if path == dir+selfProbe {
						return Metadata{}, tt.err
					}
					return stat(path)
				}
			}

			res := list(t, root, Options{}, failing)
			require.NoError(t, res.err)
			require.Len(t, res.records, 1)
			assert.Equal(t, dir, res.records[0].Path)
			assert.Equal(t, "directory", res.records[0].Type)
			assert.EqualValues(t, lstatT(t, dir).Size, res.records[0].Size)
			assert.NotZero(t, res.records[0].Size)
			assert.Equal(t, "error: "+dir+" stat: "+tt.msg+"\n", res.diag)
			assert.EqualValues(t, 1, res.stats.Inaccessible)
			assert.EqualValues(t, 1, res.stats.ErrorCount)
		})
	}
}

// Reusing a Traverser starts every listing from zeroed counters.
func TestRunReuseResetsStats(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a"), "a")
	writeFile(t, filepath.Join(root, "b"), "bb")

	var out bytes.Buffer
	tr, err := New(&out, Options{Diagnostics: NewDiagnostics(&bytes.Buffer{}, LogFormatPlain)})
	require.NoError(t, err)

	first, err := tr.Run(root)
	require.NoError(t, err)
	second, err := tr.Run(root)
	require.NoError(t, err)

	assert.EqualValues(t, 2, second.Records)
	assert.EqualValues(t, 3, second.BytesReported)
	assert.EqualValues(t, 1, second.DirsVisited)
	assert.EqualValues(t, 2, second.Types[TypeRegular])
	assert.Equal(t, first.Digest, second.Digest)
	assert.Equal(t, second, tr.Stats())
}

// Entries the portable reader cannot look up are listed with inode 0 and
// one error diagnostic each.
func TestRunPortableLookupFailure(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "good"), "g")
	writeFile(t, filepath.Join(root, "gone"), "x")
	gone := filepath.Join(root, "gone")

	opener := &scannerOpener{
		pool:  &batchPool{size: minBatchSize},
		limit: 16,
		lstat: func(path string) (Metadata, error) {
			if path == gone {
				return Metadata{}, syscall.ENOENT
			}
			return lstat(path)
		},
	}

	res := list(t, root, Options{Opener: opener})
	require.NoError(t, res.err)
	require.Len(t, res.records, 2)

	recs := byPath(res.records)
	assert.Zero(t, recs[gone].Ino)
	assert.Equal(t, lstatT(t, filepath.Join(root, "good")).Ino, recs[filepath.Join(root, "good")].Ino)
	assert.Equal(t, "error: "+gone+" lstat: no such file or directory\n", res.diag)
	assert.EqualValues(t, 1, res.stats.ErrorCount)
}

func TestRunPathOverflow(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "short"), "1")
	writeFile(t, filepath.Join(root, "muchlongername"), "2")

	res := list(t, root, Options{MaxPathLen: len(root) + len("/short")})
	require.NoError(t, res.err)
	require.Len(t, res.records, 1)
	assert.Equal(t, filepath.Join(root, "short"), res.records[0].Path)
	assert.Equal(t, "error: "+filepath.Join(root, "muchlongername")+" path exceeds maximum length\n", res.diag)
}

func TestRunRootTrailingSlash(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a"), "a")

	res := list(t, root+"/", Options{})
	require.NoError(t, res.err)
	require.Len(t, res.records, 1)
	assert.Equal(t, root+"/a", res.records[0].Path)
}

func TestRunRelativeRoot(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a"), "a")
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(root))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	res := list(t, ".", Options{})
	require.NoError(t, res.err)
	require.Len(t, res.records, 1)
	assert.Equal(t, "./a", res.records[0].Path)
}

// scriptedOpener serves canned batches for some directories and delegates
// everything else to the real reader.
type scriptedOpener struct {
	next    Opener
	scripts map[string][][]DirEntry
	fail    map[string]error
	open    int
}

func (o *scriptedOpener) Open(path string) (BatchReader, error) {
	if err, ok := o.fail[path]; ok {
		o.open++
		return &scriptedReader{opener: o, path: path, err: err}, nil
	}
	if batches, ok := o.scripts[path]; ok {
		o.open++
		return &scriptedReader{opener: o, path: path, batches: batches}, nil
	}
	r, err := o.next.Open(path)
	if err == nil {
		o.open++
		return &countingReader{BatchReader: r, opener: o}, nil
	}
	return nil, err
}

type scriptedReader struct {
	opener  *scriptedOpener
	path    string
	batches [][]DirEntry
	err     error
	closed  bool
}

func (r *scriptedReader) Next() ([]DirEntry, error) {
	if r.err != nil {
		return nil, &FatalReadError{Path: r.path, Err: r.err}
	}
	if len(r.batches) == 0 {
		return nil, io.EOF
	}
	b := r.batches[0]
	r.batches = r.batches[1:]
	return b, nil
}

func (r *scriptedReader) Close() error {
	if !r.closed {
		r.closed = true
		r.opener.open--
	}
	return nil
}

type countingReader struct {
	BatchReader
	opener *scriptedOpener
}

func (r *countingReader) Close() error {
	r.opener.open--
	return r.BatchReader.Close()
}

func TestRunFatalReadError(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "abc")
	writeFile(t, filepath.Join(root, "bad", "never.txt"), "n")
	writeFile(t, filepath.Join(root, "z.txt"), "z")

	base, err := NewOpener(ReaderAuto, 0)
	require.NoError(t, err)
	opener := &scriptedOpener{
		next: base,
		scripts: map[string][][]DirEntry{
			root: {
				{{Ino: 11, Type: TypeRegular, RecLen: 32, Off: 1, Name: "a.txt"}},
				{{Ino: 12, Type: TypeDirectory, RecLen: 32, Off: 2, Name: "bad"}},
				{{Ino: 13, Type: TypeRegular, RecLen: 32, Off: 3, Name: "z.txt"}},
			},
		},
		fail: map[string]error{filepath.Join(root, "bad"): syscall.EIO},
	}

	res := list(t, root, Options{Opener: opener})

	var fatal *FatalReadError
	require.ErrorAs(t, res.err, &fatal)
	assert.Equal(t, filepath.Join(root, "bad"), fatal.Path)
	assert.ErrorIs(t, res.err, syscall.EIO)

	// Output produced before the failure is flushed; nothing after it.
	require.Len(t, res.records, 1)
	assert.Equal(t, record{Ino: 11, Type: "regular", Size: 3, RecLen: 32, Off: 1, Path: filepath.Join(root, "a.txt")}, res.records[0])
	assert.Zero(t, opener.open, "directory handles left open")
}

// Entries whose type the reader could not determine are resolved with
// lstat, including directories that then get traversed.
func TestRunUnknownTypes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "file"), "12345")
	mkdir(t, filepath.Join(root, "dir"))
	writeFile(t, filepath.Join(root, "dir", "inner"), "1")

	base, err := NewOpener(ReaderAuto, 0)
	require.NoError(t, err)
	opener := &scriptedOpener{
		next: base,
		scripts: map[string][][]DirEntry{
			root: {{
				{Ino: 1, Type: TypeUnknown, Name: "file"},
				{Ino: 2, Type: TypeUnknown, Name: "dir"},
				{Ino: 3, Type: TypeUnknown, Name: "vanished"},
			}},
		},
	}

	res := list(t, root, Options{Opener: opener})
	require.NoError(t, res.err)

	recs := byPath(res.records)
	require.Len(t, recs, 3)
	assert.Equal(t, record{Type: "regular", Size: 5}, stripBookkeeping(recs[filepath.Join(root, "file")]))
	assert.Equal(t, "regular", recs[filepath.Join(root, "dir", "inner")].Type)
	assert.Equal(t, record{Type: "???", Size: 0}, stripBookkeeping(recs[filepath.Join(root, "vanished")]))
	assert.Equal(t, "error: "+filepath.Join(root, "vanished")+" lstat: no such file or directory\n", res.diag)
	assert.Zero(t, opener.open)
}

func TestRunWriteError(t *testing.T) {
	root := t.TempDir()
	createTestTree(t, root, 2, 3)

	tr, err := New(failingWriter{}, Options{OutputBufferSize: 16, Diagnostics: NewDiagnostics(io.Discard, LogFormatPlain)})
	require.NoError(t, err)
	_, err = tr.Run(root)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errBrokenPipe))
}

var errBrokenPipe = errors.New("broken pipe")

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errBrokenPipe }
