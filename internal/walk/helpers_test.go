package rawls

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// record is one parsed output line.
type record struct {
	Ino    uint64
	Type   string
	Size   int64
	RecLen uint64
	Off    int64
	Path   string
}

// key is the part of a record that does not depend on enumeration order.
type key struct {
	Ino  uint64
	Type string
	Path string
	Size int64
}

func (r record) key() key { return key{r.Ino, r.Type, r.Path, r.Size} }

func parseRecords(t testing.TB, out string) []record {
	t.Helper()
	var recs []record
	for _, line := range strings.Split(strings.TrimSuffix(out, "\n"), "\n") {
		if line == "" {
			continue
		}
		f := strings.SplitN(line, ";", 6)
		require.Len(t, f, 6, "malformed record %q", line)
		ino, err := strconv.ParseUint(f[0], 10, 64)
		require.NoError(t, err, line)
		size, err := strconv.ParseInt(f[2], 10, 64)
		require.NoError(t, err, line)
		reclen, err := strconv.ParseUint(f[3], 10, 16)
		require.NoError(t, err, line)
		off, err := strconv.ParseInt(f[4], 10, 64)
		require.NoError(t, err, line)
		require.True(t, len(f[5]) >= 2 && f[5][0] == '\'' && f[5][len(f[5])-1] == '\'', "unquoted path in %q", line)
		recs = append(recs, record{
			Ino:    ino,
			Type:   f[1],
			Size:   size,
			RecLen: reclen,
			Off:    off,
			Path:   f[5][1 : len(f[5])-1],
		})
	}
	return recs
}

func byPath(recs []record) map[string]record {
	m := make(map[string]record, len(recs))
	for _, r := range recs {
		m[r.Path] = r
	}
	return m
}

type listing struct {
	records []record
	diag    string
	stats   Stats
	err     error
}

// list runs a Traverser over root with opts, capturing records and
// diagnostics.
func list(t testing.TB, root string, opts Options, setup ...func(*Traverser)) listing {
	t.Helper()
	var out, diag bytes.Buffer
	if opts.Diagnostics == nil {
		opts.Diagnostics = NewDiagnostics(&diag, LogFormatPlain)
	}
	tr, err := New(&out, opts)
	require.NoError(t, err)
	for _, fn := range setup {
		fn(tr)
	}
	stats, err := tr.Run(root)
	return listing{records: parseRecords(t, out.String()), diag: diag.String(), stats: stats, err: err}
}

func writeFile(t testing.TB, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func mkdir(t testing.TB, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(path, 0o755))
}

func lstatT(t testing.TB, path string) unix.Stat_t {
	t.Helper()
	var st unix.Stat_t
	require.NoError(t, unix.Lstat(path, &st))
	return st
}

// createTestTree creates depth levels of directories with files files in
// each and returns the number of records a listing should produce.
func createTestTree(t testing.TB, root string, depth, files int) int {
	t.Helper()
	records := 0
	for i := 0; i < files; i++ {
		writeFile(t, filepath.Join(root, "file"+strconv.Itoa(i)+".txt"), strings.Repeat("x", i))
		records++
	}
	if depth <= 1 {
		return records
	}
	for i := 0; i < 3; i++ {
		sub := filepath.Join(root, "dir"+strconv.Itoa(i))
		mkdir(t, sub)
		n := createTestTree(t, sub, depth-1, files)
		if n == 0 {
			n = 1 // reported as a leaf
		}
		records += n
	}
	return records
}
