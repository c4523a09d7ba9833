package rawls

import (
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Outcome is what a directory visit reports to its parent.
type Outcome int

const (
	OutcomeEmpty        Outcome = iota // opened, nothing inside
	OutcomeNonEmpty                    // at least one entry was reported
	OutcomeInaccessible                // could not be probed or opened
	OutcomeSkipped                     // on another device
)

func (o Outcome) String() string {
	switch o {
	case OutcomeEmpty:
		return "empty"
	case OutcomeNonEmpty:
		return "non-empty"
	case OutcomeInaccessible:
		return "inaccessible"
	case OutcomeSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// leaf reports whether the parent must emit a record standing in for the
// directory.
func (o Outcome) leaf() bool { return o != OutcomeNonEmpty }

// RootError reports a root that could not be examined before the walk.
type RootError struct {
	Path string
	Err  error
}

func (e *RootError) Error() string { return fmt.Sprintf("stat root %s: %v", e.Path, e.Err) }

func (e *RootError) Unwrap() error { return e.Err }

// Options configures a Traverser. Zero values select the defaults.
type Options struct {
	BatchSize        int        // bytes per bulk directory read
	MaxPathLen       int        // longest path that can be listed
	Reader           ReaderKind // enumeration backend
	OutputBufferSize int        // bytes buffered in front of the output

	Logger      *zap.Logger  // debug tracing; nop when nil
	Diagnostics *Diagnostics // skip/error notices; stderr when nil
	Opener      Opener       // overrides Reader and BatchSize when set
}

// Traverser lists a directory tree depth first.
//
// A Traverser is not safe for concurrent use. It can be reused for several
// roots in turn; each Run or Watch starts from zeroed Stats and digest.
// During a walk every frame pushes one segment onto the path buffer before
// handling an entry and truncates back before the next.
type Traverser struct {
	opener   Opener
	path     *PathBuffer
	guard    DeviceGuard
	resolver TypeResolver
	emit     *Emitter
	diag     *Diagnostics
	log      *zap.Logger
	stats    *Stats
	maxPath  int
	root     string

	// onDir is called with the path of every directory after it has been
	// opened. The watcher uses it to register watches.
	onDir func(path string)
}

// New returns a Traverser writing records to out.
func New(out io.Writer, opts Options) (*Traverser, error) {
	opener := opts.Opener
	if opener == nil {
		var err error
		opener, err = NewOpener(opts.Reader, opts.BatchSize)
		if err != nil {
			return nil, err
		}
	}
	if opts.MaxPathLen <= 0 {
		opts.MaxPathLen = DefaultMaxPathLen
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Diagnostics == nil {
		opts.Diagnostics = NewDiagnostics(nil, LogFormatPlain)
	}

	stats := &Stats{}
	t := &Traverser{
		opener:   opener,
		guard:    DeviceGuard{stats: stats},
		resolver: TypeResolver{diag: opts.Diagnostics, stats: stats},
		emit:     NewEmitter(out, opts.OutputBufferSize, stats),
		diag:     opts.Diagnostics,
		log:      opts.Logger,
		stats:    stats,
		maxPath:  opts.MaxPathLen,
	}
	if so, ok := opener.(*scannerOpener); ok {
		so.observe = t.resolver.observe
	}
	return t, nil
}

// Run lists everything below root. The root itself is not reported.
//
// The root's device is captured first; a root that cannot be examined
// yields a *RootError before anything is written. The only error that can
// stop a started walk is a *FatalReadError (or a failure to write the
// output); records produced before it are flushed either way.
func (t *Traverser) Run(root string) (Stats, error) {
	start := time.Now()
	if err := t.setRoot(root); err != nil {
		return *t.stats, err
	}

	t.log.Debug("starting walk",
		zap.String("root", t.path.String()),
		zap.Uint64("device", t.guard.RootDevice()),
	)

	_, _, err := t.visit()
	if flushErr := t.emit.Flush(); err == nil {
		err = flushErr
	}
	_ = t.diag.Sync()

	t.stats.ElapsedTime = time.Since(start)
	t.stats.updateDerivedStats()

	t.log.Debug("walk finished",
		zap.Int64("records", t.stats.Records),
		zap.Duration("elapsed", t.stats.ElapsedTime),
		zap.Error(err),
	)
	return *t.stats, err
}

// Stats returns the counters accumulated so far.
func (t *Traverser) Stats() Stats { return *t.stats }

// setRoot resets the counters and the path buffer to root and captures the
// root device.
func (t *Traverser) setRoot(root string) error {
	*t.stats = Stats{}
	buf, err := NewPathBuffer(root, t.maxPath)
	if err != nil {
		return &RootError{Path: root, Err: err}
	}
	t.stats.MetadataLookups++
	md, err := stat(buf.WithSuffix(selfProbe))
	if err != nil {
		return &RootError{Path: buf.String(), Err: err}
	}
	t.path = buf
	t.root = buf.String()
	t.guard.rootDev = md.Dev
	return nil
}

// visit lists the directory held in the path buffer. The returned metadata
// belongs to the directory itself (zero if it could not be looked up) and is
// used by the parent for a leaf record.
func (t *Traverser) visit() (Outcome, Metadata, error) {
	defer t.path.Truncate(t.path.Len())

	decision, md, err := t.guard.Check(t.path)
	if err != nil {
		t.stats.ErrorCount++
		t.stats.Inaccessible++
		t.diag.Error(t.path.String(), fmt.Errorf("stat: %w", err))
		return OutcomeInaccessible, t.ownMetadata(), nil
	}
	if decision == Skip {
		t.stats.Skipped++
		t.diag.Skipping(t.path.String())
		return OutcomeSkipped, md, nil
	}

	r, err := t.opener.Open(t.path.String())
	if err != nil {
		t.stats.ErrorCount++
		t.stats.Inaccessible++
		var accessErr *AccessError
		if errors.As(err, &accessErr) {
			err = accessErr.Err
		}
		t.diag.Error(t.path.String(), fmt.Errorf("open: %w", err))
		return OutcomeInaccessible, md, nil
	}
	t.stats.DirsVisited++
	if t.onDir != nil {
		t.onDir(t.path.String())
	}

	if ce := t.log.Check(zapcore.DebugLevel, "reading directory"); ce != nil {
		ce.Write(zap.ByteString("path", t.path.Bytes()), zap.Uint64("inode", md.Ino))
	}

	nonEmpty, err := t.readAll(r)
	if closeErr := r.Close(); closeErr != nil && err == nil {
		t.log.Warn("close directory", zap.ByteString("path", t.path.Bytes()), zap.Error(closeErr))
	}
	if err != nil {
		return OutcomeInaccessible, md, err
	}
	if nonEmpty {
		return OutcomeNonEmpty, md, nil
	}
	return OutcomeEmpty, md, nil
}

// ownMetadata looks up the directory in the path buffer without entering
// it. A directory that cannot be searched is usually still visible from its
// parent. Zero is returned if that lookup fails too.
func (t *Traverser) ownMetadata() Metadata {
	t.stats.MetadataLookups++
	md, err := lstat(t.path.String())
	if err != nil {
		t.log.Debug("lstat inaccessible directory", zap.ByteString("path", t.path.Bytes()), zap.Error(err))
		return Metadata{}
	}
	return md
}

// readAll drains r, handling every entry. It reports whether anything was
// listed.
func (t *Traverser) readAll(r BatchReader) (bool, error) {
	nonEmpty := false
	for {
		batch, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nonEmpty, nil
		}
		if err != nil {
			return nonEmpty, err
		}
		t.stats.Batches++
		t.stats.Entries += int64(len(batch))

		for i := range batch {
			listed, err := t.entry(&batch[i])
			if err != nil {
				return nonEmpty, err
			}
			nonEmpty = nonEmpty || listed
		}
	}
}

// entry handles one directory entry of the directory in the path buffer.
// It reports whether the entry produced output (a record, a leaf record,
// or records below it).
func (t *Traverser) entry(e *DirEntry) (bool, error) {
	mark, err := t.path.Push(e.Name)
	if err != nil {
		t.stats.ErrorCount++
		t.diag.Error(t.path.WithSuffix("/"+e.Name), err)
		return false, nil
	}
	defer t.path.Truncate(mark)

	typ := e.Type
	var (
		md Metadata
		ok bool
	)
	if typ == TypeUnknown {
		typ, md, ok = t.resolver.Resolve(t.path.String())
	}

	if typ == TypeDirectory {
		outcome, dirMd, err := t.visit()
		if err != nil {
			return true, err
		}
		if outcome.leaf() {
			if err := t.emit.Record(e.Ino, TypeDirectory, dirMd.Size, e.RecLen, e.Off, t.path.Bytes()); err != nil {
				return true, err
			}
		}
		return true, nil
	}

	var size int64
	if typ.Sized() {
		size = t.resolver.Size(t.path.String(), md, ok)
	}
	if err := t.emit.Record(e.Ino, typ, size, e.RecLen, e.Off, t.path.Bytes()); err != nil {
		return true, err
	}
	return true, nil
}
