package rawls

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ProgressFn is called with a snapshot of the statistics after each batch
// of output reaches the writer.
type ProgressFn func(stats Stats)

// WatchOptions configures Watch.
type WatchOptions struct {
	// Timeout stops watching after the given duration (0 means until the
	// context is done).
	Timeout time.Duration

	// Progress, if set, is called from the watch loop after the initial
	// listing and after every handled event.
	Progress ProgressFn
}

// Watch lists root like Run and then keeps listing whatever is created or
// modified below it until ctx is done.
//
// Every directory opened during the listing is watched. A created file
// produces one record; a created directory on the root's device is listed
// the same way Run lists the root (or reported as a leaf), and watched in
// turn. Removals and renames are reported as "removed:" diagnostics since
// the record format has no way to express them. Records from events have a
// record length and offset of 0.
func (t *Traverser) Watch(ctx context.Context, root string, opts WatchOptions) (Stats, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return *t.stats, fmt.Errorf("error creating watcher: %w", err)
	}
	defer watcher.Close()

	t.onDir = func(path string) {
		if err := watcher.Add(path); err != nil {
			t.stats.ErrorCount++
			t.diag.Error(path, fmt.Errorf("watch: %w", err))
		}
	}
	defer func() { t.onDir = nil }()

	start := time.Now()
	if err := t.setRoot(root); err != nil {
		return *t.stats, err
	}
	cleanRoot := filepath.Clean(t.root)

	if _, _, err := t.visit(); err != nil {
		_ = t.emit.Flush()
		return *t.stats, err
	}
	if err := t.emit.Flush(); err != nil {
		return *t.stats, err
	}
	t.progress(opts.Progress, start)

	t.log.Debug("watching", zap.String("root", t.root))

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return t.finishWatch(start, nil)
			}
			t.stats.Events++
			path := t.displayPath(cleanRoot, event.Name)
			if err := t.handleEvent(event, path); err != nil {
				return t.finishWatch(start, err)
			}
			if err := t.emit.Flush(); err != nil {
				return t.finishWatch(start, err)
			}
			t.progress(opts.Progress, start)

		case err, ok := <-watcher.Errors:
			if !ok {
				return t.finishWatch(start, nil)
			}
			t.stats.ErrorCount++
			t.diag.Error(t.root, fmt.Errorf("watcher: %w", err))

		case <-ctx.Done():
			return t.finishWatch(start, nil)
		}
	}
}

func (t *Traverser) finishWatch(start time.Time, err error) (Stats, error) {
	if flushErr := t.emit.Flush(); err == nil {
		err = flushErr
	}
	_ = t.diag.Sync()
	t.stats.ElapsedTime = time.Since(start)
	t.stats.updateDerivedStats()
	return *t.stats, err
}

func (t *Traverser) progress(fn ProgressFn, start time.Time) {
	if fn == nil {
		return
	}
	t.stats.ElapsedTime = time.Since(start)
	t.stats.updateDerivedStats()
	fn(*t.stats)
}

// displayPath spells an event path the way the listing spells paths below
// the root. fsnotify cleans watched paths, so "./a" arrives as "a".
func (t *Traverser) displayPath(cleanRoot, name string) string {
	rel, err := filepath.Rel(cleanRoot, name)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return name
	}
	if rel == "." {
		return t.root
	}
	if strings.HasSuffix(t.root, string(os.PathSeparator)) {
		return t.root + rel
	}
	return t.root + string(os.PathSeparator) + rel
}

func (t *Traverser) handleEvent(event fsnotify.Event, path string) error {
	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		t.diag.Removed(path)
		return nil
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Chmod) {
		return nil
	}

	t.stats.MetadataLookups++
	md, err := lstat(path)
	if err != nil {
		// Gone again before we got to it.
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		t.stats.ErrorCount++
		t.diag.Error(path, fmt.Errorf("lstat: %w", err))
		return nil
	}

	typ := TypeFromMode(md.Mode)
	if typ != TypeDirectory {
		var size int64
		if typ.Sized() {
			size = md.Size
		}
		return t.emit.Record(md.Ino, typ, size, 0, 0, []byte(path))
	}
	if !event.Has(fsnotify.Create) {
		return nil
	}

	if err := t.path.Reset(path); err != nil {
		t.stats.ErrorCount++
		t.diag.Error(path, err)
		return nil
	}
	outcome, dirMd, err := t.visit()
	if err != nil {
		return err
	}
	if outcome.leaf() {
		return t.emit.Record(md.Ino, TypeDirectory, dirMd.Size, 0, 0, t.path.Bytes())
	}
	return nil
}
