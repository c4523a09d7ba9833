// Listing
//
// A listing prints one line per entry:
//
//	<inode>;<type>;<size>;<record-length>;<next-offset>;'<path>'
//
// Directories only get a line of their own when nothing below them was
// listed (they were empty, unreadable or on another filesystem):
//
//	stats, err := walk.List("/srv/data", os.Stdout, walk.Options{})
//
//	// Portable reader, JSON diagnostics
//	stats, err := walk.List("/srv/data", w, walk.Options{
//		Reader:      walk.ReaderPortable,
//		Diagnostics: walk.NewDiagnostics(os.Stderr, walk.LogFormatJSON),
//	})
//
// Watch Functionality
//
//	// List, then follow changes for ten minutes
//	stats, err := walk.Watch(ctx, "/srv/data", os.Stdout, walk.Options{},
//		walk.WatchOptions{Timeout: 10 * time.Minute})

package walk
