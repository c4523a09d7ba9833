// Package walk provides raw, device-bounded directory listings.
//
// It is the public face of the rawls walker: a listing writes one
// machine-parsable record per entry below a root without crossing onto
// other filesystems.
package walk

import (
	"context"
	"io"

	internal "github.com/TFMV/rawls/internal/walk"
)

// Re-export the types callers need from the internal package
type (
	// Options configures a listing. Zero values select the defaults.
	Options = internal.Options

	// Stats holds the counters of one listing.
	Stats = internal.Stats

	// ReaderKind selects the directory enumeration backend.
	ReaderKind = internal.ReaderKind

	// EntryType classifies a directory entry.
	EntryType = internal.EntryType

	// LogLevel defines the verbosity of debug logging.
	LogLevel = internal.LogLevel

	// LogFormat selects how diagnostics are rendered.
	LogFormat = internal.LogFormat

	// Diagnostics reports skipped and failed directories.
	Diagnostics = internal.Diagnostics

	// WatchOptions configures Watch.
	WatchOptions = internal.WatchOptions

	// ProgressFn receives statistics snapshots while watching.
	ProgressFn = internal.ProgressFn

	// Error types
	RootError      = internal.RootError
	AccessError    = internal.AccessError
	FatalReadError = internal.FatalReadError
)

// Re-export the constants
const (
	ReaderAuto     = internal.ReaderAuto
	ReaderBatch    = internal.ReaderBatch
	ReaderPortable = internal.ReaderPortable

	LogLevelError = internal.LogLevelError
	LogLevelWarn  = internal.LogLevelWarn
	LogLevelInfo  = internal.LogLevelInfo
	LogLevelDebug = internal.LogLevelDebug

	LogFormatPlain = internal.LogFormatPlain
	LogFormatJSON  = internal.LogFormatJSON

	DefaultBatchSize        = internal.DefaultBatchSize
	DefaultMaxPathLen       = internal.DefaultMaxPathLen
	DefaultOutputBufferSize = internal.DefaultOutputBufferSize
)

// ErrPathOverflow is reported for paths longer than Options.MaxPathLen.
var ErrPathOverflow = internal.ErrPathOverflow

// NewDiagnostics writes diagnostics to w (stderr when nil).
func NewDiagnostics(w io.Writer, format LogFormat) *Diagnostics {
	return internal.NewDiagnostics(w, format)
}

// List writes the listing of root to out.
func List(root string, out io.Writer, opts Options) (Stats, error) {
	t, err := internal.New(out, opts)
	if err != nil {
		return Stats{}, err
	}
	return t.Run(root)
}

// Watch writes the listing of root to out and then keeps writing records
// for entries created or modified below it until ctx is done.
func Watch(ctx context.Context, root string, out io.Writer, opts Options, watchOpts WatchOptions) (Stats, error) {
	t, err := internal.New(out, opts)
	if err != nil {
		return Stats{}, err
	}
	return t.Watch(ctx, root, watchOpts)
}
