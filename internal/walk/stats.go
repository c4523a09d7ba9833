package rawls

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Stats holds counters for one traversal.
type Stats struct {
	Records         int64         // Lines written to the output
	LeafDirs        int64         // Directory leaf records among them
	DirsVisited     int64         // Directories opened and read
	Skipped         int64         // Directories on another device
	Inaccessible    int64         // Directories that could not be opened
	ErrorCount      int64         // Diagnostics of type error
	Batches         int64         // Bulk directory reads that returned entries
	Entries         int64         // Raw entries returned by those reads
	MetadataLookups int64         // stat/lstat calls
	BytesReported   int64         // Sum of the size fields written
	ElapsedTime     time.Duration // Wall time of the run
	RecordsPerSec   float64       // Derived throughput
	Digest          uint64        // Order-independent digest of the listing
	Events          int64         // Filesystem events handled while watching

	Types [numEntryTypes]int64 // Records by entry type, indexed by EntryType
}

// updateDerivedStats calculates derived statistics like rates.
func (s *Stats) updateDerivedStats() {
	elapsedSec := s.ElapsedTime.Seconds()
	if elapsedSec > 0 && s.Records > 0 {
		s.RecordsPerSec = float64(s.Records) / elapsedSec
	} else {
		s.RecordsPerSec = 0
	}
}

// WriteSummary prints a human readable summary of s.
func (s Stats) WriteSummary(w io.Writer) error {
	p := message.NewPrinter(language.English)
	_, err := p.Fprintf(w,
		"records: %d (%d leaf directories)\n"+
			"directories: %d read, %d skipped, %d inaccessible\n"+
			"batches: %d (%d entries), metadata lookups: %d\n"+
			"types: %s\n"+
			"errors: %d\n"+
			"reported size: %s\n"+
			"elapsed: %s (%.0f records/s)\n"+
			"digest: %016x\n",
		s.Records, s.LeafDirs,
		s.DirsVisited, s.Skipped, s.Inaccessible,
		s.Batches, s.Entries, s.MetadataLookups,
		s.typeBreakdown(p),
		s.ErrorCount,
		humanize.IBytes(uint64(max(s.BytesReported, 0))),
		s.ElapsedTime.Round(time.Millisecond), s.RecordsPerSec,
		s.Digest,
	)
	if err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

// typeBreakdown lists the non-zero per-type record counts in type order.
func (s Stats) typeBreakdown(p *message.Printer) string {
	var parts []string
	for t, n := range s.Types {
		if n > 0 {
			parts = append(parts, p.Sprintf("%d %s", n, EntryType(t)))
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}
