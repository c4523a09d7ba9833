// Package metrics exposes listing statistics to Prometheus.
//
// The walker is single threaded and keeps its counters in a plain struct,
// so the Collector holds the most recent snapshot handed to Update and
// builds constant metrics from it on every scrape.
//
// Usage:
//
//	collector := metrics.NewCollector()
//	server := metrics.NewServer(metrics.ServerConfig{Addr: ":9090"}, metrics.NewRegistry(collector), logger)
//	go server.Start(ctx)
//
//	t.Watch(ctx, root, rawls.WatchOptions{Progress: collector.Update})
package metrics

import (
	"sync"

	rawls "github.com/TFMV/rawls/internal/walk"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rawls"

// Collector is a prometheus.Collector over the latest rawls.Stats.
type Collector struct {
	mu    sync.Mutex
	stats rawls.Stats

	records         *prometheus.Desc
	recordsByType   *prometheus.Desc
	leafDirs        *prometheus.Desc
	dirsRead        *prometheus.Desc
	dirsSkipped     *prometheus.Desc
	dirsUnreadable  *prometheus.Desc
	errors          *prometheus.Desc
	batches         *prometheus.Desc
	entries         *prometheus.Desc
	metadataLookups *prometheus.Desc
	bytesReported   *prometheus.Desc
	events          *prometheus.Desc
	recordsPerSec   *prometheus.Desc
}

// NewCollector returns a Collector reporting zeros until the first Update.
func NewCollector() *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &Collector{
		records:         desc("records_total", "Records written to the output"),
		recordsByType:   desc("records_by_type_total", "Records written to the output by entry type", "type"),
		leafDirs:        desc("leaf_directories_total", "Directory leaf records written"),
		dirsRead:        desc("directories_read_total", "Directories opened and read"),
		dirsSkipped:     desc("directories_skipped_total", "Directories left out because they are on another device"),
		dirsUnreadable:  desc("directories_inaccessible_total", "Directories that could not be probed or opened"),
		errors:          desc("errors_total", "Error diagnostics reported"),
		batches:         desc("batches_total", "Bulk directory reads that returned entries"),
		entries:         desc("entries_total", "Raw directory entries returned by bulk reads"),
		metadataLookups: desc("metadata_lookups_total", "stat and lstat calls"),
		bytesReported:   desc("reported_bytes_total", "Sum of the size fields written"),
		events:          desc("watch_events_total", "Filesystem events handled while watching"),
		recordsPerSec:   desc("records_per_second", "Records written per second since the start of the run"),
	}
}

// Update replaces the snapshot. It matches rawls.ProgressFn.
func (c *Collector) Update(stats rawls.Stats) {
	c.mu.Lock()
	c.stats = stats
	c.mu.Unlock()
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.records, c.recordsByType, c.leafDirs, c.dirsRead, c.dirsSkipped,
		c.dirsUnreadable, c.errors, c.batches, c.entries, c.metadataLookups,
		c.bytesReported, c.events, c.recordsPerSec,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	s := c.stats
	c.mu.Unlock()

	counter := func(d *prometheus.Desc, v int64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	counter(c.records, s.Records)
	for t, n := range s.Types {
		counter(c.recordsByType, n, rawls.EntryType(t).String())
	}
	counter(c.leafDirs, s.LeafDirs)
	counter(c.dirsRead, s.DirsVisited)
	counter(c.dirsSkipped, s.Skipped)
	counter(c.dirsUnreadable, s.Inaccessible)
	counter(c.errors, s.ErrorCount)
	counter(c.batches, s.Batches)
	counter(c.entries, s.Entries)
	counter(c.metadataLookups, s.MetadataLookups)
	counter(c.bytesReported, s.BytesReported)
	counter(c.events, s.Events)
	ch <- prometheus.MustNewConstMetric(c.recordsPerSec, prometheus.GaugeValue, s.RecordsPerSec)
}

// NewRegistry returns a registry holding c.
func NewRegistry(c *Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(c)
	return reg
}
