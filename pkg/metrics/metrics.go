// Package metrics counts what bulk operations did to the library.
//
// Counters live in a private registry so several libraries can coexist in
// one process (tests). The registry can be written to a node-exporter
// textfile after each command.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "datenest"

// Stages used as the "stage" label of FailuresTotal.
const (
	StageHash   = "hash"
	StageUpsert = "upsert"
	StageAttach = "attach"
	StageImport = "import"
	StageExport = "export"
)

type Collector struct {
	registry *prometheus.Registry

	FilesHashed     prometheus.Counter
	ImagesInserted  prometheus.Counter
	ImagesDuplicate prometheus.Counter
	AttachmentsLink prometheus.Counter
	FailuresTotal   *prometheus.CounterVec
	ScanDuration    prometheus.Histogram
	ArchiveRecords  *prometheus.CounterVec
	LibraryImages   prometheus.Gauge
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		FilesHashed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "files_hashed_total",
			Help:      "Files hashed by scans and manual attaches.",
		}),
		ImagesInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "images_inserted_total",
			Help:      "Images registered with a previously unknown digest.",
		}),
		ImagesDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "images_duplicate_total",
			Help:      "Images whose digest was already known.",
		}),
		AttachmentsLink: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "attachments_linked_total",
			Help:      "Attachments newly linked to an image.",
		}),
		FailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Files or records skipped by bulk operations.",
		}, []string{"stage"}),
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "scan_duration_seconds",
			Help:      "Wall-clock time of full library scans.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		ArchiveRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "records_total",
			Help:      "Image records written by export or replayed by import.",
		}, []string{"direction"}),
		LibraryImages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "library_images",
			Help:      "Images known to the library after the last reload.",
		}),
	}

	c.registry.MustRegister(
		c.FilesHashed,
		c.ImagesInserted,
		c.ImagesDuplicate,
		c.AttachmentsLink,
		c.FailuresTotal,
		c.ScanDuration,
		c.ArchiveRecords,
		c.LibraryImages,
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Failure(stage string) {
	c.FailuresTotal.WithLabelValues(stage).Inc()
}

func (c *Collector) ObserveScan(start time.Time) {
	c.ScanDuration.Observe(time.Since(start).Seconds())
}

// WriteTextfile writes the registry in text exposition format. An empty
// path is a no-op.
func (c *Collector) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, c.registry)
}
