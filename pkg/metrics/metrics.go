package metrics

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/paulschiretz/portal-backup/pkg/plog"
)

// Metrics defines the interface for collecting and reporting run statistics.
type Metrics interface {
	AddFilesSeen(n int64)
	AddFilesSelected(n int64)
	AddFilesSkipped(n int64)
	AddFilesStaged(n int64)
	AddBytesStaged(n int64)
	AddEntriesArchived(n int64)
	AddOriginalBytes(n int64)
	AddCompressedBytes(n int64)
	AddArchivesPruned(n int64)
	AddPruneFailures(n int64)
	LogSummary(logger *slog.Logger, msg string)
}

// RunMetrics holds the atomic counters for a single job run.
// It is the concrete implementation of the Metrics interface.
type RunMetrics struct {
	FilesSeen       atomic.Int64
	FilesSelected   atomic.Int64
	FilesSkipped    atomic.Int64
	FilesStaged     atomic.Int64
	BytesStaged     atomic.Int64
	EntriesArchived atomic.Int64
	OriginalBytes   atomic.Int64
	CompressedBytes atomic.Int64
	ArchivesPruned  atomic.Int64
	PruneFailures   atomic.Int64
}

func (m *RunMetrics) AddFilesSeen(n int64)       { m.FilesSeen.Add(n) }
func (m *RunMetrics) AddFilesSelected(n int64)   { m.FilesSelected.Add(n) }
func (m *RunMetrics) AddFilesSkipped(n int64)    { m.FilesSkipped.Add(n) }
func (m *RunMetrics) AddFilesStaged(n int64)     { m.FilesStaged.Add(n) }
func (m *RunMetrics) AddBytesStaged(n int64)     { m.BytesStaged.Add(n) }
func (m *RunMetrics) AddEntriesArchived(n int64) { m.EntriesArchived.Add(n) }
func (m *RunMetrics) AddOriginalBytes(n int64)   { m.OriginalBytes.Add(n) }
func (m *RunMetrics) AddCompressedBytes(n int64) { m.CompressedBytes.Add(n) }
func (m *RunMetrics) AddArchivesPruned(n int64)  { m.ArchivesPruned.Add(n) }
func (m *RunMetrics) AddPruneFailures(n int64)   { m.PruneFailures.Add(n) }

// Ratio returns the compressed size as a percentage of the original size.
func (m *RunMetrics) Ratio() float64 {
	orig := m.OriginalBytes.Load()
	if orig <= 0 {
		return 0
	}
	return float64(m.CompressedBytes.Load()) / float64(orig) * 100.0
}

// LogSummary logs the counters at info level.
func (m *RunMetrics) LogSummary(logger *slog.Logger, msg string) {
	plog.OrDefault(logger).Info(msg,
		"files_seen", m.FilesSeen.Load(),
		"files_selected", m.FilesSelected.Load(),
		"files_skipped", m.FilesSkipped.Load(),
		"files_staged", m.FilesStaged.Load(),
		"bytes_staged", m.BytesStaged.Load(),
		"entries_archived", m.EntriesArchived.Load(),
		"original_bytes", m.OriginalBytes.Load(),
		"compressed_bytes", m.CompressedBytes.Load(),
		"ratio_pct", fmt.Sprintf("%.2f%%", m.Ratio()),
		"archives_pruned", m.ArchivesPruned.Load(),
		"prune_failures", m.PruneFailures.Load(),
	)
}

// NoopMetrics is an implementation of the Metrics interface that performs no operations.
// It can be used to disable metrics collection without changing the calling code.
type NoopMetrics struct{}

func (m *NoopMetrics) AddFilesSeen(n int64)                       {}
func (m *NoopMetrics) AddFilesSelected(n int64)                   {}
func (m *NoopMetrics) AddFilesSkipped(n int64)                    {}
func (m *NoopMetrics) AddFilesStaged(n int64)                     {}
func (m *NoopMetrics) AddBytesStaged(n int64)                     {}
func (m *NoopMetrics) AddEntriesArchived(n int64)                 {}
func (m *NoopMetrics) AddOriginalBytes(n int64)                   {}
func (m *NoopMetrics) AddCompressedBytes(n int64)                 {}
func (m *NoopMetrics) AddArchivesPruned(n int64)                  {}
func (m *NoopMetrics) AddPruneFailures(n int64)                   {}
func (m *NoopMetrics) LogSummary(logger *slog.Logger, msg string) {}

// New returns RunMetrics when enabled and NoopMetrics otherwise.
func New(enabled bool) Metrics {
	if enabled {
		return &RunMetrics{}
	}
	return &NoopMetrics{}
}

// OrNoop returns m, or a NoopMetrics when m is nil.
func OrNoop(m Metrics) Metrics {
	if m == nil {
		return &NoopMetrics{}
	}
	return m
}

// Statically assert that our types implement the interface.
var _ Metrics = (*RunMetrics)(nil)
var _ Metrics = (*NoopMetrics)(nil)
