package metrics

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/model"
)

const (
	namespace            = "portal_backup"
	lastSuccessGaugeName = "last_success_timestamp_seconds"
)

// WriteTextfile writes the outcome of a job run in the Prometheus text format,
// ready for the node_exporter textfile collector. The file is replaced
// atomically. Counters are only included when m collected them.
//
// A failed run carries the last success time of the file it replaces forward,
// so the gauge survives failures.
func WriteTextfile(path, job string, m Metrics, success bool, finished time.Time, duration time.Duration) error {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"job_name": job}

	newGauge := func(name, help string) prometheus.Gauge {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
		reg.MustRegister(g)
		return g
	}

	newGauge("last_run_timestamp_seconds", "Unix time the last run finished.").Set(float64(finished.Unix()))
	newGauge("last_run_duration_seconds", "Duration of the last run in seconds.").Set(duration.Seconds())
	successGauge := newGauge("last_run_success", "1 if the last run succeeded, 0 otherwise.")
	lastSuccessHelp := "Unix time of the last successful run."
	if success {
		successGauge.Set(1)
		newGauge(lastSuccessGaugeName, lastSuccessHelp).Set(float64(finished.Unix()))
	} else if prev, ok, err := previousSuccess(path, job); err != nil {
		return err
	} else if ok {
		newGauge(lastSuccessGaugeName, lastSuccessHelp).Set(prev)
	}

	if rm, ok := m.(*RunMetrics); ok {
		newGauge("files_selected", "Item files selected by the last run.").Set(float64(rm.FilesSelected.Load()))
		newGauge("files_staged", "Files copied into staging by the last run.").Set(float64(rm.FilesStaged.Load()))
		newGauge("entries_archived", "Entries written to the archive by the last run.").Set(float64(rm.EntriesArchived.Load()))
		newGauge("archive_bytes", "Size of the archive written by the last run.").Set(float64(rm.CompressedBytes.Load()))
		newGauge("archives_pruned", "Archives deleted by retention in the last run.").Set(float64(rm.ArchivesPruned.Load()))
	}

	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("failed to write metrics textfile %s: %w", path, err)
	}
	return nil
}

// previousSuccess reads the last success time of job from an existing textfile.
func previousSuccess(path, job string) (float64, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to read previous metrics textfile %s: %w", path, err)
	}
	defer f.Close()

	parser := expfmt.NewTextParser(model.UTF8Validation)
	families, err := parser.TextToMetricFamilies(f)
	if err != nil {
		// A corrupt file is replaced as if it never existed.
		return 0, false, nil
	}
	mf, ok := families[namespace+"_"+lastSuccessGaugeName]
	if !ok {
		return 0, false, nil
	}
	for _, metric := range mf.GetMetric() {
		if hasLabel(metric, "job_name", job) {
			return metric.GetGauge().GetValue(), true, nil
		}
	}
	return 0, false, nil
}

func hasLabel(m *dto.Metric, name, value string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}
