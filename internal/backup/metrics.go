package backup

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the backup pipeline's Prometheus collectors. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	backupsTotal     *prometheus.CounterVec
	backupDuration   *prometheus.HistogramVec
	archiveBytes     *prometheus.GaugeVec
	retentionDeleted prometheus.Counter
	retentionErrors  prometheus.Counter
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		backupsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "archivist",
			Name:      "backups_total",
			Help:      "World backup tasks by final result.",
		}, []string{"world", "result"}),
		backupDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "archivist",
			Name:      "backup_duration_seconds",
			Help:      "Wall time of world backup tasks.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"world"}),
		archiveBytes: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "archivist",
			Name:      "archive_bytes",
			Help:      "Size of the most recent archive per world.",
		}, []string{"world"}),
		retentionDeleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "archivist",
			Name:      "retention_deleted_total",
			Help:      "Backups deleted by the retention cleaner.",
		}),
		retentionErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "archivist",
			Name:      "retention_errors_total",
			Help:      "Backup directory entries the retention cleaner could not process.",
		}),
	}
}

func (m *Metrics) observeTask(result *TaskResult) {
	if m == nil || result == nil {
		return
	}
	outcome := "success"
	switch {
	case result.Err == nil:
	case IsFatal(result.Err):
		outcome = "failure"
	default:
		outcome = "warning"
	}
	m.backupsTotal.WithLabelValues(result.World, outcome).Inc()
	m.backupDuration.WithLabelValues(result.World).Observe(result.Duration.Seconds())
	if result.ArchivePath != "" {
		m.archiveBytes.WithLabelValues(result.World).Set(float64(result.ArchiveSize))
	}
}

func (m *Metrics) observeRetention(deleted, failed int) {
	if m == nil {
		return
	}
	m.retentionDeleted.Add(float64(deleted))
	m.retentionErrors.Add(float64(failed))
}
