package metrics

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/propstack/mail-worker/internal/models"
)

var (
	// JobsProcessed counts successfully completed jobs by type.
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mail_worker_jobs_processed_total",
		Help: "Jobs completed successfully, by job type.",
	}, []string{"job_type"})

	// JobsFailed counts job executions that returned an error, by type.
	JobsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mail_worker_jobs_failed_total",
		Help: "Job executions that failed, by job type.",
	}, []string{"job_type"})

	// JobDuration observes job execution time by type.
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mail_worker_job_duration_seconds",
		Help:    "Job execution time, by job type.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"job_type"})

	// JobsByStatus gauges the current queue depth per status.
	JobsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mail_worker_jobs_status",
		Help: "Current number of jobs per status.",
	}, []string{"status"})

	// WebhookNotifications counts notification outcomes.
	WebhookNotifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mail_worker_webhook_notifications_total",
		Help: "Webhook notifications received, by outcome.",
	}, []string{"result"})

	// EmailsSent counts successfully delivered outbound emails.
	EmailsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mail_worker_emails_sent_total",
		Help: "Outbound emails delivered successfully.",
	})
)

// JobStatsSource provides queue depth counts for the status gauges.
type JobStatsSource interface {
	GetStats(ctx context.Context) (map[models.JobStatus]int64, error)
}

// StartJobStatsCollector polls the queue stats and exports them as gauges
// until the context is cancelled.
func StartJobStatsCollector(ctx context.Context, source JobStatsSource, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats, err := source.GetStats(ctx)
				if err != nil {
					log.Printf("Warning: failed to collect job stats: %v", err)
					continue
				}
				for status, count := range stats {
					JobsByStatus.WithLabelValues(string(status)).Set(float64(count))
				}
			}
		}
	}()
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
