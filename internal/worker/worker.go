package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/propstack/mail-worker/internal/metrics"
	"github.com/propstack/mail-worker/internal/models"
	"github.com/propstack/mail-worker/internal/service"
)

const (
	recoveryInterval = 5 * time.Minute
	cleanupInterval  = 6 * time.Hour
	// jobTimeout bounds a single job execution so a hung provider call
	// cannot pin a worker slot forever.
	jobTimeout = 5 * time.Minute
)

// JobStore is the queue surface the worker drives.
type JobStore interface {
	FetchNextJob(ctx context.Context, jobTypes ...models.JobType) (*models.Job, error)
	CompleteJob(ctx context.Context, jobID string, result interface{}) error
	FailJob(ctx context.Context, jobID string, jobErr error, maxAttempts int) error
	RecoverStaleJobs(ctx context.Context, staleMinutes int) (int64, error)
	CleanupOldJobs(ctx context.Context, olderThanDays int) (int64, error)
}

// EmailProcessor handles inbound email jobs.
type EmailProcessor interface {
	ProcessEmail(ctx context.Context, graphMessageID string, connectionID string, userID string) (*service.ProcessResult, error)
	ProcessAI(ctx context.Context, processedEmailID string) error
	SyncFolder(ctx context.Context, payload models.SyncFolderPayload) (*service.SyncFolderResult, error)
}

// EmailSender delivers queued outbound emails.
type EmailSender interface {
	SendQueuedEmail(ctx context.Context, sentEmailID string) error
}

// SubscriptionManager renews webhook subscriptions.
type SubscriptionManager interface {
	Renew(ctx context.Context, subscriptionID string, connectionID string) error
}

// Options tunes the worker loop.
type Options struct {
	PollInterval         time.Duration
	MaxConcurrentJobs    int
	StaleJobMinutes      int
	CleanupRetentionDays int
	ShutdownTimeout      time.Duration
}

// Worker polls the job queue and executes jobs with bounded concurrency.
type Worker struct {
	store         JobStore
	processor     EmailProcessor
	sender        EmailSender
	subscriptions SubscriptionManager
	opts          Options

	inFlight atomic.Int64
	wg       sync.WaitGroup
}

func New(store JobStore, processor EmailProcessor, sender EmailSender, subscriptions SubscriptionManager, opts Options) *Worker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.MaxConcurrentJobs <= 0 {
		opts.MaxConcurrentJobs = 5
	}
	if opts.StaleJobMinutes <= 0 {
		opts.StaleJobMinutes = 10
	}
	if opts.CleanupRetentionDays <= 0 {
		opts.CleanupRetentionDays = 7
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}
	return &Worker{
		store:         store,
		processor:     processor,
		sender:        sender,
		subscriptions: subscriptions,
		opts:          opts,
	}
}

// Run polls for jobs until the context is cancelled, then drains in-flight
// jobs. It blocks until the drain finishes or the shutdown timeout expires.
func (w *Worker) Run(ctx context.Context) {
	log.Printf("Worker started (poll %s, max %d concurrent jobs)", w.opts.PollInterval, w.opts.MaxConcurrentJobs)

	go w.recoveryLoop(ctx)
	go w.cleanupLoop(ctx)

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.drain()
			return
		case <-ticker.C:
			w.claimLoop(ctx)
		}
	}
}

// claimLoop claims jobs until the queue is empty or all slots are busy.
func (w *Worker) claimLoop(ctx context.Context) {
	for w.inFlight.Load() < int64(w.opts.MaxConcurrentJobs) {
		job, err := w.store.FetchNextJob(ctx)
		if err != nil {
			log.Printf("Failed to fetch next job: %v", err)
			return
		}
		if job == nil {
			return
		}

		w.inFlight.Add(1)
		w.wg.Add(1)
		go func(job *models.Job) {
			defer w.wg.Done()
			defer w.inFlight.Add(-1)
			w.runJob(ctx, job)
		}(job)
	}
}

// runJob executes one claimed job and records the outcome. The job context
// survives shutdown cancellation so in-flight jobs can finish during drain.
func (w *Worker) runJob(ctx context.Context, job *models.Job) {
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), jobTimeout)
	defer cancel()

	start := time.Now()
	result, err := w.execute(jobCtx, job)
	metrics.JobDuration.WithLabelValues(string(job.JobType)).Observe(time.Since(start).Seconds())

	if err != nil {
		log.Printf("Job %s (%s) failed on attempt %d: %v", job.ID, job.JobType, job.Attempts, err)
		metrics.JobsFailed.WithLabelValues(string(job.JobType)).Inc()
		if failErr := w.store.FailJob(jobCtx, job.ID, err, job.MaxAttempts); failErr != nil {
			log.Printf("Failed to record failure of job %s: %v", job.ID, failErr)
		}
		return
	}

	metrics.JobsProcessed.WithLabelValues(string(job.JobType)).Inc()
	if completeErr := w.store.CompleteJob(jobCtx, job.ID, result); completeErr != nil {
		log.Printf("Failed to record completion of job %s: %v", job.ID, completeErr)
	}
}

// execute dispatches a job to its handler based on the decoded payload type.
func (w *Worker) execute(ctx context.Context, job *models.Job) (interface{}, error) {
	payload, err := job.DecodePayload()
	if err != nil {
		return nil, err
	}

	switch p := payload.(type) {
	case models.ProcessEmailPayload:
		return w.processor.ProcessEmail(ctx, p.GraphMessageID, p.ConnectionID, p.UserID)
	case models.SendEmailPayload:
		return nil, w.sender.SendQueuedEmail(ctx, p.SentEmailID)
	case models.SyncFolderPayload:
		return w.processor.SyncFolder(ctx, p)
	case models.RenewSubscriptionPayload:
		return nil, w.subscriptions.Renew(ctx, p.SubscriptionID, p.ConnectionID)
	case models.ProcessAIPayload:
		return nil, w.processor.ProcessAI(ctx, p.ProcessedEmailID)
	default:
		return nil, fmt.Errorf("no handler for job type %s", job.JobType)
	}
}

// recoveryLoop periodically resets jobs stuck in processing, e.g. after a
// worker crash.
func (w *Worker) recoveryLoop(ctx context.Context) {
	ticker := time.NewTicker(recoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			recovered, err := w.store.RecoverStaleJobs(ctx, w.opts.StaleJobMinutes)
			if err != nil {
				log.Printf("Failed to recover stale jobs: %v", err)
				continue
			}
			if recovered > 0 {
				log.Printf("Recovered %d stale jobs", recovered)
			}
		}
	}
}

// cleanupLoop periodically deletes old completed and cancelled jobs.
func (w *Worker) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := w.store.CleanupOldJobs(ctx, w.opts.CleanupRetentionDays)
			if err != nil {
				log.Printf("Failed to clean up old jobs: %v", err)
				continue
			}
			if deleted > 0 {
				log.Printf("Cleaned up %d old jobs", deleted)
			}
		}
	}
}

// drain waits for in-flight jobs to finish, up to the shutdown timeout.
// Jobs still running after that are left in processing; stale recovery
// re-queues them on the next start.
func (w *Worker) drain() {
	remaining := w.inFlight.Load()
	if remaining == 0 {
		log.Println("Worker stopped, no jobs in flight")
		return
	}

	log.Printf("Worker draining, waiting for %d in-flight jobs...", remaining)
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Worker drained cleanly")
	case <-time.After(w.opts.ShutdownTimeout):
		log.Printf("Drain timed out after %s with %d jobs still running", w.opts.ShutdownTimeout, w.inFlight.Load())
	}
}
