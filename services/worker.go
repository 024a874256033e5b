package services

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"ticket-pipeline/config"
	"ticket-pipeline/internal/status"
	"ticket-pipeline/models"
	"ticket-pipeline/monitoring"
	"ticket-pipeline/queue"
)

// JobHandler processes one delivery of a job. Return nil to ack, or
// status.ErrRetryLater to leave the delivery for redelivery. Any other error
// is treated as permanent: logged and acked so the job does not loop forever.
type JobHandler func(ctx context.Context, job models.Job) error

// Worker runs N consumer goroutines polling the queue and a reaper that
// redelivers timed-out jobs.
type Worker struct {
	queue            *queue.Client
	handlers         map[models.JobKind]JobHandler
	config           *config.Config
	stopChan         chan struct{}
	wg               sync.WaitGroup
	activeGoroutines int64
}

func NewWorker(q *queue.Client, cfg *config.Config) *Worker {
	return &Worker{
		queue:    q,
		handlers: make(map[models.JobKind]JobHandler),
		config:   cfg,
		stopChan: make(chan struct{}),
	}
}

func (w *Worker) Register(kind models.JobKind, handler JobHandler) {
	w.handlers[kind] = handler
}

// Start launches the consumer pool and the reaper. Call Shutdown to stop.
func (w *Worker) Start(ctx context.Context) {
	// Recover deliveries stranded by a previous crash before consuming.
	if requeued, parked, err := w.queue.Reap(ctx); err != nil {
		log.Printf("Startup reap failed: %v", err)
	} else if requeued > 0 || parked > 0 {
		log.Printf("Startup reap: %d requeued, %d parked", requeued, parked)
	}

	for i := 0; i < w.config.WorkerCount; i++ {
		w.wg.Add(1)
		go w.consumeLoop(ctx, i)
	}

	w.wg.Add(1)
	go w.reaperLoop(ctx)

	log.Printf("Started %d consumers and 1 reaper", w.config.WorkerCount)
}

func (w *Worker) consumeLoop(ctx context.Context, id int) {
	defer w.wg.Done()
	atomic.AddInt64(&w.activeGoroutines, 1)
	defer atomic.AddInt64(&w.activeGoroutines, -1)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.drain(ctx)
		case <-w.stopChan:
			log.Printf("Consumer %d stopping", id)
			return
		}
	}
}

// drain processes deliveries until the queue is empty, so a burst is worked
// off without waiting a poll interval per job.
func (w *Worker) drain(ctx context.Context) {
	for {
		select {
		case <-w.stopChan:
			return
		default:
		}

		delivery, err := w.queue.Dequeue(ctx)
		if err != nil {
			log.Printf("Dequeue failed: %v", err)
			return
		}
		if delivery == nil {
			return
		}

		w.dispatch(ctx, delivery)
	}
}

func (w *Worker) dispatch(ctx context.Context, delivery *queue.Delivery) {
	job := delivery.Job
	handler, ok := w.handlers[job.Kind]
	if !ok {
		// No handler registered; park it via the attempt limit rather than
		// dropping it.
		log.Printf("No handler for job kind %s (%s)", job.Kind, job.ID)
		return
	}

	start := time.Now()
	err := handler(ctx, job)
	monitoring.ObserveJobDuration(string(job.Kind), time.Since(start))

	switch {
	case err == nil:
		if ackErr := w.queue.Ack(ctx, delivery); ackErr != nil {
			log.Printf("Ack failed for job %s: %v", job.ID, ackErr)
			return
		}
		monitoring.TrackJob(string(job.Kind), "acked")
	case errors.Is(err, status.ErrRetryLater):
		// Leave unacked; the reaper redelivers after the visibility timeout.
		log.Printf("Job %s (%s) attempt %d deferred", job.ID, job.Kind, delivery.Attempt)
		monitoring.TrackJob(string(job.Kind), "retried")
	default:
		log.Printf("Job %s (%s) failed permanently: %v", job.ID, job.Kind, err)
		if ackErr := w.queue.Ack(ctx, delivery); ackErr != nil {
			log.Printf("Ack failed for job %s: %v", job.ID, ackErr)
		}
		monitoring.TrackJob(string(job.Kind), "failed")
	}
}

func (w *Worker) reaperLoop(ctx context.Context) {
	defer w.wg.Done()
	atomic.AddInt64(&w.activeGoroutines, 1)
	defer atomic.AddInt64(&w.activeGoroutines, -1)

	ticker := time.NewTicker(w.config.VisibilityTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			requeued, parked, err := w.queue.Reap(ctx)
			if err != nil {
				log.Printf("Reap failed: %v", err)
				continue
			}
			if requeued > 0 || parked > 0 {
				log.Printf("Reaped: %d requeued, %d parked", requeued, parked)
			}
		case <-w.stopChan:
			log.Println("Reaper stopping")
			return
		}
	}
}

func (w *Worker) Shutdown() {
	log.Println("Shutting down worker pool...")

	close(w.stopChan)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("All worker goroutines stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Println("Timeout waiting for worker goroutines to stop")
	}

	finalCount := atomic.LoadInt64(&w.activeGoroutines)
	log.Printf("Worker pool shutdown complete. Final goroutine count: %d", finalCount)
}
