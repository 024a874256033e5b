package monitoring

import (
	"context"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"ticket-pipeline/queue"
)

var (
	scanOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkin_scan_outcomes_total",
			Help: "Gate scan outcomes by result",
		},
		[]string{"outcome"},
	)

	jobOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_job_operations_total",
			Help: "Job handling outcomes by kind and status",
		},
		[]string{"kind", "status"},
	)

	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_job_duration_seconds",
			Help:    "Job handling duration by kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipeline_queue_depth",
			Help: "Jobs per queue state",
		},
		[]string{"state"},
	)
)

// TrackScan records a gate scan outcome (admit, admit_echo, or a deny reason).
func TrackScan(outcome string) {
	scanOutcomes.WithLabelValues(outcome).Inc()
}

// TrackJob records a job handling outcome: acked, retried, or failed.
func TrackJob(kind, status string) {
	jobOperations.WithLabelValues(kind, status).Inc()
}

// ObserveJobDuration records how long handling one delivery took.
func ObserveJobDuration(kind string, d time.Duration) {
	jobDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// Monitor samples queue depths from Redis on a ticker.
type Monitor struct {
	redis    *redis.Client
	stopChan chan struct{}
}

func NewMonitor(redisClient *redis.Client) *Monitor {
	return &Monitor{
		redis:    redisClient,
		stopChan: make(chan struct{}),
	}
}

func (m *Monitor) Start() {
	go m.collectQueueMetrics()
}

func (m *Monitor) Stop() {
	close(m.stopChan)
}

func (m *Monitor) collectQueueMetrics() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sample()
		case <-m.stopChan:
			return
		}
	}
}

func (m *Monitor) sample() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pending, err := m.redis.LLen(ctx, queue.KeyPending).Result()
	if err != nil {
		log.Printf("Error sampling pending depth: %v", err)
		return
	}
	processing, err := m.redis.ZCard(ctx, queue.KeyProcessing).Result()
	if err != nil {
		log.Printf("Error sampling processing depth: %v", err)
		return
	}
	parked, err := m.redis.LLen(ctx, queue.KeyParked).Result()
	if err != nil {
		log.Printf("Error sampling parked depth: %v", err)
		return
	}

	queueDepth.WithLabelValues("pending").Set(float64(pending))
	queueDepth.WithLabelValues("processing").Set(float64(processing))
	queueDepth.WithLabelValues("parked").Set(float64(parked))
}
