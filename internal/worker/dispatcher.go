package worker

import (
	"context"
	"errors"
	"log"
	"time"

	"mlcopy/internal/database"
	"mlcopy/internal/domain"
	"mlcopy/internal/models"

	"github.com/redis/go-redis/v9"
)

// Dispatcher feeds queued job ids to the runner. Jobs are durable in the
// ledger before they are ever enqueued, so the queue layers are purely
// about latency: redis first, in-memory channel as fallback, and a DB
// poll that picks up anything both queues lost.
type Dispatcher struct {
	db            *database.DB
	runner        domain.JobRunner
	redis         *redis.Client
	queue         chan string
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	logger        *log.Logger
}

// NewDispatcher builds a dispatcher with sane defaults.
func NewDispatcher(db *database.DB, runner domain.JobRunner, redisClient *redis.Client, pollInterval time.Duration, logger *log.Logger) *Dispatcher {
	if pollInterval == 0 {
		pollInterval = 2 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}

	return &Dispatcher{
		db:            db,
		runner:        runner,
		redis:         redisClient,
		queue:         make(chan string, models.DispatchQueueSize),
		redisQueueKey: "replication:queue",
		deadLetterKey: "replication:deadletter",
		pollInterval:  pollInterval,
		batchSize:     20,
		logger:        logger,
	}
}

// Enqueue schedules a job id via redis or the in-memory queue. The job
// row already exists, so losing the enqueue only delays the job until
// the next DB poll.
func (d *Dispatcher) Enqueue(ctx context.Context, jobID string) error {
	if jobID == "" {
		return errors.New("job id is required")
	}

	if d.redis != nil {
		if err := d.redis.LPush(ctx, d.redisQueueKey, jobID).Err(); err != nil {
			d.logger.Printf("dispatcher: redis push failed, fallback to memory queue: %v", err)
		} else {
			return nil
		}
	}

	select {
	case d.queue <- jobID:
	default:
		d.logger.Printf("dispatcher: in-memory queue full, job %s dropped to polling", jobID)
	}

	return nil
}

// Start launches main loop; stops when ctx is done.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Printf("dispatcher: started")
	defer d.logger.Printf("dispatcher: stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if id, ok := d.tryLocalQueue(); ok {
			d.runJob(ctx, id)
			continue
		}

		if id, ok := d.tryRedis(ctx); ok {
			d.runJob(ctx, id)
			continue
		}

		jobs, err := d.db.ListPendingJobs(ctx, d.batchSize)
		if err != nil {
			d.logger.Printf("dispatcher: fetch pending: %v", err)
			time.Sleep(d.pollInterval)
			continue
		}
		if len(jobs) == 0 {
			time.Sleep(d.pollInterval)
			continue
		}

		for i := range jobs {
			d.runJob(ctx, jobs[i].ID)
		}
	}
}

func (d *Dispatcher) tryLocalQueue() (string, bool) {
	select {
	case id := <-d.queue:
		return id, true
	default:
		return "", false
	}
}

func (d *Dispatcher) tryRedis(ctx context.Context) (string, bool) {
	if d.redis == nil {
		return "", false
	}
	res, err := d.redis.BRPop(ctx, time.Second, d.redisQueueKey).Result()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, redis.Nil) {
			return "", false
		}
		d.logger.Printf("dispatcher: redis BRPOP error: %v", err)
		return "", false
	}
	if len(res) != 2 {
		return "", false
	}
	return res[1], true
}

// runJob hands a job to the runner. Per-target failures are the runner's
// business and land in the ledger; an error here means the job itself
// could not run (missing row, ledger unavailable) and goes to the dead
// letter list for operator review.
func (d *Dispatcher) runJob(ctx context.Context, jobID string) {
	if err := d.runner.Run(ctx, jobID); err != nil {
		d.logger.Printf("dispatcher: job %s failed to run: %v", jobID, err)
		d.pushDeadLetter(ctx, jobID)
	}
}

func (d *Dispatcher) pushDeadLetter(ctx context.Context, jobID string) {
	if d.redis == nil {
		return
	}
	if err := d.redis.LPush(ctx, d.deadLetterKey, jobID).Err(); err != nil {
		d.logger.Printf("dispatcher: dead letter push failed for %s: %v", jobID, err)
	}
}
