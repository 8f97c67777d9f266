package queue

import (
	"context"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zapmirror/zapmirror/internal/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Handler processes one claimed job. A nil return completes and removes the
// job; an error reschedules it with backoff until the attempt budget runs out.
type Handler func(job *domain.WebhookJob) error

type Config struct {
	Workers      int
	MaxAttempts  int
	BackoffBase  time.Duration
	PollInterval time.Duration
	// StaleAfter is how long a job may sit in running before it is assumed
	// abandoned by a dead worker and returned to pending.
	StaleAfter time.Duration
}

// Queue is a database-backed at-least-once job queue. Jobs survive restarts
// in the webhook_job table; a poll loop claims due jobs with an optimistic
// status update and hands them to a worker pool.
type Queue struct {
	db      *gorm.DB
	cfg     Config
	handler Handler
	pool    *ants.Pool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(db *gorm.DB, cfg Config) (*Queue, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = time.Minute
	}
	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, errors.Wrap(err, "queue: create worker pool")
	}
	return &Queue{db: db, cfg: cfg, pool: pool}, nil
}

func (q *Queue) SetHandler(h Handler) {
	q.handler = h
}

// Enqueue persists a job and acknowledges immediately. Processing happens
// later on the poll loop, so the caller never waits on downstream work.
func (q *Queue) Enqueue(kind string, payload interface{}) error {
	body, err := json.MarshalToString(payload)
	if err != nil {
		return errors.Wrap(err, "queue: encode payload")
	}
	job := domain.WebhookJob{
		Kind:        kind,
		Payload:     body,
		MaxAttempts: q.cfg.MaxAttempts,
		Status:      domain.JobStatusPending,
		NextRunAt:   time.Now(),
	}
	if err := q.db.Create(&job).Error; err != nil {
		return errors.Wrap(err, "queue: persist job")
	}
	return nil
}

// Start launches the poll loop. Call Stop to drain and shut down.
func (q *Queue) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		ticker := time.NewTicker(q.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				q.poll()
			}
		}
	}()
	zap.S().Infof("ingestion queue started, workers=%d poll=%s", q.cfg.Workers, q.cfg.PollInterval)
}

func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
	q.pool.Release()
}

func (q *Queue) poll() {
	q.requeueStalled()
	var jobs []domain.WebhookJob
	err := q.db.
		Where("status = ? and next_run_at <= ?", domain.JobStatusPending, time.Now()).
		Order("next_run_at asc").
		Limit(q.cfg.Workers * 4).
		Find(&jobs).Error
	if err != nil {
		zap.S().Errorf("queue poll failed: %s", err)
		return
	}
	for i := range jobs {
		job := jobs[i]
		if !q.claim(&job) {
			continue
		}
		q.wg.Add(1)
		if err := q.pool.Submit(func() {
			defer q.wg.Done()
			q.run(&job)
		}); err != nil {
			q.wg.Done()
			q.release(&job)
		}
	}
}

// requeueStalled returns running jobs back to pending once they have been
// untouched for StaleAfter. A job only stays running that long when the
// process that claimed it died mid-flight.
func (q *Queue) requeueStalled() {
	res := q.db.Model(&domain.WebhookJob{}).
		Where("status = ? and updated_at < ?", domain.JobStatusRunning, time.Now().Add(-q.cfg.StaleAfter)).
		Updates(map[string]interface{}{
			"status":      domain.JobStatusPending,
			"next_run_at": time.Now(),
		})
	if res.Error != nil {
		zap.S().Errorf("queue stalled requeue failed: %s", res.Error)
		return
	}
	if res.RowsAffected > 0 {
		zap.S().Warnf("queue requeued %d stalled running jobs", res.RowsAffected)
	}
}

// claim flips pending to running; losing the race means another worker
// already owns the job.
func (q *Queue) claim(job *domain.WebhookJob) bool {
	res := q.db.Model(&domain.WebhookJob{}).
		Where("id = ? and status = ?", job.ID, domain.JobStatusPending).
		Update("status", domain.JobStatusRunning)
	if res.Error != nil {
		zap.S().Errorf("queue claim job %d failed: %s", job.ID, res.Error)
		return false
	}
	return res.RowsAffected == 1
}

func (q *Queue) release(job *domain.WebhookJob) {
	q.db.Model(&domain.WebhookJob{}).
		Where("id = ?", job.ID).
		Update("status", domain.JobStatusPending)
}

func (q *Queue) run(job *domain.WebhookJob) {
	defer func() {
		if r := recover(); r != nil {
			zap.S().Errorf("queue job %d panic: %v", job.ID, r)
			q.fail(job, errors.Errorf("panic: %v", r))
		}
	}()
	if q.handler == nil {
		q.release(job)
		return
	}
	if err := q.handler(job); err != nil {
		q.fail(job, err)
		return
	}
	if err := q.db.Delete(&domain.WebhookJob{}, job.ID).Error; err != nil {
		zap.S().Errorf("queue delete job %d failed: %s", job.ID, err)
	}
}

// fail either reschedules with exponential backoff or dead-letters the job
// once the attempt budget is spent. Dead jobs stay in the table for later
// inspection and are purged by the daily maintenance task.
func (q *Queue) fail(job *domain.WebhookJob, cause error) {
	attempts := job.Attempts + 1
	updates := map[string]interface{}{
		"attempts":   attempts,
		"last_error": cause.Error(),
	}
	if attempts >= job.MaxAttempts {
		updates["status"] = domain.JobStatusDead
		zap.S().Errorf("queue job %d kind=%s dead after %d attempts: %s", job.ID, job.Kind, attempts, cause)
	} else {
		backoff := q.cfg.BackoffBase << (attempts - 1)
		updates["status"] = domain.JobStatusPending
		updates["next_run_at"] = time.Now().Add(backoff)
		zap.S().Warnf("queue job %d kind=%s attempt %d failed, retry in %s: %s", job.ID, job.Kind, attempts, backoff, cause)
	}
	if err := q.db.Model(&domain.WebhookJob{}).Where("id = ?", job.ID).Updates(updates).Error; err != nil {
		zap.S().Errorf("queue update job %d failed: %s", job.ID, err)
	}
}
