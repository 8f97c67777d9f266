package domain

import "time"

const (
	JobStatusPending = "pending"
	JobStatusRunning = "running"
	JobStatusDead    = "dead"
)

// WebhookJob is one queued gateway event awaiting processing. Rows are the
// durability layer of the ingestion queue: delivery is at-least-once, retries
// are scheduled through NextRunAt, and completed jobs are deleted.
type WebhookJob struct {
	ID          int64     `json:"id,string" gorm:"primaryKey;autoIncrement"`
	Kind        string    `gorm:"index" json:"kind"`
	Payload     string    `json:"payload"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	Status      string    `gorm:"index" json:"status"`
	NextRunAt   time.Time `gorm:"index" json:"next_run_at"`
	LastError   string    `json:"last_error"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (WebhookJob) TableName() string {
	return "webhook_job"
}
