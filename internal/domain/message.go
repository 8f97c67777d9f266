package domain

import "time"

const (
	DirectionSent     = "SENT"
	DirectionReceived = "RECEIVED"
)

// Message is append-only. EvolutionID is the gateway's message id and the sole
// ingestion idempotency key; uniqueness is enforced by the database so that
// concurrent writers (live webhook vs. history backfill) cannot double-insert.
type Message struct {
	ID             int64     `json:"id,string" gorm:"primaryKey"`
	EvolutionID    string    `gorm:"uniqueIndex" json:"evolution_id"`
	ConversationID int64     `json:"conversation_id,string" gorm:"index"`
	Content        string    `json:"content"`
	Type           string    `json:"type"`
	Direction      string    `json:"direction"`
	Status         string    `json:"status"`
	Timestamp      time.Time `gorm:"index" json:"timestamp"`
	CreatedAt      time.Time `json:"created_at"`
}

func (Message) TableName() string {
	return "message"
}
