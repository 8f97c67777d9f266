package domain

import "time"

// Conversation is one chat per (line, remoteJid) pair. The composite unique
// index backs the upsert path: all writers must find-or-create, never insert
// a duplicate pair.
type Conversation struct {
	ID          int64     `json:"id,string" gorm:"primaryKey"`
	LineID      int64     `json:"line_id,string" gorm:"uniqueIndex:idx_conversation_line_jid"`
	RemoteJid   string    `json:"remote_jid" gorm:"uniqueIndex:idx_conversation_line_jid"`
	ContactName string    `json:"contact_name"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `gorm:"index" json:"updated_at"`
}

func (Conversation) TableName() string {
	return "conversation"
}
