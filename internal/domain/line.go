package domain

import "time"

// Line status values. Status is observational: it always mirrors the last
// gateway state check or connection webhook, never a user edit.
const (
	LineStatusConnecting   = "connecting"
	LineStatusConnected    = "connected"
	LineStatusDisconnected = "disconnected"
)

// Line is one provisioned WhatsApp connection. InstanceName is the join key
// with the gateway and must be globally unique.
type Line struct {
	ID           int64     `json:"id,string" gorm:"primaryKey"`
	InstanceName string    `gorm:"uniqueIndex" json:"instance_name"`
	InstanceID   string    `json:"instance_id"` // gateway-assigned, falls back to InstanceName
	PhoneNumber  string    `json:"phone_number"`
	Status       string    `gorm:"index" json:"status"`
	OperatorID   int64     `json:"operator_id,string" gorm:"index"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Line) TableName() string {
	return "line"
}
