package domain

import "time"

// Idempotency records the outcome of a previously processed approval or
// rejection call, keyed by (user_id, execution_id, key). It lets clients
// retry POSTs safely: a replayed request is answered from the stored result
// instead of re-executing side effects such as order placement.
type Idempotency struct {
	ID          string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	UserID      string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_exec_key,priority:1"`
	ExecutionID string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_exec_key,priority:2"`
	Key         string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_exec_key,priority:3"`
	Status      int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt   time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt   time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
