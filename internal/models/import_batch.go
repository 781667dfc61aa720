package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	BatchProcessing = "processing"
	BatchCompleted  = "completed"
	BatchFailed     = "failed"
	BatchUndone     = "undone"
)

// ImportBatch tracks one bulk statement import so it can be rolled back.
type ImportBatch struct {
	ID            uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	Source        string     `json:"source"`
	Filename      string     `json:"filename"`
	TotalRows     int        `json:"total_rows"`
	ImportedCount int        `json:"imported_count"`
	SkippedCount  int        `json:"skipped_count"`
	Status        string     `json:"status" gorm:"index"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at"`
	CreatedAt     time.Time  `json:"created_at"`
}
