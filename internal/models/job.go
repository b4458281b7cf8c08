package models

import (
	"time"

	"gorm.io/gorm"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

const (
	JobTypeCaseSetup       = "case_setup"
	JobTypeFileAnalysis    = "file_analysis"
	JobTypeAdditionalFiles = "additional_files"
)

// Job tracks one background analysis task so the UI can poll progress
// while the worker pool grinds through file summarization.
type Job struct {
	ID          uint           `json:"id" gorm:"primaryKey"`
	Type        string         `json:"type" gorm:"not null"`
	CaseID      uint           `json:"caseId" gorm:"not null;index"`
	Status      JobStatus      `json:"status" gorm:"not null;default:'pending'"`
	Progress    int            `json:"progress" gorm:"default:0"`
	Result      JSONB          `json:"result" gorm:"type:jsonb"`
	Error       string         `json:"error"`
	TotalFiles  int            `json:"totalFiles" gorm:"default:0"`
	CurrentFile int            `json:"currentFile" gorm:"default:0"`
	StartedAt   *time.Time     `json:"startedAt"`
	CompletedAt *time.Time     `json:"completedAt"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	DeletedAt   gorm.DeletedAt `json:"-" gorm:"index"`

	Case *Case `json:"case,omitempty" gorm:"foreignKey:CaseID;references:ID"`
}

func (Job) TableName() string {
	return "jobs"
}
