package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// CaseFileMetadata is one row per uploaded evidence file. Created at
// upload, enriched by the categorizer/summarizer pipeline, deleted
// alongside its storage object.
type CaseFileMetadata struct {
	ID            uint           `json:"id" gorm:"primaryKey"`
	CaseID        uint           `json:"caseId" gorm:"not null;index"`
	FileName      string         `json:"fileName" gorm:"not null"`
	FilePath      string         `json:"filePath" gorm:"not null"` // storage key: {userID}/{caseID}/{relativePath}
	SuggestedName *string        `json:"suggestedName"`
	Description   *string        `json:"description" gorm:"type:text"`
	Tags          pq.StringArray `json:"tags" gorm:"type:text[]"`
	FileCategory  *string        `json:"fileCategory"`
	FileHash      *string        `json:"fileHash"`
	OpenAIFileID  *string        `json:"openaiFileId" gorm:"column:openai_file_id"`
	Size          int64          `json:"size"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
	DeletedAt     gorm.DeletedAt `json:"-" gorm:"index"`
}

func (CaseFileMetadata) TableName() string {
	return "case_files_metadata"
}
