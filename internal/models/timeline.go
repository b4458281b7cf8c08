package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

type CaseTimeline struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	CaseID    uint           `json:"caseId" gorm:"not null;index"`
	Name      string         `json:"name" gorm:"not null"`
	Focus     string         `json:"focus" gorm:"type:text"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	Events []TimelineEvent `json:"events,omitempty" gorm:"foreignKey:TimelineID"`
}

// TimelineEvent rows are additive: regenerating a timeline appends a new
// batch rather than replacing prior events.
type TimelineEvent struct {
	ID          uint           `json:"id" gorm:"primaryKey"`
	TimelineID  uint           `json:"timelineId" gorm:"not null;index"`
	CaseID      uint           `json:"caseId" gorm:"not null;index"`
	EventDate   string         `json:"eventDate"` // as extracted from evidence, not always a full date
	Title       string         `json:"title" gorm:"not null"`
	Description string         `json:"description" gorm:"type:text"`
	SourceFiles pq.StringArray `json:"sourceFiles" gorm:"type:text[]"`
	CreatedAt   time.Time      `json:"createdAt"`
}

func (CaseTimeline) TableName() string {
	return "case_timelines"
}

func (TimelineEvent) TableName() string {
	return "timeline_events"
}
