package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

type InsightType string

const (
	InsightKeyFact        InsightType = "key_fact"
	InsightRiskAssessment InsightType = "risk_assessment"
	InsightOutcomeTrend   InsightType = "outcome_trend"
	InsightGeneral        InsightType = "general"
	InsightAutoEvent      InsightType = "auto_generated_event"
)

// CaseInsight is append-only: produced either by structured-JSON
// extraction from chat responses or by timeline generation.
type CaseInsight struct {
	ID              uint           `json:"id" gorm:"primaryKey"`
	CaseID          uint           `json:"caseId" gorm:"not null;index"`
	Title           string         `json:"title" gorm:"not null"`
	Description     string         `json:"description" gorm:"type:text"`
	InsightType     InsightType    `json:"insightType" gorm:"not null;default:'general'"`
	RelevantFileIDs pq.StringArray `json:"relevantFileIds" gorm:"type:text[]"`
	TimelineID      *uint          `json:"timelineId"`
	Timestamp       time.Time      `json:"timestamp" gorm:"autoCreateTime"`
	CreatedAt       time.Time      `json:"createdAt"`
	DeletedAt       gorm.DeletedAt `json:"-" gorm:"index"`
}

func (CaseInsight) TableName() string {
	return "case_insights"
}

// NormalizeInsightType maps free-form model output onto the known set.
func NormalizeInsightType(t string) InsightType {
	switch InsightType(t) {
	case InsightKeyFact, InsightRiskAssessment, InsightOutcomeTrend, InsightAutoEvent:
		return InsightType(t)
	default:
		return InsightGeneral
	}
}
