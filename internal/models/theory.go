package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// CaseTheory holds the current working theory for a case: one row per
// case, overwritten wholesale whenever a model response carries a
// theory_update block.
type CaseTheory struct {
	ID                uint           `json:"id" gorm:"primaryKey"`
	CaseID            uint           `json:"caseId" gorm:"not null;uniqueIndex"`
	FactPatterns      pq.StringArray `json:"factPatterns" gorm:"type:text[]"`
	LegalArguments    pq.StringArray `json:"legalArguments" gorm:"type:text[]"`
	PotentialOutcomes pq.StringArray `json:"potentialOutcomes" gorm:"type:text[]"`
	Status            string         `json:"status" gorm:"default:'draft'"`
	LastUpdated       time.Time      `json:"lastUpdated" gorm:"autoUpdateTime"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
	DeletedAt         gorm.DeletedAt `json:"-" gorm:"index"`
}

func (CaseTheory) TableName() string {
	return "case_theories"
}
