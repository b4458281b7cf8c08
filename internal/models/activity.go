package models

import (
	"time"
)

type ActivityStatus string

const (
	ActivityStatusProcessing ActivityStatus = "processing"
	ActivityStatusCompleted  ActivityStatus = "completed"
	ActivityStatusError      ActivityStatus = "error"
)

// AgentActivity is an append-only audit row. Every external call the
// system makes (AI turn, tool call, file operation) writes at least one of
// these, including on failure; rows are never updated after insert.
type AgentActivity struct {
	ID           uint           `json:"id" gorm:"primaryKey"`
	CaseID       uint           `json:"caseId" gorm:"not null;index"`
	AgentName    string         `json:"agentName" gorm:"not null"`
	AgentRole    string         `json:"agentRole"`
	ActivityType string         `json:"activityType" gorm:"not null"`
	Content      string         `json:"content" gorm:"type:text"`
	Status       ActivityStatus `json:"status" gorm:"not null;default:'completed'"`
	Timestamp    time.Time      `json:"timestamp" gorm:"autoCreateTime"`
	CreatedAt    time.Time      `json:"createdAt"`
}

func (AgentActivity) TableName() string {
	return "agent_activities"
}
