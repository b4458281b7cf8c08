package models

import (
	"time"

	"gorm.io/gorm"
)

type AIModel string

const (
	AIModelOpenAI AIModel = "openai"
	AIModelGemini AIModel = "gemini"
)

type CaseStatus string

const (
	CaseStatusInitialSetup     CaseStatus = "Initial Setup"
	CaseStatusInProgress       CaseStatus = "In Progress"
	CaseStatusAnalysisComplete CaseStatus = "Analysis Complete"
)

// Case is the root entity for one evidence-review matter. The AI
// orchestrator owns Status, the OpenAI session ids and GeminiChatHistory;
// everything else is edited through the CRUD endpoints.
type Case struct {
	ID                uint           `json:"id" gorm:"primaryKey"`
	Name              string         `json:"name" gorm:"not null"`
	Type              string         `json:"type"`
	Status            CaseStatus     `json:"status" gorm:"not null;default:'Initial Setup'"`
	CaseGoals         string         `json:"caseGoals" gorm:"type:text"`
	SystemInstruction string         `json:"systemInstruction" gorm:"type:text"`
	AIModel           AIModel        `json:"aiModel" gorm:"column:ai_model;not null;default:'openai'"`
	OpenAIThreadID    *string        `json:"openaiThreadId" gorm:"column:openai_thread_id"`
	OpenAIAssistantID *string        `json:"openaiAssistantId" gorm:"column:openai_assistant_id"`
	GeminiChatHistory ChatHistory    `json:"geminiChatHistory" gorm:"type:jsonb"`
	ChatVersion       int64          `json:"chatVersion" gorm:"default:0"`
	OwnerID           uint           `json:"ownerId" gorm:"not null;index"`
	Owner             User           `json:"-" gorm:"foreignKey:OwnerID"`
	LastUpdated       time.Time      `json:"lastUpdated" gorm:"autoUpdateTime"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
	DeletedAt         gorm.DeletedAt `json:"-" gorm:"index"`
}

func (Case) TableName() string {
	return "cases"
}
