package services

import (
	"github.com/caseflow/backend/internal/logger"
	"github.com/caseflow/backend/internal/models"
	"gorm.io/gorm"
)

// ActivityRecorder writes append-only agent_activities rows. Every external
// call gets at least one row, including failures; an insert error is logged
// and swallowed so audit trouble never aborts the command being audited.
type ActivityRecorder struct {
	db *gorm.DB
}

func NewActivityRecorder(db *gorm.DB) *ActivityRecorder {
	return &ActivityRecorder{db: db}
}

// Record inserts one activity row and returns it, or nil if the insert failed.
func (ar *ActivityRecorder) Record(caseID uint, agentName, agentRole, activityType, content string, status models.ActivityStatus) *models.AgentActivity {
	activity := &models.AgentActivity{
		CaseID:       caseID,
		AgentName:    agentName,
		AgentRole:    agentRole,
		ActivityType: activityType,
		Content:      content,
		Status:       status,
	}

	if err := ar.db.Create(activity).Error; err != nil {
		logger.Error("Failed to record agent activity", map[string]interface{}{
			"case_id":       caseID,
			"activity_type": activityType,
			"error":         err.Error(),
		})
		return nil
	}
	return activity
}

func (ar *ActivityRecorder) Processing(caseID uint, agentName, activityType, content string) *models.AgentActivity {
	return ar.Record(caseID, agentName, "assistant", activityType, content, models.ActivityStatusProcessing)
}

func (ar *ActivityRecorder) Completed(caseID uint, agentName, activityType, content string) *models.AgentActivity {
	return ar.Record(caseID, agentName, "assistant", activityType, content, models.ActivityStatusCompleted)
}

func (ar *ActivityRecorder) Failed(caseID uint, agentName, activityType, content string) *models.AgentActivity {
	return ar.Record(caseID, agentName, "assistant", activityType, content, models.ActivityStatusError)
}
