package controllers

import (
	"net/http"
	"strconv"

	"github.com/caseflow/backend/internal/models"
	"github.com/caseflow/backend/internal/services"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type TimelineController struct {
	db       *gorm.DB
	timeline *services.TimelineService
}

func NewTimelineController(db *gorm.DB, timeline *services.TimelineService) *TimelineController {
	return &TimelineController{db: db, timeline: timeline}
}

type GenerateTimelineRequest struct {
	CaseID     uint   `json:"caseId" binding:"required"`
	TimelineID uint   `json:"timelineId"`
	Name       string `json:"name"`
	Focus      string `json:"focus"`
}

// Generate runs timeline extraction synchronously and reports how many
// events the pass added.
func (tc *TimelineController) Generate(c *gin.Context) {
	var req GenerateTimelineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.TimelineID == 0 && req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required when creating a timeline"})
		return
	}

	count, err := tc.timeline.Generate(c.Request.Context(), req.CaseID, req.TimelineID, req.Name, req.Focus)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":     "Timeline generated",
		"eventsAdded": count,
	})
}

func (tc *TimelineController) GetTimelines(c *gin.Context) {
	caseID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid case id"})
		return
	}

	var timelines []models.CaseTimeline
	if err := tc.db.Where("case_id = ?", caseID).Order("created_at DESC").Find(&timelines).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load timelines"})
		return
	}
	c.JSON(http.StatusOK, timelines)
}

func (tc *TimelineController) GetTimelineEvents(c *gin.Context) {
	timelineID, err := strconv.ParseUint(c.Param("timelineId"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid timeline id"})
		return
	}

	var events []models.TimelineEvent
	if err := tc.db.Where("timeline_id = ?", timelineID).Order("event_date ASC, id ASC").Find(&events).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load timeline events"})
		return
	}
	c.JSON(http.StatusOK, events)
}
