package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/caseflow/backend/internal/models"
	"github.com/caseflow/backend/internal/services"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type AnalysisController struct {
	db       *gorm.DB
	analysis *services.AnalysisService
}

func NewAnalysisController(db *gorm.DB, analysis *services.AnalysisService) *AnalysisController {
	return &AnalysisController{db: db, analysis: analysis}
}

type ProcessAdditionalFilesRequest struct {
	CaseID       uint     `json:"caseId" binding:"required"`
	NewFileNames []string `json:"newFileNames" binding:"required"`
}

// StartAnalysis applies the case configuration and queues the initial
// file pipeline, returning the job id immediately.
func (ac *AnalysisController) StartAnalysis(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var req services.StartAnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.UserID = userID.(uint)

	job, err := ac.analysis.StartAnalysis(req)
	if err != nil {
		if errors.Is(err, services.ErrCaseNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Case not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message": "Analysis starting in background",
		"jobId":   job.ID,
	})
}

func (ac *AnalysisController) ProcessAdditionalFiles(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var req ProcessAdditionalFilesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := ac.analysis.ProcessAdditionalFiles(req.CaseID, req.NewFileNames, userID.(uint))
	if err != nil {
		if errors.Is(err, services.ErrCaseNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Case not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message": "Processing additional files in background",
		"jobId":   job.ID,
	})
}

// GetJob reports progress for one background job.
func (ac *AnalysisController) GetJob(c *gin.Context) {
	jobID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid job id"})
		return
	}

	var job models.Job
	if err := ac.db.First(&job, jobID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}
