package controllers

import (
	"errors"
	"net/http"

	"github.com/caseflow/backend/internal/services"
	"github.com/gin-gonic/gin"
)

type OrchestratorController struct {
	orchestrator *services.Orchestrator
}

func NewOrchestratorController(orchestrator *services.Orchestrator) *OrchestratorController {
	return &OrchestratorController{orchestrator: orchestrator}
}

// Dispatch is the single AI entry point: POST /ai/orchestrator with
// {caseId, command, payload}. Validation happens before any provider
// call so a bad request never mutates conversation state.
func (oc *OrchestratorController) Dispatch(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var req services.DispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.CaseID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "caseId is required"})
		return
	}
	if req.Command == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "command is required"})
		return
	}
	req.UserID = userID.(uint)

	resp, err := oc.orchestrator.Dispatch(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, services.ErrCaseNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Case not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}
