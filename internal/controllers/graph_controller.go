package controllers

import (
	"net/http"
	"strconv"

	"github.com/caseflow/backend/internal/services"
	"github.com/gin-gonic/gin"
)

type GraphController struct {
	graph        *services.GraphService
	orchestrator *services.Orchestrator
}

// NewGraphController accepts a nil graph service when no graph database
// is configured; the handlers then answer 503.
func NewGraphController(graph *services.GraphService, orchestrator *services.Orchestrator) *GraphController {
	return &GraphController{graph: graph, orchestrator: orchestrator}
}

// GetGraph returns the case's knowledge graph as {nodes, links}.
func (gc *GraphController) GetGraph(c *gin.Context) {
	if gc.graph == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Graph database is not configured"})
		return
	}

	caseID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid case id"})
		return
	}

	data, err := gc.graph.GetGraph(c.Request.Context(), uint(caseID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, data)
}

// AnalyzeGraph renders the graph as text and asks the case's model to
// interpret it through the normal conversation flow.
func (gc *GraphController) AnalyzeGraph(c *gin.Context) {
	if gc.graph == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Graph database is not configured"})
		return
	}

	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	caseID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid case id"})
		return
	}

	summary, err := gc.graph.SummaryForAI(c.Request.Context(), uint(caseID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if summary == "" {
		c.JSON(http.StatusOK, gin.H{"message": "The knowledge graph for this case is empty", "caseId": caseID})
		return
	}

	resp, err := gc.orchestrator.Dispatch(c.Request.Context(), services.DispatchRequest{
		CaseID:  uint(caseID),
		Command: "user_prompt",
		Payload: map[string]interface{}{"prompt": services.BuildGraphSummaryPrompt(summary)},
		UserID:  userID.(uint),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}
