package routes

import (
	"context"
	"os"

	"github.com/caseflow/backend/internal/controllers"
	"github.com/caseflow/backend/internal/logger"
	"github.com/caseflow/backend/internal/middleware"
	"github.com/caseflow/backend/internal/services"
	"github.com/caseflow/backend/internal/storage"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// SetupRoutes configures all application routes
func SetupRoutes(r *gin.Engine, db *gorm.DB, stopChan <-chan struct{}) error {
	// Initialize services
	store, err := storage.NewS3StoreFromEnv(context.Background())
	if err != nil {
		return err
	}

	activities := services.NewActivityRecorder(db)
	search := services.NewSearchService()
	geminiService := services.NewGeminiService(db, activities, search)
	openaiService := services.NewOpenAIService(db, store, activities, search)
	orchestrator := services.NewOrchestrator(db, openaiService, geminiService)
	analysisService := services.NewAnalysisService(db, orchestrator, store, activities, stopChan)
	timelineService := services.NewTimelineService(db, orchestrator, activities)
	exportService := services.NewExportService(db, store)

	// The graph view is optional: without NEO4J_URI its endpoints answer 503.
	var graphService *services.GraphService
	if os.Getenv("NEO4J_URI") != "" {
		graphService, err = services.NewGraphServiceFromEnv(context.Background())
		if err != nil {
			logger.Error("Failed to connect graph database, graph endpoints disabled", map[string]interface{}{"error": err.Error()})
			graphService = nil
		}
	}

	// Initialize controllers
	authController := controllers.NewAuthController(db)
	userController := controllers.NewUserController(db)
	caseController := controllers.NewCaseController(db, store)
	orchestratorController := controllers.NewOrchestratorController(orchestrator)
	analysisController := controllers.NewAnalysisController(db, analysisService)
	timelineController := controllers.NewTimelineController(db, timelineService)
	graphController := controllers.NewGraphController(graphService, orchestrator)
	exportController := controllers.NewExportController(db, exportService)

	// API routes
	api := r.Group("/api/v1")
	{
		// Auth routes
		auth := api.Group("/auth")
		{
			auth.POST("/login", authController.Login)
			auth.POST("/register", authController.Register)
			auth.POST("/refresh", authController.RefreshToken)
		}

		// Protected routes
		protected := api.Group("/")
		protected.Use(middleware.AuthMiddleware())
		{
			// Users
			users := protected.Group("/users")
			{
				users.GET("/me", userController.GetCurrentUser)
				users.PUT("/me", userController.UpdateCurrentUser)
				users.GET("", userController.GetUsers)
			}

			// Cases
			cases := protected.Group("/cases")
			{
				cases.POST("", caseController.CreateCase)
				cases.GET("", caseController.GetCases)
				cases.GET("/:id", caseController.GetCase)
				cases.PUT("/:id", caseController.UpdateCase)
				cases.DELETE("/:id", caseController.DeleteCase)
				cases.POST("/:id/files", caseController.UploadFile)
				cases.GET("/:id/files", caseController.GetFiles)
				cases.DELETE("/:id/files/:fileId", caseController.DeleteFile)
				cases.GET("/:id/activities", caseController.GetActivities)
				cases.GET("/:id/theory", caseController.GetTheory)
				cases.GET("/:id/insights", caseController.GetInsights)
				cases.GET("/:id/timelines", timelineController.GetTimelines)
				cases.GET("/:id/graph", graphController.GetGraph)
				cases.POST("/:id/graph/analyze", graphController.AnalyzeGraph)
				cases.GET("/:id/export", exportController.ExportFiles)
			}

			// AI orchestration
			ai := protected.Group("/ai")
			{
				ai.POST("/orchestrator", orchestratorController.Dispatch)
				ai.POST("/start-analysis", analysisController.StartAnalysis)
				ai.POST("/process-additional-files", analysisController.ProcessAdditionalFiles)
			}

			// Background jobs
			jobs := protected.Group("/jobs")
			{
				jobs.GET("/:id", analysisController.GetJob)
			}

			// Timelines
			timelines := protected.Group("/timelines")
			{
				timelines.POST("/generate", timelineController.Generate)
				timelines.GET("/:timelineId/events", timelineController.GetTimelineEvents)
			}
		}
	}

	return nil
}
