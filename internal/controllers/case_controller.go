package controllers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/caseflow/backend/internal/logger"
	"github.com/caseflow/backend/internal/models"
	"github.com/caseflow/backend/internal/storage"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type CaseController struct {
	db    *gorm.DB
	store storage.EvidenceStore
}

func NewCaseController(db *gorm.DB, store storage.EvidenceStore) *CaseController {
	return &CaseController{db: db, store: store}
}

type CreateCaseRequest struct {
	Name              string `json:"name" binding:"required"`
	Type              string `json:"type"`
	CaseGoals         string `json:"caseGoals"`
	SystemInstruction string `json:"systemInstruction"`
	AIModel           string `json:"aiModel"`
}

type UpdateCaseRequest struct {
	Name              *string `json:"name"`
	Type              *string `json:"type"`
	CaseGoals         *string `json:"caseGoals"`
	SystemInstruction *string `json:"systemInstruction"`
	AIModel           *string `json:"aiModel"`
}

func (cc *CaseController) CreateCase(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var req CreateCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	model := models.AIModelOpenAI
	if req.AIModel != "" {
		model = models.AIModel(req.AIModel)
		if model != models.AIModelOpenAI && model != models.AIModelGemini {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unsupported ai model %q", req.AIModel)})
			return
		}
	}

	kase := models.Case{
		Name:              req.Name,
		Type:              req.Type,
		Status:            models.CaseStatusInitialSetup,
		CaseGoals:         req.CaseGoals,
		SystemInstruction: req.SystemInstruction,
		AIModel:           model,
		GeminiChatHistory: models.ChatHistory{},
		OwnerID:           userID.(uint),
	}

	if err := cc.db.Create(&kase).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create case"})
		return
	}

	c.JSON(http.StatusCreated, kase)
}

func (cc *CaseController) GetCases(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var cases []models.Case
	query := cc.db.Where("owner_id = ?", userID).Order("last_updated DESC")

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	query = query.Offset((page - 1) * limit).Limit(limit)

	if err := query.Find(&cases).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load cases"})
		return
	}
	c.JSON(http.StatusOK, cases)
}

func (cc *CaseController) GetCase(c *gin.Context) {
	kase, ok := cc.ownedCase(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, kase)
}

func (cc *CaseController) UpdateCase(c *gin.Context) {
	kase, ok := cc.ownedCase(c)
	if !ok {
		return
	}

	var req UpdateCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Type != nil {
		updates["type"] = *req.Type
	}
	if req.CaseGoals != nil {
		updates["case_goals"] = *req.CaseGoals
	}
	if req.SystemInstruction != nil {
		updates["system_instruction"] = *req.SystemInstruction
	}
	if req.AIModel != nil {
		model := models.AIModel(*req.AIModel)
		if model != models.AIModelOpenAI && model != models.AIModelGemini {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unsupported ai model %q", *req.AIModel)})
			return
		}
		updates["ai_model"] = model
	}

	if len(updates) > 0 {
		if err := cc.db.Model(kase).Updates(updates).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update case"})
			return
		}
	}
	c.JSON(http.StatusOK, kase)
}

// DeleteCase removes the case row and cascades its storage objects and
// dependent rows. Storage failures are logged but do not block deletion.
func (cc *CaseController) DeleteCase(c *gin.Context) {
	kase, ok := cc.ownedCase(c)
	if !ok {
		return
	}

	prefix := fmt.Sprintf("%d/%d/", kase.OwnerID, kase.ID)
	if objects, err := cc.store.List(c.Request.Context(), prefix); err == nil {
		for _, obj := range objects {
			if err := cc.store.Delete(c.Request.Context(), obj.Key); err != nil {
				logger.Error("Failed to delete storage object", map[string]interface{}{"key": obj.Key, "error": err.Error()})
			}
		}
	} else {
		logger.Error("Failed to list storage objects for case deletion", map[string]interface{}{"case_id": kase.ID, "error": err.Error()})
	}

	for _, model := range []interface{}{
		&models.AgentActivity{}, &models.CaseTheory{}, &models.CaseInsight{},
		&models.CaseFileMetadata{}, &models.TimelineEvent{}, &models.CaseTimeline{},
	} {
		if err := cc.db.Where("case_id = ?", kase.ID).Delete(model).Error; err != nil {
			logger.Error("Failed to delete case rows", map[string]interface{}{"case_id": kase.ID, "error": err.Error()})
		}
	}

	if err := cc.db.Delete(kase).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete case"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Case deleted", "caseId": kase.ID})
}

// UploadFile stores one evidence file and creates its metadata row.
func (cc *CaseController) UploadFile(c *gin.Context) {
	kase, ok := cc.ownedCase(c)
	if !ok {
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read upload"})
		return
	}
	defer src.Close()

	key := fmt.Sprintf("%d/%d/%s", kase.OwnerID, kase.ID, file.Filename)
	contentType := file.Header.Get("Content-Type")
	if err := cc.store.Upload(c.Request.Context(), key, src, file.Size, contentType); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store file"})
		return
	}

	metadata := models.CaseFileMetadata{
		CaseID:   kase.ID,
		FileName: file.Filename,
		FilePath: key,
		Size:     file.Size,
	}
	if err := cc.db.Create(&metadata).Error; err != nil {
		// Remove the orphaned object if the row cannot be written.
		if derr := cc.store.Delete(c.Request.Context(), key); derr != nil {
			logger.Error("Failed to clean up orphaned upload", map[string]interface{}{"key": key, "error": derr.Error()})
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save file metadata"})
		return
	}

	c.JSON(http.StatusCreated, metadata)
}

func (cc *CaseController) DeleteFile(c *gin.Context) {
	kase, ok := cc.ownedCase(c)
	if !ok {
		return
	}

	fileID, err := strconv.ParseUint(c.Param("fileId"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid file id"})
		return
	}

	var file models.CaseFileMetadata
	if err := cc.db.Where("id = ? AND case_id = ?", fileID, kase.ID).First(&file).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return
	}

	if err := cc.store.Delete(c.Request.Context(), file.FilePath); err != nil {
		logger.Error("Failed to delete storage object", map[string]interface{}{"key": file.FilePath, "error": err.Error()})
	}
	if err := cc.db.Delete(&file).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete file metadata"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "File deleted", "fileId": file.ID})
}

func (cc *CaseController) GetFiles(c *gin.Context) {
	kase, ok := cc.ownedCase(c)
	if !ok {
		return
	}

	var files []models.CaseFileMetadata
	if err := cc.db.Where("case_id = ?", kase.ID).Order("created_at DESC").Find(&files).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load files"})
		return
	}
	c.JSON(http.StatusOK, files)
}

func (cc *CaseController) GetActivities(c *gin.Context) {
	kase, ok := cc.ownedCase(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	var activities []models.AgentActivity
	if err := cc.db.Where("case_id = ?", kase.ID).Order("timestamp DESC").Limit(limit).Find(&activities).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load activities"})
		return
	}
	c.JSON(http.StatusOK, activities)
}

func (cc *CaseController) GetTheory(c *gin.Context) {
	kase, ok := cc.ownedCase(c)
	if !ok {
		return
	}

	var theory models.CaseTheory
	if err := cc.db.Where("case_id = ?", kase.ID).First(&theory).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No theory recorded for this case yet"})
		return
	}
	c.JSON(http.StatusOK, theory)
}

func (cc *CaseController) GetInsights(c *gin.Context) {
	kase, ok := cc.ownedCase(c)
	if !ok {
		return
	}

	var insights []models.CaseInsight
	if err := cc.db.Where("case_id = ?", kase.ID).Order("timestamp DESC").Find(&insights).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load insights"})
		return
	}
	c.JSON(http.StatusOK, insights)
}

// ownedCase loads the :id case and checks it belongs to the caller.
func (cc *CaseController) ownedCase(c *gin.Context) (*models.Case, bool) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return nil, false
	}

	caseID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid case id"})
		return nil, false
	}

	var kase models.Case
	if err := cc.db.Where("id = ? AND owner_id = ?", caseID, userID).First(&kase).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Case not found"})
		return nil, false
	}
	return &kase, true
}
