package controllers

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/caseflow/backend/internal/models"
	"github.com/caseflow/backend/internal/services"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type ExportController struct {
	db     *gorm.DB
	export *services.ExportService
}

func NewExportController(db *gorm.DB, export *services.ExportService) *ExportController {
	return &ExportController{db: db, export: export}
}

// ExportFiles streams a zip of the case's evidence, grouped by category
// folder. The archive is built in memory first so a mid-build failure
// can still return a JSON error instead of a truncated download.
func (ec *ExportController) ExportFiles(c *gin.Context) {
	caseID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid case id"})
		return
	}

	var kase models.Case
	if err := ec.db.First(&kase, caseID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Case not found"})
		return
	}

	category := c.Query("category")

	var buf bytes.Buffer
	if err := ec.export.BuildZip(c.Request.Context(), &buf, kase.ID, category); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	fileName := services.ZipFileName(kase.Name, category)
	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	c.Data(http.StatusOK, "application/zip", buf.Bytes())
}
