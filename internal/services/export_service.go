package services

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/caseflow/backend/internal/logger"
	"github.com/caseflow/backend/internal/models"
	"github.com/caseflow/backend/internal/storage"
	"gorm.io/gorm"
)

// ExportService streams a case's evidence files into a zip organized by
// category folders.
type ExportService struct {
	db    *gorm.DB
	store storage.EvidenceStore
}

func NewExportService(db *gorm.DB, store storage.EvidenceStore) *ExportService {
	return &ExportService{db: db, store: store}
}

// BuildZip writes the archive to w. With a category filter, zero matching
// files is an error naming the requested category; individual download
// failures are logged and skipped so one bad object does not sink the
// whole export.
func (es *ExportService) BuildZip(ctx context.Context, w io.Writer, caseID uint, category string) error {
	query := es.db.Where("case_id = ?", caseID)
	if category != "" {
		query = query.Where("file_category = ?", category)
	}

	var files []models.CaseFileMetadata
	if err := query.Find(&files).Error; err != nil {
		return fmt.Errorf("failed to load file metadata: %w", err)
	}
	if len(files) == 0 {
		if category != "" {
			return fmt.Errorf("no files found in category %q for case %d", category, caseID)
		}
		return fmt.Errorf("case %d has no files to export", caseID)
	}

	written, err := es.writeArchive(ctx, w, caseID, files)
	if err != nil {
		return err
	}
	if written == 0 {
		return fmt.Errorf("no files could be downloaded for case %d", caseID)
	}
	return nil
}

// writeArchive streams each file into a folder named after its category.
func (es *ExportService) writeArchive(ctx context.Context, w io.Writer, caseID uint, files []models.CaseFileMetadata) (int, error) {
	zw := zip.NewWriter(w)
	written := 0
	for _, file := range files {
		folder := "Uncategorized"
		if file.FileCategory != nil && *file.FileCategory != "" {
			folder = *file.FileCategory
		}

		name := file.FileName
		if file.SuggestedName != nil && *file.SuggestedName != "" {
			name = *file.SuggestedName
		}

		body, err := es.store.Download(ctx, file.FilePath)
		if err != nil {
			logger.Error("Skipping file in zip export", map[string]interface{}{
				"case_id": caseID,
				"file":    file.FileName,
				"error":   err.Error(),
			})
			continue
		}

		entry, err := zw.Create(path.Join(folder, name))
		if err != nil {
			body.Close()
			zw.Close()
			return written, fmt.Errorf("failed to create zip entry for %s: %w", name, err)
		}
		if _, err := io.Copy(entry, body); err != nil {
			body.Close()
			zw.Close()
			return written, fmt.Errorf("failed to write %s into zip: %w", name, err)
		}
		body.Close()
		written++
	}

	if err := zw.Close(); err != nil {
		return written, fmt.Errorf("failed to finalize zip: %w", err)
	}
	return written, nil
}

// ZipFileName builds the attachment name for one export.
func ZipFileName(caseName, category string) string {
	if category != "" {
		return fmt.Sprintf("%s-%s-evidence.zip", caseName, category)
	}
	return fmt.Sprintf("%s-evidence.zip", caseName)
}
