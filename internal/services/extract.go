package services

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/caseflow/backend/internal/logger"
	"github.com/caseflow/backend/internal/models"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// TheoryUpdate replaces the case theory row wholesale when present.
type TheoryUpdate struct {
	FactPatterns      []string `json:"fact_patterns"`
	LegalArguments    []string `json:"legal_arguments"`
	PotentialOutcomes []string `json:"potential_outcomes"`
	Status            string   `json:"status"`
}

// InsightDraft is one insight proposed by the model.
type InsightDraft struct {
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	InsightType     string   `json:"insight_type"`
	RelevantFileIDs []string `json:"relevant_file_ids"`
}

// StructuredUpdate is the machine-readable delta a model may embed in its
// reply as a fenced json block. Both keys are optional.
type StructuredUpdate struct {
	TheoryUpdate *TheoryUpdate  `json:"theory_update"`
	Insights     []InsightDraft `json:"insights"`
}

// IsEmpty reports whether the update carries nothing to persist.
func (u *StructuredUpdate) IsEmpty() bool {
	return u == nil || (u.TheoryUpdate == nil && len(u.Insights) == 0)
}

// ExtractStructuredUpdate scans model output for a fenced ```json block.
// No block present returns (nil, nil): that is "no structured update", not
// an error. A block that fails to parse is a hard error so callers can
// tell malformed output apart from absent output.
func ExtractStructuredUpdate(text string) (*StructuredUpdate, error) {
	block, ok := fencedJSONBlock(text)
	if !ok {
		return nil, nil
	}

	var update StructuredUpdate
	if err := json.Unmarshal([]byte(block), &update); err != nil {
		return nil, fmt.Errorf("malformed json block in model response: %w", err)
	}
	return &update, nil
}

// fencedJSONBlock returns the contents of the first ```json fence, or the
// whole response when the response itself is a bare fenced block.
func fencedJSONBlock(text string) (string, bool) {
	start := strings.Index(text, "```json")
	if start == -1 {
		// Some models fence without the language tag; accept a fully
		// fenced response that looks like JSON.
		trimmed := strings.TrimSpace(text)
		if strings.HasPrefix(trimmed, "```") && strings.HasSuffix(trimmed, "```") {
			inner := strings.TrimSuffix(strings.TrimPrefix(trimmed, "```"), "```")
			inner = strings.TrimSpace(inner)
			if strings.HasPrefix(inner, "{") || strings.HasPrefix(inner, "[") {
				return inner, true
			}
		}
		return "", false
	}

	rest := text[start+len("```json"):]
	end := strings.Index(rest, "```")
	if end == -1 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// ApplyStructuredUpdate persists a parsed update: the theory row is
// overwritten wholesale, insights are appended one by one. Individual
// insert failures are logged and skipped so a partial update never aborts
// the overall command.
func ApplyStructuredUpdate(db *gorm.DB, caseID uint, update *StructuredUpdate) (inserted int) {
	if update.IsEmpty() {
		return 0
	}

	if update.TheoryUpdate != nil {
		theory := models.CaseTheory{
			CaseID:            caseID,
			FactPatterns:      pq.StringArray(update.TheoryUpdate.FactPatterns),
			LegalArguments:    pq.StringArray(update.TheoryUpdate.LegalArguments),
			PotentialOutcomes: pq.StringArray(update.TheoryUpdate.PotentialOutcomes),
			Status:            update.TheoryUpdate.Status,
		}
		if theory.Status == "" {
			theory.Status = "draft"
		}

		var existing models.CaseTheory
		err := db.Where("case_id = ?", caseID).First(&existing).Error
		switch {
		case err == nil:
			theory.ID = existing.ID
			if err := db.Save(&theory).Error; err != nil {
				logger.Error("Failed to overwrite case theory", map[string]interface{}{"case_id": caseID, "error": err.Error()})
			}
		case err == gorm.ErrRecordNotFound:
			if err := db.Create(&theory).Error; err != nil {
				logger.Error("Failed to create case theory", map[string]interface{}{"case_id": caseID, "error": err.Error()})
			}
		default:
			logger.Error("Failed to load case theory", map[string]interface{}{"case_id": caseID, "error": err.Error()})
		}
	}

	for _, draft := range update.Insights {
		if draft.Title == "" {
			continue
		}
		insight := models.CaseInsight{
			CaseID:          caseID,
			Title:           draft.Title,
			Description:     draft.Description,
			InsightType:     models.NormalizeInsightType(draft.InsightType),
			RelevantFileIDs: pq.StringArray(draft.RelevantFileIDs),
		}
		if err := db.Create(&insight).Error; err != nil {
			logger.Error("Failed to insert case insight", map[string]interface{}{"case_id": caseID, "title": draft.Title, "error": err.Error()})
			continue
		}
		inserted++
	}
	return inserted
}
