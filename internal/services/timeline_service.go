package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/caseflow/backend/internal/models"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

const timelineAgentName = "Timeline Builder"

// maxTimelineEvents caps one generation batch.
const maxTimelineEvents = 100

// TimelineService turns file summaries into dated timeline events. Batches
// are additive: regenerating the same timeline appends, it never dedupes
// or replaces.
type TimelineService struct {
	db           *gorm.DB
	orchestrator *Orchestrator
	activities   *ActivityRecorder
}

func NewTimelineService(db *gorm.DB, orch *Orchestrator, activities *ActivityRecorder) *TimelineService {
	return &TimelineService{db: db, orchestrator: orch, activities: activities}
}

type timelineEventDraft struct {
	EventDate   string   `json:"event_date"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	SourceFiles []string `json:"source_files"`
}

// Generate builds one batch of events for the timeline and returns how
// many were inserted.
func (ts *TimelineService) Generate(ctx context.Context, caseID, timelineID uint, timelineName, focus string) (int, error) {
	var kase models.Case
	if err := ts.db.First(&kase, caseID).Error; err != nil {
		return 0, ErrCaseNotFound
	}

	timeline, err := ts.ensureTimeline(caseID, timelineID, timelineName, focus)
	if err != nil {
		return 0, err
	}

	summaries, err := ts.fileSummaries(caseID)
	if err != nil {
		return 0, err
	}
	if len(summaries) == 0 {
		return 0, fmt.Errorf("case %d has no summarized evidence to build a timeline from", caseID)
	}

	ts.activities.Processing(caseID, timelineAgentName, "Timeline", fmt.Sprintf("Generating timeline %q from %d evidence summaries", timeline.Name, len(summaries)))

	reply, err := ts.orchestrator.Complete(ctx, &kase, buildTimelinePrompt(timeline.Name, focus, summaries))
	if err != nil {
		ts.activities.Failed(caseID, timelineAgentName, "Timeline", fmt.Sprintf("Model call failed: %v", err))
		return 0, err
	}

	drafts, err := parseTimelineEvents(reply)
	if err != nil {
		ts.activities.Failed(caseID, timelineAgentName, "Timeline", fmt.Sprintf("Unparseable timeline response: %v", err))
		return 0, err
	}
	if len(drafts) > maxTimelineEvents {
		drafts = drafts[:maxTimelineEvents]
	}

	inserted := 0
	for _, draft := range drafts {
		if draft.Title == "" {
			continue
		}
		event := models.TimelineEvent{
			TimelineID:  timeline.ID,
			CaseID:      caseID,
			EventDate:   draft.EventDate,
			Title:       draft.Title,
			Description: draft.Description,
			SourceFiles: pq.StringArray(draft.SourceFiles),
		}
		if err := ts.db.Create(&event).Error; err != nil {
			ts.activities.Failed(caseID, timelineAgentName, "Timeline", fmt.Sprintf("Failed to insert event %q: %v", draft.Title, err))
			continue
		}
		inserted++
	}

	insight := models.CaseInsight{
		CaseID:      caseID,
		Title:       fmt.Sprintf("Timeline %q updated", timeline.Name),
		Description: fmt.Sprintf("%d event(s) were generated from the case evidence.", inserted),
		InsightType: models.InsightAutoEvent,
		TimelineID:  &timeline.ID,
	}
	if err := ts.db.Create(&insight).Error; err != nil {
		ts.activities.Failed(caseID, timelineAgentName, "Timeline", fmt.Sprintf("Failed to insert timeline insight: %v", err))
	}

	ts.activities.Completed(caseID, timelineAgentName, "Timeline", fmt.Sprintf("Added %d event(s) to timeline %q", inserted, timeline.Name))
	return inserted, nil
}

func (ts *TimelineService) ensureTimeline(caseID, timelineID uint, name, focus string) (*models.CaseTimeline, error) {
	if timelineID != 0 {
		var timeline models.CaseTimeline
		if err := ts.db.Where("id = ? AND case_id = ?", timelineID, caseID).First(&timeline).Error; err != nil {
			return nil, fmt.Errorf("timeline %d not found for case %d", timelineID, caseID)
		}
		return &timeline, nil
	}

	if name == "" {
		name = "Case Timeline"
	}
	timeline := models.CaseTimeline{CaseID: caseID, Name: name, Focus: focus}
	if err := ts.db.Create(&timeline).Error; err != nil {
		return nil, fmt.Errorf("failed to create timeline: %w", err)
	}
	return &timeline, nil
}

func (ts *TimelineService) fileSummaries(caseID uint) ([]string, error) {
	var files []models.CaseFileMetadata
	if err := ts.db.Where("case_id = ?", caseID).Find(&files).Error; err != nil {
		return nil, fmt.Errorf("failed to load file metadata: %w", err)
	}

	var summaries []string
	for _, f := range files {
		if f.Description == nil || *f.Description == "" {
			continue
		}
		category := ""
		if f.FileCategory != nil {
			category = fmt.Sprintf(" [%s]", *f.FileCategory)
		}
		summaries = append(summaries, fmt.Sprintf("%s%s: %s", f.FileName, category, *f.Description))
	}
	return summaries, nil
}

// parseTimelineEvents accepts a bare JSON array or a fenced block.
func parseTimelineEvents(reply string) ([]timelineEventDraft, error) {
	clean := reply
	if block, ok := fencedJSONBlock(reply); ok {
		clean = block
	}
	clean = strings.TrimSpace(clean)
	if !strings.HasPrefix(clean, "[") {
		return nil, fmt.Errorf("model did not return a JSON array: %q", truncateForLog(clean))
	}

	var drafts []timelineEventDraft
	if err := json.Unmarshal([]byte(clean), &drafts); err != nil {
		return nil, fmt.Errorf("failed to parse timeline JSON: %w", err)
	}
	return drafts, nil
}
