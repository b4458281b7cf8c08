package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/caseflow/backend/internal/logger"
	"github.com/caseflow/backend/internal/models"
	"github.com/caseflow/backend/internal/storage"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

const analysisAgentName = "Evidence Analyst"

// fileSampleLimit caps how much of each file is quoted into the
// summarization prompt.
const fileSampleLimit = 4000

// StartAnalysisRequest mirrors the start-analysis endpoint body.
type StartAnalysisRequest struct {
	CaseID            uint     `json:"caseId" binding:"required"`
	FileNames         []string `json:"fileNames" binding:"required"`
	CaseGoals         string   `json:"caseGoals"`
	SystemInstruction string   `json:"systemInstruction"`
	AIModel           string   `json:"aiModel" binding:"required"`
	OpenAIAssistantID *string  `json:"openaiAssistantId"`
	UserID            uint     `json:"-"`
}

type jobRequest struct {
	JobID uint
	Type  string
}

// AnalysisService runs the background file pipeline: categorize and
// summarize each evidence file through the case's configured model,
// updating metadata rows and emitting activity rows as it goes.
type AnalysisService struct {
	db           *gorm.DB
	orchestrator *Orchestrator
	store        storage.EvidenceStore
	activities   *ActivityRecorder
	jobQueue     chan jobRequest
	workerCount  int
	stopChan     <-chan struct{}
	wg           sync.WaitGroup
}

func NewAnalysisService(db *gorm.DB, orch *Orchestrator, store storage.EvidenceStore, activities *ActivityRecorder, stopChan <-chan struct{}) *AnalysisService {
	as := &AnalysisService{
		db:           db,
		orchestrator: orch,
		store:        store,
		activities:   activities,
		jobQueue:     make(chan jobRequest, 100),
		workerCount:  2,
		stopChan:     stopChan,
	}

	for i := 0; i < as.workerCount; i++ {
		as.wg.Add(1)
		go as.worker(i)
	}

	return as
}

func (as *AnalysisService) worker(id int) {
	defer as.wg.Done()

	for {
		select {
		case req := <-as.jobQueue:
			logger.Info("Worker processing job", map[string]interface{}{
				"workerID": id,
				"jobID":    req.JobID,
				"type":     req.Type,
			})
			switch req.Type {
			case models.JobTypeCaseSetup, models.JobTypeAdditionalFiles:
				as.processFileJob(req.JobID)
			default:
				logger.Error("Unknown job type", map[string]interface{}{"jobID": req.JobID, "type": req.Type})
			}

		case <-as.stopChan:
			logger.Info("Worker stopping", map[string]interface{}{"workerID": id})
			return
		}
	}
}

// StartAnalysis applies the case configuration and queues the initial
// file pipeline. It returns as soon as the job is enqueued.
func (as *AnalysisService) StartAnalysis(req StartAnalysisRequest) (*models.Job, error) {
	var kase models.Case
	if err := as.db.First(&kase, req.CaseID).Error; err != nil {
		return nil, ErrCaseNotFound
	}

	model := models.AIModel(req.AIModel)
	if model != models.AIModelOpenAI && model != models.AIModelGemini {
		return nil, fmt.Errorf("unsupported ai model %q", req.AIModel)
	}

	updates := map[string]interface{}{
		"case_goals":         req.CaseGoals,
		"system_instruction": req.SystemInstruction,
		"ai_model":           model,
		"status":             models.CaseStatusInProgress,
	}
	if req.OpenAIAssistantID != nil && *req.OpenAIAssistantID != "" {
		updates["openai_assistant_id"] = *req.OpenAIAssistantID
	}
	if err := as.db.Model(&kase).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update case configuration: %w", err)
	}

	if err := as.ensureMetadataRows(kase.ID, req.UserID, req.FileNames); err != nil {
		return nil, err
	}

	return as.enqueue(kase.ID, models.JobTypeCaseSetup, req.FileNames)
}

// ProcessAdditionalFiles registers new uploads and queues their
// categorization/summarization. For OpenAI cases the job also mirrors the
// files into the vendor store via the dispatcher.
func (as *AnalysisService) ProcessAdditionalFiles(caseID uint, newFileNames []string, userID uint) (*models.Job, error) {
	var kase models.Case
	if err := as.db.First(&kase, caseID).Error; err != nil {
		return nil, ErrCaseNotFound
	}
	if len(newFileNames) == 0 {
		return nil, fmt.Errorf("newFileNames is required")
	}

	if err := as.ensureMetadataRows(caseID, userID, newFileNames); err != nil {
		return nil, err
	}

	return as.enqueue(caseID, models.JobTypeAdditionalFiles, newFileNames)
}

func (as *AnalysisService) ensureMetadataRows(caseID, userID uint, fileNames []string) error {
	for _, name := range fileNames {
		if name == "" {
			continue
		}
		var existing models.CaseFileMetadata
		err := as.db.Where("case_id = ? AND file_name = ?", caseID, name).First(&existing).Error
		if err == nil {
			continue
		}
		if err != gorm.ErrRecordNotFound {
			return fmt.Errorf("failed to check file metadata: %w", err)
		}

		row := models.CaseFileMetadata{
			CaseID:   caseID,
			FileName: name,
			FilePath: fmt.Sprintf("%d/%d/%s", userID, caseID, name),
		}
		if err := as.db.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to insert file metadata: %w", err)
		}
	}
	return nil
}

func (as *AnalysisService) enqueue(caseID uint, jobType string, fileNames []string) (*models.Job, error) {
	job := &models.Job{
		Type:       jobType,
		CaseID:     caseID,
		Status:     models.JobStatusPending,
		TotalFiles: len(fileNames),
		Result:     models.JSONB{"fileNames": fileNames},
	}
	if err := as.db.Create(job).Error; err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	select {
	case as.jobQueue <- jobRequest{JobID: job.ID, Type: jobType}:
	default:
		// Queue full; mark the job failed rather than blocking the request.
		as.updateJobStatus(job.ID, models.JobStatusFailed, "analysis queue is full")
		return nil, fmt.Errorf("analysis queue is full, try again later")
	}

	return job, nil
}

func (as *AnalysisService) updateJobStatus(jobID uint, status models.JobStatus, errMsg string) {
	updates := map[string]interface{}{"status": status, "error": errMsg}
	if status == models.JobStatusFailed || status == models.JobStatusCompleted {
		now := time.Now()
		updates["completed_at"] = &now
	}
	if err := as.db.Model(&models.Job{}).Where("id = ?", jobID).Updates(updates).Error; err != nil {
		logger.Error("Failed to update job status", map[string]interface{}{"jobID": jobID, "error": err.Error()})
	}
}

// processFileJob is the worker entry point for both job types.
func (as *AnalysisService) processFileJob(jobID uint) {
	ctx := context.Background()

	now := time.Now()
	if err := as.db.Model(&models.Job{}).Where("id = ?", jobID).Updates(map[string]interface{}{
		"status":     models.JobStatusRunning,
		"started_at": &now,
		"progress":   5,
	}).Error; err != nil {
		logger.Error("Failed to mark job running", map[string]interface{}{"jobID": jobID, "error": err.Error()})
		return
	}

	var job models.Job
	if err := as.db.Preload("Case").First(&job, jobID).Error; err != nil {
		logger.Error("Failed to load job", map[string]interface{}{"jobID": jobID, "error": err.Error()})
		as.updateJobStatus(jobID, models.JobStatusFailed, "failed to load job")
		return
	}
	if job.Case == nil {
		as.updateJobStatus(jobID, models.JobStatusFailed, "job has no case")
		return
	}
	kase := job.Case

	fileNames := jobFileNames(job.Result)
	as.activities.Processing(kase.ID, analysisAgentName, "Analysis", fmt.Sprintf("Starting analysis of %d file(s)", len(fileNames)))

	failures := 0
	for i, name := range fileNames {
		if err := as.analyzeFile(ctx, kase, name); err != nil {
			failures++
			logger.WithJob(jobID, job.Type).WithField("file", name).Error(err.Error())
		}
		progress := 5 + (90*(i+1))/max(len(fileNames), 1)
		as.db.Model(&models.Job{}).Where("id = ?", jobID).Updates(map[string]interface{}{
			"progress":     progress,
			"current_file": i + 1,
		})
	}

	// OpenAI cases additionally mirror the new files into the vendor's
	// file store so the assistant can retrieve them.
	if job.Type == models.JobTypeAdditionalFiles && kase.AIModel == models.AIModelOpenAI {
		if _, err := as.orchestrator.Dispatch(ctx, DispatchRequest{
			CaseID:  kase.ID,
			Command: "process_additional_files",
			Payload: map[string]interface{}{"newFileNames": fileNames},
		}); err != nil {
			logger.WithJob(jobID, job.Type).Error(err.Error())
			failures++
		}
	}

	if job.Type == models.JobTypeCaseSetup {
		if err := as.db.Model(&models.Case{}).Where("id = ?", kase.ID).
			Update("status", models.CaseStatusAnalysisComplete).Error; err != nil {
			logger.Error("Failed to update case status", map[string]interface{}{"caseID": kase.ID, "error": err.Error()})
		}
	}

	completedAt := time.Now()
	finalStatus, errMsg := jobFinalStatus(failures, len(fileNames))
	as.db.Model(&models.Job{}).Where("id = ?", jobID).Updates(map[string]interface{}{
		"status":       finalStatus,
		"progress":     100,
		"error":        errMsg,
		"completed_at": &completedAt,
	})

	summary := fmt.Sprintf("Analyzed %d file(s), %d failure(s)", len(fileNames), failures)
	if finalStatus == models.JobStatusCompleted {
		as.activities.Completed(kase.ID, analysisAgentName, "Analysis", summary)
	} else {
		as.activities.Failed(kase.ID, analysisAgentName, "Analysis", summary)
	}
}

// fileAnalysisResult is the JSON contract for per-file summarization.
type fileAnalysisResult struct {
	SuggestedName string   `json:"suggested_name"`
	Description   string   `json:"description"`
	Tags          []string `json:"tags"`
	FileCategory  string   `json:"file_category"`
}

func (as *AnalysisService) analyzeFile(ctx context.Context, kase *models.Case, fileName string) error {
	var file models.CaseFileMetadata
	if err := as.db.Where("case_id = ? AND file_name = ?", kase.ID, fileName).First(&file).Error; err != nil {
		return fmt.Errorf("metadata row for %s not found: %w", fileName, err)
	}

	body, err := as.store.Download(ctx, file.FilePath)
	if err != nil {
		as.activities.Failed(kase.ID, analysisAgentName, "File Analysis", fmt.Sprintf("Could not download %s: %v", fileName, err))
		return err
	}
	data, err := io.ReadAll(body)
	body.Close()
	if err != nil {
		as.activities.Failed(kase.ID, analysisAgentName, "File Analysis", fmt.Sprintf("Could not read %s: %v", fileName, err))
		return err
	}

	hash := sha256.Sum256(data)
	hashStr := hex.EncodeToString(hash[:])

	sample := string(data)
	if len(sample) > fileSampleLimit {
		sample = sample[:fileSampleLimit]
	}

	as.activities.Processing(kase.ID, analysisAgentName, "File Analysis", fmt.Sprintf("Summarizing %s", fileName))

	reply, err := as.orchestrator.Complete(ctx, kase, buildFileAnalysisPrompt(&file, sample))
	if err != nil {
		as.activities.Failed(kase.ID, analysisAgentName, "File Analysis", fmt.Sprintf("Model call failed for %s: %v", fileName, err))
		return err
	}

	result, err := parseFileAnalysis(reply)
	if err != nil {
		as.activities.Failed(kase.ID, analysisAgentName, "File Analysis", fmt.Sprintf("Unparseable analysis for %s: %v", fileName, err))
		return err
	}

	updates := map[string]interface{}{"file_hash": hashStr}
	if result.SuggestedName != "" {
		updates["suggested_name"] = result.SuggestedName
	}
	if result.Description != "" {
		updates["description"] = result.Description
	}
	if len(result.Tags) > 0 {
		updates["tags"] = pq.StringArray(result.Tags)
	}
	if result.FileCategory != "" {
		updates["file_category"] = result.FileCategory
	}
	if err := as.db.Model(&file).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update metadata for %s: %w", fileName, err)
	}

	as.activities.Completed(kase.ID, analysisAgentName, "File Analysis", fmt.Sprintf("Summarized %s as %q", fileName, result.FileCategory))
	return nil
}

// parseFileAnalysis accepts either bare JSON or a fenced block.
func parseFileAnalysis(reply string) (*fileAnalysisResult, error) {
	clean := reply
	if block, ok := fencedJSONBlock(reply); ok {
		clean = block
	}
	clean = strings.TrimSpace(clean)
	if !strings.HasPrefix(clean, "{") {
		return nil, fmt.Errorf("model did not return a JSON object: %q", truncateForLog(clean))
	}

	var result fileAnalysisResult
	if err := json.Unmarshal([]byte(clean), &result); err != nil {
		return nil, fmt.Errorf("failed to parse analysis JSON: %w", err)
	}
	return &result, nil
}

func jobFileNames(result models.JSONB) []string {
	if result == nil {
		return nil
	}
	return toStringSlice(result["fileNames"])
}

// jobFinalStatus decides the terminal job status. The failure count can
// exceed the file count when the downstream file dispatch also fails, so
// the comparison is >=, not ==.
func jobFinalStatus(failures, totalFiles int) (models.JobStatus, string) {
	if totalFiles > 0 && failures >= totalFiles {
		return models.JobStatusFailed, "all files failed analysis"
	}
	return models.JobStatusCompleted, ""
}

func truncateForLog(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
