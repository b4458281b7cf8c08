package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/caseflow/backend/internal/logger"
	"github.com/caseflow/backend/internal/models"
	"gorm.io/gorm"
)

// ErrCaseNotFound is returned when the dispatch target does not exist.
var ErrCaseNotFound = errors.New("case not found")

// DispatchRequest is one AI command against one case.
type DispatchRequest struct {
	CaseID  uint                   `json:"caseId"`
	Command string                 `json:"command"`
	Payload map[string]interface{} `json:"payload"`
	UserID  uint                   `json:"-"`
}

// DispatchResponse is the normalized success envelope.
type DispatchResponse struct {
	Message string `json:"message"`
	CaseID  uint   `json:"caseId"`
}

// Orchestrator routes commands to the provider configured on the case.
// It is a pure lookup-and-branch: exactly one handler runs per call, and
// retries are the handler's business, never the dispatcher's.
type Orchestrator struct {
	db     *gorm.DB
	openai *OpenAIService
	gemini *GeminiService
}

func NewOrchestrator(db *gorm.DB, openaiSvc *OpenAIService, geminiSvc *GeminiService) *Orchestrator {
	return &Orchestrator{db: db, openai: openaiSvc, gemini: geminiSvc}
}

// Dispatch loads the case, selects the handler by ai_model, and wraps the
// handler's reply in the response envelope.
func (o *Orchestrator) Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResponse, error) {
	if req.Command == "" {
		return nil, fmt.Errorf("command is required")
	}

	var kase models.Case
	if err := o.db.First(&kase, req.CaseID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCaseNotFound
		}
		return nil, fmt.Errorf("failed to load case: %w", err)
	}

	logger.WithAgent(kase.ID, string(kase.AIModel), req.Command).Info("Dispatching AI command")

	var message string
	var err error
	switch kase.AIModel {
	case models.AIModelOpenAI:
		message, err = o.openai.HandleCommand(ctx, &kase, req.Command, req.Payload)
	case models.AIModelGemini:
		message, err = o.gemini.HandleCommand(ctx, &kase, req.Command, req.Payload)
	default:
		return nil, fmt.Errorf("unsupported ai_model %q for case %d", kase.AIModel, kase.ID)
	}
	if err != nil {
		return nil, err
	}

	return &DispatchResponse{Message: message, CaseID: kase.ID}, nil
}

// Complete runs a one-shot prompt through the case's configured provider,
// bypassing conversation state. Used by the analysis and timeline
// pipelines.
func (o *Orchestrator) Complete(ctx context.Context, kase *models.Case, prompt string) (string, error) {
	switch kase.AIModel {
	case models.AIModelOpenAI:
		return o.openai.Complete(ctx, prompt)
	case models.AIModelGemini:
		return o.gemini.Complete(ctx, kase.ID, prompt)
	default:
		return "", fmt.Errorf("unsupported ai_model %q for case %d", kase.AIModel, kase.ID)
	}
}
