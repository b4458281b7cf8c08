package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/caseflow/backend/internal/logger"
	"github.com/caseflow/backend/internal/models"
	"github.com/caseflow/backend/internal/storage"
	openai "github.com/sashabaranov/go-openai"
	"gorm.io/gorm"
)

const openaiAgentName = "OpenAI Case Analyst"

// OpenAIService handles AI commands for cases configured with ai_model
// "openai". Conversation state lives vendor-side in an assistant/thread
// pair whose ids are persisted on the case row; each command appends
// messages and drives one run to a terminal status, executing web_search
// tool calls along the way.
type OpenAIService struct {
	db         *gorm.DB
	client     *openai.Client
	store      storage.EvidenceStore
	activities *ActivityRecorder
	search     *SearchService

	chatModel    string
	pollInterval time.Duration
	runTimeout   time.Duration
}

func NewOpenAIService(db *gorm.DB, store storage.EvidenceStore, activities *ActivityRecorder, search *SearchService) *OpenAIService {
	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = openai.GPT4o
	}

	runTimeout := 120 * time.Second
	if v := os.Getenv("OPENAI_RUN_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			runTimeout = time.Duration(n) * time.Second
		}
	}

	return &OpenAIService{
		db:           db,
		client:       openai.NewClient(os.Getenv("OPENAI_API_KEY")),
		store:        store,
		activities:   activities,
		search:       search,
		chatModel:    model,
		pollInterval: time.Second,
		runTimeout:   runTimeout,
	}
}

// HandleCommand executes one orchestrator command against OpenAI.
func (s *OpenAIService) HandleCommand(ctx context.Context, kase *models.Case, command string, payload map[string]interface{}) (string, error) {
	switch command {
	case "user_prompt":
		prompt, _ := payload["prompt"].(string)
		if prompt == "" {
			return "", fmt.Errorf("user_prompt requires a non-empty prompt")
		}
		return s.runTurn(ctx, kase, prompt, nil)

	case "web_search":
		query, _ := payload["query"].(string)
		if query == "" {
			return "", fmt.Errorf("web_search requires a non-empty query")
		}
		s.activities.Processing(kase.ID, openaiAgentName, "Web Search", fmt.Sprintf("Searching the web for: %s", query))
		resultsJSON, err := s.search.SearchJSON(ctx, query)
		if err != nil {
			s.activities.Failed(kase.ID, openaiAgentName, "Web Search", fmt.Sprintf("Web search failed: %v", err))
			return "", err
		}
		s.activities.Completed(kase.ID, openaiAgentName, "Web Search", fmt.Sprintf("Web search completed for: %s", query))
		return s.runTurn(ctx, kase, buildWebSearchPrompt(query, resultsJSON), nil)

	case "process_additional_files":
		fileNames := toStringSlice(payload["newFileNames"])
		if len(fileNames) == 0 {
			return "", fmt.Errorf("process_additional_files requires newFileNames")
		}
		return s.processAdditionalFiles(ctx, kase, fileNames)

	default:
		return "", fmt.Errorf("unsupported command %q for openai handler", command)
	}
}

// ensureSession creates the assistant and thread on first use and persists
// their ids on the case row.
func (s *OpenAIService) ensureSession(ctx context.Context, kase *models.Case) error {
	if kase.OpenAIAssistantID == nil || *kase.OpenAIAssistantID == "" {
		name := fmt.Sprintf("CaseFlow Analyst: %s", kase.Name)
		instructions := buildSystemInstruction(kase)
		assistant, err := s.client.CreateAssistant(ctx, openai.AssistantRequest{
			Model:        s.chatModel,
			Name:         &name,
			Instructions: &instructions,
			Tools: []openai.AssistantTool{
				{
					Type: openai.AssistantToolTypeFunction,
					Function: &openai.FunctionDefinition{
						Name:        "web_search",
						Description: "Search the web for information relevant to the case",
						Parameters: json.RawMessage(`{
							"type": "object",
							"properties": {
								"query": {"type": "string", "description": "The search query"}
							},
							"required": ["query"]
						}`),
					},
				},
				{Type: openai.AssistantToolTypeFileSearch},
			},
		})
		if err != nil {
			return fmt.Errorf("failed to create assistant: %w", err)
		}
		kase.OpenAIAssistantID = &assistant.ID
		if err := s.db.Model(kase).Update("openai_assistant_id", assistant.ID).Error; err != nil {
			return fmt.Errorf("failed to persist assistant id: %w", err)
		}
	}

	if kase.OpenAIThreadID == nil || *kase.OpenAIThreadID == "" {
		thread, err := s.client.CreateThread(ctx, openai.ThreadRequest{})
		if err != nil {
			return fmt.Errorf("failed to create thread: %w", err)
		}
		kase.OpenAIThreadID = &thread.ID
		if err := s.db.Model(kase).Update("openai_thread_id", thread.ID).Error; err != nil {
			return fmt.Errorf("failed to persist thread id: %w", err)
		}
	}

	return nil
}

// runTurn appends one user message (optionally with file attachments),
// drives a run to completion, and persists any structured update from the
// final assistant message.
func (s *OpenAIService) runTurn(ctx context.Context, kase *models.Case, prompt string, attachments []openai.ThreadAttachment) (string, error) {
	if err := s.ensureSession(ctx, kase); err != nil {
		s.activities.Failed(kase.ID, openaiAgentName, "Response", fmt.Sprintf("Failed to set up assistant session: %v", err))
		return "", err
	}
	threadID := *kase.OpenAIThreadID

	if _, err := s.client.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:        string(openai.ThreadMessageRoleUser),
		Content:     prompt,
		Attachments: attachments,
	}); err != nil {
		s.activities.Failed(kase.ID, openaiAgentName, "Response", fmt.Sprintf("Failed to append thread message: %v", err))
		return "", fmt.Errorf("failed to append thread message: %w", err)
	}

	run, err := s.client.CreateRun(ctx, threadID, openai.RunRequest{
		AssistantID: *kase.OpenAIAssistantID,
	})
	if err != nil {
		s.activities.Failed(kase.ID, openaiAgentName, "Response", fmt.Sprintf("Failed to start run: %v", err))
		return "", fmt.Errorf("failed to start run: %w", err)
	}

	text, err := s.waitForRun(ctx, kase, threadID, run.ID)
	if err != nil {
		return "", err
	}

	update, perr := ExtractStructuredUpdate(text)
	if perr != nil {
		s.activities.Failed(kase.ID, openaiAgentName, "Structured Update", perr.Error())
	} else if !update.IsEmpty() {
		inserted := ApplyStructuredUpdate(s.db, kase.ID, update)
		logger.WithAgent(kase.ID, "openai", "user_prompt").WithField("insights_inserted", inserted).Info("Applied structured update")
	}

	s.activities.Completed(kase.ID, openaiAgentName, "Response", text)
	return text, nil
}

// waitForRun polls the run until it reaches a terminal status or the
// wall-clock deadline expires. The deadline and context are checked on
// every iteration, so a run stuck cycling through requires_action is
// bounded the same way a queued one is. requires_action statuses are
// serviced inline by executing the requested tool calls.
func (s *OpenAIService) waitForRun(ctx context.Context, kase *models.Case, threadID, runID string) (string, error) {
	deadline := time.Now().Add(s.runTimeout)

	for {
		if time.Now().After(deadline) {
			msg := fmt.Sprintf("Run %s did not finish within %s", runID, s.runTimeout)
			s.activities.Failed(kase.ID, openaiAgentName, "Run", msg)
			return "", fmt.Errorf("%s", msg)
		}
		select {
		case <-ctx.Done():
			s.activities.Failed(kase.ID, openaiAgentName, "Run", "Run cancelled by caller")
			return "", ctx.Err()
		default:
		}

		run, err := s.client.RetrieveRun(ctx, threadID, runID)
		if err != nil {
			s.activities.Failed(kase.ID, openaiAgentName, "Run", fmt.Sprintf("Failed to poll run status: %v", err))
			return "", fmt.Errorf("failed to retrieve run: %w", err)
		}

		switch run.Status {
		case openai.RunStatusQueued, openai.RunStatusInProgress:
			select {
			case <-ctx.Done():
				s.activities.Failed(kase.ID, openaiAgentName, "Run", "Run cancelled by caller")
				return "", ctx.Err()
			case <-time.After(s.pollInterval):
			}

		case openai.RunStatusRequiresAction:
			if err := s.submitToolOutputs(ctx, kase, threadID, runID, run); err != nil {
				return "", err
			}

		case openai.RunStatusCompleted:
			return s.latestAssistantText(ctx, threadID)

		default:
			// failed, cancelled, expired, incomplete
			msg := fmt.Sprintf("Run ended with status %q", run.Status)
			if run.LastError != nil {
				msg = fmt.Sprintf("%s: %s", msg, run.LastError.Message)
			}
			s.activities.Failed(kase.ID, openaiAgentName, "Run", msg)
			return "", fmt.Errorf("%s", msg)
		}
	}
}

// submitToolOutputs executes every tool call the run is blocked on.
// web_search is executed for real; file_search is acknowledged with an
// empty output since retrieval happens vendor-side.
func (s *OpenAIService) submitToolOutputs(ctx context.Context, kase *models.Case, threadID, runID string, run openai.Run) error {
	if run.RequiredAction == nil || run.RequiredAction.SubmitToolOutputs == nil {
		return fmt.Errorf("run %s requires action but listed no tool calls", runID)
	}

	outputs := make([]openai.ToolOutput, 0, len(run.RequiredAction.SubmitToolOutputs.ToolCalls))
	for _, call := range run.RequiredAction.SubmitToolOutputs.ToolCalls {
		outputs = append(outputs, openai.ToolOutput{
			ToolCallID: call.ID,
			Output:     s.executeToolCall(ctx, kase, call),
		})
	}

	if _, err := s.client.SubmitToolOutputs(ctx, threadID, runID, openai.SubmitToolOutputsRequest{
		ToolOutputs: outputs,
	}); err != nil {
		s.activities.Failed(kase.ID, openaiAgentName, "Tool Call", fmt.Sprintf("Failed to submit tool outputs: %v", err))
		return fmt.Errorf("failed to submit tool outputs: %w", err)
	}
	return nil
}

func (s *OpenAIService) executeToolCall(ctx context.Context, kase *models.Case, call openai.ToolCall) string {
	switch call.Function.Name {
	case "web_search":
		var args struct {
			Query string `json:"query"`
		}
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil || args.Query == "" {
			s.activities.Failed(kase.ID, openaiAgentName, "Tool Call", fmt.Sprintf("web_search called with bad arguments: %s", call.Function.Arguments))
			return `{"error": "invalid web_search arguments"}`
		}

		s.activities.Processing(kase.ID, openaiAgentName, "Tool Call", fmt.Sprintf("Assistant requested web search: %s", args.Query))
		resultsJSON, err := s.search.SearchJSON(ctx, args.Query)
		if err != nil {
			s.activities.Failed(kase.ID, openaiAgentName, "Tool Call", fmt.Sprintf("Web search failed: %v", err))
			return fmt.Sprintf(`{"error": %q}`, err.Error())
		}
		s.activities.Completed(kase.ID, openaiAgentName, "Tool Call", fmt.Sprintf("Web search completed: %s", args.Query))
		return resultsJSON

	case "file_search":
		// Retrieval is the vendor's built-in; acknowledge and move on.
		s.activities.Completed(kase.ID, openaiAgentName, "Tool Call", "file_search delegated to built-in retrieval")
		return ""

	default:
		s.activities.Failed(kase.ID, openaiAgentName, "Tool Call", fmt.Sprintf("Unknown tool %q requested", call.Function.Name))
		return ""
	}
}

// latestAssistantText reads the single most recent assistant message.
func (s *OpenAIService) latestAssistantText(ctx context.Context, threadID string) (string, error) {
	limit := 1
	order := "desc"
	msgs, err := s.client.ListMessage(ctx, threadID, &limit, &order, nil, nil, nil)
	if err != nil {
		return "", fmt.Errorf("failed to list thread messages: %w", err)
	}
	if len(msgs.Messages) == 0 {
		return "", fmt.Errorf("run completed but the thread has no messages")
	}

	var text string
	for _, content := range msgs.Messages[0].Content {
		if content.Text != nil {
			text += content.Text.Value
		}
	}
	if text == "" {
		return "", fmt.Errorf("run completed but the latest message has no text content")
	}
	return text, nil
}

// processAdditionalFiles mirrors newly uploaded evidence into the vendor's
// file store and attaches it to a new thread message before running.
func (s *OpenAIService) processAdditionalFiles(ctx context.Context, kase *models.Case, fileNames []string) (string, error) {
	var files []models.CaseFileMetadata
	if err := s.db.Where("case_id = ? AND file_name IN ?", kase.ID, fileNames).Find(&files).Error; err != nil {
		return "", fmt.Errorf("failed to load file metadata: %w", err)
	}
	if len(files) == 0 {
		return "", fmt.Errorf("no metadata rows found for the requested files")
	}

	attachments := make([]openai.ThreadAttachment, 0, len(files))
	for i := range files {
		file := &files[i]
		if file.OpenAIFileID != nil && *file.OpenAIFileID != "" {
			attachments = append(attachments, assistantAttachment(*file.OpenAIFileID))
			continue
		}

		s.activities.Processing(kase.ID, openaiAgentName, "File Upload", fmt.Sprintf("Uploading %s to the assistant's file store", file.FileName))

		body, err := s.store.Download(ctx, file.FilePath)
		if err != nil {
			s.activities.Failed(kase.ID, openaiAgentName, "File Upload", fmt.Sprintf("Failed to download %s from storage: %v", file.FileName, err))
			continue
		}
		data, err := io.ReadAll(body)
		body.Close()
		if err != nil {
			s.activities.Failed(kase.ID, openaiAgentName, "File Upload", fmt.Sprintf("Failed to read %s: %v", file.FileName, err))
			continue
		}

		uploaded, err := s.client.CreateFileBytes(ctx, openai.FileBytesRequest{
			Name:    file.FileName,
			Bytes:   data,
			Purpose: openai.PurposeAssistants,
		})
		if err != nil {
			s.activities.Failed(kase.ID, openaiAgentName, "File Upload", fmt.Sprintf("Failed to upload %s: %v", file.FileName, err))
			continue
		}

		file.OpenAIFileID = &uploaded.ID
		if err := s.db.Model(file).Update("openai_file_id", uploaded.ID).Error; err != nil {
			logger.Error("Failed to persist openai file id", map[string]interface{}{"file": file.FileName, "error": err.Error()})
		}
		s.activities.Completed(kase.ID, openaiAgentName, "File Upload", fmt.Sprintf("Uploaded %s", file.FileName))
		attachments = append(attachments, assistantAttachment(uploaded.ID))
	}

	if len(attachments) == 0 {
		return "", fmt.Errorf("none of the requested files could be uploaded")
	}

	prompt := fmt.Sprintf("New evidence files have been uploaded to this case: %s. Review them against the case goals and report anything notable.", joinFileNames(files))
	return s.runTurn(ctx, kase, prompt, attachments)
}

func assistantAttachment(fileID string) openai.ThreadAttachment {
	return openai.ThreadAttachment{
		FileID: fileID,
		Tools:  []openai.ThreadAttachmentTool{{Type: string(openai.AssistantToolTypeFileSearch)}},
	}
}

func joinFileNames(files []models.CaseFileMetadata) string {
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.FileName
	}
	b, _ := json.Marshal(names)
	return string(b)
}

// Complete performs a one-shot chat completion with no thread state, used
// by the analysis and timeline pipelines.
func (s *OpenAIService) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func toStringSlice(v interface{}) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []interface{}:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
