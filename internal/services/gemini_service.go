package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caseflow/backend/internal/logger"
	"github.com/caseflow/backend/internal/models"
	"gorm.io/gorm"
)

const geminiAgentName = "Gemini Case Analyst"

// GeminiService handles AI commands for cases configured with ai_model
// "gemini". There is no vendor-side session: the whole conversation lives
// in the case row's gemini_chat_history column and is re-sent on every
// turn. Writes are guarded by the case's chat_version so concurrent turns
// fail loudly instead of silently losing one.
type GeminiService struct {
	db         *gorm.DB
	activities *ActivityRecorder
	search     *SearchService
	client     *http.Client
	baseURL    string
	model      string
	apiKey     string

	maxRetries   int
	initialDelay time.Duration
	sleep        func(time.Duration)
}

type geminiContent struct {
	Parts []models.ChatPart `json:"parts"`
}

type geminiGenerateRequest struct {
	SystemInstruction *geminiContent    `json:"system_instruction,omitempty"`
	Contents          []models.ChatTurn `json:"contents"`
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content models.ChatTurn `json:"content"`
	} `json:"candidates"`
}

// geminiAPIError preserves the HTTP status so the retry wrapper can
// recognize rate limiting.
type geminiAPIError struct {
	StatusCode int
	Body       string
}

func (e *geminiAPIError) Error() string {
	return fmt.Sprintf("gemini API returned status %d, body: %s", e.StatusCode, e.Body)
}

func NewGeminiService(db *gorm.DB, activities *ActivityRecorder, search *SearchService) *GeminiService {
	baseURL := os.Getenv("GEMINI_BASE_URL")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}
	model := os.Getenv("GEMINI_MODEL")
	if model == "" {
		model = "gemini-1.5-pro"
	}

	timeout := 300 * time.Second
	if timeoutStr := os.Getenv("GEMINI_TIMEOUT_SECONDS"); timeoutStr != "" {
		if t, err := time.ParseDuration(timeoutStr + "s"); err == nil {
			timeout = t
		}
	}

	maxRetries := 3
	if v := os.Getenv("GEMINI_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxRetries = n
		}
	}

	initialDelay := 5 * time.Second
	if v := os.Getenv("GEMINI_RETRY_DELAY_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			initialDelay = time.Duration(n) * time.Second
		}
	}

	return &GeminiService{
		db:           db,
		activities:   activities,
		search:       search,
		client:       &http.Client{Timeout: timeout},
		baseURL:      baseURL,
		model:        model,
		apiKey:       os.Getenv("GOOGLE_GEMINI_API_KEY"),
		maxRetries:   maxRetries,
		initialDelay: initialDelay,
		sleep:        time.Sleep,
	}
}

// HandleCommand executes one orchestrator command against Gemini.
func (gs *GeminiService) HandleCommand(ctx context.Context, kase *models.Case, command string, payload map[string]interface{}) (string, error) {
	switch command {
	case "user_prompt":
		prompt, _ := payload["prompt"].(string)
		if prompt == "" {
			return "", fmt.Errorf("user_prompt requires a non-empty prompt")
		}
		return gs.chatTurn(ctx, kase, prompt)

	case "web_search":
		query, _ := payload["query"].(string)
		if query == "" {
			return "", fmt.Errorf("web_search requires a non-empty query")
		}
		gs.activities.Processing(kase.ID, geminiAgentName, "Web Search", fmt.Sprintf("Searching the web for: %s", query))
		resultsJSON, err := gs.search.SearchJSON(ctx, query)
		if err != nil {
			gs.activities.Failed(kase.ID, geminiAgentName, "Web Search", fmt.Sprintf("Web search failed: %v", err))
			return "", err
		}
		gs.activities.Completed(kase.ID, geminiAgentName, "Web Search", fmt.Sprintf("Web search completed for: %s", query))
		return gs.chatTurn(ctx, kase, buildWebSearchPrompt(query, resultsJSON))

	case "process_additional_files":
		// Gemini has no per-case file store wired up; the files are
		// summarized by the analysis pipeline instead.
		note := "Additional files were uploaded. Gemini requires a separate retrieval setup for direct file analysis; file summaries will be added to the case record by the analysis pipeline."
		gs.activities.Completed(kase.ID, geminiAgentName, "File Processing", note)
		return note, nil

	default:
		return "", fmt.Errorf("unsupported command %q for gemini handler", command)
	}
}

// chatTurn appends the user turn, calls the model, and persists both new
// turns. A successful call grows the stored history by exactly two turns.
func (gs *GeminiService) chatTurn(ctx context.Context, kase *models.Case, prompt string) (string, error) {
	contents := make([]models.ChatTurn, 0, len(kase.GeminiChatHistory)+2)
	contents = append(contents, kase.GeminiChatHistory...)
	contents = append(contents, models.ChatTurn{
		Role:  "user",
		Parts: []models.ChatPart{{Text: prompt}},
	})

	reply, err := gs.callWithRetry(ctx, kase.ID, buildSystemInstruction(kase), contents)
	if err != nil {
		gs.activities.Failed(kase.ID, geminiAgentName, "Response", fmt.Sprintf("Gemini call failed: %v", err))
		return "", err
	}

	contents = append(contents, models.ChatTurn{
		Role:  "model",
		Parts: []models.ChatPart{{Text: reply}},
	})
	if err := gs.saveHistory(kase, contents); err != nil {
		gs.activities.Failed(kase.ID, geminiAgentName, "Response", fmt.Sprintf("Failed to persist chat history: %v", err))
		return "", err
	}

	update, perr := ExtractStructuredUpdate(reply)
	if perr != nil {
		gs.activities.Failed(kase.ID, geminiAgentName, "Structured Update", perr.Error())
	} else if !update.IsEmpty() {
		inserted := ApplyStructuredUpdate(gs.db, kase.ID, update)
		logger.WithAgent(kase.ID, "gemini", "user_prompt").WithField("insights_inserted", inserted).Info("Applied structured update")
	}

	gs.activities.Completed(kase.ID, geminiAgentName, "Response", reply)
	return reply, nil
}

// Complete performs a one-shot generation with no case history, used by the
// analysis and timeline pipelines.
func (gs *GeminiService) Complete(ctx context.Context, caseID uint, prompt string) (string, error) {
	contents := []models.ChatTurn{{
		Role:  "user",
		Parts: []models.ChatPart{{Text: prompt}},
	}}
	return gs.callWithRetry(ctx, caseID, "", contents)
}

// callWithRetry wraps every model call. Rate limiting (HTTP 429 or a
// "quota" message) is retried with delays of initialDelay x 2^attempt;
// after maxRetries attempts the last error is surfaced with context. Any
// other error is returned immediately.
func (gs *GeminiService) callWithRetry(ctx context.Context, caseID uint, systemInstruction string, contents []models.ChatTurn) (string, error) {
	var lastErr error
	for attempt := 0; attempt < gs.maxRetries; attempt++ {
		reply, err := gs.generate(ctx, systemInstruction, contents)
		if err == nil {
			return reply, nil
		}
		if !isQuotaError(err) {
			return "", err
		}
		lastErr = err
		if attempt == gs.maxRetries-1 {
			break
		}

		delay := gs.initialDelay << attempt
		gs.activities.Processing(caseID, geminiAgentName, "Rate Limit",
			fmt.Sprintf("Gemini is rate limited, waiting %s before attempt %d of %d", delay, attempt+2, gs.maxRetries))
		gs.sleep(delay)
	}
	return "", fmt.Errorf("gemini request failed after %d attempts due to rate limiting: %w", gs.maxRetries, lastErr)
}

func (gs *GeminiService) generate(ctx context.Context, systemInstruction string, contents []models.ChatTurn) (string, error) {
	request := geminiGenerateRequest{Contents: contents}
	if systemInstruction != "" {
		request.SystemInstruction = &geminiContent{Parts: []models.ChatPart{{Text: systemInstruction}}}
	}

	jsonData, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", gs.baseURL, gs.model, gs.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := gs.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	logger.Debug("Gemini request completed", map[string]interface{}{
		"status":   resp.StatusCode,
		"duration": time.Since(start).String(),
		"turns":    len(contents),
	})

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", &geminiAPIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var genResp geminiGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", fmt.Errorf("failed to decode gemini response: %w", err)
	}
	if len(genResp.Candidates) == 0 || len(genResp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini returned no candidates")
	}

	var b strings.Builder
	for _, part := range genResp.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	return b.String(), nil
}

// saveHistory writes the new history back with an optimistic version
// check. A concurrent turn that bumped chat_version first makes this turn
// fail with a conflict instead of silently dropping it.
func (gs *GeminiService) saveHistory(kase *models.Case, history models.ChatHistory) error {
	res := gs.db.Model(&models.Case{}).
		Where("id = ? AND chat_version = ?", kase.ID, kase.ChatVersion).
		Updates(map[string]interface{}{
			"gemini_chat_history": history,
			"chat_version":        kase.ChatVersion + 1,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to persist chat history: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("chat history for case %d was modified concurrently, retry the command", kase.ID)
	}

	kase.GeminiChatHistory = history
	kase.ChatVersion++
	return nil
}

func isQuotaError(err error) bool {
	var apiErr *geminiAPIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests {
			return true
		}
		return strings.Contains(strings.ToLower(apiErr.Body), "quota")
	}
	return strings.Contains(strings.ToLower(err.Error()), "quota")
}
