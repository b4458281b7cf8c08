package services

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/caseflow/backend/internal/models"
	openai "github.com/sashabaranov/go-openai"
)

func newTestOpenAIService(t *testing.T, baseURL string) *OpenAIService {
	t.Helper()
	db := newDryRunDB(t)

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = baseURL + "/v1"

	return &OpenAIService{
		db:           db,
		client:       openai.NewClientWithConfig(cfg),
		activities:   NewActivityRecorder(db),
		chatModel:    openai.GPT4o,
		pollInterval: time.Millisecond,
		runTimeout:   50 * time.Millisecond,
	}
}

func TestWaitForRunTerminalFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id": "run_1", "status": "failed", "last_error": {"code": "server_error", "message": "model crashed"}}`)
	}))
	defer server.Close()

	svc := newTestOpenAIService(t, server.URL)
	kase := &models.Case{ID: 1}

	_, err := svc.waitForRun(context.Background(), kase, "thread_1", "run_1")
	if err == nil {
		t.Fatal("Expected an error for a failed run")
	}
	if !strings.Contains(err.Error(), `status "failed"`) {
		t.Errorf("Expected the error to report the terminal status, got: %v", err)
	}
	if !strings.Contains(err.Error(), "model crashed") {
		t.Errorf("Expected the error to include the run's last error, got: %v", err)
	}
}

func TestWaitForRunCompletedReadsLatestMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(r.URL.Path, "/messages") {
			fmt.Fprint(w, `{"data": [{"id": "msg_1", "role": "assistant", "content": [{"type": "text", "text": {"value": "The filings are consistent."}}]}]}`)
			return
		}
		fmt.Fprint(w, `{"id": "run_1", "status": "completed"}`)
	}))
	defer server.Close()

	svc := newTestOpenAIService(t, server.URL)
	kase := &models.Case{ID: 1}

	text, err := svc.waitForRun(context.Background(), kase, "thread_1", "run_1")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if text != "The filings are consistent." {
		t.Errorf("Unexpected assistant text: %q", text)
	}
}

func TestWaitForRunDeadline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id": "run_1", "status": "in_progress"}`)
	}))
	defer server.Close()

	svc := newTestOpenAIService(t, server.URL)
	svc.runTimeout = 10 * time.Millisecond
	kase := &models.Case{ID: 1}

	_, err := svc.waitForRun(context.Background(), kase, "thread_1", "run_1")
	if err == nil {
		t.Fatal("Expected an error once the deadline expired")
	}
	if !strings.Contains(err.Error(), "did not finish within") {
		t.Errorf("Expected a deadline error, got: %v", err)
	}
}

func TestToStringSlice(t *testing.T) {
	tests := []struct {
		name     string
		input    interface{}
		expected int
	}{
		{"nil", nil, 0},
		{"string slice", []string{"a", "b"}, 2},
		{"interface slice", []interface{}{"a", "b", "c"}, 3},
		{"interface slice with junk", []interface{}{"a", 42, ""}, 1},
		{"wrong type", "not a slice", 0},
	}

	for _, test := range tests {
		got := toStringSlice(test.input)
		if len(got) != test.expected {
			t.Errorf("%s: expected %d items, got %d", test.name, test.expected, len(got))
		}
	}
}

func TestJoinFileNames(t *testing.T) {
	files := []models.CaseFileMetadata{
		{FileName: "order.pdf"},
		{FileName: "texts.txt"},
	}
	got := joinFileNames(files)
	if got != `["order.pdf","texts.txt"]` {
		t.Errorf("Unexpected joined names: %s", got)
	}
}

func TestAssistantAttachment(t *testing.T) {
	att := assistantAttachment("file_123")
	if att.FileID != "file_123" {
		t.Errorf("Expected file id preserved, got %s", att.FileID)
	}
	if len(att.Tools) != 1 || att.Tools[0].Type != string(openai.AssistantToolTypeFileSearch) {
		t.Errorf("Expected a file_search tool on the attachment, got %+v", att.Tools)
	}
}

func TestWaitForRunRequiresActionRespectsDeadline(t *testing.T) {
	retrieves := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(r.URL.Path, "submit_tool_outputs") {
			fmt.Fprint(w, `{"id": "run_1", "status": "requires_action"}`)
			return
		}
		retrieves++
		fmt.Fprint(w, `{"id": "run_1", "status": "requires_action", "required_action": {"type": "submit_tool_outputs", "submit_tool_outputs": {"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "lookup_docket", "arguments": "{}"}}]}}}`)
	}))
	defer server.Close()

	svc := newTestOpenAIService(t, server.URL)
	svc.runTimeout = 15 * time.Millisecond
	kase := &models.Case{ID: 1}

	start := time.Now()
	_, err := svc.waitForRun(context.Background(), kase, "thread_1", "run_1")
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("Expected an error for a run stuck cycling through tool calls")
	}
	if !strings.Contains(err.Error(), "did not finish within") {
		t.Errorf("Expected a deadline error, got: %v", err)
	}
	if elapsed > time.Second {
		t.Errorf("Expected the poll loop to stop near the 15ms deadline, took %s", elapsed)
	}
	if retrieves == 0 {
		t.Error("Expected the run to be polled at least once")
	}
}

func TestWaitForRunCancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id": "run_1", "status": "in_progress"}`)
	}))
	defer server.Close()

	svc := newTestOpenAIService(t, server.URL)
	svc.runTimeout = time.Minute
	kase := &models.Case{ID: 1}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.waitForRun(ctx, kase, "thread_1", "run_1")
	if err == nil {
		t.Fatal("Expected an error for a cancelled context")
	}
}

func TestRunTurnMessageFailureRecordsActivity(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error": {"message": "thread is locked"}}`)
	}))
	defer server.Close()

	db, recorded := newRecordingDB(t, 1)
	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = server.URL + "/v1"

	svc := &OpenAIService{
		db:           db,
		client:       openai.NewClientWithConfig(cfg),
		activities:   NewActivityRecorder(db),
		chatModel:    openai.GPT4o,
		pollInterval: time.Millisecond,
		runTimeout:   50 * time.Millisecond,
	}

	assistantID, threadID := "asst_1", "thread_1"
	kase := &models.Case{ID: 3, OpenAIAssistantID: &assistantID, OpenAIThreadID: &threadID}

	_, err := svc.runTurn(context.Background(), kase, "Review the new filings", nil)
	if err == nil {
		t.Fatal("Expected an error when the message append fails")
	}
	if !strings.Contains(err.Error(), "failed to append thread message") {
		t.Errorf("Expected a message append error, got: %v", err)
	}

	failures := 0
	for _, activity := range *recorded {
		if activity.ActivityType == "Response" && activity.Status == models.ActivityStatusError {
			failures++
		}
	}
	if failures != 1 {
		t.Errorf("Expected exactly one failure audit row for the aborted turn, got %d", failures)
	}
}
