package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/caseflow/backend/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/utils/tests"
)

// newDryRunDB builds a gorm handle that constructs statements without
// executing them, enough for code paths that write audit rows.
func newDryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(tests.DummyDialector{}, &gorm.Config{DryRun: true})
	if err != nil {
		t.Fatalf("Failed to open dry-run db: %v", err)
	}
	return db
}

func newTestGeminiService(t *testing.T, baseURL string) (*GeminiService, *[]time.Duration) {
	t.Helper()
	db := newDryRunDB(t)

	var sleeps []time.Duration
	gs := &GeminiService{
		db:           db,
		activities:   NewActivityRecorder(db),
		client:       &http.Client{Timeout: 5 * time.Second},
		baseURL:      baseURL,
		model:        "gemini-test",
		apiKey:       "test-key",
		maxRetries:   3,
		initialDelay: 5 * time.Second,
		sleep:        func(d time.Duration) { sleeps = append(sleeps, d) },
	}
	return gs, &sleeps
}

func TestGeminiRetriesQuotaWithBackoff(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "Quota exceeded for requests per minute"}}`))
	}))
	defer server.Close()

	gs, sleeps := newTestGeminiService(t, server.URL)

	_, err := gs.Complete(context.Background(), 1, "summarize the case")
	if err == nil {
		t.Fatal("Expected an error after exhausting retries")
	}
	if !strings.Contains(err.Error(), "after 3 attempts") {
		t.Errorf("Expected final error to mention attempt count, got: %v", err)
	}

	if requests != 3 {
		t.Errorf("Expected exactly 3 requests, got %d", requests)
	}
	if len(*sleeps) != 2 {
		t.Fatalf("Expected 2 sleeps between attempts, got %d", len(*sleeps))
	}
	if (*sleeps)[0] != 5*time.Second {
		t.Errorf("Expected first delay of 5s, got %s", (*sleeps)[0])
	}
	if (*sleeps)[1] != 10*time.Second {
		t.Errorf("Expected second delay of 10s, got %s", (*sleeps)[1])
	}
}

func TestGeminiDoesNotRetryOtherErrors(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("backend unavailable"))
	}))
	defer server.Close()

	gs, sleeps := newTestGeminiService(t, server.URL)

	_, err := gs.Complete(context.Background(), 1, "summarize the case")
	if err == nil {
		t.Fatal("Expected an error for a server failure")
	}
	if requests != 1 {
		t.Errorf("Expected a single request for a non-quota error, got %d", requests)
	}
	if len(*sleeps) != 0 {
		t.Errorf("Expected no sleeps, got %d", len(*sleeps))
	}
}

func TestGeminiGenerateRequestShape(t *testing.T) {
	var got geminiGenerateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("Failed to decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"candidates": [{"content": {"role": "model", "parts": [{"text": "Part one. "}, {"text": "Part two."}]}}]}`)
	}))
	defer server.Close()

	gs, sleeps := newTestGeminiService(t, server.URL)

	history := []models.ChatTurn{
		{Role: "user", Parts: []models.ChatPart{{Text: "What does the visitation log show?"}}},
		{Role: "model", Parts: []models.ChatPart{{Text: "Five missed pickups in March."}}},
		{Role: "user", Parts: []models.ChatPart{{Text: "Summarize the pattern."}}},
	}
	reply, err := gs.callWithRetry(context.Background(), 1, "You are reviewing a custody case.", history)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if reply != "Part one. Part two." {
		t.Errorf("Expected concatenated candidate parts, got '%s'", reply)
	}
	if len(*sleeps) != 0 {
		t.Errorf("Expected no sleeps on success, got %d", len(*sleeps))
	}

	if got.SystemInstruction == nil || len(got.SystemInstruction.Parts) != 1 {
		t.Fatal("Expected the system instruction to be sent")
	}
	if got.SystemInstruction.Parts[0].Text != "You are reviewing a custody case." {
		t.Errorf("Unexpected system instruction: %s", got.SystemInstruction.Parts[0].Text)
	}
	if len(got.Contents) != len(history) {
		t.Errorf("Expected %d turns in the request, got %d", len(history), len(got.Contents))
	}
}

func TestIsQuotaError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		quota bool
	}{
		{"http 429", &geminiAPIError{StatusCode: http.StatusTooManyRequests, Body: "slow down"}, true},
		{"quota in body", &geminiAPIError{StatusCode: http.StatusForbidden, Body: "Quota exceeded"}, true},
		{"plain 500", &geminiAPIError{StatusCode: http.StatusInternalServerError, Body: "oops"}, false},
		{"wrapped quota text", fmt.Errorf("call failed: quota limit reached"), true},
	}

	for _, test := range tests {
		if got := isQuotaError(test.err); got != test.quota {
			t.Errorf("%s: expected %v, got %v", test.name, test.quota, got)
		}
	}
}

// newRecordingDB builds a dry-run gorm handle that captures audit rows as
// they are inserted and stubs the update pipeline to report the given
// number of affected rows, so version-guarded writes can be driven down
// either the accepted or the conflicted path.
func newRecordingDB(t *testing.T, updatedRows int64) (*gorm.DB, *[]models.AgentActivity) {
	t.Helper()
	db := newDryRunDB(t)

	var recorded []models.AgentActivity
	err := db.Callback().Create().After("gorm:create").Register("test:record_activities", func(tx *gorm.DB) {
		if activity, ok := tx.Statement.Dest.(*models.AgentActivity); ok {
			recorded = append(recorded, *activity)
		}
	})
	if err != nil {
		t.Fatalf("Failed to register create callback: %v", err)
	}

	err = db.Callback().Update().Replace("gorm:update", func(tx *gorm.DB) {
		tx.RowsAffected = updatedRows
	})
	if err != nil {
		t.Fatalf("Failed to replace update callback: %v", err)
	}
	return db, &recorded
}

func newGeminiServiceOn(db *gorm.DB, baseURL string) *GeminiService {
	return &GeminiService{
		db:           db,
		activities:   NewActivityRecorder(db),
		client:       &http.Client{Timeout: 5 * time.Second},
		baseURL:      baseURL,
		model:        "gemini-test",
		apiKey:       "test-key",
		maxRetries:   3,
		initialDelay: 5 * time.Second,
		sleep:        func(time.Duration) {},
	}
}

func TestChatTurnGrowsHistoryByTwoAndBumpsVersion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"candidates": [{"content": {"role": "model", "parts": [{"text": "The March entries support the missed-visitation pattern."}]}}]}`)
	}))
	defer server.Close()

	db, recorded := newRecordingDB(t, 1)
	gs := newGeminiServiceOn(db, server.URL)

	kase := &models.Case{
		ID:          12,
		Name:        "Custody Review",
		ChatVersion: 3,
		GeminiChatHistory: models.ChatHistory{
			{Role: "user", Parts: []models.ChatPart{{Text: "What does the visitation log show?"}}},
			{Role: "model", Parts: []models.ChatPart{{Text: "Five missed pickups in March."}}},
		},
	}

	reply, err := gs.chatTurn(context.Background(), kase, "Does March support the theory?")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if len(kase.GeminiChatHistory) != 4 {
		t.Fatalf("Expected history to grow from 2 to 4 turns, got %d", len(kase.GeminiChatHistory))
	}
	userTurn := kase.GeminiChatHistory[2]
	modelTurn := kase.GeminiChatHistory[3]
	if userTurn.Role != "user" || userTurn.Parts[0].Text != "Does March support the theory?" {
		t.Errorf("Unexpected appended user turn: %+v", userTurn)
	}
	if modelTurn.Role != "model" || modelTurn.Parts[0].Text != reply {
		t.Errorf("Unexpected appended model turn: %+v", modelTurn)
	}
	if kase.ChatVersion != 4 {
		t.Errorf("Expected chat version bumped to 4, got %d", kase.ChatVersion)
	}

	responses := 0
	for _, activity := range *recorded {
		if activity.ActivityType == "Response" {
			responses++
			if activity.Status != models.ActivityStatusCompleted {
				t.Errorf("Expected a completed response activity, got %s", activity.Status)
			}
		}
	}
	if responses != 1 {
		t.Errorf("Expected exactly one response activity for the turn, got %d", responses)
	}
	if len(*recorded) != 1 {
		t.Errorf("Expected no other audit rows on a clean turn, got %d", len(*recorded))
	}
}

func TestChatTurnConflictRecordsFailureActivity(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"candidates": [{"content": {"role": "model", "parts": [{"text": "Noted."}]}}]}`)
	}))
	defer server.Close()

	db, recorded := newRecordingDB(t, 0)
	gs := newGeminiServiceOn(db, server.URL)

	kase := &models.Case{ID: 12, Name: "Custody Review", ChatVersion: 3}

	_, err := gs.chatTurn(context.Background(), kase, "Summarize the pattern.")
	if err == nil {
		t.Fatal("Expected a conflict error when the version check matches no row")
	}
	if !strings.Contains(err.Error(), "modified concurrently") {
		t.Errorf("Expected a conflict error, got: %v", err)
	}

	if kase.ChatVersion != 3 {
		t.Errorf("Expected the in-memory version untouched on conflict, got %d", kase.ChatVersion)
	}
	if len(kase.GeminiChatHistory) != 0 {
		t.Errorf("Expected the in-memory history untouched on conflict, got %d turns", len(kase.GeminiChatHistory))
	}

	failures := 0
	for _, activity := range *recorded {
		if activity.ActivityType == "Response" && activity.Status == models.ActivityStatusError {
			failures++
			if !strings.Contains(activity.Content, "persist") {
				t.Errorf("Expected the audit row to describe the persistence failure, got %q", activity.Content)
			}
		}
	}
	if failures != 1 {
		t.Errorf("Expected exactly one failure audit row for the turn, got %d", failures)
	}
}
