package services

import (
	"strings"
	"testing"

	"github.com/caseflow/backend/internal/models"
)

func TestParseFileAnalysis(t *testing.T) {
	reply := "Here is the file summary.\n```json\n" +
		`{"suggested_name": "2024-03-court-order.pdf", "description": "Temporary custody order from March hearing", "tags": ["custody", "court order"], "file_category": "Court Filings"}` +
		"\n```"

	result, err := parseFileAnalysis(reply)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if result.SuggestedName != "2024-03-court-order.pdf" {
		t.Errorf("Unexpected suggested name: %s", result.SuggestedName)
	}
	if result.FileCategory != "Court Filings" {
		t.Errorf("Unexpected category: %s", result.FileCategory)
	}
	if len(result.Tags) != 2 {
		t.Errorf("Expected 2 tags, got %d", len(result.Tags))
	}
}

func TestParseFileAnalysisBareJSON(t *testing.T) {
	result, err := parseFileAnalysis(`{"description": "A photo of the damaged property", "file_category": "Photos"}`)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if result.FileCategory != "Photos" {
		t.Errorf("Unexpected category: %s", result.FileCategory)
	}
}

func TestParseFileAnalysisRejectsProse(t *testing.T) {
	_, err := parseFileAnalysis("I could not determine a category for this file.")
	if err == nil {
		t.Fatal("Expected an error for a prose reply")
	}
	if !strings.Contains(err.Error(), "JSON object") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestJobFileNames(t *testing.T) {
	tests := []struct {
		name     string
		result   models.JSONB
		expected int
	}{
		{"nil result", nil, 0},
		{"missing key", models.JSONB{"other": 1}, 0},
		{"string slice", models.JSONB{"fileNames": []string{"a.txt", "b.txt"}}, 2},
		{"interface slice from jsonb round trip", models.JSONB{"fileNames": []interface{}{"a.txt", "b.txt", "c.txt"}}, 3},
	}

	for _, test := range tests {
		names := jobFileNames(test.result)
		if len(names) != test.expected {
			t.Errorf("%s: expected %d names, got %d", test.name, test.expected, len(names))
		}
	}
}

func TestTruncateForLog(t *testing.T) {
	short := "short reply"
	if got := truncateForLog(short); got != short {
		t.Errorf("Expected short string unchanged, got %q", got)
	}

	long := strings.Repeat("x", 300)
	got := truncateForLog(long)
	if len(got) != 203 {
		t.Errorf("Expected 203 chars (200 plus ellipsis), got %d", len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Error("Expected truncated string to end with ellipsis")
	}
}

func TestJobFinalStatus(t *testing.T) {
	tests := []struct {
		name     string
		failures int
		total    int
		expected models.JobStatus
	}{
		{"all succeeded", 0, 3, models.JobStatusCompleted},
		{"partial failure", 1, 3, models.JobStatusCompleted},
		{"all failed", 3, 3, models.JobStatusFailed},
		{"dispatch failure pushes count past total", 4, 3, models.JobStatusFailed},
		{"no files", 0, 0, models.JobStatusCompleted},
	}

	for _, test := range tests {
		status, errMsg := jobFinalStatus(test.failures, test.total)
		if status != test.expected {
			t.Errorf("%s: expected %s, got %s", test.name, test.expected, status)
		}
		if status == models.JobStatusFailed && errMsg == "" {
			t.Errorf("%s: expected an error message on a failed job", test.name)
		}
		if status == models.JobStatusCompleted && errMsg != "" {
			t.Errorf("%s: expected no error message, got %q", test.name, errMsg)
		}
	}
}
