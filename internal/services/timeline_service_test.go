package services

import (
	"encoding/json"
	"testing"
)

func TestParseTimelineEvents(t *testing.T) {
	reply := "```json\n" +
		`[
  {"event_date": "2024-01-15", "title": "First missed pickup", "description": "Father did not appear at exchange", "source_files": ["texts-jan.txt"]},
  {"event_date": "2024-02-03", "title": "School conference", "description": "Teacher reported attendance gaps", "source_files": ["school-records.pdf", "emails.txt"]}
]` + "\n```"

	drafts, err := parseTimelineEvents(reply)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(drafts) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(drafts))
	}
	if drafts[0].EventDate != "2024-01-15" {
		t.Errorf("Unexpected first event date: %s", drafts[0].EventDate)
	}
	if len(drafts[1].SourceFiles) != 2 {
		t.Errorf("Expected 2 source files on second event, got %d", len(drafts[1].SourceFiles))
	}
}

func TestParseTimelineEventsBareArray(t *testing.T) {
	drafts, err := parseTimelineEvents(`[{"event_date": "2024-05-01", "title": "Filing submitted"}]`)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(drafts) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(drafts))
	}
}

func TestParseTimelineEventsRejectsNonArray(t *testing.T) {
	if _, err := parseTimelineEvents(`{"event_date": "2024-05-01"}`); err == nil {
		t.Error("Expected an error for a JSON object instead of an array")
	}
	if _, err := parseTimelineEvents("No events could be extracted."); err == nil {
		t.Error("Expected an error for prose")
	}
}

func TestTimelineEventCap(t *testing.T) {
	events := make([]map[string]string, 150)
	for i := range events {
		events[i] = map[string]string{"event_date": "2024-01-01", "title": "event"}
	}
	payload, err := json.Marshal(events)
	if err != nil {
		t.Fatal(err)
	}

	// The parser keeps everything; Generate trims to maxTimelineEvents.
	drafts, err := parseTimelineEvents(string(payload))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(drafts) != 150 {
		t.Fatalf("Expected parser to keep all 150 events, got %d", len(drafts))
	}
	if maxTimelineEvents != 100 {
		t.Errorf("Expected a 100-event batch cap, got %d", maxTimelineEvents)
	}
}
