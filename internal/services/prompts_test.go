package services

import (
	"strings"
	"testing"

	"github.com/caseflow/backend/internal/models"
)

func TestBuildSystemInstruction(t *testing.T) {
	kase := &models.Case{
		ID:                1,
		Name:              "Smith v Smith",
		SystemInstruction: "You are assisting with a contested custody matter.",
		CaseGoals:         "Establish a pattern of missed visitations.",
	}

	instruction := buildSystemInstruction(kase)
	if !strings.Contains(instruction, "contested custody matter") {
		t.Error("Expected the case's system instruction to lead")
	}
	if !strings.Contains(instruction, "CASE GOALS:") || !strings.Contains(instruction, "missed visitations") {
		t.Error("Expected the case goals section")
	}
	if !strings.Contains(instruction, "theory_update") {
		t.Error("Expected the structured output contract to be appended")
	}
}

func TestBuildSystemInstructionDefault(t *testing.T) {
	instruction := buildSystemInstruction(&models.Case{ID: 2})
	if !strings.Contains(instruction, "family-law evidence analyst") {
		t.Error("Expected the default analyst instruction for cases without one")
	}
}

func TestBuildTimelinePrompt(t *testing.T) {
	prompt := buildTimelinePrompt("Visitation History", "pickup exchanges", []string{
		"texts-march.txt [Communication]: Messages about missed pickups",
	})

	if !strings.Contains(prompt, `"Visitation History"`) {
		t.Error("Expected the timeline name in the prompt")
	}
	if !strings.Contains(prompt, "FOCUS: pickup exchanges") {
		t.Error("Expected the focus line")
	}
	if !strings.Contains(prompt, "texts-march.txt") {
		t.Error("Expected the evidence summary")
	}
	if !strings.Contains(prompt, "event_date") {
		t.Error("Expected the event JSON contract")
	}
}
