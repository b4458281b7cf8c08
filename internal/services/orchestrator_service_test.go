package services

import (
	"context"
	"strings"
	"testing"
)

func TestDispatchRequiresCommand(t *testing.T) {
	o := NewOrchestrator(newDryRunDB(t), nil, nil)

	_, err := o.Dispatch(context.Background(), DispatchRequest{CaseID: 1})
	if err == nil {
		t.Fatal("Expected an error for a missing command")
	}
	if !strings.Contains(err.Error(), "command is required") {
		t.Errorf("Unexpected error: %v", err)
	}
}
