package models

import (
	"errors"
	"testing"
)

func TestTaskStatusValid(t *testing.T) {
	valid := []TaskStatus{
		TaskStatusPending, TaskStatusReady, TaskStatusInProgress,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusEscalated,
		TaskStatusPaused, TaskStatusAborted,
	}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("expected %q to be valid", s)
		}
	}

	invalid := []TaskStatus{"", "done", "running", "PENDING"}
	for _, s := range invalid {
		if s.Valid() {
			t.Errorf("expected %q to be invalid", s)
		}
	}
}

func TestTaskStatusTerminal(t *testing.T) {
	tests := []struct {
		status   TaskStatus
		terminal bool
	}{
		{TaskStatusCompleted, true},
		{TaskStatusEscalated, true},
		{TaskStatusAborted, true},
		{TaskStatusPending, false},
		{TaskStatusInProgress, false},
		{TaskStatusFailed, false},
		{TaskStatusPaused, false},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from TaskStatus
		to   TaskStatus
		ok   bool
	}{
		{"pending to ready", TaskStatusPending, TaskStatusReady, true},
		{"pending to paused", TaskStatusPending, TaskStatusPaused, true},
		{"ready to in_progress", TaskStatusReady, TaskStatusInProgress, true},
		{"in_progress to completed", TaskStatusInProgress, TaskStatusCompleted, true},
		{"in_progress to failed", TaskStatusInProgress, TaskStatusFailed, true},
		{"dispatch error reopen", TaskStatusInProgress, TaskStatusPending, true},
		{"failed to escalated", TaskStatusFailed, TaskStatusEscalated, true},
		{"paused resumes to pending", TaskStatusPaused, TaskStatusPending, true},
		{"completed is terminal", TaskStatusCompleted, TaskStatusPending, false},
		{"no pending to completed shortcut", TaskStatusPending, TaskStatusCompleted, false},
		{"no failed to completed", TaskStatusFailed, TaskStatusCompleted, false},
		{"no completed to failed", TaskStatusCompleted, TaskStatusFailed, false},
		{"no in_progress to paused", TaskStatusInProgress, TaskStatusPaused, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.ok {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.ok)
			}
		})
	}
}

func TestDeliverableKindValid(t *testing.T) {
	for _, k := range []DeliverableKind{
		KindResearch, KindAnalysis, KindCode, KindContent,
		KindStrategy, KindOperations, KindTesting,
	} {
		if !k.Valid() {
			t.Errorf("expected kind %q to be valid", k)
		}
	}
	if DeliverableKind("design").Valid() {
		t.Error("expected unknown kind to be invalid")
	}
}

func TestTaskValidate(t *testing.T) {
	tests := []struct {
		name    string
		task    Task
		wantErr bool
	}{
		{"valid defaults", Task{Kind: KindCode, Priority: DefaultPriority}, false},
		{"priority at lower bound", Task{Kind: KindResearch, Priority: 0.0}, false},
		{"priority at upper bound", Task{Kind: KindResearch, Priority: 1.0}, false},
		{"priority below range", Task{Kind: KindCode, Priority: -0.1}, true},
		{"priority above range", Task{Kind: KindCode, Priority: 1.5}, true},
		{"unknown kind", Task{Kind: "design", Priority: 0.5}, true},
		{"unknown status", Task{Kind: KindCode, Priority: 0.5, Status: "done"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.task.Validate()
			if tt.wantErr && !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestEdgeKindValid(t *testing.T) {
	for _, k := range []EdgeKind{EdgeBlocks, EdgeFeedsInto, EdgeParallelOK} {
		if !k.Valid() {
			t.Errorf("expected edge kind %q to be valid", k)
		}
	}
	if EdgeKind("requires").Valid() {
		t.Error("expected unknown edge kind to be invalid")
	}
}
