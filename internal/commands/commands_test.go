package commands

import (
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Command
	}{
		{"priority", "Priority: competitor research", PriorityBoost{Fragment: "competitor research"}},
		{"priority lowercase", "priority: the landing page", PriorityBoost{Fragment: "the landing page"}},
		{"order before", "Do the research before the blog post", OrderBefore{First: "the research", Second: "the blog post"}},
		{"order before trailing period", "Do A before B.", OrderBefore{First: "A", Second: "B"}},
		{"independent", "These are independent", MarkIndependent{}},
		{"independent period", "these are independent.", MarkIndependent{}},
		{"focus", "Focus on the launch, pause others", FocusPause{Fragment: "the launch"}},
		{"focus variant", "focus on pricing and pause the others", FocusPause{Fragment: "pricing"}},
		{"plan", "What's the plan?", PlanQuery{}},
		{"plan no apostrophe", "whats the plan", PlanQuery{}},
		{"ordinary message", "please research competitor pricing", Unrecognized{}},
		{"empty", "", Unrecognized{}},
		{"priority mid-sentence is not a command", "the priority: thing we discussed", Unrecognized{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.text)
			if got != tt.want {
				t.Errorf("Parse(%q) = %#v, want %#v", tt.text, got, tt.want)
			}
		})
	}
}
