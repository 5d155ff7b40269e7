// Package commands interprets short natural-language override commands and
// translates them into graph store mutations. Parsing is an ordered table
// of pattern matchers producing tagged command variants; anything
// unmatched falls through so the message proceeds to normal buffering.
package commands

import (
	"regexp"
	"strings"
)

// Command is a tagged union of recognized override commands.
type Command interface {
	isCommand()
}

// PriorityBoost raises the matched task's priority weight to 1.0.
type PriorityBoost struct {
	// Fragment is the description fragment to resolve.
	Fragment string
}

// OrderBefore makes the second task depend on the first.
type OrderBefore struct {
	First  string
	Second string
}

// MarkIndependent declares the most recent batch's tasks order-free.
type MarkIndependent struct{}

// FocusPause boosts one task and pauses the sender's other pending work.
type FocusPause struct {
	Fragment string
}

// PlanQuery asks for the current execution plan. Read-only.
type PlanQuery struct{}

// Unrecognized marks text that matched no command pattern.
type Unrecognized struct{}

func (PriorityBoost) isCommand()   {}
func (OrderBefore) isCommand()     {}
func (MarkIndependent) isCommand() {}
func (FocusPause) isCommand()      {}
func (PlanQuery) isCommand()       {}
func (Unrecognized) isCommand()    {}

// matcher pairs a pattern with its command constructor. The table is
// ordered; the first match wins.
type matcher struct {
	re    *regexp.Regexp
	build func(groups []string) Command
}

var matchers = []matcher{
	{
		re: regexp.MustCompile(`(?i)^priority:\s*(.+?)\s*$`),
		build: func(g []string) Command {
			return PriorityBoost{Fragment: g[1]}
		},
	},
	{
		re: regexp.MustCompile(`(?i)^do\s+(.+?)\s+before\s+(.+?)\s*\.?\s*$`),
		build: func(g []string) Command {
			return OrderBefore{First: g[1], Second: g[2]}
		},
	},
	{
		re: regexp.MustCompile(`(?i)^these\s+are\s+independent\s*\.?\s*$`),
		build: func(g []string) Command {
			return MarkIndependent{}
		},
	},
	{
		re: regexp.MustCompile(`(?i)^focus\s+on\s+(.+?)\s*[,;]?\s+(?:and\s+)?pause\s+(?:the\s+)?others\s*\.?\s*$`),
		build: func(g []string) Command {
			return FocusPause{Fragment: g[1]}
		},
	},
	{
		re: regexp.MustCompile(`(?i)^what'?s\s+the\s+plan\s*\??\s*$`),
		build: func(g []string) Command {
			return PlanQuery{}
		},
	},
}

// Parse maps message text to a command variant. Unmatched text yields
// Unrecognized so callers can route it to normal buffering.
func Parse(text string) Command {
	trimmed := strings.TrimSpace(text)
	for _, m := range matchers {
		if groups := m.re.FindStringSubmatch(trimmed); groups != nil {
			return m.build(groups)
		}
	}
	return Unrecognized{}
}
