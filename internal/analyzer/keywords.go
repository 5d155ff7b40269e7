package analyzer

import (
	"strings"

	"github.com/Danservfinn/kurultai-sub008/pkg/models"
)

// KindKeywords is the single source of truth for deliverable kind
// classification. Matching is first-hit in declaration order; anything
// unmatched falls back to operations.
type KindKeywords struct {
	Kind     models.DeliverableKind
	Keywords []string
}

// DefaultKindKeywords returns the authoritative keyword mappings.
var DefaultKindKeywords = []KindKeywords{
	{models.KindResearch, []string{
		"research", "find", "search", "investigate", "look into",
		"compare", "survey", "explore", "gather",
	}},
	{models.KindTesting, []string{
		"test", "qa", "verify", "validate", "regression",
	}},
	{models.KindCode, []string{
		"code", "build", "implement", "develop", "fix", "deploy",
		"integrate", "script", "api", "refactor",
	}},
	{models.KindAnalysis, []string{
		"analyze", "analysis", "review", "evaluate", "assess",
		"metrics", "report on", "audit",
	}},
	{models.KindContent, []string{
		"write", "draft", "content", "blog", "copy", "post",
		"article", "newsletter", "landing page",
	}},
	{models.KindStrategy, []string{
		"strategy", "plan", "roadmap", "prioritize", "decide",
		"positioning", "pricing",
	}},
	{models.KindOperations, []string{
		"schedule", "set up", "organize", "coordinate", "book",
		"invoice", "onboard",
	}},
}

// ClassifyKind infers the deliverable kind of a request from keyword
// matching. The tables are ordered so more specific kinds win over
// generic ones.
func ClassifyKind(text string) models.DeliverableKind {
	lower := strings.ToLower(text)
	for _, entry := range DefaultKindKeywords {
		for _, kw := range entry.Keywords {
			if strings.Contains(lower, kw) {
				return entry.Kind
			}
		}
	}
	return models.KindOperations
}
