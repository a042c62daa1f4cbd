// Package planner turns a goal into a TaskGraph, persists it, and answers
// which task is runnable next.
package planner

import "strings"

// TemplateKind names one of the fixed task templates.
type TemplateKind string

const (
	// TemplateBugFix is investigate -> fix -> verify.
	TemplateBugFix TemplateKind = "bug_fix"
	// TemplateImplementation is research -> implement -> test.
	TemplateImplementation TemplateKind = "implementation"
)

// Classifier picks a template for a goal.
type Classifier interface {
	Classify(goal string) TemplateKind
}

// Keywords is the single source of truth for goal classification words.
type Keywords struct {
	// Bug words select the bug-fix template. They win over Build.
	Bug []string
	// Build words select the implementation template. Since implementation
	// is also the fallback they only matter for reporting.
	Build []string
}

// DefaultKeywords are matched case-insensitively as substrings.
var DefaultKeywords = Keywords{
	Bug:   []string{"fix", "bug", "error", "issue"},
	Build: []string{"implement", "add", "create", "build"},
}

// Classification explains why a template was chosen.
type Classification struct {
	Kind           TemplateKind
	MatchedKeyword string
	Reason         string
}

// KeywordClassifier classifies goals by substring matching. The zero value
// uses DefaultKeywords.
type KeywordClassifier struct {
	Keywords *Keywords
}

// Classify implements Classifier.
func (c KeywordClassifier) Classify(goal string) TemplateKind {
	return c.Explain(goal).Kind
}

// Explain returns the template and the keyword that selected it.
func (c KeywordClassifier) Explain(goal string) Classification {
	kw := DefaultKeywords
	if c.Keywords != nil {
		kw = *c.Keywords
	}
	lower := strings.ToLower(goal)

	if strings.TrimSpace(lower) == "" {
		return Classification{Kind: TemplateImplementation, Reason: "empty goal"}
	}
	if k := firstMatch(lower, kw.Bug); k != "" {
		return Classification{Kind: TemplateBugFix, MatchedKeyword: k, Reason: "bug keyword"}
	}
	if k := firstMatch(lower, kw.Build); k != "" {
		return Classification{Kind: TemplateImplementation, MatchedKeyword: k, Reason: "build keyword"}
	}
	return Classification{Kind: TemplateImplementation, Reason: "no keyword matched"}
}

func firstMatch(text string, keywords []string) string {
	for _, k := range keywords {
		if strings.Contains(text, strings.ToLower(k)) {
			return k
		}
	}
	return ""
}

var _ Classifier = KeywordClassifier{}
