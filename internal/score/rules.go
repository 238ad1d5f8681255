package score

import (
	"regexp"

	"github.com/modelcascade/cascade/internal/domain"
)

// Rule is one entry in a declarative pattern table. Rules are data, not
// control flow, so each can be unit-tested in isolation.
type Rule struct {
	Name     string
	Pattern  *regexp.Regexp
	Category domain.IssueCategory
}

// injectionRules match text that signals role override or leaked control
// tokens. Evaluation stops at the first match so a payload tripping several
// patterns is penalized once.
var injectionRules = []Rule{
	{
		Name:     "ignore_instructions",
		Pattern:  regexp.MustCompile(`(?i)(ignore|disregard|forget)\s+(all\s+|any\s+)?(previous|prior|above|earlier)\s+(instructions|prompts|rules|context)`),
		Category: domain.CategoryInjection,
	},
	{
		Name:     "role_marker",
		Pattern:  regexp.MustCompile(`(?im)^\s*(system|assistant|user|human)\s*:`),
		Category: domain.CategoryInjection,
	},
	{
		Name:     "chatml_token",
		Pattern:  regexp.MustCompile(`<\|(im_start|im_end|endoftext|system)\|>`),
		Category: domain.CategoryInjection,
	},
	{
		Name:     "bracket_role_tag",
		Pattern:  regexp.MustCompile(`(?i)\[\s*/?\s*(system|inst|assistant)\s*\]`),
		Category: domain.CategoryInjection,
	},
	{
		Name:     "role_override",
		Pattern:  regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|in)\b`),
		Category: domain.CategoryInjection,
	},
	{
		Name:     "new_instructions",
		Pattern:  regexp.MustCompile(`(?i)new\s+instructions?\s*:`),
		Category: domain.CategoryInjection,
	},
}

// Rubric surface formats. A scoring-like line is recognized under any of
// these; the best-matching format determines the rubric line count.
var (
	// "3) Accuracy: 8/10" or "3. Accuracy: 8"
	numberedRubricPattern = regexp.MustCompile(`(?m)^\s*(\d{1,2})[).]\s*[A-Za-z][^:\n]{0,60}:\s*\S`)

	// "Accuracy: 8/10" style free-form lines with a numeric grade
	freeformRubricPattern = regexp.MustCompile(`(?m)^\s*[A-Za-z][A-Za-z0-9 /&_-]{1,60}:\s*\d+(?:\.\d+)?(?:\s*/\s*\d+)?\s*$`)

	// "| Accuracy | 8 |" table rows
	tabularRubricPattern = regexp.MustCompile(`(?m)^\s*\|[^|\n]+\|[^|\n]+\|`)

	// "Total: 87/100", "Total Score: 87", "**Total**: 87"
	totalLinePattern = regexp.MustCompile(`(?im)^\s*\**\s*total[a-z ]*\**\s*:\s*\d+(?:\.\d+)?(?:\s*/\s*\d+)?`)
)

// substantiveKeywords mark text that argues rather than just tabulates.
var substantiveKeywords = []string{
	"alternative",
	"because",
	"however",
	"instead",
	"justif",
	"rationale",
	"reason",
	"therefore",
	"trade-off",
	"tradeoff",
}

// MatchInjection returns the first injection rule the text trips, or nil.
func MatchInjection(text string) *Rule {
	for i := range injectionRules {
		if injectionRules[i].Pattern.MatchString(text) {
			return &injectionRules[i]
		}
	}
	return nil
}

// RubricCounts reports how many scoring-like lines each surface format
// matched in the text.
type RubricCounts struct {
	Numbered int
	Freeform int
	Tabular  int
}

// Best returns the highest per-format line count.
func (c RubricCounts) Best() int {
	best := c.Numbered
	if c.Freeform > best {
		best = c.Freeform
	}
	if c.Tabular > best {
		best = c.Tabular
	}
	return best
}

// CountRubricLines tallies scoring-like lines per surface format.
func CountRubricLines(text string) RubricCounts {
	return RubricCounts{
		Numbered: len(numberedRubricPattern.FindAllString(text, -1)),
		Freeform: len(freeformRubricPattern.FindAllString(text, -1)),
		Tabular:  len(tabularRubricPattern.FindAllString(text, -1)),
	}
}

// HasTotalLine reports whether the text contains an aggregate total line.
func HasTotalLine(text string) bool {
	return totalLinePattern.MatchString(text)
}

// HasRubricFormatting reports whether the text shows any rubric-style
// surface format at all. The gate uses this for its cross-unit
// consistency check.
func HasRubricFormatting(text string) bool {
	c := CountRubricLines(text)
	return c.Best() > 0
}
