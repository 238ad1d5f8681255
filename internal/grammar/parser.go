// Package grammar parses the response grammar that every provider is
// instructed to emit:
//
//	<response>
//	  <text>...</text>
//	  <probability>0.0-1.0 as decimal text</probability>
//	</response>
//
// Zero or more such blocks concatenated in one raw payload, no surrounding
// envelope. Parsing is total over arbitrary input: malformed or absent
// markers yield an empty (or partial) unit list, never an error.
package grammar

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/modelcascade/cascade/internal/domain"
)

const (
	openMarker  = "<response>"
	closeMarker = "</response>"
)

// Non-greedy bodies so one unit's text never swallows the next unit's
// markers.
var (
	blockPattern = regexp.MustCompile(`(?s)<response>(.*?)</response>`)
	textPattern  = regexp.MustCompile(`(?s)<text>(.*?)</text>`)
	probPattern  = regexp.MustCompile(`(?s)<probability>(.*?)</probability>`)
)

// Result carries the parsed units plus the structural facts the quality gate
// folds into its document-level checks.
type Result struct {
	Units     []domain.ResponseUnit
	OpenTags  int
	CloseTags int
}

// Balanced reports whether open and close marker counts match.
func (r Result) Balanced() bool {
	return r.OpenTags == r.CloseTags
}

// Parse extracts response units from raw provider output, in document order.
//
// A block missing its <text> element is malformed and contributes no unit;
// the blocks around it still parse. A block whose <probability> is absent or
// not numeric yields a unit with probability NaN, which the scorer treats as
// out of range rather than a crash.
func Parse(raw string) Result {
	result := Result{
		OpenTags:  strings.Count(raw, openMarker),
		CloseTags: strings.Count(raw, closeMarker),
	}

	matches := blockPattern.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return result
	}

	result.Units = make([]domain.ResponseUnit, 0, len(matches))
	for _, m := range matches {
		body := m[1]

		textMatch := textPattern.FindStringSubmatch(body)
		if textMatch == nil {
			continue
		}

		unit := domain.ResponseUnit{
			Text:        strings.TrimSpace(textMatch[1]),
			Probability: parseProbability(body),
		}
		result.Units = append(result.Units, unit)
	}
	return result
}

func parseProbability(body string) float64 {
	probMatch := probPattern.FindStringSubmatch(body)
	if probMatch == nil {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(probMatch[1]), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
