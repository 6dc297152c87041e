package evidence

import (
	"sort"
	"strings"
)

// LegalTextExtractor produces claims from legal opinions, offering documents,
// and compliance registers. Obligation sentences become claims with their
// line locator; a jurisdiction claim is appended when regulator indicators
// identify one.
type LegalTextExtractor struct{}

// obligationKeywords mark sentences that state a requirement rather than
// background prose.
var obligationKeywords = []string{
	"must", "shall", "require", "required", "obligated", "mandatory",
	"kyc", "aml", "accredited", "prohibited", "may not", "restricted",
}

// jurisdictionIndicators maps a regulatory framework to the phrases that
// signal it. The framework with the highest indicator count wins.
var jurisdictionIndicators = map[string][]string{
	"SEC":   {"SEC", "Securities and Exchange Commission", "Regulation D", "Rule 506", "Securities Act"},
	"MAS":   {"MAS", "Monetary Authority of Singapore", "Singapore"},
	"FCA":   {"FCA", "Financial Conduct Authority", "United Kingdom"},
	"CFTC":  {"CFTC", "Commodity Futures Trading Commission"},
	"FINMA": {"FINMA", "Swiss Financial Market", "Switzerland"},
	"ESMA":  {"ESMA", "European Securities and Markets Authority", "MiCA"},
}

func (e *LegalTextExtractor) Extract(name string, content []byte) ([]Claim, error) {
	text := string(content)
	var claims []Claim
	lastLine := 0
	for i, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		lastLine = i + 1
		if !isObligation(line) {
			continue
		}
		claims = append(claims, Claim{
			Text: line,
			Loc:  Locator{File: name, Line: i + 1},
		})
	}

	if j := identifyJurisdiction(text); j != "" {
		claims = append(claims, Claim{
			Text: "jurisdiction: " + j,
			Loc:  Locator{File: name, Line: lastLine},
		})
	}
	return claims, nil
}

func isObligation(line string) bool {
	lower := strings.ToLower(line)
	for _, kw := range obligationKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// identifyJurisdiction counts indicator occurrences per framework and returns
// the winner; ties break alphabetically for determinism. Empty when nothing
// matches.
func identifyJurisdiction(text string) string {
	upper := strings.ToUpper(text)
	scores := make(map[string]int)
	for framework, indicators := range jurisdictionIndicators {
		for _, ind := range indicators {
			scores[framework] += strings.Count(upper, strings.ToUpper(ind))
		}
	}
	best, bestScore := "", 0
	frameworks := make([]string, 0, len(scores))
	for f := range scores {
		frameworks = append(frameworks, f)
	}
	sort.Strings(frameworks)
	for _, f := range frameworks {
		if scores[f] > bestScore {
			best, bestScore = f, scores[f]
		}
	}
	return best
}
