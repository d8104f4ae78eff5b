package index

import (
	"slices"
	"strings"

	"github.com/JakeFAU/alma-bulk/internal/mous"
)

// QA statuses stored in the index.
const (
	QAPass     = "PASS"
	QAFail     = "FAIL"
	QASemiPass = "SEMIPASS"
	QAUnknown  = "UNKNOWN"
)

type qaRule struct {
	tokens []string
	status string
}

// qaRules are evaluated in order against the upper-cased text form.
var qaRules = []qaRule{
	{tokens: []string{"TRUE", "T", "1"}, status: QAPass},
	{tokens: []string{"FALSE", "F", "0"}, status: QAFail},
	{tokens: []string{QAPass, QASemiPass, QAFail, QAUnknown}},
}

// normalizeQA maps a QA value to its stored form. Booleans become PASS or
// FAIL, truthy and falsy tokens likewise, and any other text is kept
// upper-cased. Absent or blank values report false.
func normalizeQA(v mous.QAValue) (string, bool) {
	if b, ok := v.Bool(); ok {
		if b {
			return QAPass, true
		}
		return QAFail, true
	}
	text, ok := v.Text()
	if !ok {
		return "", false
	}
	text = strings.ToUpper(strings.TrimSpace(text))
	if text == "" {
		return "", false
	}
	for _, rule := range qaRules {
		if slices.Contains(rule.tokens, text) {
			if rule.status == "" {
				return text, true
			}
			return rule.status, true
		}
	}
	return text, true
}

// firstQA returns the first value that normalizes to a status.
func firstQA(values ...mous.QAValue) *string {
	for _, v := range values {
		if s, ok := normalizeQA(v); ok {
			return &s
		}
	}
	return nil
}
