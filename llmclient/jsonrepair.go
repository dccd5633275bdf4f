package llmclient

import (
	"encoding/json"
	"strings"

	"github.com/teburns/llmonpy/core"
)

// maxJSONRepairAttempts bounds the reparse loop: the third failure raises
// JSONFormat, and rate-limit waits never count as a retry against this
// budget.
const maxJSONRepairAttempts = 3

// jsonRepairPasses are applied in order, each producing a new candidate
// from the previous one, until one parses or the budget is exhausted. They
// target two common encoding errors: literal newlines and unescaped quotes
// inside string values.
var jsonRepairPasses = []func(string) string{
	func(s string) string { return s }, // attempt 0: as-received
	escapeLiteralNewlines,
	escapeUnescapedQuotes,
}

// ParseJSONWithRepair parses raw as JSON, retrying with progressively more
// aggressive normalization on failure. It returns ErrJSONFormat wrapped in
// a core.FrameworkError once all passes are exhausted.
func ParseJSONWithRepair(raw string) (map[string]interface{}, error) {
	var lastErr error
	candidate := raw

	for attempt := 0; attempt < maxJSONRepairAttempts; attempt++ {
		if attempt < len(jsonRepairPasses) {
			candidate = jsonRepairPasses[attempt](candidate)
		}

		var dict map[string]interface{}
		if err := json.Unmarshal([]byte(candidate), &dict); err == nil {
			return dict, nil
		} else {
			lastErr = err
		}
	}

	return nil, core.NewFrameworkError("llmclient.ParseJSONWithRepair", "JSONFormat", core.ErrJSONFormat).
		WithID(lastErr.Error())
}

// escapeLiteralNewlines replaces raw newline/carriage-return/tab bytes that
// occur inside string values with their JSON escape sequences. Providers
// occasionally emit multi-line string content without escaping it.
func escapeLiteralNewlines(s string) string {
	var b strings.Builder
	inString := false
	escaped := false

	for _, r := range s {
		if escaped {
			b.WriteRune(r)
			escaped = false
			continue
		}
		switch r {
		case '\\':
			b.WriteRune(r)
			escaped = true
		case '"':
			inString = !inString
			b.WriteRune(r)
		case '\n':
			if inString {
				b.WriteString(`\n`)
			} else {
				b.WriteRune(r)
			}
		case '\r':
			if inString {
				b.WriteString(`\r`)
			} else {
				b.WriteRune(r)
			}
		case '\t':
			if inString {
				b.WriteString(`\t`)
			} else {
				b.WriteRune(r)
			}
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// escapeUnescapedQuotes heuristically escapes a quote that appears inside
// what looks like an already-open string value, when it is not acting as
// that value's closing quote (the character immediately following it is
// not one of the punctuation marks that legitimately follow a JSON
// string: comma, colon, closing brace/bracket, or whitespace before one).
func escapeUnescapedQuotes(s string) string {
	runes := []rune(s)
	var b strings.Builder
	inString := false
	escaped := false

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if escaped {
			b.WriteRune(r)
			escaped = false
			continue
		}
		if r == '\\' {
			b.WriteRune(r)
			escaped = true
			continue
		}
		if r != '"' {
			b.WriteRune(r)
			continue
		}
		if !inString {
			inString = true
			b.WriteRune(r)
			continue
		}
		if looksLikeClosingQuote(runes, i) {
			inString = false
			b.WriteRune(r)
			continue
		}
		b.WriteString(`\"`)
	}
	return b.String()
}

func looksLikeClosingQuote(runes []rune, idx int) bool {
	j := idx + 1
	for j < len(runes) && (runes[j] == ' ' || runes[j] == '\t') {
		j++
	}
	if j >= len(runes) {
		return true
	}
	switch runes[j] {
	case ',', ':', '}', ']':
		return true
	default:
		return false
	}
}
