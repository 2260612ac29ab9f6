package contract

import (
	"regexp"
	"strings"
)

// Forbidden patterns only count against a panel when they appear in an
// affirmative clause. Prompts legitimately mention forbidden terms inside
// prohibition lines ("NO terrace elements") in order to exclude them, and
// flagging those would make every well-constrained prompt fail.

var (
	prohibitionLeadRe = regexp.MustCompile(`^\s*[-*•]?\s*(no |not |avoid |without |never )`)
	prohibitionCueRe  = regexp.MustCompile(`\b(no|not|never|without|avoid|don't|exclude|forbidden|negative prompt)\b`)
	sectionHeaderRe   = regexp.MustCompile(`^\s*[-*•]?\s*(forbidden|negative prompt|must not|do not|never show|avoid)\b.*:?\s*$`)
	listItemRe        = regexp.MustCompile(`^\s+|^\s*[-*•]`)
)

// affirms reports whether pattern appears in text in an affirmative
// (descriptive) clause.
func affirms(text, pattern string) bool {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == "" {
		return false
	}
	inProhibitionSection := false
	for _, line := range strings.Split(text, "\n") {
		lower := strings.ToLower(line)
		trimmed := strings.TrimSpace(lower)
		if trimmed == "" {
			inProhibitionSection = false
			continue
		}
		if sectionHeaderRe.MatchString(lower) {
			inProhibitionSection = true
			continue
		}
		if inProhibitionSection && listItemRe.MatchString(line) {
			continue
		}
		inProhibitionSection = false
		if !strings.Contains(lower, pattern) {
			continue
		}
		if prohibitionLine(lower, pattern) {
			continue
		}
		return true
	}
	return false
}

// prohibitionLine reports whether every occurrence of pattern on the line
// sits inside a prohibition clause. A prohibition cue governs the rest of
// its sentence, commas included, so every item of a list like
// "must not show: detached, freestanding, villa" stays excluded.
func prohibitionLine(lower, pattern string) bool {
	if prohibitionLeadRe.MatchString(lower) {
		return true
	}
	for _, sentence := range splitSentences(lower) {
		cue := -1
		if loc := prohibitionCueRe.FindStringIndex(sentence); loc != nil {
			cue = loc[0]
		}
		offset := 0
		for {
			idx := strings.Index(sentence[offset:], pattern)
			if idx < 0 {
				break
			}
			at := offset + idx
			if cue < 0 || at < cue {
				return false
			}
			offset = at + len(pattern)
		}
	}
	return true
}

// splitSentences cuts on sentence-level separators only; commas stay
// inside their sentence so a leading negation keeps governing the list
// after it.
func splitSentences(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		switch r {
		case '.', ';', '(', ')':
			return true
		}
		return false
	})
}
