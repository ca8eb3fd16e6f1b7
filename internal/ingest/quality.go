package ingest

import (
	"strings"
	"unicode"

	"github.com/mnemex/mnemex/internal/types"
)

// stopwords is the small closed list used both by the quality classifier
// (spec §4.11's ">50% stopwords" rule) and by topic extraction's term
// filter.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "but": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true,
	"to": true, "of": true, "in": true, "on": true, "at": true, "for": true,
	"with": true, "by": true, "from": true, "as": true, "it": true, "its": true,
	"this": true, "that": true, "these": true, "those": true, "i": true,
	"you": true, "we": true, "they": true, "he": true, "she": true,
	"so": true, "if": true, "then": true, "than": true, "just": true,
	"also": true, "there": true, "here": true, "about": true, "into": true,
}

// metaCommentaryPrefixes flags assistant filler that never constitutes a
// useful fact (spec §4.11 "meta-commentary").
var metaCommentaryPrefixes = []string{
	"let me", "i'll", "i will", "i'm going to", "now let's", "first, let's",
	"sure,", "okay,", "ok,", "great,", "certainly,",
}

// midSentenceConnectives flags candidates that read as a fragment lifted
// from the middle of a sentence (spec §4.11 "starts with a mid-sentence
// article/connective"). Matched case-sensitively, so only a lowercase
// start counts; a capitalized "The ..." opens a sentence.
var midSentenceConnectives = []string{
	"and ", "but ", "or ", "so ", "because ", "which ", "that ", "the ", "a ", "an ",
}

const minSignificantWords = 4

// IsQualityFact implements spec §4.11's multi-rule classifier for
// auto-extracted candidates: it rejects short fragments, stopword-heavy
// text, mid-sentence starts, structural noise (markdown tables, git-log
// lines, inline code), meta-commentary, malformed sentence boundaries,
// and truncated endings.
func IsQualityFact(content string) bool {
	c := strings.TrimSpace(content)
	if c == "" {
		return false
	}

	words := strings.Fields(c)
	significant := 0
	stopwordCount := 0
	for _, w := range words {
		lw := strings.ToLower(strings.Trim(w, ".,!?;:\"'()"))
		if lw == "" {
			continue
		}
		if stopwords[lw] {
			stopwordCount++
			continue
		}
		significant++
	}
	if significant < minSignificantWords {
		return false
	}
	if len(words) > 0 && float64(stopwordCount)/float64(len(words)) > 0.5 {
		return false
	}

	lower := strings.ToLower(c)
	for _, conn := range midSentenceConnectives {
		if strings.HasPrefix(c, conn) {
			return false
		}
	}
	for _, prefix := range metaCommentaryPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return false
		}
	}

	if looksLikeStructuralNoise(c) {
		return false
	}
	if hasMalformedSentenceBoundary(c) {
		return false
	}
	if endsWithTruncatedIdentifier(c) {
		return false
	}

	return true
}

// looksLikeStructuralNoise catches markdown tables, git-log-style lines,
// and bare inline-code fragments that extraction sometimes lifts verbatim.
func looksLikeStructuralNoise(c string) bool {
	if strings.HasPrefix(strings.TrimSpace(c), "|") && strings.Count(c, "|") >= 2 {
		return true
	}
	if strings.HasPrefix(c, "commit ") || strings.Contains(c, "Author: ") || strings.Contains(c, "Date:   ") {
		return true
	}
	trimmed := strings.TrimSpace(c)
	if strings.HasPrefix(trimmed, "`") && strings.HasSuffix(trimmed, "`") && !strings.Contains(trimmed[1:len(trimmed)-1], " ") {
		return true
	}
	return false
}

// hasMalformedSentenceBoundary catches fragments like ":Sentence-starts-here"
// where extraction split mid-punctuation without a space after the colon.
func hasMalformedSentenceBoundary(c string) bool {
	for i, r := range c {
		if r == ':' && i+1 < len(c) {
			next := rune(c[i+1])
			if unicode.IsUpper(next) {
				return true
			}
		}
	}
	return false
}

// endsWithTruncatedIdentifier catches a candidate whose last word opens an
// inline-code span that never closes (e.g. "... a pointer to `memory"),
// suggesting the source was cut mid inline-code span.
func endsWithTruncatedIdentifier(c string) bool {
	fields := strings.Fields(c)
	if len(fields) == 0 {
		return false
	}
	last := fields[len(fields)-1]
	return strings.HasPrefix(last, "`") && strings.Count(last, "`") == 1
}

// IsDefiniteGarbage is the stricter classifier spec §4.11's garbage
// cleanup applies even to manually-stored memories: only unambiguous
// noise qualifies, since false positives here would delete user data.
func IsDefiniteGarbage(content string) bool {
	c := strings.TrimSpace(content)
	if c == "" {
		return true
	}
	words := strings.Fields(c)
	if len(words) == 1 && stopwords[strings.ToLower(words[0])] {
		return true
	}
	if looksLikeStructuralNoise(c) {
		return true
	}
	return false
}

// IsStopwordName reports whether name (an entity name) is itself just a
// stopword, for CleanupGarbageFacts' strategy (c).
func IsStopwordName(name string) bool {
	return stopwords[strings.ToLower(strings.TrimSpace(name))]
}

// IsDuplicateFact reports whether content exactly matches, or appears as
// a substring of (or contains as a substring), any existing memory's
// content (spec §4.11 rule 1).
func IsDuplicateFact(content string, existing []*types.Memory) bool {
	c := strings.TrimSpace(content)
	if c == "" {
		return true
	}
	lc := strings.ToLower(c)
	for _, m := range existing {
		lm := strings.ToLower(strings.TrimSpace(m.Content))
		if lm == lc || strings.Contains(lm, lc) || strings.Contains(lc, lm) {
			return true
		}
	}
	return false
}
