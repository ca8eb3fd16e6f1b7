package contradiction

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/mnemex/mnemex/internal/types"
)

// negationTokens flags a side of a pair as negated (spec §4.5 step 2,
// "direct negation").
var negationTokens = []string{
	"not", "isn't", "aren't", "wasn't", "weren't", "doesn't", "don't",
	"didn't", "never", "no longer", "cannot", "can't", "won't", "wouldn't",
	"hasn't", "haven't", "hadn't", "without",
}

// antonymAxes is a curated map of antonym pairs across common axes, per
// spec §4.5 step 2 ("antonym"). Kept as explicit data rather than a
// generated or reflective lookup, per the design note on pattern-matched
// text classifiers (spec §9).
var antonymAxes = [][2]string{
	{"true", "false"},
	{"alive", "dead"},
	{"hot", "cold"},
	{"success", "failure"},
	{"successful", "failed"},
	{"increase", "decrease"},
	{"increased", "decreased"},
	{"up", "down"},
	{"open", "closed"},
	{"enabled", "disabled"},
	{"online", "offline"},
	{"public", "private"},
	{"start", "stop"},
	{"started", "stopped"},
	{"approved", "rejected"},
	{"complete", "incomplete"},
	{"working", "broken"},
	{"present", "absent"},
	{"active", "inactive"},
	{"passed", "failed"},
	{"safe", "dangerous"},
	{"allowed", "forbidden"},
	{"fast", "slow"},
	{"early", "late"},
}

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "was": true,
	"were": true, "be": true, "been": true, "being": true, "to": true,
	"of": true, "in": true, "on": true, "at": true, "for": true, "and": true,
	"or": true, "it": true, "its": true, "this": true, "that": true,
	"with": true, "as": true, "by": true, "we": true, "i": true, "our": true,
}

var wordRE = regexp.MustCompile(`[a-z0-9']+`)

// tokenize lowercases and splits into words, dropping stop words. Order is
// preserved so subject-overlap comparisons stay stable across calls.
func tokenize(s string) []string {
	words := wordRE.FindAllString(strings.ToLower(s), -1)
	out := make([]string, 0, len(words))
	for _, w := range words {
		if stopWords[w] {
			continue
		}
		out = append(out, w)
	}
	return out
}

// jaccard computes token-set overlap, used as a cheap "same subject" proxy
// for the lexical screens below.
func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	as := make(map[string]bool, len(a))
	for _, w := range a {
		as[w] = true
	}
	var inter int
	bs := make(map[string]bool, len(b))
	for _, w := range b {
		bs[w] = true
		if as[w] {
			inter++
		}
	}
	union := len(as)
	for w := range bs {
		if !as[w] {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

const subjectOverlapThreshold = 0.3

func containsNegation(s string) bool {
	low := " " + strings.ToLower(s) + " "
	for _, tok := range negationTokens {
		if strings.Contains(low, " "+tok+" ") {
			return true
		}
	}
	return false
}

// negationScreen implements spec §4.5 step 2's "direct negation" rule:
// subjects match and exactly one side contains a negation token.
func negationScreen(premise, hypothesis string) (types.ContradictionType, float64, string, bool) {
	pNeg := containsNegation(premise)
	hNeg := containsNegation(hypothesis)
	if pNeg == hNeg {
		return "", 0, "", false
	}
	pTok := tokenize(stripNegations(premise))
	hTok := tokenize(stripNegations(hypothesis))
	if jaccard(pTok, hTok) < subjectOverlapThreshold {
		return "", 0, "", false
	}
	return types.ContradictionNegation, 0.8, "one statement negates the other on the same subject", true
}

func stripNegations(s string) string {
	low := " " + strings.ToLower(s) + " "
	for _, tok := range negationTokens {
		low = strings.ReplaceAll(low, " "+tok+" ", " ")
	}
	return low
}

// antonymScreen implements spec §4.5 step 2's "antonym" rule.
func antonymScreen(premise, hypothesis string) (types.ContradictionType, float64, string, bool) {
	pTok := tokenize(premise)
	hTok := tokenize(hypothesis)
	pSet := toSet(pTok)
	hSet := toSet(hTok)

	for _, axis := range antonymAxes {
		a, b := axis[0], axis[1]
		if (pSet[a] && hSet[b]) || (pSet[b] && hSet[a]) {
			if jaccard(pTok, hTok) < subjectOverlapThreshold {
				continue
			}
			return types.ContradictionAntonym, 0.7, "statements use antonymous terms (" + a + "/" + b + ") on the same subject", true
		}
	}
	return "", 0, "", false
}

func toSet(words []string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

// numericTriple is a (context, value, unit) extraction used by the
// numeric screen.
type numericTriple struct {
	context string
	value   float64
	unit    string
}

var numericRE = regexp.MustCompile(`(?i)([a-z][a-z ]{0,30}?)\s*(?:is|=|:|was|costs?|takes?)\s*(-?\d+(?:\.\d+)?)\s*(%|ms|s|sec|seconds?|min|minutes?|hours?|hrs?|kg|lbs?|gb|mb|kb|usd|\$|dollars?)?`)

func extractNumericTriples(s string) []numericTriple {
	matches := numericRE.FindAllStringSubmatch(s, -1)
	out := make([]numericTriple, 0, len(matches))
	for _, m := range matches {
		val, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		out = append(out, numericTriple{
			context: strings.TrimSpace(strings.ToLower(m[1])),
			value:   val,
			unit:    strings.ToLower(m[3]),
		})
	}
	return out
}

// numericScreen implements spec §4.5 step 2's "numeric" rule: matching
// contexts with a relative delta over 10% are flagged.
func numericScreen(premise, hypothesis string) (types.ContradictionType, float64, string, bool) {
	pTriples := extractNumericTriples(premise)
	hTriples := extractNumericTriples(hypothesis)
	for _, p := range pTriples {
		for _, h := range hTriples {
			if p.unit != h.unit {
				continue
			}
			if jaccard(tokenize(p.context), tokenize(h.context)) < 0.5 {
				continue
			}
			maxAbs := absMax(p.value, h.value)
			if maxAbs == 0 {
				continue
			}
			delta := absF(p.value-h.value) / maxAbs
			if delta <= 0.1 {
				continue
			}
			conf := 0.5 + delta*0.4
			if conf > 0.9 {
				conf = 0.9
			}
			return types.ContradictionFactual, conf, "numeric values for \"" + p.context + "\" differ by more than 10%", true
		}
	}
	return "", 0, "", false
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func absMax(a, b float64) float64 {
	a, b = absF(a), absF(b)
	if a > b {
		return a
	}
	return b
}

// entityAttributeTriple is an (entity, attribute, value) extraction.
type entityAttributeTriple struct {
	entity    string
	attribute string
	value     string
}

var possessiveRE = regexp.MustCompile(`(?i)^([a-z][a-z0-9_]*)'s\s+([a-z][a-z0-9_ ]{0,20}?)\s+is\s+(.+)$`)
var livesInRE = regexp.MustCompile(`(?i)^([a-z][a-z0-9_]*)\s+lives?\s+in\s+(.+)$`)

func extractEntityAttribute(s string) (entityAttributeTriple, bool) {
	s = strings.TrimSpace(s)
	if m := possessiveRE.FindStringSubmatch(s); m != nil {
		return entityAttributeTriple{
			entity:    strings.ToLower(m[1]),
			attribute: strings.ToLower(strings.TrimSpace(m[2])),
			value:     strings.ToLower(strings.TrimSpace(m[3])),
		}, true
	}
	if m := livesInRE.FindStringSubmatch(s); m != nil {
		return entityAttributeTriple{
			entity:    strings.ToLower(m[1]),
			attribute: "lives_in",
			value:     strings.ToLower(strings.TrimSpace(m[2])),
		}, true
	}
	return entityAttributeTriple{}, false
}

// entityAttributeScreen implements spec §4.5 step 2's "entity-attribute"
// rule: same (entity, attribute), different value.
func entityAttributeScreen(premise, hypothesis string) (types.ContradictionType, float64, string, bool) {
	p, ok := extractEntityAttribute(premise)
	if !ok {
		return "", 0, "", false
	}
	h, ok := extractEntityAttribute(hypothesis)
	if !ok {
		return "", 0, "", false
	}
	if p.entity != h.entity || p.attribute != h.attribute {
		return "", 0, "", false
	}
	if p.value == h.value {
		return "", 0, "", false
	}
	return types.ContradictionEntityConflict, 0.75, p.entity + "'s " + p.attribute + " is reported differently across the two statements", true
}

// screenHit is one lexical screen's verdict.
type screenHit struct {
	typ         types.ContradictionType
	confidence  float64
	explanation string
}

// runLexicalScreens applies every screen in spec §4.5 step 2 and returns
// the highest-confidence hit, if any.
func runLexicalScreens(premise, hypothesis string) (screenHit, bool) {
	screens := []func(string, string) (types.ContradictionType, float64, string, bool){
		negationScreen, antonymScreen, numericScreen, entityAttributeScreen,
	}
	var best screenHit
	var found bool
	for _, screen := range screens {
		typ, conf, expl, ok := screen(premise, hypothesis)
		if !ok {
			continue
		}
		if !found || conf > best.confidence {
			best = screenHit{typ: typ, confidence: conf, explanation: expl}
			found = true
		}
	}
	return best, found
}
