package normalizer

import (
	"encoding/json"
	"strings"
	"unicode"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/FACorreiaa/wellspend/internal/domain/ingest/parser"
)

// MatchStage records how a canonical field was found in a row.
type MatchStage int

const (
	StageNone MatchStage = iota
	// StageExact: the row has a key equal to the alias.
	StageExact
	// StageFolded: equal after lower-casing and collapsing punctuation, e.g. "Created At".
	StageFolded
	// StageFuzzy: the key is a near miss of the alias, e.g. "ammount".
	StageFuzzy
)

func (s MatchStage) String() string {
	switch s {
	case StageExact:
		return "exact"
	case StageFolded:
		return "folded"
	case StageFuzzy:
		return "fuzzy"
	default:
		return "none"
	}
}

// Match is the column a canonical field was resolved from.
type Match struct {
	Alias string     `json:"alias"`
	Key   string     `json:"key"`
	Stage MatchStage `json:"-"`
	Value any        `json:"-"`
}

// acceptFunc decides whether a value found at the given stage is usable.
type acceptFunc func(v any, stage MatchStage) bool

// anyStage accepts on f regardless of how the column was found.
func anyStage(f func(any) bool) acceptFunc {
	return func(v any, _ MatchStage) bool { return f(v) }
}

// resolver walks alias lists against a row. Each stage scans every alias in
// order before the next, looser stage is attempted, so an exact match on a
// later alias always beats a fuzzy match on an earlier one.
type resolver struct {
	maxDistance int
}

func (r resolver) resolve(row *parser.Row, aliases []string, accept acceptFunc) (Match, bool) {
	// Exact lookups first; this is the common case and needs no folding.
	for _, alias := range aliases {
		if v, ok := row.Get(alias); ok && accept(v, StageExact) {
			return Match{Alias: alias, Key: alias, Stage: StageExact, Value: v}, true
		}
	}

	keys := row.Keys()
	folded := make([]string, len(keys))
	for i, k := range keys {
		folded[i] = foldKey(k)
	}

	stages := []struct {
		stage MatchStage
		match func(key, alias string) bool
	}{
		{StageFolded, func(key, alias string) bool { return key == alias }},
		{StageFuzzy, r.nearMiss},
	}

	for _, st := range stages {
		for _, alias := range aliases {
			for i, key := range folded {
				if key == "" || !st.match(key, alias) {
					continue
				}
				v, _ := row.Get(keys[i])
				if accept(v, st.stage) {
					return Match{Alias: alias, Key: keys[i], Stage: st.stage, Value: v}, true
				}
			}
		}
	}

	return Match{}, false
}

// minFuzzyAlias is the shortest alias eligible for fuzzy matching. "cost" is
// one edit away from "host" and "post".
const minFuzzyAlias = 5

// nearMiss allows roughly one edit per four characters of the alias, capped by
// the configured distance.
func (r resolver) nearMiss(key, alias string) bool {
	if len(alias) < minFuzzyAlias {
		return false
	}
	allowed := len(alias) / 4
	if allowed > r.maxDistance {
		allowed = r.maxDistance
	}
	if allowed == 0 {
		return false
	}
	diff := len(key) - len(alias)
	if diff > allowed || -diff > allowed {
		return false
	}
	return fuzzy.LevenshteinDistance(key, alias) <= allowed
}

// foldKey lower-cases a column name and collapses every run of characters
// other than letters and digits into a single underscore.
func foldKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	pendingSep := false
	for _, r := range strings.TrimSpace(key) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		pendingSep = true
	}
	return b.String()
}

// present reports whether v counts as a value for alias resolution: nil,
// blank strings and JSON null are absent; everything else, including 0 and
// false, is present.
func present(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(val) != ""
	case json.RawMessage:
		return len(val) > 0 && string(val) != "null"
	default:
		return true
	}
}

// amountValue accepts any present value from an exact column. Columns found
// by folding or fuzzy matching must not hold letters, so a " Cost " column
// holding "CC-100" is never read as -100.
func amountValue(v any, stage MatchStage) bool {
	if !present(v) {
		return false
	}
	if stage == StageExact {
		return true
	}
	s, ok := v.(string)
	if !ok {
		_, nested := v.(json.RawMessage)
		return !nested
	}
	return strings.IndexFunc(s, unicode.IsLetter) < 0
}

func isNonEmptyString(v any) bool {
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) != ""
}

func isScalar(v any) bool {
	if !present(v) {
		return false
	}
	_, nested := v.(json.RawMessage)
	return !nested
}
