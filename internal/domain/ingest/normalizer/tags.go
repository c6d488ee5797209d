package normalizer

import "github.com/FACorreiaa/wellspend/internal/domain/ingest/parser"

// tagField maps a contextual row field to the prefix used in its label.
type tagField struct {
	field  string
	prefix string
}

var tagFields = []tagField{
	{"department", "dept"},
	{"team", "team"},
	{"project", "project"},
	{"status", "status"},
	{"service", "service"},
	{"vendor", "vendor"},
	{"type", "type"},
}

// DeriveTags returns the category followed by one "prefix:value" label per
// contextual field present in the row, in a fixed field order. Values keep
// their original case and are trimmed. Duplicate labels are dropped.
func DeriveTags(row *parser.Row, category string) []string {
	tags := make([]string, 0, len(tagFields)+1)
	seen := make(map[string]struct{}, len(tagFields)+1)

	add := func(tag string) {
		if tag == "" {
			return
		}
		if _, dup := seen[tag]; dup {
			return
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}

	add(category)

	for _, tf := range tagFields {
		v, ok := lookupField(row, tf.field)
		if !ok {
			continue
		}
		if text, ok := textValue(v); ok {
			add(tf.prefix + ":" + text)
		}
	}

	return tags
}

// lookupField finds a contextual field by exact key, then by folded key
// ("Department", " TEAM "). Contextual fields are never matched fuzzily.
func lookupField(row *parser.Row, field string) (any, bool) {
	if v, ok := row.Get(field); ok && present(v) {
		return v, true
	}
	for _, k := range row.Keys() {
		if foldKey(k) != field {
			continue
		}
		if v, _ := row.Get(k); present(v) {
			return v, true
		}
	}
	return nil, false
}
