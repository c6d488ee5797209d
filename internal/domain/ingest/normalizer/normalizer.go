// Package normalizer maps schema-less rows onto the canonical record shape.
// Canonical fields are resolved through ordered alias lists and coerced to
// typed, independently nullable values. Normalization never fails.
package normalizer

import (
	"github.com/guregu/null/v5"
	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/wellspend/internal/domain/ingest/parser"
)

// Canonical field names, also used as keys in the normalized payload.
const (
	FieldAmount      = "amount"
	FieldDate        = "date"
	FieldDescription = "description"
	FieldCategory    = "category"
)

// Aliases lists, per canonical field, the source column names to look for in
// priority order.
type Aliases struct {
	Amount      []string
	Date        []string
	Description []string
}

// DefaultAliases returns the built-in alias lists.
func DefaultAliases() Aliases {
	return Aliases{
		Amount:      []string{"amount", "cost", "price", "total", "value", "sum"},
		Date:        []string{"date", "created_at", "timestamp", "time", "when"},
		Description: []string{"description", "desc", "name", "title", "label", "service", "item"},
	}
}

// Config tunes field resolution.
type Config struct {
	Aliases Aliases
	// FuzzyDistance caps the edit distance tolerated for misspelled headers.
	// Zero disables fuzzy matching.
	FuzzyDistance int
}

func DefaultConfig() Config {
	return Config{
		Aliases:       DefaultAliases(),
		FuzzyDistance: 2,
	}
}

// Result is the normalized form of one row.
type Result struct {
	// Normalized holds the raw keys plus any canonical keys the raw row lacked.
	Normalized  *parser.Row
	Amount      decimal.NullDecimal
	Date        null.Time
	Description null.String
	Tags        []string
	// Matches records the source column of each resolved canonical field.
	Matches map[string]Match
}

// Normalizer resolves canonical fields for rows of one or many uploads. It is
// safe for concurrent use.
type Normalizer struct {
	aliases  Aliases
	resolver resolver
}

// New creates a Normalizer. Empty alias lists fall back to the defaults.
func New(cfg Config) *Normalizer {
	defaults := DefaultAliases()
	if len(cfg.Aliases.Amount) == 0 {
		cfg.Aliases.Amount = defaults.Amount
	}
	if len(cfg.Aliases.Date) == 0 {
		cfg.Aliases.Date = defaults.Date
	}
	if len(cfg.Aliases.Description) == 0 {
		cfg.Aliases.Description = defaults.Description
	}
	if cfg.FuzzyDistance < 0 {
		cfg.FuzzyDistance = 0
	}

	return &Normalizer{
		aliases:  cfg.Aliases,
		resolver: resolver{maxDistance: cfg.FuzzyDistance},
	}
}

// Normalize resolves and coerces the canonical fields of row. A nil row is
// treated as empty.
func (n *Normalizer) Normalize(row *parser.Row, category string) Result {
	if row == nil {
		row = parser.NewRow(0)
	}

	res := Result{
		Normalized: row.Clone(),
		Matches:    make(map[string]Match, 3),
	}

	if m, ok := n.resolver.resolve(row, n.aliases.Amount, amountValue); ok {
		res.Amount = CoerceAmount(m.Value)
		res.Matches[FieldAmount] = m
	}

	if m, ok := n.resolver.resolve(row, n.aliases.Date, anyStage(present)); ok {
		res.Date = CoerceDate(m.Value)
		res.Matches[FieldDate] = m
	}

	// String-typed columns win; other scalars are only used when no alias
	// carries text.
	m, ok := n.resolver.resolve(row, n.aliases.Description, anyStage(isNonEmptyString))
	if !ok {
		m, ok = n.resolver.resolve(row, n.aliases.Description, anyStage(isScalar))
	}
	if ok {
		res.Description = CoerceDescription(m.Value)
		res.Matches[FieldDescription] = m
	}

	for _, field := range []string{FieldAmount, FieldDate, FieldDescription} {
		m, ok := res.Matches[field]
		if !ok {
			continue
		}
		if existing, has := row.Get(field); has && present(existing) {
			continue
		}
		res.Normalized.Set(field, m.Value)
	}
	if existing, has := row.Get(FieldCategory); !has || !present(existing) {
		res.Normalized.Set(FieldCategory, category)
	}

	res.Tags = DeriveTags(row, category)

	return res
}

// Preview reports which column each canonical field would be read from for a
// given header row, without coercing any values.
func (n *Normalizer) Preview(headers []string) map[string]Match {
	row := parser.NewRow(len(headers))
	for _, h := range headers {
		row.Set(h, h)
	}

	out := make(map[string]Match, 3)
	lists := map[string][]string{
		FieldAmount:      n.aliases.Amount,
		FieldDate:        n.aliases.Date,
		FieldDescription: n.aliases.Description,
	}
	for field, aliases := range lists {
		if m, ok := n.resolver.resolve(row, aliases, anyStage(present)); ok {
			m.Value = nil
			out[field] = m
		}
	}
	return out
}
