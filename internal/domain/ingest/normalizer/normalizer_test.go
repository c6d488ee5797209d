package normalizer

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/wellspend/internal/domain/ingest/parser"
)

func TestNormalize_AliasPrecedence(t *testing.T) {
	n := New(DefaultConfig())

	res := n.Normalize(rowFrom("cost", "5", "amount", "10"), "cloud")
	require.True(t, res.Amount.Valid)
	assert.Equal(t, "10", res.Amount.Decimal.String(), "amount outranks cost regardless of column order")
	assert.Equal(t, "amount", res.Matches[FieldAmount].Key)

	res = n.Normalize(rowFrom("amount", "", "cost", "5"), "cloud")
	require.True(t, res.Amount.Valid)
	assert.Equal(t, "5", res.Amount.Decimal.String(), "empty alias is skipped")

	res = n.Normalize(rowFrom("amount", "n/a", "cost", "5"), "cloud")
	assert.False(t, res.Amount.Valid, "first non-empty alias decides even when it does not coerce")
}

func TestNormalize_CostsScenario(t *testing.T) {
	rows, err := parser.ParseCSV([]byte("date,amount,vendor\n2024-01-01,100.50,AWS\n2024-01-02,,Azure\n"))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	n := New(DefaultConfig())

	first := n.Normalize(rows[0], "cloud")
	require.True(t, first.Amount.Valid)
	assert.Equal(t, "100.5", first.Amount.Decimal.String())
	require.True(t, first.Date.Valid)
	assert.Equal(t, "2024-01-01", first.Date.Time.Format("2006-01-02"))
	assert.False(t, first.Description.Valid)
	assert.Equal(t, []string{"cloud", "vendor:AWS"}, first.Tags)

	second := n.Normalize(rows[1], "cloud")
	assert.False(t, second.Amount.Valid)
	assert.True(t, second.Date.Valid)
	assert.Equal(t, []string{"cloud", "vendor:Azure"}, second.Tags)
}

func TestNormalize_MergesCanonicalKeys(t *testing.T) {
	n := New(DefaultConfig())
	row := rowFrom("Service", "S3", "total", "$20", "timestamp", "2024-05-01")

	res := n.Normalize(row, "cloud")

	data, err := json.Marshal(res.Normalized)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"Service": "S3",
		"total": "$20",
		"timestamp": "2024-05-01",
		"amount": "$20",
		"date": "2024-05-01",
		"description": "S3",
		"category": "cloud"
	}`, string(data))

	assert.Equal(t, 3, row.Len(), "raw row is untouched")
}

func TestNormalize_DoesNotOverwriteExistingCanonicalKeys(t *testing.T) {
	n := New(DefaultConfig())
	row := rowFrom("category", "compute", "amount", "3")

	res := n.Normalize(row, "cloud")

	v, _ := res.Normalized.Get("category")
	assert.Equal(t, "compute", v)
	v, _ = res.Normalized.Get("amount")
	assert.Equal(t, "3", v)
	assert.Equal(t, []string{"category", "amount"}, res.Normalized.Keys())
}

func TestNormalize_ResolutionStages(t *testing.T) {
	n := New(DefaultConfig())

	tests := []struct {
		name      string
		row       *parser.Row
		field     string
		wantKey   string
		wantStage MatchStage
	}{
		{"folded header", rowFrom("Amount ($)", "4"), FieldAmount, "Amount ($)", StageFolded},
		{"folded multiword", rowFrom("Created At", "2024-01-01"), FieldDate, "Created At", StageFolded},
		{"folded amount with symbols", rowFrom("Price", "$4.00"), FieldAmount, "Price", StageFolded},
		{"fuzzy", rowFrom("ammount", "4"), FieldAmount, "ammount", StageFuzzy},
		{"fuzzy description", rowFrom("descripton", "x"), FieldDescription, "descripton", StageFuzzy},
		{"exact beats earlier fuzzy alias", rowFrom("ammount", "1", "cost", "2"), FieldAmount, "cost", StageExact},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := n.Normalize(tt.row, "ops")
			m, ok := res.Matches[tt.field]
			require.True(t, ok)
			assert.Equal(t, tt.wantKey, m.Key)
			assert.Equal(t, tt.wantStage, m.Stage)
		})
	}
}

func TestNormalize_NoFalseFriends(t *testing.T) {
	n := New(DefaultConfig())

	tests := []struct {
		name string
		row  *parser.Row
	}{
		{"near words", rowFrom("count", "3", "account", "12345", "hotel", "9")},
		{"alias as a word of the header", rowFrom("employee", "Ana", "department", "Ops", "total_hours", "40")},
		{"date column named after an alias", rowFrom("value_date", "2024-01-01")},
		{"cost center code", rowFrom("cost_center", "CC-100")},
		{"short alias one edit away", rowFrom("host", "web-01", "post", "12")},
		{"folded header holding letters", rowFrom(" Cost ", "CC-100")},
		{"fuzzy header holding letters", rowFrom("amounts", "USD 5")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := n.Normalize(tt.row, "ops")
			assert.False(t, res.Amount.Valid)
			_, ok := res.Matches[FieldAmount]
			assert.False(t, ok)
		})
	}

	res := n.Normalize(rowFrom("value_date", "2024-01-01"), "ops")
	assert.False(t, res.Date.Valid, "value_date is not a date alias")
}

func TestNormalize_LooseAmountFallsThrough(t *testing.T) {
	n := New(DefaultConfig())

	res := n.Normalize(rowFrom("Cost ", "CC-100", "Price", "7"), "ops")
	require.True(t, res.Amount.Valid)
	assert.Equal(t, "7", res.Amount.Decimal.String())
	assert.Equal(t, "Price", res.Matches[FieldAmount].Key)

	res = n.Normalize(rowFrom("amount", "USD 5"), "ops")
	require.True(t, res.Amount.Valid, "an exact column is read as-is")
	assert.Equal(t, "5", res.Amount.Decimal.String())
}

func TestNormalize_FuzzyDisabled(t *testing.T) {
	n := New(Config{FuzzyDistance: 0})

	res := n.Normalize(rowFrom("ammount", "4"), "ops")
	assert.False(t, res.Amount.Valid)
}

func TestNormalize_DescriptionPrefersText(t *testing.T) {
	n := New(DefaultConfig())

	res := n.Normalize(rowFrom("name", json.Number("7"), "title", " Laptop  refresh "), "it")
	require.True(t, res.Description.Valid)
	assert.Equal(t, "Laptop refresh", res.Description.String)

	res = n.Normalize(rowFrom("name", json.Number("7")), "it")
	require.True(t, res.Description.Valid)
	assert.Equal(t, "7", res.Description.String)
}

func TestNormalize_JSONNumbers(t *testing.T) {
	rows, err := parser.ParseJSON([]byte(`[{"price": 19.99, "created_at": 1704067200000, "item": "Seat"}]`))
	require.NoError(t, err)

	res := New(DefaultConfig()).Normalize(rows[0], "software")
	assert.Equal(t, "19.99", res.Amount.Decimal.String())
	assert.Equal(t, "2024-01-01", res.Date.Time.Format("2006-01-02"))
	assert.Equal(t, "Seat", res.Description.String)
}

func TestNormalize_NilAndEmptyRows(t *testing.T) {
	n := New(DefaultConfig())

	for _, row := range []*parser.Row{nil, parser.NewRow(0)} {
		res := n.Normalize(row, "hr")
		assert.False(t, res.Amount.Valid)
		assert.False(t, res.Date.Valid)
		assert.False(t, res.Description.Valid)
		assert.Equal(t, []string{"hr"}, res.Tags)
		v, _ := res.Normalized.Get(FieldCategory)
		assert.Equal(t, "hr", v)
	}
}

// Random rows of mixed value types must always normalize without panicking.
func TestNormalize_NeverPanics(t *testing.T) {
	faker := gofakeit.New(42)
	n := New(DefaultConfig())

	keys := []string{"amount", "cost", "Price", "date", "when", "name", "team", "status", "junk", "ammount", "Created At"}
	values := []func() any{
		func() any { return faker.Word() },
		func() any { return faker.Price(-1000, 1000) },
		func() any { return json.Number(fmt.Sprintf("%d.%02d", faker.Number(0, 999), faker.Number(0, 99))) },
		func() any {
			return faker.Date().Format(faker.RandomString([]string{"2006-01-02", "01/02/2006", "Jan 2, 2006", "garbage"}))
		},
		func() any { return faker.Bool() },
		func() any { return nil },
		func() any { return json.RawMessage(`{"nested":true}`) },
		func() any { return faker.LetterN(uint(faker.Number(0, 30))) },
		func() any { return faker.Sentence(5) },
		func() any { return string([]byte{0xff, 0xfe}) },
	}

	for i := 0; i < 2000; i++ {
		row := parser.NewRow(4)
		for j := 0; j < faker.Number(0, 6); j++ {
			row.Set(keys[faker.Number(0, len(keys)-1)], values[faker.Number(0, len(values)-1)]())
		}

		assert.NotPanics(t, func() {
			res := n.Normalize(row, faker.Word())
			assert.NotEmpty(t, res.Tags)
			_, err := json.Marshal(res.Normalized)
			assert.NoError(t, err)
		})
	}
}

func TestPreview(t *testing.T) {
	n := New(DefaultConfig())

	got := n.Preview([]string{"Vendor", "Created At", "Cost", "Service"})

	assert.Equal(t, "Cost", got[FieldAmount].Key)
	assert.Equal(t, "cost", got[FieldAmount].Alias)
	assert.Equal(t, "Created At", got[FieldDate].Key)
	assert.Equal(t, "Service", got[FieldDescription].Key)

	got = n.Preview([]string{"Total Cost", "Invoice Date"})
	assert.Empty(t, got)
}

// rowFrom builds a row from alternating key/value pairs.
func rowFrom(pairs ...any) *parser.Row {
	r := parser.NewRow(len(pairs) / 2)
	for i := 0; i+1 < len(pairs); i += 2 {
		r.Set(pairs[i].(string), pairs[i+1])
	}
	return r
}
