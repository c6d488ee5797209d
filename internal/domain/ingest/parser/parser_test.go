package parser

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rowValues(t *testing.T, r *Row) map[string]any {
	t.Helper()
	out := make(map[string]any, r.Len())
	for _, k := range r.Keys() {
		v, _ := r.Get(k)
		out[k] = v
	}
	return out
}

func TestParseCSV(t *testing.T) {
	t.Run("costs scenario", func(t *testing.T) {
		rows, err := ParseCSV([]byte("date,amount,vendor\n2024-01-01,100.50,AWS\n2024-01-02,,Azure\n"))
		require.NoError(t, err)
		require.Len(t, rows, 2)

		assert.Equal(t, []string{"date", "amount", "vendor"}, rows[0].Keys())
		assert.Equal(t, map[string]any{"date": "2024-01-01", "amount": "100.50", "vendor": "AWS"}, rowValues(t, rows[0]))
		assert.Equal(t, map[string]any{"date": "2024-01-02", "amount": "", "vendor": "Azure"}, rowValues(t, rows[1]))
	})

	t.Run("trims headers and skips blank lines", func(t *testing.T) {
		rows, err := ParseCSV([]byte("\n\n  date , amount \r\n\r\n2024-01-01, 5 \r\n   \r\n,\r\n"))
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, []string{"date", "amount"}, rows[0].Keys())
		v, _ := rows[0].Get("amount")
		assert.Equal(t, " 5 ", v, "values are not trimmed")
	})

	t.Run("pads short rows and drops surplus fields", func(t *testing.T) {
		rows, err := ParseCSV([]byte("a,b,c\n1\n1,2,3,4,5\n"))
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, map[string]any{"a": "1", "b": "", "c": ""}, rowValues(t, rows[0]))
		assert.Equal(t, map[string]any{"a": "1", "b": "2", "c": "3"}, rowValues(t, rows[1]))
	})

	t.Run("strips BOM", func(t *testing.T) {
		rows, err := ParseCSV([]byte("\uFEFFamount\n7\n"))
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, []string{"amount"}, rows[0].Keys())
	})

	t.Run("semicolon delimiter", func(t *testing.T) {
		rows, err := ParseCSV([]byte("cost;team\n12;core\n"))
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, map[string]any{"cost": "12", "team": "core"}, rowValues(t, rows[0]))
	})

	t.Run("quoted fields keep delimiters", func(t *testing.T) {
		rows, err := ParseCSV([]byte("description,amount\n\"Hosting, EU\",\"1,200.00\"\n"))
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, map[string]any{"description": "Hosting, EU", "amount": "1,200.00"}, rowValues(t, rows[0]))
	})

	t.Run("duplicate header keeps first position and last value", func(t *testing.T) {
		rows, err := ParseCSV([]byte("amount,team,amount\n1,core,2\n"))
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, []string{"amount", "team"}, rows[0].Keys())
		v, _ := rows[0].Get("amount")
		assert.Equal(t, "2", v)
	})

	t.Run("unnamed columns are dropped", func(t *testing.T) {
		rows, err := ParseCSV([]byte("amount,,team\n1,x,core\n"))
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, []string{"amount", "team"}, rows[0].Keys())
	})

	t.Run("header only", func(t *testing.T) {
		rows, err := ParseCSV([]byte("date,amount\n"))
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("empty input", func(t *testing.T) {
		rows, err := ParseCSV([]byte("  \n\n"))
		require.NoError(t, err)
		assert.NotNil(t, rows)
		assert.Empty(t, rows)
	})

	t.Run("invalid UTF-8", func(t *testing.T) {
		_, err := ParseCSV([]byte("name\n\xff\xfe\n"))
		assert.ErrorIs(t, err, ErrInvalidUTF8)
	})
}

func TestParseJSON(t *testing.T) {
	t.Run("array of objects keeps key order", func(t *testing.T) {
		rows, err := ParseJSON([]byte(`[{"vendor":"AWS","amount":100.5,"date":"2024-01-01"},{"cost":"$12"}]`))
		require.NoError(t, err)
		require.Len(t, rows, 2)

		assert.Equal(t, []string{"vendor", "amount", "date"}, rows[0].Keys())
		v, _ := rows[0].Get("amount")
		assert.Equal(t, json.Number("100.5"), v)
		v, _ = rows[1].Get("cost")
		assert.Equal(t, "$12", v)
	})

	t.Run("single object is wrapped", func(t *testing.T) {
		rows, err := ParseJSON([]byte(`{"amount": 3, "team": "core"}`))
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, []string{"amount", "team"}, rows[0].Keys())
	})

	t.Run("value types", func(t *testing.T) {
		rows, err := ParseJSON([]byte(`{"s":"x","n":-1.5e2,"t":true,"f":false,"z":null,"o":{"a":1},"a":[1,2]}`))
		require.NoError(t, err)
		require.Len(t, rows, 1)
		got := rowValues(t, rows[0])
		assert.Equal(t, "x", got["s"])
		assert.Equal(t, json.Number("-1.5e2"), got["n"])
		assert.Equal(t, true, got["t"])
		assert.Equal(t, false, got["f"])
		assert.Nil(t, got["z"])
		assert.JSONEq(t, `{"a":1}`, string(got["o"].(json.RawMessage)))
		assert.JSONEq(t, `[1,2]`, string(got["a"].(json.RawMessage)))
	})

	t.Run("scalar and null elements", func(t *testing.T) {
		rows, err := ParseJSON([]byte(`[42, "text", null]`))
		require.NoError(t, err)
		require.Len(t, rows, 3)

		v, ok := rows[0].Get(ScalarKey)
		require.True(t, ok)
		assert.Equal(t, json.Number("42"), v)
		v, _ = rows[1].Get(ScalarKey)
		assert.Equal(t, "text", v)
		assert.Equal(t, 0, rows[2].Len())
	})

	t.Run("empty array", func(t *testing.T) {
		rows, err := ParseJSON([]byte(`[]`))
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		for _, input := range []string{``, `{`, `[{"a":1},]`, `not json`} {
			_, err := ParseJSON([]byte(input))
			assert.ErrorIs(t, err, ErrInvalidJSON, input)
		}
	})

	t.Run("invalid UTF-8", func(t *testing.T) {
		_, err := ParseJSON([]byte("[\"\xc3\x28\"]"))
		assert.ErrorIs(t, err, ErrInvalidUTF8)
	})
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		mime string
		name string
		want Format
	}{
		{"application/json", "data.txt", FormatJSON},
		{"text/csv", "data.json", FormatCSV},
		{"text/plain", "costs.CSV", FormatCSV},
		{"text/plain", "export.json", FormatJSON},
		{"text/plain", "notes.txt", FormatCSV},
		{"application/json", "costs.csv", FormatJSON},
	}

	for _, tt := range tests {
		t.Run(tt.mime+" "+tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectFormat(tt.mime, tt.name))
		})
	}
}

func TestParse_Dispatch(t *testing.T) {
	rows, err := Parse([]byte(`[{"a":1}]`), FormatJSON)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	rows, err = Parse([]byte("a\n1\n2\n"), FormatCSV)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}
