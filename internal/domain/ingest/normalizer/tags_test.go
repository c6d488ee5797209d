package normalizer

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/FACorreiaa/wellspend/internal/domain/ingest/parser"
)

func TestDeriveTags(t *testing.T) {
	tests := []struct {
		name     string
		row      *parser.Row
		category string
		want     []string
	}{
		{
			name:     "category only",
			row:      rowFrom("amount", "1"),
			category: "billing",
			want:     []string{"billing"},
		},
		{
			name: "fixed field order regardless of column order",
			row: rowFrom(
				"type", "Compute",
				"vendor", "AWS",
				"status", "active",
				"team", "platform",
				"department", "Engineering",
				"project", "apollo",
				"service", "EC2",
			),
			category: "cloud",
			want: []string{
				"cloud", "dept:Engineering", "team:platform", "project:apollo",
				"status:active", "service:EC2", "vendor:AWS", "type:Compute",
			},
		},
		{
			name:     "blank and missing fields contribute nothing",
			row:      rowFrom("team", "  ", "project", "", "status", nil),
			category: "hr",
			want:     []string{"hr"},
		},
		{
			name:     "headers are matched case-insensitively and values trimmed",
			row:      rowFrom("Department", "  Sales ", "TEAM", "emea"),
			category: "hr",
			want:     []string{"hr", "dept:Sales", "team:emea"},
		},
		{
			name:     "non-string values are rendered",
			row:      rowFrom("project", json.Number("42"), "status", true, "team", json.RawMessage(`["a"]`)),
			category: "ops",
			want:     []string{"ops", "project:42", "status:true"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveTags(tt.row, tt.category))
		})
	}
}

func TestDeriveTags_CategoryAlwaysFirst(t *testing.T) {
	tags := DeriveTags(rowFrom("vendor", "x"), "software")
	assert.Equal(t, "software", tags[0])
}
