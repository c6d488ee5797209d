package money

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"
)

// CostLine is one synthetic line of a cost export, shaped like the billing
// and HR exports users upload.
type CostLine struct {
	Date        string `csv:"date" json:"date"`
	Amount      string `csv:"amount" json:"amount"`
	Vendor      string `csv:"vendor" json:"vendor"`
	Service     string `csv:"service" json:"service"`
	Department  string `csv:"department" json:"department"`
	Team        string `csv:"team" json:"team"`
	Description string `csv:"description" json:"description"`
}

// CostGenerator produces realistic cost exports using gofakeit.
type CostGenerator struct {
	faker *gofakeit.Faker
	now   time.Time
}

// NewCostGenerator creates a generator with a random seed.
func NewCostGenerator() *CostGenerator {
	return NewCostGeneratorWithSeed(0)
}

// NewCostGeneratorWithSeed creates a generator with a specific seed for
// reproducibility.
func NewCostGeneratorWithSeed(seed int64) *CostGenerator {
	return &CostGenerator{
		faker: gofakeit.New(seed),
		now:   time.Now().UTC(),
	}
}

var (
	vendors     = []string{"AWS", "Azure", "GCP", "Datadog", "GitHub", "Atlassian", "Slack", "Notion"}
	services    = []string{"EC2", "S3", "RDS", "Lambda", "Compute", "Storage", "Seats", "Support"}
	departments = []string{"Engineering", "Sales", "Marketing", "Finance", "Operations"}
	teams       = []string{"platform", "data", "growth", "payments", "infra"}
)

// Line generates a single cost line dated within the last 30 days.
func (g *CostGenerator) Line() CostLine {
	vendor := g.faker.RandomString(vendors)
	service := g.faker.RandomString(services)
	amount := g.Amount(1, 500000)

	return CostLine{
		Date:        g.faker.DateRange(g.now.AddDate(0, 0, -30), g.now).Format("2006-01-02"),
		Amount:      amount.StringFixed(2),
		Vendor:      vendor,
		Service:     service,
		Department:  g.faker.RandomString(departments),
		Team:        g.faker.RandomString(teams),
		Description: fmt.Sprintf("%s %s %s", vendor, service, g.faker.BuzzWord()),
	}
}

// Lines generates count cost lines.
func (g *CostGenerator) Lines(count int) []CostLine {
	lines := make([]CostLine, count)
	for i := range lines {
		lines[i] = g.Line()
	}
	return lines
}

// Amount returns a random positive amount between minCents and maxCents.
func (g *CostGenerator) Amount(minCents, maxCents int64) decimal.Decimal {
	cents := g.faker.Int64()%(maxCents-minCents+1) + minCents
	if cents < minCents {
		cents += maxCents - minCents + 1
	}
	return decimal.New(cents, -2)
}

// CSV renders lines as a header-first CSV export.
func (g *CostGenerator) CSV(lines []CostLine) ([]byte, error) {
	out, err := gocsv.MarshalBytes(&lines)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cost lines: %w", err)
	}
	return out, nil
}

// JSON renders lines as a JSON array of objects.
func (g *CostGenerator) JSON(lines []CostLine) ([]byte, error) {
	out, err := json.MarshalIndent(lines, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cost lines: %w", err)
	}
	return out, nil
}
