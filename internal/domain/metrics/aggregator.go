// Package metrics derives period metrics from persisted records and serves
// them back with display formatting.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/wellspend/internal/domain/ingest/repository"
	"github.com/FACorreiaa/wellspend/pkg/money"
)

// Outcome classifies what an aggregation run did.
type Outcome int

const (
	// Skipped means the total was not positive and nothing was written.
	Skipped Outcome = iota
	Upserted
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Skipped:
		return "skipped"
	case Upserted:
		return "upserted"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result reports the outcome of one aggregation. Err is set only when
// Outcome is Failed.
type Result struct {
	Outcome Outcome
	Total   decimal.Decimal
	Metric  *repository.Metric
	Err     error
}

// Input is one upload's worth of records to aggregate.
type Input struct {
	UploadID uuid.UUID
	Category string
	Source   repository.DataSource
	Records  []repository.DataRecord
}

// Aggregator turns record amounts into a per-category monthly cost metric.
type Aggregator struct {
	repo   repository.MetricRepository
	now    func() time.Time
	logger *slog.Logger
}

// NewAggregator creates an Aggregator that writes through repo.
func NewAggregator(repo repository.MetricRepository, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		repo:   repo,
		now:    time.Now,
		logger: logger,
	}
}

// WithClock overrides the clock used to derive the metric period.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// CostMetricName is the name of the cost metric for a category.
func CostMetricName(category string) string {
	return category + "_costs"
}

// Period formats t as the YYYY-MM period key, in UTC.
func Period(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// Total sums record amounts, counting null amounts as zero.
func Total(records []repository.DataRecord) decimal.Decimal {
	total := decimal.Zero
	for i := range records {
		if records[i].Amount.Valid {
			total = total.Add(records[i].Amount.Decimal)
		}
	}
	return total
}

// Aggregate upserts the cost metric for in. Totals that are zero or negative
// are skipped. Repository errors are reported in the Result, never returned.
func (a *Aggregator) Aggregate(ctx context.Context, in Input) Result {
	total := Total(in.Records)
	if !total.IsPositive() {
		return Result{Outcome: Skipped, Total: total}
	}

	m := &repository.Metric{
		Name:     CostMetricName(in.Category),
		Type:     repository.MetricCost,
		Value:    total,
		Unit:     money.USD,
		Period:   Period(a.now()),
		Category: in.Category,
		Metadata: repository.MetricMetadata{
			RecordCount: len(in.Records),
			Source:      in.Source,
			UploadID:    in.UploadID,
		},
	}

	stored, err := a.repo.UpsertMetric(ctx, m)
	if err != nil {
		a.logger.Warn("metric aggregation failed",
			slog.String("uploadID", in.UploadID.String()),
			slog.String("metric", m.Name),
			slog.String("period", m.Period),
			slog.Any("error", err))
		return Result{Outcome: Failed, Total: total, Metric: m, Err: err}
	}

	a.logger.Debug("metric upserted",
		slog.String("uploadID", in.UploadID.String()),
		slog.String("metric", stored.Name),
		slog.String("period", stored.Period),
		slog.String("value", stored.Value.String()))

	return Result{Outcome: Upserted, Total: total, Metric: stored}
}
