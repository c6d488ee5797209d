package metrics

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/FACorreiaa/wellspend/internal/domain/ingest/repository"
	"github.com/FACorreiaa/wellspend/pkg/money"
)

var periodPattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

// ErrInvalidPeriod is returned for period filters not shaped like YYYY-MM.
var ErrInvalidPeriod = errors.New("period must be formatted as YYYY-MM")

// View is a metric with its value rendered for display.
type View struct {
	*repository.Metric
	Display string `json:"display"`
}

// Service is the read side of metrics.
type Service struct {
	repo repository.MetricRepository
}

func NewService(repo repository.MetricRepository) *Service {
	return &Service{repo: repo}
}

// List returns metrics matching filter. Currency-denominated values are
// formatted with their currency symbol; other units are shown as plain
// decimals followed by the unit.
func (s *Service) List(ctx context.Context, filter repository.MetricFilter) ([]View, error) {
	if filter.Period != "" && !periodPattern.MatchString(filter.Period) {
		return nil, ErrInvalidPeriod
	}

	metrics, err := s.repo.ListMetrics(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list metrics: %w", err)
	}

	views := make([]View, 0, len(metrics))
	for _, m := range metrics {
		views = append(views, View{Metric: m, Display: display(m)})
	}
	return views, nil
}

func display(m *repository.Metric) string {
	if money.IsCurrency(m.Unit) {
		return money.NewFromDecimal(m.Value, m.Unit).Display()
	}
	if m.Unit == "" {
		return m.Value.String()
	}
	return m.Value.String() + " " + m.Unit
}
