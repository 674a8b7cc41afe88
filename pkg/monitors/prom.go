package monitors

import (
	"context"
	"fmt"
	"net/http"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/praetor-io/watchtower/pkg/types"
)

// ScrapeMetrics fetches and parses a prometheus text exposition.
func ScrapeMetrics(ctx context.Context, client *http.Client, url string) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &ProbeError{Code: types.CodeInvalidURL, Message: fmt.Sprintf("invalid url %s: %v", url, err)}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &ProbeError{Code: types.CodeEntityDown, Message: fmt.Sprintf("cannot reach %s: %v", url, err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &ProbeError{Code: types.CodeDataReading, Message: fmt.Sprintf("%s answered %d", url, resp.StatusCode)}
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return nil, &ProbeError{Code: types.CodeDataReading, Message: fmt.Sprintf("parsing exposition from %s: %v", url, err)}
	}
	return families, nil
}

func metricValue(m *dto.Metric) float64 {
	switch {
	case m.GetGauge() != nil:
		return m.GetGauge().GetValue()
	case m.GetCounter() != nil:
		return m.GetCounter().GetValue()
	case m.GetUntyped() != nil:
		return m.GetUntyped().GetValue()
	}
	return 0
}

// firstValue returns the value of the family's first sample.
func firstValue(families map[string]*dto.MetricFamily, name string) (float64, bool) {
	fam, ok := families[name]
	if !ok || len(fam.GetMetric()) == 0 {
		return 0, false
	}
	return metricValue(fam.GetMetric()[0]), true
}

// labelValue returns the value of a named label on a metric, or "".
func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

// sumWhere sums every sample of the family the predicate admits.
func sumWhere(families map[string]*dto.MetricFamily, name string, keep func(*dto.Metric) bool) (float64, bool) {
	fam, ok := families[name]
	if !ok {
		return 0, false
	}
	total, any := 0.0, false
	for _, m := range fam.GetMetric() {
		if keep == nil || keep(m) {
			total += metricValue(m)
			any = true
		}
	}
	return total, any
}
