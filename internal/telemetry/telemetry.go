package telemetry

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// Provider is an in-process meter provider whose readings are collected on
// demand through a manual reader.
type Provider struct {
	reader   *sdkmetric.ManualReader
	provider *sdkmetric.MeterProvider
}

func NewProvider() *Provider {
	reader := sdkmetric.NewManualReader()
	return &Provider{
		reader:   reader,
		provider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	}
}

func (p *Provider) MeterProvider() metric.MeterProvider {
	return p.provider
}

func (p *Provider) Shutdown(ctx context.Context) error {
	if err := p.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown meter provider: %w", err)
	}
	return nil
}

// Point is one flattened data point. Histograms report their sum as Value.
type Point struct {
	Name       string            `json:"name"`
	Unit       string            `json:"unit,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Value      float64           `json:"value"`
	Count      uint64            `json:"count,omitempty"`
}

// Snapshot collects the cumulative value of every instrument.
func (p *Provider) Snapshot(ctx context.Context) ([]Point, error) {
	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("collect metrics: %w", err)
	}
	return Flatten(rm), nil
}

// Flatten turns collected metrics into points sorted by name.
func Flatten(rm metricdata.ResourceMetrics) []Point {
	points := make([]Point, 0)
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					points = append(points, point(m, dp.Attributes, float64(dp.Value), 0))
				}
			case metricdata.Sum[float64]:
				for _, dp := range data.DataPoints {
					points = append(points, point(m, dp.Attributes, dp.Value, 0))
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					points = append(points, point(m, dp.Attributes, float64(dp.Value), 0))
				}
			case metricdata.Gauge[float64]:
				for _, dp := range data.DataPoints {
					points = append(points, point(m, dp.Attributes, dp.Value, 0))
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					points = append(points, point(m, dp.Attributes, dp.Sum, dp.Count))
				}
			case metricdata.Histogram[int64]:
				for _, dp := range data.DataPoints {
					points = append(points, point(m, dp.Attributes, float64(dp.Sum), dp.Count))
				}
			}
		}
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].Name < points[j].Name })
	return points
}

// Find returns the first point with name whose attributes include attrs.
func Find(points []Point, name string, attrs map[string]string) (Point, bool) {
	for _, p := range points {
		if p.Name != name {
			continue
		}
		matched := true
		for k, v := range attrs {
			if p.Attributes[k] != v {
				matched = false
				break
			}
		}
		if matched {
			return p, true
		}
	}
	return Point{}, false
}

func point(m metricdata.Metrics, set attribute.Set, value float64, count uint64) Point {
	return Point{
		Name:       m.Name,
		Unit:       m.Unit,
		Attributes: attributes(set),
		Value:      value,
		Count:      count,
	}
}

func attributes(set attribute.Set) map[string]string {
	if set.Len() == 0 {
		return nil
	}
	out := make(map[string]string, set.Len())
	iter := set.Iter()
	for iter.Next() {
		kv := iter.Attribute()
		out[string(kv.Key)] = kv.Value.Emit()
	}
	return out
}
