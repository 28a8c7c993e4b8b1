package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/iabetor/voicehub/internal/models"
)

// ModelObserver 将模型加载与卸载记录为指标。
type ModelObserver struct {
	loads    metric.Int64Counter
	duration metric.Float64Histogram
	removals metric.Int64Counter
}

var _ models.Observer = (*ModelObserver)(nil)

// NewModelObserver 使用 meter 创建指标，meter 为 nil 时使用全局 MeterProvider。
func NewModelObserver(meter metric.Meter) *ModelObserver {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}

	loads, _ := meter.Int64Counter("voicehub.model.loads",
		metric.WithDescription("模型加载次数"))
	duration, _ := meter.Float64Histogram("voicehub.model.load.duration",
		metric.WithDescription("模型加载耗时"),
		metric.WithUnit("s"))
	removals, _ := meter.Int64Counter("voicehub.model.removals",
		metric.WithDescription("模型移出驻留表的次数，按原因区分"))

	return &ModelObserver{
		loads:    loads,
		duration: duration,
		removals: removals,
	}
}

func (o *ModelObserver) ModelLoaded(name string, loadTime time.Duration) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("model", name))

	o.loads.Add(ctx, 1, attrs)
	o.duration.Record(ctx, loadTime.Seconds(), attrs)
}

func (o *ModelObserver) ModelRemoved(name string, event models.Event) {
	o.removals.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("model", name),
		attribute.String("reason", string(event)),
	))
}
