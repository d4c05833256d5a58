package local

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/i-melnichenko/kvelldb/internal/model"
)

func (n *Node) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	ctx, span := n.tracer.Start(ctx, name)
	span.SetAttributes(attribute.String("log.node_id", n.id))
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func spanRecordError(span oteltrace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
}

func batchAttrs(b model.RecordBatch) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("log.batch.type", b.Type().String()),
		attribute.Int("log.batch.records", int(b.Header.RecordCount)),
		attribute.Int("log.batch.bytes", int(b.Header.SizeBytes)),
	}
}

func (n *Node) tracePersistAppendLocked(ctx context.Context, b model.RecordBatch) error {
	_, span := n.startSpan(ctx, "local.storage.Append", attribute.Int64("log.base_offset", int64(b.BaseOffset())))
	defer span.End()
	err := n.storage.Append(b)
	spanRecordError(span, err)
	return err
}
