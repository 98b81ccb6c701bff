package otelhelper

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SetError marks span failed with err and tags it with the engine error code.
func SetError(span trace.Span, err error, code string, attrs ...attribute.KeyValue) {
	span.RecordError(err, trace.WithAttributes(attrs...))
	span.SetStatus(codes.Error, err.Error())

	if code != "" {
		span.SetAttributes(attribute.String(ErrorCodeKey, code))
	}
}
