// Package observability provides metrics utilities for the batch-job engine.
package observability

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys
const (
	attrOp       = "op"
	attrRendered = "rendered"
)

func opAttr(op string) attribute.KeyValue {
	return attribute.String(attrOp, op)
}

func renderedAttr(rendered bool) attribute.KeyValue {
	return attribute.Bool(attrRendered, rendered)
}
