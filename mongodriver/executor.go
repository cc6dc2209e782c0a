// Package mongodriver runs compiled aggregation pipelines on MongoDB and
// infers collection schemas by sampling documents.
package mongodriver

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/dosco/aggjin/mongodriver"

// Executor runs pipelines against the collections of a database
type Executor struct {
	db        *mongo.Database
	tracer    trace.Tracer
	allowDisk bool
}

type ExecutorOption func(*Executor)

// WithTracer sets the tracer used for aggregate spans. The global tracer
// provider is used by default.
func WithTracer(t trace.Tracer) ExecutorOption {
	return func(e *Executor) { e.tracer = t }
}

// WithAllowDiskUse lets large $group and $sort stages spill to disk
func WithAllowDiskUse() ExecutorOption {
	return func(e *Executor) { e.allowDisk = true }
}

func NewExecutor(db *mongo.Database, opts ...ExecutorOption) *Executor {
	e := &Executor{db: db, tracer: otel.Tracer(tracerName)}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Aggregate runs pipeline on collection and returns every result document
func (e *Executor) Aggregate(ctx context.Context, collection string, pipeline bson.A) ([]bson.M, error) {
	if collection == "" {
		return nil, fmt.Errorf("mongodriver: aggregate requires collection")
	}

	ctx, span := e.tracer.Start(ctx, "mongodriver.Aggregate",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "mongodb"),
			attribute.String("db.name", e.db.Name()),
			attribute.String("db.collection", collection),
			attribute.Int("db.pipeline.stages", len(pipeline)),
		))
	defer span.End()

	opts := options.Aggregate()
	if e.allowDisk {
		opts.SetAllowDiskUse(true)
	}

	cursor, err := e.db.Collection(collection).Aggregate(ctx, pipeline, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "aggregate")
		return nil, fmt.Errorf("mongodriver: aggregate: %w", err)
	}
	defer cursor.Close(ctx)

	var results []bson.M
	if err := cursor.All(ctx, &results); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "aggregate results")
		return nil, fmt.Errorf("mongodriver: aggregate results: %w", err)
	}

	span.SetAttributes(attribute.Int("db.result.documents", len(results)))
	return results, nil
}
