package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewAggJin(t *testing.T) {
	aj, err := NewAggJin(nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, aj.cache.cache)

	_, err = NewAggJin(&Config{Backend: "postgres"}, nil)
	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, err.Error(), `unsupported aggregation backend "postgres"`)

	_, err = NewAggJin(nil, nil, OptionSetCacheSize(-1))
	assert.Error(t, err)

	_, err = NewAggJin(nil, nil, OptionSetLogger(nil))
	assert.Error(t, err)

	aj, err = NewAggJin(&Config{DisableCache: true}, nil)
	require.NoError(t, err)
	assert.Nil(t, aj.cache.cache)
}

func TestCompileCache(t *testing.T) {
	ctx := context.Background()
	coll := imageCollection()

	aj, err := NewAggJin(nil, nil)
	require.NoError(t, err)

	a, err := aj.Compile(ctx, coll, Count{Field: "tags"})
	require.NoError(t, err)
	b, err := aj.Compile(ctx, coll, WithUUID(Count{Field: "tags"}))
	require.NoError(t, err)
	assert.Same(t, a, b, "copies with a new uuid share the compiled pipeline")

	c, err := aj.Compile(ctx, coll, Distinct{Field: "tags"})
	require.NoError(t, err)
	assert.NotSame(t, a, c)

	other := imageCollection()
	other.Name = "samples.other"
	d, err := aj.Compile(ctx, other, Count{Field: "tags"})
	require.NoError(t, err)
	assert.NotSame(t, a, d, "the collection schema is part of the key")

	aj, err = NewAggJin(&Config{DisableCache: true}, nil)
	require.NoError(t, err)
	a, err = aj.Compile(ctx, coll, Count{Field: "tags"})
	require.NoError(t, err)
	b, err = aj.Compile(ctx, coll, Count{Field: "tags"})
	require.NoError(t, err)
	assert.NotSame(t, a, b)
}

func TestCompileErrors(t *testing.T) {
	aj, err := NewAggJin(nil, nil)
	require.NoError(t, err)

	_, err = aj.Compile(context.Background(), nil, Count{})
	assert.Error(t, err)
	_, err = aj.Compile(context.Background(), imageCollection(), nil)
	assert.Error(t, err)

	_, err = aj.Aggregate(context.Background(), imageCollection(), Count{})
	var ce *ConfigurationError
	assert.ErrorAs(t, err, &ce, "aggregating needs an executor")
}

func TestAggregateSingle(t *testing.T) {
	exec := &fakeExecutor{fn: func(pipeline bson.A) ([]bson.M, error) {
		return []bson.M{{"count": int32(7)}}, nil
	}}
	aj, err := NewAggJin(nil, exec)
	require.NoError(t, err)

	res, err := aj.AggregateOne(context.Background(), imageCollection(), Count{})
	require.NoError(t, err)
	assert.Equal(t, int64(7), res)

	require.Len(t, exec.calls, 1)
	_, facet := stageOf(exec.calls[0], "$facet")
	assert.False(t, facet, "a single aggregation runs without a facet")
}

func TestAggregateBatch(t *testing.T) {
	exec := &fakeExecutor{fn: func(pipeline bson.A) ([]bson.M, error) {
		return []bson.M{{
			"agg0": bson.A{bson.M{"count": int32(3)}},
			"agg1": bson.A{bson.M{"values": bson.A{"cloudy", "sunny"}}},
		}}, nil
	}}
	aj, err := NewAggJin(nil, exec)
	require.NoError(t, err)

	res, err := aj.Aggregate(context.Background(), imageCollection(),
		Count{}, Distinct{Field: "tags"})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(3), []any{"cloudy", "sunny"}}, res)

	require.Len(t, exec.calls, 1)
	require.Len(t, exec.calls[0], 1)
	facet, ok := stageOf(exec.calls[0], "$facet")
	require.True(t, ok)
	d := facet.(bson.D)
	assert.Equal(t, "agg0", d[0].Key)
	assert.Equal(t, "agg1", d[1].Key)
}

func TestAggregateBatchFrames(t *testing.T) {
	exec := &fakeExecutor{fn: func(pipeline bson.A) ([]bson.M, error) {
		return []bson.M{{}}, nil
	}}
	aj, err := NewAggJin(nil, exec)
	require.NoError(t, err)

	res, err := aj.Aggregate(context.Background(), videoCollection(),
		Count{}, Count{Field: "frames"})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(0), int64(0)}, res, "empty branches yield defaults")

	require.Len(t, exec.calls, 1)
	names := make([]string, len(exec.calls[0]))
	for i, s := range exec.calls[0] {
		names[i] = s.(bson.D)[0].Key
	}
	assert.Equal(t, []string{"$lookup", "$facet"}, names)
}

func TestAggregateSeparatePipelines(t *testing.T) {
	exec := &fakeExecutor{fn: func(pipeline bson.A) ([]bson.M, error) {
		if _, ok := stageOf(pipeline, "$project"); ok {
			return []bson.M{{"values": "/a.jpg"}, {"values": "/b.jpg"}}, nil
		}
		return []bson.M{{
			"tags-CountValues-0": bson.A{bson.M{"result": bson.A{bson.M{"k": "sunny", "count": int32(2)}}}},
		}}, nil
	}}
	aj, err := NewAggJin(&Config{MaxParallel: 1}, exec)
	require.NoError(t, err)

	res, err := aj.Aggregate(context.Background(), imageCollection(),
		Values{Field: "filepath", BigResult: true},
		FacetAggregations{Field: "tags", Aggregations: []Aggregation{CountValues{}}})
	require.NoError(t, err)
	assert.Equal(t, []any{
		[]any{"/a.jpg", "/b.jpg"},
		[]any{map[any]int64{"sunny": 2}},
	}, res)
	assert.Len(t, exec.calls, 2)
}

func TestAggregateExecutionError(t *testing.T) {
	boom := errors.New("connection reset")
	core, logs := observer.New(zap.ErrorLevel)

	exec := &fakeExecutor{fn: func(pipeline bson.A) ([]bson.M, error) {
		return nil, boom
	}}
	aj, err := NewAggJin(nil, exec, OptionSetLogger(zap.New(core)))
	require.NoError(t, err)

	_, err = aj.Aggregate(context.Background(), imageCollection(), Count{Field: "tags"})
	var ee *EngineExecutionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "Count", ee.Kind)
	assert.Equal(t, "samples.images", ee.Collection)
	assert.Same(t, boom, errors.Unwrap(err))
	assert.Equal(t, 1, logs.Len())
}

func TestAggregateHistogramBounds(t *testing.T) {
	exec := &fakeExecutor{fn: func(pipeline bson.A) ([]bson.M, error) {
		if _, ok := stageOf(pipeline, "$bucket"); ok {
			return []bson.M{{"bins": bson.A{bson.M{"bin": 0.0, "count": int32(4)}}}}, nil
		}
		return []bson.M{{"min": 0.0, "max": 1.0}}, nil
	}}
	aj, err := NewAggJin(nil, exec)
	require.NoError(t, err)

	res, err := aj.AggregateOne(context.Background(), imageCollection(),
		HistogramValues{Field: "uniqueness", Bins: 2})
	require.NoError(t, err)

	h := res.(HistogramResult)
	assert.Equal(t, []int64{4, 0}, h.Counts)
	assert.Len(t, h.Edges, 3)
	assert.Len(t, exec.calls, 2, "the bounds are queried first")

	_, err = aj.AggregateOne(context.Background(), imageCollection(),
		HistogramValues{Field: "uniqueness", Bins: 2})
	require.NoError(t, err)
	assert.Len(t, exec.calls, 4, "histograms with derived edges are not cached")
}

func TestCompileLogsPipelines(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	aj, err := NewAggJin(&Config{LogPipelines: true}, nil, OptionSetLogger(zap.New(core)))
	require.NoError(t, err)

	_, err = aj.Compile(context.Background(), imageCollection(), Count{Field: "tags"})
	require.NoError(t, err)

	entries := logs.FilterMessage("compiled aggregation").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "Count", entries[0].ContextMap()["kind"])
}

func TestCompilePointers(t *testing.T) {
	ctx := context.Background()
	coll := imageCollection()

	aj, err := NewAggJin(nil, nil)
	require.NoError(t, err)

	a, err := aj.Compile(ctx, coll, &Count{Field: "tags"})
	require.NoError(t, err)
	assert.Equal(t, "Count", a.Kind)

	b, err := aj.Compile(ctx, coll, Count{Field: "tags"})
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = aj.Compile(ctx, coll, (*Count)(nil))
	var ce *ConfigurationError
	assert.ErrorAs(t, err, &ce)

	assert.Equal(t, Serialize(Count{Field: "tags"}), Serialize(&Count{Field: "tags"}))
	assert.True(t, Equal(&Count{Field: "tags"}, Count{Field: "tags"}))
	assert.NotEmpty(t, UUIDOf(WithUUID(&Count{Field: "tags"})))
	assert.Empty(t, Serialize((*Count)(nil)).Kind)
	assert.Nil(t, WithUUID((*Count)(nil)))
}
