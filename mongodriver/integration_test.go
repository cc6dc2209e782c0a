package mongodriver_test

import (
	"context"
	"errors"
	"math"
	"sort"
	"testing"
	"time"

	"github.com/dosco/aggjin/core"
	"github.com/dosco/aggjin/mongodriver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// startMongo runs a MongoDB container for the test and returns a fresh
// database. The test is skipped when Docker is not available.
func startMongo(t *testing.T) (*mongo.Database, *core.AggJin) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping MongoDB integration test in short mode")
	}

	ctx := context.Background()
	container, err := mongodb.Run(ctx, "mongo:7")
	if err != nil {
		t.Skipf("skipping MongoDB integration test: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) }) //nolint:errcheck

	connStr, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	client, db, err := mongodriver.Connect(ctx, mongodriver.ConnConfig{
		URI:            connStr,
		Database:       "aggjin_test",
		ConnectTimeout: 30 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { client.Disconnect(ctx) }) //nolint:errcheck

	aj, err := core.NewAggJin(&core.Config{MaxParallel: 4}, mongodriver.NewExecutor(db))
	require.NoError(t, err)
	return db, aj
}

func insert(t *testing.T, db *mongo.Database, coll string, docs ...any) {
	t.Helper()
	_, err := db.Collection(coll).InsertMany(context.Background(), docs)
	require.NoError(t, err)
}

func numericCollection(name string) *core.Collection {
	return &core.Collection{
		Name:      name,
		MediaType: core.MediaImage,
		Fields: []*core.Field{
			{Name: "id", DBField: "_id", Kind: core.KindObjectID},
			{Name: "numeric_field", Kind: core.KindFloat},
			{Name: "tags", Kind: core.KindList, Elem: &core.Field{Kind: core.KindString}},
		},
	}
}

func detection(label any) bson.D {
	return bson.D{
		{Key: "_id", Value: bson.NewObjectID()},
		{Key: "_cls", Value: "Detection"},
		{Key: "label", Value: label},
	}
}

func detections(labels ...any) bson.D {
	list := bson.A{}
	for _, l := range labels {
		list = append(list, detection(l))
	}
	return bson.D{{Key: "_cls", Value: "Detections"}, {Key: "detections", Value: list}}
}

func TestMongoAggregations(t *testing.T) {
	db, aj := startMongo(t)
	ctx := context.Background()

	insert(t, db, "scenario_a",
		bson.M{"numeric_field": 1.0},
		bson.M{"numeric_field": 4.0},
		bson.M{"numeric_field": nil},
	)
	insert(t, db, "scenario_b",
		bson.M{"tags": bson.A{"sunny"}},
		bson.M{"tags": bson.A{"sunny", "cloudy"}},
		bson.M{},
	)
	insert(t, db, "scenario_c",
		bson.M{"filepath": "/a.jpg", "predictions": detections("cat", "dog")},
		bson.M{"filepath": "/b.jpg", "predictions": detections("cat", nil, "dog")},
	)

	video := bson.NewObjectID()
	insert(t, db, "videos", bson.M{"_id": video, "filepath": "/v.mp4"})
	insert(t, db, "frames.videos",
		bson.M{"_sample_id": video, "frame_number": 1, "detections": detections("a", "b")},
		bson.M{"_sample_id": video, "frame_number": 2, "detections": detections()},
		bson.M{"_sample_id": video, "frame_number": 3, "detections": detections("a", "b", "c")},
	)

	var uniform []any
	for i := 0; i < 100; i++ {
		uniform = append(uniform, bson.M{"numeric_field": float64(i)})
	}
	insert(t, db, "scenario_e", uniform...)

	insert(t, db, "nonfinite",
		bson.M{"numeric_field": 1.0},
		bson.M{"numeric_field": math.NaN()},
		bson.M{"numeric_field": math.Inf(1)},
		bson.M{"numeric_field": nil},
	)

	t.Run("scalar field", func(t *testing.T) {
		coll := numericCollection("scenario_a")
		res, err := aj.Aggregate(ctx, coll,
			core.Bounds{Field: "numeric_field"},
			core.Count{Field: "numeric_field"},
			core.Mean{Field: "numeric_field"},
		)
		require.NoError(t, err)
		assert.Equal(t, core.BoundsResult{Min: 1.0, Max: 4.0}, res[0])
		assert.Equal(t, int64(2), res[1])
		assert.Equal(t, 2.5, res[2])
	})

	t.Run("list field", func(t *testing.T) {
		coll := numericCollection("scenario_b")
		res, err := aj.Aggregate(ctx, coll,
			core.Distinct{Field: "tags"},
			core.CountValues{Field: "tags"},
		)
		require.NoError(t, err)
		assert.Equal(t, []any{"cloudy", "sunny"}, res[0])
		assert.Equal(t, map[any]int64{"sunny": 2, "cloudy": 1}, res[1])
	})

	t.Run("embedded list", func(t *testing.T) {
		coll, err := mongodriver.InferCollection(ctx, db, "scenario_c", mongodriver.IntrospectOptions{})
		require.NoError(t, err)
		assert.Equal(t, core.MediaImage, coll.MediaType)

		res, err := aj.Aggregate(ctx, coll,
			core.Count{Field: "predictions.detections"},
			core.Values{Field: "predictions.detections.label"},
			core.Values{Field: "predictions.detections[].label"},
		)
		require.NoError(t, err)
		assert.Equal(t, int64(5), res[0])
		assert.Equal(t, []any{
			[]any{"cat", "dog"},
			[]any{"cat", nil, "dog"},
		}, res[1])
		assert.Equal(t, []any{"cat", "dog", "cat", nil, "dog"}, res[2])
	})

	t.Run("frames", func(t *testing.T) {
		coll, err := mongodriver.InferCollection(ctx, db, "videos", mongodriver.IntrospectOptions{})
		require.NoError(t, err)
		require.Equal(t, core.MediaVideo, coll.MediaType)

		res, err := aj.Aggregate(ctx, coll,
			core.Count{Field: "frames"},
			core.Count{Field: "frames.detections.detections"},
		)
		require.NoError(t, err)
		assert.Equal(t, []any{int64(3), int64(5)}, res)

		facet, err := aj.AggregateOne(ctx, coll, core.FacetAggregations{
			Field:        "frames",
			Aggregations: []core.Aggregation{core.Count{}, core.Count{Field: "detections.detections"}},
		})
		require.NoError(t, err)
		assert.Equal(t, []any{int64(3), int64(5)}, facet)
	})

	t.Run("histogram", func(t *testing.T) {
		coll := numericCollection("scenario_e")
		res, err := aj.AggregateOne(ctx, coll, core.HistogramValues{Field: "numeric_field", Bins: 10})
		require.NoError(t, err)

		h := res.(core.HistogramResult)
		require.Len(t, h.Counts, 10)
		var sum int64
		for _, c := range h.Counts {
			sum += c
		}
		assert.Equal(t, int64(100), sum)
		assert.Equal(t, int64(0), h.Other)
	})

	// Count equals the number of non-null values
	t.Run("count matches values", func(t *testing.T) {
		coll := numericCollection("scenario_b")
		res, err := aj.Aggregate(ctx, coll, core.Count{Field: "tags"}, core.Values{Field: "tags"})
		require.NoError(t, err)

		var n int64
		for _, v := range res[1].([]any) {
			if l, ok := v.([]any); ok {
				n += int64(len(l))
			}
		}
		assert.Equal(t, res[0], n)

		coll = numericCollection("scenario_a")
		res, err = aj.Aggregate(ctx, coll, core.Count{Field: "numeric_field"}, core.Values{Field: "numeric_field"})
		require.NoError(t, err)

		n = 0
		for _, v := range res[1].([]any) {
			if v != nil {
				n++
			}
		}
		assert.Equal(t, res[0], n)
	})

	t.Run("bounds match min and max", func(t *testing.T) {
		for _, name := range []string{"scenario_a", "scenario_e", "empty"} {
			res, err := aj.Aggregate(ctx, numericCollection(name),
				core.Bounds{Field: "numeric_field"},
				core.Min{Field: "numeric_field"},
				core.Max{Field: "numeric_field"},
			)
			require.NoError(t, err)

			b := res[0].(core.BoundsResult)
			assert.Equal(t, res[1], b.Min, name)
			assert.Equal(t, res[2], b.Max, name)
		}
	})

	t.Run("distinct is sorted and unique", func(t *testing.T) {
		coll, err := mongodriver.InferCollection(ctx, db, "scenario_c", mongodriver.IntrospectOptions{})
		require.NoError(t, err)

		res, err := aj.AggregateOne(ctx, coll, core.Distinct{Field: "predictions.detections.label"})
		require.NoError(t, err)

		var labels []string
		for _, v := range res.([]any) {
			labels = append(labels, v.(string))
		}
		assert.True(t, sort.StringsAreSorted(labels))
		assert.Equal(t, []string{"cat", "dog"}, labels)
	})

	t.Run("quantiles are monotonic", func(t *testing.T) {
		res, err := aj.AggregateOne(ctx, numericCollection("scenario_e"),
			core.Quantiles{Field: "numeric_field", Quantiles: []float64{0, 0.1, 0.5, 0.5, 0.9, 1}})
		require.NoError(t, err)

		qs := res.([]any)
		require.Len(t, qs, 6)
		for i := 1; i < len(qs); i++ {
			assert.LessOrEqual(t, qs[i-1].(float64), qs[i].(float64))
		}
		assert.Equal(t, 0.0, qs[0])
		assert.Equal(t, 99.0, qs[5])
	})

	t.Run("histogram conserves counts", func(t *testing.T) {
		coll := numericCollection("scenario_e")
		res, err := aj.Aggregate(ctx, coll,
			core.HistogramValues{Field: "numeric_field", Edges: []any{10, 25, 50}},
			core.Count{Field: "numeric_field"},
		)
		require.NoError(t, err)

		h := res[0].(core.HistogramResult)
		assert.Equal(t, []int64{15, 25}, h.Counts)
		assert.Equal(t, res[1], h.Counts[0]+h.Counts[1]+h.Other)
	})

	t.Run("safe mode", func(t *testing.T) {
		coll := numericCollection("nonfinite")
		res, err := aj.Aggregate(ctx, coll,
			core.Bounds{Field: "numeric_field", Safe: true},
			core.Count{Field: "numeric_field", Safe: true},
			core.Bounds{Field: "numeric_field"},
			core.Bounds{Field: "numeric_field", CountNonfinites: true},
		)
		require.NoError(t, err)

		assert.Equal(t, core.BoundsResult{Min: 1.0, Max: 1.0}, res[0])
		assert.Equal(t, int64(1), res[1])

		unsafe := res[2].(core.BoundsResult)
		assert.True(t, math.IsNaN(unsafe.Min.(float64)))
		assert.True(t, math.IsInf(unsafe.Max.(float64), 1))

		assert.Equal(t, core.BoundsResult{Min: 1.0, Max: 1.0, Inf: 1, NaN: 1}, res[3])
	})

	t.Run("big result", func(t *testing.T) {
		res, err := aj.AggregateOne(ctx, numericCollection("scenario_e"),
			core.Values{Field: "numeric_field", BigResult: true})
		require.NoError(t, err)
		assert.Len(t, res, 100)
	})

	t.Run("execution error", func(t *testing.T) {
		coll := numericCollection("")
		_, err := aj.AggregateOne(ctx, coll, core.Count{Field: "tags"})

		var ee *core.EngineExecutionError
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, "Count", ee.Kind)
		assert.Contains(t, errors.Unwrap(err).Error(), "mongodriver: aggregate requires collection")
	})
}
