// Package core compiles declarative aggregations over the fields of a
// document collection into aggregation pipelines, runs them through an
// executor and parses the raw results into Go values.
//
// A typical use:
//
//	aj, err := core.NewAggJin(conf, mongodriver.NewExecutor(db))
//	res, err := aj.Aggregate(ctx, coll,
//		core.Count{Field: "ground_truth.detections"},
//		core.CountValues{Field: "ground_truth.detections.label"})
package core

import (
	"context"
	"fmt"

	"github.com/dosco/aggjin/core/internal/stage"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Executor runs a pipeline against a collection and returns every result
// document
type Executor interface {
	Aggregate(ctx context.Context, collection string, pipeline bson.A) ([]bson.M, error)
}

// AggJin compiles and runs aggregations. It is safe for concurrent use.
type AggJin struct {
	conf  *Config
	exec  Executor
	log   *zap.Logger
	cache Cache
}

type Option func(*AggJin) error

// OptionSetLogger sets the logger used by the engine
func OptionSetLogger(log *zap.Logger) Option {
	return func(aj *AggJin) error {
		if log == nil {
			return fmt.Errorf("aggjin: logger is nil")
		}
		aj.log = log
		return nil
	}
}

// OptionSetCacheSize sets the number of compiled pipelines kept in memory
func OptionSetCacheSize(n int) Option {
	return func(aj *AggJin) error {
		if n < 0 {
			return newConfigurationError("", "", "cache size must not be negative")
		}
		aj.conf.CacheSize = n
		return nil
	}
}

// NewAggJin creates an engine. A nil executor is allowed for compile-only
// use, in which case Aggregate returns an error.
func NewAggJin(conf *Config, exec Executor, options ...Option) (*AggJin, error) {
	c := Config{}
	if conf != nil {
		c = *conf
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	aj := &AggJin{
		conf: &c,
		exec: exec,
		log:  zap.NewNop(),
	}

	for _, op := range options {
		if err := op(aj); err != nil {
			return nil, err
		}
	}

	if !c.DisableCache {
		if err := aj.initCache(); err != nil {
			return nil, err
		}
	}
	return aj, nil
}

// Compile compiles agg against coll without running it
func (aj *AggJin) Compile(ctx context.Context, coll *Collection, agg Aggregation) (*Compiled, error) {
	if coll == nil {
		return nil, newConfigurationError("", "", "collection is required")
	}
	agg, err := concrete(agg)
	if err != nil {
		return nil, err
	}

	var key uint64
	useCache := !aj.conf.DisableCache
	if useCache {
		k, err := cacheKey(coll, agg)
		if err != nil {
			aj.log.Debug("aggregation is not cacheable", zap.String("kind", agg.Kind()), zap.Error(err))
			useCache = false
		} else if cp, ok := aj.cache.Get(k); ok {
			return cp, nil
		}
		key = k
	}

	c := &compiler{ctx: ctx, coll: coll, log: aj.log}
	if aj.exec != nil {
		c.bounds = aj.runBounds
	}

	cp, err := c.compile(agg, "")
	if err != nil {
		return nil, err
	}

	if aj.conf.LogPipelines {
		aj.log.Debug("compiled aggregation",
			zap.String("collection", coll.Name),
			zap.String("kind", cp.Kind),
			zap.String("field", cp.Field),
			zap.Stringer("pipeline", cp))
	}

	if useCache && cp.cacheable {
		aj.cache.Set(key, cp)
	}
	return cp, nil
}

// AggregateOne runs a single aggregation and returns its result
func (aj *AggJin) AggregateOne(ctx context.Context, coll *Collection, agg Aggregation) (any, error) {
	res, err := aj.Aggregate(ctx, coll, agg)
	if err != nil {
		return nil, err
	}
	return res[0], nil
}

// Aggregate runs the aggregations and returns their results in order.
//
// Aggregations are batched into a single $facet pipeline. Big results and
// faceted aggregations run as separate pipelines. Pipelines run in parallel,
// at most Config.MaxParallel at a time.
func (aj *AggJin) Aggregate(ctx context.Context, coll *Collection, aggs ...Aggregation) ([]any, error) {
	compiled := make([]*Compiled, len(aggs))
	for i, agg := range aggs {
		cp, err := aj.Compile(ctx, coll, agg)
		if err != nil {
			return nil, err
		}
		compiled[i] = cp
	}

	if len(aggs) == 0 {
		return []any{}, nil
	}
	if aj.exec == nil {
		return nil, newConfigurationError("", "", "no executor configured")
	}

	results := make([]any, len(aggs))

	g, gctx := errgroup.WithContext(ctx)
	if aj.conf.MaxParallel > 0 {
		g.SetLimit(aj.conf.MaxParallel)
	}

	var batch []int
	for i, cp := range compiled {
		if !cp.BigResult && !cp.hasFacet {
			batch = append(batch, i)
			continue
		}
		i, cp := i, cp
		g.Go(func() error {
			res, err := aj.runOne(gctx, coll, cp)
			results[i] = res
			return err
		})
	}

	switch len(batch) {
	case 0:
	case 1:
		i := batch[0]
		g.Go(func() error {
			res, err := aj.runOne(gctx, coll, compiled[i])
			results[i] = res
			return err
		})
	default:
		g.Go(func() error {
			return aj.runBatch(gctx, coll, compiled, batch, results)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (aj *AggJin) runOne(ctx context.Context, coll *Collection, cp *Compiled) (any, error) {
	docs, err := aj.execute(ctx, coll, cp.Kind, cp.Pipeline())
	if err != nil {
		return nil, err
	}
	return cp.Parse(docs)
}

// runBatch runs the aggregations listed in batch as the branches of a
// single $facet and stores the parsed results
func (aj *AggJin) runBatch(ctx context.Context, coll *Collection, compiled []*Compiled, batch []int, results []any) error {
	var pipe stage.Pipeline
	needsFrames := false

	branches := make([]stage.Branch, len(batch))
	for n, i := range batch {
		cp := compiled[i]
		branches[n] = stage.Branch{Key: batchKey(i), Stages: cp.stages}
		needsFrames = needsFrames || cp.NeedsFrames
	}

	if needsFrames {
		pipe = pipe.Append(framesLookup(coll))
	}
	pipe = pipe.Append(stage.Facet{Branches: branches})

	docs, err := aj.execute(ctx, coll, "FacetBatch", pipe.Render())
	if err != nil {
		return err
	}

	var doc bson.M
	if len(docs) != 0 {
		doc = docs[0]
	}
	for _, i := range batch {
		raw, _ := docField(doc, batchKey(i))
		res, err := compiled[i].Parse(asDocs(raw))
		if err != nil {
			return err
		}
		results[i] = res
	}
	return nil
}

func batchKey(i int) string {
	return fmt.Sprintf("agg%d", i)
}

func (aj *AggJin) execute(ctx context.Context, coll *Collection, kind string, pipeline bson.A) ([]bson.M, error) {
	docs, err := aj.exec.Aggregate(ctx, coll.Name, pipeline)
	if err != nil {
		aj.log.Error("aggregation failed",
			zap.String("collection", coll.Name),
			zap.String("kind", kind),
			zap.Error(err))
		return nil, &EngineExecutionError{Kind: kind, Collection: coll.Name, Err: err}
	}
	return docs, nil
}

// runBounds computes the bounds of a field, used to derive histogram edges
func (aj *AggJin) runBounds(ctx context.Context, coll *Collection, b Bounds) (BoundsResult, error) {
	res, err := aj.AggregateOne(ctx, coll, b)
	if err != nil {
		return BoundsResult{}, err
	}
	br, _ := res.(BoundsResult)
	return br, nil
}
