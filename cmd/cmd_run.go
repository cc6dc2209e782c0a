package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/dosco/aggjin/core"
	"github.com/dosco/aggjin/mongodriver"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run REQUEST",
		Short: "Run an aggregation request against MongoDB",
		Args:  cobra.ExactArgs(1),
		RunE:  cmdRun,
	}
}

type runResult struct {
	Kind   string `yaml:"kind"`
	Field  string `yaml:"field,omitempty"`
	Result any    `yaml:"result"`
}

func cmdRun(cmd *cobra.Command, args []string) error {
	if err := setup(cpath); err != nil {
		return err
	}

	coll, aggs, err := readRequest(args[0])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	client, db, err := mongodriver.Connect(ctx, conf.Mongo)
	if err != nil {
		return err
	}
	defer client.Disconnect(context.Background()) //nolint:errcheck

	var opts []mongodriver.ExecutorOption
	if conf.AllowDiskUse {
		opts = append(opts, mongodriver.WithAllowDiskUse())
	}

	aj, err := core.NewAggJin(&conf.Config, mongodriver.NewExecutor(db, opts...),
		core.OptionSetLogger(log.Desugar()))
	if err != nil {
		return err
	}

	start := time.Now()
	res, err := aj.Aggregate(ctx, coll, aggs...)
	if err != nil {
		return err
	}
	log.Infow("aggregations complete",
		"collection", coll.Name,
		"count", len(aggs),
		"duration", time.Since(start))

	out := make([]runResult, len(aggs))
	for i, agg := range aggs {
		out[i] = runResult{Kind: agg.Kind(), Field: agg.FieldName(), Result: core.Plain(res[i])}
	}

	b, err := yaml.Marshal(out)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(b)
	return err
}
