package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/dosco/aggjin/core"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func compileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compile REQUEST",
		Short: "Print the pipelines of an aggregation request",
		Long: `Compile the aggregations of a request file and print the MongoDB
pipeline of each one as extended JSON. Nothing is sent to the database, so
histograms need explicit edges or a range.`,
		Args: cobra.ExactArgs(1),
		RunE: cmdCompile,
	}
}

func cmdCompile(cmd *cobra.Command, args []string) error {
	if err := setup(cpath); err != nil {
		return err
	}

	coll, aggs, err := readRequest(args[0])
	if err != nil {
		return err
	}

	aj, err := core.NewAggJin(&conf.Config, nil, core.OptionSetLogger(log.Desugar()))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, agg := range aggs {
		cp, err := aj.Compile(context.Background(), coll, agg)
		if err != nil {
			return err
		}

		js, err := pipelineJSON(cp.Pipeline())
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "// %s(%s)\n%s\n", cp.Kind, cp.Field, js)
	}
	return nil
}

// pipelineJSON renders a pipeline as indented relaxed extended JSON
func pipelineJSON(pipeline bson.A) ([]byte, error) {
	b, err := bson.MarshalExtJSON(bson.D{{Key: "pipeline", Value: pipeline}}, false, false)
	if err != nil {
		return nil, err
	}

	var doc struct {
		Pipeline json.RawMessage `json:"pipeline"`
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, doc.Pipeline, "", "  "); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
