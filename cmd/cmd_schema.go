package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/dosco/aggjin/mongodriver"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func schemaCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "schema",
		Short: "Collection schema commands",
	}

	inferCmd := &cobra.Command{
		Use:   "infer COLLECTION",
		Short: "Infer a collection schema by sampling documents",
		Long: `Sample documents of a collection and write the inferred schema as YAML.

Embedded documents with a _cls key become embedded document fields, other
sub-documents become dict fields. A frames.COLLECTION collection marks the
collection as a video collection and a Group field as a grouped one.`,
		Args: cobra.ExactArgs(1),
		RunE: cmdSchemaInfer,
	}
	inferCmd.Flags().StringP("output", "o", "", "Output file (default stdout)")
	inferCmd.Flags().Int("sample-size", 0, "Number of documents to sample")
	c.AddCommand(inferCmd)

	return c
}

func cmdSchemaInfer(cmd *cobra.Command, args []string) error {
	if err := setup(cpath); err != nil {
		return err
	}

	opts := conf.Introspect
	if n, _ := cmd.Flags().GetInt("sample-size"); n > 0 {
		opts.SampleSize = n
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	client, db, err := mongodriver.Connect(ctx, conf.Mongo)
	if err != nil {
		return err
	}
	defer client.Disconnect(context.Background()) //nolint:errcheck

	coll, err := mongodriver.InferCollection(ctx, db, args[0], opts)
	if err != nil {
		return err
	}

	if output, _ := cmd.Flags().GetString("output"); output != "" {
		if err := writeSchema(output, coll); err != nil {
			return err
		}
		log.Infof("Inferred schema of %s: %s", coll.Name, output)
		return nil
	}

	b, err := yaml.Marshal(coll)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(b)
	return err
}
