package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dosco/aggjin/core"
	"github.com/dosco/aggjin/mongodriver"
	"github.com/dosco/aggjin/serv"
	"github.com/spf13/cobra"
)

func servCmd() *cobra.Command {
	c := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"serv"},
		Short:   "Run the aggregation HTTP service",
		Args:    cobra.NoArgs,
		RunE:    cmdServ,
	}
	return c
}

func cmdServ(cmd *cobra.Command, args []string) error {
	if err := setup(cpath); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
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

	zlog := log.Desugar()
	aj, err := core.NewAggJin(&conf.Config, mongodriver.NewExecutor(db, opts...),
		core.OptionSetLogger(zlog))
	if err != nil {
		return err
	}

	s, err := serv.NewService(conf.Serv, aj, zlog)
	if err != nil {
		return err
	}
	return s.Start(ctx)
}
