package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/mimir-aip/gemprice/pkg/logging"
	"github.com/mimir-aip/gemprice/pkg/prediction"
)

type predictCmd struct {
	g      *globals
	values map[string]*string
}

func (*predictCmd) Name() string     { return "predict" }
func (*predictCmd) Synopsis() string { return "predict one price from the stored model" }
func (*predictCmd) Usage() string {
	return `predict -log_carat N -volume N -depth N -table N -cut C -color C -clarity C:
  Load the persisted transformer and model and print the estimated price.
`
}

func (c *predictCmd) SetFlags(f *flag.FlagSet) {
	c.values = make(map[string]*string, len(prediction.RequestFields))
	for _, name := range prediction.RequestFields {
		c.values[name] = f.String(name, "", name)
	}
}

func (c *predictCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, err := c.g.load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer logging.Close()

	req, err := prediction.ParseRequest(func(field string) string { return *c.values[field] })
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}

	res, err := prediction.NewService(newArtifactStore(cfg), false).Predict(ctx, req)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	fmt.Printf("%.2f\n", res.Price)
	return subcommands.ExitSuccess
}
