package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/mimir-aip/gemprice/pkg/dataset"
)

type generateCmd struct {
	rows int
	seed int64
	out  string
}

func (*generateCmd) Name() string     { return "generate" }
func (*generateCmd) Synopsis() string { return "write a synthetic gemstone dataset" }
func (*generateCmd) Usage() string {
	return `generate [-rows N] [-seed N] -out gemstone.csv:
  Write a synthetic dataset with the gemstone schema, for offline runs.
`
}

func (c *generateCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.rows, "rows", 5000, "number of rows")
	f.Int64Var(&c.seed, "seed", 42, "random seed")
	f.StringVar(&c.out, "out", "", "output CSV path")
}

func (c *generateCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.out == "" || c.rows < 1 {
		fmt.Fprintln(os.Stderr, "generate: -out is required and -rows must be positive")
		return subcommands.ExitUsageError
	}
	frame, err := dataset.FromRecords(dataset.Synthetic(c.rows, c.seed))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	if err := dataset.WriteFile(c.out, frame); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	fmt.Printf("wrote %d rows to %s\n", frame.Len(), c.out)
	return subcommands.ExitSuccess
}
