// Command gemprice trains gemstone price models and serves predictions.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/subcommands"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	g := &globals{}
	flag.StringVar(&g.configPath, "config", "", "path to a YAML config file (default: $GEMPRICE_CONFIG or ./config.yaml)")

	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&trainCmd{g: g}, "")
	subcommands.Register(&serveCmd{g: g}, "")
	subcommands.Register(&predictCmd{g: g}, "")
	subcommands.Register(&generateCmd{}, "")
	subcommands.Register(&versionCmd{}, "")

	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	status := subcommands.Execute(ctx)
	cancel()
	os.Exit(int(status))
}
