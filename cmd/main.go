package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/angeloszaimis/dnslb/config"
	"github.com/angeloszaimis/dnslb/internal/healthcheck"
	"github.com/angeloszaimis/dnslb/pkg/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const usageHeader = `Usage: dnslb [options]

dnslb runs a set of periodic checks against the services listed in its
configuration and produces a JSON zone file that can be consumed by geodns.

Options:
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the daemon and returns the process exit code: 2 for bad
// arguments, 1 for configuration or startup errors.
func run(args []string, stdout, stderr io.Writer) int {
	flags := config.NewFlagSet("dnslb")
	flags.SetOutput(stderr)
	flags.Usage = func() { printUsage(stderr, flags) }

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "dnslb: %v\n", err)
		return 2
	}

	if help, _ := flags.GetBool("help"); help {
		printUsage(stdout, flags)
		return 0
	}

	configPath, _ := flags.GetString("config")
	cfg, err := config.Load(configPath, flags)
	if err != nil {
		fmt.Fprintf(stderr, "dnslb: %v\n", err)
		return 1
	}

	var out io.Writer = stdout
	if cfg.Logging.File != "" {
		f, err := logger.OpenFile(cfg.Logging.File)
		if err != nil {
			fmt.Fprintf(stderr, "dnslb: cannot open log file: %v\n", err)
			return 1
		}
		defer f.Close()
		out = f
	}

	log := logger.New(cfg.Logging.Level, false, cfg.Logging.Environment, out)
	slog.SetDefault(log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, healthcheck.DefaultRegistry(log), log)
	if err != nil {
		log.Error("Failed to start", slog.Any("err", err))
		return 1
	}

	return a.run(ctx)
}

func printUsage(w io.Writer, flags *pflag.FlagSet) {
	fmt.Fprint(w, usageHeader)
	fmt.Fprint(w, flags.FlagUsages())
}
