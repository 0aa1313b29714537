// Package main is the entry point for the modmerge application.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexflint/go-arg"

	"github.com/joe/modmerge/internal/config"
	"github.com/joe/modmerge/internal/logging"
)

func main() {
	os.Exit(realMain(os.Args[1:]))
}

func realMain(args []string) int {
	cfg, parser, err := config.ParseArgs(args)

	switch {
	case errors.Is(err, arg.ErrHelp):
		_ = parser.WriteHelpForSubcommand(os.Stdout, parser.SubcommandNames()...)
		return 0
	case errors.Is(err, arg.ErrVersion):
		fmt.Println(config.Config{}.Version()) //nolint:forbidigo // version output
		return 0
	case err != nil:
		if parser != nil {
			parser.WriteUsage(os.Stderr)
		}

		fmt.Fprintf(os.Stderr, "Error: %v\n", err)

		return 1
	}

	closeLog := logging.SetupLogger(cfg.Verbosity)
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(cfg, os.Stdout, logging.GetLogger("modmerge"))
	defer a.close()

	err = a.run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	return 0
}
