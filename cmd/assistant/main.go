// Package main is the command-line front end of the teaching assistant.
//
// Usage:
//
//	assistant lesson -subject Math -topic Fractions -age-group "Grade 2" -objectives "..."
//	assistant report -student Amina -period "Term 1" -performance "..." -behavior "..."
//	assistant parent -purpose reminder -child Amina -context "..."
//	assistant stats
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/classnotes/teaching-assistant/config"
	"github.com/classnotes/teaching-assistant/internal/app"
)

func main() {
	if err := run(context.Background(), os.Args); err != nil {
		if errors.Is(err, errHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := app.NewLogger(cfg)
	assistant, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer assistant.Close()

	cli := &commandLine{
		generator: assistant.Pipeline,
		rosters:   assistant.Rosters,
		out:       os.Stdout,
	}
	return cli.run(ctx, args)
}
