package main

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/sokinpui/chatapply/chatapply"
	"github.com/sokinpui/chatapply/cli"
	"github.com/sokinpui/chatapply/internal/config"
	"github.com/sokinpui/chatapply/internal/logging"
	"github.com/sokinpui/chatapply/internal/metrics"
	"github.com/sokinpui/chatapply/internal/tui"
	"github.com/sokinpui/chatapply/internal/ui"
)

func main() {
	flags, err := cli.ParseFlags()
	if err != nil {
		// pflag already prints the error message.
		os.Exit(1)
	}

	cfg, err := config.Load(flags.ConfigPath, flags.ConfigDirs()...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := flags.Apply(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	app, err := chatapply.New(cfg,
		chatapply.WithFlags(flags),
		chatapply.WithLogger(log),
		chatapply.WithMetrics(metrics.New()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	// Diff output goes to stdout and must not be mixed with the TUI.
	if flags.OutputDiffFix {
		if _, err := app.Execute(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Plain output: no spinner and no interactive review.
	if flags.NoAnimation && !cfg.Review {
		summary, err := app.Execute(context.Background())
		if err != nil {
			ui.Error("Error: %v", err)
			if summary.Recorded > 0 {
				ui.Warning(summary.Message)
			}
			os.Exit(1)
		}
		ui.PrintApplySummary(summary)
		return
	}

	model := tui.New(app, flags)
	p := tea.NewProgram(model)
	model.SetProgram(p)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running program: %v\n", err)
		os.Exit(1)
	}
}
