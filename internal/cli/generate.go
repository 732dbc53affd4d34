package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/harnessforge/internal/artifact"
	"github.com/roach88/harnessforge/internal/service"
)

// NewGenerateCommand creates the generate command.
func NewGenerateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate [config]",
		Short: "Run the harness synthesis loop",
		Long: `Run the closed synthesis loop for a configured project.

Seed harnesses are generated for the target functions, validated in the
sandbox, repaired on failure and mutated toward uncovered functions until
every lineage terminates or the deadline passes. Harnesses, exceptions
and corpora are written under the output directory and indexed in its
index.db.

Ctrl-C stops the run early; in-flight lineages are saved as
Budget-Exhausted exceptions.

Exit codes:
  0 - At least one harness was saved
  1 - The run produced no harness (or generation was unavailable)
  2 - Command error (bad configuration, parse failure, etc.)

Examples:
  harnessforge generate
  harnessforge generate ./libpng/harnessforge.yaml --verbose
  HARNESSFORGE_API_KEY=... harnessforge generate ./project --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) == 1 {
				path = args[0]
			}
			return runGenerate(rootOpts, path, cmd)
		},
	}
	return cmd
}

func runGenerate(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, stopping run", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	f.VerboseLog("generating for %s", path)
	report, err := opts.newService().Generate(ctx, path)
	if err != nil && report == nil {
		return f.Fail("generate failed", err)
	}
	if err != nil {
		// The run started and left artifacts behind; report them first.
		slog.Warn("run ended with error", "error", err)
	}

	if report.Harnesses == 0 {
		if opts.Format == "json" {
			if encErr := f.encode(CLIResponse{
				Status: "error",
				Data:   report,
				Error: &CLIError{
					Code:    CodeNoHarness,
					Message: "run produced no harness",
				},
			}); encErr != nil {
				return encErr
			}
		} else {
			writeGenerateText(cmd.OutOrStdout(), report)
		}
		return NewExitError(ExitFailure, "run produced no harness")
	}

	if opts.Format == "json" {
		if encErr := f.Success(report); encErr != nil {
			return encErr
		}
	} else {
		writeGenerateText(cmd.OutOrStdout(), report)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "run interrupted", err)
	}
	return nil
}

func writeGenerateText(w io.Writer, r *service.GenerateReport) {
	fmt.Fprintf(w, "%s %s\n", heading.Sprint("run"), r.RunID)
	fmt.Fprintf(w, "  project:    %s\n", r.Project)
	fmt.Fprintf(w, "  output:     %s\n", r.OutputDir)
	fmt.Fprintf(w, "  seeded:     %d\n", r.Seeded)
	fmt.Fprintf(w, "  harnesses:  %s\n", good.Sprint(r.Harnesses))
	fmt.Fprintf(w, "  exceptions: %s\n", bad.Sprint(r.Exceptions))
	if r.Exhausted > 0 {
		fmt.Fprintf(w, "  exhausted:  %s\n", warn.Sprint(r.Exhausted))
	}
	fmt.Fprintf(w, "  coverage:   %d locations\n", r.Covered)
	if r.SeedFailure != "" {
		fmt.Fprintf(w, "  %s %s\n", warn.Sprint("seed failure:"), r.SeedFailure)
	}
	if err := r.Err(); err != nil {
		fmt.Fprintf(w, "  %s %v\n", warn.Sprint("budget:"), err)
	}

	if len(r.Artifacts) == 0 {
		return
	}
	fmt.Fprintln(w)
	for _, e := range r.Artifacts {
		label := good.Sprint("✓")
		if e.Kind != artifact.KindHarness {
			label = bad.Sprint("✗")
		}
		line := fmt.Sprintf("%s %s %s [%s]", label, e.Name(), e.Status, e.Tag)
		if e.Reason != "" {
			line += " " + e.Reason
		}
		fmt.Fprintln(w, line)
		if e.Paths.Source != "" {
			fmt.Fprintf(w, "    %s\n", e.Paths.Source)
		}
	}
}
