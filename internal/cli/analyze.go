package cli

import (
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/harnessforge/internal/service"
)

// NewAnalyzeCommand creates the analyze command.
func NewAnalyzeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze [config]",
		Short: "List the functions a project exposes",
		Long: `Load a project configuration and extract the functions of its sources.

The argument is a configuration file (harnessforge.yaml, .toml or .cue) or
a directory containing one; it defaults to the current directory.
Configured target functions are marked with '*'.

Examples:
  harnessforge analyze
  harnessforge analyze ./libpng/harnessforge.yaml
  harnessforge analyze ./libpng --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) == 1 {
				path = args[0]
			}
			return runAnalyze(rootOpts, path, cmd)
		},
	}
	return cmd
}

func runAnalyze(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	f.VerboseLog("analyzing %s", path)

	report, err := opts.newService().Analyze(commandContext(cmd), path)
	if err != nil {
		return f.Fail("analyze failed", err)
	}

	if opts.Format == "json" {
		return f.Success(report)
	}
	writeAnalyzeText(cmd.OutOrStdout(), report)
	return nil
}

func writeAnalyzeText(w io.Writer, r *service.AnalyzeReport) {
	fmt.Fprintf(w, "%s (%s) %s\n", heading.Sprint(r.Project), r.Language, r.Root)
	fmt.Fprintf(w, "%d source files, %d functions, %d targets\n\n", len(r.SourceFiles), len(r.Functions), len(r.Targets))
	for _, fn := range r.Functions {
		mark := " "
		if slices.Contains(r.Targets, fn.Name) {
			mark = good.Sprint("*")
		}
		fmt.Fprintf(w, "%s %s:%d  %s\n", mark, fn.File, fn.Line, fn.Signature())
	}
	if len(r.Includes) > 0 {
		fmt.Fprintf(w, "\nincludes: %v\n", r.Includes)
	}
}
