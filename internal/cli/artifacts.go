package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/harnessforge/internal/artifact"
	"github.com/roach88/harnessforge/internal/candidate"
	"github.com/roach88/harnessforge/internal/config"
	"github.com/roach88/harnessforge/internal/service"
	"github.com/roach88/harnessforge/internal/store"
)

// ArtifactsOptions holds flags for the artifacts command.
type ArtifactsOptions struct {
	*RootOptions
	Database string
	Run      string
	AllRuns  bool
	Runs     bool
	Kind     string
	Status   string
}

// ArtifactsResult is the artifacts command payload.
type ArtifactsResult struct {
	Run       *store.Run     `json:"run,omitempty"`
	Artifacts []store.Record `json:"artifacts"`
}

// NewArtifactsCommand creates the artifacts command.
func NewArtifactsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ArtifactsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "artifacts [output-dir]",
		Short: "List indexed harnesses and exceptions",
		Long: `List the artifacts recorded in an output directory's index.db.

By default the artifacts of the most recent run are shown. Use --run to
pick another run, --all-runs to list every run's artifacts, or --runs to
list the runs themselves.

Examples:
  harnessforge artifacts
  harnessforge artifacts ./harnessforge-out --kind exception
  harnessforge artifacts --status Budget-Exhausted --all-runs
  harnessforge artifacts --runs --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := config.DefaultOutputDir
			if len(args) == 1 {
				dir = args[0]
			}
			return runArtifacts(opts, dir, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to index database (default <output-dir>/index.db)")
	cmd.Flags().StringVar(&opts.Run, "run", "", "run id (default: latest run)")
	cmd.Flags().BoolVar(&opts.AllRuns, "all-runs", false, "list artifacts of every run")
	cmd.Flags().BoolVar(&opts.Runs, "runs", false, "list runs instead of artifacts")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "filter by kind (harness|exception)")
	cmd.Flags().StringVar(&opts.Status, "status", "", "filter by terminal status")

	return cmd
}

func runArtifacts(opts *ArtifactsOptions, dir string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	ctx := commandContext(cmd)

	if opts.Kind != "" && opts.Kind != string(artifact.KindHarness) && opts.Kind != string(artifact.KindException) {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid kind %q: must be harness or exception", opts.Kind))
	}
	if opts.Run != "" && opts.AllRuns {
		return NewExitError(ExitCommandError, "--run and --all-runs are mutually exclusive")
	}

	dbPath := opts.Database
	if dbPath == "" {
		dbPath = filepath.Join(dir, service.IndexFile)
	}
	// store.Open would create an empty index; a missing one is a user error.
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return f.Fail("open index", fmt.Errorf("%s: %w", dbPath, store.ErrNotFound))
	}
	f.VerboseLog("reading index %s", dbPath)

	st, err := store.Open(dbPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open index", err)
	}
	defer st.Close()

	if opts.Runs {
		runs, err := st.ListRuns(ctx)
		if err != nil {
			return f.Fail("list runs", err)
		}
		if opts.Format == "json" {
			return f.Success(runs)
		}
		writeRunsText(cmd.OutOrStdout(), runs)
		return nil
	}

	result := ArtifactsResult{}
	filter := store.Filter{
		Kind:   artifact.Kind(opts.Kind),
		Status: candidate.Status(opts.Status),
	}
	if !opts.AllRuns {
		var run store.Run
		if opts.Run != "" {
			run, err = st.GetRun(ctx, opts.Run)
		} else {
			run, err = st.LatestRun(ctx)
		}
		if err != nil {
			return f.Fail("find run", err)
		}
		result.Run = &run
		filter.RunID = run.ID
	}

	result.Artifacts, err = st.ListArtifacts(ctx, filter)
	if err != nil {
		return f.Fail("list artifacts", err)
	}

	if opts.Format == "json" {
		return f.Success(result)
	}
	writeArtifactsText(cmd.OutOrStdout(), result)
	return nil
}

func writeRunsText(w io.Writer, runs []store.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	for _, r := range runs {
		state := good.Sprint("finished")
		switch {
		case r.FinishedAt.IsZero():
			state = warn.Sprint("incomplete")
		case r.Expired:
			state = warn.Sprint("expired: " + r.Cause)
		}
		fmt.Fprintf(w, "%s  %s  %s  harnesses=%d exceptions=%d validations=%d  %s\n",
			heading.Sprint(r.ID), r.StartedAt.Format("2006-01-02 15:04:05"), r.Project,
			r.Harnesses, r.Exceptions, r.Validations, state)
	}
}

func writeArtifactsText(w io.Writer, r ArtifactsResult) {
	if r.Run != nil {
		fmt.Fprintf(w, "%s %s (%s)\n\n", heading.Sprint("run"), r.Run.ID, r.Run.Project)
	}
	if len(r.Artifacts) == 0 {
		fmt.Fprintln(w, "No artifacts found.")
		return
	}
	for _, a := range r.Artifacts {
		label := good.Sprint("✓")
		if a.Kind != artifact.KindHarness {
			label = bad.Sprint("✗")
		}
		line := fmt.Sprintf("%s %s %s [%s]", label, artifact.Name(a.Lineage, a.Generation), a.Status, a.Tag)
		if a.Reason != "" {
			line += " " + a.Reason
		}
		fmt.Fprintln(w, line)
		fmt.Fprintf(w, "    targets=%s locations=%d hits=%d corpus=%d\n",
			strings.Join(a.Targets, ","), a.Locations, a.Hits, a.CorpusCount)
		fmt.Fprintf(w, "    %s\n", a.SourcePath)
		if a.LogPath != "" {
			fmt.Fprintf(w, "    %s\n", a.LogPath)
		}
	}
}
