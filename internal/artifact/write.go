package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/roach88/harnessforge/internal/candidate"
)

// Paths lists the files written for one artifact.
type Paths struct {
	Source string   `json:"source"`
	Log    string   `json:"log,omitempty"`
	Corpus []string `json:"corpus,omitempty"`
}

// Header renders the comment block placed at the top of written sources.
func Header(a *Artifact) string {
	prefix := "//"
	if a.Language == candidate.LanguagePython {
		prefix = "#"
	}
	lines := []string{
		fmt.Sprintf("%s Target functions: %s", prefix, strings.Join(a.Targets, ", ")),
		fmt.Sprintf("%s Status: %s (%s)", prefix, a.Status, a.Tag),
		fmt.Sprintf("%s Lineage: %s generation %d", prefix, a.Lineage, a.Generation),
		fmt.Sprintf("%s Generated: %s", prefix, a.CreatedAt.UTC().Format("2006-01-02T15:04:05Z")),
	}
	return strings.Join(lines, "\n") + "\n\n"
}

// Write stores a's files under the layout and returns their paths.
func (l Layout) Write(a *Artifact) (Paths, error) {
	if a.Kind != KindHarness && a.Kind != KindException {
		return Paths{}, fmt.Errorf("artifact %s: cannot write kind %q", a.Name(), a.Kind)
	}
	if err := l.EnsureDirs(); err != nil {
		return Paths{}, err
	}

	paths := Paths{Source: l.SourcePath(a)}
	if err := os.WriteFile(paths.Source, []byte(Header(a)+a.Source), 0o644); err != nil {
		return Paths{}, fmt.Errorf("write source: %w", err)
	}

	if a.Kind == KindException {
		paths.Log = l.LogPath(a)
		if err := os.WriteFile(paths.Log, []byte(TrailLog(a)), 0o644); err != nil {
			return Paths{}, fmt.Errorf("write log: %w", err)
		}
	}

	if len(a.Corpus) > 0 {
		dir := l.CorpusDir(a)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Paths{}, fmt.Errorf("create corpus dir: %w", err)
		}
		for i, sample := range a.Corpus {
			p := filepath.Join(dir, fmt.Sprintf("%04d", i))
			if err := os.WriteFile(p, sample, 0o644); err != nil {
				return Paths{}, fmt.Errorf("write corpus sample: %w", err)
			}
			paths.Corpus = append(paths.Corpus, p)
		}
	}
	return paths, nil
}

// TrailLog renders an exception's diagnostic trail, oldest first.
func TrailLog(a *Artifact) string {
	var b strings.Builder
	fmt.Fprintf(&b, "lineage %s: %s (%s)\n", a.Lineage, a.Status, a.Tag)
	if a.Reason != "" {
		fmt.Fprintf(&b, "reason: %s\n", a.Reason)
	}
	for _, e := range a.Trail {
		fmt.Fprintf(&b, "\n== %s generation %d", e.Candidate, e.Generation)
		if e.Outcome != "" {
			fmt.Fprintf(&b, " %s", e.Outcome)
		}
		if e.Phase != "" {
			fmt.Fprintf(&b, " [%s]", e.Phase)
		}
		if e.Category != "" {
			fmt.Fprintf(&b, " category=%s", e.Category)
		}
		b.WriteString("\n")
		if e.Diagnostic != "" {
			b.WriteString(strings.TrimRight(e.Diagnostic, "\n"))
			b.WriteString("\n")
		}
	}
	return b.String()
}
