package generation

import (
	"fmt"
	"strings"

	"github.com/roach88/harnessforge/internal/candidate"
	"github.com/roach88/harnessforge/internal/metadata"
)

const (
	maxPromptIncludes  = 10
	maxPromptLocations = 20
	maxDocChars        = 200
)

// SynthesisSystemPrompt frames every synthesis request.
const SynthesisSystemPrompt = `You write fuzz harnesses.
Given a set of library functions, produce one complete harness that compiles
as-is and drives those functions with data taken from the fuzz input.
Initialize every pointer argument before use and check input sizes before
reading. Reply with code only, inside a single fenced code block.`

// RepairSystemPrompt frames every repair request.
const RepairSystemPrompt = `You fix broken fuzz harnesses.
Given a harness and the diagnostic it produced, return the complete corrected
harness. Keep the entry point and the functions it exercises. Reply with code
only, inside a single fenced code block.`

// LanguageName returns the display name used in prompts.
func LanguageName(lang candidate.Language) string {
	switch lang {
	case candidate.LanguageCPP:
		return "C++"
	case candidate.LanguagePython:
		return "Python"
	default:
		return "C"
	}
}

func fenceTag(lang candidate.Language) string {
	switch lang {
	case candidate.LanguageCPP:
		return "cpp"
	case candidate.LanguagePython:
		return "python"
	default:
		return "c"
	}
}

// RenderSynthesisPrompt builds the user prompt for Synthesize.
func RenderSynthesisPrompt(md *metadata.Metadata, s Strategy) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Write a %s fuzz harness for project %s.\n", LanguageName(md.Language), md.Project)

	if md.Language != candidate.LanguagePython && len(md.Includes) > 0 {
		b.WriteString("\nHeaders available:\n")
		for i, inc := range md.Includes {
			if i == maxPromptIncludes {
				break
			}
			fmt.Fprintf(&b, "  #include <%s>\n", inc)
		}
	}

	b.WriteString("\nTarget functions:\n")
	for _, f := range md.Subset(s.Functions) {
		fmt.Fprintf(&b, "  %s\n", f.Signature())
		if f.Doc != "" {
			doc := f.Doc
			if len(doc) > maxDocChars {
				doc = doc[:maxDocChars]
			}
			fmt.Fprintf(&b, "    // %s\n", doc)
		}
		for _, p := range f.Params {
			if p.Pointer {
				fmt.Fprintf(&b, "    // %s is a pointer and must be initialized before the call.\n", p.Name)
			}
		}
	}

	fmt.Fprintf(&b, "\nStrategy: %s\n", s.Kind)
	switch s.Kind {
	case StrategyExploreUncovered:
		fmt.Fprintf(&b, "No harness has reached these functions yet: %s.\n", strings.Join(s.Uncovered, ", "))
		b.WriteString("Shape the input handling so execution gets into them first.\n")
	case StrategyDeepen:
		b.WriteString("Every listed function is already reached. Aim for paths beyond these covered locations:\n")
		for i, loc := range s.Covered {
			if i == maxPromptLocations {
				break
			}
			fmt.Fprintf(&b, "  - %s\n", loc)
		}
	default:
		b.WriteString("Call every target function listed above.\n")
	}

	b.WriteString("\nRequirements:\n")
	if md.Language == candidate.LanguagePython {
		b.WriteString("1. Define TestOneInput(data) and start it with atheris.Setup(sys.argv, TestOneInput) and atheris.Fuzz().\n")
	} else {
		b.WriteString("1. Define int LLVMFuzzerTestOneInput(const uint8_t *data, size_t size).\n")
	}
	b.WriteString("2. Derive every argument from the fuzz input.\n")
	b.WriteString("3. Check sizes before reading from the input.\n")
	b.WriteString("4. Do not start processes or touch files outside the working directory.\n")
	return b.String()
}

// RenderRepairPrompt builds the user prompt for Repair.
func RenderRepairPrompt(lang candidate.Language, source, diagnostic string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "This %s fuzz harness failed validation. Return the corrected harness.\n", LanguageName(lang))
	b.WriteString("\nDiagnostic:\n")
	b.WriteString(strings.TrimRight(diagnostic, "\n"))
	b.WriteString("\n\nHarness:\n")
	fmt.Fprintf(&b, "```%s\n%s\n```\n", fenceTag(lang), strings.TrimRight(source, "\n"))
	return b.String()
}
