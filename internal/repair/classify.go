// Package repair decides whether a failed candidate is worth patching and
// builds the request the generation collaborator receives.
package repair

import (
	"regexp"
	"strings"

	"github.com/roach88/harnessforge/internal/candidate"
)

// Category classifies a failure diagnostic.
type Category string

const (
	CategoryNone             Category = "none"
	CategorySyntax           Category = "syntax"
	CategoryUndefinedSymbol  Category = "undefined-symbol"
	CategoryTypeMismatch     Category = "type-mismatch"
	CategoryLink             Category = "link"
	CategoryCompile          Category = "compile"
	CategoryMemory           Category = "memory"
	CategoryTimeout          Category = "timeout"
	CategoryRuntime          Category = "runtime"
	CategoryNonRecoverable   Category = "non-recoverable"
	CategorySandboxViolation Category = "sandbox-violation"
)

// Recoverable reports whether a repair attempt could plausibly help.
func (c Category) Recoverable() bool {
	switch c {
	case CategoryNone, CategoryNonRecoverable, CategorySandboxViolation:
		return false
	}
	return true
}

var (
	missingSource = regexp.MustCompile(`(?i)\.(c|cc|cpp|cxx|h|hpp|py)'?:? .*no such file or directory|no such file or directory.*\.(c|cc|cpp|cxx|py)\b`)
	symbolQuoted  = regexp.MustCompile("(?:undeclared identifier|undefined reference to|undefined symbol:?|implicit declaration of function|name) [`'‘\"]?([A-Za-z_][A-Za-z0-9_:]*)")
)

var nonRecoverableMarkers = []string{
	"no input files",
	"unsupported language",
	"sandbox setup failed",
	"could not start",
}

// Classify assigns a category to a validation result.
func Classify(res *candidate.Result) Category {
	if res == nil || res.Outcome == candidate.OutcomeSuccess {
		return CategoryNone
	}
	switch res.Outcome {
	case candidate.OutcomeSandboxViolation:
		return CategorySandboxViolation
	case candidate.OutcomeTimeout:
		return CategoryTimeout
	}

	diag := strings.ToLower(res.Diagnostic)
	if missingSource.MatchString(diag) {
		return CategoryNonRecoverable
	}
	for _, m := range nonRecoverableMarkers {
		if strings.Contains(diag, m) {
			return CategoryNonRecoverable
		}
	}

	if res.Outcome == candidate.OutcomeRuntimeCrash {
		switch {
		case containsAny(diag, "addresssanitizer", "segmentation fault", "segv", "null pointer",
			"heap-buffer-overflow", "stack-buffer-overflow", "use-after-free", "out-of-memory", "double-free"):
			return CategoryMemory
		default:
			return CategoryRuntime
		}
	}

	if res.Phase == candidate.PhaseLink ||
		containsAny(diag, "undefined reference", "undefined symbol", "ld: error", "linker command failed") {
		return CategoryLink
	}
	switch {
	case containsAny(diag, "undeclared", "implicit declaration", "is not defined", "nameerror", "unknown type name", "no member named"):
		return CategoryUndefinedSymbol
	case containsAny(diag, "incompatible", "type mismatch", "cannot convert", "invalid conversion", "too few arguments", "too many arguments"):
		return CategoryTypeMismatch
	case containsAny(diag, "syntax error", "syntaxerror", "expected", "indentationerror"):
		return CategorySyntax
	}
	return CategoryCompile
}

// Symbol extracts the offending symbol name from a diagnostic, if any.
func Symbol(diagnostic string) string {
	if m := symbolQuoted.FindStringSubmatch(diagnostic); m != nil {
		return m[1]
	}
	return ""
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
