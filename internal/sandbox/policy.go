package sandbox

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/harnessforge/internal/candidate"
)

var (
	cForbidden  = regexp.MustCompile(`\b(fork|vfork|execve|execv|execvp|execl|execlp|system|popen|ptrace|setrlimit|prlimit)\s*\(`)
	pyForbidden = regexp.MustCompile(`\b(os\.system|os\.popen|os\.fork|os\.exec\w*|os\.spawn\w*|subprocess\.\w+|pty\.spawn|resource\.setrlimit)\b`)
)

// ScanPolicy returns a description of the first forbidden construct in
// source, or "" when the source is clean. Comments are not stripped, so a
// forbidden call in a comment is still reported.
func ScanPolicy(lang candidate.Language, source string) string {
	pattern := cForbidden
	if lang == candidate.LanguagePython {
		pattern = pyForbidden
	}
	loc := pattern.FindStringSubmatchIndex(source)
	if loc == nil {
		return ""
	}
	name := source[loc[2]:loc[3]]
	line := strings.Count(source[:loc[0]], "\n") + 1
	return fmt.Sprintf("policy violation: forbidden call %s at line %d", name, line)
}
