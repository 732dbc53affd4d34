package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/harnessforge/internal/candidate"
)

// TestScanPolicy tests forbidden construct detection.
func TestScanPolicy(t *testing.T) {
	tests := []struct {
		name   string
		lang   candidate.Language
		source string
		want   string
	}{
		{"clean c", candidate.LanguageC, "int f(void) { return parse(x); }", ""},
		{"system", candidate.LanguageC, "int f(void) {\n  system(\"ls\");\n}", "policy violation: forbidden call system at line 2"},
		{"fork with space", candidate.LanguageCPP, "pid_t p = fork ();", "policy violation: forbidden call fork at line 1"},
		{"identifier suffix", candidate.LanguageC, "int my_system(int x);\nint subsystem(void);", ""},
		{"python subprocess", candidate.LanguagePython, "import subprocess\nsubprocess.run(['ls'])", "policy violation: forbidden call subprocess.run at line 2"},
		{"python os.system", candidate.LanguagePython, "import os\n\nos.system('id')", "policy violation: forbidden call os.system at line 3"},
		{"python clean", candidate.LanguagePython, "import atheris\natheris.Fuzz()", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ScanPolicy(tt.lang, tt.source))
		})
	}
}
