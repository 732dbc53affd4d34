package generation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestExtractCode tests fence handling.
func TestExtractCode(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  string
	}{
		{"c fence", "Here:\n```c\nint x;\n```\nDone.", "int x;"},
		{"cpp fence", "```cpp\nint y;\n```", "int y;"},
		{"bare fence", "```\nprint(1)\n```", "print(1)"},
		{"no fence", "  int z;  \n", "int z;"},
		{"unterminated", "```c\nint w;\n", "int w;"},
		{"first block wins", "```c\na\n```\n```c\nb\n```", "a"},
		{"fence without newline", "```int q;", "```int q;"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractCode(tt.reply))
		})
	}
}

// TestStrategy_Validate tests per-kind requirements.
func TestStrategy_Validate(t *testing.T) {
	assert.NoError(t, Initial([]string{"f"}).Validate())
	assert.NoError(t, Deepen([]string{"f"}, nil).Validate())
	assert.NoError(t, ExploreUncovered([]string{"f"}, []string{"f"}).Validate())
	assert.Error(t, ExploreUncovered([]string{"f"}, nil).Validate())
	assert.Error(t, Initial(nil).Validate())
	assert.Error(t, Strategy{Kind: "random", Functions: []string{"f"}}.Validate())
}
