package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRuntimeError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *RuntimeError
		want string
	}{
		{
			name: "code and message",
			err:  &RuntimeError{Code: ErrCodeParse, Message: "no functions"},
			want: "PARSE_ERROR: no functions",
		},
		{
			name: "lineage and candidate",
			err:  &RuntimeError{Code: ErrCodeInvalidTransition, Message: "bad", Lineage: "l1", Candidate: "l1-g2"},
			want: "INVALID_TRANSITION: bad (lineage=l1, candidate=l1-g2)",
		},
		{
			name: "candidate with cause",
			err:  newQueueFullError("l1-g1", 8),
			want: "QUEUE_FULL: queue at capacity 8 (candidate=l1-g1): validation queue is full",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestRuntimeError_Matching(t *testing.T) {
	full := fmt.Errorf("submit: %w", newQueueFullError("c", 1))
	assert.True(t, IsQueueFull(full))
	assert.ErrorIs(t, full, ErrQueueFull)
	assert.False(t, IsEngineStopped(full))

	stopped := newStoppedError("c")
	assert.True(t, IsEngineStopped(stopped))
	assert.ErrorIs(t, stopped, ErrEngineStopped)

	gen := NewGenerationError("synthesize", errors.New("boom"))
	assert.True(t, IsGenerationUnavailable(gen))
	assert.Equal(t, "synthesize", gen.Details["op"])
	assert.Contains(t, gen.Error(), "boom")

	parse := NewParseError(errors.New("no files"))
	assert.Equal(t, ErrCodeParse, CodeOf(parse))

	assert.Equal(t, RuntimeErrorCode(""), CodeOf(errors.New("plain")))
	assert.True(t, IsQueueFull(ErrQueueFull))
}
