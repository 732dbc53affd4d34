// Package metadata extracts the target-API description harnesses are
// synthesized from: public functions with their signatures, the headers the
// project includes, and the source files a harness must link against.
package metadata

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/harnessforge/internal/candidate"
)

// Param is one function parameter.
type Param struct {
	Name    string `json:"name" yaml:"name"`
	Type    string `json:"type" yaml:"type"`
	Pointer bool   `json:"pointer,omitempty" yaml:"pointer,omitempty"`
}

// Function describes one extracted function.
type Function struct {
	Name       string  `json:"name" yaml:"name"`
	ReturnType string  `json:"return_type" yaml:"return_type"`
	Params     []Param `json:"params,omitempty" yaml:"params,omitempty"`
	File       string  `json:"file" yaml:"file"`
	Line       int     `json:"line" yaml:"line"`
	Doc        string  `json:"doc,omitempty" yaml:"doc,omitempty"`
	Public     bool    `json:"public" yaml:"public"`
}

// Signature renders the function the way a prototype would read.
func (f Function) Signature() string {
	params := make([]string, 0, len(f.Params))
	for _, p := range f.Params {
		params = append(params, strings.TrimSpace(p.Type+" "+p.Name))
	}
	if f.ReturnType == "" {
		return fmt.Sprintf("%s(%s)", f.Name, strings.Join(params, ", "))
	}
	return fmt.Sprintf("%s %s(%s)", f.ReturnType, f.Name, strings.Join(params, ", "))
}

// Metadata is the extracted description of a target project.
type Metadata struct {
	Project     string             `json:"project" yaml:"project"`
	Language    candidate.Language `json:"language" yaml:"language"`
	Root        string             `json:"root" yaml:"root"`
	Functions   []Function         `json:"functions" yaml:"functions"`
	Includes    []string           `json:"includes,omitempty" yaml:"includes,omitempty"`
	SourceFiles []string           `json:"source_files" yaml:"source_files"`
	Targets     []string           `json:"targets" yaml:"targets"`
}

// Function looks up a function by name.
func (m *Metadata) Function(name string) (Function, bool) {
	i := slices.IndexFunc(m.Functions, func(f Function) bool { return f.Name == name })
	if i < 0 {
		return Function{}, false
	}
	return m.Functions[i], true
}

// TargetFunctions returns the target functions in target order.
func (m *Metadata) TargetFunctions() []Function {
	out := make([]Function, 0, len(m.Targets))
	for _, name := range m.Targets {
		if f, ok := m.Function(name); ok {
			out = append(out, f)
		}
	}
	return out
}

// Subset returns the functions named in names, in the order given.
func (m *Metadata) Subset(names []string) []Function {
	out := make([]Function, 0, len(names))
	for _, name := range names {
		if f, ok := m.Function(name); ok {
			out = append(out, f)
		}
	}
	return out
}

// ParseError reports that a project could not be turned into metadata.
type ParseError struct {
	Path    string
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	msg := e.Message
	if e.Path != "" {
		msg = fmt.Sprintf("%s: %s", e.Path, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
