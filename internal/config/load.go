package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSrc string

var configPath = cue.ParsePath("config")

// DefaultNames are the file names Discover looks for, in order.
var DefaultNames = []string{
	"harnessforge.yaml",
	"harnessforge.yml",
	"harnessforge.toml",
	"harnessforge.cue",
}

// Format is a configuration document syntax.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatCUE  Format = "cue"
)

// FormatOf picks the format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	case ".cue":
		return FormatCUE, nil
	default:
		return "", fmt.Errorf("unsupported config extension %q (want .yaml, .yml, .toml or .cue)", filepath.Ext(path))
	}
}

// ErrNotFound is returned by Discover when no configuration file exists.
var ErrNotFound = errors.New("no configuration file found")

// LoadError reports a document that could not be read or failed the schema.
type LoadError struct {
	Path    string
	Message string
	Err     error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Path, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// IsLoadError returns true if the error is a LoadError.
func IsLoadError(err error) bool {
	var le *LoadError
	return errors.As(err, &le)
}

// Discover returns the first of DefaultNames present in dir.
func Discover(dir string) (string, error) {
	for _, name := range DefaultNames {
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", fmt.Errorf("%s: %w", dir, ErrNotFound)
}

// Load reads the configuration at path. When path is a directory, the
// configuration file is discovered inside it.
func Load(path string) (*Config, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		found, err := Discover(path)
		if err != nil {
			return nil, err
		}
		path = found
	}

	format, err := FormatOf(path)
	if err != nil {
		return nil, &LoadError{Path: path, Message: "unknown format", Err: err}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Message: "read failed", Err: err}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &LoadError{Path: path, Message: "resolve path", Err: err}
	}

	cfg, err := Parse(data, format, path)
	if err != nil {
		return nil, err
	}
	cfg.Dir = filepath.Dir(abs)
	return cfg, nil
}

// Parse decodes a document, checks it against the schema, applies defaults
// and environment overrides. name labels errors.
func Parse(data []byte, format Format, name string) (*Config, error) {
	ctx := cuecontext.New()

	doc, err := document(ctx, data, format, name)
	if err != nil {
		return nil, err
	}

	schema := ctx.CompileString(schemaSrc, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}
	v := schema.FillPath(configPath, doc).LookupPath(configPath)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, &LoadError{Path: name, Message: "invalid configuration", Err: errors.New(cueDetails(err))}
	}

	b, err := v.MarshalJSON()
	if err != nil {
		return nil, &LoadError{Path: name, Message: "export failed", Err: err}
	}
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, &LoadError{Path: name, Message: "decode failed", Err: err}
	}

	if key := os.Getenv(APIKeyEnv); key != "" {
		cfg.Generation.APIKey = key
	}
	return &cfg, nil
}

// document turns raw bytes into a CUE value.
func document(ctx *cue.Context, data []byte, format Format, name string) (cue.Value, error) {
	var raw map[string]any
	switch format {
	case FormatCUE:
		v := ctx.CompileBytes(data, cue.Filename(name))
		if err := v.Err(); err != nil {
			return cue.Value{}, &LoadError{Path: name, Message: "syntax error", Err: errors.New(cueDetails(err))}
		}
		return v, nil
	case FormatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return cue.Value{}, &LoadError{Path: name, Message: "syntax error", Err: err}
		}
	case FormatTOML:
		if _, err := toml.Decode(string(data), &raw); err != nil {
			return cue.Value{}, &LoadError{Path: name, Message: "syntax error", Err: err}
		}
	default:
		return cue.Value{}, &LoadError{Path: name, Message: fmt.Sprintf("unknown format %q", format)}
	}
	if raw == nil {
		raw = map[string]any{}
	}

	v := ctx.Encode(raw)
	if err := v.Err(); err != nil {
		return cue.Value{}, &LoadError{Path: name, Message: "unsupported value", Err: err}
	}
	return v, nil
}

// cueDetails flattens a CUE error list into one line per error.
func cueDetails(err error) string {
	var lines []string
	for _, e := range cueerrors.Errors(err) {
		msg := e.Error()
		if pos := e.Position(); pos.IsValid() {
			msg = fmt.Sprintf("%s:%d:%d: %s", filepath.Base(pos.Filename()), pos.Line(), pos.Column(), msg)
		}
		lines = append(lines, msg)
	}
	if len(lines) == 0 {
		return err.Error()
	}
	return strings.Join(lines, "; ")
}
