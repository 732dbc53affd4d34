// Package config loads a project's harnessforge configuration.
//
// A configuration document is YAML, TOML or CUE (chosen by file extension).
// Whatever the format, the document is checked against the embedded CUE
// schema before it is decoded, so every format rejects the same mistakes.
// Fields left out keep the defaults from Default.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/roach88/harnessforge/internal/candidate"
	"github.com/roach88/harnessforge/internal/engine"
	"github.com/roach88/harnessforge/internal/generation"
	"github.com/roach88/harnessforge/internal/metadata"
	"github.com/roach88/harnessforge/internal/sandbox"
)

// APIKeyEnv overrides generation.api_key.
const APIKeyEnv = "HARNESSFORGE_API_KEY"

// Default values not owned by another package.
const (
	DefaultOutputDir = "harnessforge-out"
	DefaultDeadline  = 30 * time.Minute
	DefaultSeeds     = 1
	DefaultModel     = "gpt-4o"
)

// Duration is a time.Duration written as a Go duration string ("90s").
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", b, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is one project's configuration.
type Config struct {
	Name            string             `json:"name" yaml:"name" toml:"name"`
	Language        candidate.Language `json:"language" yaml:"language" toml:"language"`
	Root            string             `json:"root,omitempty" yaml:"root,omitempty" toml:"root,omitempty"`
	OutputDir       string             `json:"output_dir,omitempty" yaml:"output_dir,omitempty" toml:"output_dir,omitempty"`
	SourceDirs      []string           `json:"source_dirs,omitempty" yaml:"source_dirs,omitempty" toml:"source_dirs,omitempty"`
	TargetFunctions []string           `json:"target_functions,omitempty" yaml:"target_functions,omitempty" toml:"target_functions,omitempty"`
	Engine          Engine             `json:"engine" yaml:"engine" toml:"engine"`
	Sandbox         Sandbox            `json:"sandbox" yaml:"sandbox" toml:"sandbox"`
	Generation      Generation         `json:"generation" yaml:"generation" toml:"generation"`

	// Dir is the directory the document was loaded from. Relative paths
	// resolve against it.
	Dir string `json:"-" yaml:"-" toml:"-"`
}

// Engine holds scheduling and budget policy.
type Engine struct {
	Concurrency        int      `json:"concurrency" yaml:"concurrency" toml:"concurrency"`
	QueueSize          int      `json:"queue_size" yaml:"queue_size" toml:"queue_size"`
	RepairBudget       int      `json:"repair_budget" yaml:"repair_budget" toml:"repair_budget"`
	MutationRounds     int      `json:"mutation_rounds" yaml:"mutation_rounds" toml:"mutation_rounds"`
	PlateauThreshold   int      `json:"plateau_threshold" yaml:"plateau_threshold" toml:"plateau_threshold"`
	MaxCombinationSize int      `json:"max_combination_size" yaml:"max_combination_size" toml:"max_combination_size"`
	GenerationSlots    int      `json:"generation_slots" yaml:"generation_slots" toml:"generation_slots"`
	GenerationRetries  int      `json:"generation_retries" yaml:"generation_retries" toml:"generation_retries"`
	GenerationTimeout  Duration `json:"generation_timeout" yaml:"generation_timeout" toml:"generation_timeout"`
	GenerationBackoff  Duration `json:"generation_backoff" yaml:"generation_backoff" toml:"generation_backoff"`
	Deadline           Duration `json:"deadline" yaml:"deadline" toml:"deadline"`
	Seeds              int      `json:"seeds" yaml:"seeds" toml:"seeds"`
}

// Sandbox holds validation limits and toolchain overrides.
type Sandbox struct {
	Timeout          Duration `json:"timeout" yaml:"timeout" toml:"timeout"`
	FuzzTime         Duration `json:"fuzz_time" yaml:"fuzz_time" toml:"fuzz_time"`
	InputTimeout     Duration `json:"input_timeout" yaml:"input_timeout" toml:"input_timeout"`
	RSSLimitMB       int      `json:"rss_limit_mb" yaml:"rss_limit_mb" toml:"rss_limit_mb"`
	MaxOutputBytes   int      `json:"max_output_bytes" yaml:"max_output_bytes" toml:"max_output_bytes"`
	MaxFileBytes     int64    `json:"max_file_bytes" yaml:"max_file_bytes" toml:"max_file_bytes"`
	MaxCorpusSamples int      `json:"max_corpus_samples" yaml:"max_corpus_samples" toml:"max_corpus_samples"`
	WorkDir          string   `json:"work_dir,omitempty" yaml:"work_dir,omitempty" toml:"work_dir,omitempty"`
	CC               string   `json:"cc,omitempty" yaml:"cc,omitempty" toml:"cc,omitempty"`
	CXX              string   `json:"cxx,omitempty" yaml:"cxx,omitempty" toml:"cxx,omitempty"`
	Python           string   `json:"python,omitempty" yaml:"python,omitempty" toml:"python,omitempty"`
	IncludeDirs      []string `json:"include_dirs,omitempty" yaml:"include_dirs,omitempty" toml:"include_dirs,omitempty"`
	ExtraFlags       []string `json:"extra_flags,omitempty" yaml:"extra_flags,omitempty" toml:"extra_flags,omitempty"`
}

// Generation configures the language-model collaborator.
type Generation struct {
	Provider    string   `json:"provider,omitempty" yaml:"provider,omitempty" toml:"provider,omitempty"`
	Model       string   `json:"model" yaml:"model" toml:"model"`
	APIURL      string   `json:"api_url,omitempty" yaml:"api_url,omitempty" toml:"api_url,omitempty"`
	APIKey      string   `json:"api_key,omitempty" yaml:"api_key,omitempty" toml:"api_key,omitempty"`
	MaxTokens   int      `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
	Temperature float64  `json:"temperature" yaml:"temperature" toml:"temperature"`
	HTTPTimeout Duration `json:"http_timeout" yaml:"http_timeout" toml:"http_timeout"`
}

// Default returns a configuration with every default filled in. Name and
// Language have no default.
func Default() Config {
	ec := engine.DefaultConfig()
	limits := sandbox.DefaultLimits()
	retry := generation.DefaultRetryPolicy()
	return Config{
		OutputDir: DefaultOutputDir,
		Engine: Engine{
			Concurrency:        ec.Concurrency,
			QueueSize:          ec.QueueSize,
			RepairBudget:       ec.RepairBudget,
			MutationRounds:     ec.MutationRounds,
			PlateauThreshold:   ec.PlateauThreshold,
			MaxCombinationSize: ec.MaxCombinationSize,
			GenerationSlots:    ec.GenerationSlots,
			GenerationRetries:  retry.Attempts,
			GenerationTimeout:  Duration(retry.Timeout),
			GenerationBackoff:  Duration(retry.Backoff),
			Deadline:           Duration(DefaultDeadline),
			Seeds:              DefaultSeeds,
		},
		Sandbox: Sandbox{
			Timeout:          Duration(limits.Timeout),
			FuzzTime:         Duration(limits.FuzzTime),
			InputTimeout:     Duration(limits.InputTimeout),
			RSSLimitMB:       limits.RSSLimitMB,
			MaxOutputBytes:   limits.MaxOutputBytes,
			MaxFileBytes:     limits.MaxFileBytes,
			MaxCorpusSamples: limits.MaxCorpusSamples,
		},
		Generation: Generation{
			Model:       DefaultModel,
			MaxTokens:   4096,
			Temperature: 0.2,
			HTTPTimeout: Duration(2 * time.Minute),
		},
	}
}

// Resolve returns p relative to the configuration directory unless it is
// already absolute.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Dir, p)
}

// ProjectRoot is the directory holding the target sources.
func (c *Config) ProjectRoot() string {
	if c.Root == "" {
		return c.Dir
	}
	return c.Resolve(c.Root)
}

// OutputPath is the directory artifacts and the index are written to.
func (c *Config) OutputPath() string {
	return c.Resolve(c.OutputDir)
}

// Source describes the project for the metadata extractor.
func (c *Config) Source() metadata.Source {
	return metadata.Source{
		Root:            c.ProjectRoot(),
		Name:            c.Name,
		Language:        c.Language,
		SourceDirs:      c.SourceDirs,
		TargetFunctions: c.TargetFunctions,
	}
}

// Limits converts the sandbox section.
func (c *Config) Limits() sandbox.Limits {
	return sandbox.Limits{
		WorkDir:          c.Resolve(c.Sandbox.WorkDir),
		Timeout:          c.Sandbox.Timeout.Std(),
		FuzzTime:         c.Sandbox.FuzzTime.Std(),
		InputTimeout:     c.Sandbox.InputTimeout.Std(),
		RSSLimitMB:       c.Sandbox.RSSLimitMB,
		MaxOutputBytes:   c.Sandbox.MaxOutputBytes,
		MaxFileBytes:     c.Sandbox.MaxFileBytes,
		MaxCorpusSamples: c.Sandbox.MaxCorpusSamples,
	}
}

// Retry converts the generation retry settings.
func (c *Config) Retry() generation.RetryPolicy {
	return generation.RetryPolicy{
		Attempts: c.Engine.GenerationRetries,
		Timeout:  c.Engine.GenerationTimeout.Std(),
		Backoff:  c.Engine.GenerationBackoff.Std(),
	}
}

// EngineConfig converts the engine section.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		Concurrency:        c.Engine.Concurrency,
		QueueSize:          c.Engine.QueueSize,
		RepairBudget:       c.Engine.RepairBudget,
		MutationRounds:     c.Engine.MutationRounds,
		PlateauThreshold:   c.Engine.PlateauThreshold,
		MaxCombinationSize: c.Engine.MaxCombinationSize,
		GenerationSlots:    c.Engine.GenerationSlots,
		Retry:              c.Retry(),
		Limits:             c.Limits(),
	}
}

// BudgetLimits returns the run budget for a run starting at start.
func (c *Config) BudgetLimits(start time.Time) engine.BudgetLimits {
	limits := engine.BudgetLimits{
		RepairPerLineage: c.Engine.RepairBudget,
		MutationRounds:   c.Engine.MutationRounds,
	}
	if d := c.Engine.Deadline.Std(); d > 0 {
		limits.Deadline = start.Add(d)
	}
	return limits
}

// ClientConfig converts the generation section.
func (c *Config) ClientConfig() generation.ClientConfig {
	return generation.ClientConfig{
		Provider:    c.Generation.Provider,
		Model:       c.Generation.Model,
		APIURL:      c.Generation.APIURL,
		APIKey:      c.Generation.APIKey,
		Language:    c.Language,
		MaxTokens:   c.Generation.MaxTokens,
		Temperature: c.Generation.Temperature,
		HTTPTimeout: c.Generation.HTTPTimeout.Std(),
	}
}

// ValidatorOptions converts toolchain overrides.
func (c *Config) ValidatorOptions() []sandbox.Option {
	var opts []sandbox.Option
	if c.Sandbox.CC != "" || c.Sandbox.CXX != "" {
		cc, cxx := c.Sandbox.CC, c.Sandbox.CXX
		if cc == "" {
			cc = "clang"
		}
		if cxx == "" {
			cxx = "clang++"
		}
		opts = append(opts, sandbox.WithCompilers(cc, cxx))
	}
	if c.Sandbox.Python != "" {
		opts = append(opts, sandbox.WithPython(c.Sandbox.Python))
	}
	if len(c.Sandbox.IncludeDirs) > 0 {
		opts = append(opts, sandbox.WithIncludeDirs(c.Sandbox.IncludeDirs...))
	}
	if len(c.Sandbox.ExtraFlags) > 0 {
		opts = append(opts, sandbox.WithExtraFlags(c.Sandbox.ExtraFlags...))
	}
	return opts
}
