package sandbox

import "time"

// Limits bounds a single validation.
type Limits struct {
	// WorkDir is where per-candidate scratch directories are created.
	// Empty means os.TempDir().
	WorkDir string

	// Timeout is the hard wall clock for the whole validation, compile
	// through run. The process group is killed when it expires.
	Timeout time.Duration

	// FuzzTime is the fuzzing duration handed to the harness.
	FuzzTime time.Duration

	// InputTimeout is the per-input hang limit inside the fuzzer.
	InputTimeout time.Duration

	RSSLimitMB int

	// MaxOutputBytes caps the diagnostic kept per step. Output beyond
	// 64x this cap is treated as a sandbox violation.
	MaxOutputBytes int

	// MaxFileBytes caps any single file the harness writes.
	MaxFileBytes int64

	MaxCorpusSamples int
}

// floodFactor times MaxOutputBytes is the output volume that counts as a
// violation rather than a noisy failure.
const floodFactor = 64

// DefaultLimits returns the configuration defaults.
func DefaultLimits() Limits {
	return Limits{
		Timeout:          2 * time.Minute,
		FuzzTime:         5 * time.Second,
		InputTimeout:     5 * time.Second,
		RSSLimitMB:       2048,
		MaxOutputBytes:   16 << 10,
		MaxFileBytes:     64 << 20,
		MaxCorpusSamples: 16,
	}
}

// withDefaults fills zero fields from DefaultLimits.
func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.Timeout <= 0 {
		l.Timeout = d.Timeout
	}
	if l.FuzzTime <= 0 {
		l.FuzzTime = d.FuzzTime
	}
	if l.InputTimeout <= 0 {
		l.InputTimeout = d.InputTimeout
	}
	if l.RSSLimitMB <= 0 {
		l.RSSLimitMB = d.RSSLimitMB
	}
	if l.MaxOutputBytes <= 0 {
		l.MaxOutputBytes = d.MaxOutputBytes
	}
	if l.MaxFileBytes <= 0 {
		l.MaxFileBytes = d.MaxFileBytes
	}
	if l.MaxCorpusSamples < 0 {
		l.MaxCorpusSamples = 0
	}
	return l
}

func seconds(d time.Duration) int {
	s := int((d + time.Second - 1) / time.Second)
	return max(s, 1)
}
