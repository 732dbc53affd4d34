//go:build !linux

package sandbox

func applyRlimits(int, Limits) {}
