//go:build !unix

package harden

func disableCoreDumps() error { return nil }

// CoreLimit always reports zero on platforms without core-dump limits.
func CoreLimit() (uint64, error) { return 0, nil }
