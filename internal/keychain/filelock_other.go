//go:build !unix && !windows

package keychain

import "os"

// Platforms without advisory locks fall back to the in-process mutex.
func lockFD(*os.File) error   { return nil }
func unlockFD(*os.File) error { return nil }
