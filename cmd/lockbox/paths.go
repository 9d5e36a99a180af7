package main

import (
	"os"
	"path/filepath"
)

// lockboxHome returns the path to the lockbox home directory (~/.lockbox).
func lockboxHome() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".lockbox"), nil
}

func defaultSocketPath() string {
	home, err := lockboxHome()
	if err != nil {
		return filepath.Join(os.TempDir(), "lockbox.sock")
	}
	return filepath.Join(home, "lockbox.sock")
}
