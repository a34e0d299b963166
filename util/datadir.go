package util

import (
	"os"
	"path/filepath"
)

// DefaultDataDir returns $HOME/.tessa, falling back to the working directory
// when HOME is unset.
func DefaultDataDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		if h, err := os.UserHomeDir(); err == nil {
			home = h
		}
	}

	if home == "" {
		return ".tessa"
	}

	return filepath.Join(home, ".tessa")
}
