package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// ErrDotEnvNotFound is returned when no .env file exists in the working
// directory or any of its parents.
var ErrDotEnvNotFound = errors.New(".env file not found")

// LoadDotEnv finds the nearest .env file walking up from the working
// directory and loads it. Variables already present in the environment are
// left untouched. It returns the path that was loaded.
func LoadDotEnv() (string, error) {
	path, err := resolveUpwards(".env")
	if err != nil {
		return "", err
	}
	if err := godotenv.Load(path); err != nil {
		return "", fmt.Errorf("load %s: %w", path, err)
	}
	return path, nil
}

// resolveUpwards locates a file relative to the working directory by walking up the directory tree.
func resolveUpwards(relative string) (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		candidate := filepath.Join(dir, relative)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", ErrDotEnvNotFound
}
