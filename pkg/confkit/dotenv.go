// Package confkit holds the process-level helpers shared by config loading:
// .env discovery and project-relative path resolution.
package confkit

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/joho/godotenv"
)

var dotenvOnce sync.Once

// DotenvOptions controls a single .env load.
type DotenvOptions struct {
	// Disabled skips loading entirely (NO_DOTENV=1).
	Disabled bool
	// Overload lets .env values replace variables already set (DOTENV_OVERLOAD=1).
	Overload bool
	// File is an explicit file to load instead of searching (ENV_FILE).
	File string
	// StartDir is where the upward search begins; defaults to the working directory.
	StartDir string
}

// DotenvOptionsFromEnv reads the switches from the process environment.
func DotenvOptionsFromEnv() DotenvOptions {
	return DotenvOptions{
		Disabled: os.Getenv("NO_DOTENV") == "1",
		Overload: os.Getenv("DOTENV_OVERLOAD") == "1",
		File:     os.Getenv("ENV_FILE"),
	}
}

// LoadDotenvOnce loads .env files on the first call only. Existing
// environment variables win unless DOTENV_OVERLOAD=1 is set.
func LoadDotenvOnce() {
	dotenvOnce.Do(func() {
		_, _ = LoadDotenv(DotenvOptionsFromEnv())
	})
}

// LoadDotenv loads either the explicit file or every .env found walking up
// from StartDir to the project root, nearest first. It returns the files that
// were applied.
func LoadDotenv(opts DotenvOptions) ([]string, error) {
	if opts.Disabled {
		return nil, nil
	}
	load := godotenv.Load
	if opts.Overload {
		load = godotenv.Overload
	}

	if opts.File != "" {
		if err := load(opts.File); err != nil {
			return nil, err
		}
		return []string{opts.File}, nil
	}

	start := opts.StartDir
	if start == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		start = wd
	}

	var loaded []string
	walkUp(start, func(dir string) bool {
		candidate := filepath.Join(dir, ".env")
		if fileExists(candidate) && load(candidate) == nil {
			loaded = append(loaded, candidate)
		}
		return isProjectRoot(dir)
	})
	return loaded, nil
}
