package confkit

import (
	"fmt"
	"os"
	"path/filepath"
)

const maxSearchDepth = 8

// ProjectRoot walks upward from the working directory until it finds a
// directory containing go.mod or .git, falling back to the working directory.
func ProjectRoot() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return ".", fmt.Errorf("getwd: %w", err)
	}
	root := wd
	walkUp(wd, func(dir string) bool {
		if isProjectRoot(dir) {
			root = dir
			return true
		}
		return false
	})
	return root, nil
}

// ResolveConfigPath returns path unchanged when it exists or is absolute;
// otherwise it tries the same relative path under the project root, so a
// binary started from a subdirectory still finds etc/*.yaml.
func ResolveConfigPath(path string) string {
	path = os.ExpandEnv(path)
	if filepath.IsAbs(path) || fileExists(path) {
		return path
	}
	root, err := ProjectRoot()
	if err != nil {
		return path
	}
	if candidate := filepath.Join(root, path); fileExists(candidate) {
		return candidate
	}
	return path
}

// walkUp calls visit for dir and its parents until visit returns true, the
// filesystem root is reached, or the depth limit is hit.
func walkUp(dir string, visit func(string) bool) {
	dir = filepath.Clean(dir)
	for i := 0; i < maxSearchDepth; i++ {
		if visit(dir) {
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}

func isProjectRoot(dir string) bool {
	return fileExists(filepath.Join(dir, "go.mod")) || fileExists(filepath.Join(dir, ".git"))
}

func fileExists(p string) bool {
	if p == "" {
		return false
	}
	_, err := os.Stat(p)
	return err == nil
}
