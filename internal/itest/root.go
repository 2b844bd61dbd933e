//go:build integration

package itest

import (
	"os"
	"path/filepath"
	"testing"
)

// mustRepoRoot walks up from the working directory to the module that holds cmd/capburn.
func mustRepoRoot(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("repo root: %v", err)
	}
	for dir := wd; ; dir = filepath.Dir(dir) {
		if isModuleRoot(dir) {
			return dir
		}
		if filepath.Dir(dir) == dir {
			break
		}
	}
	t.Fatalf("repo root: no go.mod with cmd/capburn above %s", wd)
	return ""
}

func isModuleRoot(dir string) bool {
	for _, p := range []string{"go.mod", filepath.Join("cmd", "capburn", "main.go")} {
		if _, err := os.Stat(filepath.Join(dir, p)); err != nil {
			return false
		}
	}
	return true
}
