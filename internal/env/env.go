// Package env captures configuration read from the process environment,
// the way the teacher's own internal/env package resolves DISTRIROOT.
package env

import (
	"os"
	"path/filepath"
)

// BuildDir is the directory build outputs are written under. Overridden by
// ERECT_BUILD_DIR; defaults to ./build relative to the working directory.
var BuildDir = findBuildDir()

// CacheFile is the path to the persistent cache database. Overridden by
// ERECT_CACHE; defaults to ./.erect relative to the working directory.
var CacheFile = findCacheFile()

func findBuildDir() string {
	if v := os.Getenv("ERECT_BUILD_DIR"); v != "" {
		return v
	}
	return "build"
}

func findCacheFile() string {
	if v := os.Getenv("ERECT_CACHE"); v != "" {
		return v
	}
	return filepath.Join(".", ".erect")
}
