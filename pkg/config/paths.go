// Copyright 2026 the Chess-GPT authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config locates the coach's data directory and the files
// inside it (database, policy file, config file).
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// GetDataDir returns the coach data directory.
//
// Priority:
// 1. COACH_DATA_DIR environment variable (if set and non-empty)
// 2. ~/.chessgpt (default)
//
// The returned path is always absolute. Tilde (~) in COACH_DATA_DIR is
// expanded to the user's home directory; relative paths are made absolute.
//
// This function reads directly from os.Getenv(), not from viper, because
// it runs during bootstrap to locate the config file itself.
func GetDataDir() string {
	if dataDir := os.Getenv("COACH_DATA_DIR"); dataDir != "" {
		return expandPath(dataDir)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home dir cannot be determined
		return ".chessgpt"
	}
	return filepath.Join(homeDir, ".chessgpt")
}

// GetSubPath returns a path inside the coach data directory.
// Example: GetSubPath("coach.db") returns ~/.chessgpt/coach.db
func GetSubPath(name string) string {
	return filepath.Join(GetDataDir(), name)
}

// expandPath expands ~ and resolves to absolute path
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path // Return as-is if we can't get home dir
		}
		return filepath.Join(homeDir, path[2:])
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return path // Return as-is if we can't make it absolute
	}
	return absPath
}
