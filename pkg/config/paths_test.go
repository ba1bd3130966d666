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
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDataDir(t *testing.T) {
	originalEnv := os.Getenv("COACH_DATA_DIR")
	defer func() {
		if originalEnv != "" {
			_ = os.Setenv("COACH_DATA_DIR", originalEnv)
		} else {
			_ = os.Unsetenv("COACH_DATA_DIR")
		}
	}()

	t.Run("default to ~/.chessgpt", func(t *testing.T) {
		_ = os.Unsetenv("COACH_DATA_DIR")

		dataDir := GetDataDir()

		homeDir, err := os.UserHomeDir()
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(homeDir, ".chessgpt"), dataDir)
	})

	t.Run("use COACH_DATA_DIR when set", func(t *testing.T) {
		customDir := "/custom/coach/data"
		_ = os.Setenv("COACH_DATA_DIR", customDir)

		assert.Equal(t, customDir, GetDataDir())
	})

	t.Run("expand ~ in COACH_DATA_DIR", func(t *testing.T) {
		_ = os.Setenv("COACH_DATA_DIR", "~/custom/.chessgpt")

		dataDir := GetDataDir()

		homeDir, err := os.UserHomeDir()
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(homeDir, "custom", ".chessgpt"), dataDir)
	})

	t.Run("make relative path absolute", func(t *testing.T) {
		_ = os.Setenv("COACH_DATA_DIR", "relative/path")

		dataDir := GetDataDir()

		assert.True(t, filepath.IsAbs(dataDir))
		assert.True(t, strings.HasSuffix(dataDir, "relative/path") || strings.HasSuffix(dataDir, "relative\\path"))
	})
}

func TestGetSubPath(t *testing.T) {
	originalEnv := os.Getenv("COACH_DATA_DIR")
	defer func() {
		if originalEnv != "" {
			_ = os.Setenv("COACH_DATA_DIR", originalEnv)
		} else {
			_ = os.Unsetenv("COACH_DATA_DIR")
		}
	}()

	t.Run("return path inside data dir", func(t *testing.T) {
		_ = os.Unsetenv("COACH_DATA_DIR")

		dbPath := GetSubPath("coach.db")

		homeDir, err := os.UserHomeDir()
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(homeDir, ".chessgpt", "coach.db"), dbPath)
	})

	t.Run("respect COACH_DATA_DIR", func(t *testing.T) {
		_ = os.Setenv("COACH_DATA_DIR", "/custom/coach")

		assert.Equal(t, filepath.Join("/custom/coach", "policies.yaml"), GetSubPath("policies.yaml"))
	})
}

func TestExpandPath(t *testing.T) {
	homeDir, err := os.UserHomeDir()
	require.NoError(t, err)

	t.Run("expand tilde", func(t *testing.T) {
		assert.Equal(t, filepath.Join(homeDir, "test", "path"), expandPath("~/test/path"))
	})

	t.Run("absolute path unchanged", func(t *testing.T) {
		assert.Equal(t, "/absolute/path", expandPath("/absolute/path"))
	})

	t.Run("relative path made absolute", func(t *testing.T) {
		result := expandPath("relative/path")
		assert.True(t, filepath.IsAbs(result))
	})
}
