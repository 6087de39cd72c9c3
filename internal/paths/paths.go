// SPDX-License-Identifier: AGPL-3.0-or-later

// Package paths resolves where kfpt keeps its history and looks for config.
package paths

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
)

const (
	appDirName       = "kfpt"
	envDataDir       = "KFPT_DATA_DIR"
	envXDGDataHome   = "XDG_DATA_HOME"
	envXDGConfigHome = "XDG_CONFIG_HOME"
	envLocalAppData  = "LOCALAPPDATA"
)

var override atomic.Pointer[string]

// SetDataDirOverride pins DataDir, as the config loader does for data_dir.
// An empty dir clears the pin.
func SetDataDirOverride(dir string) {
	if dir == "" {
		override.Store(nil)
		return
	}
	clean := filepath.Clean(dir)
	override.Store(&clean)
}

// DataDir returns the directory holding the submission history. The first
// of these wins: the override, $KFPT_DATA_DIR, %LOCALAPPDATA%\kfpt on
// Windows, $XDG_DATA_HOME/kfpt, ~/.local/share/kfpt, ./kfpt and finally the
// OS temp dir.
func DataDir() string {
	for _, candidate := range []func() string{
		func() string {
			if ptr := override.Load(); ptr != nil {
				return *ptr
			}
			return ""
		},
		func() string { return cleanEnv(envDataDir) },
		func() string {
			if runtime.GOOS == "windows" {
				return joinEnv(envLocalAppData)
			}
			return ""
		},
		func() string { return joinEnv(envXDGDataHome) },
		func() string {
			if home, err := os.UserHomeDir(); err == nil && home != "" {
				return filepath.Join(home, ".local", "share", appDirName)
			}
			return ""
		},
		func() string {
			if cwd, err := os.Getwd(); err == nil && cwd != "" {
				return filepath.Join(cwd, appDirName)
			}
			return ""
		},
	} {
		if dir := candidate(); dir != "" {
			return dir
		}
	}
	return filepath.Join(os.TempDir(), appDirName)
}

// ConfigDir returns $XDG_CONFIG_HOME/kfpt or the os.UserConfigDir
// equivalent, or "" when neither is known.
func ConfigDir() string {
	if dir := joinEnv(envXDGConfigHome); dir != "" {
		return dir
	}
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, appDirName)
	}
	return ""
}

// FindConfig returns the first regular file among workDir/projectFile and
// ConfigDir()/userFile, or "" when neither exists. An empty workDir means the
// current directory.
func FindConfig(workDir, projectFile, userFile string) (string, error) {
	if workDir == "" {
		if cwd, err := os.Getwd(); err == nil {
			workDir = cwd
		}
	}
	candidates := []string{filepath.Join(workDir, projectFile)}
	if dir := ConfigDir(); dir != "" {
		candidates = append(candidates, filepath.Join(dir, userFile))
	}
	for _, c := range candidates {
		info, err := os.Stat(c)
		switch {
		case err == nil && !info.IsDir():
			return c, nil
		case err != nil && !errors.Is(err, os.ErrNotExist):
			return "", fmt.Errorf("stat %s: %w", c, err)
		}
	}
	return "", nil
}

func cleanEnv(key string) string {
	if v := os.Getenv(key); v != "" {
		return filepath.Clean(v)
	}
	return ""
}

func joinEnv(key string) string {
	if v := os.Getenv(key); v != "" {
		return filepath.Join(v, appDirName)
	}
	return ""
}
