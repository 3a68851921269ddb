package config

import (
	"os"
	"path/filepath"
	goruntime "runtime"
)

const appDirName = "llmq"

// DefaultDataDir returns the broker's default storage root for the host OS.
// XDG_DATA_HOME wins when set; without a home directory it falls back to
// ./data.
func DefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appDirName)
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "./data"
	}
	switch goruntime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", appDirName)
	case "windows":
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			return filepath.Join(local, appDirName)
		}
		return filepath.Join(home, "AppData", "Local", appDirName)
	}
	if os.Geteuid() == 0 && isDir("/var/lib") {
		return filepath.Join("/var/lib", appDirName)
	}
	return filepath.Join(home, ".local", "share", appDirName)
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
