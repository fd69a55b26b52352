package paths

import (
	"os"
	"path/filepath"
)

// BaseDir returns the daemon state directory, ~/.shieldsms by default.
// SHIELDSMS_HOME overrides it (used by tests and packaging).
func BaseDir() string {
	if dir := os.Getenv("SHIELDSMS_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".shieldsms")
}

// DBPath returns the path of the message database.
func DBPath() string {
	return filepath.Join(BaseDir(), "shield.db")
}

// SocketPath returns the daemon's unix socket path.
func SocketPath() string {
	return filepath.Join(BaseDir(), "daemon.sock")
}

// LockPath returns the single-instance lock file path.
func LockPath() string {
	return filepath.Join(BaseDir(), "LOCK")
}

// ConfigPath returns the config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// LogDir returns the log directory.
func LogDir() string {
	return filepath.Join(BaseDir(), "logs")
}

// LogPath returns the daemon log file path.
func LogPath() string {
	return filepath.Join(LogDir(), "shieldd.log")
}

// EnsureTree creates the state directory tree with owner-only permissions.
func EnsureTree() error {
	for _, d := range []string{BaseDir(), LogDir()} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
