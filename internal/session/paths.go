package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.chatsync, or $CHATSYNC_HOME when set.
func BaseDir() string {
	if dir := os.Getenv("CHATSYNC_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".chatsync")
}

// Dir returns the profile-specific directory.
func Dir(profile string) string {
	return filepath.Join(BaseDir(), "profiles", profile)
}

// SocketPath returns the gRPC socket path for a profile.
func SocketPath(profile string) string {
	return filepath.Join(Dir(profile), "chatsyncd.sock")
}

// TransportDBPath returns the whatsmeow device store path.
func TransportDBPath(profile string) string {
	return filepath.Join(Dir(profile), "transport.db")
}

// StoreDBPath returns the chat store path.
func StoreDBPath(profile string) string {
	return filepath.Join(Dir(profile), "chats.db")
}

// LogDir returns the log directory for a profile.
func LogDir(profile string) string {
	return filepath.Join(Dir(profile), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(profile string) string {
	return filepath.Join(LogDir(profile), "chatsyncd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the profile directory tree with owner-only permissions.
func EnsureDir(profile string) error {
	for _, d := range []string{Dir(profile), LogDir(profile)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
