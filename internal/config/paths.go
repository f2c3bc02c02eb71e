package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ServiceHost and ServicePort locate the bundled terminal service.
const (
	ServiceHost = "127.0.0.1"
	ServicePort = 9889
)

// Paths groups the directories under the agentmux home.
type Paths struct {
	Home         string
	DB           string
	Logs         string
	TerminalLogs string
	Profiles     string
}

var (
	pathsOnce sync.Once
	paths     Paths
)

// GetPaths returns the agentmux home layout, rooted at ~/.agentmux or
// AMX_HOME when set.
func GetPaths() Paths {
	pathsOnce.Do(func() {
		home := os.Getenv("AMX_HOME")
		if home == "" {
			userHome, err := os.UserHomeDir()
			if err != nil {
				userHome = "."
			}
			home = filepath.Join(userHome, ".agentmux")
		}
		paths = Paths{
			Home:         home,
			DB:           filepath.Join(home, "db"),
			Logs:         filepath.Join(home, "logs"),
			TerminalLogs: filepath.Join(home, "logs", "terminal"),
			Profiles:     filepath.Join(home, "profiles"),
		}
	})
	return paths
}

// DatabaseFile is the terminal registry database.
func (p Paths) DatabaseFile() string {
	return filepath.Join(p.DB, "agentmux.db")
}

// EnsureDirs creates the home layout if missing.
func (p Paths) EnsureDirs() error {
	for _, dir := range []string{p.Home, p.DB, p.Logs, p.TerminalLogs, p.Profiles} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
