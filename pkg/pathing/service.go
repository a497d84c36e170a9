package pathing

import (
	"os"
	"path/filepath"
)

// GetConfigDir resolves the configuration directory. GONEVA_CONFIG_DIR
// overrides the system default, which keeps tests and non-root runs off
// /etc.
func GetConfigDir() string {
	if dir := os.Getenv("GONEVA_CONFIG_DIR"); dir != "" {
		return dir
	}
	return "/etc/goneva"
}

func GetConfigPath(name string) string {
	return filepath.Join(GetConfigDir(), name)
}
