package paths

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

const (

	// Name used for directory and file naming.
	programName = "devimg"

	// Default permission mode for directories.
	DefaultDirMode os.FileMode = 0755

	// Default permission mode for files.
	DefaultFileMode os.FileMode = 0644

	// Name of the per-project configuration file, looked up in the build
	// context root.
	ProjectConfigName = "devimg.yaml"
)

// Path to the directory for runtime files (sockets, PIDs, locks).
//
//	Linux:   $XDG_RUNTIME_DIR/devimg or /run/user/<uid>/devimg
//	macOS:   ~/Library/Caches/devimg/run
func Runtime() string {
	if xdg.RuntimeDir != "" {
		return filepath.Join(xdg.RuntimeDir, programName)
	}
	return filepath.Join(xdg.CacheHome, programName, "run")
}

// Default path to the Unix domain socket for CLI-to-daemon communication.
//
//	Linux:   $XDG_RUNTIME_DIR/devimg/devimg.sock
//	macOS:   ~/Library/Caches/devimg/run/devimg.sock
func Socket() string {
	return filepath.Join(Runtime(), "devimg.sock")
}

// Default path to the daemon PID file.
//
//	Linux:   $XDG_RUNTIME_DIR/devimg/devimg.pid
//	macOS:   ~/Library/Caches/devimg/run/devimg.pid
func PIDFile() string {
	return filepath.Join(Runtime(), "devimg.pid")
}

// Path to the lock file guarding a build target.
//
// The target (an image tag or output directory) is hashed so any string maps
// to a valid file name.
//
//	Linux:   $XDG_RUNTIME_DIR/devimg/locks/<sha256>.lock
func LockFile(target string) string {
	h := sha256.Sum256([]byte(target))
	return filepath.Join(Runtime(), "locks", hex.EncodeToString(h[:])+".lock")
}

// Path to the directory for cached build state.
//
//	Linux:   $XDG_CACHE_HOME/devimg or ~/.cache/devimg
//	macOS:   ~/Library/Caches/devimg
func Cache() string {
	return filepath.Join(xdg.CacheHome, programName)
}

// Path to the layer cache index database.
func CacheDB() string {
	return filepath.Join(Cache(), "layers.db")
}

// Path to the user-level configuration file.
//
//	Linux:   $XDG_CONFIG_HOME/devimg/config.yaml or ~/.config/devimg/config.yaml
//	macOS:   ~/Library/Application Support/devimg/config.yaml
func ConfigFile() string {
	return filepath.Join(xdg.ConfigHome, programName, "config.yaml")
}

// Path to the configuration file inside a build context.
func ProjectConfig(contextDir string) string {
	return filepath.Join(contextDir, ProjectConfigName)
}
