package paths

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

const (

	// Name used for directory and file naming.
	daemonName = "kilnd"

	// Default permission mode for directories.
	DefaultDirMode os.FileMode = 0755

	// Default permission mode for files.
	DefaultFileMode os.FileMode = 0644
)

// Path to the directory for runtime files (sockets, PIDs).
//
//	Linux:   $XDG_RUNTIME_DIR/kilnd or /run/user/<uid>/kilnd
//	macOS:   ~/Library/Caches/kilnd/run
func Runtime() string {
	if xdg.RuntimeDir != "" {
		return filepath.Join(xdg.RuntimeDir, daemonName)
	}
	return filepath.Join(xdg.CacheHome, daemonName, "run")
}

// Default path to the Unix domain socket serving the build API.
//
//	Linux:   $XDG_RUNTIME_DIR/kilnd/kilnd.sock
//	macOS:   ~/Library/Caches/kilnd/run/kilnd.sock
func Socket() string {
	return filepath.Join(Runtime(), "kilnd.sock")
}

// Default path to the PID file.
//
//	Linux:   $XDG_RUNTIME_DIR/kilnd/kilnd.pid
//	macOS:   ~/Library/Caches/kilnd/run/kilnd.pid
func PIDFile() string {
	return filepath.Join(Runtime(), "kilnd.pid")
}

// Default root for per-build working directories.
//
// Each build gets a private subdirectory keyed by its id; the directory is
// removed when the build reaches a terminal state.
//
//	Linux:   ~/.cache/kilnd/builds
func WorkRoot() string {
	return filepath.Join(xdg.CacheHome, daemonName, "builds")
}

// Directory holding the daemon's private container-tool configuration.
//
// Registry logins performed for push operations write credentials here
// instead of the invoking user's own configuration.
//
//	Linux:   ~/.local/state/kilnd/docker
func DockerConfig() string {
	return filepath.Join(xdg.StateHome, daemonName, "docker")
}

// Default directory for the file-backed bundle store.
//
//	Linux:   ~/.local/share/kilnd/bundles
func BundleDir() string {
	return filepath.Join(xdg.DataHome, daemonName, "bundles")
}
