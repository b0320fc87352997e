// Provides platform-appropriate paths for the daemon.
//
// All paths follow XDG conventions on Linux and platform-native conventions
// on macOS and Windows. The daemon name "kilnd" is used as the subdirectory
// under each base path: runtime files (socket, PID) under the runtime dir,
// per-build working directories under the cache home, the private container
// tool configuration under the state home, and the file-backed bundle store
// under the data home.
package paths
