// Holds the daemon's startup configuration.
//
// Configuration is read from an optional YAML file and completed with
// built-in defaults; CLI flags override individual fields after loading.
// Durations accept Go duration strings ("10m") or plain integer seconds.
package daemon
