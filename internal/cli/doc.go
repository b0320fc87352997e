// Parses flags and configures logging for the kilnd daemon.
//
// The daemon accepts the following flags:
//
//	-q, --quiet       Suppress informational output.
//	-d, --debug       Enable debug output.
//	    --log-format  Log output format (auto, text, or json).
//	-c, --config      Path to the daemon configuration file.
//
// Flags override build-time defaults set via linker flags, and subcommand
// flags override their config file counterparts. After parsing, the global
// logger is reconfigured to reflect the final level and format before the
// server starts.
package cli
