package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/emberhq/kilnd/internal"
)

// Represents the root command for the kilnd daemon.
var RootCmd struct {
	Quiet     bool       `short:"q" help:"Suppress informational output."`
	Debug     bool       `short:"d" help:"Enable debug output."`
	LogFormat string     `help:"Log output format." enum:"auto,text,json" default:"auto"`
	Config    string     `short:"c" help:"Path to the daemon configuration file." placeholder:"PATH"`
	Start     StartCmd   `cmd:"" help:"Start the daemon."`
	Recipe    RecipeCmd  `cmd:"" help:"Print the build recipe a source directory would get."`
	Version   VersionCmd `cmd:"" help:"Show version information."`
}

// Parses arguments, configures logging, and runs the selected subcommand.
func Execute() error {

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kongCtx := kong.Parse(&RootCmd,
		kong.Name(internal.Name),
		kong.Description("The Ember build daemon.\n\nAccepts container build requests over a local HTTP API and drives them through an external container tool."),
		kong.UsageOnError(),
		kong.Vars{
			"version": internal.VersionString(),
		},
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	configureLogger()

	return kongCtx.Run()
}

// Configures the global logger based on CLI flags.
func configureLogger() {
	debug := RootCmd.Debug || internal.IsDebug()
	quiet := RootCmd.Quiet || internal.IsQuiet()

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	} else if quiet {
		level = slog.LevelWarn
	}

	opts := &slog.HandlerOptions{Level: level}

	// "auto" keys the format off the stream: text for terminals, JSON for
	// anything collected (journald, files, pipes).
	format := RootCmd.LogFormat
	if format == "auto" {
		if isatty(os.Stderr) {
			format = "text"
		} else {
			format = "json"
		}
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// Whether the given file is an interactive terminal.
func isatty(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
