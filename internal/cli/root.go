package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/cruciblehq/devimg/internal"
)

// Represents the root command for devimg.
var RootCmd struct {
	Quiet    bool        `short:"q" env:"DEVIMG_QUIET" help:"Suppress informational output."`
	Verbose  bool        `short:"v" env:"DEVIMG_VERBOSE" help:"Enable verbose output."`
	Debug    bool        `short:"d" env:"DEVIMG_DEBUG" help:"Enable debug output."`
	Socket   string      `short:"s" env:"DEVIMG_SOCKET" help:"Override the default Unix socket path." placeholder:"PATH"`
	Config   string      `short:"c" env:"DEVIMG_CONFIG" type:"path" help:"Configuration file applied after the user and project files." placeholder:"FILE"`
	Build    BuildCmd    `cmd:"" help:"Build a development image with the project installed in editable mode."`
	Plan     PlanCmd     `cmd:"" help:"Print the build recipe without building."`
	Serve    ServeCmd    `cmd:"" help:"Run the build daemon."`
	Status   StatusCmd   `cmd:"" help:"Show daemon status."`
	Shutdown ShutdownCmd `cmd:"" help:"Stop the daemon."`
	Prune    PruneCmd    `cmd:"" help:"Remove layer cache entries that have not been used recently."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`
}

// Parses arguments, configures logging, and runs the selected subcommand.
func Execute() error {

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kongCtx := kong.Parse(&RootCmd,
		kong.Name(internal.Name),
		kong.Description("Builds container images for Python development.\n\nThe project is staged into a pinned Python base image and installed in editable mode."),
		kong.UsageOnError(),
		kong.Vars{
			"version": internal.VersionString(),
		},
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	configureLogger()

	return kongCtx.Run()
}

// Replaces the default logger according to the parsed flags.
//
// Flags only enable modes; build-time defaults set via linker flags stay in
// effect when a flag is absent.
func configureLogger() {
	if RootCmd.Debug {
		internal.SetMode(internal.ModeDebug, true)
	}
	if RootCmd.Quiet {
		internal.SetMode(internal.ModeQuiet, true)
	}
	if RootCmd.Verbose {
		internal.SetMode(internal.ModeVerbose, true)
	}

	slog.SetDefault(internal.NewLogger(os.Stderr, internal.LogLevel(), internal.ModeEnabled(internal.ModeVerbose)))
}
