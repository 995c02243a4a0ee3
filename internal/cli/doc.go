// Parses flags and runs the devimg commands.
//
// Global flags:
//
//	-q, --quiet     Suppress informational output.
//	-v, --verbose   Enable verbose output.
//	-d, --debug     Enable debug output.
//	-s, --socket    Unix socket path of the daemon.
//	-c, --config    Extra configuration file.
//
// Commands:
//
//	build [CONTEXT]   Build the image, in process or on the daemon (--remote).
//	plan [CONTEXT]    Print the recipe or the exclusion patterns.
//	serve             Run the daemon.
//	status            Query the daemon.
//	shutdown          Stop the daemon.
//	prune             Trim the layer cache.
//	version           Print version information.
//
// Flags override build-time defaults set via linker flags. After parsing, the
// global logger is replaced to reflect the final level and verbosity before
// the command runs.
package cli
