package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/cruciblehq/devimg/internal/client"
)

// Represents the 'devimg status' command.
type StatusCmd struct{}

// Executes the status command.
func (c *StatusCmd) Run(ctx context.Context) error {
	res, err := client.New(RootCmd.Socket).Status(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "version\t%s\n", res.Version)
	fmt.Fprintf(w, "pid\t%d\n", res.Pid)
	fmt.Fprintf(w, "uptime\t%s\n", res.Uptime)
	fmt.Fprintf(w, "engine\t%s\n", res.Engine)
	fmt.Fprintf(w, "builds\t%d ok, %d failed, %d running\n", res.Builds, res.Failed, res.Active)
	return w.Flush()
}

// Represents the 'devimg shutdown' command.
type ShutdownCmd struct{}

// Executes the shutdown command.
func (c *ShutdownCmd) Run(ctx context.Context) error {
	if err := client.New(RootCmd.Socket).Shutdown(ctx); err != nil {
		return err
	}
	slog.Info("daemon stopped")
	return nil
}
