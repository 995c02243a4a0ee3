package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/cruciblehq/devimg/internal"
)

// Represents the 'devimg version' command.
type VersionCmd struct {
	Long bool `short:"l" help:"Show each build attribute on its own line."`
}

// Executes the version command.
func (c *VersionCmd) Run(ctx context.Context) error {
	info := internal.Info()
	if !c.Long {
		fmt.Println(info)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "version\t%s\n", info.Version)
	if info.Stage != "" {
		fmt.Fprintf(w, "stage\t%s\n", info.Stage)
	}
	if info.Commit != "" {
		fmt.Fprintf(w, "commit\t%s\n", info.Commit)
	}
	if info.Dirty {
		fmt.Fprintf(w, "modified\ttrue\n")
	}
	fmt.Fprintf(w, "arch\t%s\n", info.Arch)
	fmt.Fprintf(w, "go\t%s\n", info.Go)
	return w.Flush()
}
