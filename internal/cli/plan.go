package cli

import (
	"context"
	"os"

	"github.com/cruciblehq/devimg/internal/pipeline"
	"github.com/cruciblehq/devimg/internal/source"
)

// Represents the 'devimg plan' command.
type PlanCmd struct {
	RecipeFlags `embed:""`

	Ignore bool `help:"Print the effective exclusion patterns instead of the recipe."`
}

// Executes the plan command.
//
// Prints the steps a build with the same flags would run, as Dockerfile
// instructions. Nothing is pulled or built.
func (c *PlanCmd) Run(ctx context.Context) error {
	cfg, dir, err := c.resolve()
	if err != nil {
		return err
	}

	if !c.Ignore {
		return pipeline.Render(os.Stdout, cfg)
	}

	patterns, err := source.LoadPatterns(dir, cfg.Source.Exclude, cfg.Source.IgnoreFile)
	if err != nil {
		return err
	}
	return pipeline.RenderIgnore(os.Stdout, patterns)
}
