package pipeline

import (
	"fmt"
	"io"

	"github.com/cruciblehq/devimg/internal/config"
)

// Writes the Dockerfile equivalent to the pipeline configured by cfg.
func Render(w io.Writer, cfg *config.Config) error {
	for _, step := range Steps(cfg, nil) {
		if _, err := fmt.Fprintln(w, step.Instruction()); err != nil {
			return err
		}
	}
	return nil
}

// Writes patterns in ignore-file syntax, one per line.
//
// An empty list renders a comment, since staging then copies the whole
// context.
func RenderIgnore(w io.Writer, patterns []string) error {
	if len(patterns) == 0 {
		_, err := fmt.Fprintln(w, "# no exclusions: the whole build context is staged")
		return err
	}
	for _, p := range patterns {
		if _, err := fmt.Fprintln(w, p); err != nil {
			return err
		}
	}
	return nil
}
