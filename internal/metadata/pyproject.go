package metadata

import (
	"fmt"
	"io/fs"
	"sort"

	"github.com/cruciblehq/devimg/internal/crex"
	"github.com/pelletier/go-toml/v2"
)

// Subset of pyproject.toml consulted for metadata.
type pyProject struct {
	Project struct {
		Name           string   `toml:"name"`
		Version        string   `toml:"version"`
		Dependencies   []string `toml:"dependencies"`
		RequiresPython string   `toml:"requires-python"`
	} `toml:"project"`
	Tool struct {
		Poetry struct {
			Name         string         `toml:"name"`
			Version      string         `toml:"version"`
			Dependencies map[string]any `toml:"dependencies"`
		} `toml:"poetry"`
	} `toml:"tool"`
}

// Reads pyproject.toml. Returns a package with an empty name when the file
// exists but declares neither [project] nor [tool.poetry] metadata.
func readPyProject(fsys fs.FS, name string) (*Package, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, err
	}

	var doc pyProject
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, crex.Wrapf(ErrMalformed, "%s: %w", name, err)
	}

	if doc.Project.Name != "" {
		return &Package{
			Name:           doc.Project.Name,
			Version:        doc.Project.Version,
			Requires:       doc.Project.Dependencies,
			RequiresPython: doc.Project.RequiresPython,
			Source:         name,
		}, nil
	}

	if poetry := doc.Tool.Poetry; poetry.Name != "" {
		return poetryPackage(name, poetry.Name, poetry.Version, poetry.Dependencies), nil
	}

	return &Package{Source: name}, nil
}

// Converts Poetry's dependency table to requirement strings.
//
// The "python" key carries the interpreter constraint. Table-valued entries
// (git, path, extras) contribute their name only; pip resolves them from the
// build backend's metadata.
func poetryPackage(source, name, version string, deps map[string]any) *Package {
	pkg := &Package{Name: name, Version: version, Source: source}

	keys := make([]string, 0, len(deps))
	for k := range deps {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		constraint, _ := deps[k].(string)
		if k == "python" {
			pkg.RequiresPython = constraint
			continue
		}
		if constraint == "" || constraint == "*" {
			pkg.Requires = append(pkg.Requires, k)
			continue
		}
		pkg.Requires = append(pkg.Requires, fmt.Sprintf("%s (%s)", k, constraint))
	}

	return pkg
}
