package metadata

import (
	"io/fs"
	"strings"

	"github.com/cruciblehq/devimg/internal/crex"
	"gopkg.in/ini.v1"
)

// Reads the declarative setuptools configuration in setup.cfg.
//
// Values using setuptools directives ("attr:", "file:") are resolved at
// build time and are left empty.
func readSetupCfg(fsys fs.FS, name string) (*Package, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, err
	}

	cfg, err := ini.LoadSources(ini.LoadOptions{
		AllowPythonMultilineValues: true,
		SpaceBeforeInlineComment:   true,
	}, data)
	if err != nil {
		return nil, crex.Wrapf(ErrMalformed, "%s: %w", name, err)
	}

	meta := cfg.Section("metadata")
	options := cfg.Section("options")

	pkg := &Package{
		Name:           staticValue(meta.Key("name").String()),
		Version:        staticValue(meta.Key("version").String()),
		RequiresPython: staticValue(options.Key("python_requires").String()),
		Source:         name,
	}

	for _, line := range strings.Split(options.Key("install_requires").String(), "\n") {
		if line = strings.TrimSpace(line); line != "" && !strings.HasPrefix(line, "#") {
			pkg.Requires = append(pkg.Requires, line)
		}
	}

	return pkg, nil
}

// Returns v unless it is a setuptools directive.
func staticValue(v string) string {
	v = strings.TrimSpace(v)
	if strings.HasPrefix(v, "attr:") || strings.HasPrefix(v, "file:") {
		return ""
	}
	return v
}
