package metadata

import (
	"errors"
	"io/fs"
	"path"
	"regexp"
	"strings"

	"github.com/cruciblehq/devimg/internal/crex"
)

// Metadata file names.
const (
	PyProjectFile = "pyproject.toml"
	SetupPyFile   = "setup.py"
	SetupCfgFile  = "setup.cfg"
)

// PEP 508 distribution name at the start of a requirement string.
var requirementName = regexp.MustCompile(`(?i)^\s*([A-Z0-9][A-Z0-9._-]*[A-Z0-9]|[A-Z0-9])`)

// Declared package metadata.
type Package struct {
	Name           string   `json:"name"`                     // Distribution name, empty when only the build backend knows it.
	Version        string   `json:"version,omitempty"`        // Declared version, empty when dynamic.
	Requires       []string `json:"requires,omitempty"`       // Runtime requirements (PEP 508 strings).
	RequiresPython string   `json:"requiresPython,omitempty"` // Python version specifier.
	Source         string   `json:"source"`                   // File the metadata was read from.
}

// Reads package metadata from dir within fsys.
//
// A project is installable when it has a pyproject.toml or a setup.py;
// [ErrNotFound] is returned when it has neither. A name declared in
// pyproject.toml wins. Otherwise setup.py keyword arguments are read,
// completed by the [metadata] and [options] sections of setup.cfg, the
// same precedence setuptools applies.
//
// A name that can only be computed by running the build backend is left
// empty rather than rejected. [ErrMalformed] is reserved for files that
// cannot be parsed and for statically declared names or requirements that
// are invalid.
func Read(fsys fs.FS, dir string) (*Package, error) {
	dir = path.Clean(dir)

	pyproject, err := readOptional(readPyProject, fsys, path.Join(dir, PyProjectFile))
	if err != nil {
		return nil, err
	}
	if pyproject != nil && pyproject.Name != "" {
		return validated(pyproject)
	}

	setupPy, err := readOptional(readSetupPy, fsys, path.Join(dir, SetupPyFile))
	if err != nil {
		return nil, err
	}
	if pyproject == nil && setupPy == nil {
		return nil, crex.Wrapf(ErrNotFound, "neither %s nor %s found in %q", PyProjectFile, SetupPyFile, dir)
	}

	setupCfg, err := readOptional(readSetupCfg, fsys, path.Join(dir, SetupCfgFile))
	if err != nil {
		return nil, err
	}

	return validated(merge(merge(setupPy, setupCfg), pyproject))
}

// Runs read, mapping a missing file to a nil package.
func readOptional(read func(fs.FS, string) (*Package, error), fsys fs.FS, name string) (*Package, error) {
	pkg, err := read(fsys, name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return pkg, err
}

// Fills the fields primary leaves empty from secondary. Either may be nil.
// The source is the file that supplied the name, if any.
func merge(primary, secondary *Package) *Package {
	if primary == nil {
		return secondary
	}
	if secondary == nil {
		return primary
	}

	pkg := *primary
	if pkg.Name == "" && secondary.Name != "" {
		pkg.Name = secondary.Name
		pkg.Source = secondary.Source
	}
	if pkg.Version == "" {
		pkg.Version = secondary.Version
	}
	if pkg.RequiresPython == "" {
		pkg.RequiresPython = secondary.RequiresPython
	}
	if len(pkg.Requires) == 0 {
		pkg.Requires = secondary.Requires
	}
	return &pkg
}

// Returns pkg if its name, when known, and every requirement are well formed.
func validated(pkg *Package) (*Package, error) {
	if pkg.Name != "" && !isDistributionName(pkg.Name) {
		return nil, crex.Wrapf(ErrMalformed, "%s: invalid package name %q", pkg.Source, pkg.Name)
	}
	for _, req := range pkg.Requires {
		if requirementName.FindString(req) == "" {
			return nil, crex.Wrapf(ErrMalformed, "%s: invalid requirement %q", pkg.Source, req)
		}
	}
	return pkg, nil
}

// Whether s is exactly a PEP 508 distribution name.
func isDistributionName(s string) bool {
	m := requirementName.FindString(s)
	return m != "" && m == s
}

// Returns the distribution name a requirement string refers to.
func RequirementName(req string) string {
	return strings.TrimSpace(requirementName.FindString(req))
}

// Returns the PEP 503 normalized form of a distribution name.
func Normalize(name string) string {
	return strings.ToLower(separators.ReplaceAllString(name, "-"))
}

var separators = regexp.MustCompile(`[-_.]+`)
