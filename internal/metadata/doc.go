// Package metadata reads Python package metadata from a project tree.
//
// The editable install needs to know, before pip runs, that the project
// is installable and, where it can be told statically, what it is called.
// [Read] looks for pyproject.toml (PEP 621 [project] table, or Poetry's
// [tool.poetry]), then for the keyword arguments of the setup() call in
// setup.py and the declarative [metadata] of setup.cfg. Names computed by
// the build backend are left empty and discovered from pip after the
// install. Requirement strings are checked to start with a valid PEP 508
// distribution name; version specifiers and markers are passed through
// untouched for pip to resolve.
package metadata
