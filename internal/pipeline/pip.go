package pipeline

import (
	"bufio"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/cruciblehq/devimg/internal/crex"
)

// Builds a pip invocation through the interpreter, so the pip that runs is
// always the one belonging to that interpreter.
func pipArgs(python string, args ...string) []string {
	return append([]string{python, "-m", "pip"}, args...)
}

// Output fragments identifying the class of a pip failure.
var (
	networkMarkers = []string{
		"Failed to establish a new connection",
		"Temporary failure in name resolution",
		"Name or service not known",
		"Network is unreachable",
		"Connection refused",
		"Read timed out",
		"Max retries exceeded",
		"ConnectTimeoutError",
		"ProxyError",
		"SSLError",
		"Could not fetch URL",
	}

	metadataMarkers = []string{
		"does not appear to be a Python project",
		"neither 'setup.py' nor 'pyproject.toml' found",
		"metadata-generation-failed",
		"Preparing editable metadata (pyproject.toml) did not run successfully",
		"project must contain a 'name' field",
		"Invalid pyproject.toml",
		"Failed to parse",
	}

	resolutionMarkers = []string{
		"No matching distribution found",
		"Could not find a version that satisfies",
		"ResolutionImpossible",
		"conflicting dependencies",
		"Cannot install",
	}
)

// Maps a failed pip run to an error class.
//
// The "ERROR:" lines pip prints last carry the cause, so they are matched
// first, resolution before metadata before network: retry warnings for a
// flaky mirror often precede a requirement no index can satisfy. When the
// final errors match nothing, the whole output is matched with network
// markers first. Output matching none of the markers is classified as
// fallback.
func classifyPip(res *ExecResult, fallback error) error {
	out := res.Stderr + "\n" + res.Stdout

	class := fallback
	if c := firstMatch(errorLines(out), resolutionClass, metadataClass, networkClass); c != nil {
		class = c
	} else if c := firstMatch(out, networkClass, metadataClass, resolutionClass); c != nil {
		class = c
	}

	return crex.Wrapf(class, "exit code %d: %s", res.ExitCode, tail(out, 5))
}

// An error class and the output fragments that identify it.
type markerClass struct {
	err     error
	markers []string
}

var (
	networkClass    = markerClass{ErrNetwork, networkMarkers}
	metadataClass   = markerClass{ErrMetadata, metadataMarkers}
	resolutionClass = markerClass{ErrDependencyResolution, resolutionMarkers}
)

// Returns the first class, in order, with a marker in s.
func firstMatch(s string, classes ...markerClass) error {
	for _, c := range classes {
		if containsAny(s, c.markers) {
			return c.err
		}
	}
	return nil
}

// Returns the lines of out that pip prefixes with "ERROR:", joined by
// newlines.
func errorLines(out string) string {
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); strings.HasPrefix(line, "ERROR:") {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// Returns the last n non-empty lines of s, joined by "; ".
func tail(s string, n int) string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "; ")
}

var pipVersion = regexp.MustCompile(`(?m)^pip (\S+) from `)

// Extracts the version from "pip --version" output.
func parsePipVersion(out string) (string, error) {
	m := pipVersion.FindStringSubmatch(out)
	if m == nil {
		return "", fmt.Errorf("unrecognized pip version output %q", strings.TrimSpace(out))
	}
	return m[1], nil
}

// Extracts the registration fields from "pip show" output.
func parsePipShow(out string) *Link {
	link := &Link{}
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "Name":
			link.Name = value
		case "Version":
			link.Version = value
		case "Location":
			link.Location = value
		case "Editable project location":
			link.Project = value
		}
	}
	return link
}

// An entry of "pip list --format=json" output.
type pipListEntry struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Location string `json:"location"`
	Project  string `json:"editable_project_location"`
}

// Extracts the registrations from "pip list --editable --format=json"
// output.
func parsePipList(out string) ([]*Link, error) {
	var entries []pipListEntry
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &entries); err != nil {
		return nil, fmt.Errorf("unrecognized pip list output: %w", err)
	}

	links := make([]*Link, 0, len(entries))
	for _, e := range entries {
		links = append(links, &Link{
			Name:     e.Name,
			Version:  e.Version,
			Location: e.Location,
			Project:  e.Project,
		})
	}
	return links, nil
}
