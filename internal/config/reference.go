package config

import (
	"regexp"
	"strings"

	"github.com/containerd/platforms"
	"github.com/cruciblehq/devimg/internal/crex"
	"github.com/distribution/reference"
)

// Tags must start with at least a major.minor version (e.g. "3.11-slim").
var pinnedTag = regexp.MustCompile(`^v?[0-9]+\.[0-9]+`)

// Validates that ref names a version-pinned image and returns it in
// normalized form (e.g. "docker.io/library/python:3.11-slim").
//
// A digest always pins. A tag pins when it starts with a major.minor
// version; "latest", bare names, and tags like "slim" are rejected.
func ValidateBase(ref string) (string, error) {
	if strings.TrimSpace(ref) == "" {
		return "", crex.Wrapf(ErrInvalidConfig, "base image must be set")
	}

	named, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return "", crex.Wrapf(ErrInvalidConfig, "base image %q: %w", ref, err)
	}

	if _, ok := named.(reference.Digested); ok {
		return named.String(), nil
	}

	tagged, ok := named.(reference.Tagged)
	if !ok {
		return "", crex.Wrapf(ErrUnpinnedBase, "%q has no tag", ref)
	}

	if !pinnedTag.MatchString(tagged.Tag()) {
		return "", crex.Wrapf(ErrUnpinnedBase, "tag %q of %q does not pin a major.minor version", tagged.Tag(), ref)
	}

	return named.String(), nil
}

// Parses and normalizes an OCI platform string.
func NormalizePlatform(platform string) (string, error) {
	p, err := platforms.Parse(platform)
	if err != nil {
		return "", crex.Wrapf(ErrInvalidConfig, "platform %q: %w", platform, err)
	}
	return platforms.Format(platforms.Normalize(p)), nil
}
