package source

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/cruciblehq/devimg/internal/crex"
	"github.com/moby/patternmatcher"
	"github.com/moby/patternmatcher/ignorefile"
	"github.com/opencontainers/go-digest"
)

// A single staged path.
type Entry struct {
	Path     string      // Slash-separated path relative to the snapshot root.
	Mode     fs.FileMode // File mode, including type bits.
	Size     int64       // Size in bytes for regular files.
	Linkname string      // Target for symlinks.
}

// Immutable view of a build context after exclusions.
type Snapshot struct {
	root     string                         // Absolute path of the build context.
	patterns []string                       // Effective exclusion patterns.
	matcher  *patternmatcher.PatternMatcher // Compiled patterns, nil when none.
	entries  []Entry                        // Staged entries in lexical walk order.
	index    map[string]struct{}            // Set of staged paths, for the filtered FS.
	digest   digest.Digest                  // Content digest of the staged tree.
}

// Walks root and captures the snapshot.
//
// Exclude holds docker-style ignore patterns. When ignoreFile is non-empty it
// names a context-relative file whose patterns are appended to exclude. With
// no patterns at all, every path under root is staged.
func Open(root string, exclude []string, ignoreFile string) (*Snapshot, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, crex.Wrap(ErrUnreadable, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, crex.Wrap(ErrUnreadable, err)
	}
	if !info.IsDir() {
		return nil, crex.Wrapf(ErrUnreadable, "%s is not a directory", abs)
	}

	patterns, err := LoadPatterns(abs, exclude, ignoreFile)
	if err != nil {
		return nil, err
	}

	s := &Snapshot{
		root:     abs,
		patterns: patterns,
		index:    make(map[string]struct{}),
	}

	if len(patterns) > 0 {
		s.matcher, err = patternmatcher.New(patterns)
		if err != nil {
			return nil, crex.Wrap(ErrInvalidPattern, err)
		}
	}

	if err := s.walk(); err != nil {
		return nil, err
	}

	return s, nil
}

// Returns the effective exclusion patterns for a build context.
//
// The result is exclude followed by the patterns of ignoreFile, when set.
func LoadPatterns(root string, exclude []string, ignoreFile string) ([]string, error) {
	patterns := slices.Clone(exclude)
	if ignoreFile != "" {
		extra, err := readIgnoreFile(filepath.Join(root, ignoreFile))
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, extra...)
	}
	return patterns, nil
}

// Reads docker-style ignore patterns from a file.
func readIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, crex.Wrap(ErrUnreadable, err)
	}
	defer f.Close()

	patterns, err := ignorefile.ReadAll(f)
	if err != nil {
		return nil, crex.Wrapf(ErrInvalidPattern, "%s: %w", path, err)
	}
	return patterns, nil
}

// Walks the root in lexical order, recording staged entries and hashing
// their contents.
func (s *Snapshot) walk() error {
	digester := digest.Canonical.Digester()

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		excluded, err := s.excluded(rel)
		if err != nil {
			return err
		}
		if excluded {
			// A matched directory can only be pruned when no pattern
			// re-includes something beneath it.
			if d.IsDir() && !s.matcher.Exclusions() {
				return filepath.SkipDir
			}
			return nil
		}

		entry, err := newEntry(path, rel, d)
		if err != nil {
			return err
		}

		if err := hashEntry(digester.Hash(), path, entry); err != nil {
			return err
		}

		s.entries = append(s.entries, entry)
		s.index[rel] = struct{}{}
		return nil
	})
	if err != nil {
		return crex.Wrap(ErrUnreadable, err)
	}

	s.digest = digester.Digest()
	return nil
}

// Whether a slash-separated relative path is excluded.
func (s *Snapshot) excluded(rel string) (bool, error) {
	if s.matcher == nil {
		return false, nil
	}
	return s.matcher.MatchesOrParentMatches(rel)
}

// Builds the entry for a walked path.
func newEntry(path, rel string, d fs.DirEntry) (Entry, error) {
	info, err := d.Info()
	if err != nil {
		return Entry{}, err
	}

	entry := Entry{Path: rel, Mode: info.Mode()}

	switch {
	case info.Mode().IsRegular():
		entry.Size = info.Size()
	case info.Mode()&fs.ModeSymlink != 0:
		entry.Linkname, err = os.Readlink(path)
		if err != nil {
			return Entry{}, err
		}
	}

	return entry, nil
}

// Feeds an entry's identity and content into the running digest.
//
// Paths, modes, link targets, and file bytes contribute; modification times
// and ownership do not. The header carries the content length, so bytes
// cannot shift between adjacent entries without changing the digest. A file
// whose length changed since it was walked fails the snapshot.
func hashEntry(w io.Writer, path string, entry Entry) error {
	header := entry.Path + "\x00" + entry.Mode.String() + "\x00" + entry.Linkname + "\x00" + strconv.FormatInt(entry.Size, 10) + "\x00"
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}

	if !entry.Mode.IsRegular() {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := io.Copy(w, f)
	if err != nil {
		return err
	}
	if n != entry.Size {
		return fmt.Errorf("%s changed while staging: read %d bytes, want %d", entry.Path, n, entry.Size)
	}
	return nil
}

// Absolute path of the build context.
func (s *Snapshot) Root() string {
	return s.root
}

// Effective exclusion patterns, including those read from the ignore file.
func (s *Snapshot) Patterns() []string {
	return slices.Clone(s.patterns)
}

// Staged entries in walk order.
func (s *Snapshot) Entries() []Entry {
	return slices.Clone(s.entries)
}

// Number of staged entries.
func (s *Snapshot) Len() int {
	return len(s.entries)
}

// Content digest of the staged tree.
func (s *Snapshot) Digest() digest.Digest {
	return s.digest
}

// Whether a slash-separated relative path is part of the snapshot.
func (s *Snapshot) Contains(rel string) bool {
	_, ok := s.index[strings.TrimPrefix(rel, "./")]
	return ok
}
