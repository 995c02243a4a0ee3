package source

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
)

// Writes the staged entries as a tar stream with context-relative names.
//
// Ownership is reset to root so extraction inside a container yields the
// same result regardless of the host user. Extracting the stream into a
// directory overwrites existing files at the same relative paths.
func (s *Snapshot) WriteTar(w io.Writer) error {
	tw := tar.NewWriter(w)

	for _, entry := range s.entries {
		if err := s.writeTarEntry(tw, entry); err != nil {
			tw.Close()
			return err
		}
	}

	return tw.Close()
}

// Writes a single file, directory, or symlink entry to a tar writer.
func (s *Snapshot) writeTarEntry(tw *tar.Writer, entry Entry) error {
	hostPath := filepath.Join(s.root, filepath.FromSlash(entry.Path))

	info, err := os.Lstat(hostPath)
	if err != nil {
		return err
	}

	header, err := tar.FileInfoHeader(info, entry.Linkname)
	if err != nil {
		return err
	}
	header.Name = entry.Path
	if info.IsDir() {
		header.Name += "/"
	}
	header.Uid, header.Gid = 0, 0
	header.Uname, header.Gname = "", ""

	if err := tw.WriteHeader(header); err != nil {
		return err
	}

	if info.Mode().IsRegular() {
		f, err := os.Open(hostPath)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	}

	return nil
}
