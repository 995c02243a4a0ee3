package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"

	"github.com/containerd/containerd/v2/core/content"
	"github.com/containerd/containerd/v2/core/images"
	"github.com/containerd/containerd/v2/core/images/archive"
	"github.com/containerd/errdefs"
	"github.com/containerd/platforms"
	"github.com/cruciblehq/devimg/internal/crex"
	"github.com/cruciblehq/devimg/internal/paths"
	"github.com/cruciblehq/devimg/internal/pipeline"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Filename of the OCI archive produced by Export.
const exportFilename = "image.tar"

// Writes the base image extended with the committed layers as an OCI archive.
//
// The manifest gains one layer per committed step and the config gains the
// matching diff IDs, history entries, working directory and labels. The
// mutated manifest, config, and index are written to the content store under
// the session lease; the stored base image record is never modified. When
// opts.Tag is set, an image record with that name is created (or updated) to
// point at the result. Returns the path of the archive.
func (s *Session) Export(ctx context.Context, opts pipeline.ExportOptions) (string, error) {
	ctx = s.leased(ctx)

	if s.image == nil {
		return "", ErrNoImage
	}

	base := s.image.Metadata()

	target, err := s.buildExportTarget(ctx, base, func(manifest *ocispec.Manifest, config *ocispec.Image) {
		applyLayers(manifest, config, opts)
	})
	if err != nil {
		return "", crex.Wrap(ErrRuntime, err)
	}

	if err := os.MkdirAll(opts.Output, paths.DefaultDirMode); err != nil {
		return "", crex.Wrap(ErrRuntime, err)
	}

	name := base.Name
	if opts.Tag != "" {
		name = opts.Tag
	}

	exportPath := filepath.Join(opts.Output, exportFilename)
	if err := s.exportImage(ctx, target, name, exportPath); err != nil {
		return "", crex.Wrap(ErrRuntime, err)
	}

	if opts.Tag != "" {
		if err := s.tagImage(ctx, opts.Tag, target); err != nil {
			return "", crex.Wrap(ErrRuntime, err)
		}
	}

	slog.Info("image exported", "path", exportPath, "tag", opts.Tag, "layers", len(opts.Layers))
	return exportPath, nil
}

// Appends the committed layers to the base manifest and config.
func applyLayers(manifest *ocispec.Manifest, config *ocispec.Image, opts pipeline.ExportOptions) {
	for _, l := range opts.Layers {
		manifest.Layers = append(manifest.Layers, ocispec.Descriptor{
			MediaType: l.MediaType,
			Digest:    l.Digest,
			Size:      l.Size,
		})
		config.RootFS.DiffIDs = append(config.RootFS.DiffIDs, l.DiffID)
		config.History = append(config.History, ocispec.History{
			CreatedBy: l.Command,
			Comment:   "devimg " + l.Step,
		})
	}

	if opts.Workdir != "" {
		config.Config.WorkingDir = opts.Workdir
	}

	if len(opts.Labels) > 0 {
		if config.Config.Labels == nil {
			config.Config.Labels = make(map[string]string, len(opts.Labels))
		}
		maps.Copy(config.Config.Labels, opts.Labels)
	}
}

// Points an image record named tag at target, creating it if needed.
func (s *Session) tagImage(ctx context.Context, tag string, target ocispec.Descriptor) error {
	is := s.client.ImageService()

	img := images.Image{
		Name:   tag,
		Target: target,
		Labels: gcRoot(),
	}

	if _, err := is.Create(ctx, img); err != nil {
		if !errdefs.IsAlreadyExists(err) {
			return err
		}
		if _, err := is.Update(ctx, img, "target"); err != nil {
			return err
		}
	}

	slog.Debug("image tagged", "tag", tag, "digest", target.Digest)
	return nil
}

// Writes the image to an OCI tar archive at the given path.
//
// The target descriptor is exported directly via [archive.WithManifest]
// rather than looking up the image by name, so the ephemeral manifest is
// exported without a stored record. The name is attached as the OCI
// reference annotation. Only the session platform is included.
func (s *Session) exportImage(ctx context.Context, target ocispec.Descriptor, imageName, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	p, err := platforms.Parse(s.platform)
	if err != nil {
		return err
	}

	return s.client.Export(ctx, f,
		archive.WithManifest(target, imageName),
		archive.WithPlatform(platforms.Only(p)),
	)
}

// Builds the export target descriptor by applying a mutation to the image's
// manifest and config.
//
// When the root is an index, a new single-entry index is written; entries
// for other platforms are dropped because their layers were never fetched.
func (s *Session) buildExportTarget(ctx context.Context, img images.Image, mutate func(*ocispec.Manifest, *ocispec.Image)) (ocispec.Descriptor, error) {
	target, index, err := s.resolveManifestDescriptor(ctx, img.Target, img.Name)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	newManifestDesc, err := s.mutateManifest(ctx, target, mutate)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	if index == nil {
		return newManifestDesc, nil
	}

	index.Manifests = []ocispec.Descriptor{newManifestDesc}
	return s.writeBlob(ctx, img.Target.MediaType, index, s.blobRef("index"), content.WithLabels(indexGCLabels(*index)))
}

// Resolves the image root descriptor to the manifest for the session
// platform.
//
// Returns the index alongside the manifest when the root is an index. Some
// registries (notably Docker Hub) serve index entries without platform
// metadata; those are matched by reading the platform from the image config,
// the same fallback containerd's images.Manifest uses.
func (s *Session) resolveManifestDescriptor(ctx context.Context, root ocispec.Descriptor, imageName string) (ocispec.Descriptor, *ocispec.Index, error) {
	if !images.IsIndexType(root.MediaType) {
		return root, nil, nil
	}

	idx, err := s.readIndex(ctx, root)
	if err != nil {
		return ocispec.Descriptor{}, nil, err
	}

	p, err := platforms.Parse(s.platform)
	if err != nil {
		return ocispec.Descriptor{}, nil, err
	}

	if i, ok := s.matchManifest(ctx, idx, platforms.OnlyStrict(p)); ok {
		return idx.Manifests[i], &idx, nil
	}

	if len(idx.Manifests) == 0 {
		return ocispec.Descriptor{}, nil, crex.Wrapf(ErrEmptyIndex, "%s", imageName)
	}
	return idx.Manifests[0], &idx, nil
}

// Searches the index for a manifest matching the given platform.
//
// Descriptors with an explicit platform field are checked first. If none
// match, descriptors without a platform field are checked by reading the
// image config to discover the platform (the "ConfigPlatform" fallback).
// Returns the index position and true when a match is found.
func (s *Session) matchManifest(ctx context.Context, idx ocispec.Index, matcher platforms.MatchComparer) (int, bool) {
	for i, m := range idx.Manifests {
		if m.Platform != nil && matcher.Match(*m.Platform) {
			return i, true
		}
	}
	for i, m := range idx.Manifests {
		if m.Platform != nil || !images.IsManifestType(m.MediaType) {
			continue
		}
		if p, ok := s.configPlatform(ctx, m); ok && matcher.Match(p) {
			return i, true
		}
	}
	return 0, false
}

// Reads the image config referenced by a manifest descriptor and returns the
// platform declared in the config.
//
// Returns false when the config cannot be read.
func (s *Session) configPlatform(ctx context.Context, desc ocispec.Descriptor) (ocispec.Platform, bool) {
	manifest, err := s.readManifest(ctx, desc)
	if err != nil {
		return ocispec.Platform{}, false
	}
	config, err := s.readConfig(ctx, manifest.Config)
	if err != nil {
		return ocispec.Platform{}, false
	}
	return ocispec.Platform{
		OS:           config.OS,
		Architecture: config.Architecture,
		Variant:      config.Variant,
	}, true
}

// Reads the manifest and config, applies the mutation, and writes the
// updated blobs back to the content store.
func (s *Session) mutateManifest(ctx context.Context, target ocispec.Descriptor, mutate func(*ocispec.Manifest, *ocispec.Image)) (ocispec.Descriptor, error) {
	manifest, err := s.readManifest(ctx, target)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	config, err := s.readConfig(ctx, manifest.Config)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	mutate(&manifest, &config)

	newConfigDesc, err := s.writeBlob(ctx, manifest.Config.MediaType, config, s.blobRef("config"))
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	manifest.Config = newConfigDesc

	return s.writeBlob(ctx, target.MediaType, manifest, s.blobRef("manifest"), content.WithLabels(manifestGCLabels(manifest)))
}

// Returns a content ingest reference unique to this session.
func (s *Session) blobRef(kind string) string {
	return "devimg-" + s.id + "-" + kind
}

// Loads an OCI manifest from the content store.
func (s *Session) readManifest(ctx context.Context, desc ocispec.Descriptor) (ocispec.Manifest, error) {
	b, err := content.ReadBlob(ctx, s.client.ContentStore(), desc)
	if err != nil {
		return ocispec.Manifest{}, err
	}
	var m ocispec.Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return ocispec.Manifest{}, err
	}
	return m, nil
}

// Loads an OCI image index from the content store.
func (s *Session) readIndex(ctx context.Context, desc ocispec.Descriptor) (ocispec.Index, error) {
	b, err := content.ReadBlob(ctx, s.client.ContentStore(), desc)
	if err != nil {
		return ocispec.Index{}, err
	}
	var idx ocispec.Index
	if err := json.Unmarshal(b, &idx); err != nil {
		return ocispec.Index{}, err
	}
	return idx, nil
}

// Loads an OCI image config from the content store.
func (s *Session) readConfig(ctx context.Context, desc ocispec.Descriptor) (ocispec.Image, error) {
	b, err := content.ReadBlob(ctx, s.client.ContentStore(), desc)
	if err != nil {
		return ocispec.Image{}, err
	}
	var img ocispec.Image
	if err := json.Unmarshal(b, &img); err != nil {
		return ocispec.Image{}, err
	}
	return img, nil
}

// Serializes a value and writes it to the content store, returning the
// descriptor that references the stored blob.
func (s *Session) writeBlob(ctx context.Context, mediaType string, v any, ref string, opts ...content.Opt) (ocispec.Descriptor, error) {
	cs := s.client.ContentStore()
	b, err := json.Marshal(v)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	desc := ocispec.Descriptor{
		MediaType: mediaType,
		Digest:    digest.FromBytes(b),
		Size:      int64(len(b)),
	}
	if err := content.WriteBlob(ctx, cs, ref, bytes.NewReader(b), desc, opts...); err != nil {
		return ocispec.Descriptor{}, err
	}
	return desc, nil
}

// Computes containerd GC reference labels for a manifest's children.
//
// These labels allow containerd's garbage collector to trace reachability
// from the manifest blob to its config and layer blobs.
func manifestGCLabels(m ocispec.Manifest) map[string]string {
	labels := map[string]string{
		"containerd.io/gc.ref.content.config": m.Config.Digest.String(),
	}
	for i, layer := range m.Layers {
		key := fmt.Sprintf("containerd.io/gc.ref.content.l.%d", i)
		labels[key] = layer.Digest.String()
	}
	return labels
}

// Computes containerd GC reference labels for an index's children.
func indexGCLabels(idx ocispec.Index) map[string]string {
	labels := make(map[string]string, len(idx.Manifests))
	for i, m := range idx.Manifests {
		key := fmt.Sprintf("containerd.io/gc.ref.content.m.%d", i)
		labels[key] = m.Digest.String()
	}
	return labels
}
