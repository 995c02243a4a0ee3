package runtime

import (
	"testing"

	"github.com/cruciblehq/devimg/internal/pipeline"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

func TestManifestGCLabels(t *testing.T) {
	m := ocispec.Manifest{
		Config: ocispec.Descriptor{
			Digest: digest.FromString("config"),
		},
		Layers: []ocispec.Descriptor{
			{Digest: digest.FromString("layer0")},
			{Digest: digest.FromString("layer1")},
		},
	}

	labels := manifestGCLabels(m)

	configLabel := labels["containerd.io/gc.ref.content.config"]
	if configLabel != m.Config.Digest.String() {
		t.Fatalf("config label = %q, want %q", configLabel, m.Config.Digest.String())
	}

	for i, layer := range m.Layers {
		key := "containerd.io/gc.ref.content.l." + string(rune('0'+i))
		got := labels[key]
		if got != layer.Digest.String() {
			t.Fatalf("labels[%q] = %q, want %q", key, got, layer.Digest.String())
		}
	}

	if len(labels) != 3 {
		t.Fatalf("len(labels) = %d, want 3", len(labels))
	}
}

func TestIndexGCLabels(t *testing.T) {
	idx := ocispec.Index{Manifests: []ocispec.Descriptor{{Digest: digest.FromString("m0")}}}

	labels := indexGCLabels(idx)
	if labels["containerd.io/gc.ref.content.m.0"] != idx.Manifests[0].Digest.String() {
		t.Fatalf("labels = %v", labels)
	}
}

func TestApplyLayers(t *testing.T) {
	base := digest.FromString("base")
	manifest := ocispec.Manifest{Layers: []ocispec.Descriptor{{Digest: base}}}
	config := ocispec.Image{
		RootFS:  ocispec.RootFS{Type: "layers", DiffIDs: []digest.Digest{base}},
		History: []ocispec.History{{CreatedBy: "debian"}},
		Config:  ocispec.ImageConfig{WorkingDir: "/", Labels: map[string]string{"maintainer": "python"}},
	}

	opts := pipeline.ExportOptions{
		Workdir: "/app",
		Layers: []pipeline.Layer{
			{Step: pipeline.StepInstaller, Command: "RUN python -m pip install --upgrade pip", MediaType: ocispec.MediaTypeImageLayerGzip, Digest: digest.FromString("b"), DiffID: digest.FromString("db"), Size: 10},
			{Step: pipeline.StepSource, Command: "COPY . .", MediaType: ocispec.MediaTypeImageLayerGzip, Digest: digest.FromString("c"), DiffID: digest.FromString("dc"), Size: 20},
			{Step: pipeline.StepInstall, Command: "RUN python -m pip install -e .", MediaType: ocispec.MediaTypeImageLayerGzip, Digest: digest.FromString("d"), DiffID: digest.FromString("dd"), Size: 30},
		},
		Labels: map[string]string{pipeline.LabelPackage: "web-monitor==0.1.0"},
	}

	applyLayers(&manifest, &config, opts)

	if len(manifest.Layers) != 4 || len(config.RootFS.DiffIDs) != 4 {
		t.Fatalf("layers = %d, diffIDs = %d, want 4 each", len(manifest.Layers), len(config.RootFS.DiffIDs))
	}
	for i, l := range opts.Layers {
		if manifest.Layers[i+1].Digest != l.Digest || manifest.Layers[i+1].Size != l.Size {
			t.Errorf("layer %d = %+v, want %s", i+1, manifest.Layers[i+1], l.Digest)
		}
		if config.RootFS.DiffIDs[i+1] != l.DiffID {
			t.Errorf("diffID %d = %s, want %s", i+1, config.RootFS.DiffIDs[i+1], l.DiffID)
		}
		if config.History[i+1].CreatedBy != l.Command {
			t.Errorf("history %d = %q, want %q", i+1, config.History[i+1].CreatedBy, l.Command)
		}
	}

	if config.Config.WorkingDir != "/app" {
		t.Errorf("WorkingDir = %q, want /app", config.Config.WorkingDir)
	}
	if config.Config.Labels["maintainer"] != "python" || config.Config.Labels[pipeline.LabelPackage] != "web-monitor==0.1.0" {
		t.Errorf("Labels = %v", config.Config.Labels)
	}
}
