package pipeline

import "testing"

func TestStateNext(t *testing.T) {
	tests := []struct {
		state State
		want  State
		ok    bool
	}{
		{StateStart, StateBaseReady, true},
		{StateBaseReady, StateInstallerUpdated, true},
		{StateInstallerUpdated, StateSourceStaged, true},
		{StateSourceStaged, StatePackageInstalled, true},
		{StatePackageInstalled, "", false},
		{StateFailed, "", false},
	}

	for _, tt := range tests {
		got, ok := tt.state.Next()
		if got != tt.want || ok != tt.ok {
			t.Errorf("%s.Next() = (%q, %v), want (%q, %v)", tt.state, got, ok, tt.want, tt.ok)
		}
	}
}

func TestStateTerminal(t *testing.T) {
	for _, s := range []State{StateStart, StateBaseReady, StateInstallerUpdated, StateSourceStaged} {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true", s)
		}
	}
	for _, s := range []State{StatePackageInstalled, StateFailed} {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false", s)
		}
	}
}

func TestEnvIsolation(t *testing.T) {
	env := NewEnv("x").withLayer(Layer{Step: StepInstaller})
	a := env.withLayer(Layer{Step: StepSource})
	b := env.withLayer(Layer{Step: "other"})

	if len(env.Layers) != 1 {
		t.Fatalf("parent handle changed: %d layers", len(env.Layers))
	}
	if a.Layers[1].Step != StepSource || b.Layers[1].Step != "other" {
		t.Errorf("handles share layers: %v / %v", a.Layers, b.Layers)
	}

	failed := a.fail()
	if failed.State != StateFailed || failed.FailedAt != StateStart {
		t.Errorf("fail() = (%s, %s)", failed.State, failed.FailedAt)
	}
}

func TestChainKey(t *testing.T) {
	parent := ChainKey("", StepBase, "x")
	if ChainKey(parent, StepSource, "a") == ChainKey(parent, StepSource, "b") {
		t.Error("fingerprint does not affect the key")
	}
	if ChainKey(parent, StepSource, "a") == ChainKey(ChainKey("", StepBase, "y"), StepSource, "a") {
		t.Error("parent does not affect the key")
	}
	if ChainKey(parent, StepSource, "a") != ChainKey(parent, StepSource, "a") {
		t.Error("key is not stable")
	}
}
