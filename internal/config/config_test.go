package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigRepoOverridesGlobal(t *testing.T) {
	home := t.TempDir()
	root := t.TempDir()
	t.Setenv("HOME", home)

	if err := os.WriteFile(filepath.Join(home, ".eveesconfig"), []byte(`{"user":{"name":"global","email":"g@example.com"}}`), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := SetValue(root, "user.name", "repo", false); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}

	cfg, err := LoadConfig(root)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.User.Name != "repo" {
		t.Errorf("expected repo name to win, got %q", cfg.User.Name)
	}
	if cfg.User.Email != "g@example.com" {
		t.Errorf("expected global email to be kept, got %q", cfg.User.Email)
	}
	if cfg.Core.Backend != BackendBolt {
		t.Errorf("expected default backend, got %q", cfg.Core.Backend)
	}
}

func TestGetSetValue(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	root := t.TempDir()

	if err := SetValue(root, "council.quorum", "0.75", false); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	if err := SetValue(root, "council.members", "alice, bob,,carol", false); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	if got, _ := GetValue(root, "council.quorum"); got != "0.75" {
		t.Errorf("expected 0.75, got %q", got)
	}
	if got, _ := GetValue(root, "council.members"); got != "alice,bob,carol" {
		t.Errorf("unexpected members %q", got)
	}

	if err := SetValue(root, "council.duration", "soon", false); err == nil {
		t.Error("expected invalid number to be rejected")
	}
	if _, err := GetValue(root, "nope"); err == nil {
		t.Error("expected malformed key to be rejected")
	}
	if _, err := GetValue(root, "core.nope"); err == nil {
		t.Error("expected unknown key to be rejected")
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to be valid: %v", err)
	}

	cfg.Core.Backend = BackendRedis
	if err := cfg.Validate(); err == nil {
		t.Error("expected redis backend without url to be invalid")
	}

	cfg = DefaultConfig()
	cfg.Core.CidHash = "md5-nope"
	if err := cfg.Validate(); err == nil {
		t.Error("expected unknown hash to be invalid")
	}
}

func TestCouncilManifest(t *testing.T) {
	root := t.TempDir()
	manifest := "members: [alice, bob, carol]\nduration: 100\nquorum: 0.5\nthreshold: 0.66\n"
	if err := os.WriteFile(filepath.Join(root, "council.yaml"), []byte(manifest), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Council.Manifest = "council.yaml"
	council, err := cfg.CouncilRules(root)
	if err != nil {
		t.Fatalf("CouncilRules failed: %v", err)
	}
	if len(council.Members) != 3 || council.Config.Duration != 100 || council.Config.Threshold != 0.66 {
		t.Errorf("unexpected council %+v", council)
	}

	if err := os.WriteFile(filepath.Join(root, "empty.yaml"), []byte("quorum: 1\n"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := LoadCouncilManifest(filepath.Join(root, "empty.yaml")); err == nil {
		t.Error("expected manifest without members to be rejected")
	}
}
