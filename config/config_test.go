package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Index.UnloadDistance != 5 {
		t.Fatalf("expected unload distance 5, got %d", c.Index.UnloadDistance)
	}
	if c.Index.UnloadInterval != 5*time.Second {
		t.Fatalf("expected 5s unload interval, got %v", c.Index.UnloadInterval)
	}
	if c.UID.Backend != "local" {
		t.Fatalf("expected local uid backend, got %q", c.UID.Backend)
	}
	if GetConfig() != c {
		t.Fatalf("GetConfig should return the loaded config")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "terrain.yaml")
	body := "map:\n  basename: /maps/kalimdor/kalimdor\n  id: 1\nindex:\n  unload_distance: 3\n  unload_interval: 0s\n"
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	c, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Map.Basename != "/maps/kalimdor/kalimdor" || c.Map.ID != 1 {
		t.Fatalf("unexpected map config: %+v", c.Map)
	}
	if c.Index.UnloadDistance != 3 || c.Index.UnloadInterval != 0 {
		t.Fatalf("unexpected index config: %+v", c.Index)
	}
}

func TestLoadRejectsDBBackendWithoutDSN(t *testing.T) {
	t.Setenv("TERRAIN_UID_BACKEND", "db")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for db backend without dsn")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing config file should be skipped: %v", err)
	}
	if c.Server.Addr != ":8088" {
		t.Fatalf("expected default addr, got %q", c.Server.Addr)
	}
}
