package upcall

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	want := DefaultConfig()
	if cfg != want {
		t.Errorf("LoadConfig(missing) = %+v, want defaults %+v", cfg, want)
	}
}

func TestLoadConfigOverlaysOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
msg_size = 64
bind_addr = "127.0.0.1:7000"
model = "pcache"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.MsgSize != 64 {
		t.Errorf("MsgSize = %d, want 64", cfg.MsgSize)
	}
	if cfg.BindAddr != "127.0.0.1:7000" {
		t.Errorf("BindAddr = %q, want 127.0.0.1:7000", cfg.BindAddr)
	}
	if cfg.model() != PCACHE {
		t.Errorf("model() = %v, want PCACHE", cfg.model())
	}
	// Fields absent from the file keep their default.
	if cfg.BufCount != DefaultConfig().BufCount {
		t.Errorf("BufCount = %d, want default %d", cfg.BufCount, DefaultConfig().BufCount)
	}
}

func TestConfigModelDefaultsToPCPU(t *testing.T) {
	var cfg Config
	if cfg.model() != PCPU {
		t.Errorf("model() for empty Config = %v, want PCPU", cfg.model())
	}
}
