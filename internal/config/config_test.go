package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.yaml")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
server:
  addr: ":9090"
  read_timeout: 10s
vertex:
  region: us-east5
  project_id: my-project
  max_retries: 4
database:
  dsn: ":memory:"
auth:
  api_keys: [key-a, key-b]
cache:
  enabled: true
  max_size: 500
  default_ttl: 30s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr = %q, want %q", cfg.Server.Addr, ":9090")
	}
	if cfg.Server.ReadTimeout != 10*time.Second {
		t.Errorf("read_timeout = %v, want 10s", cfg.Server.ReadTimeout)
	}
	if cfg.Vertex.Region != "us-east5" {
		t.Errorf("region = %q, want us-east5", cfg.Vertex.Region)
	}
	if cfg.Vertex.ProjectID != "my-project" {
		t.Errorf("project_id = %q, want my-project", cfg.Vertex.ProjectID)
	}
	if cfg.Vertex.MaxRetries != 4 {
		t.Errorf("max_retries = %d, want 4", cfg.Vertex.MaxRetries)
	}
	if cfg.Database.DSN != ":memory:" {
		t.Errorf("dsn = %q, want %q", cfg.Database.DSN, ":memory:")
	}
	if len(cfg.Auth.APIKeys) != 2 || cfg.Auth.APIKeys[0] != "key-a" {
		t.Errorf("api_keys = %v, want [key-a key-b]", cfg.Auth.APIKeys)
	}
	if cfg.Cache.MaxSize != 500 || cfg.Cache.DefaultTTL != 30*time.Second {
		t.Errorf("cache = %+v", cfg.Cache)
	}
}

func TestExpandEnv(t *testing.T) {
	// Cannot use t.Parallel() with t.Setenv
	t.Setenv("TEST_VERTEX_PROJECT", "proj-from-env")

	path := writeConfig(t, `
vertex:
  project_id: ${TEST_VERTEX_PROJECT}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Vertex.ProjectID != "proj-from-env" {
		t.Errorf("project_id = %q, want proj-from-env", cfg.Vertex.ProjectID)
	}

	// Unknown variables stay verbatim so the parse error points at them.
	result := expandEnv([]byte("key: ${TEST_UNSET_VARIABLE_42}"))
	if string(result) != "key: ${TEST_UNSET_VARIABLE_42}" {
		t.Errorf("expandEnv = %q, want unexpanded", string(result))
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, `{}`))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("default addr = %q, want %q", cfg.Server.Addr, ":8080")
	}
	if cfg.Server.MaxBodyBytes != 10<<20 {
		t.Errorf("default max_body_bytes = %d, want %d", cfg.Server.MaxBodyBytes, 10<<20)
	}
	if cfg.Database.DSN != "" {
		t.Errorf("default dsn = %q, want empty (usage recording disabled)", cfg.Database.DSN)
	}
	if !cfg.Cache.Enabled || cfg.Cache.MaxSize != 10_000 {
		t.Errorf("default cache = %+v", cfg.Cache)
	}
}

func TestLoadBadYAML(t *testing.T) {
	t.Parallel()

	if _, err := Load(writeConfig(t, "server: [not a mapping")); err == nil {
		t.Fatal("expected parse error")
	}
}
