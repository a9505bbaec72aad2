package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/nugget/docent/internal/config"
	"github.com/nugget/docent/internal/defaults"
)

// clearUmask sets the process umask to 0 so file permission assertions are
// deterministic. It restores the original umask when the test completes.
func clearUmask(t *testing.T) {
	t.Helper()
	old := syscall.Umask(0)
	t.Cleanup(func() { syscall.Umask(old) })
}

func TestRunInit_FreshDirectory(t *testing.T) {
	clearUmask(t)
	dir := filepath.Join(t.TempDir(), "nested")
	var buf bytes.Buffer

	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	path := filepath.Join(dir, "docent.yaml")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("docent.yaml not created: %v", err)
	}
	if got := info.Mode().Perm(); got != 0o600 {
		t.Errorf("docent.yaml permissions = %o, want 0600", got)
	}
	if !strings.Contains(buf.String(), "Wrote "+path) {
		t.Errorf("output = %q", buf.String())
	}
}

func TestRunInit_DoesNotOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docent.yaml")
	if err := os.WriteFile(path, []byte("custom: true\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	got, _ := os.ReadFile(path)
	if string(got) != "custom: true\n" {
		t.Errorf("existing config overwritten: %q", got)
	}
	if !strings.Contains(buf.String(), "already exists") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestExampleConfigLoads(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("ELASTIC_URL", "https://es.example.com:9200")
	t.Setenv("ELASTIC_API_KEY", "es-key")

	path := filepath.Join(t.TempDir(), "docent.yaml")
	if err := os.WriteFile(path, defaults.ConfigYAML, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load example config: %v", err)
	}
	if cfg.Model.APIKey != "sk-test" {
		t.Errorf("api_key = %q, want expanded value", cfg.Model.APIKey)
	}
	if len(cfg.ToolServers) != 2 || cfg.ToolServers[0].Env["ELASTIC_URL"] != "https://es.example.com:9200" {
		t.Errorf("tool servers = %+v", cfg.ToolServers)
	}
	if _, ok := cfg.Usage.Pricing[cfg.Model.Name]; !ok {
		t.Errorf("no pricing entry for default model %s", cfg.Model.Name)
	}
}
