package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Runtime != RuntimeNative {
		t.Errorf("expected native runtime, got %q", cfg.Runtime)
	}
	if !cfg.Watch {
		t.Error("expected watch to default to true")
	}
	if cfg.StartupTimeout != 30*time.Second {
		t.Errorf("expected 30s startup timeout, got %v", cfg.StartupTimeout)
	}
	if cfg.Python.Interpreter != "python3" {
		t.Errorf("unexpected interpreter %q", cfg.Python.Interpreter)
	}
	if cfg.Docker.Image != "python:3.11-slim" {
		t.Errorf("unexpected image %q", cfg.Docker.Image)
	}
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HistoryFile != "~/.pngtools_history.dat" {
		t.Errorf("unexpected history file %q", cfg.HistoryFile)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
runtime: docker
watch: false
startup_timeout: 10s
audit_log: /tmp/pngtools/audit.log
python:
  interpreter: python3.12
  path:
    - /opt/pngtools
docker:
  image: ghcr.io/example/pngtools:latest
  pull: true
  binds:
    - /data:/data:ro
  env:
    - FOO=bar
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Runtime != RuntimeDocker {
		t.Errorf("expected docker runtime, got %q", cfg.Runtime)
	}
	if cfg.Watch {
		t.Error("expected watch disabled")
	}
	if cfg.StartupTimeout != 10*time.Second {
		t.Errorf("expected 10s, got %v", cfg.StartupTimeout)
	}
	if cfg.Python.Interpreter != "python3.12" || len(cfg.Python.Path) != 1 {
		t.Errorf("unexpected python config %+v", cfg.Python)
	}
	if !cfg.Docker.Pull || cfg.Docker.Binds[0] != "/data:/data:ro" || cfg.Docker.Env[0] != "FOO=bar" {
		t.Errorf("unexpected docker config %+v", cfg.Docker)
	}
	// Untouched keys keep their defaults.
	if cfg.HistoryFile != "~/.pngtools_history.dat" {
		t.Errorf("unexpected history file %q", cfg.HistoryFile)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{"unknown runtime", "runtime: jvm\n", errUnknownRuntime},
		{"zero timeout", "startup_timeout: 0s\n", errBadTimeout},
		{"no interpreter", "runtime: python\npython:\n  interpreter: \"\"\n", errNoInterpreter},
		{"no image", "runtime: docker\ndocker:\n  image: \"\"\n", errNoImage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	if _, err := Load(writeConfig(t, "runtim: native\n")); err == nil {
		t.Error("expected error for misspelled key")
	}
}

func TestLoadMalformed(t *testing.T) {
	if _, err := Load(writeConfig(t, "runtime: [native\n")); err == nil {
		t.Error("expected error for malformed yaml")
	}
}

func TestLocate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"explicit", map[string]string{EnvConfig: "/etc/pngtools.yaml", "HOME": "/home/u"}, "/etc/pngtools.yaml"},
		{"xdg", map[string]string{"XDG_CONFIG_HOME": "/xdg", "HOME": "/home/u"}, "/xdg/pngtools/config.yaml"},
		{"home", map[string]string{"HOME": "/home/u"}, "/home/u/.config/pngtools/config.yaml"},
		{"nothing", map[string]string{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Locate(func(k string) string { return tt.env[k] })
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	env := map[string]string{EnvRuntime: " Python ", EnvDebug: "1"}
	if err := cfg.ApplyEnv(func(k string) string { return env[k] }); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.Runtime != RuntimePython {
		t.Errorf("expected python, got %q", cfg.Runtime)
	}
	if !cfg.Debug {
		t.Error("expected debug enabled")
	}

	bad := map[string]string{EnvDebug: "sometimes"}
	if err := Default().ApplyEnv(func(k string) string { return bad[k] }); err == nil {
		t.Error("expected error for bad debug value")
	}

	unknown := map[string]string{EnvRuntime: "lua"}
	if err := Default().ApplyEnv(func(k string) string { return unknown[k] }); !errors.Is(err, errUnknownRuntime) {
		t.Errorf("expected errUnknownRuntime, got %v", err)
	}
}

func TestExpandHome(t *testing.T) {
	t.Setenv("HOME", "/home/tester")

	tests := map[string]string{
		"~/.pngtools_history.dat": "/home/tester/.pngtools_history.dat",
		"~":                       "/home/tester",
		"/abs/path":               "/abs/path",
		"~other/file":             "~other/file",
	}
	for in, want := range tests {
		if got := ExpandHome(in); got != want {
			t.Errorf("ExpandHome(%q) = %q, want %q", in, got, want)
		}
	}
}
