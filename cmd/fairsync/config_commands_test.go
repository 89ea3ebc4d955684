package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigInitWritesSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	out, err := runCommand(t, "config", "init", "--path", path)
	if err != nil {
		t.Fatalf("config init failed: %v", err)
	}
	if !strings.Contains(out, path) {
		t.Errorf("expected output to mention %s, got %q", path, out)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample config: %v", err)
	}
	if !strings.Contains(string(data), "[backend]") {
		t.Error("sample config missing [backend] section")
	}
}

func TestConfigInitRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("existing"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := runCommand(t, "config", "init", "--path", path); err == nil {
		t.Fatal("expected error when config already exists")
	}

	if _, err := runCommand(t, "config", "init", "--path", path, "--force"); err != nil {
		t.Fatalf("config init --force failed: %v", err)
	}
}

func TestConfigValidateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if _, err := runCommand(t, "config", "init", "--path", path); err != nil {
		t.Fatalf("config init failed: %v", err)
	}

	out, err := runCommand(t, "config", "validate", "--path", path)
	if err != nil {
		t.Fatalf("config validate failed: %v", err)
	}
	if !strings.Contains(out, "is valid") {
		t.Errorf("expected validation success, got %q", out)
	}
	if !strings.Contains(out, "https://crm.example.edu") {
		t.Errorf("expected backend URL in output, got %q", out)
	}
}

func TestConfigValidateRejectsBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := "[backend]\nbase_url = \"\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := runCommand(t, "config", "validate", "--path", path); err == nil {
		t.Fatal("expected validation failure for empty base_url")
	}
}
