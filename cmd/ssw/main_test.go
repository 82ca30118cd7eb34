package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func setupTestHome(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("SSW_HOME", dir)
	t.Setenv("SSW_NON_INTERACTIVE", "1")
	return dir
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write error: %v", err)
	}
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	return data
}

func TestRunListEmpty(t *testing.T) {
	setupTestHome(t)
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}

	if code := run([]string{"list"}, strings.NewReader(""), stdout, stderr); code != 0 {
		t.Fatalf("exit code %d, stderr: %s", code, stderr.String())
	}
	if strings.TrimSpace(stdout.String()) != "No profiles found. Use 'ssw save' to create one." {
		t.Fatalf("unexpected output: %s", stdout.String())
	}
}

func TestRunSaveThenList(t *testing.T) {
	home := setupTestHome(t)
	writeFile(t, filepath.Join(home, "User", "globalStorage", "state.json"), []byte(`{"token":"a"}`))

	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	if code := run([]string{"save", "work"}, strings.NewReader(""), stdout, stderr); code != 0 {
		t.Fatalf("save exit code %d, stderr: %s", code, stderr.String())
	}
	if got := string(readFile(t, filepath.Join(home, "Profiles", "work", "globalStorage", "state.json"))); got != `{"token":"a"}` {
		t.Fatalf("snapshot content %q", got)
	}
	if got := strings.TrimSpace(string(readFile(t, filepath.Join(home, "active_profile.txt")))); got != "work" {
		t.Fatalf("pointer %q", got)
	}

	stdout.Reset()
	if code := run([]string{"list"}, strings.NewReader(""), stdout, stderr); code != 0 {
		t.Fatalf("list exit code %d", code)
	}
	if !strings.Contains(stdout.String(), "1. * [work] (active") {
		t.Fatalf("unexpected list output: %s", stdout.String())
	}
}

func TestRunReportsErrors(t *testing.T) {
	setupTestHome(t)
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}

	if code := run([]string{"use"}, strings.NewReader(""), stdout, stderr); code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "Error: profile name required in non-interactive mode") {
		t.Fatalf("unexpected stderr: %s", stderr.String())
	}
}

func TestRunSwitchAlias(t *testing.T) {
	setupTestHome(t)
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}

	if code := run([]string{"switch", "ghost"}, strings.NewReader(""), stdout, stderr); code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "profile not found") {
		t.Fatalf("unexpected stderr: %s", stderr.String())
	}
}

func TestRunCheckFromStdin(t *testing.T) {
	setupTestHome(t)
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}

	code := run([]string{"check"}, strings.NewReader("ok\nError: RESOURCE_EXHAUSTED\n"), stdout, stderr)
	if code != 0 {
		t.Fatalf("exit code %d, stderr: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "Rate limit signal: resource_exhausted") {
		t.Fatalf("unexpected output: %s", stdout.String())
	}
}

func TestInteractive(t *testing.T) {
	t.Setenv("SSW_NON_INTERACTIVE", "1")
	if interactive(os.Stdin) {
		t.Fatal("SSW_NON_INTERACTIVE=1 must disable prompts")
	}
	t.Setenv("SSW_NON_INTERACTIVE", "")
	if interactive(strings.NewReader("")) {
		t.Fatal("a non-file reader is never a terminal")
	}
}
