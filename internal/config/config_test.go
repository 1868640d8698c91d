package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeManifest(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, ManifestName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

// #region test-load
func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, `
project:
  name: demo
tasks:
  - id: build
    command: "go build ./..."
  - id: test
    command: "go test ./..."
    needs: [build]
    timeout: 90s
    retries: 2
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Project.Name != "demo" {
		t.Errorf("project name: got %q", cfg.Project.Name)
	}
	if cfg.Run.MaxParallel != 4 {
		t.Errorf("default max_parallel: got %d", cfg.Run.MaxParallel)
	}
	if cfg.Dir != dir {
		t.Errorf("manifest dir: got %q want %q", cfg.Dir, dir)
	}

	build, ok := cfg.Task("build")
	if !ok {
		t.Fatalf("task build not found")
	}
	if build.Timeout.Std() != 10*time.Minute {
		t.Errorf("default timeout: got %v", build.Timeout)
	}

	test, _ := cfg.Task("test")
	if test.Timeout.Std() != 90*time.Second {
		t.Errorf("explicit timeout: got %v", test.Timeout)
	}
	if test.Retries != 2 {
		t.Errorf("retries: got %d", test.Retries)
	}
}

// #endregion test-load

// #region test-validate
func TestValidateRejectsDuplicateID(t *testing.T) {
	path := writeManifest(t, t.TempDir(), `
tasks:
  - id: build
    command: "true"
  - id: build
    command: "true"
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "duplicate id") {
		t.Fatalf("expected duplicate id error, got %v", err)
	}
}

func TestValidateRejectsUnknownDependency(t *testing.T) {
	path := writeManifest(t, t.TempDir(), `
tasks:
  - id: test
    command: "true"
    needs: [compile]
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), `unknown task "compile"`) {
		t.Fatalf("expected unknown dependency error, got %v", err)
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	path := writeManifest(t, t.TempDir(), `
projct:
  name: typo
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected unknown field error")
	}
}

// #endregion test-validate

// #region test-find
func TestFindManifestWalksUp(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "tasks: []\n")
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	found, err := FindManifest(nested)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found != filepath.Join(root, ManifestName) {
		t.Errorf("found %q", found)
	}
}

func TestFindManifestMissing(t *testing.T) {
	if _, err := FindManifest(t.TempDir()); err == nil {
		t.Fatal("expected error when no manifest exists")
	}
}

// #endregion test-find

// #region test-task-dir
func TestTaskDirResolution(t *testing.T) {
	cfg := Default()
	cfg.Dir = "/work/project"

	if got := cfg.TaskDir(TaskSpec{}); got != "/work/project" {
		t.Errorf("empty dir: got %q", got)
	}
	if got := cfg.TaskDir(TaskSpec{Dir: "sub"}); got != "/work/project/sub" {
		t.Errorf("relative dir: got %q", got)
	}
	if got := cfg.TaskDir(TaskSpec{Dir: "/abs"}); got != "/abs" {
		t.Errorf("absolute dir: got %q", got)
	}
}

// #endregion test-task-dir
