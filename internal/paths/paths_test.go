package paths

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestForWorkspaceLayout(t *testing.T) {
	root := t.TempDir()
	wp := ForWorkspace(root)

	if wp.LockFile != filepath.Join(root, "comfy.lock.yaml") {
		t.Fatalf("unexpected lock file path %s", wp.LockFile)
	}
	if wp.ManagerDir != filepath.Join(root, "custom_nodes", "ComfyUI-Manager") {
		t.Fatalf("unexpected manager dir %s", wp.ManagerDir)
	}
	if wp.PackageDir != filepath.Join(root, "comfy") {
		t.Fatalf("unexpected package dir %s", wp.PackageDir)
	}
}

func TestModelDir(t *testing.T) {
	root := t.TempDir()
	wp := ForWorkspace(root)

	if got := wp.ModelDir(""); got != filepath.Join(root, "models", "checkpoints") {
		t.Fatalf("default model dir: got %s", got)
	}
	if got := wp.ModelDir("models/loras"); got != filepath.Join(root, "models", "loras") {
		t.Fatalf("relative model dir: got %s", got)
	}
	abs := filepath.Join(t.TempDir(), "elsewhere")
	if got := wp.ModelDir(abs); got != abs {
		t.Fatalf("absolute model dir: got %s", got)
	}
}

func TestRel(t *testing.T) {
	root := t.TempDir()
	wp := ForWorkspace(root)

	inside := filepath.Join(root, "models", "checkpoints", "a.safetensors")
	if got := wp.Rel(inside); got != "models/checkpoints/a.safetensors" {
		t.Fatalf("got %s", got)
	}
	outside := filepath.Join(t.TempDir(), "b.safetensors")
	if got := wp.Rel(outside); got != outside {
		t.Fatalf("expected outside path unchanged, got %s", got)
	}
}

func TestConfigDirOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("COMFY_CLI_CONFIG_DIR", dir)

	got, err := ConfigDir()
	if err != nil {
		t.Fatalf("ConfigDir: %v", err)
	}
	if got != dir {
		t.Fatalf("got %s, want %s", got, dir)
	}

	file, err := ConfigFile()
	if err != nil {
		t.Fatalf("ConfigFile: %v", err)
	}
	if file != filepath.Join(dir, "config.ini") {
		t.Fatalf("unexpected config file %s", file)
	}
}

func TestLogsDirCreatesDir(t *testing.T) {
	t.Setenv("COMFY_CLI_CONFIG_DIR", t.TempDir())

	dir, err := LogsDir()
	if err != nil {
		t.Fatalf("LogsDir: %v", err)
	}
	exists, err := DirExists(dir)
	if err != nil || !exists {
		t.Fatalf("expected logs dir to exist: %v", err)
	}
}

func TestFallbackWorkspace(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("HOME override is not honoured on windows")
	}
	home := t.TempDir()
	t.Setenv("HOME", home)

	got, err := FallbackWorkspace()
	if err != nil {
		t.Fatalf("FallbackWorkspace: %v", err)
	}
	want := filepath.Join(home, "comfy", "ComfyUI")
	if runtime.GOOS == "darwin" {
		want = filepath.Join(home, "Documents", "comfy", "ComfyUI")
	}
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestAbsoluteExpandsHome(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("HOME override is not honoured on windows")
	}
	home := t.TempDir()
	t.Setenv("HOME", home)

	got, err := Absolute("~/comfy")
	if err != nil {
		t.Fatalf("Absolute: %v", err)
	}
	if got != filepath.Join(home, "comfy") {
		t.Fatalf("got %s", got)
	}
}

func TestExistsHelpers(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "main.py")
	if err := os.WriteFile(file, []byte("print()"), 0o644); err != nil {
		t.Fatal(err)
	}

	if ok, _ := FileExists(file); !ok {
		t.Fatal("expected file to exist")
	}
	if ok, _ := FileExists(dir); ok {
		t.Fatal("directory reported as file")
	}
	if ok, _ := DirExists(dir); !ok {
		t.Fatal("expected dir to exist")
	}
	if ok, err := DirExists(filepath.Join(dir, "missing")); ok || err != nil {
		t.Fatalf("missing dir: ok=%v err=%v", ok, err)
	}
}

func TestContains(t *testing.T) {
	root := t.TempDir()
	wp := ForWorkspace(root)

	cases := map[string]bool{
		filepath.Join(root, "models", "checkpoints", "a.ckpt"): true,
		filepath.Join(root, "..hidden"):                        true,
		root:                                                   true,
		filepath.Join(root, "..", "outside.ckpt"):              false,
		filepath.Join(root, "models", "..", "..", ".bashrc"):   false,
		filepath.Dir(root):                                     false,
	}
	for target, want := range cases {
		if got := wp.Contains(target); got != want {
			t.Errorf("Contains(%q) = %v, want %v", target, got, want)
		}
	}
}
