package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"comfycli/internal/exitcode"
)

const managerURL = "https://github.com/ltdrdata/ComfyUI-Manager"

func sampleLock() *Lock {
	l := New()
	l.SetApplication("https://github.com/comfyanonymous/ComfyUI", "0a1b2c3")
	l.UpsertExtension(Extension{Source: managerURL, Commit: "9f8e7d6", Enabled: true})
	l.UpsertExtension(Extension{Source: "my_node.py", Enabled: false})
	l.UpsertModel(Model{
		Name:  "sd15.safetensors",
		URL:   "https://example.com/sd15.safetensors",
		Paths: []ModelPath{{Path: "models/checkpoints/sd15.safetensors"}},
		Hashes: []ModelHash{
			{Hash: "3b1f", Type: "sha256"},
			{Hash: "77ac", Type: "blake3"},
		},
		Type: "checkpoints",
	})
	return l
}

func TestLoadMissingReturnsEmpty(t *testing.T) {
	l, err := Load(t.TempDir())
	require.NoError(t, err)
	require.Empty(t, l.Extensions())
	require.Empty(t, l.Models)
	require.Empty(t, l.Basics.Commit)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ws := t.TempDir()
	original := sampleLock()
	require.NoError(t, original.Save(ws))

	loaded, err := Load(ws)
	require.NoError(t, err)
	require.Equal(t, original, loaded)

	first, err := os.ReadFile(filepath.Join(ws, "comfy.lock.yaml"))
	require.NoError(t, err)
	require.NoError(t, loaded.Save(ws))
	second, err := os.ReadFile(filepath.Join(ws, "comfy.lock.yaml"))
	require.NoError(t, err)
	require.Equal(t, string(first), string(second))
	require.Contains(t, string(first), "# This file is generated by comfy")
}

func TestSaveLoadRoundTripEmpty(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, New().Save(ws))

	loaded, err := Load(ws)
	require.NoError(t, err)
	require.Equal(t, New(), loaded)
}

func TestDecodeLockWrittenByHand(t *testing.T) {
	doc := `# comment
basics:
  remote: https://github.com/comfyanonymous/ComfyUI
  commit: abc
custom_nodes:
  git_custom_nodes:
    https://github.com/example/node:
      hash: def
      disabled: true
  file_custom_nodes: {}
models: []
`
	l, err := Decode([]byte(doc))
	require.NoError(t, err)
	ext, ok := l.Extension("https://github.com/example/node")
	require.True(t, ok)
	require.Equal(t, Extension{Source: "https://github.com/example/node", Commit: "def", Enabled: false}, ext)
}

func TestLoadRejectsCorruptFiles(t *testing.T) {
	cases := map[string]string{
		"not yaml":            "basics: [unterminated\n",
		"unknown field":       "basics:\n  remote: x\n  branch: main\n",
		"duplicate key":       "custom_nodes:\n  git_custom_nodes:\n    https://a/b:\n      hash: 1\n    https://a/b:\n      hash: 2\n",
		"model without name":  "models:\n  - url: https://example.com/x\n    paths:\n      - path: models/x\n",
		"model without path":  "models:\n  - name: x.safetensors\n",
		"node in both groups": "custom_nodes:\n  git_custom_nodes:\n    dup:\n      hash: a\n  file_custom_nodes:\n    dup:\n      disabled: false\n",
	}

	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			ws := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(ws, "comfy.lock.yaml"), []byte(doc), 0o644))

			_, err := Load(ws)
			var corrupt *CorruptLockFileError
			require.ErrorAs(t, err, &corrupt)
			require.Equal(t, exitcode.CorruptLockFile, corrupt.ExitCode())
			require.NotEmpty(t, corrupt.Remedy())
		})
	}
}

func TestUpsertExtensionLeavesOthersUntouched(t *testing.T) {
	l := sampleLock()
	before := l.Extensions()

	l.UpsertExtension(Extension{Source: managerURL, Commit: "ffff", Enabled: true})

	after := l.Extensions()
	require.Len(t, after, len(before))
	for i := range after {
		if after[i].Source == managerURL {
			require.Equal(t, "ffff", after[i].Commit)
			continue
		}
		require.Equal(t, before[i], after[i])
	}
	require.Len(t, l.Models, 1)
	require.Equal(t, "0a1b2c3", l.Basics.Commit)
}

func TestUpsertExtensionNeverDuplicates(t *testing.T) {
	l := New()
	l.UpsertExtension(Extension{Source: "node.py", Enabled: true})
	l.UpsertExtension(Extension{Source: "node.py", Enabled: false})
	require.Len(t, l.Extensions(), 1)

	l.UpsertExtension(Extension{Source: "git@github.com:a/b.git", Commit: "1", Enabled: true})
	l.UpsertExtension(Extension{Source: "git@github.com:a/b.git", Commit: "2", Enabled: true})
	require.Len(t, l.CustomNodes.Git, 1)
	require.Len(t, l.CustomNodes.File, 1)
}

func TestRemoveAndToggleExtension(t *testing.T) {
	l := sampleLock()

	require.True(t, l.SetExtensionEnabled(managerURL, false))
	ext, ok := l.Extension(managerURL)
	require.True(t, ok)
	require.False(t, ext.Enabled)
	require.Equal(t, "9f8e7d6", ext.Commit)

	require.False(t, l.SetExtensionEnabled("missing", true))
	require.False(t, l.RemoveExtension("missing"))
	require.True(t, l.RemoveExtension(managerURL))
	_, ok = l.Extension(managerURL)
	require.False(t, ok)
}

func TestUpsertModelKeyedByNameAndPath(t *testing.T) {
	l := sampleLock()
	l.UpsertModel(Model{Name: "vae.pt", Paths: []ModelPath{{Path: "models/vae/vae.pt"}}})

	replacement := Model{
		Name:   "sd15.safetensors",
		URL:    "https://mirror.example.com/sd15.safetensors",
		Paths:  []ModelPath{{Path: "models/checkpoints/sd15.safetensors"}},
		Hashes: []ModelHash{{Hash: "aaaa", Type: "sha256"}},
	}
	l.UpsertModel(replacement)
	require.Len(t, l.Models, 2)
	require.Equal(t, replacement, l.Models[0])
	require.Equal(t, "aaaa", l.Models[0].Hash("SHA256"))

	elsewhere := Model{Name: "sd15.safetensors", Paths: []ModelPath{{Path: "models/other/sd15.safetensors"}}}
	l.UpsertModel(elsewhere)
	require.Len(t, l.Models, 3)
	require.Len(t, l.FindModels("sd15.safetensors", ""), 2)
	require.Len(t, l.FindModels("sd15.safetensors", "models/other/sd15.safetensors"), 1)
}

func TestRemoveModel(t *testing.T) {
	l := New()
	l.UpsertModel(Model{Name: "a", Paths: []ModelPath{{Path: "models/x/a"}, {Path: "models/y/a"}}})
	l.UpsertModel(Model{Name: "b", Paths: []ModelPath{{Path: "models/x/b"}}})

	require.True(t, l.RemoveModel("a", "models/x/a"))
	require.Len(t, l.Models, 2)
	require.Equal(t, []ModelPath{{Path: "models/y/a"}}, l.Models[0].Paths)

	require.False(t, l.RemoveModel("a", "models/x/a"))
	require.True(t, l.RemoveModel("a", ""))
	require.Len(t, l.Models, 1)
	require.Equal(t, "b", l.Models[0].Name)
}

func TestInterruptedSaveKeepsOriginal(t *testing.T) {
	ws := t.TempDir()
	original := sampleLock()
	require.NoError(t, original.Save(ws))
	want, err := os.ReadFile(filepath.Join(ws, "comfy.lock.yaml"))
	require.NoError(t, err)

	crash := errors.New("simulated crash")
	prev := beforeRename
	beforeRename = func(string) error { return crash }
	t.Cleanup(func() { beforeRename = prev })

	modified := sampleLock()
	modified.RemoveExtension(managerURL)
	require.ErrorIs(t, modified.Save(ws), crash)

	got, err := os.ReadFile(filepath.Join(ws, "comfy.lock.yaml"))
	require.NoError(t, err)
	require.Equal(t, string(want), string(got))

	loaded, err := Load(ws)
	require.NoError(t, err)
	require.Equal(t, original, loaded)

	entries, err := os.ReadDir(ws)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp file must be cleaned up")
}

func TestIsRemoteSource(t *testing.T) {
	require.True(t, IsRemoteSource("https://github.com/a/b"))
	require.True(t, IsRemoteSource("git@github.com:a/b.git"))
	require.False(t, IsRemoteSource("node.py"))
}
