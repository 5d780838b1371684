package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"comfycli/internal/config"
	"comfycli/internal/download"
	"comfycli/internal/lockfile"
	"comfycli/internal/tui"
)

const defaultModelDir = "models/checkpoints"

// ModelNotFoundError reports a model name with no file and no lock entry.
type ModelNotFoundError struct {
	Name string
}

func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("model %q not found", e.Name)
}

func (e *ModelNotFoundError) Remedy() string {
	return "run `comfy model list` to see downloaded models"
}

func newModelCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Download and manage model files",
	}
	cmd.AddCommand(newModelDownloadCmd(a))
	cmd.AddCommand(newModelListCmd(a))
	cmd.AddCommand(newModelRemoveCmd(a))
	return cmd
}

type modelDownloadOptions struct {
	url          string
	relativePath string
	filename     string
	modelType    string
	civitaiToken string
	hfToken      string
}

func newModelDownloadCmd(a *app) *cobra.Command {
	var opts modelDownloadOptions

	cmd := &cobra.Command{
		Use:         "download",
		Short:       "Download a model into the workspace and record it in the lock file",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationLogFile: ""},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runModelDownload(cmd, a, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.url, "url", "", "URL of the model (direct, CivitAI or Hugging Face)")
	flags.StringVar(&opts.relativePath, "relative-path", "", "Directory relative to the workspace to store the model in")
	flags.StringVar(&opts.filename, "filename", "", "File name to save the model as")
	flags.StringVar(&opts.modelType, "type", "", "Model type, e.g. checkpoints or loras")
	flags.StringVar(&opts.civitaiToken, "set-civitai-api-token", "", "Store and use a CivitAI API token")
	flags.StringVar(&opts.hfToken, "set-hf-api-token", "", "Store and use a Hugging Face API token")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

// modelTokens stores any token given on the command line and returns the
// effective tokens.
func modelTokens(store *config.Store, opts modelDownloadOptions) (download.Tokens, error) {
	for key, value := range map[string]string{
		config.KeyCivitaiAPIToken: opts.civitaiToken,
		config.KeyHFAPIToken:      opts.hfToken,
	} {
		if value == "" {
			continue
		}
		if err := store.Set(key, value); err != nil {
			return download.Tokens{}, err
		}
	}
	tokens := download.Tokens{
		Civitai:     store.Get(config.KeyCivitaiAPIToken),
		HuggingFace: store.Get(config.KeyHFAPIToken),
	}
	if tokens.Civitai == "" {
		tokens.Civitai = os.Getenv("CIVITAI_API_TOKEN")
	}
	if tokens.HuggingFace == "" {
		tokens.HuggingFace = os.Getenv("HF_API_TOKEN")
	}
	return tokens, nil
}

// modelDir picks the directory relative to the workspace for a download.
func modelDir(opts modelDownloadOptions, resolved download.Resolved) string {
	switch {
	case opts.relativePath != "":
		return filepath.ToSlash(opts.relativePath)
	case opts.modelType != "":
		return path.Join("models", opts.modelType)
	case resolved.RelativeDir() != "":
		return resolved.RelativeDir()
	}
	return defaultModelDir
}

func runModelDownload(cmd *cobra.Command, a *app, opts modelDownloadOptions) error {
	ctx, cancel := commandContext(cmd, networkTimeout)
	defer cancel()

	src, err := download.Classify(opts.url)
	if err != nil {
		return err
	}
	tokens, err := modelTokens(a.store, opts)
	if err != nil {
		return err
	}
	headers := download.AuthHeaders(src, tokens)

	client := download.NewClient(a.log())
	resolved, err := client.Resolve(ctx, src, headers)
	if err != nil {
		return err
	}

	filename := opts.filename
	if filename == "" {
		filename = resolved.Filename
	}
	if filename == "" {
		return errors.New("cannot derive a file name from the url; pass --filename")
	}

	if err := download.CheckFilename(filename); err != nil {
		return err
	}

	rel := modelDir(opts, resolved)
	dest := filepath.Join(a.wp.ModelDir(rel), filename)
	if !filepath.IsAbs(opts.relativePath) && !a.wp.Contains(dest) {
		return fmt.Errorf("refusing to write %s outside the workspace %s", dest, a.wp.Root)
	}
	req := download.Request{URL: resolved.URL, Dest: dest, Headers: headers}
	a.logger.Info("downloading model", "url", resolved.URL, "dest", dest)

	var result download.Result
	fetch := func() error {
		var fetchErr error
		result, fetchErr = client.Fetch(ctx, req)
		return fetchErr
	}

	if tui.DetectMode(cmd.OutOrStdout(), a.noProgress, a.jsonOutput) == tui.ModeTUI {
		model := tui.NewDownloadModel("Downloading into "+a.wp.Rel(filepath.Dir(dest)), filename)
		err = tui.RunWithWork(cmd.OutOrStdout(), model, func(send func(tea.Msg)) error {
			req.Progress = tui.DownloadProgress(send, filename)
			if err := fetch(); err != nil {
				send(tui.RowUpdateMsg{Key: filename, Status: "failed", Detail: err.Error()})
				return err
			}
			send(tui.RowUpdateMsg{Key: filename, Status: "downloaded", Detail: humanize.Bytes(uint64(result.Size))})
			return nil
		})
	} else {
		err = fetch()
	}
	if err != nil {
		return err
	}

	modelType := opts.modelType
	if modelType == "" {
		modelType = path.Base(rel)
	}
	entry := lockfile.Model{
		Name:  filename,
		URL:   opts.url,
		Paths: []lockfile.ModelPath{{Path: a.wp.Rel(dest)}},
		Hashes: []lockfile.ModelHash{
			{Hash: result.SHA256, Type: "sha256"},
			{Hash: result.BLAKE3, Type: "blake3"},
		},
		Type: modelType,
	}
	if err := a.updateLock(func(lock *lockfile.Lock) error {
		lock.UpsertModel(entry)
		return nil
	}); err != nil {
		return err
	}

	if a.jsonOutput {
		return writeJSON(cmd, map[string]any{
			"name":   filename,
			"path":   entry.Paths[0].Path,
			"size":   result.Size,
			"sha256": result.SHA256,
			"blake3": result.BLAKE3,
		})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Downloaded %s (%s) to %s\n", filename, humanize.Bytes(uint64(result.Size)), entry.Paths[0].Path)
	return nil
}

type modelFile struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Size    int64  `json:"size"`
	Tracked bool   `json:"tracked"`
	SHA256  string `json:"sha256,omitempty"`
}

// listModels walks dir and annotates each file with its lock entry.
func listModels(a *app, dir string, lock *lockfile.Lock) ([]modelFile, error) {
	var files []modelFile
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == dir {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel := a.wp.Rel(p)
		f := modelFile{Name: d.Name(), Path: rel, Size: info.Size()}
		if tracked := lock.FindModels(d.Name(), rel); len(tracked) > 0 {
			f.Tracked = true
			f.SHA256 = tracked[0].Hash("sha256")
		}
		files = append(files, f)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func newModelListCmd(a *app) *cobra.Command {
	var relativePath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List model files in the workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			lock, err := lockfile.Load(a.wp.Root)
			if err != nil {
				return err
			}
			dir := a.wp.ModelsDir
			if relativePath != "" {
				dir = a.wp.ModelDir(relativePath)
			}
			files, err := listModels(a, dir, lock)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				if files == nil {
					files = []modelFile{}
				}
				return writeJSON(cmd, files)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSIZE\tTRACKED\tPATH")
			for _, f := range files {
				tracked := "no"
				if f.Tracked {
					tracked = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", f.Name, humanize.Bytes(uint64(f.Size)), tracked, f.Path)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&relativePath, "relative-path", "", "Only list models under this directory")
	return cmd
}

func newModelRemoveCmd(a *app) *cobra.Command {
	var relativePath string

	cmd := &cobra.Command{
		Use:         "remove <name>...",
		Short:       "Delete model files and their lock file entries",
		Args:        cobra.MinimumNArgs(1),
		Annotations: map[string]string{annotationLogFile: ""},
		RunE: func(cmd *cobra.Command, names []string) error {
			return a.updateLock(func(lock *lockfile.Lock) error {
				for _, name := range names {
					removed, err := removeModel(a, lock, name, relativePath)
					if err != nil {
						return err
					}
					for _, p := range removed {
						fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", p)
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&relativePath, "relative-path", "", "Directory of the model, relative to the workspace")
	return cmd
}

// removeModel deletes every copy of name, limited to relativePath when set,
// and drops the matching lock entries. It returns the removed paths.
func removeModel(a *app, lock *lockfile.Lock, name, relativePath string) ([]string, error) {
	var candidates []string
	if relativePath != "" {
		candidates = append(candidates, a.wp.Rel(filepath.Join(a.wp.ModelDir(relativePath), name)))
	} else {
		for _, m := range lock.FindModels(name, "") {
			for _, p := range m.Paths {
				candidates = append(candidates, p.Path)
			}
		}
		if len(candidates) == 0 {
			candidates = append(candidates, a.wp.Rel(filepath.Join(a.wp.ModelDir(""), name)))
		}
	}

	var removed []string
	for _, rel := range candidates {
		full := rel
		if !filepath.IsAbs(full) {
			full = filepath.Join(a.wp.Root, filepath.FromSlash(rel))
		}
		err := os.Remove(full)
		switch {
		case err == nil:
			removed = append(removed, rel)
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("remove %s: %w", rel, err)
		}
		if lock.RemoveModel(name, rel) && err != nil {
			removed = append(removed, rel)
		}
	}
	if len(removed) == 0 {
		return nil, &ModelNotFoundError{Name: name}
	}
	return removed, nil
}
