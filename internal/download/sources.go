package download

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
)

const defaultCivitaiAPI = "https://civitai.com/api/v1"

// ErrUnsafeName is returned for file names that are not a single path element.
var ErrUnsafeName = errors.New("unsafe file name")

// CheckFilename rejects names that would leave the target directory.
func CheckFilename(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("%q: %w", name, ErrUnsafeName)
	}
	return nil
}

// baseModelDir turns a CivitAI base model label into one directory name.
func baseModelDir(label string) string {
	dir := strings.NewReplacer(" ", "", "/", "", "\\", "", "\x00", "").Replace(label)
	if strings.Trim(dir, ".") == "" {
		return ""
	}
	return dir
}

// Kind classifies where a model URL points.
type Kind string

const (
	KindDirect         Kind = "direct"
	KindCivitaiModel   Kind = "civitai_model"
	KindCivitaiVersion Kind = "civitai_version"
	KindHuggingFace    Kind = "huggingface"
)

// Source is a parsed model URL.
type Source struct {
	URL       string
	Kind      Kind
	ModelID   int
	VersionID int

	// Hugging Face fields.
	Repo     string
	Revision string
	Folder   string

	// Filename suggested by the URL, if any.
	Filename string
}

// Classify parses rawURL into a Source.
func Classify(rawURL string) (Source, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return Source{}, fmt.Errorf("parse model url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return Source{}, fmt.Errorf("model url %q must be absolute", rawURL)
	}

	src := Source{URL: parsed.String(), Kind: KindDirect}
	host := strings.TrimPrefix(strings.ToLower(parsed.Host), "www.")
	parts := splitPath(parsed.Path)

	switch host {
	case "civitai.com":
		src, err = classifyCivitai(src, parsed, parts)
		if err != nil {
			return Source{}, err
		}
	case "huggingface.co", "huggingface.com":
		if len(parts) >= 5 && (parts[2] == "resolve" || parts[2] == "blob") {
			src.Kind = KindHuggingFace
			src.Repo = parts[0] + "/" + parts[1]
			src.Revision = parts[3]
			rest := parts[4:]
			if len(rest) > 1 {
				src.Folder = strings.Join(rest[:len(rest)-1], "/")
			}
			src.Filename = rest[len(rest)-1]
			if parts[2] == "blob" {
				// blob pages render HTML; resolve serves the file.
				parts[2] = "resolve"
				parsed.Path = "/" + strings.Join(parts, "/")
				src.URL = parsed.String()
			}
		}
	}

	if src.Filename == "" && len(parts) > 0 {
		src.Filename = parts[len(parts)-1]
	}
	return src, nil
}

func classifyCivitai(src Source, parsed *url.URL, parts []string) (Source, error) {
	switch {
	case len(parts) >= 4 && parts[0] == "api" && parts[1] == "download" && parts[2] == "models":
		id, err := strconv.Atoi(parts[3])
		if err != nil {
			return Source{}, fmt.Errorf("civitai download url: bad version id %q", parts[3])
		}
		src.Kind = KindCivitaiVersion
		src.VersionID = id
	case len(parts) >= 2 && parts[0] == "models":
		id, err := strconv.Atoi(parts[1])
		if err != nil {
			return Source{}, fmt.Errorf("civitai model url: bad model id %q", parts[1])
		}
		src.Kind = KindCivitaiModel
		src.ModelID = id
		if v := parsed.Query().Get("modelVersionId"); v != "" {
			version, err := strconv.Atoi(v)
			if err != nil {
				return Source{}, fmt.Errorf("civitai model url: bad version id %q", v)
			}
			src.VersionID = version
		}
	}
	return src, nil
}

func splitPath(p string) []string {
	var parts []string
	for _, part := range strings.Split(p, "/") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

// IsCivitai reports whether the source is served by CivitAI.
func (s Source) IsCivitai() bool {
	return s.Kind == KindCivitaiModel || s.Kind == KindCivitaiVersion
}

// Tokens are optional API credentials.
type Tokens struct {
	Civitai     string
	HuggingFace string
}

// AuthHeaders returns the request headers for src given the configured
// tokens.
func AuthHeaders(src Source, tokens Tokens) map[string]string {
	headers := map[string]string{}
	switch {
	case src.IsCivitai():
		headers["Content-Type"] = "application/json"
		if tokens.Civitai != "" {
			headers["Authorization"] = "Bearer " + tokens.Civitai
		}
	case src.Kind == KindHuggingFace:
		if tokens.HuggingFace != "" {
			headers["Authorization"] = "Bearer " + tokens.HuggingFace
		}
	}
	return headers
}

// Resolved is the concrete file a Source refers to.
type Resolved struct {
	URL       string
	Filename  string
	ModelType string
	BaseModel string
}

// TypeDirs maps CivitAI model types to directories under models/.
var TypeDirs = map[string]string{
	"lora":             "loras",
	"hypernetwork":     "hypernetworks",
	"checkpoint":       "checkpoints",
	"textualinversion": "embeddings",
	"controlnet":       "controlnet",
}

// RelativeDir returns the default directory for a resolved model, or "" when
// the type is unknown.
func (r Resolved) RelativeDir() string {
	dir, ok := TypeDirs[strings.ToLower(r.ModelType)]
	if !ok {
		return ""
	}
	p := path.Join("models", dir)
	if base := baseModelDir(r.BaseModel); base != "" {
		p = path.Join(p, base)
	}
	return p
}

type civitaiFile struct {
	Name        string `json:"name"`
	DownloadURL string `json:"downloadUrl"`
	Primary     bool   `json:"primary"`
}

type civitaiVersion struct {
	ID        int           `json:"id"`
	BaseModel string        `json:"baseModel"`
	Files     []civitaiFile `json:"files"`
	Model     struct {
		Type string `json:"type"`
	} `json:"model"`
}

type civitaiModel struct {
	Type     string           `json:"type"`
	Versions []civitaiVersion `json:"modelVersions"`
}

// Resolve looks up the primary file of a CivitAI source. Other kinds resolve
// to themselves.
func (c *Client) Resolve(ctx context.Context, src Source, headers map[string]string) (Resolved, error) {
	switch src.Kind {
	case KindCivitaiVersion:
		var version civitaiVersion
		if err := c.getJSON(ctx, fmt.Sprintf("%s/model-versions/%d", c.CivitaiAPI, src.VersionID), headers, &version); err != nil {
			return Resolved{}, err
		}
		return primaryFile(version, version.Model.Type)

	case KindCivitaiModel:
		var model civitaiModel
		if err := c.getJSON(ctx, fmt.Sprintf("%s/models/%d", c.CivitaiAPI, src.ModelID), headers, &model); err != nil {
			return Resolved{}, err
		}
		if len(model.Versions) == 0 {
			return Resolved{}, fmt.Errorf("civitai model %d has no versions", src.ModelID)
		}
		if src.VersionID == 0 {
			return primaryFile(model.Versions[0], model.Type)
		}
		for _, v := range model.Versions {
			if v.ID == src.VersionID {
				return primaryFile(v, model.Type)
			}
		}
		return Resolved{}, fmt.Errorf("version %d not found for civitai model %d", src.VersionID, src.ModelID)
	}

	return Resolved{URL: src.URL, Filename: src.Filename}, nil
}

func primaryFile(v civitaiVersion, modelType string) (Resolved, error) {
	for _, f := range v.Files {
		if f.Primary {
			if err := CheckFilename(f.Name); err != nil {
				return Resolved{}, fmt.Errorf("civitai version %d: %w", v.ID, err)
			}
			return Resolved{
				URL:       f.DownloadURL,
				Filename:  f.Name,
				ModelType: strings.ToLower(modelType),
				BaseModel: baseModelDir(v.BaseModel),
			}, nil
		}
	}
	return Resolved{}, fmt.Errorf("civitai version %d has no primary file", v.ID)
}

func (c *Client) getJSON(ctx context.Context, endpoint string, headers map[string]string, out any) error {
	resp, err := c.get(ctx, endpoint, headers)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return nil
}
