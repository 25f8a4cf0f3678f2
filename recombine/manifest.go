package recombine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/opencontainers/go-digest"

	"github.com/jmorganca/ollama2gguf/api"
)

const (
	// DefaultModelType is used when the config document has no model_type.
	DefaultModelType = "unknown"

	// Unknown is shown in listings for fields that could not be resolved.
	Unknown = "Unknown"
)

type Layer struct {
	MediaType string        `json:"mediaType"`
	Digest    digest.Digest `json:"digest"`
	Size      int64         `json:"size,omitempty"`
}

type Manifest struct {
	SchemaVersion int     `json:"schemaVersion"`
	MediaType     string  `json:"mediaType"`
	Config        *Layer  `json:"config"`
	Layers        []Layer `json:"layers"`
}

func ParseManifest(r io.Reader) (*Manifest, error) {
	var m Manifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, err
	}

	return &m, nil
}

// ConfigV2 is the model configuration document referenced by a manifest's
// config digest. ModelType is DefaultModelType when the document omits it or
// sets it to null; a non-string model_type keeps its JSON text, so true
// becomes "true" and 7 becomes "7".
type ConfigV2 struct {
	FileType  string
	ModelType string
}

func (c *ConfigV2) UnmarshalJSON(b []byte) error {
	var raw struct {
		FileType  json.RawMessage `json:"file_type"`
		ModelType json.RawMessage `json:"model_type"`
	}

	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	var fileType string
	if len(raw.FileType) == 0 || json.Unmarshal(raw.FileType, &fileType) != nil || fileType == "" {
		return newError(InvalidQuantizationType, "file_type", errors.New("must be a non-empty string"))
	}

	c.FileType = fileType
	c.ModelType = DefaultModelType

	switch mt := bytes.TrimSpace(raw.ModelType); {
	case len(mt) == 0, bytes.Equal(mt, []byte("null")):
	case mt[0] == '"':
		var s string
		if err := json.Unmarshal(mt, &s); err != nil {
			return err
		}
		c.ModelType = s
	default:
		c.ModelType = string(mt)
	}

	return nil
}

// Model is a manifest with its metadata resolved and validated.
type Model struct {
	Name         string
	ManifestPath string
	ConfigDigest digest.Digest
	Layers       []Layer
	FileType     string
	ModelType    string
}

// Filename is the artifact's base name: <name>-<model_type>-<file_type>.gguf.
func (m *Model) Filename() string {
	return fmt.Sprintf("%s-%s-%s.gguf", m.Name, m.ModelType, m.FileType)
}

// ArtifactPath is where the artifact is written under outputRoot.
func (m *Model) ArtifactPath(outputRoot string) string {
	return filepath.Join(outputRoot, m.Name, m.Filename())
}

// ModelName derives a model's name from the directory holding its manifest.
func ModelName(manifestPath string) string {
	return filepath.Base(filepath.Dir(manifestPath))
}

// ResolveModel reads the manifest at manifestPath and the config document it
// references, failing with a typed *Error on the first missing or invalid
// field. No layer blobs are read.
func ResolveModel(manifestPath string, blobs *BlobStore) (*Model, error) {
	f, err := os.Open(manifestPath)
	if err != nil {
		return nil, newError(MalformedManifest, manifestPath, err)
	}
	defer f.Close()

	m, err := ParseManifest(f)
	if err != nil {
		return nil, newError(MalformedManifest, manifestPath, err)
	}

	if m.Config == nil || *m.Config == (Layer{}) {
		return nil, newError(MissingConfig, "config", nil)
	}

	if m.Config.Digest == "" {
		return nil, newError(MissingDigest, "config.digest", nil)
	}

	config, err := readConfig(m.Config.Digest, blobs)
	if err != nil {
		return nil, err
	}

	if len(m.Layers) == 0 {
		return nil, newError(MissingLayers, "layers", nil)
	}

	return &Model{
		Name:         ModelName(manifestPath),
		ManifestPath: manifestPath,
		ConfigDigest: m.Config.Digest,
		Layers:       m.Layers,
		FileType:     config.FileType,
		ModelType:    config.ModelType,
	}, nil
}

func readConfig(d digest.Digest, blobs *BlobStore) (*ConfigV2, error) {
	bts, err := blobs.ReadFile(d)
	if err != nil {
		return nil, newError(ConfigBlobUnreadable, d.String(), err)
	}

	var config ConfigV2
	if err := json.Unmarshal(bts, &config); err != nil {
		var e *Error
		if errors.As(err, &e) {
			return nil, e
		}

		return nil, newError(ConfigBlobUnreadable, d.String(), err)
	}

	return &config, nil
}

// Summarize describes the manifest at manifestPath for listing. It never
// fails; anything it cannot resolve is reported as Unknown.
func Summarize(manifestPath string, blobs *BlobStore) api.ModelSummary {
	s := api.ModelSummary{
		Name:         ModelName(manifestPath),
		Manifest:     filepath.Base(manifestPath),
		ManifestPath: manifestPath,
		Quantization: Unknown,
	}

	f, err := os.Open(manifestPath)
	if err != nil {
		slog.Debug("unreadable manifest", "path", manifestPath, "error", err)
		return s
	}
	defer f.Close()

	m, err := ParseManifest(f)
	if err != nil {
		slog.Debug("bad manifest", "path", manifestPath, "error", err)
		return s
	}

	if m.Config == nil || m.Config.Digest == "" {
		return s
	}

	if bts, err := blobs.ReadFile(m.Config.Digest); err == nil {
		var config struct {
			FileType any `json:"file_type"`
		}

		if err := json.Unmarshal(bts, &config); err == nil && config.FileType != nil {
			s.Quantization = fmt.Sprint(config.FileType)
		}
	}

	s.Size = EstimateSize(m.Layers, blobs)
	return s
}

// Manifests returns every regular file below root, sorted by path.
func Manifests(root string) ([]string, error) {
	var manifests []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.Type().IsRegular() {
			manifests = append(manifests, path)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.Sort(manifests)
	return manifests, nil
}
