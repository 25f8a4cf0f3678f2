package recombine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/require"
	tfs "gotest.tools/v3/fs"

	"github.com/jmorganca/ollama2gguf/api"
)

const testRegistry = "registry.ollama.ai"

// testStore is a models directory laid out the way ollama writes it.
type testStore struct {
	t     *testing.T
	dir   *tfs.Dir
	blobs *BlobStore
}

func newTestStore(t *testing.T) *testStore {
	t.Helper()

	dir := tfs.NewDir(t, "ollama2gguf",
		tfs.WithDir("blobs"),
		tfs.WithDir("manifests", tfs.WithDir(testRegistry, tfs.WithDir("library"))),
	)

	return &testStore{t: t, dir: dir, blobs: NewBlobStore(dir.Join("blobs"))}
}

func (s *testStore) output() string {
	return s.dir.Join("output")
}

func (s *testStore) blob(data []byte) digest.Digest {
	s.t.Helper()

	d := digest.FromBytes(data)
	require.NoError(s.t, os.WriteFile(s.blobs.Path(d), data, 0o644))
	return d
}

func (s *testStore) config(v any) digest.Digest {
	s.t.Helper()

	bts, err := json.Marshal(v)
	require.NoError(s.t, err)
	return s.blob(bts)
}

func (s *testStore) rawManifest(name, content string) string {
	s.t.Helper()

	p := s.dir.Join("manifests", testRegistry, "library", name, "latest")
	require.NoError(s.t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(s.t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func (s *testStore) manifest(name string, m Manifest) string {
	s.t.Helper()

	bts, err := json.Marshal(m)
	require.NoError(s.t, err)
	return s.rawManifest(name, string(bts))
}

// model writes a manifest whose config is config and whose layers are the
// given fragments, in order.
func (s *testStore) model(name string, config any, fragments ...[]byte) string {
	s.t.Helper()

	m := Manifest{
		SchemaVersion: 2,
		MediaType:     "application/vnd.docker.distribution.manifest.v2+json",
		Config:        &Layer{MediaType: "application/vnd.docker.container.image.v1+json", Digest: s.config(config)},
	}

	for _, f := range fragments {
		m.Layers = append(m.Layers, Layer{
			MediaType: "application/vnd.ollama.image.model",
			Digest:    s.blob(f),
			Size:      int64(len(f)),
		})
	}

	return s.manifest(name, m)
}

func q40(modelType string) map[string]any {
	return map[string]any{"file_type": "Q4_0", "model_type": modelType}
}

// recorder collects progress events.
type recorder struct {
	events []api.ProgressResponse
}

func (r *recorder) fn(p api.ProgressResponse) {
	r.events = append(r.events, p)
}

func (r *recorder) statuses() []string {
	var s []string
	for _, e := range r.events {
		if e.Status != api.StatusProgress {
			s = append(s, e.Status)
		}
	}

	return s
}

func (r *recorder) withStatus(status string) []api.ProgressResponse {
	var events []api.ProgressResponse
	for _, e := range r.events {
		if e.Status == status {
			events = append(events, e)
		}
	}

	return events
}
