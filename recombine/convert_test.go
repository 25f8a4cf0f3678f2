package recombine

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmorganca/ollama2gguf/api"
)

func fragments() [][]byte {
	return [][]byte{
		bytes.Repeat([]byte("GGUF"), 250),
		{},
		bytes.Repeat([]byte{0xde, 0xad, 0xbe, 0xef, 0x00}, 7),
		{0x01},
	}
}

func TestConvertExample(t *testing.T) {
	for _, strategy := range []Strategy{Buffered, Streamed} {
		t.Run(strategy.String(), func(t *testing.T) {
			s := newTestStore(t)
			p := s.model("tiny", q40("llama"), []byte{0x01, 0x02}, []byte{0x03})

			var rec recorder
			conv := NewConverter(s.blobs, s.output(), Options{Strategy: strategy})
			result, err := conv.Convert(context.Background(), p, rec.fn)
			require.NoError(t, err)

			want := filepath.Join(s.output(), "tiny", "tiny-llama-Q4_0.gguf")
			assert.Equal(t, want, result.Path)
			assert.EqualValues(t, 3, result.Size)
			assert.Equal(t, strategy, result.Strategy)
			assert.Equal(t, "tiny", result.Model.Name)

			bts, err := os.ReadFile(want)
			require.NoError(t, err)
			assert.Equal(t, []byte{0x01, 0x02, 0x03}, bts)

			last := rec.events[len(rec.events)-1]
			assert.Equal(t, api.StatusComplete, last.Status)
			assert.Equal(t, 100, last.Percent)
			assert.EqualValues(t, 3, last.Total)

			for _, e := range rec.events {
				assert.Equal(t, "tiny", e.Model)
				assert.Equal(t, strategy.String(), e.Strategy)
			}
		})
	}
}

func TestBufferedWritesFragmentsInOrder(t *testing.T) {
	s := newTestStore(t)
	p := s.model("ordered", q40("llama"), fragments()...)
	want := bytes.Join(fragments(), nil)

	target := filepath.Join(s.output(), "ordered", "ordered-llama-Q4_0.gguf")
	require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o755))
	require.NoError(t, os.WriteFile(target, bytes.Repeat([]byte("x"), 4096), 0o644))

	var rec recorder
	result, err := NewConverter(s.blobs, s.output(), Options{Strategy: Buffered}).Convert(context.Background(), p, rec.fn)
	require.NoError(t, err)
	assert.EqualValues(t, len(want), result.Size)

	writing := rec.withStatus(api.StatusWriting)
	require.Len(t, writing, 1)
	assert.EqualValues(t, len(want), writing[0].Total)

	bts, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, want, bts)
}

func TestConvertStrategiesAgree(t *testing.T) {
	s := newTestStore(t)
	p := s.model("agree", q40("llama"), fragments()...)
	want := bytes.Join(fragments(), nil)

	var outputs [][]byte
	for _, opts := range []Options{
		{Strategy: Buffered},
		{Strategy: Streamed},
		{Strategy: Streamed, ChunkSize: 3},
		{Strategy: Streamed, ChunkSize: 1 << 20},
	} {
		result, err := NewConverter(s.blobs, s.output(), opts).Convert(context.Background(), p, nil)
		require.NoError(t, err)
		assert.EqualValues(t, len(want), result.Size)

		bts, err := os.ReadFile(result.Path)
		require.NoError(t, err)
		outputs = append(outputs, bts)
	}

	for _, bts := range outputs {
		assert.Equal(t, want, bts)
	}
}

func TestConvertIdempotent(t *testing.T) {
	s := newTestStore(t)
	p := s.model("again", q40("llama"), fragments()...)

	conv := NewConverter(s.blobs, s.output(), Options{})
	first, err := conv.Convert(context.Background(), p, nil)
	require.NoError(t, err)

	before, err := os.ReadFile(first.Path)
	require.NoError(t, err)

	second, err := conv.Convert(context.Background(), p, nil)
	require.NoError(t, err)
	assert.Equal(t, first.Path, second.Path)

	after, err := os.ReadFile(second.Path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestConvertAutoStrategy(t *testing.T) {
	s := newTestStore(t)
	p := s.model("auto", q40("llama"), make([]byte, 60), make([]byte, 40))

	cases := []struct {
		threshold int64
		want      Strategy
	}{
		{100, Streamed},
		{101, Buffered},
		{99, Streamed},
	}

	for _, tt := range cases {
		var rec recorder
		result, err := NewConverter(s.blobs, s.output(), Options{Threshold: tt.threshold}).Convert(context.Background(), p, rec.fn)
		require.NoError(t, err)
		assert.Equal(t, tt.want, result.Strategy, "threshold %d", tt.threshold)
		assert.Equal(t, tt.want.String(), rec.events[0].Strategy)
	}
}

func TestConvertStreamedProgress(t *testing.T) {
	s := newTestStore(t)
	p := s.model("progress", q40("llama"), []byte("0123456789"), []byte("abcd"))

	var rec recorder
	_, err := NewConverter(s.blobs, s.output(), Options{Strategy: Streamed, ChunkSize: 4}).Convert(context.Background(), p, rec.fn)
	require.NoError(t, err)

	assert.Equal(t, []string{
		api.StatusReading, api.StatusSuccess,
		api.StatusReading, api.StatusSuccess,
		api.StatusComplete,
	}, rec.statuses())

	var percents []int
	for _, e := range rec.withStatus(api.StatusProgress) {
		if e.Index == 0 {
			percents = append(percents, e.Percent)
			assert.EqualValues(t, 10, e.Total)
		}
	}
	assert.Equal(t, []int{40, 80, 100}, percents)

	success := rec.withStatus(api.StatusSuccess)
	assert.EqualValues(t, 10, success[0].Total)
	assert.EqualValues(t, 4, success[1].Total)
}

func TestConvertBufferedProgress(t *testing.T) {
	s := newTestStore(t)
	p := s.model("progress", q40("llama"), []byte("0123456789"), []byte("abcd"))

	var rec recorder
	_, err := NewConverter(s.blobs, s.output(), Options{Strategy: Buffered}).Convert(context.Background(), p, rec.fn)
	require.NoError(t, err)

	assert.Equal(t, []string{
		api.StatusReading, api.StatusSuccess,
		api.StatusReading, api.StatusSuccess,
		api.StatusWriting,
		api.StatusComplete,
	}, rec.statuses())
	assert.Empty(t, rec.withStatus(api.StatusProgress))
	assert.EqualValues(t, 14, rec.withStatus(api.StatusWriting)[0].Total)
}

// missingFragment writes a model whose second of three layers has no blob.
func missingFragment(s *testStore) string {
	return s.manifest("broken", Manifest{
		Config: &Layer{Digest: s.config(q40("llama"))},
		Layers: []Layer{
			{MediaType: "application/vnd.ollama.image.model", Digest: s.blob([]byte("first"))},
			{MediaType: "application/vnd.ollama.image.template", Digest: digest.FromString("missing")},
			{MediaType: "application/vnd.ollama.image.params", Digest: s.blob([]byte("third"))},
		},
	})
}

func TestConvertStreamedMissingFragment(t *testing.T) {
	s := newTestStore(t)
	p := missingFragment(s)

	target := filepath.Join(s.output(), "broken", "broken-llama-Q4_0.gguf")
	require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o755))
	require.NoError(t, os.WriteFile(target, []byte("stale"), 0o644))

	var rec recorder
	result, err := NewConverter(s.blobs, s.output(), Options{Strategy: Streamed}).Convert(context.Background(), p, rec.fn)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrFragmentUnreadable)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.NoFileExists(t, target)

	// the third layer is never attempted
	assert.Equal(t, []string{api.StatusReading, api.StatusSuccess, api.StatusFailed}, rec.statuses())
	failed := rec.withStatus(api.StatusFailed)
	assert.Equal(t, 1, failed[0].Index)
	assert.NotEmpty(t, failed[0].Error)
}

func TestConvertBufferedMissingFragment(t *testing.T) {
	s := newTestStore(t)
	p := missingFragment(s)

	var rec recorder
	result, err := NewConverter(s.blobs, s.output(), Options{Strategy: Buffered}).Convert(context.Background(), p, rec.fn)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrAssemblyAborted)
	assert.ErrorIs(t, err, ErrFragmentUnreadable)
	assert.Equal(t, AssemblyAborted, KindOf(err))
	assert.NoDirExists(t, filepath.Join(s.output(), "broken"))

	// every layer is attempted
	assert.Equal(t, []string{
		api.StatusReading, api.StatusSuccess,
		api.StatusReading, api.StatusFailed,
		api.StatusReading, api.StatusSuccess,
	}, rec.statuses())
}

func TestConvertMetadataErrorsReadNothing(t *testing.T) {
	for _, strategy := range []Strategy{Buffered, Streamed} {
		t.Run(strategy.String(), func(t *testing.T) {
			s := newTestStore(t)

			var rec recorder
			conv := NewConverter(s.blobs, s.output(), Options{Strategy: strategy})

			_, err := conv.Convert(context.Background(), s.model("empty", q40("llama")), rec.fn)
			assert.ErrorIs(t, err, ErrMissingLayers)

			_, err = conv.Convert(context.Background(), s.model("noquant", map[string]any{"model_type": "llama"}, []byte("x")), rec.fn)
			assert.ErrorIs(t, err, ErrInvalidQuantizationType)

			assert.Empty(t, rec.events)
			assert.NoDirExists(t, s.output())
		})
	}
}

func TestConvertVerify(t *testing.T) {
	for _, strategy := range []Strategy{Buffered, Streamed} {
		t.Run(strategy.String(), func(t *testing.T) {
			s := newTestStore(t)

			d := digest.FromString("expected")
			require.NoError(t, os.WriteFile(s.blobs.Path(d), []byte("tampered"), 0o644))

			p := s.manifest("tampered", Manifest{
				Config: &Layer{Digest: s.config(q40("llama"))},
				Layers: []Layer{{Digest: d}},
			})

			result, err := NewConverter(s.blobs, s.output(), Options{Strategy: strategy, Verify: true}).Convert(context.Background(), p, nil)
			assert.Nil(t, result)
			assert.ErrorIs(t, err, ErrFragmentUnreadable)
			assert.ErrorIs(t, err, errDigestMismatch)
			assert.NoFileExists(t, filepath.Join(s.output(), "tampered", "tampered-llama-Q4_0.gguf"))

			result, err = NewConverter(s.blobs, s.output(), Options{Strategy: strategy}).Convert(context.Background(), p, nil)
			require.NoError(t, err)
			assert.EqualValues(t, len("tampered"), result.Size)
		})
	}
}

func TestConvertCancelled(t *testing.T) {
	for _, strategy := range []Strategy{Buffered, Streamed} {
		t.Run(strategy.String(), func(t *testing.T) {
			s := newTestStore(t)
			p := s.model("cancel", q40("llama"), fragments()...)

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			_, err := NewConverter(s.blobs, s.output(), Options{Strategy: strategy}).Convert(ctx, p, nil)
			assert.ErrorIs(t, err, ErrAssemblyAborted)
			assert.ErrorIs(t, err, context.Canceled)
			assert.NoFileExists(t, filepath.Join(s.output(), "cancel", "cancel-llama-Q4_0.gguf"))
		})
	}
}

func TestConvertWriteFailure(t *testing.T) {
	for _, strategy := range []Strategy{Buffered, Streamed} {
		t.Run(strategy.String(), func(t *testing.T) {
			s := newTestStore(t)
			p := s.model("unwritable", q40("llama"), []byte("data"))

			// output root is a regular file, so no directory can be created below it
			output := s.dir.Join("not-a-dir")
			require.NoError(t, os.WriteFile(output, nil, 0o644))

			_, err := NewConverter(s.blobs, output, Options{Strategy: strategy}).Convert(context.Background(), p, nil)
			assert.ErrorIs(t, err, ErrWriteFailure)
		})
	}
}

func TestConvertModelNilCallback(t *testing.T) {
	s := newTestStore(t)
	m, err := ResolveModel(s.model("quiet", q40("llama"), []byte("abc")), s.blobs)
	require.NoError(t, err)

	result, err := NewConverter(s.blobs, s.output(), Options{}).ConvertModel(context.Background(), m, nil)
	require.NoError(t, err)
	assert.Equal(t, Buffered, result.Strategy)
}

func TestRemovePartial(t *testing.T) {
	cause := newError(WriteFailure, "x", nil)
	dir := t.TempDir()

	t.Run("removed", func(t *testing.T) {
		p := filepath.Join(dir, "partial.gguf")
		require.NoError(t, os.WriteFile(p, []byte("partial"), 0o644))

		err := removePartial(p, cause)
		assert.Same(t, cause, err)
		assert.NoFileExists(t, p)
	})

	t.Run("already gone", func(t *testing.T) {
		assert.Same(t, cause, removePartial(filepath.Join(dir, "missing.gguf"), cause))
	})

	t.Run("cleanup fails", func(t *testing.T) {
		// a non-empty directory cannot be removed with os.Remove
		p := filepath.Join(dir, "stuck")
		require.NoError(t, os.MkdirAll(filepath.Join(p, "child"), 0o755))

		err := removePartial(p, cause)
		assert.Equal(t, WriteFailure, KindOf(err))
		assert.ErrorIs(t, err, ErrWriteFailure)
		assert.ErrorIs(t, err, ErrPartialArtifactCleanupFailure)
	})
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 100, percent(0, 0))
	assert.Equal(t, 0, percent(0, 10))
	assert.Equal(t, 33, percent(1, 3))
	assert.Equal(t, 100, percent(10, 10))
	assert.Equal(t, 100, percent(11, 10))
}
