// Package recombine rebuilds a single GGUF file from the layer blobs of an
// ollama model manifest.
package recombine

import (
	"context"
	_ "crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/opencontainers/go-digest"

	"github.com/jmorganca/ollama2gguf/api"
	"github.com/jmorganca/ollama2gguf/logutil"
)

type Options struct {
	// Strategy forces an assembly strategy. Auto selects one from the
	// estimated size and Threshold.
	Strategy Strategy
	// Threshold is the estimated size at which Streamed is selected.
	Threshold int64
	// ChunkSize bounds the memory used per read by the Streamed strategy.
	ChunkSize int
	// Verify checks every fragment against its digest while reading it.
	Verify bool
}

type Result struct {
	Model    *Model
	Path     string
	Size     int64
	Strategy Strategy
}

// Converter recombines manifest layers from a blob store into a single
// artifact under an output root. A Converter holds no per-conversion state
// and may be shared, but conversions targeting the same artifact path must
// not run concurrently.
type Converter struct {
	blobs  *BlobStore
	output string
	opts   Options
}

func NewConverter(blobs *BlobStore, outputRoot string, opts Options) *Converter {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}

	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}

	return &Converter{blobs: blobs, output: outputRoot, opts: opts}
}

// Convert resolves the manifest at manifestPath and assembles its artifact.
// Metadata errors are returned before any fragment is read.
func (c *Converter) Convert(ctx context.Context, manifestPath string, fn func(api.ProgressResponse)) (*Result, error) {
	m, err := c.Resolve(manifestPath)
	if err != nil {
		return nil, err
	}

	return c.ConvertModel(ctx, m, fn)
}

// Resolve resolves the manifest at manifestPath against c's blob store.
func (c *Converter) Resolve(manifestPath string) (*Model, error) {
	return ResolveModel(manifestPath, c.blobs)
}

// Target is the artifact path m is written to. Tags of one model that share
// a config resolve to the same target.
func (c *Converter) Target(m *Model) string {
	return m.ArtifactPath(c.output)
}

// ConvertModel assembles the artifact for an already resolved model. fn
// receives progress events synchronously and may be nil.
func (c *Converter) ConvertModel(ctx context.Context, m *Model, fn func(api.ProgressResponse)) (*Result, error) {
	if fn == nil {
		fn = func(api.ProgressResponse) {}
	}

	strategy := c.opts.Strategy
	if strategy == Auto {
		total := EstimateSize(m.Layers, c.blobs)
		strategy = SelectStrategy(total, c.opts.Threshold)
		slog.Debug("estimated model size", "model", m.Name, logutil.Bytes("size", total), "strategy", strategy)
	}

	target := c.Target(m)
	r := reporter{model: m.Name, strategy: strategy.String(), fn: fn}

	slog.Info("converting model", "model", m.Name, "layers", len(m.Layers), "strategy", strategy, "path", target)

	var size int64
	var err error
	switch strategy {
	case Buffered:
		size, err = c.buffered(ctx, m, target, r)
	case Streamed:
		size, err = c.streamed(ctx, m, target, r)
	default:
		return nil, fmt.Errorf("unsupported strategy %s", strategy)
	}

	if err != nil {
		slog.Error("conversion failed", "model", m.Name, "error", err)
		return nil, err
	}

	r.send(api.ProgressResponse{Status: api.StatusComplete, Total: size, Completed: size, Percent: 100})
	slog.Info("created artifact", "path", target, logutil.Bytes("size", size))

	return &Result{Model: m, Path: target, Size: size, Strategy: strategy}, nil
}

// verifier returns a digest verifier for d, or nil when verification is off.
func (c *Converter) verifier(d digest.Digest) (digest.Verifier, error) {
	if !c.opts.Verify {
		return nil, nil
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}

	return d.Verifier(), nil
}

type reporter struct {
	model    string
	strategy string
	fn       func(api.ProgressResponse)
}

func (r reporter) send(p api.ProgressResponse) {
	p.Model = r.model
	p.Strategy = r.strategy
	r.fn(p)
}

func (r reporter) layer(status string, i int, layer Layer, total int64, err error) {
	p := api.ProgressResponse{
		Status:    status,
		Index:     i,
		MediaType: layer.MediaType,
		Digest:    layer.Digest.String(),
		Total:     total,
	}

	if err != nil {
		p.Error = err.Error()
	}

	r.send(p)
}

// removePartial deletes an incomplete artifact. A failed removal is logged
// and joined to cause without replacing it.
func removePartial(path string, cause error) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to remove incomplete artifact", "path", path, "error", err)
		return errors.Join(cause, newError(PartialArtifactCleanupFailure, path, err))
	}

	slog.Debug("removed incomplete artifact", "path", path)
	return cause
}
