package recombine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jmorganca/ollama2gguf/api"
	"github.com/jmorganca/ollama2gguf/logutil"
)

// streamed copies layers into the artifact one chunk at a time, so peak
// memory is a single chunk regardless of model size. The first failure
// stops the conversion and the partially written artifact is removed.
func (c *Converter) streamed(ctx context.Context, m *Model, target string, r reporter) (size int64, err error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, newError(WriteFailure, target, err)
	}

	f, err := os.Create(target)
	if err != nil {
		return 0, newError(WriteFailure, target, err)
	}

	defer func() {
		if f != nil {
			f.Close()
		}

		if err != nil {
			err = removePartial(target, err)
		}
	}()

	slog.Debug("streaming layers", "model", m.Name, logutil.Bytes("chunk", int64(c.opts.ChunkSize)))

	buf := make([]byte, c.opts.ChunkSize)
	for i, layer := range m.Layers {
		if err := ctx.Err(); err != nil {
			return 0, newError(AssemblyAborted, m.Name, err)
		}

		if err := c.copyLayer(ctx, f, buf, i, layer, r); err != nil {
			slog.Warn("failed processing layer", "model", m.Name, "index", i, "digest", layer.Digest, "error", err)
			r.layer(api.StatusFailed, i, layer, 0, err)
			return 0, err
		}
	}

	cerr := f.Close()
	f = nil
	if cerr != nil {
		return 0, newError(WriteFailure, target, cerr)
	}

	fi, err := os.Stat(target)
	if err != nil {
		return 0, newError(WriteFailure, target, err)
	}

	return fi.Size(), nil
}

func (c *Converter) copyLayer(ctx context.Context, w io.Writer, buf []byte, i int, layer Layer, r reporter) error {
	src, size, err := c.blobs.Open(layer.Digest)
	if err != nil {
		return newError(FragmentUnreadable, layer.Digest.String(), err)
	}
	defer src.Close()

	v, err := c.verifier(layer.Digest)
	if err != nil {
		return newError(FragmentUnreadable, layer.Digest.String(), err)
	}

	var in io.Reader = src
	if v != nil {
		in = io.TeeReader(src, v)
	}

	r.layer(api.StatusReading, i, layer, size, nil)

	var completed int64
	for {
		if err := ctx.Err(); err != nil {
			return newError(AssemblyAborted, layer.Digest.String(), err)
		}

		n, rerr := io.ReadFull(in, buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return newError(WriteFailure, layer.Digest.String(), err)
			}

			completed += int64(n)
			logutil.TraceContext(ctx, "copied chunk", "digest", layer.Digest, "bytes", n, logutil.Bytes("completed", completed))
			r.send(api.ProgressResponse{
				Status:    api.StatusProgress,
				Index:     i,
				MediaType: layer.MediaType,
				Digest:    layer.Digest.String(),
				Total:     size,
				Completed: completed,
				Percent:   percent(completed, size),
			})
		}

		if errors.Is(rerr, io.EOF) || errors.Is(rerr, io.ErrUnexpectedEOF) {
			break
		} else if rerr != nil {
			return newError(FragmentUnreadable, layer.Digest.String(), rerr)
		}
	}

	if v != nil && !v.Verified() {
		return newError(FragmentUnreadable, layer.Digest.String(), errDigestMismatch)
	}

	r.layer(api.StatusSuccess, i, layer, completed, nil)
	return nil
}

// percent is completed as an integer percentage of total, capped at 100.
// An empty fragment is complete as soon as it is opened.
func percent(completed, total int64) int {
	if total <= 0 || completed >= total {
		return 100
	}

	return int(completed * 100 / total)
}
