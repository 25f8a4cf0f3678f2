package recombine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	"github.com/jmorganca/ollama2gguf/api"
)

// buffered reads every layer into memory before writing the artifact in a
// single pass. All layers are attempted so every unreadable one is reported;
// nothing is written unless all of them were read.
func (c *Converter) buffered(ctx context.Context, m *Model, target string, r reporter) (int64, error) {
	contents := make([][]byte, 0, len(m.Layers))

	var errs []error
	for i, layer := range m.Layers {
		if err := ctx.Err(); err != nil {
			return 0, newError(AssemblyAborted, m.Name, err)
		}

		r.layer(api.StatusReading, i, layer, 0, nil)

		bts, err := c.readLayer(layer)
		if err != nil {
			slog.Warn("failed reading layer", "model", m.Name, "index", i, "digest", layer.Digest, "error", err)
			r.layer(api.StatusFailed, i, layer, 0, err)
			errs = append(errs, err)
			continue
		}

		r.layer(api.StatusSuccess, i, layer, int64(len(bts)), nil)
		contents = append(contents, bts)
	}

	if len(errs) > 0 {
		return 0, newError(AssemblyAborted, m.Name, errors.Join(errs...))
	}

	if len(contents) == 0 {
		return 0, newError(AssemblyAborted, m.Name, errors.New("no layers were read"))
	}

	var size int64
	for _, bts := range contents {
		size += int64(len(bts))
	}

	r.send(api.ProgressResponse{Status: api.StatusWriting, Total: size})

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, newError(WriteFailure, target, err)
	}

	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, removePartial(target, newError(WriteFailure, target, err))
	}

	// fragments are written in order without joining them into one buffer
	bufs := net.Buffers(contents)
	if _, err := bufs.WriteTo(f); err != nil {
		f.Close()
		return 0, removePartial(target, newError(WriteFailure, target, err))
	}

	if err := f.Close(); err != nil {
		return 0, removePartial(target, newError(WriteFailure, target, err))
	}

	return size, nil
}

func (c *Converter) readLayer(layer Layer) ([]byte, error) {
	f, size, err := c.blobs.Open(layer.Digest)
	if err != nil {
		return nil, newError(FragmentUnreadable, layer.Digest.String(), err)
	}
	defer f.Close()

	v, err := c.verifier(layer.Digest)
	if err != nil {
		return nil, newError(FragmentUnreadable, layer.Digest.String(), err)
	}

	var src io.Reader = f
	if v != nil {
		src = io.TeeReader(f, v)
	}

	var b bytes.Buffer
	b.Grow(int(size))
	if _, err := b.ReadFrom(src); err != nil {
		return nil, newError(FragmentUnreadable, layer.Digest.String(), err)
	}

	if v != nil && !v.Verified() {
		return nil, newError(FragmentUnreadable, layer.Digest.String(), errDigestMismatch)
	}

	return b.Bytes(), nil
}

var errDigestMismatch = errors.New("digest mismatch")
