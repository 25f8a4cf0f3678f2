package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"

	"github.com/jmorganca/ollama2gguf/api"
	"github.com/jmorganca/ollama2gguf/format"
	"github.com/jmorganca/ollama2gguf/logutil"
	"github.com/jmorganca/ollama2gguf/progress"
	"github.com/jmorganca/ollama2gguf/recombine"
)

// renderer presents conversion events. handle is called synchronously by
// the converter and must not block.
type renderer interface {
	handle(api.ProgressResponse)
	stop()
}

type terminalRenderer struct {
	mu sync.Mutex
	p  *progress.Progress

	bars     map[int]*progress.Bar
	statuses map[int]*progress.Status
	writing  *progress.Spinner
}

func newTerminalRenderer(w io.Writer) *terminalRenderer {
	return &terminalRenderer{
		p:        progress.NewProgress(w),
		bars:     make(map[int]*progress.Bar),
		statuses: make(map[int]*progress.Status),
	}
}

func layerPrefix(resp api.ProgressResponse) string {
	return fmt.Sprintf("[%s] [%s]", resp.Model, resp.MediaType)
}

func (r *terminalRenderer) status(resp api.ProgressResponse, message, outcome string) {
	if s, ok := r.statuses[resp.Index]; ok {
		s.Set(message, outcome)
		return
	}

	s := progress.NewStatus(message, outcome)
	r.statuses[resp.Index] = s
	r.p.Add(strconv.Itoa(resp.Index), s)
}

func (r *terminalRenderer) handle(resp api.ProgressResponse) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := layerPrefix(resp)
	streamed := resp.Strategy == recombine.Streamed.String()

	switch resp.Status {
	case api.StatusReading:
		if streamed {
			bar := progress.NewBar(fmt.Sprintf("%s %s", prefix, resp.Digest), resp.Total)
			r.bars[resp.Index] = bar
			r.p.Add(strconv.Itoa(resp.Index), bar)
			return
		}

		r.status(resp, fmt.Sprintf("%s blob %s", prefix, resp.Digest), "Reading")
	case api.StatusProgress:
		if bar, ok := r.bars[resp.Index]; ok {
			bar.Set(resp.Completed)
		}
	case api.StatusSuccess:
		if bar, ok := r.bars[resp.Index]; ok {
			bar.Set(resp.Total)
			return
		}

		r.status(resp, fmt.Sprintf("%s read blob successfully: %d bytes", prefix, resp.Total), "Success")
	case api.StatusFailed:
		r.status(resp, resp.String(), "Failed")
	case api.StatusWriting:
		r.writing = progress.NewSpinner(fmt.Sprintf("[%s] writing %s", resp.Model, format.HumanBytes2(resp.Total)))
		r.p.Add("writing", r.writing)
	case api.StatusComplete:
		if r.writing != nil {
			r.writing.Stop()
		}
	}
}

func (r *terminalRenderer) stop() {
	r.p.Stop()
}

// logRenderer writes events to the default logger, for non-terminal output
// and concurrent conversions.
type logRenderer struct {
	id string
}

func newLogRenderer(id string) *logRenderer {
	return &logRenderer{id: id}
}

func (r *logRenderer) handle(resp api.ProgressResponse) {
	attrs := []any{
		"conversion", r.id,
		"model", resp.Model,
		"strategy", resp.Strategy,
	}

	if resp.Digest != "" {
		attrs = append(attrs, "index", resp.Index, "media_type", resp.MediaType, "digest", resp.Digest)
	}

	switch resp.Status {
	case api.StatusProgress:
		slog.Debug("layer progress", append(attrs, "percent", resp.Percent, logutil.Bytes("completed", resp.Completed), logutil.Bytes("total", resp.Total))...)
	case api.StatusFailed:
		slog.Warn("layer failed", append(attrs, "error", resp.Error)...)
	case api.StatusReading:
		slog.Info("reading layer", attrs...)
	case api.StatusSuccess:
		slog.Info("layer complete", append(attrs, logutil.Bytes("size", resp.Total))...)
	case api.StatusWriting:
		slog.Info("writing artifact", append(attrs, logutil.Bytes("size", resp.Total))...)
	case api.StatusComplete:
		slog.Info("conversion complete", append(attrs, logutil.Bytes("size", resp.Total))...)
	}
}

func (r *logRenderer) stop() {}
