package api

import (
	"fmt"
	"strings"
)

// Progress statuses emitted during a conversion.
const (
	StatusReading  = "reading"
	StatusProgress = "progress"
	StatusSuccess  = "success"
	StatusFailed   = "failed"
	StatusWriting  = "writing"
	StatusComplete = "complete"
)

// ProgressResponse is a single progress event. Fragment events carry the
// layer Index, MediaType and Digest; Total is the fragment size in bytes.
// Streamed conversions also emit StatusProgress events with Completed and
// Percent set after every chunk.
type ProgressResponse struct {
	Status    string `json:"status"`
	Model     string `json:"model,omitempty"`
	Strategy  string `json:"strategy,omitempty"`
	Index     int    `json:"index"`
	MediaType string `json:"media_type,omitempty"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
	Percent   int    `json:"percent,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (p ProgressResponse) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s]", p.Model)
	if p.MediaType != "" {
		fmt.Fprintf(&sb, " [%s]", p.MediaType)
	}

	fmt.Fprintf(&sb, " %s", p.Status)
	if p.Digest != "" {
		fmt.Fprintf(&sb, " %s", p.Digest)
	}

	if p.Status == StatusProgress {
		fmt.Fprintf(&sb, " %d%%", p.Percent)
	}

	if p.Error != "" {
		fmt.Fprintf(&sb, ": %s", p.Error)
	}

	return sb.String()
}

// ModelSummary describes a manifest for listing. Unresolvable fields are
// reported as "Unknown" and a zero Size.
type ModelSummary struct {
	Name         string `json:"name"`
	Manifest     string `json:"manifest"`
	ManifestPath string `json:"manifest_path"`
	Quantization string `json:"quantization"`
	Size         int64  `json:"size"`
}
