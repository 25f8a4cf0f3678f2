package recombine

import (
	"fmt"
	"log/slog"
	"strings"
)

const (
	DefaultThreshold int64 = 1 << 30
	DefaultChunkSize       = 16 << 20
)

// EstimateSize sums the sizes of the blobs behind layers. Blobs that are
// missing or cannot be stat'ed count as zero; the estimate only picks a
// strategy, assembly reports the failure.
func EstimateSize(layers []Layer, blobs *BlobStore) (total int64) {
	for _, layer := range layers {
		size, err := blobs.Stat(layer.Digest)
		if err != nil {
			slog.Debug("skipping blob in size estimate", "digest", layer.Digest, "error", err)
			continue
		}

		total += size
	}

	return total
}

type Strategy int

const (
	// Auto lets the converter choose based on the estimated size.
	Auto Strategy = iota
	// Buffered reads every fragment into memory and writes once.
	Buffered
	// Streamed copies fragments to the artifact in bounded chunks.
	Streamed
)

func (s Strategy) String() string {
	switch s {
	case Auto:
		return "auto"
	case Buffered:
		return "buffered"
	case Streamed:
		return "streamed"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return Auto, nil
	case "buffered", "memory":
		return Buffered, nil
	case "streamed", "chunked":
		return Streamed, nil
	default:
		return Auto, fmt.Errorf("unknown strategy %q", s)
	}
}

// SelectStrategy returns Streamed when total is at or above threshold and
// Buffered otherwise.
func SelectStrategy(total, threshold int64) Strategy {
	if total >= threshold {
		return Streamed
	}

	return Buffered
}
