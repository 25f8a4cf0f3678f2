package progress

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmorganca/ollama2gguf/format"
)

// statsWidth is the space reserved right of the bar for sizes, rate and
// timing so bars on consecutive lines stay aligned.
const statsWidth = 44

// Bar shows how much of one fragment has been copied into the artifact.
type Bar struct {
	mu sync.Mutex

	label string
	total int64
	done  int64

	started time.Time

	// rate is sampled at most once per second
	sampled     time.Time
	sampledDone int64
	rate        float64
}

func NewBar(label string, total int64) *Bar {
	now := time.Now()
	return &Bar{
		label:   label,
		total:   total,
		started: now,
		sampled: now,
	}
}

// Set records that n bytes of the fragment have been copied.
func (b *Bar) Set(n int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.done = max(0, min(n, b.total))

	if elapsed := time.Since(b.sampled); elapsed >= time.Second {
		b.rate = float64(b.done-b.sampledDone) / elapsed.Seconds()
		b.sampled = time.Now()
		b.sampledDone = b.done
	}
}

func (b *Bar) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.render(termWidth())
}

// percent is the copied share of the fragment. An empty fragment is
// complete.
func (b *Bar) percent() float64 {
	if b.total <= 0 {
		return 100
	}

	return float64(b.done) * 100 / float64(b.total)
}

func (b *Bar) running() bool {
	return b.done > 0 && b.done < b.total
}

func (b *Bar) render(width int) string {
	left := fmt.Sprintf("%3d%% ", int(b.percent()))
	if label := strings.TrimSpace(b.label); label != "" {
		left = label + " " + left
	}

	right := fmt.Sprintf("(%s/%s", format.HumanBytes2(b.done), format.HumanBytes2(b.total))
	var timing string
	if b.running() && b.rate > 0 {
		right += fmt.Sprintf(", %s/s", format.HumanBytes2(int64(b.rate)))
		remaining := time.Duration(float64(b.total-b.done) / b.rate * float64(time.Second))
		timing = fmt.Sprintf("[%s:%s]", shortDuration(time.Since(b.started)), shortDuration(remaining))
	}
	right += ")"

	if pad := statsWidth - len(right) - len(timing); pad > 0 {
		right += strings.Repeat(" ", pad)
	}
	right += timing

	// two edge characters and a trailing space
	room := width - len(left) - len(right) - 3
	if room <= 0 {
		return left + right
	}

	filled := int(float64(room) * b.percent() / 100)
	return left + "▕" + strings.Repeat("█", filled) + strings.Repeat(" ", room-filled) + "▏ " + right
}

// shortDuration renders d with at most two units.
func shortDuration(d time.Duration) string {
	switch {
	case d >= 100*time.Hour:
		return "99h+"
	case d >= time.Hour:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	default:
		return d.Round(time.Second).String()
	}
}
