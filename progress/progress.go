package progress

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

const (
	defaultTermWidth  = 80
	defaultTermHeight = 24

	hideCursor  = "\033[?25l"
	showCursor  = "\033[?25h"
	lineUp      = "\033[A"
	column1     = "\033[1G"
	clearToEnd  = "\033[K"
	beginUpdate = "\033[?2026h"
	endUpdate   = "\033[?2026l"
)

type State interface {
	String() string
}

// Progress redraws a stack of lines in place on a terminal every 100ms
// until Stop is called. Each line is a State added under a key.
type Progress struct {
	mu sync.Mutex
	// buffered so a frame reaches the terminal in one write
	w *bufio.Writer

	// lines drawn by the previous frame
	drawn int

	stopped bool
	done    chan struct{}

	states []State
	keys   map[string]int
}

func NewProgress(w io.Writer) *Progress {
	p := &Progress{
		w:    bufio.NewWriter(w),
		done: make(chan struct{}),
		keys: make(map[string]int),
	}

	fmt.Fprint(p.w, hideCursor)

	ticker := time.NewTicker(100 * time.Millisecond)
	go p.loop(ticker)
	return p
}

func (p *Progress) loop(ticker *time.Ticker) {
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.render(false)
		}
	}
}

// Add appends state as a new line, or replaces the line previously added
// under key.
func (p *Progress) Add(key string, state State) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if i, ok := p.keys[key]; ok {
		p.states[i] = state
		return
	}

	p.keys[key] = len(p.states)
	p.states = append(p.states, state)
}

// Stop halts redrawing, stops any spinners and draws the final frame. It
// reports whether this call stopped p.
func (p *Progress) Stop() bool {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return false
	}

	p.stopped = true
	close(p.done)
	for _, state := range p.states {
		if spinner, ok := state.(*Spinner); ok {
			spinner.Stop()
		}
	}
	p.mu.Unlock()

	p.render(true)

	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprint(p.w, "\n", showCursor)
	p.w.Flush()
	return true
}

// render draws a frame. Once p is stopped only the final frame is drawn.
func (p *Progress) render(final bool) {
	height := termHeight()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped && !final {
		return
	}

	// only the lines that fit on screen are redrawn
	visible := p.states[max(len(p.states)-height, 0):]

	var frame strings.Builder
	frame.WriteString(beginUpdate)
	frame.WriteString(strings.Repeat(lineUp, max(p.drawn-1, 0)))
	frame.WriteString(column1)
	for i, state := range visible {
		if i > 0 {
			frame.WriteString("\n")
		}

		frame.WriteString(state.String())
		frame.WriteString(clearToEnd)
	}
	frame.WriteString(endUpdate)

	p.drawn = len(visible)
	p.w.WriteString(frame.String())
	p.w.Flush()
}

func termSize() (int, int) {
	width, height, err := term.GetSize(int(os.Stderr.Fd()))
	if err != nil {
		return defaultTermWidth, defaultTermHeight
	}

	return width, height
}

func termWidth() int {
	if width, _ := termSize(); width > 0 {
		return width
	}

	return defaultTermWidth
}

func termHeight() int {
	if _, height := termSize(); height > 0 {
		return height
	}

	return defaultTermHeight
}
