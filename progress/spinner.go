package progress

import (
	"fmt"
	"sync"
	"time"
)

var frames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner animates while a step without byte progress runs, such as
// writing a buffered artifact, and shows the time it took once stopped.
type Spinner struct {
	mu sync.Mutex

	message string
	frame   int

	started time.Time
	stopped time.Time
	done    chan struct{}
}

func NewSpinner(message string) *Spinner {
	s := &Spinner{
		message: message,
		started: time.Now(),
		done:    make(chan struct{}),
	}

	go s.spin()
	return s
}

func (s *Spinner) spin() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			s.frame = (s.frame + 1) % len(frames)
			s.mu.Unlock()
		}
	}
}

func (s *Spinner) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.stopped.IsZero() {
		return fmt.Sprintf("%s (%s)", s.message, s.stopped.Sub(s.started).Round(time.Millisecond))
	}

	return s.message + " " + frames[s.frame]
}

// Stop freezes the spinner. It is safe to call more than once.
func (s *Spinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped.IsZero() {
		s.stopped = time.Now()
		close(s.done)
	}
}
