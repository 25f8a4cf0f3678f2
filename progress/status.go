package progress

import (
	"strings"
	"sync"
)

// Status is a line of text with an outcome aligned to the right edge, such
// as a layer that is "Reading", then "Success" or "Failed".
type Status struct {
	mu      sync.Mutex
	message string
	outcome string
}

func NewStatus(message, outcome string) *Status {
	return &Status{message: message, outcome: outcome}
}

func (s *Status) Set(message, outcome string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.message = message
	s.outcome = outcome
}

func (s *Status) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.render(termWidth())
}

func (s *Status) render(width int) string {
	message := strings.TrimSpace(s.message)
	if s.outcome == "" {
		return message
	}

	room := width - len(s.outcome) - 1
	if room < 0 {
		room = 0
	}

	if len(message) > room {
		if room > 3 {
			message = message[:room-3] + "..."
		} else {
			message = message[:room]
		}
	}

	pad := max(width-len(message)-len(s.outcome), 1)
	return message + strings.Repeat(" ", pad) + s.outcome
}
