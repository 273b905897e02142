package runtimeexec

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Scripted is a Runner that replays canned results keyed by command line
// prefix. It records every call.
type Scripted struct {
	mu       sync.Mutex
	Missing  map[string]bool
	Results  map[string]Result
	Errors   map[string]error
	Calls    []Command
	Fallback Result
}

func NewScripted() *Scripted {
	return &Scripted{
		Missing: map[string]bool{},
		Results: map[string]Result{},
		Errors:  map[string]error{},
	}
}

func (s *Scripted) On(line string, res Result, err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Results[line] = res
	if err != nil {
		s.Errors[line] = err
	}
	return s
}

func (s *Scripted) LookPath(bin string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Missing[bin] {
		return fmt.Errorf("%w: %s", ErrBinaryNotFound, bin)
	}
	return nil
}

func (s *Scripted) Run(ctx context.Context, cmd Command) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, cmd)
	line := cmd.String()
	best := ""
	for key := range s.Results {
		if strings.HasPrefix(line, key) && len(key) > len(best) {
			best = key
		}
	}
	if best == "" {
		return s.Fallback, nil
	}
	return s.Results[best], s.Errors[best]
}

func (s *Scripted) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.Calls))
	for _, c := range s.Calls {
		out = append(out, c.String())
	}
	return out
}
