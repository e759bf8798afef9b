// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonathan/brigade/internal/llm"
	"github.com/jonathan/brigade/internal/schemas"
)

// Reply is the scripted outcome of one call
type Reply struct {
	Text  string
	Err   error
	Delay time.Duration
}

// Call records one GenerateStructured invocation
type Call struct {
	Prompt string
	Schema *schemas.Node
	Tier   llm.ModelTier
}

// Stub answers GenerateStructured calls from a script keyed by a marker found in the
// prompt. The role line of the instruction block makes a convenient marker.
type Stub struct {
	mu      sync.Mutex
	replies map[string]Reply
	calls   []Call
	// Fallback is used when no marker matches
	Fallback *Reply
}

// NewStub creates an empty stub
func NewStub() *Stub {
	return &Stub{replies: make(map[string]Reply)}
}

// On scripts the reply for prompts containing marker
func (s *Stub) On(marker string, reply Reply) *Stub {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[marker] = reply
	return s
}

// GenerateStructured implements llm.Client
func (s *Stub) GenerateStructured(ctx context.Context, prompt string, schema *schemas.Node, tier llm.ModelTier) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Prompt: prompt, Schema: schema, Tier: tier})
	reply, ok := s.match(prompt)
	s.mu.Unlock()

	if !ok {
		return "", fmt.Errorf("llmtest: no scripted reply for prompt")
	}
	if reply.Delay > 0 {
		select {
		case <-time.After(reply.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return reply.Text, reply.Err
}

func (s *Stub) match(prompt string) (Reply, bool) {
	// longest marker wins so "Role: Judge" is not shadowed by a shorter marker
	best := ""
	for marker := range s.replies {
		if strings.Contains(prompt, marker) && len(marker) > len(best) {
			best = marker
		}
	}
	if best != "" {
		return s.replies[best], true
	}
	if s.Fallback != nil {
		return *s.Fallback, true
	}
	return Reply{}, false
}

// Calls returns a copy of the recorded calls
func (s *Stub) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallsMatching returns the recorded calls whose prompt contains marker
func (s *Stub) CallsMatching(marker string) []Call {
	var out []Call
	for _, c := range s.Calls() {
		if strings.Contains(c.Prompt, marker) {
			out = append(out, c)
		}
	}
	return out
}

// GetModel implements llm.Client
func (s *Stub) GetModel(tier llm.ModelTier) string {
	return "stub-" + string(tier)
}

// Close implements llm.Client
func (s *Stub) Close() error {
	return nil
}

var _ llm.Client = (*Stub)(nil)
