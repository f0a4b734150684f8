package mockengine

import (
	"context"
	"errors"
	"sync"

	"imesync/internal/engine"
)

// ErrScriptExhausted is returned when a Scripted client has no outputs left.
var ErrScriptExhausted = errors.New("mockengine: script exhausted")

// Scripted is an engine.Client that replays canned outputs in order and
// records the requests it received.
type Scripted struct {
	mu       sync.Mutex
	outputs  []*engine.Output
	err      error
	Keys     []engine.KeyEvent
	Commands []engine.Command
}

// NewScripted returns a client answering with outputs in order.
func NewScripted(outputs ...*engine.Output) *Scripted {
	return &Scripted{outputs: outputs}
}

// Push appends outputs to the script.
func (s *Scripted) Push(outputs ...*engine.Output) {
	s.mu.Lock()
	s.outputs = append(s.outputs, outputs...)
	s.mu.Unlock()
}

// FailWith makes every following request fail with err.
func (s *Scripted) FailWith(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// SendKey implements engine.Client.
func (s *Scripted) SendKey(_ context.Context, key engine.KeyEvent) (*engine.Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Keys = append(s.Keys, key)
	return s.next()
}

// SendCommand implements engine.Client.
func (s *Scripted) SendCommand(_ context.Context, cmd engine.Command) (*engine.Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Commands = append(s.Commands, cmd)
	return s.next()
}

func (s *Scripted) next() (*engine.Output, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.outputs) == 0 {
		return nil, ErrScriptExhausted
	}
	out := s.outputs[0]
	s.outputs = s.outputs[1:]
	return out, nil
}
