// Package modestore holds the host-visible input mode: the open flag and
// conversion bits that other software on the desktop reads.
//
// The text service writes it whenever the engine reports a change the host
// should see, and optionally broadcasts the change through a Publisher.
package modestore

import (
	"context"
	"sync"

	"imesync/internal/inputmode"
)

// State is the host-visible mode.
type State struct {
	Open bool
	// Bits is the host conversion bitmask; see inputmode.ConversionMode.HostBits.
	Bits uint32
}

// Mode decodes Bits. Unknown combinations map to Direct.
func (s State) Mode() inputmode.ConversionMode {
	mode, _ := inputmode.ModeFromHostBits(s.Bits)
	return mode
}

// StateFor encodes an inputmode pair.
func StateFor(p inputmode.State, kana bool) State {
	return State{Open: p.Open, Bits: p.Mode.HostBits(kana)}
}

// Store reads and writes the host-visible mode.
type Store interface {
	Get(ctx context.Context) (State, error)
	Set(ctx context.Context, s State) error
	Close() error
}

// Publisher broadcasts host-visible mode changes. changed names the fields
// that differ from the previous state.
type Publisher interface {
	Publish(ctx context.Context, s State, changed inputmode.Notify) error
}

// Memory is an in-process Store.
type Memory struct {
	mu     sync.RWMutex
	state  State
	writes int
}

// NewMemory creates a Memory store holding initial.
func NewMemory(initial State) *Memory {
	return &Memory{state: initial}
}

// Get implements Store.
func (m *Memory) Get(context.Context) (State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, nil
}

// Set implements Store.
func (m *Memory) Set(_ context.Context, s State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
	m.writes++
	return nil
}

// Writes returns how many times Set was called.
func (m *Memory) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// Close implements Store.
func (m *Memory) Close() error { return nil }

// RecordingPublisher keeps every published change in memory.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

// Event is one published change.
type Event struct {
	State   State
	Changed inputmode.Notify
}

// Publish implements Publisher.
func (p *RecordingPublisher) Publish(_ context.Context, s State, changed inputmode.Notify) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, Event{State: s, Changed: changed})
	return nil
}

// Events returns the published changes in order.
func (p *RecordingPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}
