package inputmode

import (
	"log/slog"
	"slices"
	"sync"
)

// Manager reconciles the engine-effective and host-visible mode pairs.
//
// A Manager belongs to one text service instance and is driven from host
// callbacks only. The mutex guards against configuration reloads, which
// arrive on another goroutine.
type Manager struct {
	mu sync.Mutex

	effective State
	host      State
	indicator bool
	hints     []FieldHint

	respectHostMode bool
	logger          *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithRespectHostModeChanges makes host-originated mode changes apply to
// the engine-effective pair. Without it the session-local mode wins.
func WithRespectHostModeChanges(respect bool) Option {
	return func(m *Manager) { m.respectHostMode = respect }
}

// NewManager creates a Manager with both pairs closed in Direct mode.
func NewManager(opts ...Option) *Manager {
	m := &Manager{logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "inputmode")
	return m
}

// Initialize sets both pairs from the host's current values.
func (m *Manager) Initialize(hostOpen bool, hostMode ConversionMode) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := State{Open: hostOpen, Mode: hostMode}
	m.effective = s
	m.host = s
	m.indicator = false
	m.hints = nil
}

// OnFocus records the host values of a newly focused context and applies
// its field hints.
func (m *Manager) OnFocus(hostOpen bool, hostMode ConversionMode, hints []FieldHint) Action {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.host = State{Open: hostOpen, Mode: hostMode}
	m.hints = normalizeHints(hints)
	return m.applyOverride("focus")
}

// OnFieldHintsChanged applies new hints to the current host-visible pair.
// Unchanged non-empty hints are a no-op, so a mode the user picked inside a
// hinted field survives selection moves.
func (m *Manager) OnFieldHintsChanged(hints []FieldHint) Action {
	m.mu.Lock()
	defer m.mu.Unlock()

	hints = normalizeHints(hints)
	if len(hints) > 0 && slices.Equal(hints, m.hints) {
		return DoNothing
	}
	m.hints = hints
	return m.applyOverride("hints")
}

func (m *Manager) applyOverride(reason string) Action {
	next := GetOverriddenState(m.host, m.hints)
	if next == m.effective {
		return DoNothing
	}
	m.logger.Debug("effective mode changed",
		"reason", reason,
		"from", m.effective.String(),
		"to", next.String(),
		"hints", len(m.hints),
	)
	m.effective = next
	m.indicator = true
	return UpdateUI
}

// OnHostToggledOpenClose handles the host opening or closing the input
// method. It is always honored.
func (m *Manager) OnHostToggledOpenClose(open bool) Action {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.effective.Open = open
	m.host.Open = open
	m.indicator = true
	return UpdateUI
}

// OnHostChangedMode handles a mode change made through the host's mode
// store. It is ignored unless host mode changes are respected.
func (m *Manager) OnHostChangedMode(mode ConversionMode) Action {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.respectHostMode {
		m.logger.Debug("ignoring host mode change", "mode", mode.String())
		return DoNothing
	}
	m.effective.Mode = mode
	m.host.Mode = mode
	m.indicator = true
	return UpdateUI
}

// OnEngineNotification applies the engine's reported status. comeback is
// the mode the engine returns to when reopened; visible is the mode the
// host should display. The result names the host-visible fields that
// changed and must be published.
func (m *Manager) OnEngineNotification(activated bool, comeback, visible ConversionMode) Notify {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.effective = State{Open: activated, Mode: comeback}

	var flags Notify
	if m.host.Open != activated {
		flags |= NotifyHostOpenClose
	}
	if m.host.Mode != visible {
		flags |= NotifyHostMode
	}
	m.host = State{Open: activated, Mode: visible}
	return flags
}

// OnKey hides the indicator after a key-down the engine consumed.
func (m *Manager) OnKey(key string, isDown, consumed bool) Action {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !isDown || !consumed || !m.indicator {
		return DoNothing
	}
	m.logger.Debug("indicator hidden by key", "key", key)
	m.indicator = false
	return UpdateUI
}

// OnDissociateContext hides the indicator when focus leaves every context.
func (m *Manager) OnDissociateContext() Action {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.indicator {
		return DoNothing
	}
	m.indicator = false
	return UpdateUI
}

// Effective returns the engine-effective pair.
func (m *Manager) Effective() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.effective
}

// HostVisible returns the host-visible pair.
func (m *Manager) HostVisible() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.host
}

// IndicatorVisible reports whether the mode indicator is shown.
func (m *Manager) IndicatorVisible() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.indicator
}

// Hints returns the current field hints.
func (m *Manager) Hints() []FieldHint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.hints)
}

// Overridden reports whether field hints currently hold the effective pair
// away from the host-visible one. A user toggle inside a hinted field ends
// the override.
func (m *Manager) Overridden() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.effective != m.host && GetOverriddenState(m.host, m.hints) == m.effective
}

// SetRespectHostModeChanges updates the flag at runtime.
func (m *Manager) SetRespectHostModeChanges(respect bool) {
	m.mu.Lock()
	m.respectHostMode = respect
	m.mu.Unlock()
}
