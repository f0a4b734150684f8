// Package textservice ties the synchronization layer together for one host
// UI thread.
//
// A Service owns the per-context state, the session scheduler, the input
// mode manager and the engine client. Host callbacks (activation, focus,
// keys, edit notifications, host mode toggles) enter through its methods;
// every change to host text goes through a session.
//
// A Service is not safe for concurrent use, with the exception of
// SetOptions, which configuration reloads may call from another goroutine.
package textservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"imesync/internal/composition"
	"imesync/internal/engine"
	"imesync/internal/inputmode"
	"imesync/internal/metrics"
	"imesync/internal/modestore"
	"imesync/internal/session"
	"imesync/internal/surrounding"
	"imesync/internal/textsurface"
)

// Session call sites. Each site latches to async independently.
const (
	siteFocus      = "focus"
	siteKey        = "key"
	siteKeyContext = "key_context"
	siteSubmit     = "submit"
	siteEdit       = "edit"
	siteHostToggle = "host_toggle"
	siteHostMode   = "host_mode"
	siteReconvert  = "reconvert"
)

// ErrNotActive is returned by operations that need an activated service.
var ErrNotActive = errors.New("textservice: not active")

// Service is the per-thread aggregate.
type Service struct {
	engine engine.Client
	store  modestore.Store
	pub    modestore.Publisher
	ui     UI

	sched *session.Scheduler
	modes *inputmode.Manager

	logger  *slog.Logger
	metrics *metrics.IMEMetrics

	optMu    sync.RWMutex
	opts     Options
	surround *surrounding.Service

	states map[HostContext]*PrivateState
	focus  HostContext
	active bool
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.IMEMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithUI sets the UI layer.
func WithUI(ui UI) Option {
	return func(s *Service) { s.ui = ui }
}

// WithPublisher broadcasts host-visible mode changes through p.
func WithPublisher(p modestore.Publisher) Option {
	return func(s *Service) { s.pub = p }
}

// WithOptions sets the behaviour flags.
func WithOptions(o Options) Option {
	return func(s *Service) { s.opts = o }
}

// New creates an inactive Service talking to client and keeping the
// host-visible mode in store.
func New(client engine.Client, store modestore.Store, opts ...Option) *Service {
	s := &Service{
		engine: client,
		store:  store,
		logger: slog.Default(),
		opts:   DefaultOptions(),
		states: make(map[HostContext]*PrivateState),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.NewIMEMetrics(nil)
	}
	s.logger = s.logger.With("component", "textservice")
	s.modes = inputmode.NewManager(
		inputmode.WithLogger(s.logger),
		inputmode.WithRespectHostModeChanges(s.opts.RespectHostModeChanges),
	)
	s.surround = surrounding.NewService(s.opts.SurroundingRadius, s.logger)
	s.sched = s.newScheduler()
	return s
}

func (s *Service) newScheduler() *session.Scheduler {
	return session.NewScheduler(
		session.WithLogger(s.logger),
		session.WithMetrics(s.metrics),
		session.WithAsyncErrorHandler(func(site string, err error) {
			s.logger.Debug("async session failed", "site", site, "error", err)
		}),
	)
}

// Activate starts the service: both mode pairs are set from the host-visible
// store and the engine is told about them. Each activation gets a fresh
// scheduler, so latched call sites are forgotten.
func (s *Service) Activate(ctx context.Context) error {
	st, err := s.store.Get(ctx)
	if err != nil {
		return fmt.Errorf("read host mode: %w", err)
	}
	mode := st.Mode()

	s.sched = s.newScheduler()
	s.modes.Initialize(st.Open, mode)
	s.active = true

	if _, err := s.sendCommand(ctx, engine.Command{Type: engine.CommandSetMode, Open: st.Open, Mode: mode}); err != nil {
		return fmt.Errorf("sync engine mode: %w", err)
	}

	s.logger.Info("activated", "open", st.Open, "mode", mode.String())
	s.updateUI(nil, nil)
	return nil
}

// Deactivate submits pending compositions and releases every context.
func (s *Service) Deactivate(ctx context.Context) error {
	if !s.active {
		return nil
	}
	var errs []error
	for hc := range s.states {
		if err := s.submit(ctx, hc, siteSubmit); err != nil {
			errs = append(errs, err)
		}
	}
	for hc := range s.states {
		if err := s.ReleaseContext(hc); err != nil {
			errs = append(errs, err)
		}
	}
	s.focus = nil
	s.active = false
	s.logger.Info("deactivated", "errors", len(errs))
	return errors.Join(errs...)
}

// Active reports whether the service is activated.
func (s *Service) Active() bool { return s.active }

// ReleaseContext drops the state of hc and unsubscribes from its edits.
func (s *Service) ReleaseContext(hc HostContext) error {
	ps, ok := s.states[hc]
	if !ok {
		return nil
	}
	delete(s.states, hc)
	s.metrics.ActiveContexts.Dec()
	if s.focus == hc {
		s.focus = nil
	}
	if ps.sink != nil {
		if err := ps.sink.Close(); err != nil {
			return fmt.Errorf("unadvise edit sink: %w", err)
		}
	}
	return nil
}

func (s *Service) ensureState(hc HostContext) (*PrivateState, error) {
	if ps, ok := s.states[hc]; ok {
		return ps, nil
	}

	opts := s.Options()
	ps := &PrivateState{
		KanaInput:    opts.KanaInput,
		UseIndicator: opts.UseIndicator,
		merger: composition.NewMerger(
			composition.WithLogger(s.logger),
			composition.WithMetrics(s.metrics),
		),
	}
	sink, err := hc.AdviseEditSink(&editSink{svc: s, hc: hc})
	if err != nil {
		return nil, fmt.Errorf("advise edit sink: %w", err)
	}
	ps.sink = sink

	s.states[hc] = ps
	s.metrics.ActiveContexts.Inc()
	return ps, nil
}

// State returns the private state of hc, if it has been observed.
func (s *Service) State(hc HostContext) (*PrivateState, bool) {
	ps, ok := s.states[hc]
	return ps, ok
}

// OnSetFocus handles focus moving to hc, or away from every context when hc
// is nil. The composition of the context losing focus is submitted.
func (s *Service) OnSetFocus(ctx context.Context, hc HostContext) error {
	if !s.active {
		return ErrNotActive
	}

	prev := s.focus
	var errs []error
	if prev != nil && prev != hc {
		if err := s.submit(ctx, prev, siteSubmit); err != nil {
			errs = append(errs, err)
		}
	}
	s.focus = hc

	if hc == nil {
		if s.modes.OnDissociateContext() == inputmode.UpdateUI {
			s.updateUI(nil, nil)
		}
		return errors.Join(errs...)
	}

	ps, err := s.ensureState(hc)
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	opts := s.Options()
	ps.KanaInput = opts.KanaInput
	ps.UseIndicator = opts.UseIndicator

	host := s.hostPair(ctx, ps)
	bg := context.WithoutCancel(ctx)
	err = s.sched.Request(ctx, hc, session.SyncRead, siteFocus, func(surf textsurface.Surface) error {
		hints, err := readHints(surf)
		if err != nil {
			return err
		}
		action := s.modes.OnFocus(host.Open, host.Mode, hints)
		if err := s.syncEngineMode(bg); err != nil {
			return err
		}
		if action == inputmode.UpdateUI {
			s.updateUI(ps, ps.LastOutput)
		}
		return nil
	})
	if err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// hostPair returns the host-visible pair from the store. The bit encoding
// cannot tell Direct from HalfASCII, so when the store still holds what was
// last written the manager's own pair is kept.
func (s *Service) hostPair(ctx context.Context, ps *PrivateState) inputmode.State {
	cur := s.modes.HostVisible()
	st, err := s.store.Get(ctx)
	if err != nil {
		s.logger.Warn("read host mode failed", "error", err)
		return cur
	}
	if st == modestore.StateFor(cur, ps.KanaInput) {
		return cur
	}
	return inputmode.State{Open: st.Open, Mode: st.Mode()}
}

func readHints(surf textsurface.Surface) ([]inputmode.FieldHint, error) {
	acc := textsurface.NewAccessor(surf)
	sel, err := acc.SelectionRange()
	if err != nil {
		return nil, err
	}
	scopes, err := acc.InputScopes(sel)
	if err != nil {
		return nil, fmt.Errorf("get input scopes: %w", err)
	}
	return inputmode.ParseFieldHints(scopes), nil
}

// syncEngineMode pushes the engine-effective pair to the engine. The
// returned status echoes the pair and is not applied.
func (s *Service) syncEngineMode(ctx context.Context) error {
	eff := s.modes.Effective()
	_, err := s.sendCommand(ctx, engine.Command{Type: engine.CommandSetMode, Open: eff.Open, Mode: eff.Mode})
	return err
}

// OnKey sends a key to the engine and applies its output to hc. It reports
// whether the engine consumed the key; unconsumed keys belong to the host.
func (s *Service) OnKey(ctx context.Context, hc HostContext, key engine.KeyEvent, isDown bool) (bool, error) {
	if !s.active {
		return false, ErrNotActive
	}
	ps, err := s.ensureState(hc)
	if err != nil {
		return false, err
	}
	if !isDown {
		return false, nil
	}

	opts := s.Options()
	if opts.SendContext && key.Context == nil {
		key.Context = s.keyContext(ctx, hc)
	}

	out, err := s.sendKey(ctx, key)
	if err != nil {
		return false, err
	}
	ps.LastKey = key

	if s.modes.OnKey(key.Name(), isDown, out.Consumed) == inputmode.UpdateUI {
		s.updateUI(ps, ps.LastOutput)
	}

	if !out.Consumed {
		s.applyStatus(ctx, ps, out.Status)
		return false, nil
	}

	bg := context.WithoutCancel(ctx)
	err = s.sched.Request(ctx, hc, session.SyncReadWrite, siteKey, func(surf textsurface.Surface) error {
		return s.processOutput(bg, surf, ps, out, true)
	})
	return true, err
}

// keyContext reads the surrounding window for a key event. When the host
// cannot grant the read right away the key goes without context.
func (s *Service) keyContext(ctx context.Context, hc HostContext) *engine.SurroundingText {
	var text *engine.SurroundingText
	surround := s.surroundService()
	mode := session.Mode{Access: session.ReadOnly, Timing: session.AsyncDontCare}
	err := s.sched.Request(ctx, hc, mode, siteKeyContext, func(surf textsurface.Surface) error {
		w, err := surround.GetWindow(surf)
		if err != nil {
			return err
		}
		text = w.ForEngine()
		return nil
	})
	if err != nil {
		s.logger.Debug("no surrounding text for key", "error", err)
	}
	return text
}

// processOutput applies out to the surface of a write session. When follow
// is set an engine callback is answered once; its own callback is not.
func (s *Service) processOutput(ctx context.Context, surf textsurface.Surface, ps *PrivateState, out *engine.Output, follow bool) error {
	if out == nil {
		return nil
	}

	var errs []error
	if dr := out.DeletionRange; dr != nil {
		if dr.IsDeletePreceding() {
			if err := s.surroundService().DeletePreceding(surf, dr.Length); err != nil {
				errs = append(errs, fmt.Errorf("delete preceding text: %w", err))
			}
		} else {
			s.logger.Debug("ignoring deletion range", "offset", dr.Offset, "length", dr.Length)
		}
	}

	if err := ps.merger.Apply(surf, out); err != nil {
		errs = append(errs, err)
	}
	ps.LastOutput = out

	s.applyStatus(ctx, ps, out.Status)
	s.updateUI(ps, out)

	if follow && out.Callback != nil {
		if err := s.runCallback(ctx, surf, ps, out.Callback.Command); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// runCallback answers an engine callback inside the current write session.
func (s *Service) runCallback(ctx context.Context, surf textsurface.Surface, ps *PrivateState, cmd engine.Command) error {
	surround := s.surroundService()

	var (
		w   surrounding.Window
		err error
	)
	switch cmd.Type {
	case engine.CommandReconvert:
		w, err = surround.PrepareForReconversion(surf)
	case engine.CommandUndo:
		w, err = surround.GetWindow(surf)
	}
	if err != nil {
		s.logger.Debug("callback without surrounding text", "command", cmd.Type.String(), "error", err)
	} else if cmd.Context == nil {
		cmd.Context = w.ForEngine()
	}

	out, err := s.sendCommand(ctx, cmd)
	if err != nil {
		return err
	}
	return s.processOutput(ctx, surf, ps, out, false)
}

// applyStatus reconciles an engine status with the mode manager and
// publishes host-visible changes. A status that only echoes an active field
// hint override is skipped, so the host keeps the user's own mode.
func (s *Service) applyStatus(ctx context.Context, ps *PrivateState, st *engine.Status) {
	if st == nil || s.echoesOverride(st) {
		return
	}

	changed := s.modes.OnEngineNotification(st.Activated, st.ComebackMode, st.Mode)
	if changed == inputmode.NotifyNone {
		return
	}
	s.metrics.ModeNotifications.Inc()

	hs := modestore.StateFor(s.modes.HostVisible(), ps.KanaInput)
	if err := s.store.Set(ctx, hs); err != nil {
		s.logger.Warn("write host mode failed", "error", err)
	}
	if s.pub != nil {
		if err := s.pub.Publish(ctx, hs, changed); err != nil {
			s.logger.Warn("publish host mode failed", "error", err)
		}
	}
}

func (s *Service) echoesOverride(st *engine.Status) bool {
	if !s.modes.Overridden() {
		return false
	}
	eff := s.modes.Effective()
	if st.Activated != eff.Open {
		return false
	}
	return !st.Activated || st.ComebackMode == eff.Mode
}

// submit commits the composition of hc, if any, through an async session.
func (s *Service) submit(ctx context.Context, hc HostContext, site string) error {
	ps, ok := s.states[hc]
	if !ok || !ps.Composing() {
		return nil
	}
	out, err := s.sendCommand(ctx, engine.Command{Type: engine.CommandSubmit})
	if err != nil {
		return err
	}
	bg := context.WithoutCancel(ctx)
	return s.sched.Request(ctx, hc, session.AsyncReadWrite, site, func(surf textsurface.Surface) error {
		return s.processOutput(bg, surf, ps, out, false)
	})
}

// onEndEdit runs after every write session on a context the service
// observes, its own included.
func (s *Service) onEndEdit(hc HostContext, surf textsurface.Surface, rec textsurface.EditRecord) {
	if !rec.SelectionChanged || !s.active {
		return
	}
	ctx := context.Background()

	if hc == s.focus {
		if hints, err := readHints(surf); err == nil {
			if s.modes.OnFieldHintsChanged(hints) == inputmode.UpdateUI {
				if err := s.syncEngineMode(ctx); err != nil {
					s.logger.Warn("sync engine mode failed", "error", err)
				}
				ps := s.states[hc]
				s.updateUI(ps, ps.LastOutput)
			}
		}
	}

	outside, err := selectionOutsideComposition(surf)
	if err != nil {
		s.logger.Debug("edit check failed", "error", err)
		return
	}
	if outside {
		s.logger.Debug("selection left the composition")
		if err := s.submit(ctx, hc, siteEdit); err != nil {
			s.logger.Warn("submit after edit failed", "error", err)
		}
	}
}

func selectionOutsideComposition(surf textsurface.Surface) (bool, error) {
	acc := textsurface.NewAccessor(surf)
	comp, err := acc.Composition()
	if err != nil || comp == nil {
		return false, err
	}
	cr, err := comp.Range()
	if err != nil {
		return false, err
	}
	sel, err := acc.SelectionRange()
	if err != nil {
		return false, err
	}
	inside, err := acc.Contains(cr, sel)
	return !inside, err
}

// OnHostToggledOpenClose handles the host opening or closing the input
// method, for example from a language bar.
func (s *Service) OnHostToggledOpenClose(ctx context.Context, open bool) error {
	if !s.active {
		return ErrNotActive
	}
	s.modes.OnHostToggledOpenClose(open)
	return s.pushModeToEngine(ctx, siteHostToggle)
}

// OnHostChangedMode handles the host changing the conversion mode. It is
// ignored unless host mode changes are respected.
func (s *Service) OnHostChangedMode(ctx context.Context, mode inputmode.ConversionMode) error {
	if !s.active {
		return ErrNotActive
	}
	if s.modes.OnHostChangedMode(mode) == inputmode.DoNothing {
		return nil
	}
	return s.pushModeToEngine(ctx, siteHostMode)
}

func (s *Service) pushModeToEngine(ctx context.Context, site string) error {
	eff := s.modes.Effective()
	out, err := s.sendCommand(ctx, engine.Command{Type: engine.CommandSetMode, Open: eff.Open, Mode: eff.Mode})
	if err != nil {
		return err
	}

	hc := s.focus
	if hc == nil {
		s.updateUI(nil, out)
		return nil
	}
	ps, err := s.ensureState(hc)
	if err != nil {
		return err
	}
	bg := context.WithoutCancel(ctx)
	return s.sched.Request(ctx, hc, session.AsyncReadWrite, site, func(surf textsurface.Surface) error {
		return s.processOutput(bg, surf, ps, out, false)
	})
}

// Reconvert asks the engine to reconvert the selection of hc.
func (s *Service) Reconvert(ctx context.Context, hc HostContext) error {
	if !s.active {
		return ErrNotActive
	}
	ps, err := s.ensureState(hc)
	if err != nil {
		return err
	}
	bg := context.WithoutCancel(ctx)
	return s.sched.Request(ctx, hc, session.SyncReadWrite, siteReconvert, func(surf textsurface.Surface) error {
		return s.runCallback(bg, surf, ps, engine.Command{Type: engine.CommandReconvert})
	})
}

func (s *Service) sendKey(ctx context.Context, key engine.KeyEvent) (*engine.Output, error) {
	s.metrics.EngineRequests.Inc()
	timer := s.metrics.EngineLatency.Timer()
	out, err := s.engine.SendKey(ctx, key)
	timer.Stop()
	if err != nil {
		s.metrics.EngineErrors.Inc()
		return nil, fmt.Errorf("send key %s: %w", key.Name(), err)
	}
	return out, nil
}

func (s *Service) sendCommand(ctx context.Context, cmd engine.Command) (*engine.Output, error) {
	s.metrics.EngineRequests.Inc()
	timer := s.metrics.EngineLatency.Timer()
	out, err := s.engine.SendCommand(ctx, cmd)
	timer.Stop()
	if err != nil {
		s.metrics.EngineErrors.Inc()
		return nil, fmt.Errorf("send command %s: %w", cmd.Type, err)
	}
	return out, nil
}

func (s *Service) updateUI(ps *PrivateState, out *engine.Output) {
	if s.ui == nil {
		return
	}
	useIndicator := s.Options().UseIndicator
	if ps != nil {
		useIndicator = ps.UseIndicator
	}
	eff := s.modes.Effective()
	s.ui.Update(UIState{
		Output:           out,
		Open:             eff.Open,
		Mode:             eff.Mode,
		IndicatorVisible: useIndicator && s.modes.IndicatorVisible(),
	})
}

// SetOptions replaces the behaviour flags. Per-context flags are picked up
// the next time a context gains focus.
func (s *Service) SetOptions(o Options) {
	s.optMu.Lock()
	defer s.optMu.Unlock()
	if o.SurroundingRadius != s.opts.SurroundingRadius {
		s.surround = surrounding.NewService(o.SurroundingRadius, s.logger)
	}
	s.opts = o
	s.modes.SetRespectHostModeChanges(o.RespectHostModeChanges)
	s.logger.Debug("options updated",
		"send_context", o.SendContext,
		"respect_host_mode_changes", o.RespectHostModeChanges,
		"radius", s.surround.Radius(),
	)
}

// Options returns the current behaviour flags.
func (s *Service) Options() Options {
	s.optMu.RLock()
	defer s.optMu.RUnlock()
	return s.opts
}

func (s *Service) surroundService() *surrounding.Service {
	s.optMu.RLock()
	defer s.optMu.RUnlock()
	return s.surround
}

// Modes returns the input mode manager.
func (s *Service) Modes() *inputmode.Manager { return s.modes }

// Scheduler returns the scheduler of the current activation.
func (s *Service) Scheduler() *session.Scheduler { return s.sched }

// Focus returns the focused context, or nil.
func (s *Service) Focus() HostContext { return s.focus }
