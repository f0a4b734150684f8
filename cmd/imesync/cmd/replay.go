package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"imesync/internal/config"
	"imesync/internal/engine"
	"imesync/internal/hostsim"
	"imesync/internal/inputmode"
	"imesync/internal/metrics"
	"imesync/internal/modestore"
	"imesync/internal/textservice"
)

var replayRemote bool

var replayCmd = &cobra.Command{
	Use:   "replay SCRIPT",
	Short: "Replay a scripted host session against the engine",
	Long: `Replay reads a YAML script describing host contexts and the events a
host would deliver (focus changes, keys, selection moves, host mode
changes) and drives the text service with them against simulated
documents. Expectations in the script are checked as it runs.

Example:

  contexts:
    - name: editor
  steps:
    - focus: editor
    - type: kanji
    - key: space
    - key: enter
    - expect: {context: editor, text: 漢字}`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().BoolVar(&replayRemote, "remote", false, "use the engine server on the configured socket")
	rootCmd.AddCommand(replayCmd)
}

// Script is a replayable host session.
type Script struct {
	// Host is the host-visible mode the store starts with.
	Host *HostMode `yaml:"host,omitempty"`
	// ManualPump leaves queued asynchronous sessions alone until a pump step.
	ManualPump bool           `yaml:"manual_pump,omitempty"`
	Options    *ScriptOptions `yaml:"options,omitempty"`
	Contexts   []ContextSpec  `yaml:"contexts"`
	Steps      []Step         `yaml:"steps"`
}

// HostMode is an open flag and conversion mode name.
type HostMode struct {
	Open bool   `yaml:"open"`
	Mode string `yaml:"mode"`
}

// ScriptOptions override the configured text service flags.
type ScriptOptions struct {
	KanaInput              *bool `yaml:"kana_input,omitempty"`
	UseIndicator           *bool `yaml:"use_indicator,omitempty"`
	SendContext            *bool `yaml:"send_context,omitempty"`
	RespectHostModeChanges *bool `yaml:"respect_host_mode_changes,omitempty"`
	SurroundingRadius      *int  `yaml:"surrounding_radius,omitempty"`
}

// ContextSpec declares one simulated host context.
type ContextSpec struct {
	Name   string   `yaml:"name"`
	Text   string   `yaml:"text,omitempty"`
	Scopes []string `yaml:"scopes,omitempty"`
	// Sync is "allowed" (default) or "denied".
	Sync     string `yaml:"sync,omitempty"`
	ReadOnly bool   `yaml:"read_only,omitempty"`
}

// Step is one host event. Exactly one field is set.
type Step struct {
	Focus     *string  `yaml:"focus,omitempty"`
	Blur      bool     `yaml:"blur,omitempty"`
	Type      string   `yaml:"type,omitempty"`
	Key       string   `yaml:"key,omitempty"`
	KeyUp     string   `yaml:"key_up,omitempty"`
	Select    []int    `yaml:"select,omitempty"`
	Insert    *string  `yaml:"insert,omitempty"`
	Scopes    []string `yaml:"scopes,omitempty"`
	HostOpen  *bool    `yaml:"host_open,omitempty"`
	HostMode  string   `yaml:"host_mode,omitempty"`
	Reconvert bool     `yaml:"reconvert,omitempty"`
	Reload    bool     `yaml:"reload,omitempty"`
	Pump      bool     `yaml:"pump,omitempty"`
	Release   string   `yaml:"release,omitempty"`
	Expect    *Expect  `yaml:"expect,omitempty"`
}

// Expect checks the state after the preceding steps. Unset fields are
// not checked; Context defaults to the focused context.
type Expect struct {
	Context     string  `yaml:"context,omitempty"`
	Text        *string `yaml:"text,omitempty"`
	Composition *string `yaml:"composition,omitempty"`
	Open        *bool   `yaml:"open,omitempty"`
	Mode        string  `yaml:"mode,omitempty"`
	Pending     *int    `yaml:"pending,omitempty"`
}

// LoadScript parses a replay script.
func LoadScript(r io.Reader) (*Script, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var s Script
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	seen := make(map[string]bool, len(s.Contexts))
	for _, c := range s.Contexts {
		if c.Name == "" {
			return nil, errors.New("parse script: context without a name")
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("parse script: duplicate context %q", c.Name)
		}
		seen[c.Name] = true
	}
	return &s, nil
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Close()

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	script, err := LoadScript(f)
	if err != nil {
		return err
	}

	client, closer, err := engineClient(cmd.Context(), cfg, replayRemote, logger.Logger)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	r, err := NewReplayer(cfg, client, logger.Logger)
	if err != nil {
		return err
	}
	defer r.Close()

	loader := config.NewLoader(configFile())
	r.Follow(loader)
	if err := loader.Watch(); err != nil {
		logger.Warn("configuration watch disabled", "error", err)
	}
	defer loader.Close()

	if err := r.Run(cmd.Context(), script, cmd.OutOrStdout()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "ok: %d steps\n", len(script.Steps))
	return nil
}

// Replayer drives a text service with a script.
type Replayer struct {
	mu         sync.Mutex
	cfg        *config.Config
	scriptOpts *ScriptOptions
	loader     *config.Loader

	client  engine.Client
	logger  *slog.Logger
	store   modestore.Store
	pub     modestore.Publisher
	closers []io.Closer

	svc      *textservice.Service
	contexts map[string]*hostsim.Context
	order    []*hostsim.Context
}

// NewReplayer prepares a replay against client using the mode store and
// publisher named by cfg.
func NewReplayer(cfg *config.Config, client engine.Client, logger *slog.Logger) (*Replayer, error) {
	store, err := openModeStore(cfg)
	if err != nil {
		return nil, err
	}
	r := &Replayer{
		cfg:      cfg,
		client:   client,
		logger:   logger,
		store:    store,
		closers:  []io.Closer{store},
		contexts: make(map[string]*hostsim.Context),
	}
	if pub, c := openPublisher(cfg, logger); pub != nil {
		r.pub = pub
		r.closers = append(r.closers, c)
	}
	return r, nil
}

// Close releases the mode store and publisher.
func (r *Replayer) Close() error {
	var errs []error
	for _, c := range r.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// Follow applies configurations delivered by loader to the running text
// service. Script options keep precedence over reloaded values. A reload
// step re-reads the file through loader.
func (r *Replayer) Follow(loader *config.Loader) {
	r.loader = loader
	loader.OnChange(r.applyConfig)
}

func (r *Replayer) applyConfig(next *config.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = next
	if r.svc != nil {
		r.svc.SetOptions(applyScriptOptions(serviceOptions(next), r.scriptOpts))
	}
	r.logger.Info("configuration applied", "respect_host_mode_changes", next.InputMode.RespectHostModeChanges)
}

// Service returns the text service of the last run.
func (r *Replayer) Service() *textservice.Service { return r.svc }

// Context returns the simulated context called name.
func (r *Replayer) Context(name string) *hostsim.Context { return r.contexts[name] }

// Run replays script. Progress is written to out.
func (r *Replayer) Run(ctx context.Context, script *Script, out io.Writer) error {
	svc, err := r.newService(ctx, script)
	if err != nil {
		return err
	}

	for _, spec := range script.Contexts {
		c := hostsim.NewContext(spec.Name, spec.Text)
		c.SetInputScopes(spec.Scopes...)
		c.SetReadOnly(spec.ReadOnly)
		switch strings.ToLower(spec.Sync) {
		case "", "allowed":
		case "denied":
			c.SetSyncPolicy(hostsim.SyncDenied)
		default:
			return fmt.Errorf("context %s: unknown sync policy %q", spec.Name, spec.Sync)
		}
		r.contexts[spec.Name] = c
		r.order = append(r.order, c)
	}

	if err := svc.Activate(ctx); err != nil {
		return err
	}
	for i, step := range script.Steps {
		if err := r.step(ctx, step); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
		if !script.ManualPump {
			r.pumpAll()
		}
		fmt.Fprintf(out, "%3d %s\n", i+1, r.describe())
	}
	return svc.Deactivate(ctx)
}

// newService seeds the mode store and builds the text service for script
// from the current configuration.
func (r *Replayer) newService(ctx context.Context, script *Script) (*textservice.Service, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg := r.cfg
	r.scriptOpts = script.Options

	if script.Host != nil {
		mode, err := inputmode.ParseConversionMode(script.Host.Mode)
		if err != nil {
			return nil, err
		}
		st := inputmode.State{Open: script.Host.Open, Mode: mode}
		if err := r.store.Set(ctx, modestore.StateFor(st, cfg.InputMode.KanaInput)); err != nil {
			return nil, fmt.Errorf("seed host mode: %w", err)
		}
	}

	opts := applyScriptOptions(serviceOptions(cfg), script.Options)
	svcOpts := []textservice.Option{
		textservice.WithLogger(r.logger),
		textservice.WithOptions(opts),
		textservice.WithMetrics(metrics.NewIMEMetrics(metrics.NewRegistry("imesync", "replay"))),
	}
	if r.pub != nil {
		svcOpts = append(svcOpts, textservice.WithPublisher(r.pub))
	}
	r.svc = textservice.New(r.client, r.store, svcOpts...)
	return r.svc, nil
}

func applyScriptOptions(o textservice.Options, so *ScriptOptions) textservice.Options {
	if so == nil {
		return o
	}
	if so.KanaInput != nil {
		o.KanaInput = *so.KanaInput
	}
	if so.UseIndicator != nil {
		o.UseIndicator = *so.UseIndicator
	}
	if so.SendContext != nil {
		o.SendContext = *so.SendContext
	}
	if so.RespectHostModeChanges != nil {
		o.RespectHostModeChanges = *so.RespectHostModeChanges
	}
	if so.SurroundingRadius != nil {
		o.SurroundingRadius = *so.SurroundingRadius
	}
	return o
}

func (r *Replayer) lookup(name string) (*hostsim.Context, error) {
	c, ok := r.contexts[name]
	if !ok {
		return nil, fmt.Errorf("unknown context %q", name)
	}
	return c, nil
}

func (r *Replayer) focused() (*hostsim.Context, error) {
	hc := r.svc.Focus()
	if hc == nil {
		return nil, errors.New("no context has focus")
	}
	return hc.(*hostsim.Context), nil
}

func (r *Replayer) step(ctx context.Context, s Step) error {
	switch {
	case s.Focus != nil:
		c, err := r.lookup(*s.Focus)
		if err != nil {
			return err
		}
		return r.svc.OnSetFocus(ctx, c)

	case s.Blur:
		return r.svc.OnSetFocus(ctx, nil)

	case s.Type != "":
		c, err := r.focused()
		if err != nil {
			return err
		}
		for _, ch := range s.Type {
			if err := r.press(ctx, c, engine.KeyEvent{Rune: ch}); err != nil {
				return err
			}
		}
		return nil

	case s.Key != "":
		c, err := r.focused()
		if err != nil {
			return err
		}
		key, err := parseKey(s.Key)
		if err != nil {
			return err
		}
		return r.press(ctx, c, key)

	case s.KeyUp != "":
		c, err := r.focused()
		if err != nil {
			return err
		}
		key, err := parseKey(s.KeyUp)
		if err != nil {
			return err
		}
		_, err = r.svc.OnKey(ctx, c, key, false)
		return err

	case s.Select != nil:
		c, err := r.focused()
		if err != nil {
			return err
		}
		if len(s.Select) != 2 {
			return fmt.Errorf("select needs [start, end], got %v", s.Select)
		}
		c.UserSelect(s.Select[0], s.Select[1])
		return nil

	case s.Insert != nil:
		c, err := r.focused()
		if err != nil {
			return err
		}
		c.UserInsert(*s.Insert)
		return nil

	case s.Scopes != nil:
		c, err := r.focused()
		if err != nil {
			return err
		}
		c.SetInputScopes(s.Scopes...)
		return nil

	case s.HostOpen != nil:
		return r.svc.OnHostToggledOpenClose(ctx, *s.HostOpen)

	case s.HostMode != "":
		mode, err := inputmode.ParseConversionMode(s.HostMode)
		if err != nil {
			return err
		}
		return r.svc.OnHostChangedMode(ctx, mode)

	case s.Reconvert:
		c, err := r.focused()
		if err != nil {
			return err
		}
		return r.svc.Reconvert(ctx, c)

	case s.Pump:
		r.pumpAll()
		return nil

	case s.Reload:
		if r.loader == nil {
			return errors.New("reload needs a configuration file")
		}
		_, err := r.loader.Reload()
		return err

	case s.Release != "":
		c, err := r.lookup(s.Release)
		if err != nil {
			return err
		}
		c.Release()
		return r.svc.ReleaseContext(c)

	case s.Expect != nil:
		return r.check(ctx, s.Expect)

	default:
		return errors.New("empty step")
	}
}

// press delivers a key down and, when the engine did not consume it, lets
// the host type the character itself.
func (r *Replayer) press(ctx context.Context, c *hostsim.Context, key engine.KeyEvent) error {
	consumed, err := r.svc.OnKey(ctx, c, key, true)
	if err != nil {
		return err
	}
	if !consumed && key.Rune != 0 && key.Modifiers == 0 {
		c.UserInsert(string(key.Rune))
	}
	_, err = r.svc.OnKey(ctx, c, key, false)
	return err
}

func (r *Replayer) pumpAll() {
	for _, c := range r.order {
		c.Pump()
	}
}

func (r *Replayer) check(ctx context.Context, e *Expect) error {
	var c *hostsim.Context
	var err error
	if e.Context != "" {
		c, err = r.lookup(e.Context)
	} else {
		c, err = r.focused()
	}
	if err != nil {
		return err
	}

	var failures []string
	if e.Text != nil && c.Text() != *e.Text {
		failures = append(failures, fmt.Sprintf("text = %q, want %q", c.Text(), *e.Text))
	}
	if e.Composition != nil && c.CompositionText() != *e.Composition {
		failures = append(failures, fmt.Sprintf("composition = %q, want %q", c.CompositionText(), *e.Composition))
	}
	if e.Pending != nil && c.Pending() != *e.Pending {
		failures = append(failures, fmt.Sprintf("pending = %d, want %d", c.Pending(), *e.Pending))
	}
	if e.Open != nil || e.Mode != "" {
		st, err := r.store.Get(ctx)
		if err != nil {
			return err
		}
		if e.Open != nil && st.Open != *e.Open {
			failures = append(failures, fmt.Sprintf("open = %t, want %t", st.Open, *e.Open))
		}
		if e.Mode != "" {
			want, err := inputmode.ParseConversionMode(e.Mode)
			if err != nil {
				return err
			}
			if got := r.svc.Modes().HostVisible().Mode; got != want {
				failures = append(failures, fmt.Sprintf("mode = %s, want %s", got, want))
			}
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("%s: %s", c.Name(), strings.Join(failures, "; "))
	}
	return nil
}

func (r *Replayer) describe() string {
	hc := r.svc.Focus()
	if hc == nil {
		return "(no focus)"
	}
	c := hc.(*hostsim.Context)
	eff := r.svc.Modes().Effective()
	return fmt.Sprintf("%s text=%q composition=%q %s", c.Name(), c.Text(), c.CompositionText(), eff)
}

var namedKeys = map[string]engine.SpecialKey{
	"enter":           engine.KeyEnter,
	"space":           engine.KeySpace,
	"backspace":       engine.KeyBackspace,
	"escape":          engine.KeyEscape,
	"esc":             engine.KeyEscape,
	"left":            engine.KeyLeft,
	"right":           engine.KeyRight,
	"hankaku_zenkaku": engine.KeyHankaku,
	"hankaku":         engine.KeyHankaku,
	"kana":            engine.KeyKana,
	"eisu":            engine.KeyEisu,
}

// parseKey reads "enter", "ctrl+z", "shift+a" or a single character.
func parseKey(s string) (engine.KeyEvent, error) {
	var key engine.KeyEvent
	parts := strings.Split(s, "+")
	for _, mod := range parts[:len(parts)-1] {
		switch strings.ToLower(mod) {
		case "shift":
			key.Modifiers |= engine.ModShift
		case "ctrl":
			key.Modifiers |= engine.ModCtrl
		case "alt":
			key.Modifiers |= engine.ModAlt
		default:
			return key, fmt.Errorf("unknown modifier %q in %q", mod, s)
		}
	}
	name := parts[len(parts)-1]
	if special, ok := namedKeys[strings.ToLower(name)]; ok {
		key.Special = special
		return key, nil
	}
	runes := []rune(name)
	if len(runes) != 1 {
		return key, fmt.Errorf("unknown key %q", s)
	}
	key.Rune = runes[0]
	return key, nil
}
