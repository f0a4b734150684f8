package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imesync/internal/config"
	"imesync/internal/engine"
	"imesync/internal/metrics"
	"imesync/internal/mockengine"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func replay(t *testing.T, src string) (*Replayer, error) {
	t.Helper()
	script, err := LoadScript(strings.NewReader(src))
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	r, err := NewReplayer(cfg, mockengine.New(1, discardLogger()), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	var out bytes.Buffer
	return r, r.Run(context.Background(), script, &out)
}

func TestReplayTypeConvertCommit(t *testing.T) {
	r, err := replay(t, `
contexts:
  - name: editor
steps:
  - focus: editor
  - type: kanji
  - expect: {composition: かんじ}
  - key: space
  - expect: {composition: 漢字}
  - key: enter
  - expect: {text: 漢字, composition: "", open: true, mode: hiragana}
`)
	require.NoError(t, err)
	assert.Equal(t, "漢字", r.Context("editor").Text())
	assert.False(t, r.Service().Active(), "run ends with deactivation")
}

func TestReplaySyncDeniedHost(t *testing.T) {
	r, err := replay(t, `
manual_pump: true
contexts:
  - name: terminal
    sync: denied
steps:
  - focus: terminal
  - type: ka
  - expect: {text: ""}
  - pump: true
  - expect: {composition: か, pending: 0}
  - key: enter
  - pump: true
  - expect: {text: か}
`)
	require.NoError(t, err)
	assert.Equal(t, "か", r.Context("terminal").Text())
}

func TestReplayFocusChangeSubmits(t *testing.T) {
	_, err := replay(t, `
contexts:
  - name: a
  - name: b
steps:
  - focus: a
  - type: ka
  - focus: b
  - expect: {context: a, text: か, composition: ""}
  - expect: {context: b, text: ""}
`)
	require.NoError(t, err)
}

func TestReplayClosedEngineLetsHostType(t *testing.T) {
	_, err := replay(t, `
host: {open: false, mode: hiragana}
contexts:
  - name: editor
steps:
  - focus: editor
  - type: ab
  - expect: {text: ab, open: false}
`)
	require.NoError(t, err)
}

func TestReplayExpectationFailure(t *testing.T) {
	_, err := replay(t, `
contexts:
  - name: editor
steps:
  - focus: editor
  - type: ka
  - expect: {composition: き}
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 3")
	assert.Contains(t, err.Error(), `composition = "か", want "き"`)
}

func TestReplayReloadAppliesConfiguration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[input_mode]\nrespect_host_mode_changes = false\n"), 0600))

	loader := config.NewLoader(path)
	cfg, err := loader.Load()
	require.NoError(t, err)
	require.False(t, cfg.InputMode.RespectHostModeChanges)

	r, err := NewReplayer(cfg, mockengine.New(1, discardLogger()), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	r.Follow(loader)

	// The edit lands before the run; only the reload step picks it up.
	require.NoError(t, os.WriteFile(path, []byte("[input_mode]\nrespect_host_mode_changes = true\n"), 0600))

	script, err := LoadScript(strings.NewReader(`
contexts:
  - name: editor
steps:
  - focus: editor
  - host_mode: full_katakana
  - expect: {mode: hiragana}
  - reload: true
  - host_mode: full_katakana
  - expect: {mode: full_katakana}
`))
	require.NoError(t, err)
	require.NoError(t, r.Run(context.Background(), script, io.Discard))
	assert.True(t, r.Service().Options().RespectHostModeChanges)
}

func TestReplayScriptOptionsOutliveReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[surrounding]\nradius = 8\n"), 0600))

	loader := config.NewLoader(path)
	cfg, err := loader.Load()
	require.NoError(t, err)

	r, err := NewReplayer(cfg, mockengine.New(1, discardLogger()), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	r.Follow(loader)

	script, err := LoadScript(strings.NewReader(`
options: {send_context: true}
contexts:
  - name: editor
steps:
  - focus: editor
  - reload: true
`))
	require.NoError(t, err)
	require.NoError(t, r.Run(context.Background(), script, io.Discard))
	opts := r.Service().Options()
	assert.True(t, opts.SendContext, "script option kept")
	assert.Equal(t, 8, opts.SurroundingRadius, "file value applied")
}

func TestReplayStepErrors(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   string
	}{
		{
			name:   "unknown context",
			script: "steps:\n  - focus: nowhere\n",
			want:   `unknown context "nowhere"`,
		},
		{
			name:   "key without focus",
			script: "steps:\n  - key: enter\n",
			want:   "no context has focus",
		},
		{
			name:   "empty step",
			script: "steps:\n  - {}\n",
			want:   "empty step",
		},
		{
			name:   "bad host mode",
			script: "steps:\n  - host_mode: romaji\n",
			want:   "unknown conversion mode",
		},
		{
			name:   "reload without a file",
			script: "steps:\n  - reload: true\n",
			want:   "reload needs a configuration file",
		},
		{
			name:   "bad select",
			script: "contexts:\n  - name: a\nsteps:\n  - focus: a\n  - select: [1]\n",
			want:   "select needs",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := replay(t, tt.script)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScriptRejects(t *testing.T) {
	_, err := LoadScript(strings.NewReader("steps:\n  - typo: x\n"))
	assert.Error(t, err, "unknown fields are rejected")

	_, err = LoadScript(strings.NewReader("contexts:\n  - name: a\n  - name: a\n"))
	assert.ErrorContains(t, err, "duplicate context")

	_, err = LoadScript(strings.NewReader("contexts:\n  - text: x\n"))
	assert.ErrorContains(t, err, "without a name")
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		in   string
		want engine.KeyEvent
		err  bool
	}{
		{in: "a", want: engine.KeyEvent{Rune: 'a'}},
		{in: "か", want: engine.KeyEvent{Rune: 'か'}},
		{in: "Enter", want: engine.KeyEvent{Special: engine.KeyEnter}},
		{in: "esc", want: engine.KeyEvent{Special: engine.KeyEscape}},
		{in: "ctrl+r", want: engine.KeyEvent{Rune: 'r', Modifiers: engine.ModCtrl}},
		{in: "ctrl+backspace", want: engine.KeyEvent{Special: engine.KeyBackspace, Modifiers: engine.ModCtrl}},
		{in: "shift+alt+x", want: engine.KeyEvent{Rune: 'x', Modifiers: engine.ModShift | engine.ModAlt}},
		{in: "hyper+a", err: true},
		{in: "abc", err: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseKey(tt.in)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestServiceOptionsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.InputMode.KanaInput = true
	cfg.Surrounding.SendContext = true
	cfg.Surrounding.Radius = 7

	opts := serviceOptions(cfg)
	assert.True(t, opts.KanaInput)
	assert.True(t, opts.SendContext)
	assert.Equal(t, cfg.InputMode.UseIndicator, opts.UseIndicator)
	assert.Equal(t, cfg.InputMode.RespectHostModeChanges, opts.RespectHostModeChanges)
	assert.Equal(t, 7, opts.SurroundingRadius)

	radius := 3
	off := false
	opts = applyScriptOptions(opts, &ScriptOptions{SurroundingRadius: &radius, SendContext: &off})
	assert.Equal(t, 3, opts.SurroundingRadius)
	assert.False(t, opts.SendContext)
	assert.True(t, opts.KanaInput)
}

func TestOpenModeStoreUnknownBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ModeStore.Backend = "etcd"
	_, err := openModeStore(cfg)
	assert.ErrorContains(t, err, "etcd")
}

func TestMeteredEngineCounts(t *testing.T) {
	m := metrics.NewIMEMetrics(metrics.NewRegistry("test", t.Name()))
	scripted := mockengine.NewScripted(&engine.Output{Consumed: true})
	e := &meteredEngine{next: scripted, metrics: m}

	_, err := e.SendKey(context.Background(), engine.KeyEvent{Rune: 'a'})
	require.NoError(t, err)

	scripted.FailWith(errors.New("boom"))
	_, err = e.SendCommand(context.Background(), engine.Command{Type: engine.CommandSubmit})
	require.Error(t, err)

	assert.Equal(t, uint64(2), m.EngineRequests.Value())
	assert.Equal(t, uint64(1), m.EngineErrors.Value())
	assert.Equal(t, uint64(2), m.EngineLatency.Count())
}
