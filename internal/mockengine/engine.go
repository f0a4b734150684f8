// Package mockengine is a small deterministic conversion engine.
//
// It understands enough romaji and a handful of dictionary words to drive
// the text service end to end in tests and in the replay command. It is not
// meant to convert real text well.
package mockengine

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"imesync/internal/engine"
	"imesync/internal/inputmode"
)

var dictionary = map[string][]string{
	"か":    {"火", "蚊", "課"},
	"ひ":    {"火", "日"},
	"かんじ":  {"漢字", "感じ"},
	"きょう":  {"今日", "京"},
	"わたし":  {"私", "渡し"},
	"にほん":  {"日本", "二本"},
	"にほんご": {"日本語"},
	"はれ":   {"晴れ"},
	"へんかん": {"変換"},
}

// reverse maps dictionary words back to readings for reconversion.
var reverse = func() map[string]string {
	m := make(map[string]string)
	for reading, words := range dictionary {
		for _, w := range words {
			prev, ok := m[w]
			if !ok || len(reading) < len(prev) || (len(reading) == len(prev) && reading < prev) {
				m[w] = reading
			}
		}
	}
	return m
}()

// Engine is an in-process engine.Client.
type Engine struct {
	mu sync.Mutex

	id       uint64
	open     bool
	mode     inputmode.ConversionMode
	comeback inputmode.ConversionMode

	kana       strings.Builder
	roma       romaji
	candidates []string
	focused    int

	// pending is the result reported by the next output.
	pending *engine.Result

	// lastCommit and lastReading support undo.
	lastCommit  string
	lastReading string

	logger *slog.Logger
}

// New creates a closed engine in Hiragana mode.
func New(id uint64, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		id:       id,
		mode:     inputmode.Hiragana,
		comeback: inputmode.Hiragana,
		logger:   logger.With("component", "mockengine"),
	}
}

// SendKey implements engine.Client.
func (e *Engine) SendKey(ctx context.Context, key engine.KeyEvent) (*engine.Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.logger.Debug("key", "key", key.Name(), "open", e.open)

	if key.Special == engine.KeyHankaku {
		return e.toggle(), nil
	}
	if key.Modifiers&engine.ModCtrl != 0 {
		return e.shortcut(key), nil
	}
	if !e.open || e.mode == inputmode.HalfASCII || e.mode == inputmode.Direct {
		return e.output(false), nil
	}

	switch key.Special {
	case engine.KeyNone:
		if key.Rune == 0 {
			return e.output(false), nil
		}
		if e.converting() {
			e.commitLocked()
			out := e.output(true)
			e.typeRune(key.Rune)
			out.Preedit = e.preedit()
			return out, nil
		}
		e.typeRune(key.Rune)
		return e.output(true), nil
	case engine.KeySpace:
		if !e.composing() {
			return e.output(false), nil
		}
		e.convert()
		return e.output(true), nil
	case engine.KeyEnter:
		if !e.composing() {
			return e.output(false), nil
		}
		e.commitLocked()
		return e.output(true), nil
	case engine.KeyBackspace:
		if !e.composing() {
			return e.output(false), nil
		}
		e.backspace()
		return e.output(true), nil
	case engine.KeyEscape:
		if !e.composing() {
			return e.output(false), nil
		}
		e.reset()
		return e.output(true), nil
	case engine.KeyEisu:
		e.mode = inputmode.HalfASCII
		return e.output(true), nil
	case engine.KeyKana:
		e.mode = inputmode.Hiragana
		e.comeback = inputmode.Hiragana
		return e.output(true), nil
	default:
		return e.output(e.composing()), nil
	}
}

// SendCommand implements engine.Client.
func (e *Engine) SendCommand(ctx context.Context, cmd engine.Command) (*engine.Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.logger.Debug("command", "command", cmd.Type.String())

	switch cmd.Type {
	case engine.CommandSubmit:
		if !e.composing() {
			return e.output(false), nil
		}
		e.commitLocked()
		return e.output(true), nil
	case engine.CommandRevert:
		e.reset()
		return e.output(true), nil
	case engine.CommandSelectCandidate:
		if cmd.Candidate < 0 || cmd.Candidate >= len(e.candidates) {
			return e.output(false), nil
		}
		e.focused = cmd.Candidate
		return e.output(true), nil
	case engine.CommandSetMode:
		if e.open && !cmd.Open && e.composing() {
			e.commitLocked()
		}
		e.open = cmd.Open
		if cmd.Open {
			e.mode = cmd.Mode
			e.comeback = cmd.Mode
		}
		return e.output(true), nil
	case engine.CommandReconvert:
		return e.reconvert(cmd.Context), nil
	case engine.CommandUndo:
		return e.undo(), nil
	case engine.CommandResetContext:
		e.reset()
		e.lastCommit, e.lastReading = "", ""
		return e.output(false), nil
	default:
		return e.output(false), nil
	}
}

func (e *Engine) toggle() *engine.Output {
	if e.open {
		if e.composing() {
			e.commitLocked()
		}
		e.open = false
		e.comeback = e.mode
		return e.output(true)
	}
	e.open = true
	e.mode = e.comeback
	return e.output(true)
}

// shortcut handles control-key chords: Ctrl+R asks for reconversion and
// Ctrl+Backspace asks for undo, both through a callback.
func (e *Engine) shortcut(key engine.KeyEvent) *engine.Output {
	if !e.open {
		return e.output(false)
	}
	out := e.output(true)
	switch {
	case key.Rune == 'r' || key.Rune == 'R':
		out.Callback = &engine.Callback{Command: engine.Command{Type: engine.CommandReconvert}}
	case key.Special == engine.KeyBackspace:
		out.Callback = &engine.Callback{Command: engine.Command{Type: engine.CommandUndo}}
	default:
		out.Consumed = false
	}
	return out
}

func (e *Engine) typeRune(r rune) {
	if e.mode == inputmode.FullASCII {
		e.kana.WriteRune(fullWidth(r))
		return
	}
	e.kana.WriteString(e.roma.feed(r))
}

func (e *Engine) composing() bool {
	return e.kana.Len() > 0 || e.roma.pending != "" || len(e.candidates) > 0
}

func (e *Engine) converting() bool {
	return len(e.candidates) > 0
}

func (e *Engine) reading() string {
	return e.kana.String() + e.roma.pending
}

func (e *Engine) convert() {
	if e.converting() {
		e.focused = (e.focused + 1) % len(e.candidates)
		return
	}
	e.kana.WriteString(e.roma.flush())
	reading := e.kana.String()
	if words, ok := dictionary[reading]; ok {
		e.candidates = append([]string(nil), words...)
	} else {
		e.candidates = []string{reading, toKatakana(reading)}
	}
	e.focused = 0
}

func (e *Engine) backspace() {
	if e.converting() {
		e.candidates = nil
		return
	}
	if e.roma.backspace() {
		return
	}
	s := e.kana.String()
	_, size := utf8.DecodeLastRuneInString(s)
	e.kana.Reset()
	e.kana.WriteString(s[:len(s)-size])
}

func (e *Engine) reset() {
	e.kana.Reset()
	e.roma = romaji{}
	e.candidates = nil
	e.focused = 0
}

// commitLocked turns the composition into the pending result.
func (e *Engine) commitLocked() {
	e.kana.WriteString(e.roma.flush())
	reading := e.kana.String()
	value := e.display(reading)
	if e.converting() {
		value = e.candidates[e.focused]
	}
	e.reset()
	e.lastCommit, e.lastReading = value, reading
	e.pending = &engine.Result{Value: value, Key: reading}
}

func (e *Engine) display(s string) string {
	if e.mode == inputmode.FullKatakana || e.mode == inputmode.HalfKatakana {
		return toKatakana(s)
	}
	return s
}

func (e *Engine) preedit() *engine.Preedit {
	if !e.composing() {
		return nil
	}
	if e.converting() {
		value := e.candidates[e.focused]
		return &engine.Preedit{
			Segments: []engine.Segment{{Value: value, Annotation: engine.AnnotationHighlight, Key: e.kana.String()}},
			Cursor:   utf8.RuneCountInString(value),
		}
	}
	value := e.display(e.reading())
	return &engine.Preedit{
		Segments: []engine.Segment{{Value: value, Annotation: engine.AnnotationUnderline, Key: e.reading()}},
		Cursor:   utf8.RuneCountInString(value),
	}
}

func (e *Engine) reconvert(ctx *engine.SurroundingText) *engine.Output {
	if ctx == nil || ctx.Selected == "" || !e.open {
		return e.output(false)
	}
	reading, ok := reverse[ctx.Selected]
	if !ok {
		reading = ctx.Selected
	}
	e.reset()
	e.kana.WriteString(reading)
	e.convert()
	for i, c := range e.candidates {
		if c == ctx.Selected {
			e.focused = i
		}
	}
	return e.output(true)
}

// undo takes back the last commit: the committed text is deleted from the
// document and its reading becomes the preedit again.
func (e *Engine) undo() *engine.Output {
	if e.lastCommit == "" || e.composing() {
		return e.output(false)
	}
	n := utf8.RuneCountInString(e.lastCommit)
	e.reset()
	e.kana.WriteString(e.lastReading)
	e.lastCommit, e.lastReading = "", ""
	out := e.output(true)
	out.DeletionRange = &engine.DeletionRange{Offset: -n, Length: n}
	return out
}

func (e *Engine) output(consumed bool) *engine.Output {
	out := &engine.Output{
		ID:       e.id,
		Consumed: consumed,
		Preedit:  e.preedit(),
		Status: &engine.Status{
			Activated:    e.open,
			Mode:         e.visibleMode(),
			ComebackMode: e.comeback,
		},
	}
	if e.pending != nil {
		out.Result = e.pending
		e.pending = nil
	}
	if e.converting() {
		c := &engine.Candidates{Focused: e.focused}
		for _, v := range e.candidates {
			c.Candidates = append(c.Candidates, engine.Candidate{Value: v})
		}
		out.Candidates = c
	}
	return out
}

func (e *Engine) visibleMode() inputmode.ConversionMode {
	if !e.open {
		return inputmode.Direct
	}
	return e.mode
}

// State returns whether the engine is open and its current mode.
func (e *Engine) State() inputmode.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return inputmode.State{Open: e.open, Mode: e.mode}
}

func fullWidth(r rune) rune {
	if r >= '!' && r <= '~' {
		return r + 0xFEE0
	}
	if r == ' ' {
		return '　'
	}
	return r
}
