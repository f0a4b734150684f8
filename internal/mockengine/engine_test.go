package mockengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imesync/internal/engine"
	"imesync/internal/inputmode"
)

func typeString(t *testing.T, e *Engine, s string) *engine.Output {
	t.Helper()
	var out *engine.Output
	for _, r := range s {
		var err error
		out, err = e.SendKey(context.Background(), engine.KeyEvent{Rune: r})
		require.NoError(t, err)
	}
	return out
}

func special(t *testing.T, e *Engine, k engine.SpecialKey) *engine.Output {
	t.Helper()
	out, err := e.SendKey(context.Background(), engine.KeyEvent{Special: k})
	require.NoError(t, err)
	return out
}

func openEngine(t *testing.T) *Engine {
	t.Helper()
	e := New(7, nil)
	out := special(t, e, engine.KeyHankaku)
	require.True(t, out.Status.Activated)
	return e
}

func TestRomaji(t *testing.T) {
	tests := map[string]string{
		"ka":        "か",
		"kanji":     "かんじ",
		"kyou":      "きょう",
		"nihongo":   "にほんご",
		"kitte":     "きって",
		"shinbun":   "しんぶん",
		"tsukue":    "つくえ",
		"x":         "x",
		"henkann":   "へんかん",
		"watashiha": "わたしは",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			var r romaji
			got := ""
			for _, c := range in {
				got += r.feed(c)
			}
			got += r.flush()
			assert.Equal(t, want, got)
		})
	}
}

func TestClosedEngineDoesNotConsume(t *testing.T) {
	e := New(1, nil)
	out := typeString(t, e, "a")
	assert.False(t, out.Consumed)
	assert.Nil(t, out.Preedit)
	assert.False(t, out.Status.Activated)
	assert.Equal(t, inputmode.Direct, out.Status.Mode)
}

func TestTypeConvertCommit(t *testing.T) {
	e := openEngine(t)

	out := typeString(t, e, "ka")
	require.True(t, out.Consumed)
	require.NotNil(t, out.Preedit)
	assert.Equal(t, "か", out.Preedit.Text())
	assert.Equal(t, engine.AnnotationUnderline, out.Preedit.Segments[0].Annotation)
	assert.Equal(t, 1, out.Preedit.Cursor)
	assert.Equal(t, uint64(7), out.ID)

	out = special(t, e, engine.KeySpace)
	require.NotNil(t, out.Preedit)
	assert.Equal(t, "火", out.Preedit.Text())
	assert.Equal(t, engine.AnnotationHighlight, out.Preedit.Segments[0].Annotation)
	require.NotNil(t, out.Candidates)
	assert.Len(t, out.Candidates.Candidates, 3)

	out = special(t, e, engine.KeyEnter)
	require.NotNil(t, out.Result)
	assert.Equal(t, "火", out.Result.Value)
	assert.Equal(t, "か", out.Result.Key)
	assert.Nil(t, out.Preedit)
	assert.Nil(t, out.Candidates)

	out = special(t, e, engine.KeyEnter)
	assert.False(t, out.Consumed, "nothing to commit")
}

func TestTypingWhileConvertingCommits(t *testing.T) {
	e := openEngine(t)
	typeString(t, e, "kanji")
	special(t, e, engine.KeySpace)

	out := typeString(t, e, "w")
	require.NotNil(t, out.Result)
	assert.Equal(t, "漢字", out.Result.Value)
	require.NotNil(t, out.Preedit)
	assert.Equal(t, "w", out.Preedit.Text())
}

func TestBackspaceAndEscape(t *testing.T) {
	e := openEngine(t)
	typeString(t, e, "kak")

	out := special(t, e, engine.KeyBackspace)
	assert.Equal(t, "か", out.Preedit.Text())
	out = special(t, e, engine.KeyBackspace)
	assert.Nil(t, out.Preedit)
	assert.True(t, out.Consumed)

	out = special(t, e, engine.KeyBackspace)
	assert.False(t, out.Consumed)

	typeString(t, e, "ka")
	out = special(t, e, engine.KeyEscape)
	assert.Nil(t, out.Preedit)
	assert.Nil(t, out.Result)
}

func TestToggleCommitsAndRemembersMode(t *testing.T) {
	e := openEngine(t)
	_, err := e.SendCommand(context.Background(), engine.Command{Type: engine.CommandSetMode, Open: true, Mode: inputmode.FullKatakana})
	require.NoError(t, err)
	typeString(t, e, "ka")

	out := special(t, e, engine.KeyHankaku)
	require.NotNil(t, out.Result)
	assert.Equal(t, "カ", out.Result.Value)
	assert.False(t, out.Status.Activated)
	assert.Equal(t, inputmode.FullKatakana, out.Status.ComebackMode)

	out = special(t, e, engine.KeyHankaku)
	assert.True(t, out.Status.Activated)
	assert.Equal(t, inputmode.FullKatakana, out.Status.Mode)
	assert.Equal(t, inputmode.State{Open: true, Mode: inputmode.FullKatakana}, e.State())
}

func TestSetModeClosedCommits(t *testing.T) {
	e := openEngine(t)
	typeString(t, e, "ka")

	out, err := e.SendCommand(context.Background(), engine.Command{Type: engine.CommandSetMode, Open: false})
	require.NoError(t, err)
	require.NotNil(t, out.Result)
	assert.Equal(t, "か", out.Result.Value)
	assert.Nil(t, out.Preedit)
	assert.False(t, out.Status.Activated)
}

func TestFullASCII(t *testing.T) {
	e := openEngine(t)
	_, err := e.SendCommand(context.Background(), engine.Command{Type: engine.CommandSetMode, Open: true, Mode: inputmode.FullASCII})
	require.NoError(t, err)
	out := typeString(t, e, "ab")
	assert.Equal(t, "ａｂ", out.Preedit.Text())

	special(t, e, engine.KeyEisu)
	out = typeString(t, e, "c")
	assert.False(t, out.Consumed)
	assert.Equal(t, inputmode.HalfASCII, out.Status.Mode)
}

func TestShortcutsProduceCallbacks(t *testing.T) {
	e := openEngine(t)

	out, err := e.SendKey(context.Background(), engine.KeyEvent{Rune: 'r', Modifiers: engine.ModCtrl})
	require.NoError(t, err)
	require.NotNil(t, out.Callback)
	assert.Equal(t, engine.CommandReconvert, out.Callback.Command.Type)

	out, err = e.SendKey(context.Background(), engine.KeyEvent{Special: engine.KeyBackspace, Modifiers: engine.ModCtrl})
	require.NoError(t, err)
	require.NotNil(t, out.Callback)
	assert.Equal(t, engine.CommandUndo, out.Callback.Command.Type)

	out, err = e.SendKey(context.Background(), engine.KeyEvent{Rune: 'x', Modifiers: engine.ModCtrl})
	require.NoError(t, err)
	assert.False(t, out.Consumed)
}

func TestReconvert(t *testing.T) {
	e := openEngine(t)

	out, err := e.SendCommand(context.Background(), engine.Command{Type: engine.CommandReconvert})
	require.NoError(t, err)
	assert.False(t, out.Consumed, "no context")

	out, err = e.SendCommand(context.Background(), engine.Command{
		Type:    engine.CommandReconvert,
		Context: &engine.SurroundingText{Selected: "感じ"},
	})
	require.NoError(t, err)
	require.NotNil(t, out.Preedit)
	assert.Equal(t, "感じ", out.Preedit.Text())
	assert.Equal(t, "かんじ", out.Preedit.Segments[0].Key)
	assert.Equal(t, 1, out.Candidates.Focused)
}

func TestUndo(t *testing.T) {
	e := openEngine(t)
	typeString(t, e, "hi")
	special(t, e, engine.KeySpace)
	special(t, e, engine.KeyEnter)

	out, err := e.SendCommand(context.Background(), engine.Command{Type: engine.CommandUndo})
	require.NoError(t, err)
	require.NotNil(t, out.DeletionRange)
	assert.Equal(t, engine.DeletionRange{Offset: -1, Length: 1}, *out.DeletionRange)
	assert.True(t, out.DeletionRange.IsDeletePreceding())
	assert.Equal(t, "ひ", out.Preedit.Text())

	out, err = e.SendCommand(context.Background(), engine.Command{Type: engine.CommandUndo})
	require.NoError(t, err)
	assert.False(t, out.Consumed, "undo while composing")
}

func TestCancelledContext(t *testing.T) {
	e := New(1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.SendKey(ctx, engine.KeyEvent{Rune: 'a'})
	assert.ErrorIs(t, err, context.Canceled)
	_, err = e.SendCommand(ctx, engine.Command{Type: engine.CommandSubmit})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScripted(t *testing.T) {
	first := &engine.Output{ID: 1}
	s := NewScripted(first)

	out, err := s.SendKey(context.Background(), engine.KeyEvent{Rune: 'a'})
	require.NoError(t, err)
	assert.Same(t, first, out)

	_, err = s.SendCommand(context.Background(), engine.Command{Type: engine.CommandSubmit})
	assert.ErrorIs(t, err, ErrScriptExhausted)

	s.Push(&engine.Output{ID: 2})
	s.FailWith(assert.AnError)
	_, err = s.SendKey(context.Background(), engine.KeyEvent{})
	assert.ErrorIs(t, err, assert.AnError)

	assert.Len(t, s.Keys, 2)
	assert.Len(t, s.Commands, 1)
}
