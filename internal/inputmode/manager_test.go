package inputmode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOverriddenState(t *testing.T) {
	tests := []struct {
		name  string
		base  State
		hints []FieldHint
		want  State
	}{
		{
			name:  "no ime closes and keeps mode",
			base:  State{Open: true, Mode: Hiragana},
			hints: []FieldHint{HintNoIME},
			want:  State{Open: false, Mode: Hiragana},
		},
		{
			name:  "hiragana only opens in hiragana",
			base:  State{Open: false, Mode: FullASCII},
			hints: []FieldHint{HintHiragana},
			want:  State{Open: true, Mode: Hiragana},
		},
		{
			name:  "contradictory hints return base",
			base:  State{Open: false, Mode: FullASCII},
			hints: []FieldHint{HintHiragana, HintKatakanaFull},
			want:  State{Open: false, Mode: FullASCII},
		},
		{
			name:  "disable and force mode together return base",
			base:  State{Open: true, Mode: HalfKatakana},
			hints: []FieldHint{HintPassword, HintHiragana},
			want:  State{Open: true, Mode: HalfKatakana},
		},
		{
			name: "no hints return base",
			base: State{Open: true, Mode: FullKatakana},
			want: State{Open: true, Mode: FullKatakana},
		},
		{
			name:  "unknown hints are ignored",
			base:  State{Open: true, Mode: Hiragana},
			hints: []FieldHint{"chat", "default", HintURL},
			want:  State{Open: false, Mode: Hiragana},
		},
		{
			name:  "only unknown hints return base",
			base:  State{Open: true, Mode: Hiragana},
			hints: []FieldHint{"chat"},
			want:  State{Open: true, Mode: Hiragana},
		},
		{
			name:  "several hints of the same category collapse",
			base:  State{Open: true, Mode: Hiragana},
			hints: []FieldHint{HintPassword, HintURL, HintNumber},
			want:  State{Open: false, Mode: Hiragana},
		},
		{
			name:  "repeated force mode hint",
			base:  State{Open: false, Mode: Direct},
			hints: []FieldHint{HintAlphanumericFull, HintAlphanumericFull},
			want:  State{Open: true, Mode: FullASCII},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetOverriddenState(tt.base, tt.hints))
		})
	}
}

// Every recognized hint belongs to exactly one category, so a single hint
// can never be ambiguous between disabling and forcing a mode.
func TestEveryHintHasOneCategory(t *testing.T) {
	hints := []FieldHint{
		HintURL, HintEmailUsername, HintEmailAddress, HintPassword, HintNumber,
		HintDigits, HintTelephone, HintDate, HintTime, HintNoIME, HintHiragana,
		HintKatakanaFull, HintKatakanaHalf, HintAlphanumericFull, HintAlphanumericHalf,
	}
	base := State{Open: true, Mode: HalfKatakana}
	for _, h := range hints {
		c := categorize(h)
		require.True(t, c.known, "hint %q", h)
		got := GetOverriddenState(base, []FieldHint{h})
		if c.disable {
			assert.Equal(t, State{Open: false, Mode: HalfKatakana}, got, "hint %q", h)
		} else {
			assert.Equal(t, State{Open: true, Mode: c.mode}, got, "hint %q", h)
		}
	}
}

func TestParseFieldHint(t *testing.T) {
	assert.Equal(t, HintNoIME, ParseFieldHint("No-IME"))
	assert.Equal(t, HintHiragana, ParseFieldHint(" hiragana-only "))
	assert.Equal(t, HintKatakanaFull, ParseFieldHint("katakana-only"))
	assert.Equal(t, FieldHint("chat"), ParseFieldHint("CHAT"))
	assert.Equal(t, []FieldHint{HintURL, HintPassword}, ParseFieldHints([]string{"url", "", "password"}))
}

func TestInitialize(t *testing.T) {
	m := NewManager()
	m.Initialize(true, FullKatakana)

	want := State{Open: true, Mode: FullKatakana}
	assert.Equal(t, want, m.Effective())
	assert.Equal(t, want, m.HostVisible())
	assert.False(t, m.IndicatorVisible())
}

func TestOnFocus(t *testing.T) {
	m := NewManager()
	m.Initialize(true, Hiragana)

	// Same values without hints: nothing to show.
	assert.Equal(t, DoNothing, m.OnFocus(true, Hiragana, nil))

	assert.Equal(t, UpdateUI, m.OnFocus(true, Hiragana, []FieldHint{HintPassword}))
	assert.Equal(t, State{Open: false, Mode: Hiragana}, m.Effective())
	assert.Equal(t, State{Open: true, Mode: Hiragana}, m.HostVisible())
	assert.True(t, m.Overridden())
	assert.True(t, m.IndicatorVisible())

	// Immediate repeat.
	assert.Equal(t, DoNothing, m.OnFocus(true, Hiragana, []FieldHint{HintPassword}))

	// Moving to an unhinted field restores the host values.
	assert.Equal(t, UpdateUI, m.OnFocus(true, Hiragana, nil))
	assert.Equal(t, State{Open: true, Mode: Hiragana}, m.Effective())
	assert.False(t, m.Overridden())
}

func TestOnFocusUpdateIffPairChanges(t *testing.T) {
	modes := []ConversionMode{Direct, Hiragana, FullKatakana, HalfASCII, FullASCII, HalfKatakana}
	hintSets := [][]FieldHint{
		nil,
		{HintNoIME},
		{HintHiragana},
		{HintKatakanaHalf},
		{HintHiragana, HintKatakanaFull},
		{"chat"},
	}

	for _, open := range []bool{false, true} {
		for _, mode := range modes {
			for _, hints := range hintSets {
				m := NewManager()
				m.Initialize(!open, HalfASCII)
				before := m.Effective()

				want := GetOverriddenState(State{Open: open, Mode: mode}, hints)
				action := m.OnFocus(open, mode, hints)
				if want != before {
					assert.Equal(t, UpdateUI, action, "open=%v mode=%v hints=%v", open, mode, hints)
				} else {
					assert.Equal(t, DoNothing, action, "open=%v mode=%v hints=%v", open, mode, hints)
				}
				assert.Equal(t, want, m.Effective())
				assert.Equal(t, DoNothing, m.OnFocus(open, mode, hints), "repeat call")
				assert.Equal(t, DoNothing, m.OnFieldHintsChanged(hints), "repeat hints")
			}
		}
	}
}

func TestOnFieldHintsChanged(t *testing.T) {
	m := NewManager()
	m.Initialize(false, FullASCII)

	assert.Equal(t, UpdateUI, m.OnFieldHintsChanged([]FieldHint{HintHiragana}))
	assert.Equal(t, State{Open: true, Mode: Hiragana}, m.Effective())

	// The user switches mode inside the hinted field; a selection move
	// reporting the same hints must not force the mode back.
	assert.True(t, m.Overridden())
	m.OnHostToggledOpenClose(false)
	assert.False(t, m.Overridden())
	assert.Equal(t, DoNothing, m.OnFieldHintsChanged([]FieldHint{HintHiragana}))
	assert.False(t, m.Effective().Open)

	assert.Equal(t, []FieldHint{HintHiragana}, m.Hints())
}

func TestOnHostToggledOpenClose(t *testing.T) {
	m := NewManager()
	m.Initialize(false, Hiragana)

	assert.Equal(t, UpdateUI, m.OnHostToggledOpenClose(true))
	assert.True(t, m.Effective().Open)
	assert.True(t, m.HostVisible().Open)
	assert.True(t, m.IndicatorVisible())

	// Always honored, even when nothing changes.
	assert.Equal(t, UpdateUI, m.OnHostToggledOpenClose(true))
}

func TestOnHostChangedMode(t *testing.T) {
	t.Run("ignored by default", func(t *testing.T) {
		m := NewManager()
		m.Initialize(true, Hiragana)

		assert.Equal(t, DoNothing, m.OnHostChangedMode(FullKatakana))
		assert.Equal(t, State{Open: true, Mode: Hiragana}, m.Effective())
		assert.Equal(t, State{Open: true, Mode: Hiragana}, m.HostVisible())
		assert.False(t, m.IndicatorVisible())
	})

	t.Run("respected", func(t *testing.T) {
		m := NewManager(WithRespectHostModeChanges(true))
		m.Initialize(true, Hiragana)

		assert.Equal(t, UpdateUI, m.OnHostChangedMode(FullKatakana))
		assert.Equal(t, FullKatakana, m.Effective().Mode)
		assert.True(t, m.IndicatorVisible())
	})

	t.Run("toggled at runtime", func(t *testing.T) {
		m := NewManager()
		m.Initialize(true, Hiragana)
		m.SetRespectHostModeChanges(true)
		assert.Equal(t, UpdateUI, m.OnHostChangedMode(HalfASCII))
		assert.Equal(t, HalfASCII, m.Effective().Mode)
	})
}

func TestOnEngineNotification(t *testing.T) {
	m := NewManager()
	m.Initialize(false, Hiragana)

	flags := m.OnEngineNotification(true, Hiragana, Hiragana)
	assert.Equal(t, NotifyHostOpenClose, flags)
	assert.True(t, flags.Has(NotifyHostOpenClose))
	assert.False(t, flags.Has(NotifyHostMode))

	flags = m.OnEngineNotification(true, FullKatakana, FullKatakana)
	assert.Equal(t, NotifyHostMode, flags)
	assert.Equal(t, State{Open: true, Mode: FullKatakana}, m.Effective())

	assert.Equal(t, NotifyNone, m.OnEngineNotification(true, FullKatakana, FullKatakana))

	flags = m.OnEngineNotification(false, Hiragana, HalfASCII)
	assert.Equal(t, NotifyHostOpenClose|NotifyHostMode, flags)
	assert.Equal(t, State{Open: false, Mode: Hiragana}, m.Effective())
	assert.Equal(t, State{Open: false, Mode: HalfASCII}, m.HostVisible())
}

func TestIndicatorHiddenByConsumedKeyDown(t *testing.T) {
	m := NewManager()
	m.Initialize(false, Hiragana)

	assert.Equal(t, DoNothing, m.OnKey("a", true, true), "nothing to hide")

	m.OnHostToggledOpenClose(true)
	require.True(t, m.IndicatorVisible())

	assert.Equal(t, DoNothing, m.OnKey("a", false, true), "key up")
	assert.Equal(t, DoNothing, m.OnKey("a", true, false), "not consumed")
	assert.True(t, m.IndicatorVisible())

	assert.Equal(t, UpdateUI, m.OnKey("a", true, true))
	assert.False(t, m.IndicatorVisible())
}

func TestOnDissociateContext(t *testing.T) {
	m := NewManager()
	m.Initialize(true, Hiragana)
	assert.Equal(t, DoNothing, m.OnDissociateContext())

	m.OnHostToggledOpenClose(false)
	assert.Equal(t, UpdateUI, m.OnDissociateContext())
	assert.False(t, m.IndicatorVisible())
}

func TestHostBits(t *testing.T) {
	tests := []struct {
		mode  ConversionMode
		kana  bool
		bits  uint32
		back  ConversionMode
		valid bool
	}{
		{Direct, false, 0, HalfASCII, true},
		{Hiragana, true, HostNative | HostFullShape, Hiragana, true},
		{Hiragana, false, HostNative | HostFullShape | HostRoman, Hiragana, true},
		{FullKatakana, true, HostNative | HostKatakana | HostFullShape, FullKatakana, true},
		{HalfKatakana, false, HostNative | HostKatakana | HostRoman, HalfKatakana, true},
		{FullASCII, false, HostFullShape, FullASCII, true},
		{HalfASCII, false, 0, HalfASCII, true},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			assert.Equal(t, tt.bits, tt.mode.HostBits(tt.kana))
			back, ok := ModeFromHostBits(tt.bits)
			assert.Equal(t, tt.valid, ok)
			assert.Equal(t, tt.back, back)
		})
	}

	_, ok := ModeFromHostBits(HostKatakana)
	assert.False(t, ok)
}

func TestParseConversionMode(t *testing.T) {
	for _, mode := range []ConversionMode{Direct, Hiragana, FullKatakana, HalfASCII, FullASCII, HalfKatakana} {
		got, err := ParseConversionMode(mode.String())
		require.NoError(t, err)
		assert.Equal(t, mode, got)
	}
	_, err := ParseConversionMode("romaji")
	assert.Error(t, err)
	assert.Equal(t, "mode(42)", ConversionMode(42).String())
}
