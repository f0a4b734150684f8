package ipc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imesync/internal/engine"
	"imesync/internal/inputmode"
)

func sampleOutput() *engine.Output {
	return &engine.Output{
		ID:       3,
		Consumed: true,
		Preedit: &engine.Preedit{
			Segments: []engine.Segment{
				{Value: "漢字", Annotation: engine.AnnotationHighlight, Key: "かんじ"},
				{Value: "を", Annotation: engine.AnnotationUnderline},
			},
			Cursor: 3,
		},
		Candidates: &engine.Candidates{
			Focused:    0,
			Candidates: []engine.Candidate{{Value: "漢字"}, {Value: "感じ"}},
		},
		Status: &engine.Status{Activated: true, Mode: inputmode.Hiragana, ComebackMode: inputmode.Hiragana},
		Callback: &engine.Callback{Command: engine.Command{
			Type:    engine.CommandReconvert,
			Context: &engine.SurroundingText{Selected: "漢字"},
		}},
	}
}

func TestCodecsRoundTripOutput(t *testing.T) {
	for _, codec := range []Codec{CBOR, JSON} {
		t.Run(codec.Name(), func(t *testing.T) {
			data, err := codec.Marshal(sampleOutput())
			require.NoError(t, err)

			var got engine.Output
			require.NoError(t, codec.Unmarshal(data, &got))
			assert.Equal(t, sampleOutput(), &got)
		})
	}
}

func TestCBORIsDeterministic(t *testing.T) {
	a, err := CBOR.Marshal(sampleOutput())
	require.NoError(t, err)
	b, err := CBOR.Marshal(sampleOutput())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestJSONSchemaRejects(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		into    any
	}{
		{"unknown key field", `{"rune":97,"scancode":30}`, &engine.KeyEvent{}},
		{"unknown special key", `{"special":"f13"}`, &engine.KeyEvent{}},
		{"rune out of range", `{"rune":2000000}`, &engine.KeyEvent{}},
		{"command without type", `{"open":true}`, &engine.Command{}},
		{"command type out of range", `{"type":99}`, &engine.Command{}},
		{"bad mode", `{"type":6,"mode":9}`, &engine.Command{}},
		{"output without id", `{"consumed":true}`, &engine.Output{}},
		{"negative deletion length", `{"id":1,"consumed":true,"deletion_range":{"offset":-1,"length":-1}}`, &engine.Output{}},
		{"callback with bad command", `{"id":1,"consumed":true,"callback":{"command":{}}}`, &engine.Output{}},
		{"not json", `{"rune":`, &engine.KeyEvent{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := JSON.Unmarshal([]byte(tt.payload), tt.into)
			assert.ErrorIs(t, err, ErrInvalidPayload)
		})
	}
}

func TestJSONSchemaAccepts(t *testing.T) {
	var key engine.KeyEvent
	require.NoError(t, JSON.Unmarshal([]byte(`{"rune":97,"modifiers":1,"context":{"preceding":"あ"}}`), &key))
	assert.Equal(t, 'a', key.Rune)
	assert.Equal(t, engine.ModShift, key.Modifiers)
	assert.Equal(t, "あ", key.Context.Preceding)

	var out engine.Output
	require.NoError(t, JSON.Unmarshal([]byte(`{"id":1,"consumed":false,"preedit":{"segments":null,"cursor":0}}`), &out))
	assert.False(t, out.HasPreedit())
}

func TestCBORRejectsGarbage(t *testing.T) {
	var out engine.Output
	err := CBOR.Unmarshal([]byte{0xff, 0x00}, &out)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestCodecByName(t *testing.T) {
	c, err := CodecByName("")
	require.NoError(t, err)
	assert.Equal(t, CBOR, c)

	c, err = CodecByName("JSON")
	require.NoError(t, err)
	assert.Equal(t, JSON, c)

	_, err = CodecByName("msgpack")
	assert.Error(t, err)

	assert.Equal(t, JSON, codecFor(FlagJSON))
	assert.Equal(t, CBOR, codecFor(0))
}
