package engine

import (
	"fmt"

	"imesync/internal/inputmode"
)

// Modifier is a bit set of modifier keys.
type Modifier uint8

const (
	ModShift Modifier = 1 << iota
	ModCtrl
	ModAlt
)

// SpecialKey names a non-character key.
type SpecialKey string

const (
	KeyNone      SpecialKey = ""
	KeyEnter     SpecialKey = "enter"
	KeySpace     SpecialKey = "space"
	KeyBackspace SpecialKey = "backspace"
	KeyEscape    SpecialKey = "escape"
	KeyLeft      SpecialKey = "left"
	KeyRight     SpecialKey = "right"
	KeyHankaku   SpecialKey = "hankaku_zenkaku"
	KeyKana      SpecialKey = "kana"
	KeyEisu      SpecialKey = "eisu"
)

// KeyEvent is a decoded key press.
type KeyEvent struct {
	// Rune is the character produced by the key, or 0 for special keys.
	Rune      rune       `json:"rune,omitempty" cbor:"1,keyasint,omitempty" yaml:"rune,omitempty"`
	Special   SpecialKey `json:"special,omitempty" cbor:"2,keyasint,omitempty" yaml:"special,omitempty"`
	Modifiers Modifier   `json:"modifiers,omitempty" cbor:"3,keyasint,omitempty" yaml:"modifiers,omitempty"`
	// Context is the text around the caret, attached when available.
	Context *SurroundingText `json:"context,omitempty" cbor:"4,keyasint,omitempty" yaml:"context,omitempty"`
}

// Name returns a short printable name for logs.
func (k KeyEvent) Name() string {
	if k.Special != KeyNone {
		return string(k.Special)
	}
	if k.Rune != 0 {
		return string(k.Rune)
	}
	return "none"
}

// SurroundingText is the text around the selection sent as context.
type SurroundingText struct {
	Preceding string `json:"preceding,omitempty" cbor:"1,keyasint,omitempty" yaml:"preceding,omitempty"`
	Selected  string `json:"selected,omitempty" cbor:"2,keyasint,omitempty" yaml:"selected,omitempty"`
	Following string `json:"following,omitempty" cbor:"3,keyasint,omitempty" yaml:"following,omitempty"`
}

// CommandType selects a Command.
type CommandType int

const (
	CommandSubmit CommandType = iota + 1
	CommandRevert
	CommandReconvert
	CommandUndo
	CommandSelectCandidate
	CommandSetMode
	CommandResetContext
)

var commandNames = map[CommandType]string{
	CommandSubmit:          "submit",
	CommandRevert:          "revert",
	CommandReconvert:       "reconvert",
	CommandUndo:            "undo",
	CommandSelectCandidate: "select_candidate",
	CommandSetMode:         "set_mode",
	CommandResetContext:    "reset_context",
}

func (c CommandType) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("command(%d)", int(c))
}

// ParseCommandType parses the names produced by String.
func ParseCommandType(s string) (CommandType, error) {
	for c, name := range commandNames {
		if name == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown command: %q", s)
}

// Command is a non-key request to the engine.
type Command struct {
	Type CommandType `json:"type" cbor:"1,keyasint" yaml:"type"`
	// Candidate is the index for CommandSelectCandidate.
	Candidate int `json:"candidate,omitempty" cbor:"2,keyasint,omitempty" yaml:"candidate,omitempty"`
	// Open and Mode are used by CommandSetMode.
	Open bool                     `json:"open,omitempty" cbor:"3,keyasint,omitempty" yaml:"open,omitempty"`
	Mode inputmode.ConversionMode `json:"mode,omitempty" cbor:"4,keyasint,omitempty" yaml:"mode,omitempty"`
	// Context carries surrounding text for reconversion and undo.
	Context *SurroundingText `json:"context,omitempty" cbor:"5,keyasint,omitempty" yaml:"context,omitempty"`
}
