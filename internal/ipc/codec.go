package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"imesync/internal/engine"
)

// ErrInvalidPayload is matched by errors.Is when a payload fails to decode
// or does not match its schema.
var ErrInvalidPayload = errors.New("ipc: invalid payload")

// Codec encodes message payloads.
type Codec interface {
	Name() string
	// Flags returns the header flags announcing this codec.
	Flags() uint8
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Codecs.
var (
	CBOR Codec = cborCodec{}
	JSON Codec = jsonCodec{}
)

// CodecByName returns the codec called name ("cbor" or "json").
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", "cbor":
		return CBOR, nil
	case "json":
		return JSON, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// codecFor returns the codec a received header announces.
func codecFor(flags uint8) Codec {
	if flags&FlagJSON != 0 {
		return JSON
	}
	return CBOR
}

// encMode uses Core Deterministic Encoding, so equal payloads produce
// identical bytes.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("ipc: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("ipc: CBOR decoder initialization failed: " + err.Error())
	}
}

type cborCodec struct{}

func (cborCodec) Name() string { return "cbor" }
func (cborCodec) Flags() uint8 { return 0 }

func (cborCodec) Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

func (cborCodec) Unmarshal(data []byte, v any) error {
	if err := decMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }
func (jsonCodec) Flags() uint8 { return FlagJSON }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal validates engine payloads against their schema before decoding.
func (jsonCodec) Unmarshal(data []byte, v any) error {
	if sch := schemaFor(v); sch != nil {
		var doc any
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if err := sch.Validate(doc); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

const schemaBase = "https://imesync.invalid/schema/"

const surroundingSchema = `{
  "type": "object",
  "properties": {
    "preceding": {"type": "string"},
    "selected": {"type": "string"},
    "following": {"type": "string"}
  },
  "additionalProperties": false
}`

const keySchema = `{
  "type": "object",
  "properties": {
    "rune": {"type": "integer", "minimum": 0, "maximum": 1114111},
    "special": {"enum": ["", "enter", "space", "backspace", "escape", "left", "right", "hankaku_zenkaku", "kana", "eisu"]},
    "modifiers": {"type": "integer", "minimum": 0, "maximum": 7},
    "context": {"$ref": "surrounding.json"}
  },
  "additionalProperties": false
}`

const commandSchema = `{
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": {"type": "integer", "minimum": 1, "maximum": 7},
    "candidate": {"type": "integer", "minimum": 0},
    "open": {"type": "boolean"},
    "mode": {"type": "integer", "minimum": 0, "maximum": 5},
    "context": {"$ref": "surrounding.json"}
  },
  "additionalProperties": false
}`

const outputSchema = `{
  "type": "object",
  "required": ["id", "consumed"],
  "properties": {
    "id": {"type": "integer", "minimum": 0},
    "consumed": {"type": "boolean"},
    "preedit": {
      "type": "object",
      "required": ["segments", "cursor"],
      "properties": {
        "segments": {
          "type": ["array", "null"],
          "items": {
            "type": "object",
            "required": ["value", "annotation"],
            "properties": {
              "value": {"type": "string"},
              "annotation": {"type": "integer", "minimum": 0, "maximum": 2},
              "key": {"type": "string"}
            }
          }
        },
        "cursor": {"type": "integer", "minimum": 0},
        "highlighted_position": {"type": "integer", "minimum": 0}
      }
    },
    "result": {
      "type": "object",
      "required": ["value"],
      "properties": {"value": {"type": "string"}, "key": {"type": "string"}}
    },
    "candidates": {
      "type": "object",
      "required": ["focused", "candidates"],
      "properties": {
        "focused": {"type": "integer"},
        "candidates": {"type": ["array", "null"]}
      }
    },
    "status": {
      "type": "object",
      "required": ["activated", "mode", "comeback_mode"],
      "properties": {
        "activated": {"type": "boolean"},
        "mode": {"type": "integer", "minimum": 0, "maximum": 5},
        "comeback_mode": {"type": "integer", "minimum": 0, "maximum": 5}
      }
    },
    "deletion_range": {
      "type": "object",
      "required": ["offset", "length"],
      "properties": {
        "offset": {"type": "integer"},
        "length": {"type": "integer", "minimum": 0}
      }
    },
    "callback": {
      "type": "object",
      "required": ["command"],
      "properties": {"command": {"$ref": "command.json"}}
    }
  }
}`

var (
	keyEventSchema *jsonschema.Schema
	cmdSchema      *jsonschema.Schema
	outSchema      *jsonschema.Schema
)

func init() {
	compiler := jsonschema.NewCompiler()
	resources := map[string]string{
		"surrounding.json": surroundingSchema,
		"key.json":         keySchema,
		"command.json":     commandSchema,
		"output.json":      outputSchema,
	}
	for name, doc := range resources {
		if err := compiler.AddResource(schemaBase+name, strings.NewReader(doc)); err != nil {
			panic("ipc: add schema " + name + ": " + err.Error())
		}
	}
	keyEventSchema = compiler.MustCompile(schemaBase + "key.json")
	cmdSchema = compiler.MustCompile(schemaBase + "command.json")
	outSchema = compiler.MustCompile(schemaBase + "output.json")
}

func schemaFor(v any) *jsonschema.Schema {
	switch v.(type) {
	case *engine.KeyEvent:
		return keyEventSchema
	case *engine.Command:
		return cmdSchema
	case *engine.Output:
		return outSchema
	default:
		return nil
	}
}
