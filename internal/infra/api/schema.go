package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"cineai/internal/domain"
)

const maxBodyBytes = 1 << 20

const chatSchema = `{
  "type": "object",
  "required": ["message"],
  "properties": {
    "conversation_id": {"type": "string", "maxLength": 128},
    "message": {"type": "string", "minLength": 1, "maxLength": 32000},
    "model": {"type": "string"},
    "max_tokens": {"type": "integer", "minimum": 1, "maximum": 32000},
    "temperature": {"type": "number", "minimum": 0, "maximum": 2}
  }
}`

const enhanceSchema = `{
  "type": "object",
  "required": ["prompt"],
  "properties": {
    "prompt": {"type": "string", "minLength": 1, "maxLength": 4000},
    "animation_style": {"type": "string"},
    "writing_tone": {"type": "string"},
    "creativity_level": {"type": "string"}
  }
}`

const avatarSchema = `{
  "type": "object",
  "required": ["name", "photo_urls"],
  "properties": {
    "name": {"type": "string", "minLength": 1, "maxLength": 200},
    "description": {"type": "string", "maxLength": 2000},
    "photo_urls": {"type": "array", "minItems": 1, "maxItems": 20, "items": {"type": "string", "minLength": 1}},
    "quality": {"enum": ["low", "medium", "high"]}
  }
}`

const voiceSchema = `{
  "type": "object",
  "required": ["script"],
  "properties": {
    "script": {"type": "string", "minLength": 1, "maxLength": 20000},
    "voice_id": {"type": "string"},
    "model": {"type": "string"}
  }
}`

const projectSchema = `{
  "type": "object",
  "required": ["scenes"],
  "properties": {
    "scenes": {
      "type": "array",
      "minItems": 1,
      "maxItems": 100,
      "items": {
        "type": "object",
        "required": ["scene_id"],
        "anyOf": [{"required": ["prompt"]}, {"required": ["script"]}],
        "properties": {
          "scene_id": {"type": "string", "minLength": 1},
          "prompt": {"type": "string", "minLength": 1},
          "script": {"type": "string", "minLength": 1},
          "avatar_id": {"type": "string"},
          "voice_id": {"type": "string"},
          "model": {"type": "string"},
          "duration_sec": {"type": "integer", "minimum": 1, "maximum": 60},
          "resolution": {"type": "string"},
          "quality": {"enum": ["low", "medium", "high"]}
        }
      }
    },
    "output": {
      "type": "object",
      "properties": {
        "resolution": {"type": "string"},
        "quality": {"enum": ["low", "medium", "high"]},
        "metadata": {"type": "object", "additionalProperties": {"type": "string"}}
      }
    }
  }
}`

// schemas are compiled once; a broken document is a programming error.
var (
	chatBody    = jsonschema.MustCompileString("chat.json", chatSchema)
	enhanceBody = jsonschema.MustCompileString("enhance.json", enhanceSchema)
	avatarBody  = jsonschema.MustCompileString("avatar.json", avatarSchema)
	voiceBody   = jsonschema.MustCompileString("voice.json", voiceSchema)
	projectBody = jsonschema.MustCompileString("project.json", projectSchema)
)

// decode reads the request body, validates it against schema and unmarshals it into dst.
func decode(r *http.Request, schema *jsonschema.Schema, dst any) error {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", domain.ErrInvalidArgument, err)
	}
	if len(raw) > maxBodyBytes {
		return fmt.Errorf("%w: body too large", domain.ErrInvalidArgument)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: malformed json: %v", domain.ErrInvalidArgument, err)
	}
	if err := schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return fmt.Errorf("%w: %s", domain.ErrInvalidArgument, leafMessage(ve))
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	return nil
}

// leafMessage picks the most specific cause, e.g. "/scenes/0/scene_id: length must be >= 1".
func leafMessage(ve *jsonschema.ValidationError) string {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	loc := ve.InstanceLocation
	if loc == "" {
		loc = "/"
	}
	return loc + ": " + ve.Message
}
